// Package redis connects to a Redis server with retry and exposes a
// readiness healthcheck. The billing service uses Redis for distributed
// per-account locks (see the lock package); this package only owns the
// client lifecycle.
//
// # Usage
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//	    panic(err)
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer client.Close()
//
// Register the readiness probe with the HTTP server:
//
//	checker := redis.Healthcheck(client)
//
// Sentinel errors (e.g. ErrRedisNotReady) wrap the underlying go-redis
// errors with errors.Join for easy comparison.
package redis
