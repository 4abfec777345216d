// Package pg provides the PostgreSQL connection layer on the pgx/v5
// driver: env-driven pool configuration, connect-with-retry, a readiness
// healthcheck, and error classification helpers.
//
// # Usage
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//	    panic(err)
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer pool.Close()
//
// Schema migrations are owned by the stores that embed their SQL (see the
// billing package); this package only hands out a healthy pool.
//
// Register the readiness probe with the HTTP server:
//
//	health := pg.Healthcheck(pool)
//
// # Error Handling
//
// [IsDuplicateKeyError] and [IsNotFoundError] unwrap pgx errors so store
// code can map constraint violations onto its own sentinels without
// touching *pgconn.PgError directly.
package pg
