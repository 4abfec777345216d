package redis

import "errors"

var (
	// ErrFailedToParseRedisConnString reports an invalid REDIS_URL.
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")

	// ErrRedisNotReady means no connection attempt succeeded within the
	// connect timeout.
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")

	// ErrHealthcheckFailed marks ping failures reported by Healthcheck.
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
)
