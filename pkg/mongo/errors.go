package mongo

import "errors"

var (
	// ErrFailedToConnectToMongo wraps the last connection attempt's error
	// after all retries are exhausted.
	ErrFailedToConnectToMongo = errors.New("failed to connect to mongo")

	// ErrHealthcheckFailed marks ping failures reported by Healthcheck.
	ErrHealthcheckFailed = errors.New("mongo healthcheck failed")
)
