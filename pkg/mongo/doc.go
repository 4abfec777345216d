// Package mongo manages the MongoDB connection used by the document-backed
// account and audit stores.
//
// Configuration comes from MONGODB_* environment variables. New retries the
// connect-and-ping cycle so a service started alongside its database does
// not crash-loop while the database finishes booting:
//
//	var cfg mongo.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	db, err := mongo.NewWithDatabase(ctx, cfg, "billing")
//	if err != nil {
//		return err
//	}
//
// Healthcheck produces a probe function for the readiness endpoint.
// Connection and probe failures wrap ErrFailedToConnectToMongo and
// ErrHealthcheckFailed so callers can match them with errors.Is.
package mongo
