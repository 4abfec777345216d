// Package httpserver runs the service's HTTP listener with graceful
// shutdown and probe endpoints.
//
// Run blocks until the supplied context is canceled, then drains
// in-flight requests within the configured shutdown timeout. Construction
// uses functional options:
//
//	srv := httpserver.New(
//		httpserver.WithAddr(":8080"),
//		httpserver.WithLogger(log),
//		httpserver.WithShutdownTimeout(10*time.Second),
//	)
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// HealthCheckHandler serves liveness and readiness probes; pass the
// storage and lock backend healthchecks to gate readiness on them.
//
// Listen failures wrap ErrStart and drain failures wrap ErrShutdown, so
// callers can distinguish them with errors.Is.
package httpserver
