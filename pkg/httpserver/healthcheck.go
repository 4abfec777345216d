package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// HealthCheckHandler serves liveness and readiness probes from one
// endpoint. With no dependency checks it answers 200 "ALIVE"; with checks
// it runs each one and answers 200 "READY" or 500 "NOT_READY". Storage
// and lock backends register their checks here so the load balancer stops
// routing webhooks to an instance that cannot complete them.
func HealthCheckHandler(ctx context.Context, log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if len(checks) == 0 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ALIVE"))
			return
		}

		for _, check := range checks {
			if err := check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("NOT_READY"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}
