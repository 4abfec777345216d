package gate

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// AccountLoader resolves the account behind the request. Authentication
// itself is someone else's job; implementations typically read the
// session or token already attached to the request context.
type AccountLoader func(r *http.Request) (*billing.Account, error)

// Option configures the middleware.
type Option func(*config)

type config struct {
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
	denyHandler  func(w http.ResponseWriter, r *http.Request, d Decision)
	now          func() time.Time
}

// WithErrorHandler overrides how account-loading failures are written.
func WithErrorHandler(h func(w http.ResponseWriter, r *http.Request, err error)) Option {
	return func(c *config) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithDenyHandler overrides how denials are written.
func WithDenyHandler(h func(w http.ResponseWriter, r *http.Request, d Decision)) Option {
	return func(c *config) {
		if h != nil {
			c.denyHandler = h
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// Middleware loads the account, evaluates access and either stores the
// account in the request context or denies with the reason code.
func Middleware(loader AccountLoader, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{
		errorHandler: defaultErrorHandler,
		denyHandler:  defaultDenyHandler,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := loader(r)
			if err != nil {
				cfg.errorHandler(w, r, err)
				return
			}

			if d := Evaluate(account.Access, account.Role, cfg.now()); !d.Allow {
				cfg.denyHandler(w, r, d)
				return
			}

			ctx := SetAccountToContext(r.Context(), account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, _ error) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func defaultDenyHandler(w http.ResponseWriter, _ *http.Request, d Decision) {
	writeJSON(w, http.StatusPaymentRequired, map[string]string{
		"error":  "access denied",
		"reason": string(d.Reason),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
