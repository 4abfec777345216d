package payments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// Handle returns the module router. Webhook routes are public (they
// authenticate by signature); everything else resolves the caller
// through the injected account loader.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhook", s.handleMercadoPagoWebhook)
	r.Post("/stripe/webhook", s.handleStripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.withAccount)

		r.Post("/create-checkout", s.handleCreateCheckout)
		r.Post("/create-pix", s.handleCreatePix)
		r.Post("/create-boleto", s.handleCreateBoleto)

		r.Post("/subscription/cancel", s.handleCancel)
		r.Post("/subscription/pause", s.handlePause)
		r.Post("/subscription/reactivate", s.handleReactivate)
		r.Get("/subscription", s.handleSubscriptionStatus)
	})

	return r
}

type accountCtxKey struct{}

// withAccount resolves the caller once per request. Unlike the product
// feature gate, billing endpoints stay reachable for accounts whose
// access lapsed, otherwise nobody could resubscribe.
func (s *Service) withAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := s.loadAccount(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := contextWithAccount(r.Context(), account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	account := accountFromRequest(r)
	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := s.CreateCheckout(r.Context(), account, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleCreatePix(w http.ResponseWriter, r *http.Request) {
	account := accountFromRequest(r)
	var req CreatePixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := s.CreatePix(r.Context(), account, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleCreateBoleto(w http.ResponseWriter, r *http.Request) {
	account := accountFromRequest(r)
	var req CreateBoletoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	resp, err := s.CreateBoleto(r.Context(), account, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(r.Context(), accountFromRequest(r)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.Pause(r.Context(), accountFromRequest(r)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleReactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.Reactivate(r.Context(), accountFromRequest(r)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.SubscriptionStatus(accountFromRequest(r)))
}

// writeServiceError maps business errors onto HTTP statuses without
// leaking provider internals to the client.
func (s *Service) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "invalid request")
	case errors.Is(err, billing.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "unknown plan")
	case errors.Is(err, billing.ErrTrialAlreadyUsed):
		writeError(w, http.StatusConflict, "trial already used")
	case errors.Is(err, ErrNoSubscription):
		writeError(w, http.StatusConflict, "no active subscription")
	case errors.Is(err, gateway.ErrMethodNotSupported):
		writeError(w, http.StatusBadRequest, "payment method not supported")
	case errors.Is(err, gateway.ErrProviderNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable")
	case errors.Is(err, ErrCheckoutFailed), errors.Is(err, gateway.ErrProviderAPI):
		writeError(w, http.StatusBadGateway, "payment provider error, try again later")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
