package payments

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
)

// maxWebhookBody caps webhook payload reads. Provider notifications are
// small; anything larger is not a legitimate delivery.
const maxWebhookBody = 1 << 20

// handleMercadoPagoWebhook verifies the x-signature header before the
// payload is interpreted in any way.
func (s *Service) handleMercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	adapter, err := s.registry.Adapter(billing.ProviderMercadoPago)
	if err != nil {
		http.Error(w, "provider not configured", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("x-signature")
	requestID := r.Header.Get("x-request-id")
	if err := adapter.VerifyWebhookSignature(signature, requestID, raw); err != nil {
		// The payload is untrusted at this point and is never logged.
		s.log.WarnContext(r.Context(), "webhook signature rejected",
			slog.String("provider", string(billing.ProviderMercadoPago)),
			slog.String("request_id", requestID))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if !s.processWebhook(w, r, adapter, raw) {
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStripeWebhook verifies the Stripe-Signature header computed over
// the unmodified raw body.
func (s *Service) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	adapter, err := s.registry.Adapter(billing.ProviderStripe)
	if err != nil {
		http.Error(w, "provider not configured", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := adapter.VerifyWebhookSignature(signature, "", raw); err != nil {
		s.log.WarnContext(r.Context(), "webhook signature rejected",
			slog.String("provider", string(billing.ProviderStripe)))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if !s.processWebhook(w, r, adapter, raw) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// processWebhook normalizes and reconciles a signature-verified delivery.
// It returns true when the delivery should be acknowledged; on false it
// has already written a non-2xx response so the provider redelivers.
//
// Once the signature passed, business faults never block the ack: an
// unresolvable account or an unmapped status is logged and the delivery
// is accepted, because redelivering it can not change the outcome.
func (s *Service) processWebhook(w http.ResponseWriter, r *http.Request, adapter gateway.Adapter, raw []byte) bool {
	ctx := r.Context()
	provider := string(adapter.Provider())

	event, err := adapter.ProcessWebhookNotification(ctx, raw)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderAPI) {
			s.log.ErrorContext(ctx, "webhook left unacknowledged, provider API unavailable",
				slog.String("provider", provider),
				slog.Any("error", err))
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return false
		}
		s.log.WarnContext(ctx, "webhook notification not processable",
			slog.String("provider", provider),
			slog.Any("error", err))
		return true
	}
	if event == nil {
		return true
	}

	if err := s.reconciler.Apply(ctx, event); err != nil {
		switch {
		case errors.Is(err, reconcile.ErrUnresolvedChargeback):
			s.log.ErrorContext(ctx, "ALERT: chargeback could not be resolved to an account",
				slog.String("provider", provider),
				slog.String("payment_id", event.ExternalPaymentID),
				slog.Any("error", err))
			return true
		case errors.Is(err, reconcile.ErrAccountNotResolved),
			errors.Is(err, reconcile.ErrUnmappedProviderStatus):
			s.log.WarnContext(ctx, "webhook reconciliation skipped",
				slog.String("provider", provider),
				slog.String("event_id", event.SourceEventID),
				slog.Any("error", err))
			return true
		default:
			// Storage or locking failure: the unit did not complete, so
			// the delivery must not be acknowledged.
			s.log.ErrorContext(ctx, "webhook reconciliation failed",
				slog.String("provider", provider),
				slog.String("event_id", event.SourceEventID),
				slog.Any("error", err))
			http.Error(w, "reconciliation failed", http.StatusInternalServerError)
			return false
		}
	}
	return true
}
