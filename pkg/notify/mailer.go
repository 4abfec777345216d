package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
)

// Config holds Postmark credentials and addressing.
type Config struct {
	ServerToken  config.Secret `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken config.Secret `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string        `env:"NOTIFY_SENDER_EMAIL"`
	SupportEmail string        `env:"NOTIFY_SUPPORT_EMAIL"`
	OpsEmail     string        `env:"NOTIFY_OPS_EMAIL"`
	ProductName  string        `env:"NOTIFY_PRODUCT_NAME" envDefault:"Billingkit"`
}

// sender is the slice of the Postmark client the mailer uses.
type sender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Mailer sends billing notifications. It satisfies the reconciler's
// Notifier contract: methods log failures instead of returning them.
type Mailer struct {
	client sender
	cfg    Config
	log    *slog.Logger
}

// NewMailer creates a Postmark-backed mailer. All addressing fields are
// required so a half-configured service fails at startup instead of
// silently dropping mail.
func NewMailer(cfg Config, log *slog.Logger) (*Mailer, error) {
	if cfg.ServerToken.IsZero() {
		return nil, fmt.Errorf("%w: ServerToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}
	if cfg.SupportEmail == "" {
		return nil, fmt.Errorf("%w: SupportEmail is required", ErrInvalidConfig)
	}
	if cfg.OpsEmail == "" {
		return nil, fmt.Errorf("%w: OpsEmail is required", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{
		client: postmark.NewClient(cfg.ServerToken.Unmask(), cfg.AccountToken.Unmask()),
		cfg:    cfg,
		log:    log,
	}, nil
}

// PaymentFailed sends the dunning notice for a failed renewal.
func (m *Mailer) PaymentFailed(ctx context.Context, account *billing.Account) {
	body := fmt.Sprintf(
		`<p>Hi %s,</p>
<p>We could not process your latest %s payment. Your access continues for
now, but please update your payment method to avoid interruption.</p>
<p>Questions? Reply to this email and we will help.</p>`,
		html.EscapeString(displayName(account)), html.EscapeString(m.cfg.ProductName))

	m.send(ctx, account.Email, "Payment failed for "+m.cfg.ProductName, body, "payment-failed")
}

// SubscriptionCanceled confirms the subscription ended.
func (m *Mailer) SubscriptionCanceled(ctx context.Context, account *billing.Account) {
	body := fmt.Sprintf(
		`<p>Hi %s,</p>
<p>Your %s subscription has been canceled. You can resubscribe at any time
from your account settings.</p>`,
		html.EscapeString(displayName(account)), html.EscapeString(m.cfg.ProductName))

	m.send(ctx, account.Email, "Your "+m.cfg.ProductName+" subscription was canceled", body, "subscription-canceled")
}

// ChargebackAlert pages the operations inbox about a dispute that could
// not be tied to an account.
func (m *Mailer) ChargebackAlert(ctx context.Context, provider billing.Provider, paymentID string) {
	body := fmt.Sprintf(
		`<p>A chargeback arrived for a payment we cannot resolve to an account.</p>
<p>Provider: <strong>%s</strong><br>Payment ID: <strong>%s</strong></p>
<p>Investigate manually; no ledger row was written.</p>`,
		html.EscapeString(string(provider)), html.EscapeString(paymentID))

	m.send(ctx, m.cfg.OpsEmail, "ALERT: unresolvable chargeback ("+string(provider)+")", body, "chargeback-alert")
}

func (m *Mailer) send(ctx context.Context, to, subject, bodyHTML, tag string) {
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:       m.cfg.SenderEmail,
		ReplyTo:    m.cfg.SupportEmail,
		To:         to,
		Subject:    subject,
		Tag:        tag,
		HTMLBody:   bodyHTML,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err == nil && resp.ErrorCode > 0 {
		err = fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	if err != nil {
		m.log.ErrorContext(ctx, "billing notification not delivered",
			slog.String("tag", tag),
			slog.String("to", to),
			slog.Any("error", errors.Join(ErrSendFailed, err)))
	}
}

func displayName(account *billing.Account) string {
	if account.DisplayName != "" {
		return account.DisplayName
	}
	return account.Email
}
