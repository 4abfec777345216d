package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/lock"
)

// fixedTermDays is how long one cash-equivalent payment grants access.
const fixedTermDays = 30

// conflictRetries bounds the optimistic-write retry loop. Under the
// account lock conflicts should not happen; the retries cover writers
// outside this process.
const conflictRetries = 3

// Notifier receives billing events worth telling someone about.
// Implementations must not block reconciliation on delivery.
type Notifier interface {
	PaymentFailed(ctx context.Context, account *billing.Account)
	SubscriptionCanceled(ctx context.Context, account *billing.Account)
	ChargebackAlert(ctx context.Context, provider billing.Provider, paymentID string)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNotifier wires outbound notifications for payment failures,
// cancellations and unresolvable chargebacks.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// Reconciler applies normalized payment events to account state and the
// ledger.
type Reconciler struct {
	accounts billing.AccountStore
	ledger   billing.TransactionStore
	refs     billing.PaymentRefStore
	locker   lock.Locker
	auditor  audit.Logger
	catalog  *billing.Catalog
	log      *slog.Logger
	notifier Notifier
	now      func() time.Time
}

// New creates a Reconciler. All positional dependencies are required.
func New(
	accounts billing.AccountStore,
	ledger billing.TransactionStore,
	refs billing.PaymentRefStore,
	locker lock.Locker,
	auditor audit.Logger,
	catalog *billing.Catalog,
	log *slog.Logger,
	opts ...Option,
) *Reconciler {
	if accounts == nil || ledger == nil || refs == nil || locker == nil || auditor == nil || catalog == nil {
		panic("reconcile: all dependencies are required")
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		accounts: accounts,
		ledger:   ledger,
		refs:     refs,
		locker:   locker,
		auditor:  auditor,
		catalog:  catalog,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply reconciles one normalized event. Duplicates return nil. Errors
// wrapping gateway.ErrProviderAPI never originate here; every error
// returned is a business fault the webhook layer logs and acknowledges,
// except storage failures, which it must not acknowledge.
func (r *Reconciler) Apply(ctx context.Context, ev *billing.PaymentEvent) error {
	accountID, err := r.resolveAccount(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUnresolvedChargeback) && r.notifier != nil {
			r.notifier.ChargebackAlert(ctx, ev.Provider, ev.ExternalPaymentID)
		}
		return err
	}

	release, err := r.locker.Acquire(ctx, lock.AccountKey(accountID))
	if err != nil {
		return err
	}
	defer release()

	for attempt := 0; attempt < conflictRetries; attempt++ {
		err := r.applyLocked(ctx, accountID, ev)
		if errors.Is(err, billing.ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrConflictRetryExhausted
}

// resolveAccount finds the paying account: our own reference echoed back
// by the provider, then the subscription id, then the payment-id index
// populated at approval time.
func (r *Reconciler) resolveAccount(ctx context.Context, ev *billing.PaymentEvent) (uuid.UUID, error) {
	if ev.AccountID != uuid.Nil {
		return ev.AccountID, nil
	}
	if ev.SubscriptionID != "" {
		if account, err := r.accounts.GetBySubscriptionID(ctx, ev.Provider, ev.SubscriptionID); err == nil {
			return account.ID, nil
		}
	}
	if ev.ExternalPaymentID != "" {
		if id, err := r.refs.Resolve(ctx, ev.Provider, ev.ExternalPaymentID); err == nil {
			return id, nil
		}
	}

	if ev.Kind == billing.KindChargeback {
		return uuid.Nil, errors.Join(ErrUnresolvedChargeback,
			fmt.Errorf("provider %s payment %s", ev.Provider, ev.ExternalPaymentID))
	}
	return uuid.Nil, errors.Join(ErrAccountNotResolved,
		fmt.Errorf("provider %s event %s", ev.Provider, ev.SourceEventID))
}

func (r *Reconciler) applyLocked(ctx context.Context, accountID uuid.UUID, ev *billing.PaymentEvent) error {
	// Redelivery check. A ledger row for the idempotency key means the
	// whole unit already ran to completion.
	if key := ledgerPaymentID(ev); key != "" {
		if _, err := r.ledger.GetByProviderPaymentID(ctx, ev.Provider, key); err == nil {
			r.log.DebugContext(ctx, "duplicate payment event ignored",
				slog.String("provider", string(ev.Provider)),
				slog.String("payment_id", ev.ExternalPaymentID))
			return nil
		} else if !errors.Is(err, billing.ErrTransactionNotFound) {
			return err
		}
	}

	account, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, billing.ErrAccountNotFound) {
			return errors.Join(ErrAccountNotResolved, err)
		}
		return err
	}

	switch ev.Kind {
	case billing.KindCheckout, billing.KindRenewal:
		switch ev.Outcome {
		case billing.OutcomeApproved:
			return r.applyApproved(ctx, account, ev)
		case billing.OutcomeRejected:
			return r.applyRejected(ctx, account, ev)
		default:
			// Pending payments change nothing until they settle.
			return nil
		}
	case billing.KindLifecycle:
		return r.applyLifecycle(ctx, account, ev)
	case billing.KindChargeback:
		return r.applyChargeback(ctx, account, ev)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// applyApproved grants access for a settled payment. Fixed-term methods
// grant an absolute expiry and sever any recurring linkage; card payments
// bind the account to the provider subscription.
func (r *Reconciler) applyApproved(ctx context.Context, account *billing.Account, ev *billing.PaymentEvent) error {
	before := account.Access.Status
	now := r.now().UTC()

	plan, planErr := r.lookupPlan(ev)
	if planErr == nil {
		account.Access.Tier = plan.Tier
		account.Access.Limits = plan.Limits
	} else {
		r.log.WarnContext(ctx, "approved payment with unknown plan, keeping current tier",
			slog.String("plan_id", ev.PlanID),
			slog.String("account_id", account.ID.String()))
	}

	account.Access.Status = billing.StatusActive
	account.Access.TrialEndsAt = nil
	account.Billing.Provider = ev.Provider
	account.Billing.LastPaymentID = ev.ExternalPaymentID
	account.Billing.LastPaymentAt = &now

	if ev.Method.IsFixedTerm() {
		validUntil := now.AddDate(0, 0, fixedTermDays)
		account.Access.ValidUntil = &validUntil
		account.Billing.SubscriptionID = ""
	} else {
		account.Access.ValidUntil = nil
		if ev.SubscriptionID != "" {
			account.Billing.SubscriptionID = ev.SubscriptionID
		}
	}

	if err := r.accounts.Save(ctx, account); err != nil {
		return err
	}

	// Index every id the provider may later use to reference this payment
	// (disputes arrive keyed by charge, not invoice).
	refIDs := append([]string{ev.ExternalPaymentID}, ev.RelatedPaymentIDs...)
	for _, refID := range refIDs {
		if refID == "" {
			continue
		}
		ref := &billing.PaymentRef{
			Provider:          ev.Provider,
			ExternalPaymentID: refID,
			AccountID:         account.ID,
			CreatedAt:         now,
		}
		if err := r.refs.Put(ctx, ref); err != nil {
			return err
		}
	}

	if err := r.appendLedger(ctx, account.ID, billing.TxPaymentApproved, ev, "approved"); err != nil {
		return err
	}
	return r.auditor.Record(ctx, audit.ActorSystem, "payment_approved",
		account.ID, string(before), string(account.Access.Status),
		audit.WithProvider(string(ev.Provider)),
		audit.WithSourceEvent(ev.SourceEventID),
		audit.WithMetadata("payment_id", ev.ExternalPaymentID),
		audit.WithMetadata("method", string(ev.Method)),
	)
}

// applyRejected records the failure without touching access: a single
// failed renewal keeps the grace period, only lifecycle events or a
// chargeback revoke.
func (r *Reconciler) applyRejected(ctx context.Context, account *billing.Account, ev *billing.PaymentEvent) error {
	if err := r.appendLedger(ctx, account.ID, billing.TxPaymentFailed, ev, "rejected"); err != nil {
		return err
	}
	if r.notifier != nil {
		r.notifier.PaymentFailed(ctx, account)
	}
	return r.auditor.Record(ctx, audit.ActorSystem, "payment_failed",
		account.ID, string(account.Access.Status), string(account.Access.Status),
		audit.WithProvider(string(ev.Provider)),
		audit.WithSourceEvent(ev.SourceEventID),
		audit.WithMetadata("payment_id", ev.ExternalPaymentID),
	)
}

// applyLifecycle maps the provider's subscription status through the
// provider's table and stores the result.
func (r *Reconciler) applyLifecycle(ctx context.Context, account *billing.Account, ev *billing.PaymentEvent) error {
	mapped, err := mapProviderStatus(ev.Provider, ev.ProviderStatus)
	if err != nil {
		return err
	}

	before := account.Access.Status
	subscribedBefore := account.Billing.SubscriptionID != ""

	if ev.SubscriptionID != "" && mapped == billing.StatusActive {
		account.Billing.Provider = ev.Provider
		account.Billing.SubscriptionID = ev.SubscriptionID
	}
	if mapped == billing.StatusCanceled {
		account.Billing.SubscriptionID = ""
	}
	account.Access.Status = mapped

	if plan, err := r.lookupPlan(ev); err == nil && mapped == billing.StatusActive {
		account.Access.Tier = plan.Tier
		account.Access.Limits = plan.Limits
	}

	if err := r.accounts.Save(ctx, account); err != nil {
		return err
	}

	// First activation of a subscription gets its own ledger mark, keyed
	// by the subscription id (lifecycle events carry no payment id).
	if !subscribedBefore && mapped == billing.StatusActive && ev.SubscriptionID != "" {
		created := &billing.Transaction{
			ID:                uuid.New().String(),
			AccountID:         account.ID,
			Type:              billing.TxSubscriptionCreated,
			Provider:          ev.Provider,
			ExternalPaymentID: ev.SubscriptionID,
			SubscriptionID:    ev.SubscriptionID,
			PlanID:            ev.PlanID,
			Status:            ev.ProviderStatus,
			Method:            ev.Method,
			CreatedAt:         r.now().UTC(),
		}
		if err := r.ledger.Append(ctx, created); err != nil && !errors.Is(err, billing.ErrDuplicateTransaction) {
			return err
		}
	}

	if mapped == billing.StatusCanceled && r.notifier != nil {
		r.notifier.SubscriptionCanceled(ctx, account)
	}
	return r.auditor.Record(ctx, audit.ActorSystem, "subscription_"+ev.ProviderStatus,
		account.ID, string(before), string(mapped),
		audit.WithProvider(string(ev.Provider)),
		audit.WithSourceEvent(ev.SourceEventID),
		audit.WithMetadata("subscription_id", ev.SubscriptionID),
	)
}

// applyChargeback revokes access immediately, overriding any grace
// period.
func (r *Reconciler) applyChargeback(ctx context.Context, account *billing.Account, ev *billing.PaymentEvent) error {
	before := account.Access.Status

	account.Access.Status = billing.StatusCanceled
	account.Access.ValidUntil = nil
	account.Billing.SubscriptionID = ""

	if err := r.accounts.Save(ctx, account); err != nil {
		return err
	}

	txType := billing.TxChargeback
	if ev.ProviderStatus == "refunded" {
		txType = billing.TxRefund
	}
	if err := r.appendLedger(ctx, account.ID, txType, ev, ev.ProviderStatus); err != nil {
		return err
	}

	r.log.WarnContext(ctx, "chargeback applied",
		slog.String("account_id", account.ID.String()),
		slog.String("provider", string(ev.Provider)),
		slog.String("payment_id", ev.ExternalPaymentID))

	return r.auditor.Record(ctx, audit.ActorSystem, string(txType),
		account.ID, string(before), string(billing.StatusCanceled),
		audit.WithProvider(string(ev.Provider)),
		audit.WithSourceEvent(ev.SourceEventID),
		audit.WithMetadata("payment_id", ev.ExternalPaymentID),
	)
}

// ApplyUserAction records a self-service lifecycle change (cancel, pause,
// reactivate) that was already accepted by the provider. The same
// transition will usually arrive again as a webhook and no-op there.
func (r *Reconciler) ApplyUserAction(ctx context.Context, accountID uuid.UUID, action string, status billing.AccessStatus) error {
	release, err := r.locker.Acquire(ctx, lock.AccountKey(accountID))
	if err != nil {
		return err
	}
	defer release()

	for attempt := 0; attempt < conflictRetries; attempt++ {
		account, err := r.accounts.Get(ctx, accountID)
		if err != nil {
			return err
		}
		before := account.Access.Status
		account.Access.Status = status
		if status == billing.StatusCanceled {
			account.Billing.SubscriptionID = ""
		}

		err = r.accounts.Save(ctx, account)
		if errors.Is(err, billing.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		return r.auditor.Record(ctx, audit.ActorUser, action,
			account.ID, string(before), string(status))
	}
	return ErrConflictRetryExhausted
}

func (r *Reconciler) lookupPlan(ev *billing.PaymentEvent) (billing.Plan, error) {
	if ev.PlanID == "" {
		return billing.Plan{}, billing.ErrPlanNotFound
	}
	if plan, err := r.catalog.Plan(ev.PlanID); err == nil {
		return plan, nil
	}
	// Stripe events often carry the provider price id instead of ours.
	return r.catalog.PlanByStripePrice(ev.PlanID)
}

// ledgerPaymentID derives the idempotency key a ledger row is stored
// under. A chargeback or refund references the same provider payment id
// as the approval it reverses; suffixing keeps the (provider, payment id)
// uniqueness constraint intact while letting both rows exist, and still
// dedupes redeliveries of the reversal itself.
func ledgerPaymentID(ev *billing.PaymentEvent) string {
	if ev.Kind != billing.KindChargeback || ev.ExternalPaymentID == "" {
		return ev.ExternalPaymentID
	}
	if ev.ProviderStatus == "refunded" {
		return ev.ExternalPaymentID + "#refund"
	}
	return ev.ExternalPaymentID + "#chargeback"
}

// appendLedger writes the immutable row for the event. A duplicate key
// from a racing delivery is a clean no-op: the winner already recorded
// it.
func (r *Reconciler) appendLedger(ctx context.Context, accountID uuid.UUID, txType billing.TransactionType, ev *billing.PaymentEvent, status string) error {
	tx := &billing.Transaction{
		ID:                uuid.New().String(),
		AccountID:         accountID,
		Type:              txType,
		Provider:          ev.Provider,
		ExternalPaymentID: ledgerPaymentID(ev),
		SubscriptionID:    ev.SubscriptionID,
		PlanID:            ev.PlanID,
		Amount:            ev.Amount,
		Status:            status,
		Method:            ev.Method,
		CreatedAt:         r.now().UTC(),
	}
	if err := r.ledger.Append(ctx, tx); err != nil && !errors.Is(err, billing.ErrDuplicateTransaction) {
		return err
	}
	return nil
}
