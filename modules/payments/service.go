package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gate"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
)

// conflictRetries bounds optimistic-write retries on user-initiated
// account mutations.
const conflictRetries = 3

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service implements the self-service billing operations and webhook
// intake behind the HTTP surface.
type Service struct {
	accounts    billing.AccountStore
	registry    *gateway.Registry
	reconciler  *reconcile.Reconciler
	catalog     *billing.Catalog
	auditor     audit.Logger
	loadAccount gate.AccountLoader
	log         *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService wires the payments module. loadAccount resolves the
// authenticated caller; authentication itself is external.
func NewService(
	accounts billing.AccountStore,
	registry *gateway.Registry,
	reconciler *reconcile.Reconciler,
	catalog *billing.Catalog,
	auditor audit.Logger,
	loadAccount gate.AccountLoader,
	log *slog.Logger,
	opts ...Option,
) *Service {
	if accounts == nil || registry == nil || reconciler == nil || catalog == nil || auditor == nil || loadAccount == nil {
		panic("payments: all dependencies are required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		accounts:    accounts,
		registry:    registry,
		reconciler:  reconciler,
		catalog:     catalog,
		auditor:     auditor,
		loadAccount: loadAccount,
		log:         log,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCheckout starts a purchase for the given plan. Trial plans are
// fulfilled locally without any provider call; the trial is single-use
// and a second attempt fails before anything leaves the process.
func (s *Service) CreateCheckout(ctx context.Context, account *billing.Account, req CreateCheckoutRequest) (*CheckoutResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}

	plan, err := s.catalog.Plan(req.PlanID)
	if err != nil {
		return nil, err
	}

	if plan.IsTrial() {
		if account.HasUsedTrial {
			return nil, billing.ErrTrialAlreadyUsed
		}
		if err := s.startTrial(ctx, account.ID, plan); err != nil {
			return nil, err
		}
		return &CheckoutResponse{Price: plan.Price, IsTrial: true}, nil
	}

	adapter, err := s.adapterForPlan(req.Provider, plan)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CreateCheckout(ctx, gateway.CheckoutInput{
		AccountID:   account.ID,
		Plan:        plan,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "checkout creation failed",
			slog.String("account_id", account.ID.String()),
			slog.String("plan_id", plan.ID),
			slog.Any("error", err))
		return nil, errors.Join(ErrCheckoutFailed, err)
	}

	return &CheckoutResponse{
		CheckoutURL:  result.CheckoutURL,
		PreferenceID: result.PreferenceID,
		Price:        result.Price,
		IsTrial:      false,
	}, nil
}

// CreatePix creates a fixed-term Pix payment.
func (s *Service) CreatePix(ctx context.Context, account *billing.Account, req CreatePixRequest) (*PaymentInstructionsResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	plan, err := s.catalog.Plan(req.PlanID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Adapter(billing.ProviderMercadoPago)
	if err != nil {
		return nil, err
	}

	instr, err := adapter.CreatePixPayment(ctx, gateway.FixedTermInput{
		AccountID: account.ID,
		Plan:      plan,
		Email:     account.Email,
	})
	if err != nil {
		return nil, errors.Join(ErrCheckoutFailed, err)
	}
	return instructionsResponse(instr), nil
}

// CreateBoleto creates a fixed-term Boleto payment.
func (s *Service) CreateBoleto(ctx context.Context, account *billing.Account, req CreateBoletoRequest) (*PaymentInstructionsResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	plan, err := s.catalog.Plan(req.PlanID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Adapter(billing.ProviderMercadoPago)
	if err != nil {
		return nil, err
	}

	instr, err := adapter.CreateBoletoPayment(ctx, gateway.FixedTermInput{
		AccountID:      account.ID,
		Plan:           plan,
		Email:          account.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		DocumentNumber: req.DocumentNumber,
	})
	if err != nil {
		return nil, errors.Join(ErrCheckoutFailed, err)
	}
	return instructionsResponse(instr), nil
}

// Cancel ends the account's provider-side subscription and marks access
// canceled. The provider's own lifecycle webhook arrives later and
// no-ops against the same state.
func (s *Service) Cancel(ctx context.Context, account *billing.Account) error {
	if !account.CanCancel() {
		return ErrNoSubscription
	}
	adapter, err := s.registry.Adapter(account.Billing.Provider)
	if err != nil {
		return err
	}
	if err := adapter.CancelSubscription(ctx, account.Billing.SubscriptionID); err != nil {
		return err
	}
	return s.reconciler.ApplyUserAction(ctx, account.ID, "subscription_cancel", billing.StatusCanceled)
}

// Pause suspends billing on the provider side. Paused access is treated
// as past due until reactivated.
func (s *Service) Pause(ctx context.Context, account *billing.Account) error {
	if !account.IsRecurring() {
		return ErrNoSubscription
	}
	adapter, err := s.registry.Adapter(account.Billing.Provider)
	if err != nil {
		return err
	}
	if err := adapter.PauseSubscription(ctx, account.Billing.SubscriptionID); err != nil {
		return err
	}
	return s.reconciler.ApplyUserAction(ctx, account.ID, "subscription_pause", billing.StatusPastDue)
}

// Reactivate resumes a paused subscription.
func (s *Service) Reactivate(ctx context.Context, account *billing.Account) error {
	if !account.IsRecurring() {
		return ErrNoSubscription
	}
	adapter, err := s.registry.Adapter(account.Billing.Provider)
	if err != nil {
		return err
	}
	if err := adapter.ReactivateSubscription(ctx, account.Billing.SubscriptionID); err != nil {
		return err
	}
	return s.reconciler.ApplyUserAction(ctx, account.ID, "subscription_reactivate", billing.StatusActive)
}

// SubscriptionStatus derives the billing view the UI renders.
func (s *Service) SubscriptionStatus(account *billing.Account) *SubscriptionStatusResponse {
	now := s.now().UTC()
	decision := gate.Evaluate(account.Access, account.Role, now)

	planID := ""
	if plan, err := s.catalog.PlanByTier(account.Access.Tier); err == nil {
		planID = plan.ID
	}

	return &SubscriptionStatusResponse{
		PlanID:        planID,
		Status:        string(account.Access.Status),
		HasAccess:     decision.Allow,
		DaysRemaining: account.DaysRemainingAt(now),
		IsRecurring:   account.IsRecurring(),
		CanCancel:     account.CanCancel(),
	}
}

// startTrial flips the account into its trial window under optimistic
// concurrency. HasUsedTrial is re-checked against fresh state inside the
// retry loop so two racing requests grant at most one trial.
func (s *Service) startTrial(ctx context.Context, accountID uuid.UUID, plan billing.Plan) error {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		account, err := s.accounts.Get(ctx, accountID)
		if err != nil {
			return err
		}
		if account.HasUsedTrial {
			return billing.ErrTrialAlreadyUsed
		}

		before := account.Access.Status
		account.MarkTrialStarted(s.now(), plan.TrialDays)
		account.Access.Tier = plan.Tier
		account.Access.Limits = plan.Limits

		err = s.accounts.Save(ctx, account)
		if errors.Is(err, billing.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		return s.auditor.Record(ctx, audit.ActorUser, "trial_started",
			account.ID, string(before), string(account.Access.Status),
			audit.WithMetadata("plan_id", plan.ID))
	}
	return reconcile.ErrConflictRetryExhausted
}

func (s *Service) adapterForPlan(requested string, plan billing.Plan) (gateway.Adapter, error) {
	if requested != "" {
		return s.registry.Adapter(billing.Provider(requested))
	}
	if plan.StripePriceID != "" && s.registry.Has(billing.ProviderStripe) {
		return s.registry.Adapter(billing.ProviderStripe)
	}
	return s.registry.Adapter(billing.ProviderMercadoPago)
}

func instructionsResponse(instr *gateway.PaymentInstructions) *PaymentInstructionsResponse {
	return &PaymentInstructionsResponse{
		PaymentID:   instr.PaymentID,
		Method:      string(instr.Method),
		QRCode:      instr.QRCode,
		QRCodePNG:   instr.QRCodePNG,
		TicketURL:   instr.TicketURL,
		BarcodeData: instr.BarcodeData,
		Amount:      instr.Amount,
		ExpiresAt:   instr.ExpiresAt,
	}
}
