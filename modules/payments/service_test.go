package payments_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/modules/payments"
	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/lock"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
)

var svcNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeAdapter records calls and returns canned results so service tests
// never leave the process.
type fakeAdapter struct {
	provider billing.Provider

	verifyErr    error
	event        *billing.PaymentEvent
	normalizeErr error

	checkoutResult *gateway.CheckoutResult
	checkoutErr    error
	checkoutCalls  int

	pixResult    *gateway.PaymentInstructions
	pixErr       error
	boletoResult *gateway.PaymentInstructions
	boletoInput  gateway.FixedTermInput

	canceled    []string
	paused      []string
	reactivated []string

	normalizeCalls int
}

func (f *fakeAdapter) Provider() billing.Provider { return f.provider }

func (f *fakeAdapter) CreateCheckout(_ context.Context, _ gateway.CheckoutInput) (*gateway.CheckoutResult, error) {
	f.checkoutCalls++
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return f.checkoutResult, nil
}

func (f *fakeAdapter) CreateSubscription(context.Context, gateway.SubscriptionInput) (*gateway.SubscriptionResult, error) {
	return nil, gateway.ErrMethodNotSupported
}

func (f *fakeAdapter) CreatePixPayment(context.Context, gateway.FixedTermInput) (*gateway.PaymentInstructions, error) {
	if f.pixErr != nil {
		return nil, f.pixErr
	}
	if f.pixResult == nil {
		return nil, gateway.ErrMethodNotSupported
	}
	return f.pixResult, nil
}

func (f *fakeAdapter) CreateBoletoPayment(_ context.Context, in gateway.FixedTermInput) (*gateway.PaymentInstructions, error) {
	f.boletoInput = in
	if f.boletoResult == nil {
		return nil, gateway.ErrMethodNotSupported
	}
	return f.boletoResult, nil
}

func (f *fakeAdapter) CancelSubscription(_ context.Context, externalID string) error {
	f.canceled = append(f.canceled, externalID)
	return nil
}

func (f *fakeAdapter) PauseSubscription(_ context.Context, externalID string) error {
	f.paused = append(f.paused, externalID)
	return nil
}

func (f *fakeAdapter) ReactivateSubscription(_ context.Context, externalID string) error {
	f.reactivated = append(f.reactivated, externalID)
	return nil
}

func (f *fakeAdapter) VerifyWebhookSignature(_, _ string, _ []byte) error {
	return f.verifyErr
}

func (f *fakeAdapter) ProcessWebhookNotification(context.Context, []byte) (*billing.PaymentEvent, error) {
	f.normalizeCalls++
	return f.event, f.normalizeErr
}

func (f *fakeAdapter) GetSubscriptionDetails(context.Context, string) (*gateway.SubscriptionDetails, error) {
	return &gateway.SubscriptionDetails{}, nil
}

type fixture struct {
	store  *billing.MemoryStore
	audits *audit.MemoryStorage
	mp     *fakeAdapter
	stripe *fakeAdapter
	svc    *payments.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog, err := billing.NewCatalog(map[string]billing.Plan{
		"trial-7d": {
			ID:        "trial-7d",
			Tier:      billing.TierTrial,
			Name:      "Trial",
			Interval:  billing.IntervalNone,
			TrialDays: 7,
			Limits:    map[string]int64{"projects": 3},
		},
		"pro-monthly": {
			ID:            "pro-monthly",
			Tier:          billing.TierPro,
			Name:          "Pro",
			Price:         billing.Money{Amount: 4990, Currency: "BRL"},
			Interval:      billing.IntervalMonthly,
			StripePriceID: "price_pro_monthly",
			Public:        true,
		},
	})
	require.NoError(t, err)

	f := &fixture{
		store:  billing.NewMemoryStore(),
		audits: audit.NewMemoryStorage(),
		mp:     &fakeAdapter{provider: billing.ProviderMercadoPago},
		stripe: &fakeAdapter{provider: billing.ProviderStripe},
	}

	auditor := audit.NewLogger(f.audits)
	reconciler := reconcile.New(
		f.store, f.store, f.store,
		lock.NewMemoryLocker(),
		auditor,
		catalog,
		nil,
		reconcile.WithClock(func() time.Time { return svcNow }),
	)

	f.svc = payments.NewService(
		f.store,
		gateway.NewRegistry(f.mp, f.stripe),
		reconciler,
		catalog,
		auditor,
		f.loadAccount,
		nil,
		payments.WithClock(func() time.Time { return svcNow }),
	)
	return f
}

// loadAccount resolves the caller from the X-Account-ID header set by the
// authenticating proxy in front of the service.
func (f *fixture) loadAccount(r *http.Request) (*billing.Account, error) {
	id, err := uuid.Parse(r.Header.Get("X-Account-ID"))
	if err != nil {
		return nil, err
	}
	return f.store.Get(r.Context(), id)
}

func (f *fixture) addAccount(t *testing.T, mutate func(*billing.Account)) *billing.Account {
	t.Helper()
	account := billing.NewAccount(uuid.New(), "user@example.com")
	if mutate != nil {
		mutate(account)
	}
	require.NoError(t, f.store.Create(context.Background(), account))
	return account
}

func TestCreateCheckoutTrial(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.addAccount(t, nil)
	ctx := context.Background()

	resp, err := f.svc.CreateCheckout(ctx, account, payments.CreateCheckoutRequest{PlanID: "trial-7d"})
	require.NoError(t, err)

	assert.True(t, resp.IsTrial)
	assert.Empty(t, resp.CheckoutURL)
	assert.Zero(t, f.mp.checkoutCalls)
	assert.Zero(t, f.stripe.checkoutCalls)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.TierTrial, got.Access.Tier)
	assert.Equal(t, billing.StatusActive, got.Access.Status)
	assert.True(t, got.HasUsedTrial)
	require.NotNil(t, got.Access.TrialEndsAt)
	assert.Equal(t, svcNow.AddDate(0, 0, 7), got.Access.TrialEndsAt.UTC())
	assert.Equal(t, int64(3), got.Access.Limits["projects"])

	entries := f.audits.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActorUser, entries[0].Actor)
	assert.Equal(t, "trial_started", entries[0].Action)
}

// The trial is single-use and the check happens before anything leaves
// the process.
func TestCreateCheckoutTrialAlreadyUsed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.addAccount(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateCheckout(ctx, account, payments.CreateCheckoutRequest{PlanID: "trial-7d"})
	require.NoError(t, err)

	fresh, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	_, err = f.svc.CreateCheckout(ctx, fresh, payments.CreateCheckoutRequest{PlanID: "trial-7d"})
	assert.ErrorIs(t, err, billing.ErrTrialAlreadyUsed)
	assert.Zero(t, f.mp.checkoutCalls)
	assert.Zero(t, f.stripe.checkoutCalls)
}

// A stale HasUsedTrial=false snapshot must not grant a second trial: the
// flag is re-checked against fresh state inside the write loop.
func TestCreateCheckoutTrialStaleSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.addAccount(t, nil)
	stale := *account
	ctx := context.Background()

	_, err := f.svc.CreateCheckout(ctx, account, payments.CreateCheckoutRequest{PlanID: "trial-7d"})
	require.NoError(t, err)

	_, err = f.svc.CreateCheckout(ctx, &stale, payments.CreateCheckoutRequest{PlanID: "trial-7d"})
	assert.ErrorIs(t, err, billing.ErrTrialAlreadyUsed)
}

func TestCreateCheckoutPaidPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.stripe.checkoutResult = &gateway.CheckoutResult{
		CheckoutURL:  "https://stripe.example/c/cs_1",
		PreferenceID: "cs_1",
		Price:        billing.Money{Amount: 4990, Currency: "BRL"},
	}
	account := f.addAccount(t, nil)

	resp, err := f.svc.CreateCheckout(context.Background(), account, payments.CreateCheckoutRequest{PlanID: "pro-monthly"})
	require.NoError(t, err)

	// The plan carries a Stripe price, so checkout routes to Stripe.
	assert.Equal(t, 1, f.stripe.checkoutCalls)
	assert.Zero(t, f.mp.checkoutCalls)
	assert.False(t, resp.IsTrial)
	assert.Equal(t, "https://stripe.example/c/cs_1", resp.CheckoutURL)
}

func TestCreateCheckoutExplicitProvider(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mp.checkoutResult = &gateway.CheckoutResult{
		CheckoutURL:  "https://mp.example/c/pref_1",
		PreferenceID: "pref_1",
		Price:        billing.Money{Amount: 4990, Currency: "BRL"},
	}
	account := f.addAccount(t, nil)

	resp, err := f.svc.CreateCheckout(context.Background(), account, payments.CreateCheckoutRequest{
		PlanID:   "pro-monthly",
		Provider: "mercadopago",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.mp.checkoutCalls)
	assert.Zero(t, f.stripe.checkoutCalls)
	assert.Equal(t, "pref_1", resp.PreferenceID)
}

func TestCreateCheckoutErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.addAccount(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateCheckout(ctx, account, payments.CreateCheckoutRequest{})
	assert.ErrorIs(t, err, payments.ErrValidation)

	_, err = f.svc.CreateCheckout(ctx, account, payments.CreateCheckoutRequest{PlanID: "nonexistent"})
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)

	_, err = f.svc.CreateCheckout(ctx, account, payments.CreateCheckoutRequest{PlanID: "pro-monthly", Provider: "paypal"})
	assert.ErrorIs(t, err, payments.ErrValidation)

	f.stripe.checkoutErr = errors.New("boom")
	_, err = f.svc.CreateCheckout(ctx, account, payments.CreateCheckoutRequest{PlanID: "pro-monthly"})
	assert.ErrorIs(t, err, payments.ErrCheckoutFailed)
}

func TestCreatePix(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mp.pixResult = &gateway.PaymentInstructions{
		PaymentID: "777",
		Method:    billing.MethodPix,
		QRCode:    "00020126pixcopypaste",
		Amount:    billing.Money{Amount: 4990, Currency: "BRL"},
		ExpiresAt: svcNow.Add(24 * time.Hour),
	}
	account := f.addAccount(t, nil)

	resp, err := f.svc.CreatePix(context.Background(), account, payments.CreatePixRequest{PlanID: "pro-monthly"})
	require.NoError(t, err)

	assert.Equal(t, "777", resp.PaymentID)
	assert.Equal(t, string(billing.MethodPix), resp.Method)
	assert.Equal(t, "00020126pixcopypaste", resp.QRCode)
}

func TestCreateBoleto(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mp.boletoResult = &gateway.PaymentInstructions{
		PaymentID:   "888",
		Method:      billing.MethodBoleto,
		BarcodeData: "23790000049900000",
		Amount:      billing.Money{Amount: 4990, Currency: "BRL"},
	}
	account := f.addAccount(t, nil)
	ctx := context.Background()

	resp, err := f.svc.CreateBoleto(ctx, account, payments.CreateBoletoRequest{
		PlanID:         "pro-monthly",
		FirstName:      "Ana",
		LastName:       "Souza",
		DocumentNumber: "12345678901",
	})
	require.NoError(t, err)

	assert.Equal(t, "888", resp.PaymentID)
	assert.Equal(t, "Ana", f.mp.boletoInput.FirstName)
	assert.Equal(t, "12345678901", f.mp.boletoInput.DocumentNumber)

	// The payer tax id is required and length-checked.
	_, err = f.svc.CreateBoleto(ctx, account, payments.CreateBoletoRequest{
		PlanID:         "pro-monthly",
		FirstName:      "Ana",
		LastName:       "Souza",
		DocumentNumber: "123",
	})
	assert.ErrorIs(t, err, payments.ErrValidation)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.addAccount(t, func(a *billing.Account) {
		a.Access.Tier = billing.TierPro
		a.Billing.Provider = billing.ProviderStripe
		a.Billing.SubscriptionID = "sub_1"
	})
	ctx := context.Background()

	require.NoError(t, f.svc.Cancel(ctx, account))

	assert.Equal(t, []string{"sub_1"}, f.stripe.canceled)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, got.Access.Status)
	assert.Empty(t, got.Billing.SubscriptionID)

	entries := f.audits.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActorUser, entries[0].Actor)
	assert.Equal(t, "subscription_cancel", entries[0].Action)
}

func TestCancelWithoutSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.addAccount(t, nil)

	err := f.svc.Cancel(context.Background(), account)
	assert.ErrorIs(t, err, payments.ErrNoSubscription)
	assert.Empty(t, f.stripe.canceled)
	assert.Empty(t, f.mp.canceled)
}

func TestPauseAndReactivate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	account := f.addAccount(t, func(a *billing.Account) {
		a.Access.Tier = billing.TierPro
		a.Billing.Provider = billing.ProviderMercadoPago
		a.Billing.SubscriptionID = "pre_1"
	})
	ctx := context.Background()

	require.NoError(t, f.svc.Pause(ctx, account))
	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, got.Access.Status)
	assert.Equal(t, []string{"pre_1"}, f.mp.paused)

	require.NoError(t, f.svc.Reactivate(ctx, got))
	got, err = f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Access.Status)
	assert.Equal(t, []string{"pre_1"}, f.mp.reactivated)
}

func TestSubscriptionStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	t.Run("active trial", func(t *testing.T) {
		t.Parallel()
		account := billing.NewAccount(uuid.New(), "u@example.com")
		account.MarkTrialStarted(svcNow, 7)

		status := f.svc.SubscriptionStatus(account)
		assert.Equal(t, "trial-7d", status.PlanID)
		assert.True(t, status.HasAccess)
		assert.Equal(t, 7, status.DaysRemaining)
		assert.False(t, status.IsRecurring)
		assert.False(t, status.CanCancel)
	})

	t.Run("recurring pro", func(t *testing.T) {
		t.Parallel()
		account := billing.NewAccount(uuid.New(), "u@example.com")
		account.Access.Tier = billing.TierPro
		account.Billing.SubscriptionID = "sub_1"

		status := f.svc.SubscriptionStatus(account)
		assert.Equal(t, "pro-monthly", status.PlanID)
		assert.True(t, status.HasAccess)
		assert.Equal(t, -1, status.DaysRemaining)
		assert.True(t, status.IsRecurring)
		assert.True(t, status.CanCancel)
	})

	t.Run("canceled account", func(t *testing.T) {
		t.Parallel()
		account := billing.NewAccount(uuid.New(), "u@example.com")
		account.Access.Tier = billing.TierPro
		account.Access.Status = billing.StatusCanceled

		status := f.svc.SubscriptionStatus(account)
		assert.False(t, status.HasAccess)
		assert.Equal(t, string(billing.StatusCanceled), status.Status)
	})
}
