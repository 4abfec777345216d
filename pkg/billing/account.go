package billing

import (
	"time"

	"github.com/google/uuid"
)

// Access is the state gating product features for one account.
type Access struct {
	Tier        PlanTier         `json:"tier" bson:"tier"`
	Status      AccessStatus     `json:"status" bson:"status"`
	TrialEndsAt *time.Time       `json:"trial_ends_at,omitempty" bson:"trial_ends_at,omitempty"`
	ValidUntil  *time.Time       `json:"valid_until,omitempty" bson:"valid_until,omitempty"` // fixed-term expiry
	Limits      map[string]int64 `json:"limits,omitempty" bson:"limits,omitempty"`
}

// BillingInfo links an account to its external payment provider.
type BillingInfo struct {
	Provider       Provider   `json:"provider" bson:"provider"`
	CustomerID     string     `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty" bson:"subscription_id,omitempty"`
	LastPaymentID  string     `json:"last_payment_id,omitempty" bson:"last_payment_id,omitempty"`
	LastPaymentAt  *time.Time `json:"last_payment_at,omitempty" bson:"last_payment_at,omitempty"`
}

// Account is the billing view of a registered user. Identity fields are
// owned by the external account system; this module only reads them to
// pass along to providers.
type Account struct {
	ID           uuid.UUID   `json:"id" bson:"_id"`
	Email        string      `json:"email" bson:"email"`
	DisplayName  string      `json:"display_name,omitempty" bson:"display_name,omitempty"`
	Role         Role        `json:"role" bson:"role"`
	Access       Access      `json:"access" bson:"access"`
	Billing      BillingInfo `json:"billing" bson:"billing"`
	HasUsedTrial bool        `json:"has_used_trial" bson:"has_used_trial"` // set exactly once, never cleared

	// Version guards account writes with optimistic concurrency.
	// Stores must reject a Save whose Version does not match the stored
	// document and the caller retries the whole read-modify-write.
	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewAccount returns an account with the baseline free access every
// registration starts from.
func NewAccount(id uuid.UUID, email string) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:    id,
		Email: email,
		Role:  RoleUser,
		Access: Access{
			Tier:   TierFree,
			Status: StatusActive,
		},
		Billing:   BillingInfo{Provider: ProviderNone},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsRecurring reports whether the account is on a live provider-side
// subscription (as opposed to fixed-term or free access).
func (a *Account) IsRecurring() bool {
	return a.Billing.SubscriptionID != ""
}

// CanCancel reports whether there is anything to cancel on the provider
// side.
func (a *Account) CanCancel() bool {
	return a.IsRecurring() && a.Access.Status != StatusCanceled
}

// IsTrialExpiredAt reports whether a trial has lapsed at the given time.
// False when the account is not on a trial.
func (a *Account) IsTrialExpiredAt(now time.Time) bool {
	if a.Access.Tier != TierTrial || a.Access.TrialEndsAt == nil {
		return false
	}
	return now.After(*a.Access.TrialEndsAt)
}

// IsFixedTermExpiredAt reports whether fixed-term access has lapsed at the
// given time. False when no fixed-term expiry is set.
func (a *Account) IsFixedTermExpiredAt(now time.Time) bool {
	if a.Access.ValidUntil == nil {
		return false
	}
	return now.After(*a.Access.ValidUntil)
}

// DaysRemainingAt returns the whole days of access left at the given time,
// derived from whichever expiry applies. Recurring access without a stored
// expiry returns -1 (provider-managed, no local horizon).
func (a *Account) DaysRemainingAt(now time.Time) int {
	var until *time.Time
	switch {
	case a.Access.Tier == TierTrial && a.Access.TrialEndsAt != nil:
		until = a.Access.TrialEndsAt
	case a.Access.ValidUntil != nil:
		until = a.Access.ValidUntil
	case a.IsRecurring():
		return -1
	default:
		return 0
	}

	remaining := until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours() / 24)
}

// MarkTrialStarted flips the account into its one-time trial window.
// HasUsedTrial is monotonic: callers must check it before calling.
func (a *Account) MarkTrialStarted(now time.Time, days int) {
	ends := now.AddDate(0, 0, days).UTC()
	a.Access.Tier = TierTrial
	a.Access.Status = StatusActive
	a.Access.TrialEndsAt = &ends
	a.HasUsedTrial = true
	a.UpdatedAt = now.UTC()
}
