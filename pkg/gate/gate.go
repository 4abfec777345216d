package gate

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// DenyReason is a stable machine-readable code explaining a denial.
type DenyReason string

const (
	ReasonNone                 DenyReason = ""
	ReasonTrialExpired         DenyReason = "TRIAL_EXPIRED"
	ReasonSubscriptionInactive DenyReason = "SUBSCRIPTION_INACTIVE"
	ReasonSubscriptionRequired DenyReason = "SUBSCRIPTION_REQUIRED"
)

// Decision is the outcome of an access evaluation.
type Decision struct {
	Allow  bool
	Reason DenyReason
}

var allow = Decision{Allow: true}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Evaluate decides access for the given subscription state. The checks
// run in fixed order and the last rule is a default deny, so the result
// is defined for every input.
func Evaluate(access billing.Access, role billing.Role, now time.Time) Decision {
	// Admins bypass billing entirely.
	if role == billing.RoleAdmin {
		return allow
	}

	if access.Status == billing.StatusActive && access.Tier != billing.TierTrial {
		return allow
	}

	if access.Tier == billing.TierTrial {
		if access.TrialEndsAt != nil && now.After(*access.TrialEndsAt) {
			return deny(ReasonTrialExpired)
		}
		if access.Status == billing.StatusActive {
			return allow
		}
	}

	if access.Status == billing.StatusPastDue || access.Status == billing.StatusCanceled {
		return deny(ReasonSubscriptionInactive)
	}

	if access.Tier == billing.TierFree && access.Status == billing.StatusActive {
		return allow
	}

	return deny(ReasonSubscriptionRequired)
}
