package billing

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan describes a purchasable plan. StripePriceID must match the price
// configured on the Stripe side; Mercado Pago checkouts are created from
// the Price directly and need no provider-side catalog entry.
type Plan struct {
	ID            string           `yaml:"id"`
	Tier          PlanTier         `yaml:"tier"`
	Name          string           `yaml:"name"`
	Description   string           `yaml:"description"`
	Price         Money            `yaml:"price"`
	Interval      BillingInterval  `yaml:"interval"`
	TrialDays     int              `yaml:"trial_days"`
	Limits        map[string]int64 `yaml:"limits"`
	StripePriceID string           `yaml:"stripe_price_id"`
	Public        bool             `yaml:"public"`
}

// IsTrial reports whether checking out this plan starts the one-time trial
// instead of a paid purchase.
func (p Plan) IsTrial() bool {
	return p.Tier == TierTrial
}

// Catalog is an immutable, validated set of plans keyed by plan ID.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog validates the given plans and returns a catalog.
func NewCatalog(plans map[string]Plan) (*Catalog, error) {
	if err := validatePlans(plans); err != nil {
		return nil, err
	}
	return &Catalog{plans: plans}, nil
}

// LoadCatalog reads a YAML plan list from r.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		if _, exists := plans[p.ID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate plan ID %q", p.ID))
		}
		plans[p.ID] = p
	}
	return NewCatalog(plans)
}

// LoadCatalogFile reads a YAML plan list from the given path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Plan returns the plan for the given ID.
// Returns ErrPlanNotFound for unknown IDs.
func (c *Catalog) Plan(planID string) (Plan, error) {
	p, exists := c.plans[planID]
	if !exists {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// PlanByStripePrice resolves a plan from a Stripe price id carried by a
// webhook. Returns ErrPlanNotFound when no plan maps to the price.
func (c *Catalog) PlanByStripePrice(priceID string) (Plan, error) {
	for _, p := range c.plans {
		if p.StripePriceID != "" && p.StripePriceID == priceID {
			return p, nil
		}
	}
	return Plan{}, ErrPlanNotFound
}

// PlanByTier returns the plan granting the given tier, preferring the
// lowest plan ID when several plans share it. Returns ErrPlanNotFound
// when no plan grants the tier.
func (c *Catalog) PlanByTier(tier PlanTier) (Plan, error) {
	var found Plan
	var ok bool
	for _, p := range c.plans {
		if p.Tier != tier {
			continue
		}
		if !ok || p.ID < found.ID {
			found, ok = p, true
		}
	}
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return found, nil
}

// Public returns the plans available for self-service checkout.
func (c *Catalog) Public() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if p.Public {
			out = append(out, p)
		}
	}
	return out
}

func validatePlans(plans map[string]Plan) error {
	if len(plans) == 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("no plans configured"))
	}
	for planID, plan := range plans {
		if plan.ID != planID {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, plan.ID))
		}
		switch plan.Tier {
		case TierFree, TierTrial, TierPro, TierAgency:
		default:
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has unknown tier %q", planID, plan.Tier))
		}
		if plan.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", planID, plan.TrialDays))
		}
		if plan.IsTrial() && plan.TrialDays == 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("trial plan %s must set trial_days", planID))
		}
		if plan.Price.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative price", planID))
		}
	}
	return nil
}
