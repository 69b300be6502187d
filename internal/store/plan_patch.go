package store

import (
	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/internal/models"
)

// PlanPatch is a partial plan update. Only the fields below can ever be
// written, so a patch built from gateway data cannot touch other columns.
type PlanPatch struct {
	Name      *string
	Price     *decimal.Decimal
	IsActive  *bool
	TrialDays *int
}

func (p PlanPatch) Empty() bool {
	return p.Name == nil && p.Price == nil && p.IsActive == nil && p.TrialDays == nil
}

// Columns returns the column/value map for an UPDATE.
func (p PlanPatch) Columns() map[string]any {
	cols := make(map[string]any, 4)
	if p.Name != nil {
		cols["name"] = *p.Name
	}
	if p.Price != nil {
		cols["price"] = *p.Price
	}
	if p.IsActive != nil {
		cols["is_active"] = *p.IsActive
	}
	if p.TrialDays != nil {
		cols["trial_days"] = *p.TrialDays
	}
	return cols
}

// ApplyTo writes the patch onto plan in place.
func (p PlanPatch) ApplyTo(plan *models.SubscriptionPlan) {
	if plan == nil {
		return
	}
	if p.Name != nil {
		plan.Name = *p.Name
	}
	if p.Price != nil {
		plan.Price = *p.Price
	}
	if p.IsActive != nil {
		plan.IsActive = *p.IsActive
	}
	if p.TrialDays != nil {
		plan.TrialDays = *p.TrialDays
	}
}

// Diff returns the subset of p that differs from plan.
func (p PlanPatch) Diff(plan *models.SubscriptionPlan) PlanPatch {
	var out PlanPatch
	if plan == nil {
		return p
	}
	if p.Name != nil && *p.Name != plan.Name {
		out.Name = p.Name
	}
	if p.Price != nil && !p.Price.Equal(plan.Price) {
		out.Price = p.Price
	}
	if p.IsActive != nil && *p.IsActive != plan.IsActive {
		out.IsActive = p.IsActive
	}
	if p.TrialDays != nil && *p.TrialDays != plan.TrialDays {
		out.TrialDays = p.TrialDays
	}
	return out
}
