// Package coupon computes discounts.
package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// Discount is the outcome of applying a coupon to a base price.
type Discount struct {
	Applied bool
	Amount  decimal.Decimal
	Final   decimal.Decimal
	// Reason explains why no discount was applied.
	Reason string
}

// Valid reports whether c may be applied to planID at now.
func Valid(c *models.Coupon, planID string, now time.Time) (bool, string) {
	switch {
	case c == nil:
		return false, "no coupon"
	case c.Status != types.CouponStatusActive:
		return false, "coupon inactive"
	case now.Before(c.StartDate):
		return false, "coupon not yet valid"
	case now.After(c.EndDate):
		return false, "coupon expired"
	case !c.AppliesTo(planID):
		return false, "coupon not applicable to plan"
	}
	return true, ""
}

// Apply computes the discounted price. An invalid coupon yields a zero
// discount. The discount is clamped to [0, MaxDiscountAmount] and never
// exceeds base, so Final is never negative.
func Apply(base decimal.Decimal, c *models.Coupon, planID string, now time.Time) Discount {
	if ok, reason := Valid(c, planID, now); !ok {
		return Discount{Amount: decimal.Zero, Final: base, Reason: reason}
	}

	var amount decimal.Decimal
	switch c.DiscountType {
	case types.CouponDiscountTypePercentage:
		amount = base.Mul(c.DiscountValue).Div(hundred)
	case types.CouponDiscountTypeFixed:
		amount = c.DiscountValue
	default:
		return Discount{Amount: decimal.Zero, Final: base, Reason: "unknown discount type"}
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if c.MaxDiscountAmount != nil && amount.GreaterThan(*c.MaxDiscountAmount) {
		amount = *c.MaxDiscountAmount
	}
	if amount.GreaterThan(base) {
		amount = base
	}
	amount = amount.Round(2)

	return Discount{Applied: true, Amount: amount, Final: base.Sub(amount)}
}
