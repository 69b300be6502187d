package coupon

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func activeCoupon(dt types.CouponDiscountType, value int64) *models.Coupon {
	return &models.Coupon{
		ID:                "c1",
		Code:              "SAVE",
		DiscountType:      dt,
		DiscountValue:     decimal.NewFromInt(value),
		StartDate:         now.AddDate(0, -1, 0),
		EndDate:           now.AddDate(0, 1, 0),
		Status:            types.CouponStatusActive,
		AppliesToAllPlans: true,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApply_PercentageClampedByMax(t *testing.T) {
	c := activeCoupon(types.CouponDiscountTypePercentage, 150)
	c.MaxDiscountAmount = lo.ToPtr(dec("40"))

	d := Apply(dec("100"), c, "p1", now)
	require.True(t, d.Applied)
	require.True(t, d.Amount.Equal(dec("40")), d.Amount.String())
	require.True(t, d.Final.Equal(dec("60")), d.Final.String())
}

func TestApply_NeverExceedsBase(t *testing.T) {
	d := Apply(dec("30"), activeCoupon(types.CouponDiscountTypeFixed, 50), "p1", now)
	require.True(t, d.Amount.Equal(dec("30")))
	require.True(t, d.Final.IsZero())

	d = Apply(dec("100"), activeCoupon(types.CouponDiscountTypePercentage, 150), "p1", now)
	require.True(t, d.Amount.Equal(dec("100")))
	require.True(t, d.Final.IsZero())
}

func TestApply_NegativeValueIsZero(t *testing.T) {
	d := Apply(dec("100"), activeCoupon(types.CouponDiscountTypeFixed, -5), "p1", now)
	require.True(t, d.Applied)
	require.True(t, d.Amount.IsZero())
	require.True(t, d.Final.Equal(dec("100")))
}

func TestApply_TenPercentCappedAtFifteen(t *testing.T) {
	c := activeCoupon(types.CouponDiscountTypePercentage, 10)
	c.MaxDiscountAmount = lo.ToPtr(dec("15"))
	d := Apply(dec("100"), c, "p1", now)
	require.True(t, d.Amount.Equal(dec("10")))
	require.True(t, d.Final.Equal(dec("90")))
}

func TestApply_RoundsToCents(t *testing.T) {
	d := Apply(dec("9.99"), activeCoupon(types.CouponDiscountTypePercentage, 15), "p1", now)
	require.True(t, d.Amount.Equal(dec("1.50")), d.Amount.String())
	require.True(t, d.Final.Equal(dec("8.49")), d.Final.String())
}

func TestApply_InvalidCouponNoDiscount(t *testing.T) {
	cases := map[string]func(c *models.Coupon){
		"inactive":    func(c *models.Coupon) { c.Status = types.CouponStatusInactive },
		"expired":     func(c *models.Coupon) { c.EndDate = now.Add(-time.Hour) },
		"not started": func(c *models.Coupon) { c.StartDate = now.Add(time.Hour) },
		"other plan": func(c *models.Coupon) {
			c.AppliesToAllPlans = false
			c.PlanIDs = datatypes.JSONSlice[string]{"p2"}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := activeCoupon(types.CouponDiscountTypeFixed, 10)
			mutate(c)
			d := Apply(dec("100"), c, "p1", now)
			require.False(t, d.Applied)
			require.True(t, d.Amount.IsZero())
			require.True(t, d.Final.Equal(dec("100")))
			require.NotEmpty(t, d.Reason)
		})
	}

	d := Apply(dec("100"), nil, "p1", now)
	require.False(t, d.Applied)
	require.True(t, d.Final.Equal(dec("100")))
}

func TestApply_RestrictedPlanMatches(t *testing.T) {
	c := activeCoupon(types.CouponDiscountTypeFixed, 10)
	c.AppliesToAllPlans = false
	c.PlanIDs = datatypes.JSONSlice[string]{"p1"}
	d := Apply(dec("100"), c, "p1", now)
	require.True(t, d.Applied)
	require.True(t, d.Final.Equal(dec("90")))
}
