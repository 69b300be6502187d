package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway/gatewaytest"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/types"
)

func (f *fixture) coupon(t *testing.T) *models.Coupon {
	t.Helper()
	c := &models.Coupon{
		ID:                "coupon-1",
		Code:              "TEN",
		DiscountType:      types.CouponDiscountTypePercentage,
		DiscountValue:     decimal.NewFromInt(10),
		MaxDiscountAmount: lo.ToPtr(decimal.NewFromInt(15)),
		StartDate:         f.now.AddDate(0, -1, 0),
		EndDate:           f.now.AddDate(0, 1, 0),
		Status:            types.CouponStatusActive,
		AppliesToAllPlans: true,
	}
	require.NoError(t, f.store.CreateCoupon(context.Background(), c))
	return c
}

func TestCreate_WithCoupon(t *testing.T) {
	f := newFixture(t)
	f.plan(t)
	f.coupon(t)

	res, err := f.svc.Create(context.Background(), CreateRequest{UserID: "user-1", PlanID: "plan-1", CouponCode: "TEN"})
	require.NoError(t, err)

	sub := res.Subscription
	require.Equal(t, types.SubscriptionStatusPending, sub.Status)
	require.Equal(t, f.now, sub.CurrentPeriodStart)
	require.Equal(t, time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC), sub.NextBillingDate)
	require.Equal(t, "coupon-1", *sub.CouponID)
	require.True(t, sub.DiscountAmount.Equal(decimal.NewFromInt(10)))
	require.True(t, sub.OriginalPrice.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, sub.ExternalSubscriptionID, "gateway subscription linked")

	p := res.Payment
	require.Equal(t, types.PaymentStatusPending, p.Status)
	require.True(t, p.Amount.Equal(decimal.NewFromInt(90)))
	require.Equal(t, "coupon-1", *p.CouponID)

	stored, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, *sub.ExternalSubscriptionID, *stored.ExternalSubscriptionID)
}

func TestCreate_StartDateDrivesPeriod(t *testing.T) {
	f := newFixture(t)
	p := f.plan(t)
	p.ID, p.Name, p.Interval, p.IntervalCount = "plan-q", "quarterly", types.PlanIntervalMonthly, 3
	require.NoError(t, f.store.CreatePlan(context.Background(), p))

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	res, err := f.svc.Create(context.Background(), CreateRequest{UserID: "u", PlanID: "plan-q", StartDate: &start})
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), res.Subscription.CurrentPeriodEnd)
	require.Nil(t, res.Subscription.CouponID)
	require.True(t, res.Payment.Amount.Equal(decimal.NewFromInt(100)))
}

func TestCreate_UnknownCoupon(t *testing.T) {
	f := newFixture(t)
	f.plan(t)
	_, err := f.svc.Create(context.Background(), CreateRequest{UserID: "u", PlanID: "plan-1", CouponCode: "NOPE"})
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCreate_ExpiredCouponChargesFullPrice(t *testing.T) {
	f := newFixture(t)
	f.plan(t)
	c := f.coupon(t)
	f.now = c.EndDate.Add(time.Hour)

	res, err := f.svc.Create(context.Background(), CreateRequest{UserID: "u", PlanID: "plan-1", CouponCode: "TEN"})
	require.NoError(t, err)
	require.Nil(t, res.Subscription.CouponID)
	require.True(t, res.Payment.Amount.Equal(decimal.NewFromInt(100)))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateRequest{PlanID: "plan-1"})
	require.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.Create(context.Background(), CreateRequest{UserID: "u", PlanID: "missing"})
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCreate_GatewayDownStillCreatesLocally(t *testing.T) {
	f := newFixture(t)
	f.plan(t)
	f.gw.Err = gatewaytest.Unavailable("create subscription")

	res, err := f.svc.Create(context.Background(), CreateRequest{UserID: "u", PlanID: "plan-1"})
	require.NoError(t, err)
	require.Nil(t, res.Subscription.ExternalSubscriptionID)
	require.Equal(t, types.SubscriptionStatusPending, res.Subscription.Status)
}
