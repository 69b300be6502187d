package models

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

func TestTableNames(t *testing.T) {
	require.Equal(t, "subscription", Subscription{}.TableName())
	require.Equal(t, "subscription_plan", SubscriptionPlan{}.TableName())
	require.Equal(t, "coupon", Coupon{}.TableName())
	require.Equal(t, "payment", Payment{}.TableName())
	require.Equal(t, "webhook_notification", WebhookNotification{}.TableName())
	require.Equal(t, "subscription_log", SubscriptionLog{}.TableName())
}

func TestSubscription_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &Subscription{
		ID:                     "s1",
		Status:                 types.SubscriptionStatusActive,
		PausedAt:               &now,
		RenewalClaimedFor:      lo.ToPtr(now),
		ExternalSubscriptionID: lo.ToPtr("ext-1"),
		DiscountAmount:         lo.ToPtr(decimal.NewFromInt(10)),
		Metadata:               datatypes.JSONMap{"k": "v"},
	}
	c := orig.Clone()
	*c.ExternalSubscriptionID = "changed"
	*c.RenewalClaimedFor = now.Add(time.Hour)
	c.Metadata["k"] = "changed"
	c.Status = types.SubscriptionStatusCanceled

	require.Equal(t, "ext-1", *orig.ExternalSubscriptionID)
	require.True(t, orig.RenewalClaimedFor.Equal(now))
	require.Equal(t, "v", orig.Metadata["k"])
	require.False(t, orig.Canceled())
	require.True(t, c.Canceled())
	require.Nil(t, (*Subscription)(nil).Clone())
}

func TestCoupon_AppliesTo(t *testing.T) {
	all := &Coupon{AppliesToAllPlans: true}
	require.True(t, all.AppliesTo("any"))

	restricted := &Coupon{PlanIDs: datatypes.JSONSlice[string]{"p1", "p2"}}
	require.True(t, restricted.AppliesTo("p2"))
	require.False(t, restricted.AppliesTo("p3"))

	require.False(t, (*Coupon)(nil).AppliesTo("p1"))
}
