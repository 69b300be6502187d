package store

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

func TestSubscriptionQuery_FiltersAreAllowedColumns(t *testing.T) {
	now := time.Now()
	q := SubscriptionQuery{
		Statuses:      []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusPastDue},
		Paused:        lo.ToPtr(false),
		DueBefore:     &now,
		HasExternalID: true,
		UpdatedBefore: &now,
	}
	filters := q.Filters()
	require.Len(t, filters, 5)
	for _, f := range filters {
		require.NoError(t, f.Validate(SubscriptionColumns))
	}
	require.Empty(t, SubscriptionQuery{}.Filters())
}

func TestSubscriptionQuery_Matches(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := SubscriptionQuery{
		Statuses:  []types.SubscriptionStatus{types.SubscriptionStatusActive},
		Paused:    lo.ToPtr(false),
		DueBefore: &now,
	}

	due := &models.Subscription{Status: types.SubscriptionStatusActive, NextBillingDate: now}
	require.True(t, q.Matches(due))

	paused := &models.Subscription{Status: types.SubscriptionStatusActive, IsPaused: true, NextBillingDate: now}
	require.False(t, q.Matches(paused))

	future := &models.Subscription{Status: types.SubscriptionStatusActive, NextBillingDate: now.Add(time.Hour)}
	require.False(t, q.Matches(future))

	canceled := &models.Subscription{Status: types.SubscriptionStatusCanceled, NextBillingDate: now}
	require.False(t, q.Matches(canceled))
}

func TestPlanPatch_ColumnsAndDiff(t *testing.T) {
	plan := &models.SubscriptionPlan{Name: "pro", Price: decimal.NewFromInt(100), IsActive: true}
	p := PlanPatch{Name: lo.ToPtr("pro"), Price: lo.ToPtr(decimal.NewFromInt(120)), IsActive: lo.ToPtr(true)}

	d := p.Diff(plan)
	require.Nil(t, d.Name)
	require.Nil(t, d.IsActive)
	require.NotNil(t, d.Price)
	require.Equal(t, map[string]any{"price": decimal.NewFromInt(120)}, d.Columns())

	d.ApplyTo(plan)
	require.True(t, plan.Price.Equal(decimal.NewFromInt(120)))
	require.True(t, PlanPatch{}.Empty())
	require.False(t, d.Empty())
}
