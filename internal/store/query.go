package store

import (
	"slices"
	"time"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

// SubscriptionColumns is the set of columns a subscription filter may reference.
var SubscriptionColumns = map[string]struct{}{
	"status":                   {},
	"is_paused":                {},
	"next_billing_date":        {},
	"external_subscription_id": {},
	"updated_at":               {},
	"user_id":                  {},
	"plan_id":                  {},
}

// SubscriptionQuery selects subscriptions for the batch jobs.
// Zero fields do not constrain the result.
type SubscriptionQuery struct {
	Statuses      []types.SubscriptionStatus
	Paused        *bool
	DueBefore     *time.Time
	HasExternalID bool
	UpdatedBefore *time.Time
	Limit         int
}

// Filters renders the query in the shared filter language.
func (q SubscriptionQuery) Filters() types.FiltersAnd {
	var out types.FiltersAnd
	if len(q.Statuses) > 0 {
		values := make([]any, 0, len(q.Statuses))
		for _, s := range q.Statuses {
			values = append(values, string(s))
		}
		out = append(out, &types.CommonFilter{Field: "status", Operator: types.CommonFilterOperatorIn, Values: values})
	}
	if q.Paused != nil {
		out = append(out, &types.CommonFilter{Field: "is_paused", Operator: types.CommonFilterOperatorEq, Values: []any{*q.Paused}})
	}
	if q.DueBefore != nil {
		out = append(out, &types.CommonFilter{Field: "next_billing_date", Operator: types.CommonFilterOperatorLte, Values: []any{*q.DueBefore}})
	}
	if q.HasExternalID {
		out = append(out, &types.CommonFilter{Field: "external_subscription_id", Operator: types.CommonFilterOperatorNotNil})
	}
	if q.UpdatedBefore != nil {
		out = append(out, &types.CommonFilter{Field: "updated_at", Operator: types.CommonFilterOperatorLt, Values: []any{*q.UpdatedBefore}})
	}
	return out
}

// Matches evaluates the query against an in-memory row.
func (q SubscriptionQuery) Matches(s *models.Subscription) bool {
	if s == nil {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, s.Status) {
		return false
	}
	if q.Paused != nil && s.IsPaused != *q.Paused {
		return false
	}
	if q.DueBefore != nil && s.NextBillingDate.After(*q.DueBefore) {
		return false
	}
	if q.HasExternalID && s.ExternalSubscriptionID == nil {
		return false
	}
	if q.UpdatedBefore != nil && !s.UpdatedAt.Before(*q.UpdatedBefore) {
		return false
	}
	return true
}
