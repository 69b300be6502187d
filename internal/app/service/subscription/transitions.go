package subscription

import (
	"time"

	"github.com/fatflowers/billing/internal/app/service/period"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/types"
)

// The functions below are pure: they receive a private copy of the current
// row and return the next row, or nil when the transition is a no-op.

func approved(sub *models.Subscription, plan *models.SubscriptionPlan, now time.Time) (*models.Subscription, error) {
	switch sub.Status {
	case types.SubscriptionStatusPending, types.SubscriptionStatusPastDue, types.SubscriptionStatusActive:
	default:
		return nil, nil
	}
	end, err := period.End(now, plan.Interval, plan.IntervalCount)
	if err != nil {
		return nil, err
	}
	sub.Status = types.SubscriptionStatusActive
	sub.RenewalFailures = 0
	sub.RenewalClaimedFor = nil
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = end
	sub.NextBillingDate = end
	return sub, nil
}

func failed(sub *models.Subscription, maxFailures int, now time.Time) *models.Subscription {
	if sub.Canceled() {
		return nil
	}
	sub.RenewalFailures++
	sub.RenewalAttemptDate = &now
	sub.RenewalClaimedFor = nil
	if sub.RenewalFailures >= maxFailures {
		sub.Status = types.SubscriptionStatusPastDue
	}
	return sub
}

func paused(sub *models.Subscription, now time.Time) (*models.Subscription, error) {
	if sub.Status != types.SubscriptionStatusActive || sub.IsPaused {
		return nil, apperr.Conflict("subscription %s cannot be paused: status=%s paused=%t", sub.ID, sub.Status, sub.IsPaused)
	}
	sub.IsPaused = true
	sub.PausedAt = &now
	return sub, nil
}

func resumed(sub *models.Subscription) (*models.Subscription, error) {
	if !sub.IsPaused || sub.Canceled() {
		return nil, apperr.Conflict("subscription %s is not paused", sub.ID)
	}
	sub.IsPaused = false
	sub.PausedAt = nil
	return sub, nil
}

func canceled(sub *models.Subscription, reason string, now time.Time) *models.Subscription {
	if sub.Canceled() {
		return nil
	}
	sub.Status = types.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	if reason != "" {
		sub.CancelReason = &reason
	}
	sub.IsPaused = false
	sub.PausedAt = nil
	return sub
}

// ExternalState is the gateway's view of a subscription, already mapped to local terms.
type ExternalState struct {
	Status          types.SubscriptionStatus
	Paused          bool
	CancelReason    string
	NextBillingDate *time.Time
}

func external(sub *models.Subscription, st ExternalState, now time.Time) *models.Subscription {
	if sub.Canceled() {
		return nil
	}
	if st.Status == types.SubscriptionStatusCanceled {
		return canceled(sub, st.CancelReason, now)
	}

	changed := false
	if sub.Status != st.Status {
		if st.Status == types.SubscriptionStatusActive {
			// the gateway collected what was owed
			sub.RenewalFailures = 0
		}
		sub.Status = st.Status
		changed = true
	}
	wantPaused := st.Paused && st.Status == types.SubscriptionStatusActive
	if sub.IsPaused != wantPaused {
		sub.IsPaused = wantPaused
		if wantPaused {
			sub.PausedAt = &now
		} else {
			sub.PausedAt = nil
		}
		changed = true
	}
	if st.NextBillingDate != nil && !st.NextBillingDate.Equal(sub.NextBillingDate) {
		sub.NextBillingDate = *st.NextBillingDate
		changed = true
	}
	if !changed {
		return nil
	}
	return sub
}

func linked(sub *models.Subscription, externalID string) *models.Subscription {
	if sub.ExternalSubscriptionID != nil && *sub.ExternalSubscriptionID == externalID {
		return nil
	}
	sub.ExternalSubscriptionID = &externalID
	return sub
}

// claimed reserves the current billing period for one renewal. A claim on
// the same period younger than lease means another renewal is charging it.
func claimed(sub *models.Subscription, now time.Time, lease time.Duration) (*models.Subscription, error) {
	if err := CanRenew(sub); err != nil {
		return nil, err
	}
	if sub.NextBillingDate.After(now) {
		return nil, apperr.Conflict("subscription %s is not due until %s", sub.ID, sub.NextBillingDate.Format(time.RFC3339))
	}
	if sub.RenewalClaimedFor != nil && sub.RenewalClaimedFor.Equal(sub.NextBillingDate) &&
		sub.RenewalAttemptDate != nil && now.Sub(*sub.RenewalAttemptDate) < lease {
		return nil, apperr.Conflict("subscription %s renewal already in progress", sub.ID)
	}
	due := sub.NextBillingDate
	sub.RenewalClaimedFor = &due
	sub.RenewalAttemptDate = &now
	return sub, nil
}

func released(sub *models.Subscription, due time.Time) *models.Subscription {
	if sub.RenewalClaimedFor == nil || !sub.RenewalClaimedFor.Equal(due) {
		return nil
	}
	sub.RenewalClaimedFor = nil
	return sub
}

// CanRenew reports why sub may not be charged for a new period, or nil.
func CanRenew(sub *models.Subscription) error {
	if sub == nil {
		return apperr.Validation("subscription is required")
	}
	if !sub.Status.Renewable() {
		return apperr.Conflict("subscription %s in status %s cannot be renewed", sub.ID, sub.Status)
	}
	if sub.IsPaused {
		return apperr.Conflict("subscription %s is paused", sub.ID)
	}
	return nil
}
