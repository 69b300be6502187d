package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/ledger"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/gateway/gatewaytest"
	"github.com/fatflowers/billing/internal/store/memory"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

type publishRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *publishRecorder) Publish(_ context.Context, key string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func (r *publishRecorder) Close() error { return nil }

func (r *publishRecorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	gw     *gatewaytest.Fake
	events *publishRecorder
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	gw := gatewaytest.New()
	rec := &publishRecorder{}
	log := zap.NewNop().Sugar()
	svc := NewService(&config.Config{}, st, gw, ledger.New(st, log), lifecycle.New(rec, log), log)
	f := &fixture{svc: svc, store: st, gw: gw, events: rec, now: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) plan(t *testing.T) *models.SubscriptionPlan {
	t.Helper()
	p := &models.SubscriptionPlan{
		ID:            "plan-1",
		Name:          "pro",
		Price:         decimal.NewFromInt(100),
		Currency:      "USD",
		Interval:      types.PlanIntervalMonthly,
		IntervalCount: 1,
		IsActive:      true,
	}
	require.NoError(t, f.store.CreatePlan(context.Background(), p))
	return p
}

func (f *fixture) subscription(t *testing.T, status types.SubscriptionStatus, mutate ...func(*models.Subscription)) *models.Subscription {
	t.Helper()
	f.plan(t)
	s := &models.Subscription{
		ID:                     "sub-1",
		UserID:                 "user-1",
		PlanID:                 "plan-1",
		Status:                 status,
		StartDate:              f.now,
		CurrentPeriodStart:     f.now,
		CurrentPeriodEnd:       f.now.AddDate(0, 1, 0),
		NextBillingDate:        f.now.AddDate(0, 1, 0),
		ExternalSubscriptionID: lo.ToPtr("ext-sub-1"),
	}
	for _, m := range mutate {
		m(s)
	}
	require.NoError(t, f.store.CreateSubscription(context.Background(), s))
	f.gw.SetSubscription(&gateway.Subscription{ID: "ext-sub-1", Status: gateway.StatusAuthorized, ExternalReference: s.ID})
	return s
}

func TestOnPaymentApproved_ActivatesFromNow(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusPastDue, func(s *models.Subscription) { s.RenewalFailures = 3 })
	f.now = f.now.AddDate(0, 0, 10)

	sub, err := f.svc.OnPaymentApproved(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusActive, sub.Status)
	require.Zero(t, sub.RenewalFailures)
	require.Equal(t, f.now, sub.CurrentPeriodStart)
	require.Equal(t, f.now.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	require.Equal(t, sub.CurrentPeriodEnd, sub.NextBillingDate)
}

func TestOnPaymentApproved_CanceledIsNoop(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusCanceled, func(s *models.Subscription) { s.CanceledAt = &s.StartDate })

	sub, err := f.svc.OnPaymentApproved(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusCanceled, sub.Status)
	require.Equal(t, 1, sub.Version)
}

func TestOnPaymentRejected_FailureCountIsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive)
	ctx := context.Background()

	wantStatus := []types.SubscriptionStatus{
		types.SubscriptionStatusActive,
		types.SubscriptionStatusActive,
		types.SubscriptionStatusPastDue,
		types.SubscriptionStatusPastDue,
		types.SubscriptionStatusPastDue,
	}
	for i, want := range wantStatus {
		sub, err := f.svc.OnPaymentRejectedOrCanceled(ctx, "sub-1")
		require.NoError(t, err)
		require.Equal(t, i+1, sub.RenewalFailures)
		require.Equal(t, want, sub.Status)
		require.NotNil(t, sub.RenewalAttemptDate)
	}

	sub, err := f.svc.OnPaymentApproved(ctx, "sub-1")
	require.NoError(t, err)
	require.Zero(t, sub.RenewalFailures)
	require.Equal(t, types.SubscriptionStatusActive, sub.Status)
}

func TestOnPaymentRejected_ConcurrentFailuresAreAllCounted(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive)

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.OnPaymentRejectedOrCanceled(context.Background(), "sub-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sub, err := f.svc.Get(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, workers, sub.RenewalFailures)
	require.Equal(t, 1+workers, sub.Version)
}

func TestPauseResume_RoundTrip(t *testing.T) {
	f := newFixture(t)
	orig := f.subscription(t, types.SubscriptionStatusActive)
	ctx := context.Background()

	sub, err := f.svc.Pause(ctx, "sub-1")
	require.NoError(t, err)
	require.True(t, sub.IsPaused)
	require.NotNil(t, sub.PausedAt)

	_, err = f.svc.Pause(ctx, "sub-1")
	require.True(t, errors.Is(err, apperr.ErrConflict))

	sub, err = f.svc.Resume(ctx, "sub-1")
	require.NoError(t, err)
	require.False(t, sub.IsPaused)
	require.Nil(t, sub.PausedAt)
	require.Equal(t, orig.Status, sub.Status)
	require.Equal(t, orig.NextBillingDate, sub.NextBillingDate)
	require.Equal(t, orig.RenewalFailures, sub.RenewalFailures)

	_, err = f.svc.Resume(ctx, "sub-1")
	require.True(t, errors.Is(err, apperr.ErrConflict))

	require.Equal(t, 1, f.gw.CallCount("UpdateSubscription:pause"))
	require.Equal(t, 1, f.gw.CallCount("UpdateSubscription:resume"))
}

func TestPause_RequiresActive(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusPending)
	_, err := f.svc.Pause(context.Background(), "sub-1")
	require.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestPause_RemoteFailureKeepsLocalChange(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive)
	f.gw.UpdateErr = gatewaytest.Unavailable("update subscription")

	sub, err := f.svc.Pause(context.Background(), "sub-1")
	require.NoError(t, err)
	require.True(t, sub.IsPaused)
}

func TestCancel_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive)
	ctx := context.Background()

	first, err := f.svc.Cancel(ctx, "sub-1", "user request")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusCanceled, first.Status)
	require.NotNil(t, first.CanceledAt)
	require.Equal(t, "user request", *first.CancelReason)

	f.now = f.now.Add(time.Hour)
	second, err := f.svc.Cancel(ctx, "sub-1", "again")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusCanceled, second.Status)
	require.Equal(t, *first.CanceledAt, *second.CanceledAt)
	require.Equal(t, "user request", *second.CancelReason)
	require.Equal(t, first.Version, second.Version)

	require.Equal(t, 1, f.gw.CallCount("UpdateSubscription:cancel"))
}

func TestCancel_RemoteFailureStillCancelsLocally(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusPastDue)
	f.gw.UpdateErr = gatewaytest.Unavailable("update subscription")

	sub, err := f.svc.Cancel(context.Background(), "sub-1", "")
	require.NoError(t, err)
	require.True(t, sub.Canceled())
	require.NotNil(t, sub.CanceledAt)
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Cancel(context.Background(), "missing", "")
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestApplyExternalState(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive)
	ctx := context.Background()

	sub, changed, err := f.svc.ApplyExternalState(ctx, "sub-1", ExternalState{Status: types.SubscriptionStatusActive, Paused: true})
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, sub.IsPaused)

	_, changed, err = f.svc.ApplyExternalState(ctx, "sub-1", ExternalState{Status: types.SubscriptionStatusActive, Paused: true})
	require.NoError(t, err)
	require.False(t, changed)

	sub, changed, err = f.svc.ApplyExternalState(ctx, "sub-1", ExternalState{Status: types.SubscriptionStatusCanceled, CancelReason: "expired"})
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, sub.Canceled())
	require.False(t, sub.IsPaused)
	require.Equal(t, "expired", *sub.CancelReason)

	_, changed, err = f.svc.ApplyExternalState(ctx, "sub-1", ExternalState{Status: types.SubscriptionStatusActive})
	require.NoError(t, err)
	require.False(t, changed, "canceled is terminal")
}

func TestCanRenew(t *testing.T) {
	require.NoError(t, CanRenew(&models.Subscription{Status: types.SubscriptionStatusActive}))
	require.NoError(t, CanRenew(&models.Subscription{Status: types.SubscriptionStatusPastDue}))
	require.Error(t, CanRenew(&models.Subscription{Status: types.SubscriptionStatusActive, IsPaused: true}))
	require.Error(t, CanRenew(&models.Subscription{Status: types.SubscriptionStatusPending}))
	require.Error(t, CanRenew(&models.Subscription{Status: types.SubscriptionStatusCanceled}))
}

func TestTransitions_WriteLogAndPublish(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive)

	_, err := f.svc.Cancel(context.Background(), "sub-1", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.store.SubscriptionLogs("sub-1")) == 1
	}, time.Second, 10*time.Millisecond)
	entry := f.store.SubscriptionLogs("sub-1")[0]
	require.Equal(t, types.SubscriptionChangeReasonCancel, entry.Reason)
	require.Equal(t, types.SubscriptionStatusActive, entry.Before.Data().Status)
	require.Equal(t, types.SubscriptionStatusCanceled, entry.After.Data().Status)

	require.Equal(t, []string{"subscription.canceled"}, f.events.Keys())
}

func TestApplyExternalState_ReactivationResetsFailures(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusPastDue, func(s *models.Subscription) { s.RenewalFailures = 3 })
	ctx := context.Background()

	sub, changed, err := f.svc.ApplyExternalState(ctx, "sub-1", ExternalState{Status: types.SubscriptionStatusActive})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, types.SubscriptionStatusActive, sub.Status)
	require.Zero(t, sub.RenewalFailures)

	// one transient failure after reactivation does not suspend access
	sub, err = f.svc.OnPaymentRejectedOrCanceled(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusActive, sub.Status)
	require.Equal(t, 1, sub.RenewalFailures)
}

func TestClaimRenewal(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive, func(s *models.Subscription) {
		s.NextBillingDate = f.now.Add(-time.Hour)
	})
	ctx := context.Background()
	due := f.now.Add(-time.Hour)

	sub, err := f.svc.ClaimRenewal(ctx, "sub-1")
	require.NoError(t, err)
	require.True(t, due.Equal(*sub.RenewalClaimedFor))

	_, err = f.svc.ClaimRenewal(ctx, "sub-1")
	require.True(t, errors.Is(err, apperr.ErrConflict))
	require.Contains(t, err.Error(), "in progress")

	// a claim whose holder never came back expires with the lease
	f.now = f.now.Add(defaultRenewalLease + time.Second)
	_, err = f.svc.ClaimRenewal(ctx, "sub-1")
	require.NoError(t, err)

	sub, err = f.svc.ReleaseRenewal(ctx, "sub-1", due.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, sub.RenewalClaimedFor, "a different period is not released")

	sub, err = f.svc.ReleaseRenewal(ctx, "sub-1", due)
	require.NoError(t, err)
	require.Nil(t, sub.RenewalClaimedFor)

	require.Empty(t, f.events.Keys(), "claims are not lifecycle events")
}

func TestClaimRenewal_Refusals(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, types.SubscriptionStatusActive)

	_, err := f.svc.ClaimRenewal(context.Background(), "sub-1")
	require.True(t, errors.Is(err, apperr.ErrConflict))
	require.Contains(t, err.Error(), "not due")

	_, err = f.svc.ClaimRenewal(context.Background(), "missing")
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}
