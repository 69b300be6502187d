package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/reconcile"
	"github.com/fatflowers/billing/internal/app/service/webhook"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
)

type fakeJobs struct {
	mu        sync.Mutex
	renewAt   []time.Time
	driftFrom []time.Time
	traceIDs  []string
	retries   int
}

func (f *fakeJobs) RenewDue(ctx context.Context, now time.Time, _ int) (*billing.BatchSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewAt = append(f.renewAt, now)
	f.traceIDs = append(f.traceIDs, logctx.TraceID(ctx))
	return &billing.BatchSummary{}, nil
}

func (f *fakeJobs) ReconcileDrift(_ context.Context, olderThan time.Time, _ int) (*reconcile.DriftSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driftFrom = append(f.driftFrom, olderThan)
	return &reconcile.DriftSummary{}, nil
}

func (f *fakeJobs) DriftAge() time.Duration { return time.Hour }

func (f *fakeJobs) RetryPending(context.Context) (*webhook.RetrySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	return &webhook.RetrySummary{}, nil
}

func schedulerConfig() *config.Config {
	return &config.Config{Scheduler: config.SchedulerConfig{
		Enabled:       true,
		RenewSpec:     "@every 15m",
		ReconcileSpec: "@hourly",
		RetrySpec:     "@every 5m",
	}}
}

func TestNew_RegistersJobs(t *testing.T) {
	jobs := &fakeJobs{}
	s, err := New(schedulerConfig(), jobs, jobs, jobs, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Equal(t, 3, s.Entries())
}

func TestNew_InvalidSpec(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Scheduler.RenewSpec = "every now and then"
	_, err := New(cfg, &fakeJobs{}, &fakeJobs{}, &fakeJobs{}, zap.NewNop().Sugar())
	require.Error(t, err)
}

func TestJobs(t *testing.T) {
	jobs := &fakeJobs{}
	s, err := New(schedulerConfig(), jobs, jobs, jobs, zap.NewNop().Sugar())
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RunRenewDue()
	s.RunReconcileDrift()
	s.RunRetryNotifications()

	require.Equal(t, []time.Time{now}, jobs.renewAt)
	require.NotEmpty(t, jobs.traceIDs[0])
	require.Equal(t, []time.Time{now.Add(-time.Hour)}, jobs.driftFrom)
	require.Equal(t, 1, jobs.retries)
}

func TestNew_InvalidRetrySpec(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Scheduler.RetrySpec = "whenever"
	_, err := New(cfg, &fakeJobs{}, &fakeJobs{}, &fakeJobs{}, zap.NewNop().Sugar())
	require.ErrorContains(t, err, "retry_spec")
}

func TestRegister_Lifecycle(t *testing.T) {
	jobs := &fakeJobs{}
	app := fxtest.New(t,
		fx.Supply(schedulerConfig(), zap.NewNop().Sugar()),
		fx.Provide(
			func() Renewer { return jobs },
			func() DriftReconciler { return jobs },
			func() NotificationRetrier { return jobs },
			New,
		),
		fx.Invoke(register),
	)
	app.RequireStart()
	app.RequireStop()
}
