// Package scheduler runs the periodic renewal, drift reconcile and
// notification retry jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/reconcile"
	"github.com/fatflowers/billing/internal/app/service/webhook"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
)

type Renewer interface {
	RenewDue(ctx context.Context, now time.Time, limit int) (*billing.BatchSummary, error)
}

type DriftReconciler interface {
	ReconcileDrift(ctx context.Context, olderThan time.Time, limit int) (*reconcile.DriftSummary, error)
	DriftAge() time.Duration
}

type NotificationRetrier interface {
	RetryPending(ctx context.Context) (*webhook.RetrySummary, error)
}

type Scheduler struct {
	cron    *cron.Cron
	renewer Renewer
	drift   DriftReconciler
	retrier NotificationRetrier
	log     *zap.SugaredLogger
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

func New(
	cfg *config.Config,
	renewer Renewer,
	drift DriftReconciler,
	retrier NotificationRetrier,
	log *zap.SugaredLogger,
) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		renewer: renewer,
		drift:   drift,
		retrier: retrier,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	cl := cronLogger{log: log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	sc := cfg.Scheduler
	if sc.RenewSpec != "" {
		if _, err := s.cron.AddFunc(sc.RenewSpec, s.RunRenewDue); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid scheduler.renew_spec %q: %w", sc.RenewSpec, err)
		}
	}
	if sc.ReconcileSpec != "" {
		if _, err := s.cron.AddFunc(sc.ReconcileSpec, s.RunReconcileDrift); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid scheduler.reconcile_spec %q: %w", sc.ReconcileSpec, err)
		}
	}
	if sc.RetrySpec != "" {
		if _, err := s.cron.AddFunc(sc.RetrySpec, s.RunRetryNotifications); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid scheduler.retry_spec %q: %w", sc.RetrySpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) jobContext(job string) context.Context {
	traceID := tool.GenerateUUIDV7()
	ctx := logctx.WithTraceID(s.ctx, traceID)
	return logctx.WithLogger(ctx, s.log.With("job", job, "trace_id", traceID))
}

func (s *Scheduler) RunRenewDue() {
	ctx := s.jobContext("renew_due")
	if _, err := s.renewer.RenewDue(ctx, s.now(), 0); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("renew due job failed", "error", err)
	}
}

func (s *Scheduler) RunReconcileDrift() {
	ctx := s.jobContext("reconcile_drift")
	if _, err := s.drift.ReconcileDrift(ctx, s.now().Add(-s.drift.DriftAge()), 0); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("drift reconcile job failed", "error", err)
	}
}

func (s *Scheduler) RunRetryNotifications() {
	ctx := s.jobContext("retry_notifications")
	if _, err := s.retrier.RetryPending(ctx); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("notification retry job failed", "error", err)
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

func register(lc fx.Lifecycle, cfg *config.Config, s *Scheduler, log *zap.SugaredLogger) {
	if !cfg.Scheduler.Enabled {
		log.Infow("scheduler disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting scheduler", "renew_spec", cfg.Scheduler.RenewSpec,
				"reconcile_spec", cfg.Scheduler.ReconcileSpec, "retry_spec", cfg.Scheduler.RetrySpec, "jobs", s.Entries())
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping scheduler")
			return s.Stop(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(
		func(e *billing.Engine) Renewer { return e },
		func(r *reconcile.Service) DriftReconciler { return r },
		func(g *webhook.Gate) NotificationRetrier { return g },
		New,
	),
	fx.Invoke(register),
)
