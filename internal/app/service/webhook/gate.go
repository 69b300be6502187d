// Package webhook admits inbound gateway notifications: it verifies the
// signature, normalizes the body and serializes processing per event.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/eventrouter"
	"github.com/fatflowers/billing/internal/app/service/integration"
	notificationlog "github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/redislock"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	defaultLockTTL     = 300 * time.Second
	defaultRetryWindow = 72 * time.Hour
	defaultRetryBatch  = 100
)

type Decision string

const (
	DecisionAccept          Decision = "accept"
	DecisionRejectSignature Decision = "reject_signature"
	DecisionRejectMalformed Decision = "reject_malformed"
)

type LockStore interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, name, token string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, env *eventrouter.Envelope) (*eventrouter.Outcome, error)
}

// Backlog lists recorded notifications that need another attempt.
type Backlog interface {
	Retryable(ctx context.Context, staleBefore, since time.Time, limit int) ([]*models.WebhookNotification, error)
}

// Result is the acknowledgement returned to the gateway.
type Result struct {
	Accepted  bool                 `json:"accepted"`
	Duplicate bool                 `json:"duplicate"`
	Outcome   *eventrouter.Outcome `json:"outcome,omitempty"`
}

type Gate struct {
	registry    *integration.Registry
	locks       LockStore
	router      Dispatcher
	backlog     Backlog
	log         *zap.SugaredLogger
	lockTTL     time.Duration
	retryWindow time.Duration
	retryBatch  int
	now         func() time.Time
}

func NewGate(
	cfg *config.Config,
	registry *integration.Registry,
	locks LockStore,
	router Dispatcher,
	backlog Backlog,
	log *zap.SugaredLogger,
) *Gate {
	g := &Gate{
		registry:    registry,
		locks:       locks,
		router:      router,
		backlog:     backlog,
		log:         log,
		lockTTL:     defaultLockTTL,
		retryWindow: defaultRetryWindow,
		retryBatch:  defaultRetryBatch,
		now:         time.Now,
	}
	if cfg != nil {
		if cfg.Webhook.LockTTL > 0 {
			g.lockTTL = cfg.Webhook.LockTTL
		}
		if cfg.Webhook.RetryWindow > 0 {
			g.retryWindow = cfg.Webhook.RetryWindow
		}
		if cfg.Webhook.RetryBatch > 0 {
			g.retryBatch = cfg.Webhook.RetryBatch
		}
	}
	return g
}

// Admit verifies and parses a notification. Unknown integrations and bodies
// that cannot be parsed are RejectMalformed; signature failures are
// RejectSignature.
func (g *Gate) Admit(ctx context.Context, it types.IntegrationType, body []byte, signature string) (*eventrouter.Envelope, Decision) {
	log := logctx.FromCtx(ctx, g.log).With("integration", it)

	entry, ok := g.registry.Get(it)
	if !ok {
		log.Warnw("notification for unknown integration")
		return nil, DecisionRejectMalformed
	}
	switch {
	case entry.Secret != "":
		if !VerifySignature(body, signature, entry.Secret) {
			log.Warnw("notification signature invalid", "signed", signature != "")
			return nil, DecisionRejectSignature
		}
	case !g.registry.AllowUnsigned():
		log.Errorw("notification rejected, integration has no secret")
		return nil, DecisionRejectSignature
	}

	env, err := parseEnvelope(it, body)
	if err != nil {
		log.Warnw("malformed notification body", "error", err)
		return nil, DecisionRejectMalformed
	}
	return env, DecisionAccept
}

func parseEnvelope(it types.IntegrationType, body []byte) (*eventrouter.Envelope, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	env := &eventrouter.Envelope{
		Integration: it,
		RawType:     p.rawType(),
		EventID:     p.eventID(),
		ExternalID:  p.resourceID(),
		Action:      p.Action,
		LiveMode:    p.LiveMode,
		RawPayload:  body,
		DateCreated: p.DateCreated,
	}
	env.Type = eventrouter.NormalizeEventType(env.RawType)
	if env.RawType == "" || env.EventID == "" {
		return nil, fmt.Errorf("notification without type or id: type=%q id=%q", env.RawType, env.EventID)
	}
	return env, nil
}

// AcquireProcessingLock takes the per-event lock and returns its token. When
// the lock store fails the lock is treated as held with an empty token and
// processing goes ahead.
func (g *Gate) AcquireProcessingLock(ctx context.Context, eventID string, ttl time.Duration) (string, bool) {
	token, ok, err := g.locks.Acquire(ctx, eventID, ttl)
	if err != nil {
		metrics.IncLockFailOpen()
		logctx.FromCtx(ctx, g.log).Warnw("processing lock unavailable, continuing without it", "event_id", eventID, "error", err)
		return "", true
	}
	return token, ok
}

// ReleaseProcessingLock drops the lock if it is still held under token.
func (g *Gate) ReleaseProcessingLock(ctx context.Context, eventID, token string) {
	if token == "" {
		return
	}
	if err := g.locks.Release(context.WithoutCancel(ctx), eventID, token); err != nil {
		logctx.FromCtx(ctx, g.log).Warnw("failed to release processing lock", "event_id", eventID, "error", err)
	}
}

// Handle admits a notification and dispatches it under the event lock.
// Processing errors are logged and acknowledged; only a signature failure
// is reported back as a rejection.
func (g *Gate) Handle(ctx context.Context, it types.IntegrationType, body []byte, signature string) (*Result, Decision) {
	log := logctx.FromCtx(ctx, g.log)

	env, decision := g.Admit(ctx, it, body, signature)
	switch decision {
	case DecisionRejectSignature:
		metrics.ObserveWebhook(string(it), "rejected_signature")
		return &Result{}, decision
	case DecisionRejectMalformed:
		metrics.ObserveWebhook(string(it), "malformed")
		return &Result{}, decision
	}

	token, ok := g.AcquireProcessingLock(ctx, env.EventID, g.lockTTL)
	if !ok {
		metrics.ObserveWebhook(string(env.Type), "locked")
		log.Infow("notification already being processed", "event_id", env.EventID)
		return &Result{Accepted: true, Duplicate: true}, decision
	}
	defer g.ReleaseProcessingLock(ctx, env.EventID, token)

	out, err := g.router.Dispatch(ctx, env)
	if err != nil {
		log.Errorw("notification processing failed, acknowledged", "event_id", env.EventID, "type", env.Type, "error", err)
	}
	res := &Result{Accepted: true, Outcome: out}
	if out != nil {
		res.Duplicate = out.Duplicate
	}
	return res, decision
}

// RetrySummary counts one pass over the notification backlog.
type RetrySummary struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RetryPending dispatches again the notifications that were acknowledged but
// not processed: rows that ended in error and rows left pending longer than
// the lock TTL. The signature was verified when the row was recorded.
func (g *Gate) RetryPending(ctx context.Context) (*RetrySummary, error) {
	log := logctx.FromCtx(ctx, g.log)
	now := g.now()
	rows, err := g.backlog.Retryable(ctx, now.Add(-g.lockTTL), now.Add(-g.retryWindow), g.retryBatch)
	if err != nil {
		return nil, err
	}

	summary := &RetrySummary{Scanned: len(rows)}
	for _, n := range rows {
		env, err := parseEnvelope(types.IntegrationType(n.Source), n.RawData)
		if err != nil {
			summary.Skipped++
			log.Warnw("stored notification cannot be parsed", "source", n.Source, "event_id", n.EventID, "error", err)
			continue
		}
		token, ok := g.AcquireProcessingLock(ctx, env.EventID, g.lockTTL)
		if !ok {
			// a redelivery is processing it right now
			summary.Skipped++
			continue
		}
		_, err = g.router.Dispatch(ctx, env)
		g.ReleaseProcessingLock(ctx, env.EventID, token)
		if err != nil {
			summary.Failed++
			log.Warnw("notification retry failed", "event_id", env.EventID, "type", env.Type, "error", err)
			continue
		}
		summary.Processed++
	}
	log.Infow("notification retry completed", "scanned", summary.Scanned, "processed", summary.Processed,
		"failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

var Module = fx.Options(
	fx.Provide(
		func(l *redislock.Locker) LockStore { return l },
		func(r *eventrouter.Router) Dispatcher { return r },
		func(s *notificationlog.Service) Backlog { return s },
		NewGate,
	),
)
