package eventrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/ledger"
	notificationlog "github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/reconcile"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
)

type processor func(ctx context.Context, env *Envelope, out *Outcome) error

type Router struct {
	notifications *notificationlog.Service
	billing       *billing.Engine
	reconcile     *reconcile.Service
	ledger        *ledger.Service
	store         store.Store
	gateway       gateway.Client
	log           *zap.SugaredLogger
	processors    map[EventType]processor
}

func New(
	notifications *notificationlog.Service,
	engine *billing.Engine,
	rec *reconcile.Service,
	ldg *ledger.Service,
	st store.Store,
	gw gateway.Client,
	log *zap.SugaredLogger,
) *Router {
	r := &Router{
		notifications: notifications,
		billing:       engine,
		reconcile:     rec,
		ledger:        ldg,
		store:         st,
		gateway:       gw,
		log:           log,
	}
	r.processors = map[EventType]processor{
		EventPayment:       r.processPayment,
		EventInvoice:       r.processPayment,
		EventSubscription:  r.processSubscription,
		EventPlan:          r.processPlan,
		EventMerchantOrder: r.processMerchantOrder,
	}
	return r
}

// Dispatch records env, routes it to exactly one processor and stores the
// outcome. An event already processed is not processed again; its stored
// outcome is returned with Duplicate set.
func (r *Router) Dispatch(ctx context.Context, env *Envelope) (out *Outcome, resErr error) {
	log := logctx.FromCtx(ctx, r.log).With("event_id", env.EventID, "type", env.Type, "integration", env.Integration)

	n, dup, err := r.notifications.Begin(ctx, &models.WebhookNotification{
		Source:    string(env.Integration),
		EventType: string(env.Type),
		EventID:   env.EventID,
		RawData:   datatypes.JSON(env.RawPayload),
		LiveMode:  env.LiveMode,
	})
	if err != nil {
		metrics.ObserveWebhook(string(env.Type), "error")
		return nil, err
	}
	if dup {
		metrics.ObserveWebhook(string(env.Type), "duplicate")
		log.Infow("duplicate notification, returning stored outcome")
		return storedOutcome(n, env), nil
	}

	out = &Outcome{EventID: env.EventID, Type: env.Type}
	defer func() {
		outcome := "processed"
		if resErr != nil {
			outcome = "error"
			log.Errorw("notification processing failed", "error", resErr)
		}
		if err := r.notifications.Finish(ctx, n, out, resErr); err != nil && resErr == nil {
			resErr = err
			outcome = "error"
		}
		metrics.ObserveWebhook(string(env.Type), outcome)
	}()

	proc, ok := r.processors[env.Type]
	if !ok {
		out.Detail = "acknowledged"
		log.Infow("notification acknowledged without processing", "raw_type", env.RawType)
		return out, nil
	}
	if env.ExternalID == "" {
		out.Detail = "missing resource id"
		log.Warnw("notification without resource id, acknowledged")
		return out, nil
	}
	if err := proc(ctx, env, out); err != nil {
		return out, fmt.Errorf("failed to process %s notification %s: %w", env.Type, env.EventID, err)
	}
	log.Infow("notification processed", "changed", out.Changed, "subscription_id", out.SubscriptionID)
	return out, nil
}

func storedOutcome(n *models.WebhookNotification, env *Envelope) *Outcome {
	out := &Outcome{EventID: env.EventID, Type: env.Type}
	if n.Result != nil {
		_ = json.Unmarshal(*n.Result, out)
	}
	out.Duplicate = true
	return out
}

var Module = fx.Options(
	fx.Provide(New),
)
