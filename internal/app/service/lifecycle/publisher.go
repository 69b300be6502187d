// Package lifecycle announces committed subscription transitions to the broker.
package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/rabbitmq"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

const publishTimeout = 2 * time.Second

type Event struct {
	Event          string                         `json:"event"`
	SubscriptionID string                         `json:"subscription_id"`
	UserID         string                         `json:"user_id"`
	From           types.SubscriptionStatus       `json:"from,omitempty"`
	To             types.SubscriptionStatus       `json:"to"`
	Reason         types.SubscriptionChangeReason `json:"reason"`
	At             time.Time                      `json:"at"`
}

// RoutingKey is the topic the event is published under.
func (e Event) RoutingKey() string { return "subscription." + e.Event }

// EventName names the business event behind a transition. Bookkeeping
// transitions have no name and are not published.
func EventName(before, after *models.Subscription, reason types.SubscriptionChangeReason) string {
	switch reason {
	case types.SubscriptionChangeReasonCreate:
		return "created"
	case types.SubscriptionChangeReasonPaymentApproved:
		if before != nil && before.Status == types.SubscriptionStatusActive {
			return "renewed"
		}
		return "activated"
	case types.SubscriptionChangeReasonPaymentFailed:
		if after != nil && after.Status == types.SubscriptionStatusPastDue &&
			(before == nil || before.Status != types.SubscriptionStatusPastDue) {
			return "past_due"
		}
		return "payment_failed"
	case types.SubscriptionChangeReasonPause:
		return "paused"
	case types.SubscriptionChangeReasonResume:
		return "resumed"
	case types.SubscriptionChangeReasonCancel:
		return "canceled"
	case types.SubscriptionChangeReasonLinkExternal:
		return "linked"
	case types.SubscriptionChangeReasonRenewalClaim, types.SubscriptionChangeReasonRenewalRelease:
		return ""
	default:
		return "reconciled"
	}
}

type Publisher struct {
	pub rabbitmq.Publisher
	log *zap.SugaredLogger
}

func New(pub rabbitmq.Publisher, l *zap.SugaredLogger) *Publisher {
	return &Publisher{pub: pub, log: l}
}

// Publish announces a committed transition. Failures are logged only.
func (p *Publisher) Publish(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason) {
	if p == nil || p.pub == nil || after == nil {
		return
	}
	name := EventName(before, after, reason)
	if name == "" {
		return
	}
	evt := Event{
		Event:          name,
		SubscriptionID: after.ID,
		UserID:         after.UserID,
		To:             after.Status,
		Reason:         reason,
		At:             time.Now().UTC(),
	}
	if before != nil {
		evt.From = before.Status
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		logctx.FromCtx(ctx, p.log).Errorw("marshal lifecycle event failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.pub.Publish(ctx, evt.RoutingKey(), payload); err != nil {
		logctx.FromCtx(ctx, p.log).Warnw("publish lifecycle event failed",
			"subscription_id", after.ID, "event", evt.Event, "error", err)
	}
}

var Module = fx.Options(
	fx.Provide(New),
)
