package subscription

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/internal/app/service/ledger"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	maxCASAttempts            = 5
	defaultMaxRenewalFailures = 3
	defaultRemoteTimeout      = 5 * time.Second
	defaultRenewalLease       = 10 * time.Minute
)

// Service is the subscription state machine. Every transition is a
// compare-and-set on the row version.
type Service struct {
	store         store.Store
	gateway       gateway.Client
	ledger        *ledger.Service
	events        *lifecycle.Publisher
	log           *zap.SugaredLogger
	maxFailures   int
	remoteTimeout time.Duration
	renewalLease  time.Duration
	now           func() time.Time
}

func NewService(
	cfg *config.Config,
	st store.Store,
	gw gateway.Client,
	ldg *ledger.Service,
	events *lifecycle.Publisher,
	log *zap.SugaredLogger,
) *Service {
	s := &Service{
		store:         st,
		gateway:       gw,
		ledger:        ldg,
		events:        events,
		log:           log,
		maxFailures:   defaultMaxRenewalFailures,
		remoteTimeout: defaultRemoteTimeout,
		renewalLease:  defaultRenewalLease,
		now:           time.Now,
	}
	if cfg != nil {
		if cfg.Billing.MaxRenewalFailures > 0 {
			s.maxFailures = cfg.Billing.MaxRenewalFailures
		}
		if cfg.Gateway.CancelTimeout > 0 {
			s.remoteTimeout = cfg.Gateway.CancelTimeout
		}
		if cfg.Billing.RenewalLease > 0 {
			s.renewalLease = cfg.Billing.RenewalLease
		}
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*models.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// apply runs fn against the freshest row until the compare-and-set wins.
// fn returning nil is a no-op and reports the current row unchanged.
func (s *Service) apply(
	ctx context.Context,
	id string,
	reason types.SubscriptionChangeReason,
	fn func(cur *models.Subscription) (*models.Subscription, error),
) (*models.Subscription, bool, error) {
	log := logctx.FromCtx(ctx, s.log)
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		cur, err := s.store.GetSubscription(ctx, id)
		if err != nil {
			return nil, false, err
		}
		next, err := fn(cur.Clone())
		if err != nil {
			return cur, false, err
		}
		if next == nil {
			return cur, false, nil
		}
		ok, err := s.store.CompareAndSwapSubscription(ctx, next, cur.Version)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update subscription %s: %w", id, err)
		}
		if ok {
			s.committed(ctx, cur, next, reason)
			return next, true, nil
		}
		log.Debugw("subscription version moved, retrying", "subscription_id", id, "attempt", attempt, "reason", reason)
	}
	return nil, false, apperr.Conflict("subscription %s: too many concurrent updates", id)
}

func (s *Service) committed(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason) {
	logctx.FromCtx(ctx, s.log).Infow("subscription transitioned",
		"subscription_id", after.ID, "reason", reason, "from", statusOf(before), "to", after.Status, "version", after.Version)
	metrics.ObserveTransition(string(reason), string(after.Status))
	s.writeLog(ctx, before, after, reason)
	s.events.Publish(ctx, before, after, reason)
}

func statusOf(sub *models.Subscription) types.SubscriptionStatus {
	if sub == nil {
		return ""
	}
	return sub.Status
}

// writeLog records the change asynchronously; errors are logged but not returned.
func (s *Service) writeLog(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason) {
	ctx = context.WithoutCancel(ctx)
	go func(b, a *models.Subscription) {
		entry := &models.SubscriptionLog{
			ID:             tool.GenerateUUIDV7(),
			SubscriptionID: a.ID,
			UserID:         a.UserID,
			Reason:         reason,
			Before:         datatypes.NewJSONType(b),
			After:          datatypes.NewJSONType(a),
			Extra:          datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
		}
		if err := s.store.AppendSubscriptionLog(ctx, entry); err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
	}(before.Clone(), after.Clone())
}

// OnPaymentApproved activates or renews the subscription for one interval
// starting now. CANCELED is left untouched.
func (s *Service) OnPaymentApproved(ctx context.Context, id string) (*models.Subscription, error) {
	cur, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, cur.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", cur.PlanID, err)
	}
	now := s.now()
	sub, _, err := s.apply(ctx, id, types.SubscriptionChangeReasonPaymentApproved, func(cur *models.Subscription) (*models.Subscription, error) {
		return approved(cur, plan, now)
	})
	return sub, err
}

// OnPaymentRejectedOrCanceled counts a failed charge. The subscription moves
// to PAST_DUE once the failure threshold is reached; it is never canceled here.
func (s *Service) OnPaymentRejectedOrCanceled(ctx context.Context, id string) (*models.Subscription, error) {
	now := s.now()
	sub, _, err := s.apply(ctx, id, types.SubscriptionChangeReasonPaymentFailed, func(cur *models.Subscription) (*models.Subscription, error) {
		return failed(cur, s.maxFailures, now), nil
	})
	return sub, err
}

// ClaimRenewal reserves the subscription's due period for one renewal. It
// fails with a conflict when the subscription cannot be renewed, is not due
// yet, or another renewal holds the period.
func (s *Service) ClaimRenewal(ctx context.Context, id string) (*models.Subscription, error) {
	now := s.now()
	sub, _, err := s.apply(ctx, id, types.SubscriptionChangeReasonRenewalClaim, func(cur *models.Subscription) (*models.Subscription, error) {
		return claimed(cur, now, s.renewalLease)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ReleaseRenewal drops a claim on period due that did not settle.
func (s *Service) ReleaseRenewal(ctx context.Context, id string, due time.Time) (*models.Subscription, error) {
	sub, _, err := s.apply(ctx, id, types.SubscriptionChangeReasonRenewalRelease, func(cur *models.Subscription) (*models.Subscription, error) {
		return released(cur, due), nil
	})
	return sub, err
}

func (s *Service) Pause(ctx context.Context, id string) (*models.Subscription, error) {
	now := s.now()
	sub, changed, err := s.apply(ctx, id, types.SubscriptionChangeReasonPause, func(cur *models.Subscription) (*models.Subscription, error) {
		return paused(cur, now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.propagate(ctx, sub, gateway.ActionPause)
	}
	return sub, nil
}

func (s *Service) Resume(ctx context.Context, id string) (*models.Subscription, error) {
	sub, changed, err := s.apply(ctx, id, types.SubscriptionChangeReasonResume, func(cur *models.Subscription) (*models.Subscription, error) {
		return resumed(cur)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.propagate(ctx, sub, gateway.ActionResume)
	}
	return sub, nil
}

// Cancel commits the cancellation locally, then tells the gateway. Canceling
// a CANCELED subscription returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Subscription, error) {
	now := s.now()
	sub, changed, err := s.apply(ctx, id, types.SubscriptionChangeReasonCancel, func(cur *models.Subscription) (*models.Subscription, error) {
		return canceled(cur, reason, now), nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.propagate(ctx, sub, gateway.ActionCancel)
	}
	return sub, nil
}

// ApplyExternalState aligns the local row with the gateway's view.
func (s *Service) ApplyExternalState(ctx context.Context, id string, st ExternalState) (*models.Subscription, bool, error) {
	now := s.now()
	return s.apply(ctx, id, types.SubscriptionChangeReasonReconcile, func(cur *models.Subscription) (*models.Subscription, error) {
		return external(cur, st, now), nil
	})
}

// LinkExternal records the gateway's subscription id.
func (s *Service) LinkExternal(ctx context.Context, id, externalID string) (*models.Subscription, error) {
	if externalID == "" {
		return nil, apperr.Validation("external subscription id is required")
	}
	sub, _, err := s.apply(ctx, id, types.SubscriptionChangeReasonLinkExternal, func(cur *models.Subscription) (*models.Subscription, error) {
		return linked(cur, externalID), nil
	})
	return sub, err
}

// propagate mirrors a committed local change on the gateway. It is best
// effort with its own deadline; the local state is authoritative.
func (s *Service) propagate(ctx context.Context, sub *models.Subscription, action gateway.SubscriptionAction) {
	if sub.ExternalSubscriptionID == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.remoteTimeout)
	defer cancel()
	if _, err := s.gateway.UpdateSubscription(rctx, *sub.ExternalSubscriptionID, action); err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("remote subscription update failed",
			"subscription_id", sub.ID,
			"external_subscription_id", *sub.ExternalSubscriptionID,
			"action", action,
			"error", err)
	}
}
