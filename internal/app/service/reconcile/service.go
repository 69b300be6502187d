// Package reconcile aligns local subscriptions with the gateway's view of them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	defaultDriftAge  = 24 * time.Hour
	defaultBatchSize = 100
)

// ExternalState is the gateway's raw view of a subscription.
type ExternalState struct {
	ExternalID        string
	Status            string
	NextPaymentDate   *time.Time
	ExternalReference string
}

// Mapping is a raw gateway status translated to local terms.
type Mapping struct {
	Status       types.SubscriptionStatus
	Paused       bool
	CancelReason string
}

var statusMappings = map[string]Mapping{
	gateway.StatusAuthorized: {Status: types.SubscriptionStatusActive},
	gateway.StatusPaused:     {Status: types.SubscriptionStatusActive, Paused: true},
	gateway.StatusCancelled:  {Status: types.SubscriptionStatusCanceled},
	gateway.StatusPending:    {Status: types.SubscriptionStatusPending},
	gateway.StatusRejected:   {Status: types.SubscriptionStatusPastDue},
	gateway.StatusExpired:    {Status: types.SubscriptionStatusCanceled, CancelReason: "expired"},
}

func MapExternalStatus(raw string) (Mapping, bool) {
	m, ok := statusMappings[strings.ToLower(strings.TrimSpace(raw))]
	return m, ok
}

type Result struct {
	ExternalID     string               `json:"external_id"`
	Variant        SystemVariant        `json:"variant"`
	ExternalStatus string               `json:"external_status,omitempty"`
	Subscription   *models.Subscription `json:"subscription,omitempty"`
	Changed        bool                 `json:"changed"`
	Skipped        bool                 `json:"skipped,omitempty"`
	Reason         string               `json:"reason,omitempty"`
}

type DriftSummary struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type Service struct {
	store         store.Store
	gateway       gateway.Client
	subscriptions *subscription.Service
	resolver      Resolver
	log           *zap.SugaredLogger
	driftAge      time.Duration
	batchSize     int
}

func New(
	cfg *config.Config,
	st store.Store,
	gw gateway.Client,
	subs *subscription.Service,
	resolver Resolver,
	log *zap.SugaredLogger,
) *Service {
	s := &Service{
		store:         st,
		gateway:       gw,
		subscriptions: subs,
		resolver:      resolver,
		log:           log,
		driftAge:      defaultDriftAge,
		batchSize:     defaultBatchSize,
	}
	if cfg != nil {
		s.driftAge = lo.Ternary(cfg.Reconcile.DriftAge > 0, cfg.Reconcile.DriftAge, s.driftAge)
		s.batchSize = lo.Ternary(cfg.Reconcile.BatchSize > 0, cfg.Reconcile.BatchSize, s.batchSize)
	}
	return s
}

// DriftAge is how long a linked subscription may go without an update
// before the drift scan re-checks it.
func (s *Service) DriftAge() time.Duration { return s.driftAge }

func (s *Service) PullExternalState(ctx context.Context, externalID string) (*ExternalState, error) {
	gs, err := s.gateway.GetSubscription(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return &ExternalState{
		ExternalID:        lo.CoalesceOrEmpty(gs.ID, externalID),
		Status:            gs.Status,
		NextPaymentDate:   gs.NextPaymentDate,
		ExternalReference: gs.ExternalReference,
	}, nil
}

// Reconcile pulls the gateway state of externalID and applies it locally.
// Repeating it with unchanged gateway state is a no-op.
func (s *Service) Reconcile(ctx context.Context, externalID string) (*Result, error) {
	if externalID == "" {
		return nil, apperr.Validation("external subscription id is required")
	}
	log := logctx.FromCtx(ctx, s.log).With("external_subscription_id", externalID)

	res := &Result{ExternalID: externalID, Variant: s.resolver.Resolve(ctx, externalID)}
	if res.Variant == VariantLegacy {
		log.Infow("legacy subscription, reconcile skipped")
		res.Skipped, res.Reason = true, "legacy subscription"
		return res, nil
	}

	ext, err := s.PullExternalState(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to pull subscription %s: %w", externalID, err)
	}
	res.ExternalStatus = ext.Status

	mapping, ok := MapExternalStatus(ext.Status)
	if !ok {
		log.Warnw("unknown external subscription status, reconcile skipped", "external_status", ext.Status)
		res.Skipped, res.Reason = true, "unknown external status"
		return res, nil
	}

	local, err := s.findLocal(ctx, ext)
	if err != nil {
		return nil, err
	}

	sub, changed, err := s.subscriptions.ApplyExternalState(ctx, local.ID, subscription.ExternalState{
		Status:          mapping.Status,
		Paused:          mapping.Paused,
		CancelReason:    mapping.CancelReason,
		NextBillingDate: ext.NextPaymentDate,
	})
	if err != nil {
		return nil, err
	}
	res.Subscription, res.Changed = sub, changed
	log.Infow("subscription reconciled", "subscription_id", sub.ID, "external_status", ext.Status,
		"status", sub.Status, "paused", sub.IsPaused, "changed", changed)
	return res, nil
}

// findLocal looks the subscription up by external id, falling back to the
// external reference (the local id) and linking the external id to it.
func (s *Service) findLocal(ctx context.Context, ext *ExternalState) (*models.Subscription, error) {
	sub, err := s.store.GetSubscriptionByExternalID(ctx, ext.ExternalID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) || ext.ExternalReference == "" {
		return nil, err
	}
	if _, err := s.store.GetSubscription(ctx, ext.ExternalReference); err != nil {
		return nil, err
	}
	return s.subscriptions.LinkExternal(ctx, ext.ExternalReference, ext.ExternalID)
}

// ReconcileDrift re-checks linked, non-canceled subscriptions not updated since olderThan.
func (s *Service) ReconcileDrift(ctx context.Context, olderThan time.Time, limit int) (*DriftSummary, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	subs, err := s.store.FindSubscriptions(ctx, store.SubscriptionQuery{
		Statuses: []types.SubscriptionStatus{
			types.SubscriptionStatusPending,
			types.SubscriptionStatusActive,
			types.SubscriptionStatusPastDue,
		},
		HasExternalID: true,
		UpdatedBefore: &olderThan,
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}

	log := logctx.FromCtx(ctx, s.log)
	summary := &DriftSummary{Scanned: len(subs)}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		res, err := s.Reconcile(ctx, *sub.ExternalSubscriptionID)
		switch {
		case err != nil:
			summary.Errors++
			log.Warnw("drift reconcile failed", "subscription_id", sub.ID, "error", err)
		case res.Skipped:
			summary.Skipped++
		case res.Changed:
			summary.Changed++
		}
	}
	log.Infow("drift reconcile completed", "scanned", summary.Scanned, "changed", summary.Changed,
		"skipped", summary.Skipped, "errors", summary.Errors)
	return summary, nil
}

var Module = fx.Options(
	fx.Provide(
		NewPrefixResolver,
		func(r *PrefixResolver) Resolver { return r },
		New,
	),
)
