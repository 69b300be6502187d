// Package ledger records payment attempts and guards their status transitions.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

const maxTransitionAttempts = 5

var transitions = map[types.PaymentStatus][]types.PaymentStatus{
	types.PaymentStatusPending:   {types.PaymentStatusApproved, types.PaymentStatusRejected, types.PaymentStatusInProcess},
	types.PaymentStatusInProcess: {types.PaymentStatusApproved, types.PaymentStatusRejected},
	// a rejected charge may still be captured by a later gateway retry
	types.PaymentStatusRejected: {types.PaymentStatusApproved},
	types.PaymentStatusApproved: {types.PaymentStatusRefunded, types.PaymentStatusChargedBack},
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to types.PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Update carries the gateway facts recorded with a status transition.
type Update struct {
	Status            types.PaymentStatus
	ExternalPaymentID string
	ExternalStatus    string
	PaymentDate       *time.Time
	Raw               json.RawMessage
}

type Service struct {
	store store.PaymentStore
	log   *zap.SugaredLogger
}

func New(s store.Store, l *zap.SugaredLogger) *Service {
	return &Service{store: s, log: l}
}

// Append writes a new ledger row. ID, status and gateway response get defaults.
func (s *Service) Append(ctx context.Context, p *models.Payment) error {
	if p.SubscriptionID == "" {
		return apperr.Validation("payment requires a subscription id")
	}
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	if p.Status == "" {
		p.Status = types.PaymentStatusPending
	}
	if p.GatewayResponse == nil {
		p.GatewayResponse = datatypes.JSON(`{}`)
	}
	if err := s.store.AppendPayment(ctx, p); err != nil {
		return err
	}
	logctx.FromCtx(ctx, s.log).Infow("payment appended",
		"payment_id", p.ID, "subscription_id", p.SubscriptionID, "amount", p.Amount.String(), "status", p.Status)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return s.store.GetPaymentByExternalID(ctx, externalID)
}

// FindUnlinked returns the newest unsettled payment of a subscription that
// the gateway has not yet reported on, or nil.
func (s *Service) FindUnlinked(ctx context.Context, subscriptionID string) (*models.Payment, error) {
	list, err := s.store.FindPayments(ctx, subscriptionID, types.PaymentStatusPending, types.PaymentStatusInProcess)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.ExternalPaymentID == nil {
			return p, nil
		}
	}
	return nil, nil
}

// Unsettled returns the PENDING and IN_PROCESS payments of a subscription.
func (s *Service) Unsettled(ctx context.Context, subscriptionID string) ([]*models.Payment, error) {
	return s.store.FindPayments(ctx, subscriptionID, types.PaymentStatusPending, types.PaymentStatusInProcess)
}

// Transition moves payment id to u.Status with a compare-and-set on the
// current status. It returns the stored payment and whether this call made
// the change. Re-confirming the current status and disallowed moves are
// reported as no change, without error.
func (s *Service) Transition(ctx context.Context, id string, u Update) (*models.Payment, bool, error) {
	log := logctx.FromCtx(ctx, s.log)
	for range maxTransitionAttempts {
		cur, err := s.store.GetPayment(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if cur.Status == u.Status {
			return cur, false, nil
		}
		if !CanTransition(cur.Status, u.Status) {
			log.Warnw("payment transition not allowed", "payment_id", id, "from", cur.Status, "to", u.Status)
			return cur, false, nil
		}

		next := cur.Clone()
		next.Status = u.Status
		if u.ExternalPaymentID != "" {
			next.ExternalPaymentID = &u.ExternalPaymentID
		}
		if u.ExternalStatus != "" {
			next.ExternalStatus = &u.ExternalStatus
		}
		if u.PaymentDate != nil {
			next.PaymentDate = u.PaymentDate
		} else if u.Status == types.PaymentStatusApproved && next.PaymentDate == nil {
			now := time.Now()
			next.PaymentDate = &now
		}
		if len(u.Raw) > 0 {
			next.GatewayResponse = datatypes.JSON(u.Raw)
		}

		ok, err := s.store.TransitionPayment(ctx, next, cur.Status)
		if err != nil {
			return nil, false, err
		}
		if ok {
			log.Infow("payment transitioned", "payment_id", id, "from", cur.Status, "to", next.Status)
			return next, true, nil
		}
	}
	return nil, false, apperr.Conflict("payment %s: too many concurrent updates", id)
}
