package billing

import (
	"context"
	"fmt"

	"github.com/fatflowers/billing/internal/app/service/ledger"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

type Settlement struct {
	Payment      *models.Payment
	Subscription *models.Subscription
	// Changed is true when this call moved the payment to a new status.
	Changed bool
}

// SettlePayment records the gateway's verdict on payment p. It is the single
// settlement path for renewals and notifications: only the transition into
// APPROVED or REJECTED drives the subscription, so repeated verdicts are
// harmless and a coupon is counted once per approved payment.
func (e *Engine) SettlePayment(ctx context.Context, p *models.Payment, gp *gateway.Payment) (*Settlement, error) {
	log := logctx.FromCtx(ctx, e.log).With("payment_id", p.ID, "subscription_id", p.SubscriptionID)

	status, ok := MapPaymentStatus(gp.Status)
	if !ok {
		log.Warnw("unknown gateway payment status, ignored", "external_status", gp.Status)
		sub, err := e.store.GetSubscription(ctx, p.SubscriptionID)
		if err != nil {
			return nil, err
		}
		return &Settlement{Payment: p, Subscription: sub}, nil
	}

	updated, changed, err := e.ledger.Transition(ctx, p.ID, ledger.Update{
		Status:            status,
		ExternalPaymentID: gp.ID,
		ExternalStatus:    gp.Status,
		PaymentDate:       gp.DateApproved,
		Raw:               gp.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to settle payment %s: %w", p.ID, err)
	}

	out := &Settlement{Payment: updated, Changed: changed}
	switch {
	case changed && status == types.PaymentStatusApproved:
		out.Subscription, err = e.subscriptions.OnPaymentApproved(ctx, updated.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if updated.CouponID != nil && updated.DiscountAmount != nil {
			if err := e.store.IncrementCouponUsage(ctx, *updated.CouponID, *updated.DiscountAmount); err != nil {
				log.Errorw("failed to record coupon usage", "coupon_id", *updated.CouponID, "error", err)
			}
		}
	case changed && status == types.PaymentStatusRejected:
		out.Subscription, err = e.subscriptions.OnPaymentRejectedOrCanceled(ctx, updated.SubscriptionID)
		if err != nil {
			return nil, err
		}
	default:
		out.Subscription, err = e.store.GetSubscription(ctx, updated.SubscriptionID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
