package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/internal/app/service/coupon"
	"github.com/fatflowers/billing/internal/app/service/period"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

type CreateRequest struct {
	UserID     string         `json:"user_id"`
	PlanID     string         `json:"plan_id"`
	CouponCode string         `json:"coupon_code,omitempty"`
	StartDate  *time.Time     `json:"start_date,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type CheckoutResult struct {
	Subscription *models.Subscription `json:"subscription"`
	Payment      *models.Payment      `json:"payment"`
	Discount     coupon.Discount      `json:"-"`
}

// Create opens a PENDING subscription, records its first PENDING payment and
// registers the subscription on the gateway. The gateway call is best effort;
// a later reconcile or payment notification links it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CheckoutResult, error) {
	log := logctx.FromCtx(ctx, s.log)
	if req.UserID == "" || req.PlanID == "" {
		return nil, apperr.Validation("user_id and plan_id are required")
	}

	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, apperr.Validation("plan %s is not active", plan.ID)
	}

	now := s.now()
	start := now
	if req.StartDate != nil && !req.StartDate.IsZero() {
		start = *req.StartDate
	}
	end, err := period.End(start, plan.Interval, plan.IntervalCount)
	if err != nil {
		return nil, err
	}

	discount := coupon.Discount{Amount: decimal.Zero, Final: plan.Price}
	var applied *models.Coupon
	if req.CouponCode != "" {
		c, err := s.store.GetCouponByCode(ctx, req.CouponCode)
		if err != nil {
			return nil, err
		}
		discount = coupon.Apply(plan.Price, c, plan.ID, now)
		if discount.Applied {
			applied = c
		} else {
			log.Infow("coupon not applied", "coupon_code", req.CouponCode, "reason", discount.Reason)
		}
	}

	sub := &models.Subscription{
		ID:                 tool.GenerateUUIDV7(),
		UserID:             req.UserID,
		PlanID:             plan.ID,
		Status:             types.SubscriptionStatusPending,
		StartDate:          start,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		NextBillingDate:    end,
		Metadata:           req.Metadata,
		Version:            1,
	}
	if sub.Metadata == nil {
		sub.Metadata = map[string]any{}
	}
	if applied != nil {
		sub.CouponID = lo.ToPtr(applied.ID)
		sub.DiscountAmount = lo.ToPtr(discount.Amount)
		sub.OriginalPrice = lo.ToPtr(plan.Price)
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	s.committed(ctx, nil, sub, types.SubscriptionChangeReasonCreate)

	payment := &models.Payment{
		SubscriptionID: sub.ID,
		Amount:         discount.Final,
		Currency:       plan.Currency,
		Status:         types.PaymentStatusPending,
	}
	if applied != nil {
		payment.CouponID = lo.ToPtr(applied.ID)
		payment.DiscountAmount = lo.ToPtr(discount.Amount)
		payment.OriginalAmount = lo.ToPtr(plan.Price)
	}
	if err := s.ledger.Append(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to append checkout payment: %w", err)
	}

	remote, err := s.gateway.CreateSubscription(ctx, gateway.CreateSubscriptionRequest{
		ExternalReference: sub.ID,
		PayerID:           sub.UserID,
		PlanExternalID:    lo.FromPtr(plan.ExternalPlanID),
		Reason:            plan.Name,
		Amount:            discount.Final,
		Currency:          plan.Currency,
		Interval:          plan.Interval,
		IntervalCount:     plan.IntervalCount,
		StartDate:         start,
	})
	if err != nil {
		log.Warnw("gateway subscription not created", "subscription_id", sub.ID, "error", err,
			"retryable", errors.Is(err, apperr.ErrServiceUnavailable))
	} else if remote != nil && remote.ID != "" {
		if linkedSub, err := s.LinkExternal(ctx, sub.ID, remote.ID); err != nil {
			log.Warnw("failed to link external subscription", "subscription_id", sub.ID, "external_subscription_id", remote.ID, "error", err)
		} else {
			sub = linkedSub
		}
	}

	return &CheckoutResult{Subscription: sub, Payment: payment, Discount: discount}, nil
}
