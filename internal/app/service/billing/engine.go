// Package billing charges subscriptions for new periods and settles payments.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/coupon"
	"github.com/fatflowers/billing/internal/app/service/ledger"
	"github.com/fatflowers/billing/internal/app/service/period"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	defaultPlanCacheSize = 256
	defaultPlanCacheTTL  = 5 * time.Minute
	defaultBatchSize     = 200
	defaultConcurrency   = 8
)

// RenewResult describes a renewal attempt. Business failures are reported
// here; infrastructure failures are returned as errors instead.
type RenewResult struct {
	Success      bool                     `json:"success"`
	Subscription *models.Subscription     `json:"subscription,omitempty"`
	Payment      *models.Payment          `json:"payment,omitempty"`
	NewStatus    types.SubscriptionStatus `json:"new_status,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

type Engine struct {
	store         store.Store
	gateway       gateway.Client
	ledger        *ledger.Service
	subscriptions *subscription.Service
	plans         *expirable.LRU[string, *models.SubscriptionPlan]
	log           *zap.SugaredLogger
	batchSize     int
	concurrency   int
	now           func() time.Time
}

func NewEngine(
	cfg *config.Config,
	st store.Store,
	gw gateway.Client,
	ldg *ledger.Service,
	subs *subscription.Service,
	log *zap.SugaredLogger,
) *Engine {
	bc := config.BillingConfig{}
	if cfg != nil {
		bc = cfg.Billing
	}
	size := lo.Ternary(bc.PlanCacheSize > 0, bc.PlanCacheSize, defaultPlanCacheSize)
	ttl := lo.Ternary(bc.PlanCacheTTL > 0, bc.PlanCacheTTL, defaultPlanCacheTTL)
	return &Engine{
		store:         st,
		gateway:       gw,
		ledger:        ldg,
		subscriptions: subs,
		plans:         expirable.NewLRU[string, *models.SubscriptionPlan](size, nil, ttl),
		log:           log,
		batchSize:     lo.Ternary(bc.RenewBatchSize > 0, bc.RenewBatchSize, defaultBatchSize),
		concurrency:   lo.Ternary(bc.RenewConcurrency > 0, bc.RenewConcurrency, defaultConcurrency),
		now:           time.Now,
	}
}

// ComputePeriodEnd returns the end of a period of intervalCount intervals starting at start.
func ComputePeriodEnd(start time.Time, interval types.PlanInterval, intervalCount int) (time.Time, error) {
	return period.End(start, interval, intervalCount)
}

// MapPaymentStatus maps a raw gateway payment status to the ledger status.
func MapPaymentStatus(raw string) (types.PaymentStatus, bool) {
	switch strings.ToLower(raw) {
	case gateway.StatusApproved:
		return types.PaymentStatusApproved, true
	case gateway.StatusRejected, gateway.StatusCancelled:
		return types.PaymentStatusRejected, true
	case gateway.StatusInProcess, gateway.StatusPending, gateway.StatusAuthorized:
		return types.PaymentStatusInProcess, true
	case gateway.StatusRefunded:
		return types.PaymentStatusRefunded, true
	case gateway.StatusChargedBack:
		return types.PaymentStatusChargedBack, true
	}
	return "", false
}

func (e *Engine) plan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	if p, ok := e.plans.Get(id); ok {
		return p, nil
	}
	p, err := e.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	e.plans.Add(id, p)
	return p, nil
}

// InvalidatePlan drops a cached plan after it changed.
func (e *Engine) InvalidatePlan(id string) {
	e.plans.Remove(id)
}

func (e *Engine) discount(ctx context.Context, sub *models.Subscription, plan *models.SubscriptionPlan) (coupon.Discount, *models.Coupon, error) {
	none := coupon.Discount{Final: plan.Price}
	if sub.CouponID == nil {
		return none, nil, nil
	}
	c, err := e.store.GetCoupon(ctx, *sub.CouponID)
	if errors.Is(err, apperr.ErrNotFound) {
		logctx.FromCtx(ctx, e.log).Warnw("subscription coupon missing, charging full price",
			"subscription_id", sub.ID, "coupon_id", *sub.CouponID)
		return none, nil, nil
	}
	if err != nil {
		return none, nil, err
	}
	d := coupon.Apply(plan.Price, c, plan.ID, e.now())
	if !d.Applied {
		return d, nil, nil
	}
	return d, c, nil
}

// RenewalKey is the gateway idempotency key of a renewal charge. It names the
// billed period and the attempt, so a retry after a rejection is a new charge
// while a retry after a lost response is not.
func RenewalKey(sub *models.Subscription) string {
	return fmt.Sprintf("renewal:%s:%d:%d", sub.ID, sub.NextBillingDate.UTC().Unix(), sub.RenewalFailures)
}

func skipped(sub *models.Subscription, reason string) *RenewResult {
	metrics.ObserveRenewal("skipped")
	return &RenewResult{Subscription: sub, NewStatus: sub.Status, Error: reason}
}

// renewalPayment returns the ledger row to charge for the claimed period.
// An earlier attempt on the same period that never reached the gateway is
// charged again under the same key; a charge the gateway is still
// processing blocks the renewal.
func (e *Engine) renewalPayment(ctx context.Context, sub *models.Subscription, key string) (*models.Payment, *models.Payment, error) {
	open, err := e.ledger.Unsettled(ctx, sub.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load unsettled payments: %w", err)
	}
	var retry *models.Payment
	for _, p := range open {
		if p.ExternalPaymentID != nil {
			return nil, p, nil
		}
		if lo.FromPtr(p.IdempotencyKey) == key {
			retry = p
		}
	}
	if retry != nil {
		return retry, nil, nil
	}

	plan, err := e.plan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
	}
	d, applied, err := e.discount(ctx, sub, plan)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	payment := &models.Payment{
		SubscriptionID: sub.ID,
		Amount:         d.Final,
		Currency:       plan.Currency,
		Status:         types.PaymentStatusPending,
		IdempotencyKey: lo.ToPtr(key),
	}
	if applied != nil {
		payment.CouponID = lo.ToPtr(applied.ID)
		payment.DiscountAmount = lo.ToPtr(d.Amount)
		payment.OriginalAmount = lo.ToPtr(plan.Price)
	}
	if err := e.ledger.Append(ctx, payment); err != nil {
		return nil, nil, fmt.Errorf("failed to append renewal payment: %w", err)
	}
	return payment, nil, nil
}

// Renew charges subscription id for its due period. Concurrent calls for the
// same subscription charge it at most once: the period is claimed with a
// compare-and-set before the gateway is called.
func (e *Engine) Renew(ctx context.Context, id string) (*RenewResult, error) {
	log := logctx.FromCtx(ctx, e.log).With("subscription_id", id)

	sub, err := e.subscriptions.ClaimRenewal(ctx, id)
	if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrValidation) {
		cur, gerr := e.store.GetSubscription(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		log.Infow("renewal skipped", "reason", err.Error())
		return skipped(cur, err.Error()), nil
	}
	if err != nil {
		return nil, err
	}
	due := sub.NextBillingDate
	key := RenewalKey(sub)
	// a settled charge already dropped the claim; this covers every other exit
	defer func() {
		if _, err := e.subscriptions.ReleaseRenewal(context.WithoutCancel(ctx), id, due); err != nil {
			log.Warnw("failed to release renewal claim", "error", err)
		}
	}()

	payment, inFlight, err := e.renewalPayment(ctx, sub, key)
	if err != nil {
		return nil, err
	}
	if inFlight != nil {
		log.Infow("renewal skipped, charge in process", "payment_id", inFlight.ID)
		return skipped(sub, fmt.Sprintf("payment %s is still in process", inFlight.ID)), nil
	}

	plan, err := e.plan(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
	}
	gp, err := e.gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		IdempotencyKey:         key,
		ExternalReference:      payment.ID,
		SubscriptionExternalID: lo.FromPtr(sub.ExternalSubscriptionID),
		Amount:                 payment.Amount,
		Currency:               payment.Currency,
		Description:            plan.Name,
	})
	if err != nil {
		if apperr.IsRetryable(err) {
			metrics.ObserveRenewal("unavailable")
			log.Warnw("renewal charge failed, gateway unavailable", "payment_id", payment.ID, "error", err)
			return nil, err
		}
		// the gateway refused the charge request itself
		gp = &gateway.Payment{Status: gateway.StatusRejected, StatusDetail: err.Error()}
	}

	settled, err := e.SettlePayment(ctx, payment, gp)
	if err != nil {
		return nil, err
	}

	res := &RenewResult{Subscription: settled.Subscription, Payment: settled.Payment}
	if settled.Subscription != nil {
		res.NewStatus = settled.Subscription.Status
	}
	switch settled.Payment.Status {
	case types.PaymentStatusApproved:
		res.Success = true
		metrics.ObserveRenewal("approved")
	case types.PaymentStatusRejected:
		res.Error = "payment rejected"
		if gp.StatusDetail != "" {
			res.Error += ": " + gp.StatusDetail
		}
		metrics.ObserveRenewal("rejected")
	default:
		res.Error = "payment pending"
		metrics.ObserveRenewal("pending")
	}
	log.Infow("renewal attempted", "payment_id", payment.ID, "payment_status", settled.Payment.Status,
		"success", res.Success, "new_status", res.NewStatus)
	return res, nil
}
