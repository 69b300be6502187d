package eventrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

func (r *Router) processPayment(ctx context.Context, env *Envelope, out *Outcome) error {
	gp, err := r.gateway.GetPayment(ctx, env.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to fetch payment %s: %w", env.ExternalID, err)
	}
	return r.settle(ctx, gp, out)
}

func (r *Router) settle(ctx context.Context, gp *gateway.Payment, out *Outcome) error {
	p, err := r.locatePayment(ctx, gp)
	if err != nil {
		return err
	}
	settled, err := r.billing.SettlePayment(ctx, p, gp)
	if err != nil {
		return err
	}
	out.PaymentIDs = append(out.PaymentIDs, settled.Payment.ID)
	out.SubscriptionID = settled.Payment.SubscriptionID
	out.Changed = out.Changed || settled.Changed
	return nil
}

// locatePayment finds the ledger row a gateway payment belongs to: by
// external payment id, then by external reference (the local payment id),
// then by the gateway subscription. A charge the gateway started on its own
// gets a new ledger row.
func (r *Router) locatePayment(ctx context.Context, gp *gateway.Payment) (*models.Payment, error) {
	p, err := r.ledger.GetByExternalID(ctx, gp.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if gp.ExternalReference != "" {
		p, err := r.ledger.Get(ctx, gp.ExternalReference)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	if gp.SubscriptionID == "" {
		return nil, apperr.NotFound("payment", gp.ID)
	}
	sub, err := r.store.GetSubscriptionByExternalID(ctx, gp.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if p, err := r.ledger.FindUnlinked(ctx, sub.ID); err != nil || p != nil {
		return p, err
	}
	p = &models.Payment{
		SubscriptionID: sub.ID,
		Amount:         gp.Amount,
		Currency:       gp.Currency,
		Status:         types.PaymentStatusPending,
	}
	if err := r.ledger.Append(ctx, p); err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, r.log).Infow("recorded gateway-initiated payment",
		"payment_id", p.ID, "subscription_id", sub.ID, "external_payment_id", gp.ID)
	return p, nil
}

func (r *Router) processSubscription(ctx context.Context, env *Envelope, out *Outcome) error {
	res, err := r.reconcile.Reconcile(ctx, env.ExternalID)
	if err != nil {
		return err
	}
	out.Changed = res.Changed
	if res.Subscription != nil {
		out.SubscriptionID = res.Subscription.ID
	}
	out.Detail = res.Reason
	return nil
}

func (r *Router) processPlan(ctx context.Context, env *Envelope, out *Outcome) error {
	gp, err := r.gateway.GetPlan(ctx, env.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to fetch plan %s: %w", env.ExternalID, err)
	}
	plan, err := r.store.GetPlanByExternalID(ctx, env.ExternalID)
	if errors.Is(err, apperr.ErrNotFound) {
		out.Detail = "unknown plan"
		return nil
	}
	if err != nil {
		return err
	}
	out.PlanID = plan.ID

	patch := planPatch(gp).Diff(plan)
	if patch.Empty() {
		return nil
	}
	if err := r.store.UpdatePlan(ctx, plan.ID, patch); err != nil {
		return err
	}
	r.billing.InvalidatePlan(plan.ID)
	out.Changed = true
	logctx.FromCtx(ctx, r.log).Infow("plan updated from gateway", "plan_id", plan.ID, "columns", lo.Keys(patch.Columns()))
	return nil
}

func planPatch(gp *gateway.Plan) store.PlanPatch {
	patch := store.PlanPatch{Name: gp.Name, Price: gp.Price, TrialDays: gp.TrialDays}
	switch strings.ToLower(gp.Status) {
	case "active":
		patch.IsActive = lo.ToPtr(true)
	case "inactive", gateway.StatusCancelled:
		patch.IsActive = lo.ToPtr(false)
	}
	return patch
}

func (r *Router) processMerchantOrder(ctx context.Context, env *Envelope, out *Outcome) error {
	mo, err := r.gateway.GetMerchantOrder(ctx, env.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to fetch merchant order %s: %w", env.ExternalID, err)
	}
	var errs []error
	for _, mp := range mo.Payments {
		gp, err := r.gateway.GetPayment(ctx, mp.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to fetch payment %s: %w", mp.ID, err))
			continue
		}
		if err := r.settle(ctx, gp, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
