package billing

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

type BatchSummary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Pending   int      `json:"pending"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// RenewDue renews every renewable, unpaused subscription whose next billing
// date is at or before now. One failure never stops the batch.
func (e *Engine) RenewDue(ctx context.Context, now time.Time, limit int) (*BatchSummary, error) {
	if limit <= 0 {
		limit = e.batchSize
	}
	due, err := e.store.FindSubscriptions(ctx, store.SubscriptionQuery{
		Statuses:  []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusPastDue},
		Paused:    lo.ToPtr(false),
		DueBefore: &now,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	log := logctx.FromCtx(ctx, e.log)
	summary := &BatchSummary{Total: len(due)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, sub := range due {
		id := sub.ID
		g.Go(func() error {
			res, err := e.Renew(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Errors++
				summary.FailedIDs = append(summary.FailedIDs, id)
				log.Warnw("renewal errored", "subscription_id", id, "error", err)
			case res.Success:
				summary.Succeeded++
			case res.Payment == nil:
				summary.Skipped++
			case res.Payment.Status == types.PaymentStatusRejected:
				summary.Failed++
				summary.FailedIDs = append(summary.FailedIDs, id)
			default:
				summary.Pending++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Infow("renew due completed", "total", summary.Total, "succeeded", summary.Succeeded,
		"failed", summary.Failed, "pending", summary.Pending, "skipped", summary.Skipped, "errors", summary.Errors)
	return summary, nil
}
