// Package store declares the persistence collaborators of the billing services.
//
// Implementations return apperr.NotFound for absent rows and
// apperr.ServiceUnavailableError for infrastructure failures.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, s *models.Subscription) error
	// CompareAndSwapSubscription persists next only if the stored version still
	// equals expected. On success next.Version is expected+1.
	CompareAndSwapSubscription(ctx context.Context, next *models.Subscription, expected int) (bool, error)
	FindSubscriptions(ctx context.Context, q SubscriptionQuery) ([]*models.Subscription, error)
}

type PlanStore interface {
	GetPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	GetPlanByExternalID(ctx context.Context, externalID string) (*models.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, p *models.SubscriptionPlan) error
	UpdatePlan(ctx context.Context, id string, patch PlanPatch) error
}

type CouponStore interface {
	GetCoupon(ctx context.Context, id string) (*models.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CreateCoupon(ctx context.Context, c *models.Coupon) error
	// IncrementCouponUsage atomically adds one use and discount to the coupon totals.
	IncrementCouponUsage(ctx context.Context, id string, discount decimal.Decimal) error
}

type PaymentStore interface {
	AppendPayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	// FindPayments lists a subscription's payments, newest first, optionally
	// restricted to statuses.
	FindPayments(ctx context.Context, subscriptionID string, statuses ...types.PaymentStatus) ([]*models.Payment, error)
	// TransitionPayment writes p only if the stored status still equals from.
	TransitionPayment(ctx context.Context, p *models.Payment, from types.PaymentStatus) (bool, error)
}

type NotificationStore interface {
	// InsertNotification inserts n unless (source, event_id) already exists.
	// It returns the stored row and whether n was inserted.
	InsertNotification(ctx context.Context, n *models.WebhookNotification) (*models.WebhookNotification, bool, error)
	UpdateNotification(ctx context.Context, n *models.WebhookNotification) error
	// FindRetryableNotifications lists notifications created at or after since
	// that ended in error, or are still pending and were last written before
	// staleBefore. Oldest first.
	FindRetryableNotifications(ctx context.Context, staleBefore, since time.Time, limit int) ([]*models.WebhookNotification, error)
}

type SubscriptionLogStore interface {
	AppendSubscriptionLog(ctx context.Context, l *models.SubscriptionLog) error
}

// Store groups every collaborator; both the gorm and the in-memory
// implementations satisfy it.
type Store interface {
	SubscriptionStore
	PlanStore
	CouponStore
	PaymentStore
	NotificationStore
	SubscriptionLogStore
}
