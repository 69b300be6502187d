package models

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

// Subscription is a user's recurring agreement to pay for a plan.
// Rows are never hard-deleted; CANCELED is terminal.
type Subscription struct {
	ID     string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string                   `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	PlanID string                   `gorm:"column:plan_id;type:uuid;not null" json:"plan_id"`
	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_subscription_due,priority:1" json:"status"`
	// IsPaused is only meaningful while ACTIVE. A paused subscription is never renewed.
	IsPaused bool       `gorm:"column:is_paused;not null;default:false" json:"is_paused"`
	PausedAt *time.Time `gorm:"column:paused_at;default:null" json:"paused_at"`

	StartDate          time.Time `gorm:"column:start_date;not null" json:"start_date"`
	CurrentPeriodStart time.Time `gorm:"column:current_period_start;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `gorm:"column:current_period_end;not null" json:"current_period_end"`
	NextBillingDate    time.Time `gorm:"column:next_billing_date;not null;index:idx_subscription_due,priority:2" json:"next_billing_date"`

	// RenewalFailures counts consecutive failed renewals; reset on every approved payment.
	RenewalFailures    int        `gorm:"column:renewal_failures;not null;default:0" json:"renewal_failures"`
	RenewalAttemptDate *time.Time `gorm:"column:renewal_attempt_date;default:null" json:"renewal_attempt_date"`
	// RenewalClaimedFor is the NextBillingDate an in-flight renewal is charging.
	// It is cleared when the charge settles; a stale claim expires with the renewal lease.
	RenewalClaimedFor *time.Time `gorm:"column:renewal_claimed_for;default:null" json:"renewal_claimed_for,omitempty"`

	// CanceledAt is set iff Status is CANCELED.
	CanceledAt   *time.Time `gorm:"column:canceled_at;default:null" json:"canceled_at"`
	CancelReason *string    `gorm:"column:cancel_reason;type:varchar(255);default:null" json:"cancel_reason"`

	ExternalSubscriptionID *string `gorm:"column:external_subscription_id;type:varchar(128);uniqueIndex" json:"external_subscription_id"`

	// CouponID, DiscountAmount and OriginalPrice are set only when a coupon was applied at checkout.
	CouponID       *string          `gorm:"column:coupon_id;type:uuid;default:null" json:"coupon_id"`
	DiscountAmount *decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);default:null" json:"discount_amount"`
	OriginalPrice  *decimal.Decimal `gorm:"column:original_price;type:numeric(12,2);default:null" json:"original_price"`

	Metadata datatypes.JSONMap `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	// Version is the optimistic concurrency token, bumped on every committed transition.
	Version   int       `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

func (s *Subscription) Canceled() bool {
	return s != nil && s.Status == types.SubscriptionStatusCanceled
}

// Clone returns a deep copy so that callers can mutate it without touching shared state.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.PausedAt = clonePtr(s.PausedAt)
	c.RenewalAttemptDate = clonePtr(s.RenewalAttemptDate)
	c.RenewalClaimedFor = clonePtr(s.RenewalClaimedFor)
	c.CanceledAt = clonePtr(s.CanceledAt)
	c.CancelReason = clonePtr(s.CancelReason)
	c.ExternalSubscriptionID = clonePtr(s.ExternalSubscriptionID)
	c.CouponID = clonePtr(s.CouponID)
	c.DiscountAmount = clonePtr(s.DiscountAmount)
	c.OriginalPrice = clonePtr(s.OriginalPrice)
	if s.Metadata != nil {
		c.Metadata = maps.Clone(s.Metadata)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
