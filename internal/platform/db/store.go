package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/types"
)

const integrationName = "postgres"

// Store implements store.Store on gorm.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// classify maps gorm errors onto the apperr taxonomy.
func classify(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(entity, id)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("%s already exists: %s", entity, id)
	}
	return apperr.Unavailable(op, integrationName, err)
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var out models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&out).Error; err != nil {
		return nil, classify("get subscription", "subscription", id, err)
	}
	return &out, nil
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var out models.Subscription
	if err := s.db.WithContext(ctx).Where("external_subscription_id = ?", externalID).First(&out).Error; err != nil {
		return nil, classify("get subscription by external id", "subscription", externalID, err)
	}
	return &out, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	return classify("create subscription", "subscription", sub.ID, s.db.WithContext(ctx).Create(sub).Error)
}

func (s *Store) CompareAndSwapSubscription(ctx context.Context, next *models.Subscription, expected int) (bool, error) {
	next.Version = expected + 1
	next.UpdatedAt = time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND version = ?", next.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(next)
	if res.Error != nil {
		next.Version = expected
		return false, classify("update subscription", "subscription", next.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		next.Version = expected
		return false, nil
	}
	return true, nil
}

func (s *Store) FindSubscriptions(ctx context.Context, q store.SubscriptionQuery) ([]*models.Subscription, error) {
	filters := q.Filters()
	for _, f := range filters {
		if err := f.Validate(store.SubscriptionColumns); err != nil {
			return nil, apperr.Validation("invalid subscription query: %v", err)
		}
	}
	tx := s.db.WithContext(ctx).Model(&models.Subscription{})
	if len(filters) > 0 {
		tx = tx.Where(filters)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var out []*models.Subscription
	if err := tx.Order("next_billing_date ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, classify("find subscriptions", "subscription", "", err)
	}
	return out, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	var out models.SubscriptionPlan
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&out).Error; err != nil {
		return nil, classify("get plan", "plan", id, err)
	}
	return &out, nil
}

func (s *Store) GetPlanByExternalID(ctx context.Context, externalID string) (*models.SubscriptionPlan, error) {
	var out models.SubscriptionPlan
	if err := s.db.WithContext(ctx).Where("external_plan_id = ?", externalID).First(&out).Error; err != nil {
		return nil, classify("get plan by external id", "plan", externalID, err)
	}
	return &out, nil
}

func (s *Store) CreatePlan(ctx context.Context, p *models.SubscriptionPlan) error {
	return classify("create plan", "plan", p.ID, s.db.WithContext(ctx).Create(p).Error)
}

func (s *Store) UpdatePlan(ctx context.Context, id string, patch store.PlanPatch) error {
	if patch.Empty() {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.SubscriptionPlan{}).Where("id = ?", id).Updates(patch.Columns())
	if res.Error != nil {
		return classify("update plan", "plan", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("plan", id)
	}
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, id string) (*models.Coupon, error) {
	var out models.Coupon
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&out).Error; err != nil {
		return nil, classify("get coupon", "coupon", id, err)
	}
	return &out, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var out models.Coupon
	if err := s.db.WithContext(ctx).Where("UPPER(code) = UPPER(?)", code).First(&out).Error; err != nil {
		return nil, classify("get coupon by code", "coupon", code, err)
	}
	return &out, nil
}

func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	return classify("create coupon", "coupon", c.ID, s.db.WithContext(ctx).Create(c).Error)
}

func (s *Store) IncrementCouponUsage(ctx context.Context, id string, discount decimal.Decimal) error {
	res := s.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"usage_count":           gorm.Expr("usage_count + ?", 1),
			"total_discount_amount": gorm.Expr("total_discount_amount + ?", discount),
		})
	if res.Error != nil {
		return classify("increment coupon usage", "coupon", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("coupon", id)
	}
	return nil
}

func (s *Store) AppendPayment(ctx context.Context, p *models.Payment) error {
	return classify("append payment", "payment", p.ID, s.db.WithContext(ctx).Create(p).Error)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var out models.Payment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&out).Error; err != nil {
		return nil, classify("get payment", "payment", id, err)
	}
	return &out, nil
}

func (s *Store) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var out models.Payment
	if err := s.db.WithContext(ctx).Where("external_payment_id = ?", externalID).First(&out).Error; err != nil {
		return nil, classify("get payment by external id", "payment", externalID, err)
	}
	return &out, nil
}

func (s *Store) FindPayments(ctx context.Context, subscriptionID string, statuses ...types.PaymentStatus) ([]*models.Payment, error) {
	tx := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID)
	if len(statuses) > 0 {
		tx = tx.Where("status IN ?", statuses)
	}
	var out []*models.Payment
	if err := tx.Order("id DESC").Find(&out).Error; err != nil {
		return nil, classify("find payments", "payment", subscriptionID, err)
	}
	return out, nil
}

var paymentTransitionColumns = []string{
	"status", "external_payment_id", "external_status", "payment_date", "gateway_response", "updated_at",
}

func (s *Store) TransitionPayment(ctx context.Context, p *models.Payment, from types.PaymentStatus) (bool, error) {
	p.UpdatedAt = time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, from).
		Select(paymentTransitionColumns).
		Updates(p)
	if res.Error != nil {
		return false, classify("transition payment", "payment", p.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) InsertNotification(ctx context.Context, n *models.WebhookNotification) (*models.WebhookNotification, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(n)
	if res.Error != nil {
		return nil, false, classify("insert notification", "webhook notification", n.EventID, res.Error)
	}
	if res.RowsAffected > 0 {
		return n, true, nil
	}
	var existing models.WebhookNotification
	if err := s.db.WithContext(ctx).Where("source = ? AND event_id = ?", n.Source, n.EventID).First(&existing).Error; err != nil {
		return nil, false, classify("get notification", "webhook notification", n.EventID, err)
	}
	return &existing, false, nil
}

func (s *Store) UpdateNotification(ctx context.Context, n *models.WebhookNotification) error {
	res := s.db.WithContext(ctx).
		Model(&models.WebhookNotification{}).
		Where("source = ? AND event_id = ?", n.Source, n.EventID).
		Select("process_status", "processed_at", "error", "result", "event_type", "updated_at").
		Updates(n)
	return classify("update notification", "webhook notification", n.EventID, res.Error)
}

func (s *Store) FindRetryableNotifications(ctx context.Context, staleBefore, since time.Time, limit int) ([]*models.WebhookNotification, error) {
	tx := s.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Where(s.db.Where("process_status = ?", models.WebhookNotificationStatusError).
			Or("process_status = ? AND updated_at < ?", models.WebhookNotificationStatusPending, staleBefore))
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var out []*models.WebhookNotification
	if err := tx.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, classify("find retryable notifications", "webhook notification", "", err)
	}
	return out, nil
}

func (s *Store) AppendSubscriptionLog(ctx context.Context, l *models.SubscriptionLog) error {
	return classify("append subscription log", "subscription log", l.ID, s.db.WithContext(ctx).Create(l).Error)
}
