// Package memory is an in-process implementation of store.Store used by
// tests and the local dev profile. Every read and write copies the row.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/types"
)

type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]*models.Subscription
	plans         map[string]*models.SubscriptionPlan
	coupons       map[string]*models.Coupon
	payments      map[string]*models.Payment
	notifications map[string]*models.WebhookNotification
	logs          []*models.SubscriptionLog
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		subscriptions: map[string]*models.Subscription{},
		plans:         map[string]*models.SubscriptionPlan{},
		coupons:       map[string]*models.Coupon{},
		payments:      map[string]*models.Payment{},
		notifications: map[string]*models.WebhookNotification{},
	}
}

func (s *Store) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, apperr.NotFound("subscription", id)
	}
	return sub.Clone(), nil
}

func (s *Store) GetSubscriptionByExternalID(_ context.Context, externalID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscriptions {
		if sub.ExternalSubscriptionID != nil && *sub.ExternalSubscriptionID == externalID {
			return sub.Clone(), nil
		}
	}
	return nil, apperr.NotFound("subscription", externalID)
}

func (s *Store) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; ok {
		return apperr.Conflict("subscription already exists: %s", sub.ID)
	}
	if err := s.checkExternalSubscriptionID(sub); err != nil {
		return err
	}
	now := time.Now()
	if sub.Version == 0 {
		sub.Version = 1
	}
	sub.CreatedAt, sub.UpdatedAt = now, now
	s.subscriptions[sub.ID] = sub.Clone()
	return nil
}

func (s *Store) CompareAndSwapSubscription(_ context.Context, next *models.Subscription, expected int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.subscriptions[next.ID]
	if !ok {
		return false, apperr.NotFound("subscription", next.ID)
	}
	if cur.Version != expected {
		return false, nil
	}
	if err := s.checkExternalSubscriptionID(next); err != nil {
		return false, err
	}
	next.Version = expected + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now()
	s.subscriptions[next.ID] = next.Clone()
	return true, nil
}

func (s *Store) checkExternalSubscriptionID(sub *models.Subscription) error {
	if sub.ExternalSubscriptionID == nil {
		return nil
	}
	for id, other := range s.subscriptions {
		if id != sub.ID && other.ExternalSubscriptionID != nil && *other.ExternalSubscriptionID == *sub.ExternalSubscriptionID {
			return apperr.Conflict("external subscription id already linked: %s", *sub.ExternalSubscriptionID)
		}
	}
	return nil
}

func (s *Store) FindSubscriptions(_ context.Context, q store.SubscriptionQuery) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if q.Matches(sub) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextBillingDate.Equal(out[j].NextBillingDate) {
			return out[i].NextBillingDate.Before(out[j].NextBillingDate)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) GetPlan(_ context.Context, id string) (*models.SubscriptionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, apperr.NotFound("plan", id)
	}
	c := *p
	return &c, nil
}

func (s *Store) GetPlanByExternalID(_ context.Context, externalID string) (*models.SubscriptionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.ExternalPlanID != nil && *p.ExternalPlanID == externalID {
			c := *p
			return &c, nil
		}
	}
	return nil, apperr.NotFound("plan", externalID)
}

func (s *Store) CreatePlan(_ context.Context, p *models.SubscriptionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.plans {
		if other.Name == p.Name {
			return apperr.Conflict("plan name already exists: %s", p.Name)
		}
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	c := *p
	s.plans[p.ID] = &c
	return nil
}

func (s *Store) UpdatePlan(_ context.Context, id string, patch store.PlanPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return apperr.NotFound("plan", id)
	}
	patch.ApplyTo(p)
	p.UpdatedAt = time.Now()
	return nil
}

func cloneCoupon(c *models.Coupon) *models.Coupon {
	out := *c
	out.PlanIDs = slices.Clone(c.PlanIDs)
	if c.MaxDiscountAmount != nil {
		v := *c.MaxDiscountAmount
		out.MaxDiscountAmount = &v
	}
	return &out
}

func (s *Store) GetCoupon(_ context.Context, id string) (*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, apperr.NotFound("coupon", id)
	}
	return cloneCoupon(c), nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.coupons {
		if strings.EqualFold(c.Code, code) {
			return cloneCoupon(c), nil
		}
	}
	return nil, apperr.NotFound("coupon", code)
}

func (s *Store) CreateCoupon(_ context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.coupons[c.ID] = cloneCoupon(c)
	return nil
}

func (s *Store) IncrementCouponUsage(_ context.Context, id string, discount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return apperr.NotFound("coupon", id)
	}
	c.UsageCount++
	c.TotalDiscountAmount = c.TotalDiscountAmount.Add(discount)
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) AppendPayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; ok {
		return apperr.Conflict("payment already exists: %s", p.ID)
	}
	if err := s.checkExternalPaymentID(p); err != nil {
		return err
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.payments[p.ID] = p.Clone()
	return nil
}

func (s *Store) checkExternalPaymentID(p *models.Payment) error {
	if p.ExternalPaymentID == nil {
		return nil
	}
	for id, other := range s.payments {
		if id != p.ID && other.ExternalPaymentID != nil && *other.ExternalPaymentID == *p.ExternalPaymentID {
			return apperr.Conflict("external payment id already recorded: %s", *p.ExternalPaymentID)
		}
	}
	return nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment", id)
	}
	return p.Clone(), nil
}

func (s *Store) GetPaymentByExternalID(_ context.Context, externalID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == externalID {
			return p.Clone(), nil
		}
	}
	return nil, apperr.NotFound("payment", externalID)
}

func (s *Store) FindPayments(_ context.Context, subscriptionID string, statuses ...types.PaymentStatus) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.SubscriptionID != subscriptionID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, p.Status) {
			continue
		}
		out = append(out, p.Clone())
	}
	// uuid v7 ids sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) TransitionPayment(_ context.Context, p *models.Payment, from types.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.payments[p.ID]
	if !ok {
		return false, apperr.NotFound("payment", p.ID)
	}
	if cur.Status != from {
		return false, nil
	}
	if err := s.checkExternalPaymentID(p); err != nil {
		return false, err
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now()
	s.payments[p.ID] = p.Clone()
	return true, nil
}

func notificationKey(source, eventID string) string { return source + "\x00" + eventID }

func (s *Store) InsertNotification(_ context.Context, n *models.WebhookNotification) (*models.WebhookNotification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := notificationKey(n.Source, n.EventID)
	if existing, ok := s.notifications[key]; ok {
		c := *existing
		return &c, false, nil
	}
	now := time.Now()
	n.CreatedAt, n.UpdatedAt = now, now
	c := *n
	s.notifications[key] = &c
	return n, true, nil
}

func (s *Store) UpdateNotification(_ context.Context, n *models.WebhookNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := notificationKey(n.Source, n.EventID)
	if _, ok := s.notifications[key]; !ok {
		return apperr.NotFound("webhook notification", n.EventID)
	}
	n.UpdatedAt = time.Now()
	c := *n
	s.notifications[key] = &c
	return nil
}

func (s *Store) FindRetryableNotifications(_ context.Context, staleBefore, since time.Time, limit int) ([]*models.WebhookNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WebhookNotification
	for _, n := range s.notifications {
		if n.CreatedAt.Before(since) {
			continue
		}
		stale := n.ProcessStatus == models.WebhookNotificationStatusPending && n.UpdatedAt.Before(staleBefore)
		if n.ProcessStatus != models.WebhookNotificationStatusError && !stale {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetNotificationTimes backdates a stored notification, for tests.
func (s *Store) SetNotificationTimes(source, eventID string, created, updated time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notifications[notificationKey(source, eventID)]; ok {
		n.CreatedAt, n.UpdatedAt = created, updated
	}
}

// Notification returns the stored notification, for assertions.
func (s *Store) Notification(source, eventID string) (*models.WebhookNotification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[notificationKey(source, eventID)]
	if !ok {
		return nil, false
	}
	c := *n
	return &c, true
}

func (s *Store) AppendSubscriptionLog(_ context.Context, l *models.SubscriptionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.CreatedAt = time.Now()
	c := *l
	s.logs = append(s.logs, &c)
	return nil
}

// SubscriptionLogs returns the change log of a subscription in append order.
func (s *Store) SubscriptionLogs(subscriptionID string) []*models.SubscriptionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SubscriptionLog
	for _, l := range s.logs {
		if l.SubscriptionID == subscriptionID {
			c := *l
			out = append(out, &c)
		}
	}
	return out
}
