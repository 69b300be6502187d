// Package gatewaytest provides an in-memory gateway.Client for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/pkg/apperr"
)

// Fake records calls and serves canned gateway state.
type Fake struct {
	mu sync.Mutex

	Subscriptions  map[string]*gateway.Subscription
	Payments       map[string]*gateway.Payment
	MerchantOrders map[string]*gateway.MerchantOrder
	Plans          map[string]*gateway.Plan

	// PaymentStatus is assigned to payments created by CreatePayment. Default "approved".
	PaymentStatus string
	// Err, when set, is returned by every call.
	Err error
	// UpdateErr, when set, is returned by UpdateSubscription only.
	UpdateErr error

	Calls []string

	byIdempotencyKey map[string]string
	seq              int
}

var _ gateway.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Subscriptions:    map[string]*gateway.Subscription{},
		Payments:         map[string]*gateway.Payment{},
		MerchantOrders:   map[string]*gateway.MerchantOrder{},
		Plans:            map[string]*gateway.Plan{},
		byIdempotencyKey: map[string]string{},
	}
}

// Unavailable returns an error shaped like an HTTPClient infrastructure failure.
func Unavailable(op string) error {
	return apperr.Unavailable(op, "gateway", fmt.Errorf("connection refused"))
}

func (f *Fake) record(call string) error {
	f.Calls = append(f.Calls, call)
	return f.Err
}

// CallCount returns how many times call was made.
func (f *Fake) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func withRaw[T any](v *T, set func(*T, json.RawMessage)) *T {
	c := *v
	raw, _ := json.Marshal(c)
	set(&c, raw)
	return &c
}

func subRaw(s *gateway.Subscription, raw json.RawMessage) { s.Raw = raw }
func payRaw(p *gateway.Payment, raw json.RawMessage)      { p.Raw = raw }

func (f *Fake) CreateSubscription(_ context.Context, req gateway.CreateSubscriptionRequest) (*gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateSubscription"); err != nil {
		return nil, err
	}
	next := req.StartDate
	s := &gateway.Subscription{
		ID:                f.nextID("ext-sub"),
		Status:            gateway.StatusPending,
		ExternalReference: req.ExternalReference,
		NextPaymentDate:   &next,
	}
	f.Subscriptions[s.ID] = s
	return withRaw(s, subRaw), nil
}

func (f *Fake) GetSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetSubscription"); err != nil {
		return nil, err
	}
	s, ok := f.Subscriptions[id]
	if !ok {
		return nil, apperr.NotFound("gateway resource", id)
	}
	return withRaw(s, subRaw), nil
}

func (f *Fake) UpdateSubscription(_ context.Context, id string, action gateway.SubscriptionAction) (*gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateSubscription:" + string(action)); err != nil {
		return nil, err
	}
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	s, ok := f.Subscriptions[id]
	if !ok {
		return nil, apperr.NotFound("gateway resource", id)
	}
	s.Status = action.TargetStatus()
	return withRaw(s, subRaw), nil
}

func (f *Fake) CreatePayment(_ context.Context, req gateway.CreatePaymentRequest) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePayment"); err != nil {
		return nil, err
	}
	if id, ok := f.byIdempotencyKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return withRaw(f.Payments[id], payRaw), nil
	}
	status := f.PaymentStatus
	if status == "" {
		status = gateway.StatusApproved
	}
	p := &gateway.Payment{
		ID:                f.nextID("ext-pay"),
		Status:            status,
		ExternalReference: req.ExternalReference,
		SubscriptionID:    req.SubscriptionExternalID,
		Amount:            req.Amount,
		Currency:          req.Currency,
	}
	if status == gateway.StatusApproved {
		now := time.Now()
		p.DateApproved = &now
	}
	f.Payments[p.ID] = p
	if req.IdempotencyKey != "" {
		f.byIdempotencyKey[req.IdempotencyKey] = p.ID
	}
	return withRaw(p, payRaw), nil
}

func (f *Fake) GetPayment(_ context.Context, id string) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetPayment"); err != nil {
		return nil, err
	}
	p, ok := f.Payments[id]
	if !ok {
		return nil, apperr.NotFound("gateway resource", id)
	}
	return withRaw(p, payRaw), nil
}

func (f *Fake) GetMerchantOrder(_ context.Context, id string) (*gateway.MerchantOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetMerchantOrder"); err != nil {
		return nil, err
	}
	o, ok := f.MerchantOrders[id]
	if !ok {
		return nil, apperr.NotFound("gateway resource", id)
	}
	c := *o
	return &c, nil
}

func (f *Fake) GetPlan(_ context.Context, id string) (*gateway.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetPlan"); err != nil {
		return nil, err
	}
	p, ok := f.Plans[id]
	if !ok {
		return nil, apperr.NotFound("gateway resource", id)
	}
	c := *p
	return &c, nil
}

// SetPayment stores or replaces a gateway payment.
func (f *Fake) SetPayment(p *gateway.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *p
	f.Payments[p.ID] = &c
}

// SetSubscription stores or replaces a gateway subscription.
func (f *Fake) SetSubscription(s *gateway.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	f.Subscriptions[s.ID] = &c
}
