package gateway

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/pkg/types"
)

// Raw gateway statuses. Subscription and payment statuses share a namespace
// on the gateway; unknown values are passed through untouched.
const (
	StatusAuthorized  = "authorized"
	StatusPaused      = "paused"
	StatusCancelled   = "cancelled"
	StatusPending     = "pending"
	StatusRejected    = "rejected"
	StatusExpired     = "expired"
	StatusApproved    = "approved"
	StatusInProcess   = "in_process"
	StatusRefunded    = "refunded"
	StatusChargedBack = "charged_back"
)

type SubscriptionAction string

const (
	ActionPause  SubscriptionAction = "pause"
	ActionResume SubscriptionAction = "resume"
	ActionCancel SubscriptionAction = "cancel"
)

// TargetStatus is the remote status an action moves a subscription to.
func (a SubscriptionAction) TargetStatus() string {
	switch a {
	case ActionPause:
		return StatusPaused
	case ActionResume:
		return StatusAuthorized
	case ActionCancel:
		return StatusCancelled
	}
	return ""
}

type CreateSubscriptionRequest struct {
	// ExternalReference is the local subscription id.
	ExternalReference string             `json:"external_reference"`
	PayerID           string             `json:"payer_id"`
	PlanExternalID    string             `json:"plan_id,omitempty"`
	Reason            string             `json:"reason"`
	Amount            decimal.Decimal    `json:"amount"`
	Currency          string             `json:"currency"`
	Interval          types.PlanInterval `json:"interval"`
	IntervalCount     int                `json:"interval_count"`
	StartDate         time.Time          `json:"start_date"`
}

type Subscription struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference"`
	NextPaymentDate   *time.Time      `json:"next_payment_date,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

type CreatePaymentRequest struct {
	// IdempotencyKey makes retries of the same charge safe.
	IdempotencyKey         string          `json:"-"`
	ExternalReference      string          `json:"external_reference"`
	SubscriptionExternalID string          `json:"subscription_id,omitempty"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	Description            string          `json:"description"`
}

type Payment struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail,omitempty"`
	ExternalReference string          `json:"external_reference"`
	SubscriptionID    string          `json:"subscription_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	DateApproved      *time.Time      `json:"date_approved,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

type MerchantOrderPayment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type MerchantOrder struct {
	ID                string                 `json:"id"`
	ExternalReference string                 `json:"external_reference"`
	Payments          []MerchantOrderPayment `json:"payments"`
	Raw               json.RawMessage        `json:"-"`
}

type Plan struct {
	ID        string           `json:"id"`
	Name      *string          `json:"name,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Status    string           `json:"status"`
	TrialDays *int             `json:"trial_days,omitempty"`
	Raw       json.RawMessage  `json:"-"`
}
