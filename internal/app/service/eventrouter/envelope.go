// Package eventrouter routes normalized gateway notifications to one processor each.
package eventrouter

import (
	"strings"
	"time"

	"github.com/fatflowers/billing/pkg/types"
)

type EventType string

const (
	EventPayment          EventType = "PAYMENT"
	EventInvoice          EventType = "INVOICE"
	EventSubscription     EventType = "SUBSCRIPTION"
	EventPlan             EventType = "PLAN"
	EventMerchantOrder    EventType = "MERCHANT_ORDER"
	EventPointIntegration EventType = "POINT_INTEGRATION"
)

var eventTypes = map[string]EventType{
	"payment":                         EventPayment,
	"subscription_authorized_payment": EventInvoice,
	"authorized_payment":              EventInvoice,
	"invoice":                         EventInvoice,
	"subscription_preapproval":        EventSubscription,
	"preapproval":                     EventSubscription,
	"subscription":                    EventSubscription,
	"subscription_preapproval_plan":   EventPlan,
	"preapproval_plan":                EventPlan,
	"plan":                            EventPlan,
	"merchant_order":                  EventMerchantOrder,
	"topic_merchant_order_wh":         EventMerchantOrder,
	"point_integration_wh":            EventPointIntegration,
}

// NormalizeEventType maps a raw gateway notification type to its canonical
// name. Unknown types are returned unchanged.
func NormalizeEventType(raw string) EventType {
	if t, ok := eventTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return EventType(raw)
}

// Envelope is an admitted notification.
type Envelope struct {
	Integration types.IntegrationType `json:"integration"`
	Type        EventType             `json:"type"`
	RawType     string                `json:"raw_type"`
	EventID     string                `json:"event_id"`
	// ExternalID is the gateway id of the resource the notification is about.
	ExternalID  string     `json:"external_id"`
	Action      string     `json:"action,omitempty"`
	LiveMode    bool       `json:"live_mode"`
	RawPayload  []byte     `json:"-"`
	DateCreated *time.Time `json:"date_created,omitempty"`
}

// Outcome is what processing an envelope did. It is stored with the
// notification and returned verbatim for duplicate deliveries.
type Outcome struct {
	EventID        string    `json:"event_id"`
	Type           EventType `json:"type"`
	Duplicate      bool      `json:"duplicate"`
	Changed        bool      `json:"changed"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	PaymentIDs     []string  `json:"payment_ids,omitempty"`
	PlanID         string    `json:"plan_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}
