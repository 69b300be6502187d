package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

// Payment is an append-only ledger row for one charge attempt.
// There is at most one row per ExternalPaymentID; repeat notifications update it.
type Payment struct {
	ID             string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string              `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency       string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status         types.PaymentStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	// ExternalPaymentID is the gateway's payment id, unknown until the gateway accepts the charge.
	ExternalPaymentID *string `gorm:"column:external_payment_id;type:varchar(128);uniqueIndex" json:"external_payment_id"`
	// ExternalStatus is the raw gateway status string, kept for troubleshooting.
	ExternalStatus *string `gorm:"column:external_status;type:varchar(64);default:null" json:"external_status"`
	// IdempotencyKey identifies the billed period of a renewal charge and is sent to the gateway.
	IdempotencyKey *string          `gorm:"column:idempotency_key;type:varchar(160);uniqueIndex" json:"idempotency_key,omitempty"`
	CouponID       *string          `gorm:"column:coupon_id;type:uuid;default:null" json:"coupon_id"`
	DiscountAmount *decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);default:null" json:"discount_amount"`
	OriginalAmount *decimal.Decimal `gorm:"column:original_amount;type:numeric(12,2);default:null" json:"original_amount"`
	PaymentDate    *time.Time       `gorm:"column:payment_date;default:null" json:"payment_date"`
	// GatewayResponse is the last raw gateway payload seen for this payment.
	GatewayResponse datatypes.JSON `gorm:"column:gateway_response;type:jsonb;default:'{}'" json:"gateway_response"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.ExternalPaymentID = clonePtr(p.ExternalPaymentID)
	c.ExternalStatus = clonePtr(p.ExternalStatus)
	c.IdempotencyKey = clonePtr(p.IdempotencyKey)
	c.CouponID = clonePtr(p.CouponID)
	c.DiscountAmount = clonePtr(p.DiscountAmount)
	c.OriginalAmount = clonePtr(p.OriginalAmount)
	c.PaymentDate = clonePtr(p.PaymentDate)
	if p.GatewayResponse != nil {
		c.GatewayResponse = append(datatypes.JSON(nil), p.GatewayResponse...)
	}
	return &c
}
