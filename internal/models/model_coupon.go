package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

// Coupon is a discount definition. UsageCount and TotalDiscountAmount only move
// when a payment that applied the coupon becomes APPROVED.
type Coupon struct {
	ID                string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Code              string                   `gorm:"column:code;type:varchar(64);not null;uniqueIndex" json:"code"`
	DiscountType      types.CouponDiscountType `gorm:"column:discount_type;type:varchar(32);not null" json:"discount_type"`
	DiscountValue     decimal.Decimal          `gorm:"column:discount_value;type:numeric(12,2);not null" json:"discount_value"`
	MaxDiscountAmount *decimal.Decimal         `gorm:"column:max_discount_amount;type:numeric(12,2);default:null" json:"max_discount_amount"`
	StartDate         time.Time                `gorm:"column:start_date;not null" json:"start_date"`
	EndDate           time.Time                `gorm:"column:end_date;not null" json:"end_date"`
	Status            types.CouponStatus       `gorm:"column:status;type:varchar(32);not null" json:"status"`
	AppliesToAllPlans bool                     `gorm:"column:applies_to_all_plans;not null;default:false" json:"applies_to_all_plans"`
	// PlanIDs restricts the coupon when AppliesToAllPlans is false.
	PlanIDs             datatypes.JSONSlice[string] `gorm:"column:plan_ids;type:jsonb;default:'[]'" json:"plan_ids"`
	UsageCount          int                         `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	TotalDiscountAmount decimal.Decimal             `gorm:"column:total_discount_amount;type:numeric(12,2);not null;default:0" json:"total_discount_amount"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

func (Coupon) TableName() string {
	return "coupon"
}

func (c *Coupon) AppliesTo(planID string) bool {
	if c == nil {
		return false
	}
	return c.AppliesToAllPlans || slices.Contains([]string(c.PlanIDs), planID)
}
