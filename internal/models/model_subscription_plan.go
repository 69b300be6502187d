package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/billing/pkg/types"
)

type SubscriptionPlan struct {
	ID            string             `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Name          string             `gorm:"column:name;type:varchar(128);not null;uniqueIndex" json:"name"`
	Price         decimal.Decimal    `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Currency      string             `gorm:"column:currency;type:varchar(8);not null;default:'USD'" json:"currency"`
	Interval      types.PlanInterval `gorm:"column:interval;type:varchar(32);not null" json:"interval"`
	IntervalCount int                `gorm:"column:interval_count;not null;default:1" json:"interval_count"`
	TrialDays     int                `gorm:"column:trial_days;not null;default:0" json:"trial_days"`
	IsActive      bool               `gorm:"column:is_active;not null;default:true" json:"is_active"`
	// ExternalPlanID links the plan to its counterpart on the payment gateway.
	ExternalPlanID *string   `gorm:"column:external_plan_id;type:varchar(128);uniqueIndex" json:"external_plan_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (SubscriptionPlan) TableName() string {
	return "subscription_plan"
}
