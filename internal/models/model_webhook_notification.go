package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookNotificationStatus string

const (
	WebhookNotificationStatusPending   WebhookNotificationStatus = "pending"
	WebhookNotificationStatusProcessed WebhookNotificationStatus = "processed"
	WebhookNotificationStatusError     WebhookNotificationStatus = "error"
)

// WebhookNotification is the write-ahead record of an inbound notification.
// (Source, EventID) is unique; a processed row marks the event as done.
type WebhookNotification struct {
	ID            string                    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Source        string                    `gorm:"column:source;type:varchar(64);not null;uniqueIndex:unique_source_event_id,priority:1" json:"source"`
	EventType     string                    `gorm:"column:event_type;type:varchar(64);not null" json:"event_type"`
	EventID       string                    `gorm:"column:event_id;type:varchar(255);not null;uniqueIndex:unique_source_event_id,priority:2" json:"event_id"`
	TraceID       string                    `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	RawData       datatypes.JSON            `gorm:"column:raw_data;type:jsonb" json:"raw_data"`
	ProcessStatus WebhookNotificationStatus `gorm:"column:process_status;type:varchar(32);not null" json:"process_status"`
	ProcessedAt   *time.Time                `gorm:"column:processed_at;default:null" json:"processed_at"`
	Error         *string                   `gorm:"column:error;type:text;default:null" json:"error"`
	// Result is the processing outcome, returned as-is for duplicate deliveries.
	Result    *datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	LiveMode  bool            `gorm:"column:live_mode;not null;default:false" json:"live_mode"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (WebhookNotification) TableName() string { return "webhook_notification" }
