// Package notification_log keeps the write-ahead record of inbound webhook notifications.
package notification_log

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/store"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
)

type Service struct {
	store store.NotificationStore
	log   *zap.SugaredLogger
	now   func() time.Time
}

func New(st store.Store, log *zap.SugaredLogger) *Service {
	return &Service{store: st, log: log, now: time.Now}
}

// Begin records n as pending before it is processed. When (source, event id)
// was already processed it returns the stored row with duplicate=true; rows
// left pending or in error are handed back for another attempt.
func (s *Service) Begin(ctx context.Context, n *models.WebhookNotification) (*models.WebhookNotification, bool, error) {
	if n == nil {
		return nil, false, fmt.Errorf("notification is required")
	}
	if n.ID == "" {
		n.ID = tool.GenerateUUIDV7()
	}
	if n.TraceID == "" {
		n.TraceID = logctx.TraceID(ctx)
	}
	n.ProcessStatus = models.WebhookNotificationStatusPending

	stored, inserted, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record notification: %w", err)
	}
	if inserted {
		return stored, false, nil
	}
	dup := stored.ProcessStatus == models.WebhookNotificationStatusProcessed
	logctx.FromCtx(ctx, s.log).Infow("notification seen before",
		"source", stored.Source, "event_id", stored.EventID, "status", stored.ProcessStatus, "duplicate", dup)
	return stored, dup, nil
}

// Finish marks n processed, or error when procErr is set, storing result for later duplicates.
func (s *Service) Finish(ctx context.Context, n *models.WebhookNotification, result any, procErr error) error {
	now := s.now()
	n.ProcessedAt = &now
	n.ProcessStatus = models.WebhookNotificationStatusProcessed
	n.Error = nil
	if procErr != nil {
		n.ProcessStatus = models.WebhookNotificationStatusError
		msg := procErr.Error()
		n.Error = &msg
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("failed to encode notification result", "event_id", n.EventID, "error", err)
		} else {
			r := datatypes.JSON(raw)
			n.Result = &r
		}
	}
	if err := s.store.UpdateNotification(ctx, n); err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to save notification log: %v", err)
		return fmt.Errorf("failed to finish notification %s: %w", n.EventID, err)
	}
	return nil
}

// Retryable returns notifications created since that need another attempt:
// those that ended in error and those left pending before staleBefore.
func (s *Service) Retryable(ctx context.Context, staleBefore, since time.Time, limit int) ([]*models.WebhookNotification, error) {
	rows, err := s.store.FindRetryableNotifications(ctx, staleBefore, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable notifications: %w", err)
	}
	return rows, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
