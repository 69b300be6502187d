package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

type message struct {
	key     string
	payload []byte
}

type recorder struct {
	msgs []message
	err  error
}

func (r *recorder) Publish(_ context.Context, key string, payload []byte) error {
	r.msgs = append(r.msgs, message{key: key, payload: payload})
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestEventName(t *testing.T) {
	pending := &models.Subscription{Status: types.SubscriptionStatusPending}
	active := &models.Subscription{Status: types.SubscriptionStatusActive}
	pastDue := &models.Subscription{Status: types.SubscriptionStatusPastDue}

	require.Equal(t, "activated", EventName(pending, active, types.SubscriptionChangeReasonPaymentApproved))
	require.Equal(t, "renewed", EventName(active, active, types.SubscriptionChangeReasonPaymentApproved))
	require.Equal(t, "past_due", EventName(active, pastDue, types.SubscriptionChangeReasonPaymentFailed))
	require.Equal(t, "payment_failed", EventName(pastDue, pastDue, types.SubscriptionChangeReasonPaymentFailed))
	require.Equal(t, "canceled", EventName(active, active, types.SubscriptionChangeReasonCancel))
	require.Equal(t, "reconciled", EventName(active, active, types.SubscriptionChangeReasonReconcile))
}

func TestPublish(t *testing.T) {
	rec := &recorder{}
	p := New(rec, zap.NewNop().Sugar())
	before := &models.Subscription{ID: "s1", UserID: "u1", Status: types.SubscriptionStatusActive}
	after := &models.Subscription{ID: "s1", UserID: "u1", Status: types.SubscriptionStatusCanceled}

	p.Publish(context.Background(), before, after, types.SubscriptionChangeReasonCancel)
	require.Len(t, rec.msgs, 1)
	require.Equal(t, "subscription.canceled", rec.msgs[0].key)

	var evt Event
	require.NoError(t, json.Unmarshal(rec.msgs[0].payload, &evt))
	require.Equal(t, "s1", evt.SubscriptionID)
	require.Equal(t, types.SubscriptionStatusActive, evt.From)
	require.Equal(t, types.SubscriptionStatusCanceled, evt.To)
}

func TestPublish_ErrorIsSwallowed(t *testing.T) {
	rec := &recorder{err: errors.New("broker down")}
	p := New(rec, zap.NewNop().Sugar())
	require.NotPanics(t, func() {
		p.Publish(context.Background(), nil, &models.Subscription{ID: "s1"}, types.SubscriptionChangeReasonCreate)
	})
	require.Len(t, rec.msgs, 1)

	var nilPub *Publisher
	require.NotPanics(t, func() {
		nilPub.Publish(context.Background(), nil, &models.Subscription{ID: "s1"}, types.SubscriptionChangeReasonCreate)
	})
}
