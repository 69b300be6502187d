package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc, failures uint32) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := &config.Config{Gateway: config.GatewayConfig{
		BaseURL:         srv.URL,
		AccessToken:     "tok",
		Timeout:         2 * time.Second,
		BreakerFailures: failures,
		BreakerTimeout:  time.Minute,
	}}
	return NewHTTPClient(cfg, zap.NewNop().Sugar()), srv
}

func TestHTTPClient_CreatePayment(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payments", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "pay-1", r.Header.Get("X-Idempotency-Key"))

		var body CreatePaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "pay-1", body.ExternalReference)
		require.True(t, body.Amount.Equal(decimal.NewFromInt(90)))

		_, _ = w.Write([]byte(`{"id":"ext-9","status":"approved","external_reference":"pay-1","amount":"90"}`))
	}, 5)

	p, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		IdempotencyKey:    "pay-1",
		ExternalReference: "pay-1",
		Amount:            decimal.NewFromInt(90),
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.Equal(t, "ext-9", p.ID)
	require.Equal(t, StatusApproved, p.Status)
	require.JSONEq(t, `{"id":"ext-9","status":"approved","external_reference":"pay-1","amount":"90"}`, string(p.Raw))
}

func TestHTTPClient_UpdateSubscriptionSendsTargetStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/subscriptions/ext-1", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, StatusPaused, body["status"])
		_, _ = w.Write([]byte(`{"id":"ext-1","status":"paused"}`))
	}, 5)

	s, err := c.UpdateSubscription(context.Background(), "ext-1", ActionPause)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, s.Status)

	_, err = c.UpdateSubscription(context.Background(), "ext-1", SubscriptionAction("bogus"))
	require.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/v1/payments/bad":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}, 5)
	ctx := context.Background()

	_, err := c.GetPayment(ctx, "missing")
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = c.GetPayment(ctx, "bad")
	require.True(t, errors.Is(err, apperr.ErrValidation))
	require.False(t, apperr.IsRetryable(err))

	_, err = c.GetPayment(ctx, "down")
	require.True(t, errors.Is(err, apperr.ErrServiceUnavailable))
	var sue *apperr.ServiceUnavailableError
	require.True(t, errors.As(err, &sue))
	require.Equal(t, "gateway", sue.Integration)
}

func TestHTTPClient_BreakerOpensOnlyOnUnavailability(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/v1/plans/bad" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 2)
	ctx := context.Background()

	// client errors never trip the breaker
	for range 3 {
		_, err := c.GetPlan(ctx, "bad")
		require.True(t, errors.Is(err, apperr.ErrValidation))
	}

	for range 2 {
		_, err := c.GetPlan(ctx, "p1")
		require.True(t, errors.Is(err, apperr.ErrServiceUnavailable))
	}
	require.Equal(t, int32(5), hits.Load())

	_, err := c.GetPlan(ctx, "p1")
	require.True(t, errors.Is(err, apperr.ErrServiceUnavailable))
	require.Equal(t, int32(5), hits.Load(), "open breaker must short-circuit")
}
