package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/metrics"
)

const integrationName = "gateway"

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.Code, e.Body)
}

// unavailable reports failures that say something about gateway health.
// 4xx answers are the caller's problem and must not trip the breaker.
func unavailable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}

// HTTPClient is a JSON/REST implementation of Client guarded by a circuit breaker.
type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     *zap.SugaredLogger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg *config.Config, l *zap.SugaredLogger) *HTTPClient {
	gc := cfg.Gateway
	failures := gc.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := gc.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(gc.BaseURL, "/"),
		token:   gc.AccessToken,
		timeout: timeout,
		http:    &http.Client{},
		log:     l,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    integrationName,
		Timeout: gc.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool { return !unavailable(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.SetBreakerState(name, float64(to))
		},
	})
	return c
}

// do executes one request. out, when non-nil, receives the decoded body;
// the raw body is returned for callers that keep the gateway payload.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in any, headers map[string]string, out any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if in != nil {
			buf, err := json.Marshal(in)
			if err != nil {
				return nil, &StatusError{Code: http.StatusBadRequest, Body: err.Error()}
			}
			reader = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, &StatusError{Code: http.StatusBadRequest, Body: err.Error()}
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
		}
		return raw, nil
	})
	if err != nil {
		return nil, c.classify(op, path, err)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, apperr.Validation("decode gateway %s response: %v", op, err)
		}
	}
	return body, nil
}

func (c *HTTPClient) classify(op, path string, err error) error {
	var se *StatusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.Unavailable(op, integrationName, err)
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		return apperr.NotFound("gateway resource", path)
	case errors.As(err, &se) && !unavailable(se):
		return fmt.Errorf("%w: gateway %s: %v", apperr.ErrValidation, op, se)
	default:
		c.log.Warnw("gateway call failed", "op", op, "path", path, "error", err)
		return apperr.Unavailable(op, integrationName, err)
	}
}

func escape(id string) string { return url.PathEscape(id) }

func (c *HTTPClient) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	var out Subscription
	raw, err := c.do(ctx, "create subscription", http.MethodPost, "/v1/subscriptions", req,
		map[string]string{"X-Idempotency-Key": "sub-" + req.ExternalReference}, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *HTTPClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var out Subscription
	raw, err := c.do(ctx, "get subscription", http.MethodGet, "/v1/subscriptions/"+escape(id), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *HTTPClient) UpdateSubscription(ctx context.Context, id string, action SubscriptionAction) (*Subscription, error) {
	status := action.TargetStatus()
	if status == "" {
		return nil, apperr.Validation("unknown subscription action: %s", action)
	}
	var out Subscription
	raw, err := c.do(ctx, "update subscription", http.MethodPut, "/v1/subscriptions/"+escape(id),
		map[string]string{"status": status}, nil, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *HTTPClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	var headers map[string]string
	if req.IdempotencyKey != "" {
		headers = map[string]string{"X-Idempotency-Key": req.IdempotencyKey}
	}
	var out Payment
	raw, err := c.do(ctx, "create payment", http.MethodPost, "/v1/payments", req, headers, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *HTTPClient) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out Payment
	raw, err := c.do(ctx, "get payment", http.MethodGet, "/v1/payments/"+escape(id), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *HTTPClient) GetMerchantOrder(ctx context.Context, id string) (*MerchantOrder, error) {
	var out MerchantOrder
	raw, err := c.do(ctx, "get merchant order", http.MethodGet, "/v1/merchant_orders/"+escape(id), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

func (c *HTTPClient) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var out Plan
	raw, err := c.do(ctx, "get plan", http.MethodGet, "/v1/plans/"+escape(id), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

var Module = fx.Options(
	fx.Provide(
		NewHTTPClient,
		func(c *HTTPClient) Client { return c },
	),
)
