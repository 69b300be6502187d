// Package gateway is the outbound adapter to the payment gateway.
package gateway

import "context"

// Client is the capability surface of the payment gateway used by the services.
type Client interface {
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, action SubscriptionAction) (*Subscription, error)
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetMerchantOrder(ctx context.Context, id string) (*MerchantOrder, error)
	GetPlan(ctx context.Context, id string) (*Plan, error)
}
