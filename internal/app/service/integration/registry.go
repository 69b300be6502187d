// Package integration holds one entry per gateway webhook integration.
package integration

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

// Known lists the integration types accepted by the webhook endpoint.
var Known = []types.IntegrationType{
	types.IntegrationSubscriptions,
	types.IntegrationPayments,
	types.IntegrationPoint,
}

type Integration struct {
	Type    types.IntegrationType
	Secret  string
	Gateway gateway.Client
}

// Registry is built once at startup; lookups never create entries.
type Registry struct {
	entries       map[types.IntegrationType]*Integration
	allowUnsigned bool
}

func NewRegistry(cfg *config.Config, client gateway.Client) (*Registry, error) {
	r := &Registry{
		entries:       make(map[types.IntegrationType]*Integration, len(Known)),
		allowUnsigned: !cfg.IsProd(),
	}
	for _, t := range Known {
		r.entries[t] = &Integration{Type: t, Secret: cfg.WebhookSecret(t), Gateway: client}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate fails when a production registry has an integration without a secret.
func (r *Registry) Validate() error {
	if r.allowUnsigned {
		return nil
	}
	for _, t := range Known {
		if r.entries[t].Secret == "" {
			return fmt.Errorf("integration %q: webhook secret is required in prod", t)
		}
	}
	return nil
}

// Parse resolves a path segment to a known integration type.
func Parse(s string) (types.IntegrationType, bool) {
	for _, t := range Known {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

func (r *Registry) Get(t types.IntegrationType) (*Integration, bool) {
	e, ok := r.entries[t]
	return e, ok
}

// AllowUnsigned reports whether notifications without a configured secret are accepted.
func (r *Registry) AllowUnsigned() bool { return r.allowUnsigned }

var Module = fx.Options(
	fx.Provide(NewRegistry),
)
