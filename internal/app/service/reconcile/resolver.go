package reconcile

import (
	"context"
	"strings"

	"github.com/fatflowers/billing/pkg/config"
)

type SystemVariant string

const (
	VariantCurrent SystemVariant = "current"
	// VariantLegacy ids are still owned by the previous subscription system
	// and are left alone until the migration completes.
	VariantLegacy SystemVariant = "legacy"
)

type Resolver interface {
	Resolve(ctx context.Context, externalID string) SystemVariant
}

// PrefixResolver classifies external ids by configured legacy prefixes.
type PrefixResolver struct {
	prefixes []string
}

func NewPrefixResolver(cfg *config.Config) *PrefixResolver {
	r := &PrefixResolver{}
	if cfg != nil {
		for _, p := range cfg.Reconcile.LegacyPrefixes {
			if p = strings.TrimSpace(p); p != "" {
				r.prefixes = append(r.prefixes, p)
			}
		}
	}
	return r
}

func (r *PrefixResolver) Resolve(_ context.Context, externalID string) SystemVariant {
	for _, p := range r.prefixes {
		if strings.HasPrefix(externalID, p) {
			return VariantLegacy
		}
	}
	return VariantCurrent
}
