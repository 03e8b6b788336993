package payments

import (
	"context"
	"strings"

	"github.com/stitchline/storefront-backend/pkg/config"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/monnify"
	"github.com/stitchline/storefront-backend/pkg/square"
)

// Registry holds the configured gateways. New sessions always open on the
// primary; webhooks and verification may address any registered provider.
type Registry struct {
	primary  Gateway
	gateways map[string]Gateway
}

func NewRegistry(primary Gateway, others ...Gateway) (*Registry, error) {
	if primary == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "primary payment gateway required")
	}
	r := &Registry{primary: primary, gateways: map[string]Gateway{primary.Name(): primary}}
	for _, g := range others {
		if g == nil {
			continue
		}
		if _, exists := r.gateways[g.Name()]; exists {
			continue
		}
		r.gateways[g.Name()] = g
	}
	return r, nil
}

func (r *Registry) Primary() Gateway { return r.primary }

// Get resolves a provider by name; an empty name means the primary.
func (r *Registry) Get(name string) (Gateway, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return r.primary, nil
	}
	g, ok := r.gateways[key]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider").WithDetails(map[string]any{"provider": key})
	}
	return g, nil
}

// NewRegistryFromConfig builds the configured primary gateway plus any other
// provider whose credentials are present, so late webhooks from a previously
// active provider still reconcile.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Registry, error) {
	var (
		mon Gateway
		sq  Gateway
	)
	if cfg.Monnify.APIKey != "" && cfg.Monnify.SecretKey != "" && cfg.Monnify.ContractCode != "" {
		client, err := monnify.NewClient(cfg.Monnify, logg)
		if err != nil {
			return nil, err
		}
		mon = NewMonnifyGateway(client)
	}
	if cfg.Square.AccessToken != "" {
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, err
		}
		sq = NewSquareGateway(client)
	}

	switch cfg.Payments.ProviderName() {
	case config.ProviderSquare:
		if sq == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "square gateway not configured")
		}
		return NewRegistry(sq, mon)
	default:
		if mon == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "monnify gateway not configured")
		}
		return NewRegistry(mon, sq)
	}
}
