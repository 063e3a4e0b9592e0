package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
)

// Router implements schemas.ModelPort and dispatches requests to the tiered
// clients: advisory checks ride the fast model, step generation the
// powerful one.
type Router struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.ModelPort
}

var _ schemas.ModelPort = (*Router)(nil)

// NewRouter creates a router with one client per tier.
func NewRouter(logger *zap.Logger, fastClient, powerfulClient schemas.ModelPort) (*Router, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	return &Router{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.ModelPort{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
	}, nil
}

// Generate routes on the request's tier, defaulting to the powerful tier
// when unspecified.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no model client configured for tier: %s", tier)
	}

	r.logger.Debug("Routing model request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}
