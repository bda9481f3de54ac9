package service

import (
	"context"
	"fmt"

	"finrecon/internal/models"

	"go.uber.org/zap"
)

// OracleRouter dispatches to the extraction backend a tenant selected.
type OracleRouter struct {
	oracles  map[models.AIProvider]ExtractionOracle
	fallback models.AIProvider
	logger   *zap.Logger
}

func NewOracleRouter(fallback models.AIProvider, logger *zap.Logger) *OracleRouter {
	return &OracleRouter{
		oracles:  make(map[models.AIProvider]ExtractionOracle),
		fallback: fallback,
		logger:   logger,
	}
}

// Register adds or replaces the oracle for a provider. It is not safe to
// call once extraction has started.
func (r *OracleRouter) Register(provider models.AIProvider, oracle ExtractionOracle) {
	r.oracles[provider] = oracle
}

func (r *OracleRouter) Extract(ctx context.Context, content []byte, mimeType string, provider ProviderConfig) (*models.ExtractedRecord, error) {
	if provider.Provider == "" {
		provider.Provider = r.fallback
	}
	oracle, ok := r.oracles[provider.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider.Provider)
	}

	r.logger.Debug("Dispatching extraction",
		zap.String("provider", string(provider.Provider)),
		zap.String("model", provider.Model),
	)
	return oracle.Extract(ctx, content, mimeType, provider)
}
