package service

import (
	"context"
	"errors"
	"fmt"

	"finrecon/internal/models"
	"finrecon/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PolicyService merges the platform default policy with a tenant's
// override. Nothing is cached: every call reads the store so edits apply
// to the next run.
type PolicyService struct {
	source   PolicySource
	fallback models.TenantMismatchPolicy
	logger   *zap.Logger
}

// NewPolicyService uses fallback when the store has no platform default.
func NewPolicyService(source PolicySource, fallback models.TenantMismatchPolicy, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		source:   source,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *PolicyService) EffectivePolicy(ctx context.Context, tenantID uuid.UUID) (models.TenantMismatchPolicy, error) {
	base := s.fallback
	def, err := s.source.GetDefault(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Debug("No platform policy row, using configured defaults")
	case err != nil:
		return models.TenantMismatchPolicy{}, fmt.Errorf("failed to load default policy: %w", err)
	default:
		base = *def
	}

	override, err := s.source.GetOverride(ctx, tenantID)
	if err != nil {
		return models.TenantMismatchPolicy{}, fmt.Errorf("failed to load tenant policy: %w", err)
	}

	return base.Merge(override), nil
}
