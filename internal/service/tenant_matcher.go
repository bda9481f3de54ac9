package service

import (
	"context"
	"fmt"
	"sort"

	"finrecon/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NameTenantMatcher ranks the sibling tenants of the requesting tenant's
// account by how well their names match the counterparty.
type NameTenantMatcher struct {
	tenants TenantDirectory
	floor   float64
	logger  *zap.Logger
}

// NewNameTenantMatcher drops candidates scoring below floor.
func NewNameTenantMatcher(tenants TenantDirectory, floor float64, logger *zap.Logger) *NameTenantMatcher {
	return &NameTenantMatcher{
		tenants: tenants,
		floor:   floor,
		logger:  logger,
	}
}

func (m *NameTenantMatcher) FindTenantCandidates(ctx context.Context, counterpartyName string, requestingTenantID uuid.UUID) (*models.MatchResult, error) {
	requesting, err := m.tenants.GetByID(ctx, requestingTenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requesting tenant: %w", err)
	}

	siblings, err := m.tenants.ListByAccount(ctx, requesting.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account tenants: %w", err)
	}

	result := &models.MatchResult{
		IsMultiTenant: len(siblings) > 1,
	}
	if cleaned := CleanName(counterpartyName); cleaned != "" {
		result.SuggestedTenantName = &cleaned
	}

	for _, t := range siblings {
		// never offer the tenant that is being moved away from
		if t.ID == requestingTenantID {
			continue
		}
		score := BestSimilarity(counterpartyName, t.IdentityNames())
		if score < m.floor || score == 0 {
			continue
		}
		result.Candidates = append(result.Candidates, models.TenantCandidate{
			TenantID:      t.ID,
			Confidence:    score,
			SuggestedName: t.Name,
			LastActiveAt:  t.LastActiveAt,
		})
	}

	rankCandidates(result.Candidates)

	m.logger.Debug("Tenant candidates ranked",
		zap.String("requesting_tenant_id", requestingTenantID.String()),
		zap.Int("siblings", len(siblings)),
		zap.Int("candidates", len(result.Candidates)),
	)

	return result, nil
}

// rankCandidates orders by confidence, then most recent activity, then id
// so the order is stable across runs.
func rankCandidates(c []models.TenantCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		if !c[i].LastActiveAt.Equal(c[j].LastActiveAt) {
			return c[i].LastActiveAt.After(c[j].LastActiveAt)
		}
		return c[i].TenantID.String() < c[j].TenantID.String()
	})
}
