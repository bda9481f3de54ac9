package service

import (
	"finrecon/internal/models"

	"github.com/google/uuid"
)

// Resolution is the decision taken for a detected tenant mismatch.
type Resolution struct {
	Outcome        models.ResolutionOutcome
	TargetTenantID uuid.UUID
	TenantName     string
	Confidence     float64
}

// ResolveMismatch applies policy to a match result. It has no side
// effects. remainingQuota is how many more tenants the requesting
// tenant's account may hold.
//
//   - no candidates: NONE, whatever the policy says
//   - best candidate at or above MinConfidence with reassignment allowed: REASSIGNED
//   - no candidate at MinConfidence, creation allowed, quota left: CREATED
//   - anything else: NONE
func ResolveMismatch(policy models.TenantMismatchPolicy, match *models.MatchResult, remainingQuota int, counterpartyName string) Resolution {
	if match == nil || len(match.Candidates) == 0 {
		return Resolution{Outcome: models.ResolutionNone}
	}

	top := match.Candidates[0]
	for _, c := range match.Candidates[1:] {
		if c.Confidence > top.Confidence {
			top = c
		}
	}
	qualifies := top.Confidence >= policy.MinConfidence

	if qualifies && policy.AllowAutoReassignment {
		return Resolution{
			Outcome:        models.ResolutionReassigned,
			TargetTenantID: top.TenantID,
			TenantName:     top.SuggestedName,
			Confidence:     top.Confidence,
		}
	}

	if !qualifies && policy.AllowAutoTenantCreation && remainingQuota > 0 {
		name := counterpartyName
		if match.SuggestedTenantName != nil && *match.SuggestedTenantName != "" {
			name = *match.SuggestedTenantName
		}
		name = CleanName(name)
		if name != "" {
			return Resolution{
				Outcome:    models.ResolutionCreated,
				TenantName: name,
			}
		}
	}

	return Resolution{Outcome: models.ResolutionNone}
}
