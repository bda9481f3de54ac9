package models

import (
	"time"

	"github.com/google/uuid"
)

type AIProvider string

const (
	AIProviderGigaChat AIProvider = "gigachat"
	AIProviderVertex   AIProvider = "vertex"
)

// Tenant is an isolated company workspace. Tenants sharing an AccountID
// are the only valid reassignment targets for one another.
type Tenant struct {
	ID           uuid.UUID  `db:"id"`
	AccountID    uuid.UUID  `db:"account_id"`
	Name         string     `db:"name"`
	LegalName    string     `db:"legal_name"`
	Aliases      []string   `db:"aliases"`
	AIProvider   AIProvider `db:"ai_provider"`
	AIModel      string     `db:"ai_model"`
	AutoCreated  bool       `db:"auto_created"`
	LastActiveAt time.Time  `db:"last_active_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

// IdentityNames lists every name the tenant is known by.
func (t *Tenant) IdentityNames() []string {
	names := make([]string, 0, 2+len(t.Aliases))
	if t.Name != "" {
		names = append(names, t.Name)
	}
	if t.LegalName != "" {
		names = append(names, t.LegalName)
	}
	for _, a := range t.Aliases {
		if a != "" {
			names = append(names, a)
		}
	}
	return names
}

// TenantMismatchPolicy controls automatic resolution of tenant mismatches.
type TenantMismatchPolicy struct {
	AllowAutoReassignment   bool    `db:"allow_auto_reassignment" json:"allow_auto_reassignment"`
	AllowAutoTenantCreation bool    `db:"allow_auto_tenant_creation" json:"allow_auto_tenant_creation"`
	MinConfidence           float64 `db:"min_confidence" json:"min_confidence"`
	MaxTenantsPerAccount    int     `db:"max_tenants_per_account" json:"max_tenants_per_account"`
}

// PolicyOverride holds the per-tenant columns; nil means inherit.
type PolicyOverride struct {
	AllowAutoReassignment   *bool
	AllowAutoTenantCreation *bool
	MinConfidence           *float64
	MaxTenantsPerAccount    *int
}

// Merge applies o on top of p.
func (p TenantMismatchPolicy) Merge(o *PolicyOverride) TenantMismatchPolicy {
	if o == nil {
		return p
	}
	if o.AllowAutoReassignment != nil {
		p.AllowAutoReassignment = *o.AllowAutoReassignment
	}
	if o.AllowAutoTenantCreation != nil {
		p.AllowAutoTenantCreation = *o.AllowAutoTenantCreation
	}
	if o.MinConfidence != nil {
		p.MinConfidence = *o.MinConfidence
	}
	if o.MaxTenantsPerAccount != nil {
		p.MaxTenantsPerAccount = *o.MaxTenantsPerAccount
	}
	return p
}

type ServiceClient struct {
	ID         uuid.UUID `db:"id"`
	Name       string    `db:"name"`
	SecretHash string    `db:"secret_hash"`
	CreatedAt  time.Time `db:"created_at"`
}
