package service

import (
	"context"

	"finrecon/internal/models"
	"finrecon/internal/repository"

	"github.com/google/uuid"
)

type DocumentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, update repository.StatusUpdate) error
	// ReassignTenant inserts created, when non-nil, in the same database
	// transaction that moves the document.
	ReassignTenant(ctx context.Context, id, from, to uuid.UUID, created *models.Tenant) error
}

type DedupIndex interface {
	FindByTenantAndHash(ctx context.Context, tenantID uuid.UUID, hash string, exclude uuid.UUID) ([]uuid.UUID, error)
}

type ContentStore interface {
	Download(ctx context.Context, storagePath string) ([]byte, error)
}

type TransactionStore interface {
	GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*models.Transaction, error)
	InsertIfAbsent(ctx context.Context, tx *models.Transaction) (bool, error)
	UpdateDraft(ctx context.Context, tx *models.Transaction) (bool, error)
}

type CorrectionStore interface {
	UpsertOpen(ctx context.Context, c *models.TransactionCorrection) error
}

type TenantDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Tenant, error)
	CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error)
	TouchActivity(ctx context.Context, id uuid.UUID) error
}

type PolicySource interface {
	GetDefault(ctx context.Context) (*models.TenantMismatchPolicy, error)
	GetOverride(ctx context.Context, tenantID uuid.UUID) (*models.PolicyOverride, error)
}

type PolicyStore interface {
	EffectivePolicy(ctx context.Context, tenantID uuid.UUID) (models.TenantMismatchPolicy, error)
}

// ProviderConfig selects the model a tenant extracts with. TenantNames
// lets the model judge whether the document belongs to the tenant.
type ProviderConfig struct {
	Provider    models.AIProvider
	Model       string
	TenantNames []string
}

type ExtractionOracle interface {
	Extract(ctx context.Context, content []byte, mimeType string, provider ProviderConfig) (*models.ExtractedRecord, error)
}

// Inspection describes content a ContentInspector accepted. MimeType is
// the normalized type the oracle should be given.
type Inspection struct {
	MimeType  string
	PageCount int
}

// ContentInspector validates raw content before it is sent to an oracle.
type ContentInspector interface {
	Inspect(content []byte, mimeType string) (Inspection, error)
}

type TenantMatcher interface {
	FindTenantCandidates(ctx context.Context, counterpartyName string, requestingTenantID uuid.UUID) (*models.MatchResult, error)
}

type TransactionMaterializer interface {
	Upsert(ctx context.Context, documentID uuid.UUID, record *models.ExtractedRecord, tenantID uuid.UUID) (*models.Transaction, models.MaterializeAction, error)
}

type AuditSink interface {
	Write(ctx context.Context, entry *models.AuditEntry) error
}

type DocumentLocker interface {
	// TryLock returns lock.ErrBusy when the document is already held.
	TryLock(ctx context.Context, documentID uuid.UUID) (func(), error)
}
