package models

import (
	"time"

	"github.com/google/uuid"
)

type ResolutionOutcome string

const (
	ResolutionNone       ResolutionOutcome = "NONE"
	ResolutionReassigned ResolutionOutcome = "REASSIGNED"
	ResolutionCreated    ResolutionOutcome = "CREATED"
)

type MaterializeAction string

const (
	MaterializeCreated     MaterializeAction = "CREATED"
	MaterializeUpdated     MaterializeAction = "UPDATED"
	MaterializeCorrection  MaterializeAction = "CORRECTION"
	MaterializeSkippedVoid MaterializeAction = "SKIPPED_VOID"
	MaterializeNone        MaterializeAction = "NONE"
)

// ExtractionSummary is what the audit trail keeps of an extraction; the
// full record is never stored.
type ExtractionSummary struct {
	Provider         string    `json:"provider"`
	DocumentType     string    `json:"document_type"`
	TransactionType  string    `json:"transaction_type"`
	CounterpartyName string    `json:"counterparty_name"`
	Amount           string    `json:"amount,omitempty"`
	Currency         string    `json:"currency"`
	BelongsToTenant  Ownership `json:"belongs_to_tenant"`
	Confidence       float64   `json:"confidence"`
	Complete         bool      `json:"complete"`
}

// AuditEntry records one ProcessDocument invocation.
type AuditEntry struct {
	ID               uuid.UUID             `json:"id"`
	DocumentID       uuid.UUID             `json:"document_id"`
	TenantID         uuid.UUID             `json:"tenant_id"`
	ResolvedTenantID *uuid.UUID            `json:"resolved_tenant_id,omitempty"`
	Duplicate        bool                  `json:"duplicate"`
	DuplicateOf      []uuid.UUID           `json:"duplicate_of,omitempty"`
	Extraction       *ExtractionSummary    `json:"extraction,omitempty"`
	MismatchDetected bool                  `json:"mismatch_detected"`
	Resolution       ResolutionOutcome     `json:"resolution,omitempty"`
	Candidates       []TenantCandidate     `json:"candidates,omitempty"`
	Policy           *TenantMismatchPolicy `json:"policy,omitempty"`
	RecordsCreated   bool                  `json:"records_created"`
	Materialization  MaterializeAction     `json:"materialization"`
	TransactionID    *uuid.UUID            `json:"transaction_id,omitempty"`
	FinalStatus      DocumentStatus        `json:"final_status,omitempty"`
	Error            string                `json:"error,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}
