package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ownership is the oracle's verdict on whether a document belongs to the
// tenant that uploaded it. Missing or ambiguous answers are Unknown, never
// False.
type Ownership string

const (
	OwnershipTrue    Ownership = "TRUE"
	OwnershipFalse   Ownership = "FALSE"
	OwnershipUnknown Ownership = "UNKNOWN"
)

type ExtractedRecord struct {
	DocumentType     string              `json:"document_type"`
	TransactionType  TransactionType     `json:"transaction_type"`
	CounterpartyName string              `json:"counterparty_name"`
	OwnerName        string              `json:"owner_name"`
	TotalAmount      decimal.NullDecimal `json:"total_amount"`
	Currency         string              `json:"currency"`
	TransactionDate  *time.Time          `json:"transaction_date,omitempty"`
	Description      string              `json:"description"`
	BelongsToTenant  Ownership           `json:"belongs_to_tenant"`
	Confidence       float64             `json:"confidence"`
}

// Complete reports whether the record carries enough to book a transaction
// without review.
func (r *ExtractedRecord) Complete() bool {
	return r.TotalAmount.Valid && r.Currency != "" && r.CounterpartyName != ""
}

// OwnerHint is the name the ownership check compares against the tenant.
func (r *ExtractedRecord) OwnerHint() string {
	if r.OwnerName != "" {
		return r.OwnerName
	}
	return r.CounterpartyName
}

type TenantCandidate struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	Confidence    float64   `json:"confidence"`
	SuggestedName string    `json:"suggested_name"`
	LastActiveAt  time.Time `json:"last_active_at"`
}

type MatchResult struct {
	Candidates          []TenantCandidate `json:"candidates"`
	IsMultiTenant       bool              `json:"is_multi_tenant"`
	SuggestedTenantName *string           `json:"suggested_tenant_name,omitempty"`
}
