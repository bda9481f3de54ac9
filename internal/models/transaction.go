package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeExpense  TransactionType = "EXPENSE"
	TransactionTypeIncome   TransactionType = "INCOME"
	TransactionTypeTransfer TransactionType = "TRANSFER"
	TransactionTypeUnknown  TransactionType = "UNKNOWN"
)

type TransactionStatus string

const (
	TransactionStatusDraft  TransactionStatus = "DRAFT"
	TransactionStatusPosted TransactionStatus = "POSTED"
	TransactionStatusVoid   TransactionStatus = "VOID"
)

// Transaction is the accounting record derived from a document. document_id
// is unique, so a document yields at most one transaction.
type Transaction struct {
	ID               uuid.UUID           `db:"id"`
	DocumentID       uuid.UUID           `db:"document_id"`
	TenantID         uuid.UUID           `db:"tenant_id"`
	Type             TransactionType     `db:"type"`
	Status           TransactionStatus   `db:"status"`
	Amount           decimal.NullDecimal `db:"amount"`
	Currency         string              `db:"currency"`
	CounterpartyName string              `db:"counterparty_name"`
	Description      string              `db:"description"`
	TransactionDate  *time.Time          `db:"transaction_date"`
	NeedsReview      bool                `db:"needs_review"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}

type CorrectionStatus string

const (
	CorrectionStatusOpen      CorrectionStatus = "OPEN"
	CorrectionStatusApplied   CorrectionStatus = "APPLIED"
	CorrectionStatusDismissed CorrectionStatus = "DISMISSED"
)

// TransactionCorrection carries re-extracted values for a posted
// transaction, which is never edited in place.
type TransactionCorrection struct {
	ID               uuid.UUID           `db:"id"`
	TransactionID    uuid.UUID           `db:"transaction_id"`
	DocumentID       uuid.UUID           `db:"document_id"`
	TenantID         uuid.UUID           `db:"tenant_id"`
	Type             TransactionType     `db:"type"`
	Amount           decimal.NullDecimal `db:"amount"`
	Currency         string              `db:"currency"`
	CounterpartyName string              `db:"counterparty_name"`
	Status           CorrectionStatus    `db:"status"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}
