package service

import (
	"context"
	"fmt"
	"time"

	"finrecon/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Materializer turns an extracted record into the single transaction a
// document may own. It never posts anything.
type Materializer struct {
	transactions TransactionStore
	corrections  CorrectionStore
	logger       *zap.Logger
	now          func() time.Time
}

func NewMaterializer(transactions TransactionStore, corrections CorrectionStore, logger *zap.Logger) *Materializer {
	return &Materializer{
		transactions: transactions,
		corrections:  corrections,
		logger:       logger,
		now:          time.Now,
	}
}

func (m *Materializer) Upsert(ctx context.Context, documentID uuid.UUID, record *models.ExtractedRecord, tenantID uuid.UUID) (*models.Transaction, models.MaterializeAction, error) {
	existing, err := m.transactions.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, models.MaterializeNone, fmt.Errorf("%w: failed to look up transaction: %w", ErrMaterializationFailure, err)
	}

	if existing == nil {
		draft := m.newDraft(documentID, record, tenantID)
		inserted, err := m.transactions.InsertIfAbsent(ctx, draft)
		if err != nil {
			return nil, models.MaterializeNone, fmt.Errorf("%w: failed to insert transaction: %w", ErrMaterializationFailure, err)
		}
		if inserted {
			m.logger.Info("Draft transaction created",
				zap.String("document_id", documentID.String()),
				zap.String("transaction_id", draft.ID.String()),
				zap.String("tenant_id", tenantID.String()),
			)
			return draft, models.MaterializeCreated, nil
		}

		// another writer inserted first; continue as an update of its row
		existing, err = m.transactions.GetByDocumentID(ctx, documentID)
		if err != nil {
			return nil, models.MaterializeNone, fmt.Errorf("%w: failed to reload transaction: %w", ErrMaterializationFailure, err)
		}
		if existing == nil {
			return nil, models.MaterializeNone, fmt.Errorf("%w: transaction vanished after conflicting insert", ErrMaterializationFailure)
		}
	}

	if existing.TenantID != tenantID {
		m.logger.Error("Transaction owned by another tenant",
			zap.String("document_id", documentID.String()),
			zap.String("transaction_id", existing.ID.String()),
			zap.String("owner_tenant_id", existing.TenantID.String()),
			zap.String("tenant_id", tenantID.String()),
		)
		return existing, models.MaterializeNone, ErrTenantConflict
	}

	switch existing.Status {
	case models.TransactionStatusVoid:
		m.logger.Info("Void transaction left untouched",
			zap.String("transaction_id", existing.ID.String()),
		)
		return existing, models.MaterializeSkippedVoid, nil

	case models.TransactionStatusPosted:
		if err := m.openCorrection(ctx, existing, record); err != nil {
			return nil, models.MaterializeNone, err
		}
		return existing, models.MaterializeCorrection, nil

	default:
		return m.updateDraft(ctx, existing, record)
	}
}

func (m *Materializer) newDraft(documentID uuid.UUID, record *models.ExtractedRecord, tenantID uuid.UUID) *models.Transaction {
	now := m.now()
	tx := &models.Transaction{
		ID:         uuid.New(),
		DocumentID: documentID,
		TenantID:   tenantID,
		Status:     models.TransactionStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyRecord(tx, record)
	return tx
}

func (m *Materializer) updateDraft(ctx context.Context, existing *models.Transaction, record *models.ExtractedRecord) (*models.Transaction, models.MaterializeAction, error) {
	updated := *existing
	applyRecord(&updated, record)
	updated.UpdatedAt = m.now()

	ok, err := m.transactions.UpdateDraft(ctx, &updated)
	if err != nil {
		return nil, models.MaterializeNone, fmt.Errorf("%w: failed to update transaction: %w", ErrMaterializationFailure, err)
	}
	if !ok {
		// posted or voided between the read and the write
		return nil, models.MaterializeNone, fmt.Errorf("%w: transaction %s is no longer a draft", ErrMaterializationFailure, existing.ID)
	}

	m.logger.Info("Draft transaction updated",
		zap.String("transaction_id", updated.ID.String()),
		zap.String("document_id", updated.DocumentID.String()),
	)
	return &updated, models.MaterializeUpdated, nil
}

func (m *Materializer) openCorrection(ctx context.Context, posted *models.Transaction, record *models.ExtractedRecord) error {
	now := m.now()
	c := &models.TransactionCorrection{
		ID:               uuid.New(),
		TransactionID:    posted.ID,
		DocumentID:       posted.DocumentID,
		TenantID:         posted.TenantID,
		Type:             transactionType(record),
		Amount:           record.TotalAmount,
		Currency:         record.Currency,
		CounterpartyName: record.CounterpartyName,
		Status:           models.CorrectionStatusOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.corrections.UpsertOpen(ctx, c); err != nil {
		return fmt.Errorf("%w: failed to record correction: %w", ErrMaterializationFailure, err)
	}

	m.logger.Info("Correction opened for posted transaction",
		zap.String("transaction_id", posted.ID.String()),
		zap.String("correction_id", c.ID.String()),
	)
	return nil
}

func applyRecord(tx *models.Transaction, record *models.ExtractedRecord) {
	tx.Type = transactionType(record)
	tx.Amount = record.TotalAmount
	tx.Currency = record.Currency
	tx.CounterpartyName = sanitizeUTF8(record.CounterpartyName)
	tx.Description = sanitizeUTF8(record.Description)
	tx.TransactionDate = record.TransactionDate
	tx.NeedsReview = !record.Complete()
}

func transactionType(record *models.ExtractedRecord) models.TransactionType {
	if record.TransactionType == "" {
		return models.TransactionTypeUnknown
	}
	return record.TransactionType
}
