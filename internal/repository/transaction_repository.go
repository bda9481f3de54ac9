package repository

import (
	"context"
	"errors"

	"finrecon/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var transactionColumns = []string{
	"id", "document_id", "tenant_id", "type", "status", "amount", "currency", "counterparty_name",
	"description", "transaction_date", "needs_review", "created_at", "updated_at",
}

type TransactionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTransactionRepository(db *pgxpool.Pool, logger *zap.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		logger: logger,
	}
}

// GetByDocumentID returns nil, nil when the document has no transaction.
func (r *TransactionRepository) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*models.Transaction, error) {
	query := squirrel.Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"document_id": documentID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var tx models.Transaction
	err = r.db.QueryRow(ctx, sql, args...).Scan(
		&tx.ID, &tx.DocumentID, &tx.TenantID, &tx.Type, &tx.Status, &tx.Amount, &tx.Currency, &tx.CounterpartyName,
		&tx.Description, &tx.TransactionDate, &tx.NeedsReview, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// InsertIfAbsent inserts tx unless the document already has a transaction.
// It reports whether this call created the row.
func (r *TransactionRepository) InsertIfAbsent(ctx context.Context, tx *models.Transaction) (bool, error) {
	sql, args, err := insertIfAbsentQuery(tx).ToSql()
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func insertIfAbsentQuery(tx *models.Transaction) squirrel.InsertBuilder {
	return squirrel.Insert("transactions").
		Columns(transactionColumns...).
		Values(
			tx.ID, tx.DocumentID, tx.TenantID, tx.Type, tx.Status, tx.Amount, tx.Currency, tx.CounterpartyName,
			tx.Description, tx.TransactionDate, tx.NeedsReview, tx.CreatedAt, tx.UpdatedAt,
		).
		Suffix("ON CONFLICT (document_id) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar)
}

// UpdateDraft rewrites the extracted fields of a DRAFT transaction. It
// reports false when the row is no longer a draft owned by tx.TenantID.
func (r *TransactionRepository) UpdateDraft(ctx context.Context, tx *models.Transaction) (bool, error) {
	sql, args, err := updateDraftQuery(tx).ToSql()
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func updateDraftQuery(tx *models.Transaction) squirrel.UpdateBuilder {
	return squirrel.Update("transactions").
		Set("type", tx.Type).
		Set("amount", tx.Amount).
		Set("currency", tx.Currency).
		Set("counterparty_name", tx.CounterpartyName).
		Set("description", tx.Description).
		Set("transaction_date", tx.TransactionDate).
		Set("needs_review", tx.NeedsReview).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{
			"id":        tx.ID,
			"tenant_id": tx.TenantID,
			"status":    models.TransactionStatusDraft,
		}).
		PlaceholderFormat(squirrel.Dollar)
}
