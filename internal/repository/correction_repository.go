package repository

import (
	"context"

	"finrecon/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type CorrectionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewCorrectionRepository(db *pgxpool.Pool, logger *zap.Logger) *CorrectionRepository {
	return &CorrectionRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertOpen creates the OPEN correction for a transaction or refreshes the
// existing one. c.ID is replaced with the id of the stored row.
func (r *CorrectionRepository) UpsertOpen(ctx context.Context, c *models.TransactionCorrection) error {
	sql, args, err := upsertOpenCorrectionQuery(c).ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRow(ctx, sql, args...).Scan(&c.ID)
}

func upsertOpenCorrectionQuery(c *models.TransactionCorrection) squirrel.InsertBuilder {
	return squirrel.Insert("transaction_corrections").
		Columns("id", "transaction_id", "document_id", "tenant_id", "type", "amount", "currency", "counterparty_name", "status", "created_at", "updated_at").
		Values(c.ID, c.TransactionID, c.DocumentID, c.TenantID, c.Type, c.Amount, c.Currency, c.CounterpartyName, models.CorrectionStatusOpen, c.CreatedAt, c.UpdatedAt).
		Suffix(`ON CONFLICT (transaction_id) WHERE status = 'OPEN' DO UPDATE SET
			type = EXCLUDED.type,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			counterparty_name = EXCLUDED.counterparty_name,
			updated_at = NOW()
		RETURNING id`).
		PlaceholderFormat(squirrel.Dollar)
}
