package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"finrecon/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AuditRepository stores one row per reconciliation run. The full entry is
// kept as jsonb; a few columns are lifted out for filtering.
type AuditRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAuditRepository(db *pgxpool.Pool, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

func (r *AuditRepository) Write(ctx context.Context, entry *models.AuditEntry) error {
	query, err := insertAuditQuery(entry)
	if err != nil {
		return err
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

func insertAuditQuery(entry *models.AuditEntry) (squirrel.InsertBuilder, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return squirrel.InsertBuilder{}, fmt.Errorf("failed to encode audit entry: %w", err)
	}

	return squirrel.Insert("reconciliation_audit").
		Columns("id", "document_id", "tenant_id", "resolution", "final_status", "records_created", "payload", "created_at").
		Values(entry.ID, entry.DocumentID, entry.TenantID, nullString(string(entry.Resolution)), nullString(string(entry.FinalStatus)), entry.RecordsCreated, payload, entry.CreatedAt).
		PlaceholderFormat(squirrel.Dollar), nil
}

func (r *AuditRepository) ListByDocument(ctx context.Context, documentID uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	query := squirrel.Select("payload").
		From("reconciliation_audit").
		Where(squirrel.Eq{"document_id": documentID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			r.logger.Warn("Skipping unreadable audit entry", zap.Error(err))
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
