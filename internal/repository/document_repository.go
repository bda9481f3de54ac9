package repository

import (
	"context"
	"fmt"

	"finrecon/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var documentColumns = []string{
	"id", "tenant_id", "storage_path", "mime_type", "file_name", "content_hash", "status",
	"status_reason", "page_count", "processed_at", "created_at", "updated_at",
}

// StatusUpdate is the terminal state written at the end of a run. A zero
// PageCount or an empty ContentHash leaves the stored value alone.
type StatusUpdate struct {
	Status      models.DocumentStatus
	Reason      string
	PageCount   int
	ContentHash string
}

type DocumentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDocumentRepository(db *pgxpool.Pool, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var hash, reason *string
	err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.StoragePath, &doc.MimeType, &doc.FileName, &hash, &doc.Status,
		&reason, &doc.PageCount, &doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if hash != nil {
		doc.ContentHash = *hash
	}
	if reason != nil {
		doc.StatusReason = *reason
	}
	return &doc, nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := squirrel.Insert("documents").
		Columns("id", "tenant_id", "storage_path", "mime_type", "file_name", "content_hash", "status", "created_at", "updated_at").
		Values(doc.ID, doc.TenantID, doc.StoragePath, doc.MimeType, doc.FileName, nullString(doc.ContentHash), doc.Status, doc.CreatedAt, doc.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := squirrel.Select(documentColumns...).
		From("documents").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	doc, err := scanDocument(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) error {
	sql, args, err := updateStatusQuery(id, update).ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func updateStatusQuery(id uuid.UUID, update StatusUpdate) squirrel.UpdateBuilder {
	q := squirrel.Update("documents").
		Set("status", update.Status).
		Set("status_reason", nullString(update.Reason)).
		Set("processed_at", squirrel.Expr("NOW()")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)
	if update.PageCount > 0 {
		q = q.Set("page_count", update.PageCount)
	}
	if update.ContentHash != "" {
		q = q.Set("content_hash", update.ContentHash)
	}
	return q
}

// FindByTenantAndHash returns the documents of tenantID already ingested with
// the same content hash. A document counts as ingested once it has a
// transaction; pending, failed and duplicate uploads never match.
func (r *DocumentRepository) FindByTenantAndHash(ctx context.Context, tenantID uuid.UUID, hash string, exclude uuid.UUID) ([]uuid.UUID, error) {
	sql, args, err := findByTenantAndHashQuery(tenantID, hash, exclude).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

var ingestedStatuses = []string{
	string(models.DocumentStatusProcessed),
	string(models.DocumentStatusNeedsReview),
}

func findByTenantAndHashQuery(tenantID uuid.UUID, hash string, exclude uuid.UUID) squirrel.SelectBuilder {
	return squirrel.Select("d.id").
		From("documents d").
		Where(squirrel.Eq{"d.tenant_id": tenantID, "d.content_hash": hash, "d.status": ingestedStatuses}).
		Where(squirrel.NotEq{"d.id": exclude}).
		Where("EXISTS (SELECT 1 FROM transactions t WHERE t.document_id = d.id)").
		OrderBy("d.created_at ASC").
		PlaceholderFormat(squirrel.Dollar)
}

// ReassignTenant moves a document and its derived transaction, if any, from
// one tenant to another in a single database transaction. When created is
// non-nil the target tenant is inserted in that same transaction, so a
// failed move never leaves an orphan tenant behind.
func (r *DocumentRepository) ReassignTenant(ctx context.Context, id, from, to uuid.UUID, created *models.Tenant) error {
	return WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if created != nil {
			tenantSQL, tenantArgs, err := insertTenantQuery(created).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, tenantSQL, tenantArgs...); err != nil {
				return fmt.Errorf("failed to create tenant: %w", err)
			}
		}

		docSQL, docArgs, err := squirrel.Update("documents").
			Set("tenant_id", to).
			Set("updated_at", squirrel.Expr("NOW()")).
			Where(squirrel.Eq{"id": id, "tenant_id": from}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, docSQL, docArgs...)
		if err != nil {
			return fmt.Errorf("failed to move document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStaleTenant
		}

		txSQL, txArgs, err := squirrel.Update("transactions").
			Set("tenant_id", to).
			Set("updated_at", squirrel.Expr("NOW()")).
			Where(squirrel.Eq{"document_id": id, "tenant_id": from}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, txSQL, txArgs...); err != nil {
			return fmt.Errorf("failed to move transaction: %w", err)
		}

		fields := []zap.Field{
			zap.String("document_id", id.String()),
			zap.String("from_tenant_id", from.String()),
			zap.String("to_tenant_id", to.String()),
		}
		if created != nil {
			fields = append(fields, zap.Bool("tenant_auto_created", true), zap.String("tenant_name", created.Name))
		}
		r.logger.Info("Document reassigned", fields...)
		return nil
	})
}

// ListIDsByStatus feeds operator reprocessing.
func (r *DocumentRepository) ListIDsByStatus(ctx context.Context, status models.DocumentStatus, limit int) ([]uuid.UUID, error) {
	query := squirrel.Select("id").
		From("documents").
		Where(squirrel.Eq{"status": status}).
		OrderBy("created_at ASC").
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
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
