package repository

import (
	"context"

	"finrecon/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var tenantColumns = []string{
	"id", "account_id", "name", "legal_name", "aliases", "ai_provider", "ai_model", "auto_created", "last_active_at", "created_at",
}

type TenantRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTenantRepository(db *pgxpool.Pool, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	var legalName, provider, model *string
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Name, &legalName, &t.Aliases, &provider, &model, &t.AutoCreated, &t.LastActiveAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if legalName != nil {
		t.LegalName = *legalName
	}
	if provider != nil {
		t.AIProvider = models.AIProvider(*provider)
	}
	if model != nil {
		t.AIModel = *model
	}
	return &t, nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := squirrel.Select(tenantColumns...).
		From("tenants").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	t, err := scanTenant(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *TenantRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Tenant, error) {
	query := squirrel.Select(tenantColumns...).
		From("tenants").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at ASC").
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

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *TenantRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	query := squirrel.Select("COUNT(*)").
		From("tenants").
		Where(squirrel.Eq{"account_id": accountID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, err
	}

	var n int
	err = r.db.QueryRow(ctx, sql, args...).Scan(&n)
	return n, err
}

func (r *TenantRepository) Create(ctx context.Context, t *models.Tenant) error {
	sql, args, err := insertTenantQuery(t).ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

func insertTenantQuery(t *models.Tenant) squirrel.InsertBuilder {
	aliases := t.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return squirrel.Insert("tenants").
		Columns(tenantColumns...).
		Values(t.ID, t.AccountID, t.Name, nullString(t.LegalName), aliases, nullString(string(t.AIProvider)), nullString(t.AIModel), t.AutoCreated, t.LastActiveAt, t.CreatedAt).
		PlaceholderFormat(squirrel.Dollar)
}

// TouchActivity bumps last_active_at, which breaks candidate ties.
func (r *TenantRepository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	query := squirrel.Update("tenants").
		Set("last_active_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}
