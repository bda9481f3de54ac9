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

// PolicyRepository reads tenant_mismatch_policies. The row with a NULL
// tenant_id is the platform default; other rows are per-tenant overrides
// whose NULL columns inherit from it.
type PolicyRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPolicyRepository(db *pgxpool.Pool, logger *zap.Logger) *PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

func (r *PolicyRepository) GetDefault(ctx context.Context) (*models.TenantMismatchPolicy, error) {
	query := squirrel.Select("allow_auto_reassignment", "allow_auto_tenant_creation", "min_confidence", "max_tenants_per_account").
		From("tenant_mismatch_policies").
		Where(squirrel.Eq{"tenant_id": nil}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var p models.TenantMismatchPolicy
	err = r.db.QueryRow(ctx, sql, args...).Scan(
		&p.AllowAutoReassignment, &p.AllowAutoTenantCreation, &p.MinConfidence, &p.MaxTenantsPerAccount,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetOverride returns nil, nil when the tenant has no override row.
func (r *PolicyRepository) GetOverride(ctx context.Context, tenantID uuid.UUID) (*models.PolicyOverride, error) {
	query := squirrel.Select("allow_auto_reassignment", "allow_auto_tenant_creation", "min_confidence", "max_tenants_per_account").
		From("tenant_mismatch_policies").
		Where(squirrel.Eq{"tenant_id": tenantID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var o models.PolicyOverride
	err = r.db.QueryRow(ctx, sql, args...).Scan(
		&o.AllowAutoReassignment, &o.AllowAutoTenantCreation, &o.MinConfidence, &o.MaxTenantsPerAccount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpsertDefault replaces the platform default row.
func (r *PolicyRepository) UpsertDefault(ctx context.Context, p models.TenantMismatchPolicy) error {
	return WithTx(ctx, r.db, func(tx pgx.Tx) error {
		delSQL, delArgs, err := squirrel.Delete("tenant_mismatch_policies").
			Where(squirrel.Eq{"tenant_id": nil}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, delSQL, delArgs...); err != nil {
			return err
		}

		insSQL, insArgs, err := squirrel.Insert("tenant_mismatch_policies").
			Columns("tenant_id", "allow_auto_reassignment", "allow_auto_tenant_creation", "min_confidence", "max_tenants_per_account").
			Values(nil, p.AllowAutoReassignment, p.AllowAutoTenantCreation, p.MinConfidence, p.MaxTenantsPerAccount).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insSQL, insArgs...)
		return err
	})
}
