package repository

import (
	"context"

	"finrecon/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type ServiceClientRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewServiceClientRepository(db *pgxpool.Pool, logger *zap.Logger) *ServiceClientRepository {
	return &ServiceClientRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ServiceClientRepository) Create(ctx context.Context, c *models.ServiceClient) error {
	query := squirrel.Insert("service_clients").
		Columns("id", "name", "secret_hash", "created_at").
		Values(c.ID, c.Name, c.SecretHash, c.CreatedAt).
		Suffix("ON CONFLICT (name) DO UPDATE SET secret_hash = EXCLUDED.secret_hash RETURNING id").
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	// an existing client keeps its id and gets the new secret
	return r.db.QueryRow(ctx, sql, args...).Scan(&c.ID)
}

func (r *ServiceClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ServiceClient, error) {
	query := squirrel.Select("id", "name", "secret_hash", "created_at").
		From("service_clients").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var c models.ServiceClient
	err = r.db.QueryRow(ctx, sql, args...).Scan(&c.ID, &c.Name, &c.SecretHash, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}
