// Package app wires the reconciliation pipeline from configuration. Every
// entrypoint (HTTP server, CLI, Pub/Sub function) builds the same graph.
package app

import (
	"context"
	"errors"
	"fmt"

	"finrecon/internal/audit"
	"finrecon/internal/lock"
	"finrecon/internal/models"
	"finrecon/internal/repository"
	"finrecon/internal/service"
	"finrecon/internal/storage"
	"finrecon/pkg/auth"
	"finrecon/pkg/config"
	"finrecon/pkg/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *pgxpool.Pool

	Documents *repository.DocumentRepository
	Tenants   *repository.TenantRepository
	Audit     *repository.AuditRepository

	Engine          *service.Engine
	DocumentService *service.DocumentService
	AuthService     *service.AuthService
	JWTManager      *auth.JWTManager

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := postgres.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		closers: []func() error{func() error { db.Close(); return nil }},
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	a.Documents = repository.NewDocumentRepository(a.DB, logger.Named("documents"))
	a.Tenants = repository.NewTenantRepository(a.DB, logger.Named("tenants"))
	a.Audit = repository.NewAuditRepository(a.DB, logger.Named("audit"))
	txRepo := repository.NewTransactionRepository(a.DB, logger.Named("transactions"))
	correctionRepo := repository.NewCorrectionRepository(a.DB, logger.Named("corrections"))
	policyRepo := repository.NewPolicyRepository(a.DB, logger.Named("policies"))
	clientRepo := repository.NewServiceClientRepository(a.DB, logger.Named("clients"))

	store, err := storage.New(ctx, &cfg.Storage, &cfg.GCP, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize content store: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	oracle, err := a.buildOracle(ctx)
	if err != nil {
		return err
	}

	var auditSink service.AuditSink = a.Audit
	if cfg.Audit.Sink == "firestore" {
		fs, err := audit.NewFirestoreSink(ctx, cfg.GCP.ProjectID, cfg.Audit.Collection, cfg.GCP.CredentialsFile, logger.Named("firestore"))
		if err != nil {
			return fmt.Errorf("failed to initialize audit sink: %w", err)
		}
		a.closers = append(a.closers, fs.Close)
		// postgres stays the source of the audit endpoint
		auditSink = audit.Tee{a.Audit, fs}
	}

	var locker service.DocumentLocker
	switch cfg.Reconciliation.LockMode {
	case "local":
		locker = lock.NewLocalLocker()
	case "", "advisory":
		locker = lock.NewAdvisoryLocker(a.DB, logger.Named("lock"))
	default:
		return fmt.Errorf("unknown lock mode %q", cfg.Reconciliation.LockMode)
	}

	fallback := models.TenantMismatchPolicy{
		AllowAutoReassignment:   cfg.Reconciliation.DefaultAllowReassignment,
		AllowAutoTenantCreation: cfg.Reconciliation.DefaultAllowTenantCreation,
		MinConfidence:           cfg.Reconciliation.DefaultMinConfidence,
		MaxTenantsPerAccount:    cfg.Reconciliation.DefaultMaxTenantsPerAccount,
	}

	a.Engine = service.NewEngine(service.EngineDeps{
		Documents:    a.Documents,
		Dedup:        a.Documents,
		Content:      store,
		Transactions: txRepo,
		Tenants:      a.Tenants,
		Policies:     service.NewPolicyService(policyRepo, fallback, logger.Named("policy")),
		Oracle:       oracle,
		Inspector:    service.NewPDFInspector(cfg.Reconciliation.MaxPages),
		Matcher:      service.NewNameTenantMatcher(a.Tenants, cfg.Reconciliation.CandidateFloor, logger.Named("matcher")),
		Materializer: service.NewMaterializer(txRepo, correctionRepo, logger.Named("materializer")),
		Audit:        auditSink,
		Locker:       locker,
	}, service.EngineConfig{
		IdentityDisagreementThreshold: cfg.Reconciliation.IdentityDisagreementThreshold,
		DefaultProvider:               models.AIProvider(cfg.Reconciliation.DefaultProvider),
	}, logger.Named("engine"))

	a.JWTManager = auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Expiration)
	a.AuthService = service.NewAuthService(clientRepo, a.JWTManager, logger.Named("auth"))
	a.DocumentService = service.NewDocumentService(a.Documents, a.Audit, a.Engine, logger.Named("documents"))
	return nil
}

func (a *App) buildOracle(ctx context.Context) (*service.OracleRouter, error) {
	cfg := a.Config
	router := service.NewOracleRouter(models.AIProvider(cfg.Reconciliation.DefaultProvider), a.Logger.Named("oracle"))
	registered := 0

	if cfg.GigaChat.APIKey != "" {
		giga, err := service.NewGigaChatOracle(ctx, &cfg.GigaChat, a.Logger.Named("gigachat"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GigaChat oracle: %w", err)
		}
		a.closers = append(a.closers, giga.Close)
		router.Register(models.AIProviderGigaChat, giga)
		registered++
	}

	if cfg.Vertex.Enabled {
		vertex, err := service.NewVertexOracle(ctx, &cfg.GCP, &cfg.Vertex, a.Logger.Named("vertex"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Vertex oracle: %w", err)
		}
		a.closers = append(a.closers, vertex.Close)
		router.Register(models.AIProviderVertex, vertex)
		registered++
	}

	if registered == 0 {
		return nil, errors.New("no extraction provider configured: set GIGACHAT_API_KEY or VERTEX_ENABLED")
	}
	return router, nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
