package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finrecon/internal/models"
	"finrecon/internal/repository"
	"finrecon/pkg/auth"
	"finrecon/pkg/checksum"
	"finrecon/pkg/config"
	"finrecon/pkg/logger"
	"finrecon/pkg/postgres"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLogger := logger.Get()

	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	appLogger.Info("Starting database seeding...")

	policyRepo := repository.NewPolicyRepository(db, appLogger)
	policy := models.TenantMismatchPolicy{
		AllowAutoReassignment:   cfg.Reconciliation.DefaultAllowReassignment,
		AllowAutoTenantCreation: cfg.Reconciliation.DefaultAllowTenantCreation,
		MinConfidence:           cfg.Reconciliation.DefaultMinConfidence,
		MaxTenantsPerAccount:    cfg.Reconciliation.DefaultMaxTenantsPerAccount,
	}
	if err := policyRepo.UpsertDefault(ctx, policy); err != nil {
		appLogger.Fatal("Failed to seed default policy", zap.Error(err))
	}
	appLogger.Info("Platform policy seeded",
		zap.Float64("min_confidence", policy.MinConfidence),
		zap.Bool("allow_auto_reassignment", policy.AllowAutoReassignment),
		zap.Bool("allow_auto_tenant_creation", policy.AllowAutoTenantCreation),
	)

	clientRepo := repository.NewServiceClientRepository(db, appLogger)
	if err := seedServiceClient(ctx, clientRepo, appLogger); err != nil {
		appLogger.Fatal("Failed to seed service client", zap.Error(err))
	}

	if name := os.Getenv("SEED_TENANT_NAME"); name != "" {
		tenantRepo := repository.NewTenantRepository(db, appLogger)
		docRepo := repository.NewDocumentRepository(db, appLogger)
		if err := seedTenantDocuments(ctx, cfg, name, tenantRepo, docRepo, appLogger); err != nil {
			appLogger.Fatal("Failed to seed tenant documents", zap.Error(err))
		}
	}

	appLogger.Info("Database seeding completed successfully!")
}

func seedServiceClient(ctx context.Context, repo *repository.ServiceClientRepository, appLogger *zap.Logger) error {
	name := os.Getenv("SEED_CLIENT_NAME")
	if name == "" {
		name = "scheduler"
	}
	secret := os.Getenv("SEED_CLIENT_SECRET")
	generated := secret == ""
	if generated {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		return err
	}
	client := &models.ServiceClient{
		ID:         uuid.New(),
		Name:       name,
		SecretHash: hash,
		CreatedAt:  time.Now(),
	}
	if err := repo.Create(ctx, client); err != nil {
		return err
	}

	appLogger.Info("Service client seeded",
		zap.String("client_id", client.ID.String()),
		zap.String("name", name),
	)
	if generated {
		// printed once; only the hash is stored
		fmt.Printf("client_id=%s\nclient_secret=%s\n", client.ID, secret)
	}
	return nil
}

// seedTenantDocuments creates a tenant and registers every file of
// SEED_DOCUMENTS_DIR as an UPLOADED document, skipping content the tenant
// already has.
func seedTenantDocuments(ctx context.Context, cfg *config.Config, name string, tenants *repository.TenantRepository, docs *repository.DocumentRepository, appLogger *zap.Logger) error {
	now := time.Now()
	accountID := uuid.New()
	if raw := os.Getenv("SEED_ACCOUNT_ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid SEED_ACCOUNT_ID: %w", err)
		}
		accountID = id
	}
	tenant := &models.Tenant{
		ID:           uuid.New(),
		AccountID:    accountID,
		Name:         name,
		LegalName:    os.Getenv("SEED_TENANT_LEGAL_NAME"),
		AIProvider:   models.AIProvider(cfg.Reconciliation.DefaultProvider),
		LastActiveAt: now,
		CreatedAt:    now,
	}
	if err := tenants.Create(ctx, tenant); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	appLogger.Info("Tenant seeded",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("account_id", accountID.String()),
	)

	dir := os.Getenv("SEED_DOCUMENTS_DIR")
	if dir == "" {
		return nil
	}
	if cfg.Storage.Backend != "" && cfg.Storage.Backend != "local" {
		appLogger.Warn("Document seeding only supports the local storage backend")
		return nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := seedDocument(ctx, cfg.Storage.LocalRoot, path, tenant.ID, docs, appLogger); err != nil {
			appLogger.Error("Failed to seed document", zap.String("file", path), zap.Error(err))
		}
	}
	return nil
}

func seedDocument(ctx context.Context, root, path string, tenantID uuid.UUID, docs *repository.DocumentRepository, appLogger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	hash := checksum.ContentHash(data)

	existing, err := docs.FindByTenantAndHash(ctx, tenantID, hash, uuid.Nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		appLogger.Info("Skipping already registered file", zap.String("file", path))
		return nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	mimeType := mime.TypeByExtension(ext)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	storagePath := filepath.ToSlash(filepath.Join("tenants", tenantID.String(), hash+ext))
	target := filepath.Join(root, filepath.FromSlash(storagePath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return err
	}

	now := time.Now()
	doc := &models.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		StoragePath: storagePath,
		MimeType:    mimeType,
		FileName:    filepath.Base(path),
		ContentHash: hash,
		Status:      models.DocumentStatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := docs.Create(ctx, doc); err != nil {
		return err
	}
	appLogger.Info("Document registered",
		zap.String("document_id", doc.ID.String()),
		zap.String("file", doc.FileName),
	)
	return nil
}
