// Package storage holds the content store backends documents are read from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"finrecon/pkg/config"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidPath    = errors.New("invalid storage path")
)

// Store reads raw document bytes by storage path.
type Store interface {
	Download(ctx context.Context, storagePath string) ([]byte, error)
	Close() error
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg *config.StorageConfig, gcp *config.GCPConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalRoot, logger)
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket, gcp.CredentialsFile, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

type LocalStore struct {
	root   string
	logger *zap.Logger
}

func NewLocalStore(root string, logger *zap.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStore{root: abs, logger: logger}, nil
}

func (s *LocalStore) Download(ctx context.Context, storagePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.FromSlash(strings.TrimPrefix(storagePath, "/"))
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}

	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, storagePath)
		}
		return nil, fmt.Errorf("failed to read %s: %w", storagePath, err)
	}
	return data, nil
}

func (s *LocalStore) Close() error { return nil }

// GCSStore reads objects from one Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	logger *zap.Logger
}

func NewGCSStore(ctx context.Context, bucket, credentialsFile string, logger *zap.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("STORAGE_BUCKET must be set for the gcs backend")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		logger: logger,
	}, nil
}

func (s *GCSStore) Download(ctx context.Context, storagePath string) ([]byte, error) {
	name := strings.TrimPrefix(storagePath, "/")
	if name == "" {
		return nil, fmt.Errorf("%w: empty object name", ErrInvalidPath)
	}

	reader, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
		}
		return nil, fmt.Errorf("failed to open gs object %s: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs object %s: %w", name, err)
	}

	s.logger.Debug("Downloaded object",
		zap.String("object", name),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
