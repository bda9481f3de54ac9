package models

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	// DocumentStatusUploaded means queued and never processed.
	DocumentStatusUploaded       DocumentStatus = "UPLOADED"
	DocumentStatusProcessed      DocumentStatus = "PROCESSED"
	DocumentStatusNeedsReview    DocumentStatus = "NEEDS_REVIEW"
	DocumentStatusDuplicate      DocumentStatus = "DUPLICATE"
	DocumentStatusTenantMismatch DocumentStatus = "TENANT_MISMATCH"
)

type Document struct {
	ID           uuid.UUID      `db:"id"`
	TenantID     uuid.UUID      `db:"tenant_id"`
	StoragePath  string         `db:"storage_path"`
	MimeType     string         `db:"mime_type"`
	FileName     string         `db:"file_name"`
	ContentHash  string         `db:"content_hash"`
	Status       DocumentStatus `db:"status"`
	StatusReason string         `db:"status_reason"`
	PageCount    int            `db:"page_count"`
	ProcessedAt  *time.Time     `db:"processed_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}
