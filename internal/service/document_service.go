package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finrecon/internal/dto"
	"finrecon/internal/models"
	"finrecon/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxAuditEntries = 100

type DocumentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

type AuditReader interface {
	ListByDocument(ctx context.Context, documentID uuid.UUID, limit int) ([]*models.AuditEntry, error)
}

type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID uuid.UUID) (*ProcessResult, error)
}

// DocumentService is the API-facing view of documents: it triggers
// processing and renders documents and their audit trail.
type DocumentService struct {
	docs      DocumentReader
	audit     AuditReader
	processor DocumentProcessor
	logger    *zap.Logger
}

func NewDocumentService(docs DocumentReader, audit AuditReader, processor DocumentProcessor, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		docs:      docs,
		audit:     audit,
		processor: processor,
		logger:    logger,
	}
}

func (s *DocumentService) ProcessDocument(ctx context.Context, documentID uuid.UUID) (*dto.ProcessDocumentResponse, error) {
	result, err := s.processor.ProcessDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ProcessDocumentResponse{
		DocumentID:       result.DocumentID.String(),
		Status:           string(result.Status),
		RecordsCreated:   result.RecordsCreated,
		Materialization:  string(result.Materialization),
		Duplicate:        result.Duplicate,
		MismatchDetected: result.MismatchDetected,
	}
	if result.TransactionID != nil {
		id := result.TransactionID.String()
		resp.TransactionID = &id
	}
	if c := result.TenantCorrection; c != nil {
		resp.TenantCorrection = &dto.TenantCorrectionResponse{
			ActionTaken:  string(c.ActionTaken),
			FromTenantID: c.FromTenantID.String(),
			ToTenantID:   c.ToTenantID.String(),
			TenantName:   c.TenantName,
			Confidence:   c.Confidence,
		}
	}
	return resp, nil
}

func (s *DocumentService) GetDocument(ctx context.Context, documentID uuid.UUID) (*dto.DocumentResponse, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	resp := &dto.DocumentResponse{
		ID:           doc.ID.String(),
		TenantID:     doc.TenantID.String(),
		FileName:     doc.FileName,
		MimeType:     doc.MimeType,
		Status:       string(doc.Status),
		StatusReason: doc.StatusReason,
		PageCount:    doc.PageCount,
		CreatedAt:    doc.CreatedAt.Format(time.RFC3339),
	}
	if doc.ProcessedAt != nil {
		at := doc.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &at
	}
	return resp, nil
}

func (s *DocumentService) ListAudit(ctx context.Context, documentID uuid.UUID, limit int) (*dto.AuditListResponse, error) {
	if limit <= 0 || limit > maxAuditEntries {
		limit = maxAuditEntries
	}

	// 404 for unknown documents rather than an empty list
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	entries, err := s.audit.ListByDocument(ctx, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	resp := &dto.AuditListResponse{
		DocumentID: documentID.String(),
		Entries:    make([]dto.AuditEntryResponse, len(entries)),
	}
	for i, e := range entries {
		item := dto.AuditEntryResponse{
			ID:               e.ID.String(),
			TenantID:         e.TenantID.String(),
			Duplicate:        e.Duplicate,
			MismatchDetected: e.MismatchDetected,
			Resolution:       string(e.Resolution),
			Materialization:  string(e.Materialization),
			RecordsCreated:   e.RecordsCreated,
			FinalStatus:      string(e.FinalStatus),
			Error:            e.Error,
			CreatedAt:        e.CreatedAt.Format(time.RFC3339),
		}
		if e.ResolvedTenantID != nil {
			id := e.ResolvedTenantID.String()
			item.ResolvedTenantID = &id
		}
		if e.TransactionID != nil {
			id := e.TransactionID.String()
			item.TransactionID = &id
		}
		resp.Entries[i] = item
	}
	return resp, nil
}
