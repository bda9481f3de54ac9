package handlers

import (
	"context"
	"errors"
	"time"

	"finrecon/internal/dto"
	"finrecon/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DocumentService interface {
	ProcessDocument(ctx context.Context, documentID uuid.UUID) (*dto.ProcessDocumentResponse, error)
	GetDocument(ctx context.Context, documentID uuid.UUID) (*dto.DocumentResponse, error)
	ListAudit(ctx context.Context, documentID uuid.UUID, limit int) (*dto.AuditListResponse, error)
}

type DocumentHandler struct {
	docService     DocumentService
	processTimeout time.Duration
	logger         *zap.Logger
}

func NewDocumentHandler(docService DocumentService, processTimeout time.Duration, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		docService:     docService,
		processTimeout: processTimeout,
		logger:         logger,
	}
}

// ProcessDocument godoc
// @Summary Process an uploaded document
// @Description Runs duplicate detection, extraction, tenant reconciliation and transaction materialization for one document
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Security Bearer
// @Success 200 {object} dto.ProcessDocumentResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/v1/documents/{id}/process [post]
func (h *DocumentHandler) ProcessDocument(c *fiber.Ctx) error {
	documentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid document ID",
		})
	}

	ctx := c.UserContext()
	if h.processTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.processTimeout)
		defer cancel()
	}

	resp, err := h.docService.ProcessDocument(ctx, documentID)
	if err != nil {
		h.logger.Error("Failed to process document",
			zap.String("document_id", documentID.String()),
			zap.Any("client_id", c.Locals("clientID")),
			zap.Error(err),
		)
		return h.writeError(c, err)
	}

	return c.JSON(resp)
}

// GetDocument godoc
// @Summary Get document status
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Security Bearer
// @Success 200 {object} dto.DocumentResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/documents/{id} [get]
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	documentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid document ID",
		})
	}

	resp, err := h.docService.GetDocument(c.UserContext(), documentID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(resp)
}

// ListAudit godoc
// @Summary List reconciliation audit entries of a document
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Param limit query int false "Max entries" default(100)
// @Security Bearer
// @Success 200 {object} dto.AuditListResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/documents/{id}/audit [get]
func (h *DocumentHandler) ListAudit(c *fiber.Ctx) error {
	documentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid document ID",
		})
	}

	resp, err := h.docService.ListAudit(c.UserContext(), documentID, c.QueryInt("limit", 0))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(resp)
}

func (h *DocumentHandler) writeError(c *fiber.Ctx, err error) error {
	status, message := fiber.StatusInternalServerError, "Failed to process document"
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		status, message = fiber.StatusNotFound, "Document not found"
	case errors.Is(err, service.ErrExtractionFailure):
		status, message = fiber.StatusUnprocessableEntity, "Document could not be extracted"
	case errors.Is(err, service.ErrDocumentBusy):
		c.Set(fiber.HeaderRetryAfter, "5")
		status, message = fiber.StatusServiceUnavailable, "Document is being processed"
	case errors.Is(err, service.ErrTenantConflict):
		status, message = fiber.StatusConflict, "Transaction belongs to another tenant"
	case errors.Is(err, context.DeadlineExceeded):
		status, message = fiber.StatusGatewayTimeout, "Processing timed out"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
