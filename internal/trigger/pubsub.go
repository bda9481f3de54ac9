// Package trigger adapts queue events to reconciliation runs.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"finrecon/internal/service"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrMalformedEvent = errors.New("malformed event")

// MessagePublishedData is the payload of a google.cloud.pubsub.topic.v1.messagePublished event.
type MessagePublishedData struct {
	Message      PubSubMessage `json:"message"`
	Subscription string        `json:"subscription"`
}

type PubSubMessage struct {
	// Data is base64 on the wire; encoding/json decodes it into bytes.
	Data       []byte            `json:"data"`
	Attributes map[string]string `json:"attributes"`
	MessageID  string            `json:"messageId"`
}

type processRequest struct {
	DocumentID string `json:"document_id"`
}

type Processor interface {
	ProcessDocument(ctx context.Context, documentID uuid.UUID) (*service.ProcessResult, error)
}

type PubSubHandler struct {
	processor Processor
	logger    *zap.Logger
}

func NewPubSubHandler(processor Processor, logger *zap.Logger) *PubSubHandler {
	return &PubSubHandler{processor: processor, logger: logger}
}

// Handle processes the document named by the event. Returning an error
// makes Pub/Sub redeliver, so only transient failures are returned.
func (h *PubSubHandler) Handle(ctx context.Context, e cloudevents.Event) error {
	documentID, err := DocumentIDFromEvent(e)
	if err != nil {
		// redelivery cannot fix a bad payload
		h.logger.Error("Dropping malformed event", zap.String("event_id", e.ID()), zap.Error(err))
		return nil
	}
	log := h.logger.With(zap.String("event_id", e.ID()), zap.String("document_id", documentID.String()))

	result, err := h.processor.ProcessDocument(ctx, documentID)
	switch {
	case err == nil:
		log.Info("Document processed from event", zap.String("status", string(result.Status)))
		return nil
	case errors.Is(err, service.ErrDocumentNotFound):
		log.Warn("Event for unknown document acknowledged")
		return nil
	case errors.Is(err, service.ErrExtractionFailure):
		log.Warn("Extraction failed, document left for review", zap.Error(err))
		return nil
	case errors.Is(err, service.ErrTenantConflict):
		log.Error("Tenant conflict needs manual resolution", zap.Error(err))
		return nil
	default:
		log.Warn("Processing failed, requesting redelivery", zap.Error(err))
		return err
	}
}

// DocumentIDFromEvent reads the document id from the message body, falling
// back to a document_id attribute.
func DocumentIDFromEvent(e cloudevents.Event) (uuid.UUID, error) {
	var data MessagePublishedData
	if err := json.Unmarshal(e.Data(), &data); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	raw := data.Message.Attributes["document_id"]
	if body := strings.TrimSpace(string(data.Message.Data)); body != "" {
		if strings.HasPrefix(body, "{") {
			var req processRequest
			if err := json.Unmarshal([]byte(body), &req); err != nil {
				return uuid.Nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
			}
			if req.DocumentID != "" {
				raw = req.DocumentID
			}
		} else {
			raw = body
		}
	}

	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: no document_id", ErrMalformedEvent)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return id, nil
}
