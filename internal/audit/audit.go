// Package audit holds the audit sinks reconciliation runs are recorded to.
package audit

import (
	"context"
	"errors"
	"fmt"

	"finrecon/internal/models"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type Sink interface {
	Write(ctx context.Context, entry *models.AuditEntry) error
}

// Tee writes every entry to all sinks. A failing sink does not stop the
// others.
type Tee []Sink

func (t Tee) Write(ctx context.Context, entry *models.AuditEntry) error {
	var errs []error
	for _, s := range t {
		if err := s.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FirestoreSink mirrors audit entries into a Firestore collection, one
// document per entry keyed by the entry id.
type FirestoreSink struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

func NewFirestoreSink(ctx context.Context, projectID, collection, credentialsFile string, logger *zap.Logger) (*FirestoreSink, error) {
	if projectID == "" {
		return nil, errors.New("GCP_PROJECT_ID must be set for the firestore audit sink")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreSink{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

func (s *FirestoreSink) Write(ctx context.Context, entry *models.AuditEntry) error {
	doc := s.client.Collection(s.collection).Doc(entry.ID.String())
	if _, err := doc.Set(ctx, toFirestore(entry)); err != nil {
		return fmt.Errorf("failed to write audit entry to firestore: %w", err)
	}
	s.logger.Debug("Audit entry mirrored",
		zap.String("collection", s.collection),
		zap.String("entry_id", entry.ID.String()),
	)
	return nil
}

func (s *FirestoreSink) Close() error {
	return s.client.Close()
}

// toFirestore flattens an entry into native Firestore values; uuids are
// stored as strings so they stay queryable.
func toFirestore(e *models.AuditEntry) map[string]interface{} {
	doc := map[string]interface{}{
		"document_id":       e.DocumentID.String(),
		"tenant_id":         e.TenantID.String(),
		"duplicate":         e.Duplicate,
		"mismatch_detected": e.MismatchDetected,
		"resolution":        string(e.Resolution),
		"records_created":   e.RecordsCreated,
		"materialization":   string(e.Materialization),
		"final_status":      string(e.FinalStatus),
		"error":             e.Error,
		"created_at":        e.CreatedAt,
	}
	if e.ResolvedTenantID != nil {
		doc["resolved_tenant_id"] = e.ResolvedTenantID.String()
	}
	if e.TransactionID != nil {
		doc["transaction_id"] = e.TransactionID.String()
	}
	if len(e.DuplicateOf) > 0 {
		dups := make([]string, len(e.DuplicateOf))
		for i, id := range e.DuplicateOf {
			dups[i] = id.String()
		}
		doc["duplicate_of"] = dups
	}
	if x := e.Extraction; x != nil {
		doc["extraction"] = map[string]interface{}{
			"provider":          x.Provider,
			"document_type":     x.DocumentType,
			"transaction_type":  x.TransactionType,
			"counterparty_name": x.CounterpartyName,
			"amount":            x.Amount,
			"currency":          x.Currency,
			"belongs_to_tenant": string(x.BelongsToTenant),
			"confidence":        x.Confidence,
			"complete":          x.Complete,
		}
	}
	if len(e.Candidates) > 0 {
		cands := make([]map[string]interface{}, len(e.Candidates))
		for i, c := range e.Candidates {
			cands[i] = map[string]interface{}{
				"tenant_id":      c.TenantID.String(),
				"confidence":     c.Confidence,
				"suggested_name": c.SuggestedName,
			}
		}
		doc["candidates"] = cands
	}
	if p := e.Policy; p != nil {
		doc["policy"] = map[string]interface{}{
			"allow_auto_reassignment":    p.AllowAutoReassignment,
			"allow_auto_tenant_creation": p.AllowAutoTenantCreation,
			"min_confidence":             p.MinConfidence,
			"max_tenants_per_account":    p.MaxTenantsPerAccount,
		}
	}
	return doc
}
