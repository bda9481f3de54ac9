package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finrecon/internal/lock"
	"finrecon/internal/models"
	"finrecon/internal/repository"
	"finrecon/pkg/checksum"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TenantCorrection describes a tenant change applied to a document before
// its transaction was written.
type TenantCorrection struct {
	ActionTaken  models.ResolutionOutcome
	FromTenantID uuid.UUID
	ToTenantID   uuid.UUID
	TenantName   string
	Confidence   float64
}

type ProcessResult struct {
	DocumentID       uuid.UUID
	RecordsCreated   bool
	TransactionID    *uuid.UUID
	Materialization  models.MaterializeAction
	Duplicate        bool
	MismatchDetected bool
	TenantCorrection *TenantCorrection
	Status           models.DocumentStatus
}

// EngineDeps are the collaborators of the reconciliation engine.
type EngineDeps struct {
	Documents    DocumentStore
	Dedup        DedupIndex
	Content      ContentStore
	Transactions TransactionStore
	Tenants      TenantDirectory
	Policies     PolicyStore
	Oracle       ExtractionOracle
	Inspector    ContentInspector
	Matcher      TenantMatcher
	Materializer TransactionMaterializer
	Audit        AuditSink
	Locker       DocumentLocker
}

type EngineConfig struct {
	// IdentityDisagreementThreshold is the similarity below which an
	// UNKNOWN ownership verdict is treated as a mismatch.
	IdentityDisagreementThreshold float64
	DefaultProvider               models.AIProvider
}

// Engine runs the document reconciliation pipeline.
type Engine struct {
	deps   EngineDeps
	cfg    EngineConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(deps EngineDeps, cfg EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// loaded is everything fetched in parallel before extraction. newHash is
// set when the content hash was computed by this run; it is persisted with
// the terminal status.
type loaded struct {
	content  []byte
	policy   models.TenantMismatchPolicy
	tenant   *models.Tenant
	existing *models.Transaction
	newHash  string
}

// ProcessDocument takes one uploaded document to a terminal status. It is
// safe to call again for the same id; committed side effects are not
// repeated.
func (e *Engine) ProcessDocument(ctx context.Context, documentID uuid.UUID) (result *ProcessResult, err error) {
	start := e.now()
	log := e.logger.With(zap.String("document_id", documentID.String()))

	unlock, err := e.deps.Locker.TryLock(ctx, documentID)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return nil, ErrDocumentBusy
		}
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}
	defer unlock()

	doc, err := e.deps.Documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	entry := &models.AuditEntry{
		ID:              uuid.New(),
		DocumentID:      doc.ID,
		TenantID:        doc.TenantID,
		Materialization: models.MaterializeNone,
	}
	defer func() {
		e.writeAudit(ctx, entry, result, err)
		if err != nil {
			log.Warn("Document processing failed", zap.Error(err), zap.Duration("elapsed", e.now().Sub(start)))
			return
		}
		log.Info("Document processed",
			zap.String("status", string(result.Status)),
			zap.String("materialization", string(result.Materialization)),
			zap.Bool("mismatch_detected", result.MismatchDetected),
			zap.Duration("elapsed", e.now().Sub(start)),
		)
	}()

	in, err := e.load(ctx, doc)
	if err != nil {
		return nil, err
	}
	entry.Policy = &in.policy

	hash := doc.ContentHash
	if hash == "" {
		hash = checksum.ContentHash(in.content)
		in.newHash = hash
	}

	duplicates, err := e.deps.Dedup.FindByTenantAndHash(ctx, doc.TenantID, hash, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates: %w", err)
	}

	result = &ProcessResult{
		DocumentID:      doc.ID,
		Materialization: models.MaterializeNone,
	}

	if len(duplicates) > 0 {
		entry.Duplicate = true
		entry.DuplicateOf = duplicates
		result.Duplicate = true

		if in.existing == nil {
			err := e.setStatus(ctx, doc.ID, repository.StatusUpdate{
				Status:      models.DocumentStatusDuplicate,
				Reason:      fmt.Sprintf("duplicate of document %s", duplicates[0]),
				ContentHash: in.newHash,
			})
			if err != nil {
				return nil, err
			}
			result.Status = models.DocumentStatusDuplicate
			return result, nil
		}
		log.Info("Duplicate content with existing transaction, refreshing it", zap.Int("duplicates", len(duplicates)))
	}

	record, inspection, err := e.extract(ctx, doc, in, entry)
	if err != nil {
		return nil, err
	}

	tenantID := doc.TenantID
	if !result.Duplicate && e.mismatch(record, in.tenant) {
		result.MismatchDetected = true
		entry.MismatchDetected = true

		correction, err := e.resolve(ctx, doc, record, in, entry)
		if err != nil {
			return nil, err
		}
		if correction == nil {
			err := e.setStatus(ctx, doc.ID, repository.StatusUpdate{
				Status:      models.DocumentStatusTenantMismatch,
				Reason:      fmt.Sprintf("document appears to belong to %q", record.OwnerHint()),
				PageCount:   inspection.PageCount,
				ContentHash: in.newHash,
			})
			if err != nil {
				return nil, err
			}
			result.Status = models.DocumentStatusTenantMismatch
			return result, nil
		}
		result.TenantCorrection = correction
		tenantID = correction.ToTenantID
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, action, err := e.deps.Materializer.Upsert(ctx, doc.ID, record, tenantID)
	if err != nil {
		return nil, err
	}
	result.Materialization = action
	entry.Materialization = action
	if tx != nil {
		result.TransactionID = &tx.ID
		entry.TransactionID = &tx.ID
	}
	switch action {
	case models.MaterializeCreated, models.MaterializeUpdated, models.MaterializeCorrection:
		result.RecordsCreated = true
	}
	entry.RecordsCreated = result.RecordsCreated

	status, reason := finalStatus(record, action)
	err = e.setStatus(ctx, doc.ID, repository.StatusUpdate{
		Status:      status,
		Reason:      reason,
		PageCount:   inspection.PageCount,
		ContentHash: in.newHash,
	})
	if err != nil {
		return nil, err
	}
	result.Status = status

	if err := e.deps.Tenants.TouchActivity(ctx, tenantID); err != nil {
		log.Warn("Failed to record tenant activity", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}

	return result, nil
}

func (e *Engine) load(ctx context.Context, doc *models.Document) (*loaded, error) {
	in := &loaded{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		content, err := e.deps.Content.Download(gctx, doc.StoragePath)
		if err != nil {
			return fmt.Errorf("failed to download content: %w", err)
		}
		in.content = content
		return nil
	})
	g.Go(func() error {
		policy, err := e.deps.Policies.EffectivePolicy(gctx, doc.TenantID)
		if err != nil {
			return err
		}
		in.policy = policy
		return nil
	})
	g.Go(func() error {
		tenant, err := e.deps.Tenants.GetByID(gctx, doc.TenantID)
		if err != nil {
			return fmt.Errorf("failed to load tenant: %w", err)
		}
		in.tenant = tenant
		return nil
	})
	g.Go(func() error {
		existing, err := e.deps.Transactions.GetByDocumentID(gctx, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to look up transaction: %w", err)
		}
		in.existing = existing
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// extract inspects the content and runs the tenant's oracle. Failures are
// written as NEEDS_REVIEW; cancellation is returned without a status write.
func (e *Engine) extract(ctx context.Context, doc *models.Document, in *loaded, entry *models.AuditEntry) (*models.ExtractedRecord, Inspection, error) {
	inspection, err := e.deps.Inspector.Inspect(in.content, doc.MimeType)
	if err != nil {
		return nil, Inspection{}, e.extractionFailed(ctx, doc.ID, in.newHash, err)
	}

	provider := ProviderConfig{
		Provider:    in.tenant.AIProvider,
		Model:       in.tenant.AIModel,
		TenantNames: in.tenant.IdentityNames(),
	}
	if provider.Provider == "" {
		provider.Provider = e.cfg.DefaultProvider
	}

	record, err := e.deps.Oracle.Extract(ctx, in.content, inspection.MimeType, provider)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Inspection{}, ctxErr
		}
		return nil, Inspection{}, e.extractionFailed(ctx, doc.ID, in.newHash, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, Inspection{}, err
	}

	entry.Extraction = summarize(record, provider.Provider)
	return record, inspection, nil
}

func (e *Engine) extractionFailed(ctx context.Context, documentID uuid.UUID, newHash string, cause error) error {
	err := e.setStatus(ctx, documentID, repository.StatusUpdate{
		Status:      models.DocumentStatusNeedsReview,
		Reason:      "extraction failed: " + sanitizeUTF8(cause.Error()),
		ContentHash: newHash,
	})
	if err != nil {
		return fmt.Errorf("%w: %w (%w)", ErrExtractionFailure, cause, err)
	}
	return fmt.Errorf("%w: %w", ErrExtractionFailure, cause)
}

// mismatch reports whether the record points away from the tenant.
func (e *Engine) mismatch(record *models.ExtractedRecord, tenant *models.Tenant) bool {
	switch record.BelongsToTenant {
	case models.OwnershipFalse:
		return true
	case models.OwnershipTrue:
		return false
	}
	hint := record.OwnerHint()
	if hint == "" {
		return false
	}
	return BestSimilarity(hint, tenant.IdentityNames()) < e.cfg.IdentityDisagreementThreshold
}

// resolve looks for a better tenant and applies the decision. A nil
// correction means the mismatch stays unresolved.
func (e *Engine) resolve(ctx context.Context, doc *models.Document, record *models.ExtractedRecord, in *loaded, entry *models.AuditEntry) (*TenantCorrection, error) {
	hint := record.OwnerHint()
	match, err := e.deps.Matcher.FindTenantCandidates(ctx, hint, doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant candidates: %w", err)
	}
	entry.Candidates = match.Candidates

	remaining := 0
	if in.policy.AllowAutoTenantCreation {
		count, err := e.deps.Tenants.CountByAccount(ctx, in.tenant.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to count account tenants: %w", err)
		}
		remaining = in.policy.MaxTenantsPerAccount - count
	}

	res := ResolveMismatch(in.policy, match, remaining, hint)
	entry.Resolution = res.Outcome

	e.logger.Info("Tenant mismatch resolved",
		zap.String("document_id", doc.ID.String()),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("candidates", len(match.Candidates)),
		zap.Int("remaining_quota", remaining),
	)

	correction := &TenantCorrection{
		ActionTaken:  res.Outcome,
		FromTenantID: doc.TenantID,
		TenantName:   res.TenantName,
		Confidence:   res.Confidence,
	}

	var created *models.Tenant
	switch res.Outcome {
	case models.ResolutionReassigned:
		correction.ToTenantID = res.TargetTenantID

	case models.ResolutionCreated:
		now := e.now()
		created = &models.Tenant{
			ID:           uuid.New(),
			AccountID:    in.tenant.AccountID,
			Name:         res.TenantName,
			LegalName:    strings.TrimSpace(hint),
			AIProvider:   in.tenant.AIProvider,
			AIModel:      in.tenant.AIModel,
			AutoCreated:  true,
			LastActiveAt: now,
			CreatedAt:    now,
		}
		correction.ToTenantID = created.ID
		correction.Confidence = record.Confidence

	default:
		return nil, nil
	}

	// the new tenant and the move commit together
	if err := e.deps.Documents.ReassignTenant(ctx, doc.ID, doc.TenantID, correction.ToTenantID, created); err != nil {
		if errors.Is(err, repository.ErrStaleTenant) {
			return nil, fmt.Errorf("%w: tenant changed concurrently", ErrDocumentBusy)
		}
		return nil, fmt.Errorf("%w: failed to reassign document: %w", ErrMaterializationFailure, err)
	}
	resolved := correction.ToTenantID
	entry.ResolvedTenantID = &resolved
	return correction, nil
}

func (e *Engine) setStatus(ctx context.Context, documentID uuid.UUID, update repository.StatusUpdate) error {
	if err := e.deps.Documents.UpdateStatus(ctx, documentID, update); err != nil {
		return fmt.Errorf("failed to set document status %s: %w", update.Status, err)
	}
	return nil
}

func (e *Engine) writeAudit(ctx context.Context, entry *models.AuditEntry, result *ProcessResult, err error) {
	entry.CreatedAt = e.now()
	if result != nil {
		entry.FinalStatus = result.Status
	}
	if err != nil {
		entry.Error = err.Error()
	}

	// the run may have been cancelled; the trail is still written
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if werr := e.deps.Audit.Write(actx, entry); werr != nil {
		e.logger.Error("Failed to write audit entry",
			zap.String("document_id", entry.DocumentID.String()),
			zap.Error(werr),
		)
	}
}

func finalStatus(record *models.ExtractedRecord, action models.MaterializeAction) (models.DocumentStatus, string) {
	switch {
	case action == models.MaterializeSkippedVoid:
		return models.DocumentStatusNeedsReview, "transaction is void"
	case action == models.MaterializeCorrection:
		return models.DocumentStatusNeedsReview, "correction proposed for posted transaction"
	case !record.Complete():
		return models.DocumentStatusNeedsReview, "incomplete extraction"
	}
	return models.DocumentStatusProcessed, ""
}

func summarize(record *models.ExtractedRecord, provider models.AIProvider) *models.ExtractionSummary {
	s := &models.ExtractionSummary{
		Provider:         string(provider),
		DocumentType:     record.DocumentType,
		TransactionType:  string(record.TransactionType),
		CounterpartyName: record.CounterpartyName,
		Currency:         record.Currency,
		BelongsToTenant:  record.BelongsToTenant,
		Confidence:       record.Confidence,
		Complete:         record.Complete(),
	}
	if record.TotalAmount.Valid {
		s.Amount = record.TotalAmount.Decimal.String()
	}
	return s
}
