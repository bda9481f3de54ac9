package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"finrecon/internal/lock"
	"finrecon/internal/models"
	"finrecon/internal/repository"
	"finrecon/pkg/checksum"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type engineFixture struct {
	docs         *MockDocumentStore
	dedup        *MockDedupIndex
	content      *MockContentStore
	txs          *MockTransactionStore
	tenants      *MockTenantDirectory
	policies     *MockPolicyStore
	oracle       *MockOracle
	inspector    *MockInspector
	matcher      *MockMatcher
	materializer *MockMaterializer
	audit        *MockAuditSink
	locker       *MockLocker

	doc     *models.Document
	tenant  *models.Tenant
	policy  models.TenantMismatchPolicy
	bytes   []byte
	audited []*models.AuditEntry
	calls   []string
	engine  *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	tenant := &models.Tenant{
		ID:         uuid.New(),
		AccountID:  uuid.New(),
		Name:       "Acme",
		LegalName:  "Acme Corporation",
		AIProvider: models.AIProviderGigaChat,
		AIModel:    "GigaChat-Pro",
	}
	f := &engineFixture{
		docs:         new(MockDocumentStore),
		dedup:        new(MockDedupIndex),
		content:      new(MockContentStore),
		txs:          new(MockTransactionStore),
		tenants:      new(MockTenantDirectory),
		policies:     new(MockPolicyStore),
		oracle:       new(MockOracle),
		inspector:    new(MockInspector),
		matcher:      new(MockMatcher),
		materializer: new(MockMaterializer),
		audit:        new(MockAuditSink),
		locker:       new(MockLocker),
		doc: &models.Document{
			ID:          uuid.New(),
			TenantID:    tenant.ID,
			StoragePath: "tenants/acme/invoice.pdf",
			MimeType:    "application/pdf",
			ContentHash: "feedface",
			Status:      models.DocumentStatusUploaded,
		},
		tenant: tenant,
		policy: models.TenantMismatchPolicy{
			AllowAutoReassignment:   true,
			AllowAutoTenantCreation: false,
			MinConfidence:           0.85,
			MaxTenantsPerAccount:    5,
		},
		bytes: []byte("%PDF-1.7 invoice"),
	}

	f.engine = NewEngine(EngineDeps{
		Documents:    f.docs,
		Dedup:        f.dedup,
		Content:      f.content,
		Transactions: f.txs,
		Tenants:      f.tenants,
		Policies:     f.policies,
		Oracle:       f.oracle,
		Inspector:    f.inspector,
		Matcher:      f.matcher,
		Materializer: f.materializer,
		Audit:        f.audit,
		Locker:       f.locker,
	}, EngineConfig{
		IdentityDisagreementThreshold: 0.4,
		DefaultProvider:               models.AIProviderGigaChat,
	}, zap.NewNop())

	f.locker.On("TryLock", mock.Anything, f.doc.ID).Return(func() {}, nil)
	f.audit.On("Write", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		f.audited = append(f.audited, args.Get(1).(*models.AuditEntry))
	}).Return(nil)
	f.tenants.On("TouchActivity", mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

// expectLoad registers the document lookup and the parallel loads.
func (f *engineFixture) expectLoad(existing *models.Transaction) {
	f.docs.On("GetByID", mock.Anything, f.doc.ID).Return(f.doc, nil)
	f.content.On("Download", mock.Anything, f.doc.StoragePath).Return(f.bytes, nil)
	f.policies.On("EffectivePolicy", mock.Anything, f.doc.TenantID).Return(f.policy, nil)
	f.tenants.On("GetByID", mock.Anything, f.doc.TenantID).Return(f.tenant, nil)
	if existing == nil {
		f.txs.On("GetByDocumentID", mock.Anything, f.doc.ID).Return(nil, nil)
	} else {
		f.txs.On("GetByDocumentID", mock.Anything, f.doc.ID).Return(existing, nil)
	}
}

func (f *engineFixture) expectNoDuplicates() {
	f.dedup.On("FindByTenantAndHash", mock.Anything, f.doc.TenantID, f.doc.ContentHash, f.doc.ID).Return([]uuid.UUID{}, nil)
}

func (f *engineFixture) expectExtraction(record *models.ExtractedRecord) {
	f.inspector.On("Inspect", f.bytes, f.doc.MimeType).Return(Inspection{MimeType: f.doc.MimeType, PageCount: 2}, nil)
	f.oracle.On("Extract", mock.Anything, f.bytes, f.doc.MimeType, mock.MatchedBy(func(p ProviderConfig) bool {
		return p.Provider == models.AIProviderGigaChat && p.Model == "GigaChat-Pro" &&
			len(p.TenantNames) == 2 && p.TenantNames[0] == "Acme"
	})).Return(record, nil)
}

func (f *engineFixture) expectStatus(status models.DocumentStatus) {
	f.docs.On("UpdateStatus", mock.Anything, f.doc.ID, mock.MatchedBy(func(u repository.StatusUpdate) bool {
		return u.Status == status
	})).Run(func(mock.Arguments) {
		f.calls = append(f.calls, "status:"+string(status))
	}).Return(nil)
}

func (f *engineFixture) lastAudit(t *testing.T) *models.AuditEntry {
	t.Helper()
	require.Len(t, f.audited, 1)
	return f.audited[0]
}

func foreignRecord(owner string) *models.ExtractedRecord {
	r := completeRecord()
	r.OwnerName = owner
	r.BelongsToTenant = models.OwnershipFalse
	return r
}

func TestEngine_ProcessDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a draft for a document that belongs to the tenant", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		f.expectExtraction(record)

		tx := &models.Transaction{ID: uuid.New(), DocumentID: f.doc.ID, TenantID: f.tenant.ID}
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).Return(tx, models.MaterializeCreated, nil)
		f.docs.On("UpdateStatus", mock.Anything, f.doc.ID, repository.StatusUpdate{
			Status:    models.DocumentStatusProcessed,
			PageCount: 2,
		}).Return(nil)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.Equal(t, models.DocumentStatusProcessed, result.Status)
		assert.True(t, result.RecordsCreated)
		assert.Equal(t, models.MaterializeCreated, result.Materialization)
		require.NotNil(t, result.TransactionID)
		assert.Equal(t, tx.ID, *result.TransactionID)
		assert.False(t, result.MismatchDetected)
		assert.Nil(t, result.TenantCorrection)
		f.matcher.AssertNotCalled(t, "FindTenantCandidates", mock.Anything, mock.Anything, mock.Anything)

		entry := f.lastAudit(t)
		assert.Equal(t, f.doc.ID, entry.DocumentID)
		assert.Equal(t, models.DocumentStatusProcessed, entry.FinalStatus)
		assert.Equal(t, "120.5", entry.Extraction.Amount)
		assert.Equal(t, "gigachat", entry.Extraction.Provider)
		assert.Equal(t, f.policy, *entry.Policy)
		assert.Empty(t, entry.Error)
	})

	t.Run("should store the content hash when it is missing", func(t *testing.T) {
		f := newEngineFixture(t)
		f.doc.ContentHash = ""
		f.expectLoad(nil)
		hash := checksum.ContentHash(f.bytes)
		f.dedup.On("FindByTenantAndHash", mock.Anything, f.doc.TenantID, hash, f.doc.ID).Return([]uuid.UUID{uuid.New()}, nil)
		f.docs.On("UpdateStatus", mock.Anything, f.doc.ID, mock.MatchedBy(func(u repository.StatusUpdate) bool {
			return u.Status == models.DocumentStatusDuplicate && u.ContentHash == hash
		})).Return(nil)

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)
		f.docs.AssertExpectations(t)
	})

	t.Run("should persist a computed hash only with the terminal status", func(t *testing.T) {
		f := newEngineFixture(t)
		f.doc.ContentHash = ""
		f.expectLoad(nil)
		hash := checksum.ContentHash(f.bytes)
		f.dedup.On("FindByTenantAndHash", mock.Anything, f.doc.TenantID, hash, f.doc.ID).Return([]uuid.UUID{}, nil)
		f.inspector.On("Inspect", f.bytes, f.doc.MimeType).Return(Inspection{MimeType: f.doc.MimeType, PageCount: 1}, nil)

		cctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.oracle.On("Extract", mock.Anything, f.bytes, f.doc.MimeType, mock.Anything).Run(func(mock.Arguments) {
			cancel()
		}).Return(nil, context.Canceled)

		_, err := f.engine.ProcessDocument(cctx, f.doc.ID)
		assert.ErrorIs(t, err, context.Canceled)
		f.docs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
		assert.Len(t, f.docs.Calls, 1)
	})

	t.Run("should ingest a document whose identical twin was never ingested", func(t *testing.T) {
		f := newEngineFixture(t)
		f.doc.Status = models.DocumentStatusNeedsReview
		f.doc.StatusReason = "extraction failed: timeout"
		f.expectLoad(nil)
		// the twin exists but has no transaction, so the index reports nothing
		f.expectNoDuplicates()
		record := completeRecord()
		f.expectExtraction(record)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).
			Return(&models.Transaction{ID: uuid.New()}, models.MaterializeCreated, nil)
		f.expectStatus(models.DocumentStatusProcessed)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.False(t, result.Duplicate)
		assert.True(t, result.RecordsCreated)
		assert.Equal(t, models.DocumentStatusProcessed, result.Status)
		f.oracle.AssertNumberOfCalls(t, "Extract", 1)
	})

	t.Run("should hand the oracle the normalized mime type", func(t *testing.T) {
		f := newEngineFixture(t)
		f.doc.MimeType = "image/JPG; name=receipt.jpg"
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		f.inspector.On("Inspect", f.bytes, f.doc.MimeType).Return(Inspection{MimeType: "image/jpeg", PageCount: 1}, nil)
		f.oracle.On("Extract", mock.Anything, f.bytes, "image/jpeg", mock.Anything).Return(record, nil)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).
			Return(&models.Transaction{ID: uuid.New()}, models.MaterializeCreated, nil)
		f.expectStatus(models.DocumentStatusProcessed)

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)
		f.oracle.AssertExpectations(t)
	})

	t.Run("should mark a duplicate without a transaction and do nothing else", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		original := uuid.New()
		f.dedup.On("FindByTenantAndHash", mock.Anything, f.doc.TenantID, f.doc.ContentHash, f.doc.ID).Return([]uuid.UUID{original}, nil)
		f.docs.On("UpdateStatus", mock.Anything, f.doc.ID, mock.MatchedBy(func(u repository.StatusUpdate) bool {
			return u.Status == models.DocumentStatusDuplicate && strings.Contains(u.Reason, original.String())
		})).Return(nil)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.True(t, result.Duplicate)
		assert.False(t, result.RecordsCreated)
		assert.Equal(t, models.DocumentStatusDuplicate, result.Status)
		assert.Nil(t, result.TransactionID)
		f.oracle.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.materializer.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		entry := f.lastAudit(t)
		assert.True(t, entry.Duplicate)
		assert.Equal(t, []uuid.UUID{original}, entry.DuplicateOf)
	})

	t.Run("should refresh the existing transaction of a duplicate", func(t *testing.T) {
		f := newEngineFixture(t)
		existing := &models.Transaction{ID: uuid.New(), DocumentID: f.doc.ID, TenantID: f.tenant.ID, Status: models.TransactionStatusDraft}
		f.expectLoad(existing)
		f.dedup.On("FindByTenantAndHash", mock.Anything, f.doc.TenantID, f.doc.ContentHash, f.doc.ID).Return([]uuid.UUID{uuid.New()}, nil)
		record := completeRecord()
		f.expectExtraction(record)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).Return(existing, models.MaterializeUpdated, nil)
		f.expectStatus(models.DocumentStatusProcessed)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.True(t, result.Duplicate)
		assert.True(t, result.RecordsCreated)
		assert.Equal(t, models.MaterializeUpdated, result.Materialization)
		assert.Equal(t, existing.ID, *result.TransactionID)
		assert.Equal(t, models.DocumentStatusProcessed, result.Status)
	})

	t.Run("should leave a mismatch unresolved when no candidates exist", func(t *testing.T) {
		f := newEngineFixture(t)
		f.policy.AllowAutoTenantCreation = true
		f.expectLoad(nil)
		f.expectNoDuplicates()
		f.expectExtraction(foreignRecord("Globex Ltd"))
		f.matcher.On("FindTenantCandidates", mock.Anything, "Globex Ltd", f.tenant.ID).Return(&models.MatchResult{}, nil)
		f.tenants.On("CountByAccount", mock.Anything, f.tenant.AccountID).Return(1, nil)
		f.expectStatus(models.DocumentStatusTenantMismatch)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.True(t, result.MismatchDetected)
		assert.False(t, result.RecordsCreated)
		assert.Nil(t, result.TenantCorrection)
		assert.Equal(t, models.DocumentStatusTenantMismatch, result.Status)
		f.docs.AssertNotCalled(t, "ReassignTenant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.materializer.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		entry := f.lastAudit(t)
		assert.True(t, entry.MismatchDetected)
		assert.Equal(t, models.ResolutionNone, entry.Resolution)
	})

	t.Run("should reassign to a high-confidence candidate before materializing", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := foreignRecord("Globex Ltd")
		f.expectExtraction(record)

		target := uuid.New()
		f.matcher.On("FindTenantCandidates", mock.Anything, "Globex Ltd", f.tenant.ID).Return(&models.MatchResult{
			Candidates:    []models.TenantCandidate{{TenantID: target, Confidence: 0.95, SuggestedName: "Globex"}},
			IsMultiTenant: true,
		}, nil)
		f.docs.On("ReassignTenant", mock.Anything, f.doc.ID, f.tenant.ID, target, (*models.Tenant)(nil)).Run(func(mock.Arguments) {
			f.calls = append(f.calls, "reassign")
		}).Return(nil)
		tx := &models.Transaction{ID: uuid.New(), TenantID: target}
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, target).Run(func(mock.Arguments) {
			f.calls = append(f.calls, "upsert")
		}).Return(tx, models.MaterializeCreated, nil)
		f.expectStatus(models.DocumentStatusProcessed)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.Equal(t, []string{"reassign", "upsert", "status:PROCESSED"}, f.calls)
		require.NotNil(t, result.TenantCorrection)
		assert.Equal(t, models.ResolutionReassigned, result.TenantCorrection.ActionTaken)
		assert.Equal(t, f.tenant.ID, result.TenantCorrection.FromTenantID)
		assert.Equal(t, target, result.TenantCorrection.ToTenantID)
		assert.Equal(t, "Globex", result.TenantCorrection.TenantName)
		assert.InDelta(t, 0.95, result.TenantCorrection.Confidence, 1e-9)
		f.tenants.AssertNotCalled(t, "CountByAccount", mock.Anything, mock.Anything)
		f.tenants.AssertCalled(t, "TouchActivity", mock.Anything, target)

		entry := f.lastAudit(t)
		assert.Equal(t, models.ResolutionReassigned, entry.Resolution)
		require.NotNil(t, entry.ResolvedTenantID)
		assert.Equal(t, target, *entry.ResolvedTenantID)
		assert.Len(t, entry.Candidates, 1)
	})

	t.Run("should not reassign below the confidence floor", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		f.expectExtraction(foreignRecord("Globex Ltd"))
		f.matcher.On("FindTenantCandidates", mock.Anything, "Globex Ltd", f.tenant.ID).Return(&models.MatchResult{
			Candidates: []models.TenantCandidate{{TenantID: uuid.New(), Confidence: 0.84}},
		}, nil)
		f.expectStatus(models.DocumentStatusTenantMismatch)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.Equal(t, models.DocumentStatusTenantMismatch, result.Status)
		assert.Nil(t, result.TenantCorrection)
		f.docs.AssertNotCalled(t, "ReassignTenant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should create a tenant when allowed and quota remains", func(t *testing.T) {
		f := newEngineFixture(t)
		f.policy.AllowAutoTenantCreation = true
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := foreignRecord("Globex  Ltd")
		record.Confidence = 0.7
		f.expectExtraction(record)
		f.matcher.On("FindTenantCandidates", mock.Anything, "Globex  Ltd", f.tenant.ID).Return(&models.MatchResult{
			Candidates: []models.TenantCandidate{{TenantID: uuid.New(), Confidence: 0.5}},
		}, nil)
		f.tenants.On("CountByAccount", mock.Anything, f.tenant.AccountID).Return(2, nil)

		var created *models.Tenant
		f.docs.On("ReassignTenant", mock.Anything, f.doc.ID, f.tenant.ID, mock.Anything, mock.MatchedBy(func(tn *models.Tenant) bool {
			return tn != nil && tn.AutoCreated && tn.AccountID == f.tenant.AccountID && tn.Name == "Globex Ltd" &&
				tn.AIProvider == f.tenant.AIProvider
		})).Run(func(args mock.Arguments) {
			created = args.Get(4).(*models.Tenant)
			f.calls = append(f.calls, "create+reassign")
		}).Return(nil)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, mock.Anything).Run(func(mock.Arguments) {
			f.calls = append(f.calls, "upsert")
		}).Return(&models.Transaction{ID: uuid.New()}, models.MaterializeCreated, nil)
		f.expectStatus(models.DocumentStatusProcessed)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		require.NotNil(t, created)
		assert.Equal(t, []string{"create+reassign", "upsert", "status:PROCESSED"}, f.calls)
		require.NotNil(t, result.TenantCorrection)
		assert.Equal(t, models.ResolutionCreated, result.TenantCorrection.ActionTaken)
		assert.Equal(t, created.ID, result.TenantCorrection.ToTenantID)
		assert.Equal(t, "Globex Ltd", result.TenantCorrection.TenantName)
		assert.InDelta(t, 0.7, result.TenantCorrection.Confidence, 1e-9)
		f.docs.AssertCalled(t, "ReassignTenant", mock.Anything, f.doc.ID, f.tenant.ID, created.ID, created)
		f.materializer.AssertCalled(t, "Upsert", mock.Anything, f.doc.ID, record, created.ID)
	})

	t.Run("should leave no tenant behind when the move fails after creation", func(t *testing.T) {
		f := newEngineFixture(t)
		f.policy.AllowAutoReassignment = false
		f.policy.AllowAutoTenantCreation = true
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := foreignRecord("Globex Ltd")
		f.expectExtraction(record)
		f.matcher.On("FindTenantCandidates", mock.Anything, "Globex Ltd", f.tenant.ID).Return(&models.MatchResult{
			Candidates: []models.TenantCandidate{{TenantID: uuid.New(), Confidence: 0.4}},
		}, nil)
		f.tenants.On("CountByAccount", mock.Anything, f.tenant.AccountID).Return(1, nil)

		// a tenant only exists once the call that carries it commits
		var committed []*models.Tenant
		f.docs.On("ReassignTenant", mock.Anything, f.doc.ID, f.tenant.ID, mock.Anything, mock.Anything).
			Return(errors.New("conn reset")).Once()
		f.docs.On("ReassignTenant", mock.Anything, f.doc.ID, f.tenant.ID, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			committed = append(committed, args.Get(4).(*models.Tenant))
		}).Return(nil).Once()
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, mock.Anything).
			Return(&models.Transaction{ID: uuid.New()}, models.MaterializeCreated, nil)
		f.expectStatus(models.DocumentStatusProcessed)

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.ErrorIs(t, err, ErrMaterializationFailure)
		assert.Empty(t, committed)
		f.materializer.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.docs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)
		require.Len(t, committed, 1)
		require.NotNil(t, result.TenantCorrection)
		assert.Equal(t, committed[0].ID, result.TenantCorrection.ToTenantID)
		f.docs.AssertNumberOfCalls(t, "ReassignTenant", 2)
	})

	t.Run("should not create a tenant when the account quota is used up", func(t *testing.T) {
		f := newEngineFixture(t)
		f.policy.AllowAutoTenantCreation = true
		f.expectLoad(nil)
		f.expectNoDuplicates()
		f.expectExtraction(foreignRecord("Globex Ltd"))
		f.matcher.On("FindTenantCandidates", mock.Anything, "Globex Ltd", f.tenant.ID).Return(&models.MatchResult{
			Candidates: []models.TenantCandidate{{TenantID: uuid.New(), Confidence: 0.5}},
		}, nil)
		f.tenants.On("CountByAccount", mock.Anything, f.tenant.AccountID).Return(5, nil)
		f.expectStatus(models.DocumentStatusTenantMismatch)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.Equal(t, models.DocumentStatusTenantMismatch, result.Status)
		f.docs.AssertNotCalled(t, "ReassignTenant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should accept an unknown verdict when the owner name matches the tenant", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		record.BelongsToTenant = models.OwnershipUnknown
		record.OwnerName = "ACME Corp."
		f.expectExtraction(record)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).Return(&models.Transaction{ID: uuid.New()}, models.MaterializeCreated, nil)
		f.expectStatus(models.DocumentStatusProcessed)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.False(t, result.MismatchDetected)
		f.matcher.AssertNotCalled(t, "FindTenantCandidates", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should treat an unknown verdict with a foreign owner as a mismatch", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		record.BelongsToTenant = models.OwnershipUnknown
		record.OwnerName = "Initech"
		f.expectExtraction(record)
		f.matcher.On("FindTenantCandidates", mock.Anything, "Initech", f.tenant.ID).Return(&models.MatchResult{}, nil)
		f.expectStatus(models.DocumentStatusTenantMismatch)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.True(t, result.MismatchDetected)
	})

	t.Run("should flag an incomplete extraction for review", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		record.Currency = ""
		f.expectExtraction(record)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).Return(&models.Transaction{ID: uuid.New(), NeedsReview: true}, models.MaterializeCreated, nil)
		f.docs.On("UpdateStatus", mock.Anything, f.doc.ID, repository.StatusUpdate{
			Status:    models.DocumentStatusNeedsReview,
			Reason:    "incomplete extraction",
			PageCount: 2,
		}).Return(nil)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.True(t, result.RecordsCreated)
		assert.Equal(t, models.DocumentStatusNeedsReview, result.Status)
	})

	t.Run("should flag a posted correction for review", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		f.expectExtraction(record)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).Return(&models.Transaction{ID: uuid.New()}, models.MaterializeCorrection, nil)
		f.expectStatus(models.DocumentStatusNeedsReview)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.NoError(t, err)

		assert.Equal(t, models.MaterializeCorrection, result.Materialization)
		assert.Equal(t, models.DocumentStatusNeedsReview, result.Status)
	})

	t.Run("should set needs review when extraction fails", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		f.inspector.On("Inspect", f.bytes, f.doc.MimeType).Return(Inspection{MimeType: f.doc.MimeType, PageCount: 1}, nil)
		f.oracle.On("Extract", mock.Anything, f.bytes, f.doc.MimeType, mock.Anything).Return(nil, errors.New("model refused"))
		f.docs.On("UpdateStatus", mock.Anything, f.doc.ID, mock.MatchedBy(func(u repository.StatusUpdate) bool {
			return u.Status == models.DocumentStatusNeedsReview && strings.Contains(u.Reason, "model refused")
		})).Return(nil)

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrExtractionFailure)
		f.docs.AssertExpectations(t)
		f.materializer.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		entry := f.lastAudit(t)
		assert.Contains(t, entry.Error, "model refused")
	})

	t.Run("should set needs review when the content is rejected", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		f.inspector.On("Inspect", f.bytes, f.doc.MimeType).Return(Inspection{}, errors.New("malformed PDF"))
		f.expectStatus(models.DocumentStatusNeedsReview)

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.ErrorIs(t, err, ErrExtractionFailure)
		f.oracle.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should write no status when cancelled during extraction", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		f.inspector.On("Inspect", f.bytes, f.doc.MimeType).Return(Inspection{MimeType: f.doc.MimeType, PageCount: 1}, nil)

		cctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.oracle.On("Extract", mock.Anything, f.bytes, f.doc.MimeType, mock.Anything).Run(func(mock.Arguments) {
			cancel()
		}).Return(nil, context.Canceled)

		result, err := f.engine.ProcessDocument(cctx, f.doc.ID)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrExtractionFailure)
		f.docs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)

		// the audit trail survives the cancellation
		f.audit.AssertCalled(t, "Write", mock.MatchedBy(func(c context.Context) bool {
			return c.Err() == nil
		}), mock.Anything)
	})

	t.Run("should leave status unchanged when materialization fails", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		f.expectExtraction(record)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).
			Return(nil, models.MaterializeNone, errors.Join(ErrMaterializationFailure, errors.New("connection reset")))

		result, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrMaterializationFailure)
		f.docs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
		f.tenants.AssertNotCalled(t, "TouchActivity", mock.Anything, mock.Anything)
		assert.NotEmpty(t, f.lastAudit(t).Error)
	})

	t.Run("should surface a tenant conflict without writing status", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		record := completeRecord()
		f.expectExtraction(record)
		f.materializer.On("Upsert", mock.Anything, f.doc.ID, record, f.tenant.ID).Return(nil, models.MaterializeNone, ErrTenantConflict)

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.ErrorIs(t, err, ErrTenantConflict)
		f.docs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should report a stale tenant as busy", func(t *testing.T) {
		f := newEngineFixture(t)
		f.expectLoad(nil)
		f.expectNoDuplicates()
		f.expectExtraction(foreignRecord("Globex Ltd"))
		target := uuid.New()
		f.matcher.On("FindTenantCandidates", mock.Anything, "Globex Ltd", f.tenant.ID).Return(&models.MatchResult{
			Candidates: []models.TenantCandidate{{TenantID: target, Confidence: 0.99}},
		}, nil)
		f.docs.On("ReassignTenant", mock.Anything, f.doc.ID, f.tenant.ID, target, (*models.Tenant)(nil)).Return(repository.ErrStaleTenant)

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.ErrorIs(t, err, ErrDocumentBusy)
		f.materializer.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should fail fast when the document is locked", func(t *testing.T) {
		f := newEngineFixture(t)
		locker := new(MockLocker)
		locker.On("TryLock", mock.Anything, f.doc.ID).Return(nil, lock.ErrBusy)
		f.engine.deps.Locker = locker

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.ErrorIs(t, err, ErrDocumentBusy)
		f.docs.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
		assert.Empty(t, f.audited)
	})

	t.Run("should return not found for an unknown document", func(t *testing.T) {
		f := newEngineFixture(t)
		f.docs.On("GetByID", mock.Anything, f.doc.ID).Return(nil, repository.ErrNotFound)

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		assert.ErrorIs(t, err, ErrDocumentNotFound)
		assert.Empty(t, f.audited)
	})

	t.Run("should fail without status when content cannot be loaded", func(t *testing.T) {
		f := newEngineFixture(t)
		f.docs.On("GetByID", mock.Anything, f.doc.ID).Return(f.doc, nil)
		f.content.On("Download", mock.Anything, f.doc.StoragePath).Return(nil, errors.New("object not found"))
		f.policies.On("EffectivePolicy", mock.Anything, f.doc.TenantID).Return(f.policy, nil).Maybe()
		f.tenants.On("GetByID", mock.Anything, f.doc.TenantID).Return(f.tenant, nil).Maybe()
		f.txs.On("GetByDocumentID", mock.Anything, f.doc.ID).Return(nil, nil).Maybe()

		_, err := f.engine.ProcessDocument(ctx, f.doc.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to download content")
		f.docs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
		assert.Len(t, f.audited, 1)
	})
}

func TestEngine_ProcessDocument_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.docs.On("GetByID", mock.Anything, f.doc.ID).Return(f.doc, nil)
	f.content.On("Download", mock.Anything, f.doc.StoragePath).Return(f.bytes, nil)
	f.policies.On("EffectivePolicy", mock.Anything, f.doc.TenantID).Return(f.policy, nil)
	f.tenants.On("GetByID", mock.Anything, f.doc.TenantID).Return(f.tenant, nil)
	f.expectNoDuplicates()
	record := completeRecord()
	f.expectExtraction(record)
	f.expectStatus(models.DocumentStatusProcessed)

	// real materializer over a mocked table
	var inserted *models.Transaction
	f.txs.On("GetByDocumentID", mock.Anything, f.doc.ID).Return(nil, nil).Twice()
	f.txs.On("InsertIfAbsent", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*models.Transaction)
	}).Return(true, nil).Once()
	f.engine.deps.Materializer = NewMaterializer(f.txs, new(MockCorrectionStore), zap.NewNop())

	first, err := f.engine.ProcessDocument(ctx, f.doc.ID)
	require.NoError(t, err)
	require.NotNil(t, inserted)
	assert.Equal(t, models.MaterializeCreated, first.Materialization)

	f.txs.On("GetByDocumentID", mock.Anything, f.doc.ID).Return(inserted, nil)
	f.txs.On("UpdateDraft", mock.Anything, mock.MatchedBy(func(tx *models.Transaction) bool {
		return tx.ID == inserted.ID
	})).Return(true, nil)

	second, err := f.engine.ProcessDocument(ctx, f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.MaterializeUpdated, second.Materialization)
	assert.Equal(t, *first.TransactionID, *second.TransactionID)
	assert.Equal(t, first.Status, second.Status)
	f.txs.AssertNumberOfCalls(t, "InsertIfAbsent", 1)
	assert.Len(t, f.audited, 2)
}

func TestFinalStatus(t *testing.T) {
	complete := completeRecord()
	incomplete := completeRecord()
	incomplete.TotalAmount.Valid = false

	tests := []struct {
		name   string
		record *models.ExtractedRecord
		action models.MaterializeAction
		want   models.DocumentStatus
	}{
		{"complete and created", complete, models.MaterializeCreated, models.DocumentStatusProcessed},
		{"complete and updated", complete, models.MaterializeUpdated, models.DocumentStatusProcessed},
		{"incomplete", incomplete, models.MaterializeCreated, models.DocumentStatusNeedsReview},
		{"void", complete, models.MaterializeSkippedVoid, models.DocumentStatusNeedsReview},
		{"correction", complete, models.MaterializeCorrection, models.DocumentStatusNeedsReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := finalStatus(tt.record, tt.action)
			assert.Equal(t, tt.want, got)
			if got == models.DocumentStatusProcessed {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestEngine_AuditWriteFailureIsNotFatal(t *testing.T) {
	f := newEngineFixture(t)
	audit := new(MockAuditSink)
	audit.On("Write", mock.Anything, mock.Anything).Return(errors.New("firestore unavailable"))
	f.engine.deps.Audit = audit
	f.engine.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	f.expectLoad(nil)
	f.dedup.On("FindByTenantAndHash", mock.Anything, f.doc.TenantID, f.doc.ContentHash, f.doc.ID).Return([]uuid.UUID{uuid.New()}, nil)
	f.expectStatus(models.DocumentStatusDuplicate)

	result, err := f.engine.ProcessDocument(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDuplicate, result.Status)
	audit.AssertExpectations(t)
}
