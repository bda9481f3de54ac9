package service

import (
	"context"

	"finrecon/internal/models"
	"finrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Document), args.Error(1)
}

func (m *MockDocumentStore) UpdateStatus(ctx context.Context, id uuid.UUID, update repository.StatusUpdate) error {
	return m.Called(ctx, id, update).Error(0)
}

func (m *MockDocumentStore) ReassignTenant(ctx context.Context, id, from, to uuid.UUID, created *models.Tenant) error {
	return m.Called(ctx, id, from, to, created).Error(0)
}

type MockDedupIndex struct {
	mock.Mock
}

func (m *MockDedupIndex) FindByTenantAndHash(ctx context.Context, tenantID uuid.UUID, hash string, exclude uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, tenantID, hash, exclude)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

type MockContentStore struct {
	mock.Mock
}

func (m *MockContentStore) Download(ctx context.Context, storagePath string) ([]byte, error) {
	args := m.Called(ctx, storagePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockTransactionStore struct {
	mock.Mock
}

func (m *MockTransactionStore) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionStore) InsertIfAbsent(ctx context.Context, tx *models.Transaction) (bool, error) {
	args := m.Called(ctx, tx)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionStore) UpdateDraft(ctx context.Context, tx *models.Transaction) (bool, error) {
	args := m.Called(ctx, tx)
	return args.Bool(0), args.Error(1)
}

type MockCorrectionStore struct {
	mock.Mock
}

func (m *MockCorrectionStore) UpsertOpen(ctx context.Context, c *models.TransactionCorrection) error {
	return m.Called(ctx, c).Error(0)
}

type MockTenantDirectory struct {
	mock.Mock
}

func (m *MockTenantDirectory) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *MockTenantDirectory) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Tenant, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Tenant), args.Error(1)
}

func (m *MockTenantDirectory) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

func (m *MockTenantDirectory) TouchActivity(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockPolicySource struct {
	mock.Mock
}

func (m *MockPolicySource) GetDefault(ctx context.Context) (*models.TenantMismatchPolicy, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantMismatchPolicy), args.Error(1)
}

func (m *MockPolicySource) GetOverride(ctx context.Context, tenantID uuid.UUID) (*models.PolicyOverride, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PolicyOverride), args.Error(1)
}

type MockPolicyStore struct {
	mock.Mock
}

func (m *MockPolicyStore) EffectivePolicy(ctx context.Context, tenantID uuid.UUID) (models.TenantMismatchPolicy, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(models.TenantMismatchPolicy), args.Error(1)
}

type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Extract(ctx context.Context, content []byte, mimeType string, provider ProviderConfig) (*models.ExtractedRecord, error) {
	args := m.Called(ctx, content, mimeType, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExtractedRecord), args.Error(1)
}

type MockInspector struct {
	mock.Mock
}

func (m *MockInspector) Inspect(content []byte, mimeType string) (Inspection, error) {
	args := m.Called(content, mimeType)
	return args.Get(0).(Inspection), args.Error(1)
}

type MockMatcher struct {
	mock.Mock
}

func (m *MockMatcher) FindTenantCandidates(ctx context.Context, counterpartyName string, requestingTenantID uuid.UUID) (*models.MatchResult, error) {
	args := m.Called(ctx, counterpartyName, requestingTenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MatchResult), args.Error(1)
}

type MockMaterializer struct {
	mock.Mock
}

func (m *MockMaterializer) Upsert(ctx context.Context, documentID uuid.UUID, record *models.ExtractedRecord, tenantID uuid.UUID) (*models.Transaction, models.MaterializeAction, error) {
	args := m.Called(ctx, documentID, record, tenantID)
	if args.Get(0) == nil {
		return nil, args.Get(1).(models.MaterializeAction), args.Error(2)
	}
	return args.Get(0).(*models.Transaction), args.Get(1).(models.MaterializeAction), args.Error(2)
}

type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Write(ctx context.Context, entry *models.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) TryLock(ctx context.Context, documentID uuid.UUID) (func(), error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}
