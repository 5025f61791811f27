package entry

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/models"
)

// MockEntryStore for testing
type MockEntryStore struct {
	mu                  sync.RWMutex
	entries             map[int64]*models.FuelEntry
	nextID              int64
	nextRegNumber       int64
	createCallCount     int
	setCertCallCount    int
	hardDeleteCallCount int
	expectedCreateErr   error
	expectedSetCertErr  error
	expectedDeleteErr   error
}

func NewMockEntryStore() *MockEntryStore {
	return &MockEntryStore{
		entries:       make(map[int64]*models.FuelEntry),
		nextRegNumber: 1000,
	}
}

func (m *MockEntryStore) Create(entry *models.FuelEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCallCount++
	if m.expectedCreateErr != nil {
		return m.expectedCreateErr
	}
	m.nextID++
	m.nextRegNumber++
	entry.ID = m.nextID
	entry.RegistrationNumber = m.nextRegNumber
	entry.IsActive = true
	m.entries[entry.ID] = entry
	return nil
}

func (m *MockEntryStore) SetCertificate(id int64, path, fileName string, uploadedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCertCallCount++
	if m.expectedSetCertErr != nil {
		return m.expectedSetCertErr
	}
	if e, ok := m.entries[id]; ok {
		e.CertificatePath = path
		e.CertificateFileName = fileName
		e.CertificateUploadedAt = &uploadedAt
	}
	return nil
}

func (m *MockEntryStore) HardDelete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hardDeleteCallCount++
	if m.expectedDeleteErr != nil {
		return m.expectedDeleteErr
	}
	delete(m.entries, id)
	return nil
}

func (m *MockEntryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MockCertificateStore for testing
type MockCertificateStore struct {
	mu              sync.RWMutex
	files           map[string][]byte
	saveCallCount   int
	removeCallCount int
	expectedSaveErr error
}

func NewMockCertificateStore() *MockCertificateStore {
	return &MockCertificateStore{files: make(map[string][]byte)}
}

func (m *MockCertificateStore) Save(relPath string, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.expectedSaveErr != nil {
		return "", m.expectedSaveErr
	}
	m.files[relPath] = content
	return relPath, nil
}

func (m *MockCertificateStore) Remove(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCallCount++
	delete(m.files, relPath)
	return nil
}

func (m *MockCertificateStore) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// MockInspector for testing
type MockInspector struct {
	mu               sync.RWMutex
	inspectCallCount int
	pages            int
	expectedErr      error
}

func (m *MockInspector) Inspect(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inspectCallCount++
	if m.expectedErr != nil {
		return 0, m.expectedErr
	}
	if m.pages == 0 {
		return 1, nil
	}
	return m.pages, nil
}

// MockAuditSink for testing
type MockAuditSink struct {
	mu      sync.RWMutex
	actions []string
}

func (m *MockAuditSink) Append(action, objectType string, objectID, actorID int64, summary map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
	return nil
}

func (m *MockAuditSink) Actions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.actions...)
}

const testMaxCertSize = 1 << 20

func newTestService() (*Service, *MockEntryStore, *MockCertificateStore, *MockInspector, *MockAuditSink) {
	store := NewMockEntryStore()
	certs := NewMockCertificateStore()
	inspector := &MockInspector{}
	audit := &MockAuditSink{}
	svc := NewService(Config{MaxCertificateSize: testMaxCertSize}, store, certs, inspector, audit, zap.NewNop())
	return svc, store, certs, inspector, audit
}

func validInput() CreateInput {
	return CreateInput{
		EntryDate:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		WarehouseID:  1,
		ProductName:  "Diesel B7",
		Quantity:     25000,
		SupplierName: "Petrol Trade Ltd",
	}
}

func TestCreate_AllocatesRegistrationNumber(t *testing.T) {
	svc, store, _, _, audit := newTestService()

	first, err := svc.Create(context.Background(), validInput(), 7)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), validInput(), 7)
	require.NoError(t, err)

	assert.Equal(t, first.RegistrationNumber+1, second.RegistrationNumber)
	assert.Equal(t, 2, store.createCallCount)
	assert.Equal(t, []string{models.AuditActionEntryCreated, models.AuditActionEntryCreated}, audit.Actions())
}

func TestCreate_ValidationRejectsBeforePersisting(t *testing.T) {
	svc, store, _, _, _ := newTestService()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing date", func(in *CreateInput) { in.EntryDate = time.Time{} }},
		{"missing warehouse", func(in *CreateInput) { in.WarehouseID = 0 }},
		{"blank product", func(in *CreateInput) { in.ProductName = "   " }},
		{"zero quantity", func(in *CreateInput) { in.Quantity = 0 }},
		{"negative quantity", func(in *CreateInput) { in.Quantity = -5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)

			_, err := svc.Create(context.Background(), input, 7)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
		})
	}
	assert.Equal(t, 0, store.createCallCount, "invalid input must not reach the store")
}

func TestCreate_CertificateValidation(t *testing.T) {
	svc, store, _, inspector, _ := newTestService()

	t.Run("non-pdf extension", func(t *testing.T) {
		input := validInput()
		input.Certificate = &CertificateUpload{FileName: "cert.docx", Data: []byte("x")}
		_, err := svc.Create(context.Background(), input, 7)
		assert.True(t, IsValidation(err))
	})

	t.Run("oversized file", func(t *testing.T) {
		input := validInput()
		input.Certificate = &CertificateUpload{
			FileName: "cert.pdf",
			Data:     bytes.Repeat([]byte("a"), testMaxCertSize+1),
		}
		_, err := svc.Create(context.Background(), input, 7)
		assert.True(t, IsValidation(err))
	})

	t.Run("empty file", func(t *testing.T) {
		input := validInput()
		input.Certificate = &CertificateUpload{FileName: "cert.pdf", Data: nil}
		_, err := svc.Create(context.Background(), input, 7)
		assert.True(t, IsValidation(err))
	})

	t.Run("unreadable document", func(t *testing.T) {
		inspector.mu.Lock()
		inspector.expectedErr = fmt.Errorf("document is not a readable PDF")
		inspector.mu.Unlock()
		defer func() {
			inspector.mu.Lock()
			inspector.expectedErr = nil
			inspector.mu.Unlock()
		}()

		input := validInput()
		input.Certificate = &CertificateUpload{FileName: "cert.pdf", Data: []byte("%PDF-1.4")}
		_, err := svc.Create(context.Background(), input, 7)
		assert.True(t, IsValidation(err))
	})

	assert.Equal(t, 0, store.createCallCount, "rejected certificates must not create entries")
}

func TestCreate_StoresCertificateKeyedByRegistrationNumber(t *testing.T) {
	svc, _, certs, _, _ := newTestService()

	input := validInput()
	input.Certificate = &CertificateUpload{FileName: "Quality Cert.PDF", Data: []byte("%PDF-1.4")}

	created, err := svc.Create(context.Background(), input, 7)
	require.NoError(t, err)

	expectedPath := fmt.Sprintf("certificates/%d.pdf", created.RegistrationNumber)
	assert.Equal(t, expectedPath, created.CertificatePath)
	assert.Equal(t, "Quality Cert.PDF", created.CertificateFileName)
	assert.NotNil(t, created.CertificateUploadedAt)
	assert.True(t, created.HasCertificate())

	certs.mu.RLock()
	_, stored := certs.files[expectedPath]
	certs.mu.RUnlock()
	assert.True(t, stored)
}

func TestCreate_UploadFailureCompensatesWithHardDelete(t *testing.T) {
	svc, store, certs, _, audit := newTestService()
	certs.expectedSaveErr = fmt.Errorf("disk full")

	input := validInput()
	input.Certificate = &CertificateUpload{FileName: "cert.pdf", Data: []byte("%PDF-1.4")}

	_, err := svc.Create(context.Background(), input, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCertificateUpload)

	assert.Equal(t, 1, store.createCallCount)
	assert.Equal(t, 1, store.hardDeleteCallCount)
	assert.Equal(t, 0, store.Count(), "the half-created entry must be removed")
	assert.Equal(t, []string{models.AuditActionUploadRollback}, audit.Actions())
}

func TestCreate_RecordUpdateFailureRemovesOrphanFile(t *testing.T) {
	svc, store, certs, _, _ := newTestService()
	store.expectedSetCertErr = fmt.Errorf("column gone")

	input := validInput()
	input.Certificate = &CertificateUpload{FileName: "cert.pdf", Data: []byte("%PDF-1.4")}

	_, err := svc.Create(context.Background(), input, 7)
	require.ErrorIs(t, err, ErrCertificateUpload)

	assert.Equal(t, 1, certs.saveCallCount)
	assert.Equal(t, 1, certs.removeCallCount)
	assert.Equal(t, 0, certs.FileCount(), "no certificate file may outlive the rollback")
	assert.Equal(t, 1, store.hardDeleteCallCount)
}

func TestCreate_CompensationFailureIsAudited(t *testing.T) {
	svc, store, certs, _, audit := newTestService()
	certs.expectedSaveErr = fmt.Errorf("disk full")
	store.expectedDeleteErr = fmt.Errorf("db locked")

	input := validInput()
	input.Certificate = &CertificateUpload{FileName: "cert.pdf", Data: []byte("%PDF-1.4")}

	_, err := svc.Create(context.Background(), input, 7)
	require.ErrorIs(t, err, ErrCertificateUpload)

	assert.Equal(t, []string{models.AuditActionRollbackFailed}, audit.Actions())
}

func TestCreate_WithoutCertificate(t *testing.T) {
	svc, _, certs, inspector, _ := newTestService()

	created, err := svc.Create(context.Background(), validInput(), 7)
	require.NoError(t, err)

	assert.False(t, created.HasCertificate())
	assert.Equal(t, 0, certs.saveCallCount)
	assert.Equal(t, 0, inspector.inspectCallCount)
}

func TestCreate_TrimsTextFields(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	input := validInput()
	input.ProductName = "  Diesel B7  "
	input.SupplierName = " Petrol Trade Ltd "

	created, err := svc.Create(context.Background(), input, 7)
	require.NoError(t, err)
	assert.Equal(t, "Diesel B7", created.ProductName)
	assert.Equal(t, "Petrol Trade Ltd", created.SupplierName)
}

func TestCreate_CancelledContext(t *testing.T) {
	svc, store, _, _, _ := newTestService()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Create(ctx, validInput(), 7)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.createCallCount)
}
