package autosend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/email"
	"github.com/mpetkov/fuel-registry/internal/models"
)

// MockEntryStore for testing
type MockEntryStore struct {
	mu                  sync.RWMutex
	entries             []*models.FuelEntry
	listCallCount       int
	lastListLimit       int
	expectedListError   error
	expectedDetailError error
}

func NewMockEntryStore() *MockEntryStore {
	return &MockEntryStore{}
}

func (m *MockEntryStore) AddEntries(count int, entryDate time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < count; i++ {
		id := int64(len(m.entries) + 1)
		m.entries = append(m.entries, &models.FuelEntry{
			ID:                 id,
			RegistrationNumber: 1000 + id,
			EntryDate:          entryDate,
			ProductName:        "Diesel B7",
			Quantity:           25000,
		})
	}
}

func (m *MockEntryStore) ListByDateRange(from, to time.Time, limit int) ([]*models.FuelEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCallCount++
	m.lastListLimit = limit
	if m.expectedListError != nil {
		return nil, m.expectedListError
	}

	var matched []*models.FuelEntry
	for _, e := range m.entries {
		if !e.EntryDate.Before(from) && e.EntryDate.Before(to) {
			matched = append(matched, e)
		}
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (m *MockEntryStore) GetDetailedByIDs(ids []int64) ([]*models.EntryDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expectedDetailError != nil {
		return nil, m.expectedDetailError
	}

	byID := make(map[int64]*models.FuelEntry, len(m.entries))
	for _, e := range m.entries {
		byID[e.ID] = e
	}

	var details []*models.EntryDetails
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			details = append(details, &models.EntryDetails{FuelEntry: *e})
		}
	}
	return details, nil
}

func (m *MockEntryStore) ResolveRegistrationNumbers(ids []int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	regs := make([]int64, 0, len(ids))
	for _, e := range m.entries {
		for _, id := range ids {
			if e.ID == id {
				regs = append(regs, e.RegistrationNumber)
			}
		}
	}
	return regs, nil
}

// MockBatchStore for testing
type MockBatchStore struct {
	mu                  sync.RWMutex
	batches             map[int64]*models.AutoSendBatch
	items               map[int64][]*models.AutoSendBatchItem
	nextBatchID         int64
	nextItemID          int64
	markSentCallCount   int
	markFailedCallCount int
	markSentFailures    int
	expectedPlanError   error
}

func NewMockBatchStore() *MockBatchStore {
	return &MockBatchStore{
		batches: make(map[int64]*models.AutoSendBatch),
		items:   make(map[int64][]*models.AutoSendBatchItem),
	}
}

func (m *MockBatchStore) CreatePlan(batch *models.AutoSendBatch, items []*models.AutoSendBatchItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expectedPlanError != nil {
		return m.expectedPlanError
	}

	m.nextBatchID++
	batch.ID = m.nextBatchID
	m.batches[batch.ID] = batch
	for _, item := range items {
		m.nextItemID++
		item.ID = m.nextItemID
		item.BatchID = batch.ID
		item.Status = models.ItemStatusPending
		m.items[batch.ID] = append(m.items[batch.ID], item)
	}
	return nil
}

func (m *MockBatchStore) GetBatch(id int64) (*models.AutoSendBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches[id], nil
}

func (m *MockBatchStore) GetItem(batchID int64, sequence int) (*models.AutoSendBatchItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items[batchID] {
		if item.Sequence == sequence {
			return item, nil
		}
	}
	return nil, nil
}

func (m *MockBatchStore) ItemsByBatch(batchID int64) ([]*models.AutoSendBatchItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.AutoSendBatchItem{}, m.items[batchID]...), nil
}

// FailMarkSentTimes makes the next n MarkItemSent calls fail
func (m *MockBatchStore) FailMarkSentTimes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markSentFailures = n
}

func (m *MockBatchStore) MarkItemSent(itemID int64, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markSentCallCount++
	if m.markSentFailures > 0 {
		m.markSentFailures--
		return errors.New("database is locked")
	}
	for _, items := range m.items {
		for _, item := range items {
			if item.ID == itemID {
				item.Status = models.ItemStatusSent
				item.SentAt = &sentAt
				item.ErrorMessage = ""
			}
		}
	}
	return nil
}

func (m *MockBatchStore) MarkItemFailed(itemID int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markFailedCallCount++
	for _, items := range m.items {
		for _, item := range items {
			if item.ID == itemID {
				item.Status = models.ItemStatusFailed
				item.ErrorMessage = errMsg
			}
		}
	}
	return nil
}

func (m *MockBatchStore) CountByStatus(batchID int64) (total, sent, failed int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items[batchID] {
		total++
		switch item.Status {
		case models.ItemStatusSent:
			sent++
		case models.ItemStatusFailed:
			failed++
		}
	}
	return total, sent, failed, nil
}

func (m *MockBatchStore) ListBatches(limit, offset int) ([]*models.AutoSendBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AutoSendBatch
	for id := int64(1); id <= m.nextBatchID; id++ {
		if b, ok := m.batches[id]; ok {
			copied := *b
			copied.Items = append([]*models.AutoSendBatchItem{}, m.items[id]...)
			out = append(out, &copied)
		}
	}
	return out, nil
}

// MockRecipientStore for testing
type MockRecipientStore struct {
	mu         sync.RWMutex
	recipients []*models.Recipient
}

func NewMockRecipientStore(emails ...string) *MockRecipientStore {
	m := &MockRecipientStore{}
	for i, addr := range emails {
		m.recipients = append(m.recipients, &models.Recipient{
			ID:       int64(i + 1),
			Email:    addr,
			IsActive: true,
		})
	}
	return m
}

func (m *MockRecipientStore) ListActive() ([]*models.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recipients, nil
}

func (m *MockRecipientStore) ListActiveByIDs(ids []int64) ([]*models.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.Recipient
	for _, r := range m.recipients {
		for _, id := range ids {
			if r.ID == id {
				matched = append(matched, r)
			}
		}
	}
	return matched, nil
}

// MockRenderer for testing
type MockRenderer struct {
	mu              sync.RWMutex
	renderCallCount int
	failRegNumbers  map[int64]bool
}

func NewMockRenderer() *MockRenderer {
	return &MockRenderer{failRegNumbers: make(map[int64]bool)}
}

func (m *MockRenderer) FailFor(regNumber int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRegNumbers[regNumber] = true
}

func (m *MockRenderer) Render(ctx context.Context, entry *models.EntryDetails, includeCertificate bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderCallCount++
	if m.failRegNumbers[entry.RegistrationNumber] {
		return nil, fmt.Errorf("render failed for %d", entry.RegistrationNumber)
	}
	return []byte(fmt.Sprintf("%%PDF %d", entry.RegistrationNumber)), nil
}

// MockSender for testing
type MockSender struct {
	mu            sync.RWMutex
	sendCallCount int
	sentMessages  []email.Message
	failSubjects  map[string]bool
	failAll       bool
}

func NewMockSender() *MockSender {
	return &MockSender{failSubjects: make(map[string]bool)}
}

func (m *MockSender) FailForSubjectContaining(fragment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSubjects[fragment] = true
}

func (m *MockSender) Send(ctx context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCallCount++
	if m.failAll {
		return fmt.Errorf("smtp unavailable")
	}
	for fragment := range m.failSubjects {
		if containsSubstring(msg.Subject, fragment) {
			return fmt.Errorf("smtp rejected message")
		}
	}
	m.sentMessages = append(m.sentMessages, msg)
	return nil
}

func (m *MockSender) SentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sentMessages)
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// MockAuditSink for testing
type MockAuditSink struct {
	mu              sync.RWMutex
	appendCallCount int
	lastAction      string
	lastSummary     map[string]interface{}
}

func (m *MockAuditSink) Append(action, objectType string, objectID, actorID int64, summary map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCallCount++
	m.lastAction = action
	m.lastSummary = summary
	return nil
}

type testFixture struct {
	entries    *MockEntryStore
	batches    *MockBatchStore
	recipients *MockRecipientStore
	renderer   *MockRenderer
	sender     *MockSender
	audit      *MockAuditSink
	service    *Service
}

func newTestFixture(t *testing.T, batchSize int, emails ...string) *testFixture {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Sofia")
	require.NoError(t, err)

	f := &testFixture{
		entries:    NewMockEntryStore(),
		batches:    NewMockBatchStore(),
		recipients: NewMockRecipientStore(emails...),
		renderer:   NewMockRenderer(),
		sender:     NewMockSender(),
		audit:      &MockAuditSink{},
	}
	f.service = NewService(Config{
		BatchSize:        batchSize,
		MaxEntriesPerRun: 500,
		Timezone:         loc,
	}, f.entries, f.batches, f.recipients, f.renderer, f.sender, f.audit, zap.NewNop())
	return f
}

func TestPlan_PartitionsEntriesIntoFixedSizeItems(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com", "archive@example.com")
	entryDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	f.entries.AddEntries(12, entryDate)

	summary, err := f.service.Plan(context.Background(), PlanRequest{
		DateFrom:  "2026-03-10",
		DateTo:    "2026-03-10",
		CreatedBy: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, summary.TotalEntries)
	assert.Equal(t, 3, summary.TotalBatches)
	assert.Equal(t, 2, summary.Recipients)

	items, err := f.batches.ItemsByBatch(summary.BatchID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 5, items[0].EntriesCount)
	assert.Equal(t, 5, items[1].EntriesCount)
	assert.Equal(t, 2, items[2].EntriesCount)
	for i, item := range items {
		assert.Equal(t, i+1, item.Sequence)
		assert.Equal(t, models.ItemStatusPending, item.Status)
		assert.Equal(t, []string{"inspector@example.com", "archive@example.com"}, item.RecipientEmails)
	}
}

func TestPlan_NoActiveRecipients(t *testing.T) {
	f := newTestFixture(t, 5)
	f.entries.AddEntries(3, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	_, err := f.service.Plan(context.Background(), PlanRequest{
		DateFrom: "2026-03-10",
		DateTo:   "2026-03-10",
	})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Empty(t, f.batches.batches)
}

func TestPlan_EmptyDateRange(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")

	_, err := f.service.Plan(context.Background(), PlanRequest{
		DateFrom: "2026-03-10",
		DateTo:   "2026-03-10",
	})
	assert.ErrorIs(t, err, ErrNoEntries)
	assert.Empty(t, f.batches.batches)
}

func TestPlan_RecipientSubsetByID(t *testing.T) {
	f := newTestFixture(t, 5, "a@example.com", "b@example.com", "c@example.com")
	f.entries.AddEntries(2, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	summary, err := f.service.Plan(context.Background(), PlanRequest{
		DateFrom:     "2026-03-10",
		DateTo:       "2026-03-10",
		RecipientIDs: []int64{2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recipients)

	items, _ := f.batches.ItemsByBatch(summary.BatchID)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"b@example.com"}, items[0].RecipientEmails)
}

func planBatch(t *testing.T, f *testFixture, entryCount int) int64 {
	t.Helper()
	f.entries.AddEntries(entryCount, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	summary, err := f.service.Plan(context.Background(), PlanRequest{
		DateFrom: "2026-03-10",
		DateTo:   "2026-03-10",
	})
	require.NoError(t, err)
	return summary.BatchID
}

func TestDispatch_SendsOneEmailPerItem(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 12)

	result, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, f.sender.SentCount())

	// 12 statements rendered across the 3 digests
	assert.Equal(t, 12, f.renderer.renderCallCount)

	total, sent, failed, err := f.batches.CountByStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, sent)
	assert.Equal(t, 0, failed)

	assert.Equal(t, models.AuditActionDispatchCompleted, f.audit.lastAction)
}

func TestDispatch_ItemFailureDoesNotAbortSiblings(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 12)

	// Fail only the second item's digest
	f.sender.FailForSubjectContaining("part 2/3")

	result, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, f.batches.markFailedCallCount)

	items, _ := f.batches.ItemsByBatch(batchID)
	assert.Equal(t, models.ItemStatusSent, items[0].Status)
	assert.Equal(t, models.ItemStatusFailed, items[1].Status)
	assert.Equal(t, models.ItemStatusSent, items[2].Status)
	assert.NotEmpty(t, items[1].ErrorMessage)
}

func TestDispatch_RetriesOnlyFailedItems(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 12)

	f.sender.FailForSubjectContaining("part 2/3")
	_, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, 2, f.sender.SentCount())

	// Clear the fault and re-dispatch: SENT items must be skipped,
	// only item 2 goes out
	f.sender.mu.Lock()
	f.sender.failSubjects = map[string]bool{}
	f.sender.mu.Unlock()

	result, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, f.sender.SentCount())

	items, _ := f.batches.ItemsByBatch(batchID)
	for _, item := range items {
		assert.Equal(t, models.ItemStatusSent, item.Status)
		assert.Empty(t, item.ErrorMessage)
	}
}

func TestDispatch_FullySentBatchIsNoOp(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 7)

	_, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)
	require.Equal(t, 2, f.sender.SentCount())

	result, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 2, f.sender.SentCount(), "re-dispatch must not re-send delivered items")
}

func TestDispatch_StatusWriteFailureDoesNotResend(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 3)

	// The email goes out but recording the delivery fails, leaving
	// the row PENDING for the next pending scan
	f.batches.FailMarkSentTimes(1)

	result, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	require.Equal(t, 1, f.sender.SentCount())

	total, sent, _, err := f.batches.CountByStatus(batchID)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, 0, sent, "status write failed, row stays PENDING")

	// Re-dispatch retries only the status write, never the email
	result, err = f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, f.sender.SentCount())

	_, sent, _, err = f.batches.CountByStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	// Once recorded, further dispatches skip without touching the store
	result, err = f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, f.sender.SentCount())
}

func TestDispatch_RenderFailureMarksItemFailed(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 3)
	f.renderer.FailFor(1002)

	result, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, f.sender.SentCount())
}

func TestDispatch_UnknownBatch(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")

	_, err := f.service.Dispatch(context.Background(), 42)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestDispatch_ConcurrentSameBatchRejected(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 5)

	f.service.inflightMu.Lock()
	f.service.inflight[batchID] = struct{}{}
	f.service.inflightMu.Unlock()

	_, err := f.service.Dispatch(context.Background(), batchID)
	assert.ErrorIs(t, err, ErrDispatchInProgress)

	f.service.inflightMu.Lock()
	delete(f.service.inflight, batchID)
	f.service.inflightMu.Unlock()

	result, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestGetProgress_CountsTerminalStates(t *testing.T) {
	f := newTestFixture(t, 2, "inspector@example.com")
	batchID := planBatch(t, f, 11) // 6 items of size 2,2,2,2,2,1

	f.sender.FailForSubjectContaining("part 3/6")
	f.sender.FailForSubjectContaining("part 5/6")

	_, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)

	progress, err := f.service.GetProgress(context.Background(), batchID)
	require.NoError(t, err)

	assert.Equal(t, 6, progress.Total)
	assert.Equal(t, 4, progress.Sent)
	assert.Equal(t, 2, progress.Failed)
	assert.True(t, progress.Complete())
	require.Len(t, progress.Items, 6)
	assert.Equal(t, models.ItemStatusFailed, progress.Items[2].Status)
	assert.NotEmpty(t, progress.Items[2].ErrorMessage)
	assert.NotNil(t, progress.Items[0].SentAt)
}

func TestGetProgress_PendingBatchIsIncomplete(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 7)

	progress, err := f.service.GetProgress(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 0, progress.Sent)
	assert.False(t, progress.Complete())
}

func TestGetProgress_UnknownBatch(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")

	_, err := f.service.GetProgress(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestHistory_ResolvesRegistrationNumbers(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com")
	batchID := planBatch(t, f, 3)

	batches, err := f.service.History(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, batchID, batches[0].ID)
	require.Len(t, batches[0].Items, 1)
	assert.Equal(t, []int64{1001, 1002, 1003}, batches[0].Items[0].RegistrationNumbers)
}

func TestDispatch_DigestCarriesAllStatements(t *testing.T) {
	f := newTestFixture(t, 5, "inspector@example.com", "archive@example.com")
	batchID := planBatch(t, f, 4)

	_, err := f.service.Dispatch(context.Background(), batchID)
	require.NoError(t, err)

	f.sender.mu.RLock()
	defer f.sender.mu.RUnlock()
	require.Len(t, f.sender.sentMessages, 1)
	msg := f.sender.sentMessages[0]
	assert.Equal(t, []string{"inspector@example.com", "archive@example.com"}, msg.To)
	require.Len(t, msg.Attachments, 4)
	assert.Equal(t, "statement-1001.pdf", msg.Attachments[0].Name)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
}
