// Package autosend implements the batched document-delivery pipeline:
// planning a date range of fuel entries into fixed-size items,
// dispatching each item as one digest email with per-entry statements,
// and reporting delivery progress.
package autosend

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/email"
	"github.com/mpetkov/fuel-registry/internal/models"
)

// Planning errors, caller-correctable rather than retryable
var (
	ErrNoRecipients  = errors.New("no active recipients for this run")
	ErrNoEntries     = errors.New("no entries in the requested range")
	ErrBatchNotFound = errors.New("batch not found")

	// ErrDispatchInProgress is returned when a dispatch for the same
	// batch id is already running
	ErrDispatchInProgress = errors.New("dispatch already in progress for this batch")
)

// EntryStore is the entry persistence contract used by the pipeline
type EntryStore interface {
	ListByDateRange(from, to time.Time, limit int) ([]*models.FuelEntry, error)
	GetDetailedByIDs(ids []int64) ([]*models.EntryDetails, error)
	ResolveRegistrationNumbers(ids []int64) ([]int64, error)
}

// BatchStore is the batch/item persistence contract
type BatchStore interface {
	CreatePlan(batch *models.AutoSendBatch, items []*models.AutoSendBatchItem) error
	GetBatch(id int64) (*models.AutoSendBatch, error)
	GetItem(batchID int64, sequence int) (*models.AutoSendBatchItem, error)
	ItemsByBatch(batchID int64) ([]*models.AutoSendBatchItem, error)
	MarkItemSent(itemID int64, sentAt time.Time) error
	MarkItemFailed(itemID int64, errMsg string) error
	CountByStatus(batchID int64) (total, sent, failed int, err error)
	ListBatches(limit, offset int) ([]*models.AutoSendBatch, error)
}

// RecipientStore resolves the active recipient set
type RecipientStore interface {
	ListActive() ([]*models.Recipient, error)
	ListActiveByIDs(ids []int64) ([]*models.Recipient, error)
}

// Renderer produces one statement PDF per entry
type Renderer interface {
	Render(ctx context.Context, entry *models.EntryDetails, includeCertificate bool) ([]byte, error)
}

// AuditSink appends audit records
type AuditSink interface {
	Append(action, objectType string, objectID, actorID int64, summary map[string]interface{}) error
}

// Config holds pipeline configuration
type Config struct {
	BatchSize           int
	MaxEntriesPerRun    int
	IncludeCertificates bool
	Timezone            *time.Location
	BrandingImage       []byte
	RenderTimeout       time.Duration
}

// Service implements planning, dispatch and progress reporting
type Service struct {
	cfg        Config
	entries    EntryStore
	batches    BatchStore
	recipients RecipientStore
	renderer   Renderer
	sender     email.Sender
	audit      AuditSink
	logger     *zap.Logger

	// Serializes dispatch per batch id so a re-invocation cannot race
	// a running dispatch into double-sending an item
	inflightMu sync.Mutex
	inflight   map[int64]struct{}

	// Items whose email went out but whose status write failed.
	// A later dispatch retries the write instead of the send.
	deliveredMu sync.Mutex
	delivered   map[int64]time.Time

	now func() time.Time
}

// NewService creates a new autosend service
func NewService(
	cfg Config,
	entries EntryStore,
	batches BatchStore,
	recipients RecipientStore,
	renderer Renderer,
	sender email.Sender,
	audit AuditSink,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:        cfg,
		entries:    entries,
		batches:    batches,
		recipients: recipients,
		renderer:   renderer,
		sender:     sender,
		audit:      audit,
		logger:     logger,
		inflight:   make(map[int64]struct{}),
		delivered:  make(map[int64]time.Time),
		now:        time.Now,
	}
}

// PlanRequest is one planning trigger. Empty dates default to
// yesterday; empty RecipientIDs means all active recipients.
type PlanRequest struct {
	DateFrom     string
	DateTo       string
	RecipientIDs []int64
	CreatedBy    int64
}

// PlanSummary is returned immediately from planning; dispatch runs
// asynchronously afterwards.
type PlanSummary struct {
	BatchID      int64 `json:"batch_id"`
	TotalEntries int   `json:"total_entries"`
	TotalBatches int   `json:"total_batches"`
	Recipients   int   `json:"recipients"`
}

// Plan resolves the civil-day range and recipient set, partitions the
// matching entries into items of the configured size, and persists the
// batch plan in one transaction.
func (s *Service) Plan(ctx context.Context, req PlanRequest) (*PlanSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from, to, err := civilDayRange(s.cfg.Timezone, req.DateFrom, req.DateTo, s.now())
	if err != nil {
		return nil, err
	}

	var recipients []*models.Recipient
	if len(req.RecipientIDs) > 0 {
		recipients, err = s.recipients.ListActiveByIDs(req.RecipientIDs)
	} else {
		recipients, err = s.recipients.ListActive()
	}
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	emails := make([]string, len(recipients))
	for i, r := range recipients {
		emails[i] = r.Email
	}

	entries, err := s.entries.ListByDateRange(from, to, s.cfg.MaxEntriesPerRun)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	chunks := chunkIDs(ids, s.cfg.BatchSize)
	batch := &models.AutoSendBatch{
		DateFrom:        from,
		DateTo:          to,
		TotalEntries:    len(entries),
		BatchSize:       s.cfg.BatchSize,
		TotalBatches:    len(chunks),
		RecipientsCount: len(recipients),
		CreatedBy:       req.CreatedBy,
	}

	items := make([]*models.AutoSendBatchItem, len(chunks))
	for i, chunk := range chunks {
		items[i] = &models.AutoSendBatchItem{
			Sequence:            i + 1,
			EntryIDs:            chunk,
			RecipientEmails:     emails,
			EntriesCount:        len(chunk),
			IncludeCertificates: s.cfg.IncludeCertificates,
		}
	}

	if err := s.batches.CreatePlan(batch, items); err != nil {
		return nil, err
	}

	s.logger.Info("Auto-send batch planned",
		zap.Int64("batch_id", batch.ID),
		zap.Time("date_from", from),
		zap.Time("date_to", to),
		zap.Int("entries", batch.TotalEntries),
		zap.Int("items", batch.TotalBatches),
		zap.Int("recipients", batch.RecipientsCount))

	return &PlanSummary{
		BatchID:      batch.ID,
		TotalEntries: batch.TotalEntries,
		TotalBatches: batch.TotalBatches,
		Recipients:   batch.RecipientsCount,
	}, nil
}

// Progress reports per-batch delivery state for a polling client.
// Pure read; a batch is complete when Sent+Failed == Total.
type Progress struct {
	BatchID int64           `json:"batch_id"`
	Total   int             `json:"total"`
	Sent    int             `json:"sent"`
	Failed  int             `json:"failed"`
	Items   []*ItemProgress `json:"items"`
}

// ItemProgress is the per-item detail needed to render a failure list
type ItemProgress struct {
	Sequence     int        `json:"sequence"`
	EntriesCount int        `json:"entries_count"`
	Recipients   []string   `json:"recipients"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Complete reports whether every item is terminal
func (p *Progress) Complete() bool {
	return p.Sent+p.Failed == p.Total
}

// GetProgress aggregates item statuses for one batch
func (s *Service) GetProgress(ctx context.Context, batchID int64) (*Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := s.batches.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}

	items, err := s.batches.ItemsByBatch(batchID)
	if err != nil {
		return nil, err
	}

	progress := &Progress{
		BatchID: batchID,
		Total:   len(items),
		Items:   make([]*ItemProgress, 0, len(items)),
	}
	for _, item := range items {
		switch item.Status {
		case models.ItemStatusSent:
			progress.Sent++
		case models.ItemStatusFailed:
			progress.Failed++
		}
		progress.Items = append(progress.Items, &ItemProgress{
			Sequence:     item.Sequence,
			EntriesCount: item.EntriesCount,
			Recipients:   item.RecipientEmails,
			Status:       item.Status,
			SentAt:       item.SentAt,
			ErrorMessage: item.ErrorMessage,
		})
	}

	return progress, nil
}

// History returns a page of batches with nested items, each item
// carrying its resolved registration numbers for audit display
func (s *Service) History(ctx context.Context, limit, offset int) ([]*models.AutoSendBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batches, err := s.batches.ListBatches(limit, offset)
	if err != nil {
		return nil, err
	}

	for _, batch := range batches {
		for _, item := range batch.Items {
			numbers, err := s.entries.ResolveRegistrationNumbers(item.EntryIDs)
			if err != nil {
				return nil, err
			}
			item.RegistrationNumbers = numbers
		}
	}
	return batches, nil
}
