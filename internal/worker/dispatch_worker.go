package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/autosend"
)

// Dispatcher processes all pending items of one batch
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID int64) (*autosend.DispatchResult, error)
}

// PendingBatchStore finds batches that still have pending items
type PendingBatchStore interface {
	ListBatchIDsWithPending(limit int) ([]int64, error)
}

// DispatchWorker consumes enqueued batch ids and dispatches them one
// at a time. A periodic scan picks up batches with PENDING items that
// were never enqueued in this process, which resumes unfinished work
// after a restart.
type DispatchWorker struct {
	pollInterval time.Duration
	scanLimit    int

	dispatcher Dispatcher
	store      PendingBatchStore
	logger     *zap.Logger

	queue chan int64

	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	isRunning     bool
	dispatchCount int
	lastError     error
}

// NewDispatchWorker creates a new dispatch worker with a bounded queue
func NewDispatchWorker(
	dispatcher Dispatcher,
	store PendingBatchStore,
	queueSize int,
	pollInterval time.Duration,
	logger *zap.Logger,
) *DispatchWorker {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &DispatchWorker{
		pollInterval: pollInterval,
		scanLimit:    10,
		dispatcher:   dispatcher,
		store:        store,
		logger:       logger,
		queue:        make(chan int64, queueSize),
	}
}

// Name implements Worker
func (w *DispatchWorker) Name() string {
	return "autosend-dispatch"
}

// Start begins the worker loop
func (w *DispatchWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("DispatchWorker started",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("queue_size", cap(w.queue)))

	go w.loop()
	return nil
}

// Stop gracefully terminates the worker
func (w *DispatchWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	dispatched := w.dispatchCount
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("DispatchWorker stopped",
		zap.Int("dispatch_count", dispatched))
}

// Enqueue hands a freshly planned batch to the worker. Non-blocking:
// when the queue is full the batch is left for the pending scan.
func (w *DispatchWorker) Enqueue(batchID int64) {
	select {
	case w.queue <- batchID:
	default:
		w.logger.Warn("Dispatch queue full, batch left for pending scan",
			zap.Int64("batch_id", batchID))
	}
}

func (w *DispatchWorker) loop() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Resume batches interrupted by a previous shutdown
	w.scanPending()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Dispatch loop context cancelled")
			return

		case batchID := <-w.queue:
			w.dispatch(batchID)

		case <-ticker.C:
			w.scanPending()
		}
	}
}

// scanPending dispatches every batch that still has pending items
func (w *DispatchWorker) scanPending() {
	ids, err := w.store.ListBatchIDsWithPending(w.scanLimit)
	if err != nil {
		w.setLastError(err)
		w.logger.Error("Failed to scan for pending batches", zap.Error(err))
		return
	}

	for _, id := range ids {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		w.dispatch(id)
	}
}

func (w *DispatchWorker) dispatch(batchID int64) {
	result, err := w.dispatcher.Dispatch(w.ctx, batchID)
	if err != nil {
		if errors.Is(err, autosend.ErrDispatchInProgress) {
			return
		}
		w.setLastError(err)
		w.logger.Error("Batch dispatch failed",
			zap.Int64("batch_id", batchID),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	w.dispatchCount++
	w.mu.Unlock()

	w.logger.Info("Batch dispatched",
		zap.Int64("batch_id", batchID),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
}

func (w *DispatchWorker) setLastError(err error) {
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}
