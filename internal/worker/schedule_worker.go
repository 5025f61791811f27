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

// Planner plans an auto-send batch
type Planner interface {
	Plan(ctx context.Context, req autosend.PlanRequest) (*autosend.PlanSummary, error)
}

// ToggleStore reads the persisted auto-send on/off switch
type ToggleStore interface {
	GetBool(key string, fallback bool) (bool, error)
}

// Enqueuer hands a planned batch to the dispatch worker
type Enqueuer interface {
	Enqueue(batchID int64)
}

// ScheduleWorker fires the daily auto-send run: once per civil day,
// after the configured hour, it plans "yesterday" with all active
// recipients and enqueues the batch for dispatch. The run is gated by
// the persisted auto_send_enabled setting.
type ScheduleWorker struct {
	hour      int
	loc       *time.Location
	toggleKey string

	planner  Planner
	settings ToggleStore
	enqueuer Enqueuer
	logger   *zap.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	isRunning  bool
	lastRunDay string

	now func() time.Time
}

// NewScheduleWorker creates a new daily schedule worker
func NewScheduleWorker(
	hour int,
	loc *time.Location,
	toggleKey string,
	planner Planner,
	settings ToggleStore,
	enqueuer Enqueuer,
	logger *zap.Logger,
) *ScheduleWorker {
	return &ScheduleWorker{
		hour:      hour,
		loc:       loc,
		toggleKey: toggleKey,
		planner:   planner,
		settings:  settings,
		enqueuer:  enqueuer,
		logger:    logger,
		now:       time.Now,
	}
}

// Name implements Worker
func (w *ScheduleWorker) Name() string {
	return "autosend-schedule"
}

// Start begins the schedule loop
func (w *ScheduleWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("ScheduleWorker started",
		zap.Int("hour", w.hour),
		zap.String("timezone", w.loc.String()))

	go w.loop()
	return nil
}

// Stop gracefully terminates the worker
func (w *ScheduleWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("ScheduleWorker stopped")
}

func (w *ScheduleWorker) loop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick runs the daily plan at most once per civil day
func (w *ScheduleWorker) tick() {
	now := w.now().In(w.loc)
	if now.Hour() < w.hour {
		return
	}

	day := now.Format("2006-01-02")
	w.mu.Lock()
	alreadyRan := w.lastRunDay == day
	w.mu.Unlock()
	if alreadyRan {
		return
	}

	enabled, err := w.settings.GetBool(w.toggleKey, false)
	if err != nil {
		w.logger.Error("Failed to read auto-send toggle", zap.Error(err))
		return
	}
	if !enabled {
		return
	}

	summary, err := w.planner.Plan(w.ctx, autosend.PlanRequest{})
	if err != nil {
		// An empty day or recipient list is a normal outcome for the
		// scheduled run, not a failure
		if errors.Is(err, autosend.ErrNoEntries) || errors.Is(err, autosend.ErrNoRecipients) {
			w.logger.Info("Scheduled auto-send skipped", zap.String("reason", err.Error()))
			w.markRan(day)
			return
		}
		w.logger.Error("Scheduled auto-send planning failed", zap.Error(err))
		return
	}

	w.enqueuer.Enqueue(summary.BatchID)
	w.markRan(day)

	w.logger.Info("Scheduled auto-send planned",
		zap.Int64("batch_id", summary.BatchID),
		zap.Int("entries", summary.TotalEntries),
		zap.Int("items", summary.TotalBatches))
}

func (w *ScheduleWorker) markRan(day string) {
	w.mu.Lock()
	w.lastRunDay = day
	w.mu.Unlock()
}
