// Package history records observed status transitions to PostgreSQL.
//
// The recorder is optional; when disabled the rest of the process runs
// without a database. Transitions are buffered in memory and written in
// batches, so a slow database never blocks the connection supervisor.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opcsim/simstatus/internal/model"
)

// RecorderConfig holds batching settings.
type RecorderConfig struct {
	// BatchSize triggers a flush once this many rows are buffered.
	BatchSize int
	// FlushInterval triggers a flush even when the batch is short.
	FlushInterval time.Duration
	// BufferSize bounds the number of transitions queued for writing.
	// Transitions beyond it are dropped and counted.
	BufferSize int
}

// DefaultRecorderConfig returns sensible defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// RecorderMetrics tracks recorder activity.
type RecorderMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// batchSender is the slice of pgxpool.Pool the recorder writes through.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Recorder batches status transitions into the status_transitions table.
type Recorder struct {
	cfg    RecorderConfig
	logger *slog.Logger

	input chan model.StatusTransition
	db    batchSender

	batch       []transitionRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics RecorderMetrics
}

// transitionRow is the database shape of one transition.
type transitionRow struct {
	ServerID   int64
	OldStatus  string
	NewStatus  string
	ChangedAt  *time.Time
	ReceivedAt time.Time
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(cfg RecorderConfig, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		cfg:    cfg,
		logger: logger,
		input:  make(chan model.StatusTransition, cfg.BufferSize),
		batch:  make([]transitionRow, 0, cfg.BatchSize),
	}
	if db != nil {
		r.db = db
	}
	return r
}

// Record queues transitions for writing. It never blocks; transitions
// that do not fit the buffer are dropped and counted.
func (r *Recorder) Record(transitions []model.StatusTransition) {
	for _, tr := range transitions {
		select {
		case r.input <- tr:
		default:
			r.batchMu.Lock()
			r.metrics.Dropped++
			r.batchMu.Unlock()
			r.logger.Warn("history buffer full, dropping transition",
				"server_id", tr.ServerID,
				"new_status", tr.NewStatus,
			)
		}
	}
}

// Start begins consuming transitions and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("history recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the recorder.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping history recorder")

	if r.cancel != nil {
		r.cancel()
	}

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("history recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("history recorder stop timed out")
	}

	// Final flush. The recorder's own context is cancelled by now, so the
	// tail batch is written on the caller's shutdown context.
	r.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() RecorderMetrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// consumeLoop reads queued transitions and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case tr := <-r.input:
			r.handleTransition(tr)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

// handleTransition transforms and adds a transition to the batch.
func (r *Recorder) handleTransition(tr model.StatusTransition) {
	row := r.transform(tr)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// transform converts a StatusTransition to a transitionRow.
func (r *Recorder) transform(tr model.StatusTransition) transitionRow {
	return transitionRow{
		ServerID:   tr.ServerID,
		OldStatus:  string(tr.OldStatus),
		NewStatus:  string(tr.NewStatus),
		ChangedAt:  tr.ChangedAt,
		ReceivedAt: tr.ReceivedAt,
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]transitionRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed transitions",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []transitionRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO status_transitions (server_id, old_status, new_status, changed_at, received_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (server_id, received_at) DO NOTHING
		`, row.ServerID, row.OldStatus, row.NewStatus, row.ChangedAt, row.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
