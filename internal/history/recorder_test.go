package history

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opcsim/simstatus/internal/model"
)

// fakeSender records what each SendBatch call was given.
type fakeSender struct {
	calls   int
	rows    int
	ctxErrs []error // ctx.Err() observed per call
}

func (f *fakeSender) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.calls++
	f.rows += b.Len()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return &fakeBatchResults{}
}

type fakeBatchResults struct{}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, nil }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (f *fakeBatchResults) Close() error             { return nil }

func TestRecorder_Transform(t *testing.T) {
	r := NewRecorder(DefaultRecorderConfig(), nil, nil)

	changedAt := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	receivedAt := time.Date(2026, 8, 31, 10, 0, 1, 0, time.UTC)
	tr := model.StatusTransition{
		ServerID:   7,
		OldStatus:  model.StatusStopped,
		NewStatus:  model.StatusRunning,
		ChangedAt:  &changedAt,
		ReceivedAt: receivedAt,
	}

	row := r.transform(tr)

	if row.ServerID != 7 {
		t.Errorf("ServerID = %d, want 7", row.ServerID)
	}
	if row.OldStatus != "stopped" {
		t.Errorf("OldStatus = %s, want stopped", row.OldStatus)
	}
	if row.NewStatus != "running" {
		t.Errorf("NewStatus = %s, want running", row.NewStatus)
	}
	if row.ChangedAt == nil || !row.ChangedAt.Equal(changedAt) {
		t.Errorf("ChangedAt = %v, want %v", row.ChangedAt, changedAt)
	}
	if !row.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", row.ReceivedAt, receivedAt)
	}
}

func TestRecorder_Transform_NilChangedAt(t *testing.T) {
	r := NewRecorder(DefaultRecorderConfig(), nil, nil)

	row := r.transform(model.StatusTransition{
		ServerID:   1,
		OldStatus:  model.StatusRunning,
		NewStatus:  model.StatusError,
		ReceivedAt: time.Now(),
	})

	if row.ChangedAt != nil {
		t.Errorf("ChangedAt = %v, want nil", row.ChangedAt)
	}
}

func TestRecorder_RecordAddsToBatch(t *testing.T) {
	cfg := RecorderConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
	r := NewRecorder(cfg, nil, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r.Record([]model.StatusTransition{
		{ServerID: 1, OldStatus: model.StatusStopped, NewStatus: model.StatusRunning, ReceivedAt: time.Now()},
	})

	// Wait for the consumer to pick it up.
	deadline := time.Now().Add(time.Second)
	for {
		r.batchMu.Lock()
		n := len(r.batch)
		r.batchMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch length = %d, want 1", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func TestRecorder_RecordDropsWhenBufferFull(t *testing.T) {
	cfg := RecorderConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    2,
	}
	// Not started: nothing drains the input channel.
	r := NewRecorder(cfg, nil, nil)

	transitions := make([]model.StatusTransition, 5)
	for i := range transitions {
		transitions[i] = model.StatusTransition{
			ServerID:   int64(i),
			OldStatus:  model.StatusStopped,
			NewStatus:  model.StatusRunning,
			ReceivedAt: time.Now(),
		}
	}
	r.Record(transitions)

	if got := r.Stats().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	cfg := RecorderConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
		BufferSize:    10,
	}
	r := NewRecorder(cfg, nil, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestRecorder_StopFlushesTailBatchOnLiveContext(t *testing.T) {
	cfg := RecorderConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
	r := NewRecorder(cfg, nil, nil)
	sender := &fakeSender{}
	r.db = sender

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r.Record([]model.StatusTransition{
		{ServerID: 1, OldStatus: model.StatusStopped, NewStatus: model.StatusRunning, ReceivedAt: time.Now()},
	})

	// Wait for the consumer to buffer it before stopping.
	deadline := time.Now().Add(time.Second)
	for {
		r.batchMu.Lock()
		n := len(r.batch)
		r.batchMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch length = %d, want 1", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if sender.calls != 1 {
		t.Fatalf("SendBatch calls = %d, want 1 (final flush)", sender.calls)
	}
	if sender.rows != 1 {
		t.Errorf("rows sent = %d, want 1", sender.rows)
	}
	// The recorder's run context is cancelled during Stop; the tail batch
	// must not be written on it.
	if r.ctx.Err() == nil {
		t.Error("run context still live after Stop")
	}
	if sender.ctxErrs[0] != nil {
		t.Errorf("final flush context error = %v, want live context", sender.ctxErrs[0])
	}

	stats := r.Stats()
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
	if stats.Inserts != 1 {
		t.Errorf("Inserts = %d, want 1", stats.Inserts)
	}
}

func TestRecorder_Stats(t *testing.T) {
	r := NewRecorder(DefaultRecorderConfig(), nil, nil)

	stats := r.Stats()
	if stats.Inserts != 0 || stats.Errors != 0 || stats.Flushes != 0 || stats.Dropped != 0 {
		t.Errorf("initial stats = %+v, want all zero", stats)
	}
}

func TestDefaultRecorderConfig(t *testing.T) {
	cfg := DefaultRecorderConfig()

	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
	}
	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
	if cfg.BufferSize != 1000 {
		t.Errorf("BufferSize = %d, want 1000", cfg.BufferSize)
	}
}
