// Package writer implements the single persistence consumer that batches snapshot rows
// into Storage.
package writer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-monitor/internal/metrics"
	"github.com/JakeFAU/channel-monitor/internal/monitor"
	"github.com/JakeFAU/channel-monitor/internal/retry"
)

const (
	defaultBufferLimit = 100
	defaultIdleTimeout = 240 * time.Second
)

// Source is the write queue the Writer drains.
type Source interface {
	DequeueTimeout(ctx context.Context, timeout time.Duration) (monitor.PersistenceRecord, error)
}

// Config controls buffering and retries.
//   - BufferLimit: flush once this many records are buffered (default 100).
//   - IdleTimeout: stop after the queue stays empty this long (default 240s).
//   - Retry: attempts per table group (default three immediate attempts).
//   - DeadLetter: optional destination for groups that exhaust their retries.
type Config struct {
	BufferLimit int
	IdleTimeout time.Duration
	Retry       retry.Policy
	DeadLetter  *DeadLetter
}

// Stats tallies rows handled across every Run call.
type Stats struct {
	Flushes      int
	Written      int
	Dropped      int
	DeadLettered int
}

// Writer buffers PersistenceRecords and flushes them grouped by table.
type Writer struct {
	source  Source
	storage monitor.Storage
	cfg     Config
	logger  *zap.Logger
	buffer  []monitor.PersistenceRecord
	stats   Stats
}

// New constructs a Writer.
func New(source Source, storage monitor.Storage, cfg Config, logger *zap.Logger) *Writer {
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = defaultBufferLimit
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Immediate(3)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		source:  source,
		storage: storage,
		cfg:     cfg,
		logger:  logger.Named("writer"),
		buffer:  make([]monitor.PersistenceRecord, 0, cfg.BufferLimit),
	}
}

// Run drains the source until it idles out, is closed, or ctx is done. Buffered records
// are always flushed before Run returns.
func (w *Writer) Run(ctx context.Context) Stats {
	for {
		rec, err := w.source.DequeueTimeout(ctx, w.cfg.IdleTimeout)
		switch {
		case err == nil:
			w.buffer = append(w.buffer, rec)
			if len(w.buffer) >= w.cfg.BufferLimit {
				w.flush(ctx)
			}
		case errors.Is(err, monitor.ErrQueueEmpty):
			w.logger.Warn("write queue idle; flushing and stopping",
				zap.Duration("idle_timeout", w.cfg.IdleTimeout),
				zap.Int("buffered", len(w.buffer)))
			w.flush(ctx)
			return w.stats
		case errors.Is(err, monitor.ErrQueueClosed):
			w.flush(ctx)
			return w.stats
		default:
			w.logger.Warn("writer interrupted; flushing buffered records", zap.Error(err))
			w.flush(context.WithoutCancel(ctx))
			return w.stats
		}
	}
}

// Stats returns the running totals.
func (w *Writer) Stats() Stats {
	return w.stats
}

// flush writes the buffer as one batched insert per table and clears it unconditionally.
func (w *Writer) flush(ctx context.Context) {
	if len(w.buffer) == 0 {
		return
	}
	w.stats.Flushes++
	metrics.ObserveFlush()

	slices.SortStableFunc(w.buffer, func(a, b monitor.PersistenceRecord) int {
		return strings.Compare(a.Table, b.Table)
	})
	for start := 0; start < len(w.buffer); {
		end := start + 1
		for end < len(w.buffer) && w.buffer[end].Table == w.buffer[start].Table {
			end++
		}
		w.writeGroup(ctx, w.buffer[start].Table, w.buffer[start:end])
		start = end
	}
	clear(w.buffer)
	w.buffer = w.buffer[:0]
}

func (w *Writer) writeGroup(ctx context.Context, table string, group []monitor.PersistenceRecord) {
	rows := make([]monitor.Row, len(group))
	for i, rec := range group {
		rows[i] = rec.Columns
	}

	attempt := 0
	err := retry.Do(ctx, w.cfg.Retry, func(ctx context.Context) error {
		attempt++
		_, err := w.storage.Insert(ctx, table, rows...)
		if err != nil {
			w.logger.Warn("batch insert failed",
				zap.String("table", table),
				zap.Int("rows", len(rows)),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
	if err == nil {
		w.stats.Written += len(rows)
		metrics.ObserveRowsWritten(table, len(rows))
		w.logger.Debug("batch written", zap.String("table", table), zap.Int("rows", len(rows)))
		return
	}

	w.logger.Error("batch insert exhausted retries; dropping records",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Error(err))
	w.stats.Dropped += len(rows)
	metrics.ObserveRowsDropped(table, len(rows))
	metrics.ObserveRetryExhausted("write")

	if w.cfg.DeadLetter == nil {
		return
	}
	if err := w.cfg.DeadLetter.Write(group); err != nil {
		w.logger.Error("dead-letter write failed", zap.String("path", w.cfg.DeadLetter.Path()), zap.Error(err))
		return
	}
	w.stats.DeadLettered += len(rows)
}
