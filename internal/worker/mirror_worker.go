package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
)

// MirrorWorker copies ledger events into a sheets.Mirror. Each event is
// written at most once: ids already present in the target sheet are skipped,
// so broker redeliveries and worker restarts do not duplicate rows.
type MirrorWorker struct {
	mirror     sheets.Mirror
	logger     *log.Logger
	retryDelay time.Duration

	mu   sync.Mutex
	seen map[int]map[string]struct{}

	written    atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
}

// Stats is a snapshot of the worker counters.
type Stats struct {
	Written    int64
	Duplicates int64
	Failures   int64
}

func NewMirrorWorker(mirror sheets.Mirror, logger *log.Logger, retryDelay time.Duration) *MirrorWorker {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &MirrorWorker{
		mirror:     mirror,
		logger:     logger.WithComponent(log.ComponentWorker),
		retryDelay: retryDelay,
		seen:       make(map[int]map[string]struct{}),
	}
}

// HandleLedgerEvent is an amqp.Handler. A returned error makes the broker
// redeliver the message; the worker waits retryDelay first so a failing
// mirror is not hammered.
func (w *MirrorWorker) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	row := sheets.RowFromEvent(ev)
	year := row.Year()

	w.mu.Lock()
	defer w.mu.Unlock()

	seen, err := w.knownLocked(ctx, year)
	if err != nil {
		return w.fail(ctx, ev, fmt.Errorf("load event ids for %d: %w", year, err))
	}
	if _, dup := seen[ev.ID]; dup {
		w.duplicates.Add(1)
		w.logger.InfoContext(ctx, "Skipping already mirrored event", log.FieldEventID, ev.ID, "type", row.Type)
		return nil
	}

	if err := w.mirror.AppendRows(ctx, []sheets.Row{row}); err != nil {
		return w.fail(ctx, ev, fmt.Errorf("append row: %w", err))
	}
	seen[ev.ID] = struct{}{}
	w.written.Add(1)

	w.logger.InfoContext(ctx, "Mirrored ledger event",
		log.FieldEventID, ev.ID,
		"type", row.Type,
		log.FieldUserID, ev.UserID,
		"year", year)
	return nil
}

func (w *MirrorWorker) knownLocked(ctx context.Context, year int) (map[string]struct{}, error) {
	if ids, ok := w.seen[year]; ok {
		return ids, nil
	}
	ids, err := w.mirror.EventIDs(ctx, year)
	if err != nil {
		return nil, err
	}
	w.seen[year] = ids
	w.logger.InfoContext(ctx, "Loaded mirrored event ids", "year", year, "count", len(ids))
	return ids, nil
}

func (w *MirrorWorker) fail(ctx context.Context, ev *amqp.LedgerEvent, err error) error {
	w.failures.Add(1)
	w.logger.ErrorContext(ctx, "Failed to mirror ledger event",
		log.FieldEventID, ev.ID,
		"type", ev.RoutingKey(),
		log.FieldError, err,
		"retry_in", w.retryDelay)

	if w.retryDelay > 0 {
		t := time.NewTimer(w.retryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	return err
}

func (w *MirrorWorker) Stats() Stats {
	return Stats{
		Written:    w.written.Load(),
		Duplicates: w.duplicates.Load(),
		Failures:   w.failures.Load(),
	}
}
