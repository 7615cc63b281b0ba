package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
	"fintrack/internal/sheets/memory"
)

func testLogger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Output = &bytes.Buffer{}
	return log.New(cfg)
}

func txEvent(op string, date time.Time) *amqp.LedgerEvent {
	return amqp.NewTransactionEvent(op, core.Transaction{
		ID: 1, UserID: 7, Kind: core.KindExpense,
		Amount: core.Money{Cents: 1999}, Description: "books", Date: date,
		CategoryName: core.UncategorizedName,
	})
}

func TestMirrorWorker_WritesOnce(t *testing.T) {
	mirror := memory.New()
	w := NewMirrorWorker(mirror, testLogger(), 0)
	ctx := context.Background()

	ev := txEvent(amqp.OpCreated, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		if err := w.HandleLedgerEvent(ctx, ev); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	rows := mirror.Rows(2024)
	if len(rows) != 1 || rows[0].EventID != ev.ID || rows[0].Amount.Cents != 1999 {
		t.Fatalf("rows = %+v", rows)
	}
	if st := w.Stats(); st.Written != 1 || st.Duplicates != 2 || st.Failures != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMirrorWorker_SkipsIDsAlreadyInSheet(t *testing.T) {
	mirror := memory.New()
	ev := txEvent(amqp.OpDeleted, time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC))
	if err := mirror.AppendRows(context.Background(), []sheets.Row{sheets.RowFromEvent(ev)}); err != nil {
		t.Fatal(err)
	}

	// A fresh worker, as after a restart.
	w := NewMirrorWorker(mirror, testLogger(), 0)
	if err := w.HandleLedgerEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if mirror.Len() != 1 {
		t.Errorf("row duplicated after restart: %d rows", mirror.Len())
	}
}

type flakyMirror struct {
	*memory.Store
	appendErrs int
	idsErr     error
}

func (f *flakyMirror) AppendRows(ctx context.Context, rows []sheets.Row) error {
	if f.appendErrs > 0 {
		f.appendErrs--
		return errors.New("quota exceeded")
	}
	return f.Store.AppendRows(ctx, rows)
}

func (f *flakyMirror) EventIDs(ctx context.Context, year int) (map[string]struct{}, error) {
	if f.idsErr != nil {
		return nil, f.idsErr
	}
	return f.Store.EventIDs(ctx, year)
}

func TestMirrorWorker_FailureIsReturnedForRedelivery(t *testing.T) {
	mirror := &flakyMirror{Store: memory.New(), appendErrs: 1}
	w := NewMirrorWorker(mirror, testLogger(), time.Millisecond)
	ctx := context.Background()
	ev := amqp.NewCategoryEvent(amqp.OpCreated, core.Category{ID: 2, UserID: 7, Name: "Books", Kind: core.KindExpense, Color: "#abcdef"}, 0)

	if err := w.HandleLedgerEvent(ctx, ev); err == nil {
		t.Fatal("expected error on first delivery")
	}
	if err := w.HandleLedgerEvent(ctx, ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if st := w.Stats(); st.Written != 1 || st.Failures != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMirrorWorker_IDLoadFailure(t *testing.T) {
	mirror := &flakyMirror{Store: memory.New(), idsErr: errors.New("sheet unavailable")}
	w := NewMirrorWorker(mirror, testLogger(), 0)

	if err := w.HandleLedgerEvent(context.Background(), amqp.NewUserDeletedEvent(7)); err == nil {
		t.Fatal("expected error when ids cannot be loaded")
	}
	if mirror.Len() != 0 {
		t.Error("row written without idempotency check")
	}
}

func TestMirrorWorker_RetryDelayHonoursContext(t *testing.T) {
	mirror := &flakyMirror{Store: memory.New(), appendErrs: 1}
	w := NewMirrorWorker(mirror, testLogger(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.HandleLedgerEvent(ctx, amqp.NewUserDeletedEvent(1)) }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry delay ignored cancelled context")
	}
}
