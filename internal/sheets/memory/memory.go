package memory

import (
	"context"
	"log/slog"
	"sync"

	"fintrack/internal/sheets"
)

// Store is an in-memory sheets.Mirror. The worker uses it for dry runs.
type Store struct {
	mu    sync.Mutex
	years map[int][]sheets.Row
	// Log, when set, receives one line per appended row.
	Log *slog.Logger
}

var _ sheets.Mirror = (*Store)(nil)

func New() *Store {
	return &Store{years: make(map[int][]sheets.Row)}
}

func (s *Store) AppendRows(ctx context.Context, rows []sheets.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		y := r.Year()
		s.years[y] = append(s.years[y], r)
		if s.Log != nil {
			s.Log.InfoContext(ctx, "Mirror row", "year", y, "event_id", r.EventID, "type", r.Type, "amount", r.Amount.String())
		}
	}
	return nil
}

func (s *Store) EventIDs(_ context.Context, year int) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.years[year]))
	for _, r := range s.years[year] {
		ids[r.EventID] = struct{}{}
	}
	return ids, nil
}

// Rows returns a copy of the rows written for year.
func (s *Store) Rows(year int) []sheets.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.Row(nil), s.years[year]...)
}

// Len counts rows across all years.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rows := range s.years {
		n += len(rows)
	}
	return n
}
