package sheets

import (
	"context"
	"strconv"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
)

// Header is the first row of every mirror sheet.
var Header = []string{
	"Event ID", "Occurred At", "Type", "User ID", "Entity ID",
	"Date", "Kind", "Category", "Description", "Amount", "Cleared",
}

// Row is one ledger event flattened for a spreadsheet.
type Row struct {
	EventID     string
	OccurredAt  time.Time
	Type        string
	UserID      int64
	EntityID    int64
	Date        string
	Kind        core.Kind
	Category    string
	Description string
	Amount      core.Money
	Cleared     int
}

// Year selects the yearly sheet the row belongs to: the economic date for
// transactions, the event time otherwise.
func (r Row) Year() int {
	if r.Date != "" {
		if d, err := time.Parse(core.DateLayout, r.Date); err == nil {
			return d.Year()
		}
	}
	return r.OccurredAt.Year()
}

// Values renders the row in Header order.
func (r Row) Values() []any {
	amount := ""
	if r.Date != "" {
		amount = r.Amount.String()
	}
	cleared := ""
	if r.Cleared > 0 {
		cleared = strconv.Itoa(r.Cleared)
	}
	return []any{
		r.EventID,
		r.OccurredAt.UTC().Format(time.RFC3339),
		r.Type,
		strconv.FormatInt(r.UserID, 10),
		strconv.FormatInt(r.EntityID, 10),
		r.Date,
		string(r.Kind),
		r.Category,
		r.Description,
		amount,
		cleared,
	}
}

// RowFromEvent flattens a validated ledger event.
func RowFromEvent(ev *amqp.LedgerEvent) Row {
	r := Row{
		EventID:    ev.ID,
		OccurredAt: ev.OccurredAt,
		Type:       ev.RoutingKey(),
		UserID:     ev.UserID,
		EntityID:   ev.EntityID,
		Cleared:    ev.Cleared,
	}
	switch {
	case ev.Transaction != nil:
		t := ev.Transaction
		r.Date = t.Date
		r.Kind = t.Kind
		r.Category = t.Category
		r.Description = t.Description
		r.Amount = t.Amount
	case ev.Category != nil:
		r.Kind = ev.Category.Kind
		r.Category = ev.Category.Name
		r.Description = ev.Category.Color
	}
	return r
}

// Mirror is an append-only destination for ledger rows.
type Mirror interface {
	// AppendRows writes rows to the sheets of their years, in order.
	AppendRows(ctx context.Context, rows []Row) error
	// EventIDs returns the ids already written to the sheet of year.
	EventIDs(ctx context.Context, year int) (map[string]struct{}, error)
}
