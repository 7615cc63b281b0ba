package report

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

const (
	// ModeCategory sums amounts per category (pie chart and legend).
	ModeCategory Mode = "category"
	// ModeBucket sums amounts per time bucket (bar chart).
	ModeBucket Mode = "bucket"
	// ModeIndividual lists every matching transaction.
	ModeIndividual Mode = "individual"
)

type Mode string

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "category", "category-sum":
		return ModeCategory, nil
	case "bucket", "signed-net", "net":
		return ModeBucket, nil
	case "individual", "items":
		return ModeIndividual, nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrInvalidMode, s)
}

// Entry is one chart tuple.
type Entry struct {
	Label string     `json:"label"`
	Value core.Money `json:"value"`
	Color string     `json:"color"`
}

type Result struct {
	Period  Period          `json:"period"`
	Type    core.TypeFilter `json:"type"`
	Mode    Mode            `json:"mode"`
	Start   *time.Time      `json:"start,omitempty"`
	End     time.Time       `json:"end"`
	Entries []Entry         `json:"entries"`
	// Legend holds the category entries sorted by value, largest first.
	Legend []Entry `json:"legend,omitempty"`
	// Total is the signed sum over the filtered set.
	Total core.Money `json:"total"`
	Count int        `json:"count"`
}

type Input struct {
	Transactions []core.Transaction
	Categories   []core.Category
	Window       Window
	Type         core.TypeFilter
	Mode         Mode
}

// Aggregate filters in.Transactions to the window and type filter and folds
// them according to in.Mode.
//
// Missing categories and malformed dates never fail the report: the former
// fold into Uncategorized, the latter are logged and skipped.
func Aggregate(ctx context.Context, in Input) (Result, error) {
	if in.Type == "" {
		in.Type = core.FilterExpense
	}
	if _, err := core.ParseTypeFilter(string(in.Type)); err != nil {
		return Result{}, err
	}

	res := Result{
		Period: in.Window.Period,
		Type:   in.Type,
		Mode:   in.Mode,
		End:    in.Window.End,
	}
	if in.Window.Bounded() {
		start := in.Window.Start
		res.Start = &start
	}

	cats := make(map[int64]core.Category, len(in.Categories))
	for _, c := range in.Categories {
		cats[c.ID] = c
	}

	logger := log.FromContext(ctx)
	loc := in.Window.End.Location()
	rows := make([]row, 0, len(in.Transactions))
	for _, t := range in.Transactions {
		if t.Date.IsZero() {
			logger.WarnContext(ctx, "Skipping transaction with malformed date",
				log.FieldTransactionID, t.ID, log.FieldUserID, t.UserID)
			continue
		}
		t.Date = wallClock(t.Date, loc)
		if !in.Window.Contains(t.Date) || !in.Type.Matches(t.Kind) {
			continue
		}
		r := row{tx: t, name: core.UncategorizedName, color: core.UncategorizedColor}
		if t.CategoryID != nil {
			if c, ok := cats[*t.CategoryID]; ok {
				r.name, r.color, r.resolved = c.Name, c.Color, true
			} else {
				logger.WarnContext(ctx, "Transaction references missing category",
					log.FieldTransactionID, t.ID, log.FieldCategoryID, *t.CategoryID)
			}
		}
		res.Total = res.Total.Add(in.Type.Signed(t.Kind, t.Amount))
		rows = append(rows, r)
	}
	res.Count = len(rows)

	switch in.Mode {
	case ModeCategory:
		res.Entries = byCategory(rows, in.Type)
		res.Legend = legend(res.Entries)
	case ModeBucket:
		res.Entries = byBucket(rows, in.Window, in.Type)
	case ModeIndividual:
		res.Entries = individual(rows)
	default:
		return Result{}, fmt.Errorf("%w: %q", core.ErrInvalidMode, string(in.Mode))
	}
	return res, nil
}

type row struct {
	tx    core.Transaction
	name  string
	color string
	// resolved is false for transactions folded into Uncategorized.
	resolved bool
}

type groupKey struct {
	name     string
	color    string
	resolved bool
}

// byCategory groups by category name and colour. Uncategorized is its own
// group, sorted last, even if a category carries the same label.
func byCategory(rows []row, f core.TypeFilter) []Entry {
	idx := make(map[groupKey]int)
	var (
		out  []Entry
		keys []groupKey
	)
	for _, r := range rows {
		k := groupKey{name: r.name, color: r.color, resolved: r.resolved}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Entry{Label: r.name, Color: r.color})
			keys = append(keys, k)
		}
		out[i].Value = out[i].Value.Add(f.Signed(r.tx.Kind, r.tx.Amount))
	}
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := keys[order[a]], keys[order[b]]
		if ka.resolved != kb.resolved {
			return ka.resolved
		}
		if ka.name != kb.name {
			return ka.name < kb.name
		}
		return ka.color < kb.color
	})
	sorted := make([]Entry, 0, len(out))
	for _, i := range order {
		sorted = append(sorted, out[i])
	}
	return sorted
}

func legend(entries []Entry) []Entry {
	out := slices.Clone(entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value.Cents != out[j].Value.Cents {
			return out[i].Value.Cents > out[j].Value.Cents
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func byBucket(rows []row, w Window, f core.TypeFilter) []Entry {
	color := BarColor(f)
	if w.Period == PeriodAll {
		sums := make(map[int]core.Money)
		for _, r := range rows {
			y := w.bucket(r.tx.Date)
			sums[y] = sums[y].Add(f.Signed(r.tx.Kind, r.tx.Amount))
		}
		years := make([]int, 0, len(sums))
		for y := range sums {
			years = append(years, y)
		}
		sort.Ints(years)
		out := make([]Entry, len(years))
		for i, y := range years {
			out[i] = Entry{Label: yearLabel(y), Value: sums[y], Color: color}
		}
		return out
	}

	out := make([]Entry, len(w.Labels))
	for i, l := range w.Labels {
		out[i] = Entry{Label: l, Color: color}
	}
	for _, r := range rows {
		i := w.bucket(r.tx.Date)
		if i < 0 || i >= len(out) {
			continue
		}
		out[i].Value = out[i].Value.Add(f.Signed(r.tx.Kind, r.tx.Amount))
	}
	return out
}

func individual(rows []row) []Entry {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].tx.Before(rows[j].tx) })
	out := make([]Entry, len(rows))
	for i, r := range rows {
		label := strings.TrimSpace(r.tx.Description)
		if label == "" {
			label = r.tx.Date.Format(core.DateLayout) + " " + r.name
		}
		out[i] = Entry{Label: label, Value: r.tx.Amount.Abs(), Color: r.color}
	}
	return out
}

// wallClock re-anchors t's calendar fields in loc. Transaction dates are
// economic dates, so a store returning them in UTC must not shift the day.
func wallClock(t time.Time, loc *time.Location) time.Time {
	if t.Location() == loc {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// BarColor is the bar fill used for a type filter.
func BarColor(f core.TypeFilter) string {
	switch f {
	case core.FilterIncome:
		return "#28a745"
	case core.FilterBoth:
		return "#6c757d"
	default:
		return "#fc5723"
	}
}
