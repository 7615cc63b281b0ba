// Package report turns a user's transactions into chart-ready summaries.
//
// Resolve maps a period token and a reference instant to a half-open window
// with its canonical bucket labels; Aggregate folds transactions into
// category groups, time buckets or itemized rows.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
)

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// Period is a symbolic reporting window.
type Period string

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodYear, PeriodAll:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrInvalidPeriod, s)
}

// Noun is the bucket unit used in chart titles, e.g. "Expense by day".
func (p Period) Noun() string {
	switch p {
	case PeriodToday:
		return "hour"
	case PeriodWeek, PeriodMonth:
		return "day"
	case PeriodYear:
		return "month"
	default:
		return "year"
	}
}

// Window is a half-open interval [Start, End) with its bucket labels.
// A zero Start means the window has no lower bound.
//
// Labels is nil for PeriodAll; those labels depend on the data and are
// derived by the aggregation from the filtered transactions.
type Window struct {
	Period Period
	Start  time.Time
	End    time.Time
	Labels []string
}

// Resolve computes the window for p ending at now. Calendar boundaries are
// taken in now's location.
func Resolve(p Period, now time.Time) (Window, error) {
	loc := now.Location()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)

	w := Window{Period: p, End: now}
	switch p {
	case PeriodToday:
		w.Start = midnight
		w.Labels = make([]string, 24)
		for h := range 24 {
			w.Labels[h] = fmt.Sprintf("%02d:00", h)
		}
	case PeriodWeek:
		offset := (int(now.Weekday()) + 6) % 7 // Monday = 0
		w.Start = midnight.AddDate(0, 0, -offset)
		w.Labels = make([]string, 7)
		for i := range 7 {
			w.Labels[i] = w.Start.AddDate(0, 0, i).Format("Mon 02")
		}
	case PeriodMonth:
		w.Start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		w.Labels = make([]string, d)
		for i := range d {
			w.Labels[i] = fmt.Sprintf("%02d", i+1)
		}
	case PeriodYear:
		w.Start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		w.Labels = make([]string, 12)
		for i := range 12 {
			w.Labels[i] = time.Month(i + 1).String()[:3]
		}
	case PeriodAll:
	default:
		return Window{}, fmt.Errorf("%w: %q", core.ErrInvalidPeriod, string(p))
	}
	return w, nil
}

// Bounded reports whether the window has a lower bound.
func (w Window) Bounded() bool {
	return !w.Start.IsZero()
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	if w.Bounded() && t.Before(w.Start) {
		return false
	}
	return t.Before(w.End)
}

// bucket returns the index of t within the window's labels. For PeriodAll
// the result is the calendar year.
func (w Window) bucket(t time.Time) int {
	switch w.Period {
	case PeriodToday:
		return t.Hour()
	case PeriodWeek:
		return daysBetween(w.Start, t)
	case PeriodMonth:
		return t.Day() - 1
	case PeriodYear:
		return int(t.Month()) - 1
	default:
		return t.Year()
	}
}

// daysBetween counts calendar days from a to b, ignoring clock time and
// DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func yearLabel(y int) string {
	return strconv.Itoa(y)
}
