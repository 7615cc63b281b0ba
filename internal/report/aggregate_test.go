package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(v int64) *int64 { return &v }

func cents(c int64) core.Money { return core.Money{Cents: c} }

var food = core.Category{ID: 1, UserID: 1, Name: "Food", Kind: core.KindExpense, Color: "#ff0000"}

func exampleSet() []core.Transaction {
	return []core.Transaction{
		{ID: 1, UserID: 1, Kind: core.KindIncome, Amount: cents(100000), Date: day(2024, 1, 5)},
		{ID: 2, UserID: 1, Kind: core.KindExpense, Amount: cents(20050), Date: day(2024, 1, 6), CategoryID: ptr(1)},
	}
}

func mustAggregate(t *testing.T, in Input) Result {
	t.Helper()
	res, err := Aggregate(context.Background(), in)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return res
}

func TestAggregateCategoryBothExample(t *testing.T) {
	w, _ := Resolve(PeriodMonth, day(2024, 1, 7))
	res := mustAggregate(t, Input{
		Transactions: exampleSet(),
		Categories:   []core.Category{food},
		Window:       w,
		Type:         core.FilterBoth,
		Mode:         ModeCategory,
	})

	want := []Entry{
		{Label: "Food", Value: cents(-20050), Color: "#ff0000"},
		{Label: core.UncategorizedName, Value: cents(100000), Color: core.UncategorizedColor},
	}
	if len(res.Entries) != len(want) {
		t.Fatalf("got %d entries: %+v", len(res.Entries), res.Entries)
	}
	for i := range want {
		if res.Entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, res.Entries[i], want[i])
		}
	}
	if res.Legend[0].Label != core.UncategorizedName || res.Legend[1].Label != "Food" {
		t.Fatalf("legend not sorted by value desc: %+v", res.Legend)
	}
	if res.Total.Cents != 100000-20050 {
		t.Fatalf("total %s", res.Total)
	}
}

func TestAggregateBucketExample(t *testing.T) {
	w, _ := Resolve(PeriodMonth, day(2024, 1, 7))
	res := mustAggregate(t, Input{
		Transactions: exampleSet(),
		Categories:   []core.Category{food},
		Window:       w,
		Type:         core.FilterBoth,
		Mode:         ModeBucket,
	})
	if len(res.Entries) != 7 {
		t.Fatalf("got %d buckets", len(res.Entries))
	}
	for i, e := range res.Entries {
		var want int64
		switch i {
		case 4:
			want = 100000
		case 5:
			want = -20050
		}
		if e.Value.Cents != want {
			t.Fatalf("bucket %s = %s, want %d cents", e.Label, e.Value, want)
		}
		if e.Label != w.Labels[i] {
			t.Fatalf("bucket %d label %q, want %q", i, e.Label, w.Labels[i])
		}
	}
}

func TestAggregateZeroFillsFixedPeriods(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	for _, p := range []Period{PeriodToday, PeriodWeek, PeriodYear} {
		w, _ := Resolve(p, now)
		res := mustAggregate(t, Input{Window: w, Type: core.FilterExpense, Mode: ModeBucket})
		if len(res.Entries) != len(w.Labels) {
			t.Fatalf("%s: %d entries for %d labels", p, len(res.Entries), len(w.Labels))
		}
		for _, e := range res.Entries {
			if !e.Value.IsZero() {
				t.Fatalf("%s: expected zero bucket, got %+v", p, e)
			}
		}
	}
}

func TestAggregateSumInvariant(t *testing.T) {
	now := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	txs := []core.Transaction{
		{ID: 1, Kind: core.KindExpense, Amount: cents(1), Date: day(2024, 1, 1), CategoryID: ptr(1)},
		{ID: 2, Kind: core.KindExpense, Amount: cents(333), Date: day(2024, 2, 3)},
		{ID: 3, Kind: core.KindExpense, Amount: cents(999999), Date: day(2024, 7, 9), CategoryID: ptr(1)},
		{ID: 4, Kind: core.KindIncome, Amount: cents(5000), Date: day(2024, 7, 9)},
		{ID: 5, Kind: core.KindExpense, Amount: cents(10), Date: day(2023, 7, 9)},
	}
	w, _ := Resolve(PeriodYear, now)

	for _, mode := range []Mode{ModeCategory, ModeBucket} {
		res := mustAggregate(t, Input{Transactions: txs, Categories: []core.Category{food}, Window: w, Type: core.FilterExpense, Mode: mode})
		var sum int64
		for _, e := range res.Entries {
			sum += e.Value.Cents
		}
		if sum != 1+333+999999 || res.Count != 3 {
			t.Fatalf("%s: sum %d count %d", mode, sum, res.Count)
		}
	}

	res := mustAggregate(t, Input{Transactions: txs, Window: w, Type: core.FilterBoth, Mode: ModeBucket})
	var net int64
	for _, e := range res.Entries {
		net += e.Value.Cents
	}
	if net != 5000-(1+333+999999) {
		t.Fatalf("signed net %d", net)
	}
}

func TestAggregateHalfOpenWindow(t *testing.T) {
	now := day(2024, 1, 7)
	w, _ := Resolve(PeriodMonth, now)
	txs := []core.Transaction{
		{ID: 1, Kind: core.KindExpense, Amount: cents(100), Date: now},
		{ID: 2, Kind: core.KindExpense, Amount: cents(200), Date: day(2023, 12, 31)},
		{ID: 3, Kind: core.KindExpense, Amount: cents(300), Date: day(2024, 1, 1)},
	}
	res := mustAggregate(t, Input{Transactions: txs, Window: w, Type: core.FilterExpense, Mode: ModeIndividual})
	if res.Count != 1 || res.Entries[0].Value.Cents != 300 {
		t.Fatalf("unexpected entries %+v", res.Entries)
	}
}

func TestAggregateMissingCategoryFoldsIntoUncategorized(t *testing.T) {
	w, _ := Resolve(PeriodAll, day(2024, 2, 1))
	txs := []core.Transaction{
		{ID: 1, Kind: core.KindExpense, Amount: cents(100), Date: day(2024, 1, 3), CategoryID: ptr(99), CategoryName: "Gone", CategoryColor: "#123456"},
		{ID: 2, Kind: core.KindExpense, Amount: cents(50), Date: day(2024, 1, 4)},
	}
	res := mustAggregate(t, Input{Transactions: txs, Window: w, Type: core.FilterExpense, Mode: ModeCategory})
	if len(res.Entries) != 1 {
		t.Fatalf("expected one group, got %+v", res.Entries)
	}
	e := res.Entries[0]
	if e.Label != core.UncategorizedName || e.Color != core.UncategorizedColor || e.Value.Cents != 150 {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestAggregateCategoryGroupsByNameAndColor(t *testing.T) {
	w, _ := Resolve(PeriodAll, day(2024, 2, 1))
	cats := []core.Category{
		{ID: 1, Name: "Gifts", Kind: core.KindExpense, Color: "#ff0000"},
		{ID: 2, Name: "Gifts", Kind: core.KindIncome, Color: "#00ff00"},
		{ID: 3, Name: core.UncategorizedName, Kind: core.KindExpense, Color: "#000000"},
	}
	txs := []core.Transaction{
		{ID: 1, Kind: core.KindExpense, Amount: cents(300), Date: day(2024, 1, 3), CategoryID: ptr(1)},
		{ID: 2, Kind: core.KindIncome, Amount: cents(500), Date: day(2024, 1, 4), CategoryID: ptr(2)},
		{ID: 3, Kind: core.KindExpense, Amount: cents(70), Date: day(2024, 1, 5), CategoryID: ptr(3)},
		{ID: 4, Kind: core.KindExpense, Amount: cents(20), Date: day(2024, 1, 6)},
	}
	res := mustAggregate(t, Input{Transactions: txs, Categories: cats, Window: w, Type: core.FilterBoth, Mode: ModeCategory})

	want := []Entry{
		{Label: "Gifts", Value: cents(500), Color: "#00ff00"},
		{Label: "Gifts", Value: cents(-300), Color: "#ff0000"},
		{Label: core.UncategorizedName, Value: cents(-70), Color: "#000000"},
		{Label: core.UncategorizedName, Value: cents(-20), Color: core.UncategorizedColor},
	}
	if len(res.Entries) != len(want) {
		t.Fatalf("got %d entries: %+v", len(res.Entries), res.Entries)
	}
	for i := range want {
		if res.Entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, res.Entries[i], want[i])
		}
	}
}

func TestAggregateSkipsMalformedDates(t *testing.T) {
	w, _ := Resolve(PeriodAll, day(2024, 2, 1))
	txs := []core.Transaction{
		{ID: 1, Kind: core.KindExpense, Amount: cents(100)},
		{ID: 2, Kind: core.KindExpense, Amount: cents(50), Date: day(2024, 1, 4)},
	}
	res := mustAggregate(t, Input{Transactions: txs, Window: w, Type: core.FilterExpense, Mode: ModeBucket})
	if len(res.Entries) != 1 || res.Entries[0].Label != "2024" || res.Entries[0].Value.Cents != 50 {
		t.Fatalf("unexpected entries %+v", res.Entries)
	}
}

func TestAggregateAllYearsAscending(t *testing.T) {
	w, _ := Resolve(PeriodAll, day(2025, 3, 1))
	txs := []core.Transaction{
		{ID: 1, Kind: core.KindIncome, Amount: cents(100), Date: day(2024, 1, 4)},
		{ID: 2, Kind: core.KindIncome, Amount: cents(200), Date: day(2021, 6, 4)},
		{ID: 3, Kind: core.KindIncome, Amount: cents(300), Date: day(2024, 9, 4)},
		{ID: 4, Kind: core.KindExpense, Amount: cents(300), Date: day(2022, 9, 4)},
	}
	res := mustAggregate(t, Input{Transactions: txs, Window: w, Type: core.FilterIncome, Mode: ModeBucket})
	if len(res.Entries) != 2 {
		t.Fatalf("unexpected entries %+v", res.Entries)
	}
	if res.Entries[0].Label != "2021" || res.Entries[1].Label != "2024" || res.Entries[1].Value.Cents != 400 {
		t.Fatalf("unexpected entries %+v", res.Entries)
	}
	if res.Entries[0].Color != BarColor(core.FilterIncome) {
		t.Fatalf("unexpected color %s", res.Entries[0].Color)
	}
}

func TestAggregateIndividual(t *testing.T) {
	w, _ := Resolve(PeriodAll, day(2024, 2, 1))
	created := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	txs := []core.Transaction{
		{ID: 1, Kind: core.KindExpense, Amount: cents(100), Date: day(2024, 1, 3), Description: "Lunch", CreatedAt: created},
		{ID: 2, Kind: core.KindExpense, Amount: cents(50), Date: day(2024, 1, 4), CategoryID: ptr(1), CreatedAt: created},
		{ID: 3, Kind: core.KindExpense, Amount: cents(70), Date: day(2024, 1, 4), CreatedAt: created.Add(time.Minute)},
	}
	res := mustAggregate(t, Input{Transactions: txs, Categories: []core.Category{food}, Window: w, Type: core.FilterBoth, Mode: ModeIndividual})
	want := []Entry{
		{Label: "2024-01-04 Uncategorized", Value: cents(70), Color: core.UncategorizedColor},
		{Label: "2024-01-04 Food", Value: cents(50), Color: "#ff0000"},
		{Label: "Lunch", Value: cents(100), Color: core.UncategorizedColor},
	}
	for i := range want {
		if res.Entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, res.Entries[i], want[i])
		}
	}
}

func TestAggregateRejectsUnknownMode(t *testing.T) {
	w, _ := Resolve(PeriodAll, day(2024, 2, 1))
	_, err := Aggregate(context.Background(), Input{Window: w, Type: core.FilterBoth, Mode: "pivot"})
	if !errors.Is(err, core.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestAggregateReanchorsDatesInReferenceLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2024, 1, 7, 12, 0, 0, 0, loc)
	w, _ := Resolve(PeriodMonth, now)
	// Stored as midnight UTC on the 5th; must land in day 5, not day 4.
	txs := []core.Transaction{{ID: 1, Kind: core.KindExpense, Amount: cents(100), Date: day(2024, 1, 5)}}
	res := mustAggregate(t, Input{Transactions: txs, Window: w, Type: core.FilterExpense, Mode: ModeBucket})
	if res.Entries[4].Value.Cents != 100 {
		t.Fatalf("unexpected buckets %+v", res.Entries)
	}
}
