package core

import (
	"errors"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	for _, s := range []string{"income", "Expense", " income "} {
		if _, err := ParseKind(s); err != nil {
			t.Fatalf("%q: unexpected error %v", s, err)
		}
	}
	if _, err := ParseKind("both"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestTypeFilterSigned(t *testing.T) {
	m := Money{Cents: 500}
	if got := FilterBoth.Signed(KindExpense, m); got.Cents != -500 {
		t.Fatalf("both/expense = %d", got.Cents)
	}
	if got := FilterBoth.Signed(KindIncome, m); got.Cents != 500 {
		t.Fatalf("both/income = %d", got.Cents)
	}
	if got := FilterExpense.Signed(KindExpense, m); got.Cents != 500 {
		t.Fatalf("expense/expense = %d", got.Cents)
	}
	if !FilterBoth.Matches(KindIncome) || FilterExpense.Matches(KindIncome) {
		t.Fatal("unexpected Matches result")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-05", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if d.Year() != 2024 || d.Month() != time.January || d.Day() != 5 {
		t.Fatalf("unexpected date %v", d)
	}
	for _, bad := range []string{"", "05/01/2024", "2024-13-01"} {
		if _, err := ParseDate(bad, time.UTC); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%q: expected ErrInvalidDate, got %v", bad, err)
		}
	}
}

func TestCategoryValidate(t *testing.T) {
	good := Category{Name: "Food", Kind: KindExpense, Color: "#ff0000"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []struct {
		c    Category
		want error
	}{
		{Category{Name: " ", Kind: KindExpense, Color: "#fff"}, ErrEmptyName},
		{Category{Name: " uncategorized", Kind: KindExpense, Color: "#fff"}, ErrReservedName},
		{Category{Name: "Food", Kind: "both", Color: "#fff"}, ErrInvalidKind},
		{Category{Name: "Food", Kind: KindIncome, Color: "red"}, ErrInvalidColor},
	}
	for i, tc := range bads {
		if err := tc.c.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{Kind: KindIncome, Amount: Money{Cents: 0}, Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := good
	bad.Amount = Money{Cents: -1}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	bad = good
	bad.Date = time.Time{}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestApplyCategory(t *testing.T) {
	var tx Transaction
	tx.ApplyCategory(&Category{ID: 7, Name: "Food", Color: "#00ff00"})
	if tx.CategoryID == nil || *tx.CategoryID != 7 || tx.CategoryName != "Food" {
		t.Fatalf("unexpected %+v", tx)
	}
	tx.ApplyCategory(nil)
	if tx.CategoryID != nil || tx.CategoryName != UncategorizedName || tx.CategoryColor != UncategorizedColor {
		t.Fatalf("expected reset, got %+v", tx)
	}
}

func TestTransactionBefore(t *testing.T) {
	d1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	c := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	a := Transaction{ID: 1, Date: d2, CreatedAt: c}
	b := Transaction{ID: 2, Date: d1, CreatedAt: c.Add(time.Hour)}
	if !a.Before(b) {
		t.Fatal("later date should sort first")
	}
	x := Transaction{ID: 3, Date: d1, CreatedAt: c}
	if !b.Before(x) {
		t.Fatal("later creation should sort first on equal dates")
	}
	y := Transaction{ID: 4, Date: d1, CreatedAt: c}
	if !y.Before(x) {
		t.Fatal("higher id should sort first on full tie")
	}
}
