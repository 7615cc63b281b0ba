package services

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/report"
	"fintrack/internal/storage"
	"fintrack/internal/storage/jsonfile"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.RoutingKey()
	}
	return out
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := jsonfile.Open(filepath.Join(t.TempDir(), "fintrack.json"), storage.Options{StrictCategoryKind: true})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

type fixture struct {
	store   storage.Store
	events  *recordingPublisher
	ledger  *LedgerService
	account *AccountService
	userID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newTestStore(t)
	pub := &recordingPublisher{}
	f := &fixture{
		store:   store,
		events:  pub,
		ledger:  NewLedgerService(store, pub, time.UTC),
		account: NewAccountService(store, pub),
	}
	f.account.cost = bcrypt.MinCost
	u, err := f.account.Register(context.Background(), "alice", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	f.userID = u.ID
	return f
}

func TestLedgerService_AddTransactionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      TransactionInput
		wantErr error
	}{
		{"bad kind", TransactionInput{Kind: "transfer", Amount: "1", Date: "2024-01-01"}, core.ErrInvalidKind},
		{"bad amount", TransactionInput{Kind: "expense", Amount: "abc", Date: "2024-01-01"}, core.ErrInvalidAmount},
		{"negative amount", TransactionInput{Kind: "expense", Amount: "-5", Date: "2024-01-01"}, core.ErrInvalidAmount},
		{"bad date", TransactionInput{Kind: "expense", Amount: "5", Date: "01/02/2024"}, core.ErrInvalidDate},
		{"missing date", TransactionInput{Kind: "expense", Amount: "5"}, core.ErrInvalidDate},
		{"bad category ref", TransactionInput{Kind: "expense", Amount: "5", Date: "2024-01-01", CategoryID: "x"}, core.ErrCategoryNotFound},
		{"unknown category", TransactionInput{Kind: "expense", Amount: "5", Date: "2024-01-01", CategoryID: "99"}, core.ErrCategoryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.AddTransaction(ctx, f.userID, tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddTransaction() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if len(f.events.keys()) != 0 {
		t.Errorf("rejected writes published events: %v", f.events.keys())
	}
}

func TestLedgerService_TransactionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	food, err := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: " Food ", Kind: "expense", Color: "#ff0000"})
	if err != nil {
		t.Fatal(err)
	}
	if food.Name != "Food" {
		t.Errorf("name not trimmed: %q", food.Name)
	}

	tx, err := f.ledger.AddTransaction(ctx, f.userID, TransactionInput{
		Kind: "expense", Amount: "12,5", Description: " lunch ", Date: "2024-03-02", CategoryID: "1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if tx.Amount.Cents != 1250 || tx.Description != "lunch" || tx.CategoryName != "Food" {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	edited, err := f.ledger.EditTransaction(ctx, f.userID, tx.ID, TransactionInput{
		Kind: "expense", Amount: "20", Date: "2024-03-03", CategoryID: "",
	})
	if err != nil {
		t.Fatal(err)
	}
	if edited.CategoryID != nil || edited.CategoryName != core.UncategorizedName {
		t.Fatalf("blank category should clear the reference: %+v", edited)
	}

	if err := f.ledger.DeleteTransaction(ctx, f.userID, tx.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.GetTransaction(ctx, f.userID, tx.ID); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	want := []string{"category.created", "transaction.created", "transaction.updated", "transaction.deleted"}
	got := f.events.keys()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLedgerService_OtherUsersRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, err := f.account.Register(ctx, "bob", "secret2")
	if err != nil {
		t.Fatal(err)
	}

	cat, _ := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "Food", Kind: "expense", Color: "#f00"})
	tx, _ := f.ledger.AddTransaction(ctx, f.userID, TransactionInput{Kind: "expense", Amount: "1", Date: "2024-01-01"})

	if _, err := f.ledger.EditTransaction(ctx, bob.ID, tx.ID, TransactionInput{Kind: "expense", Amount: "2", Date: "2024-01-01"}); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("edit foreign transaction: %v", err)
	}
	if err := f.ledger.DeleteTransaction(ctx, bob.ID, tx.ID); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("delete foreign transaction: %v", err)
	}
	if _, err := f.ledger.DeleteCategory(ctx, bob.ID, cat.ID); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("delete foreign category: %v", err)
	}
	if _, err := f.ledger.AddTransaction(ctx, bob.ID, TransactionInput{Kind: "expense", Amount: "1", Date: "2024-01-01", CategoryID: "1"}); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("reference foreign category: %v", err)
	}
}

func TestLedgerService_CategoryRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "Food", Kind: "expense", Color: "red"}); !errors.Is(err, core.ErrInvalidColor) {
		t.Errorf("invalid color: %v", err)
	}
	if _, err := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "  ", Kind: "expense", Color: "#fff"}); !errors.Is(err, core.ErrEmptyName) {
		t.Errorf("empty name: %v", err)
	}

	food, err := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "Food", Kind: "expense", Color: "#fff"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "FOOD", Kind: "expense", Color: "#000"}); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Errorf("case-insensitive duplicate: %v", err)
	}
	if _, err := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "food", Kind: "income", Color: "#000"}); err != nil {
		t.Errorf("same name with other kind should be allowed: %v", err)
	}

	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		if _, err := f.ledger.AddTransaction(ctx, f.userID, TransactionInput{Kind: "expense", Amount: "1", Date: date, CategoryID: "1"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.ledger.AddTransaction(ctx, f.userID, TransactionInput{Kind: "income", Amount: "1", Date: "2024-01-01", CategoryID: "1"}); !errors.Is(err, core.ErrCategoryKindMismatch) {
		t.Errorf("kind mismatch: %v", err)
	}

	if _, err := f.ledger.EditCategory(ctx, f.userID, food.ID, CategoryInput{Name: "Groceries", Kind: "expense", Color: "#00ff00"}); err != nil {
		t.Fatal(err)
	}
	page, _ := f.ledger.History(ctx, f.userID, 1, 10)
	for _, tx := range page.Transactions {
		if tx.CategoryName != "Groceries" || tx.CategoryColor != "#00ff00" {
			t.Fatalf("rename not propagated: %+v", tx)
		}
	}

	cleared, err := f.ledger.DeleteCategory(ctx, f.userID, food.ID)
	if err != nil || cleared != 3 {
		t.Fatalf("DeleteCategory() = %d, %v; want 3", cleared, err)
	}
	page, _ = f.ledger.History(ctx, f.userID, 1, 10)
	for _, tx := range page.Transactions {
		if tx.CategoryID != nil || tx.CategoryName != core.UncategorizedName {
			t.Fatalf("reference not cleared: %+v", tx)
		}
	}

	last := f.events.events[len(f.events.events)-1]
	if last.RoutingKey() != "category.deleted" || last.Cleared != 3 {
		t.Errorf("unexpected delete event %+v", last)
	}
}

func TestLedgerService_History(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []string{"2024-01-05", "2024-01-01", "2024-01-03"} {
		if _, err := f.ledger.AddTransaction(ctx, f.userID, TransactionInput{Kind: "expense", Amount: "1", Date: d}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		page, size  int
		wantDates   []string
		wantPages   int
		wantHasNext bool
	}{
		{1, 2, []string{"2024-01-05", "2024-01-03"}, 2, true},
		{2, 2, []string{"2024-01-01"}, 2, false},
		{3, 2, nil, 2, false},
		{0, 0, []string{"2024-01-05", "2024-01-03", "2024-01-01"}, 1, false},
	}
	for _, tt := range tests {
		p, err := f.ledger.History(ctx, f.userID, tt.page, tt.size)
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Transactions) != len(tt.wantDates) || p.Pages() != tt.wantPages || p.HasNext() != tt.wantHasNext {
			t.Fatalf("page %d/%d: got %d items, pages %d, next %v", tt.page, tt.size, len(p.Transactions), p.Pages(), p.HasNext())
		}
		for i, d := range tt.wantDates {
			if got := p.Transactions[i].Date.Format(core.DateLayout); got != d {
				t.Errorf("page %d item %d = %s, want %s", tt.page, i, got, d)
			}
		}
	}
}

func TestLedgerService_Report(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }

	food, _ := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "Food", Kind: "expense", Color: "#ff0000"})
	salary, _ := f.ledger.AddCategory(ctx, f.userID, CategoryInput{Name: "Salary", Kind: "income", Color: "#00ff00"})
	add := func(kind, amount, date string, cat int64) {
		t.Helper()
		ref := ""
		if cat != 0 {
			ref = strconv.FormatInt(cat, 10)
		}
		if _, err := f.ledger.AddTransaction(ctx, f.userID, TransactionInput{Kind: kind, Amount: amount, Date: date, CategoryID: ref}); err != nil {
			t.Fatal(err)
		}
	}
	add("expense", "10.00", "2024-03-01", food.ID)
	add("expense", "5.50", "2024-03-10", food.ID)
	add("expense", "2.00", "2024-03-10", 0)
	add("expense", "99.00", "2024-02-28", food.ID)
	add("income", "100.00", "2024-03-05", salary.ID)

	t.Run("defaults to month expense by category", func(t *testing.T) {
		res, err := f.ledger.Report(ctx, f.userID, ReportRequest{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Period != report.PeriodMonth || res.Type != core.FilterExpense || res.Mode != report.ModeCategory {
			t.Fatalf("unexpected defaults %+v", res)
		}
		if len(res.Entries) != 2 || res.Entries[0].Label != "Food" || res.Entries[0].Value.Cents != 1550 ||
			res.Entries[1].Label != core.UncategorizedName || res.Entries[1].Value.Cents != 200 {
			t.Fatalf("unexpected entries %+v", res.Entries)
		}
		if res.Total.Cents != 1750 || res.Count != 3 {
			t.Fatalf("total %v count %d", res.Total, res.Count)
		}
	})

	t.Run("signed net by day", func(t *testing.T) {
		res, err := f.ledger.Report(ctx, f.userID, ReportRequest{Type: "both", Mode: "bucket"})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Entries) != 15 {
			t.Fatalf("expected 15 day buckets, got %d", len(res.Entries))
		}
		if res.Entries[4].Value.Cents != 10000 || res.Entries[9].Value.Cents != -750 {
			t.Fatalf("unexpected buckets %+v", res.Entries)
		}
		if res.Total.Cents != 10000-1750 {
			t.Fatalf("total %d", res.Total.Cents)
		}
	})

	t.Run("invalid tokens", func(t *testing.T) {
		for _, req := range []ReportRequest{{Period: "decade"}, {Type: "transfers"}, {Mode: "pie"}} {
			if _, err := f.ledger.Report(ctx, f.userID, req); err == nil {
				t.Errorf("%+v should fail", req)
			}
		}
	})
}

func TestLedgerService_PublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.events.err = amqp.ErrCircuitOpen
	if _, err := f.ledger.AddCategory(context.Background(), f.userID, CategoryInput{Name: "Food", Kind: "expense", Color: "#fff"}); err != nil {
		t.Fatalf("publish failure leaked into the write: %v", err)
	}
}

func TestLedgerService_NilPublisher(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedgerService(store, nil, nil)
	if ledger.Location() != time.Local {
		t.Error("nil location should default to time.Local")
	}
	u, _ := store.CreateUser(context.Background(), core.User{Username: "carol", PasswordHash: "x"})
	if _, err := ledger.AddCategory(context.Background(), u.ID, CategoryInput{Name: "Food", Kind: "expense", Color: "#fff"}); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerService_Summary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.AddTransaction(ctx, f.userID, TransactionInput{Kind: "income", Amount: "100", Date: "2024-01-01"})
	f.ledger.AddTransaction(ctx, f.userID, TransactionInput{Kind: "expense", Amount: "30.25", Date: "2024-01-02"})

	sum, err := f.ledger.Summary(ctx, f.userID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalIncome.Cents != 10000 || sum.TotalExpense.Cents != 3025 || sum.Balance().Cents != 6975 || sum.TransactionCount != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Username != "alice" {
		t.Errorf("username = %q", sum.Username)
	}
}

func TestParseCategoryRef(t *testing.T) {
	for _, s := range []string{"", " ", "0", "none"} {
		if id, err := ParseCategoryRef(s); id != nil || err != nil {
			t.Errorf("ParseCategoryRef(%q) = %v, %v", s, id, err)
		}
	}
	if id, err := ParseCategoryRef("42"); err != nil || *id != 42 {
		t.Errorf("ParseCategoryRef(42) = %v, %v", id, err)
	}
	if _, err := ParseCategoryRef("-3"); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Errorf("negative id: %v", err)
	}
}
