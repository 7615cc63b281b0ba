// Package storagetest holds a behavioural test suite shared by every
// storage.Store backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Factory returns a fresh, empty store opened with
// storage.Options{StrictCategoryKind: true}.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Users", testUsers},
		{"CategoryDuplicates", testCategoryDuplicates},
		{"ConcurrentCategoryCreates", testConcurrentCategoryCreates},
		{"CategoryOwnership", testCategoryOwnership},
		{"CategoryRenameResyncsTransactions", testCategoryRename},
		{"CategoryDeleteClearsReferences", testCategoryDelete},
		{"TransactionCategoryRules", testTransactionCategoryRules},
		{"TransactionLifecycle", testTransactionLifecycle},
		{"HistoryOrder", testHistoryOrder},
		{"DeleteUserCascades", testDeleteUser},
		{"Summary", testSummary},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tc.fn(t, s)
		})
	}
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func mustUser(t *testing.T, s storage.Store, name string) core.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), core.User{Username: name, PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func mustCategory(t *testing.T, s storage.Store, userID int64, name string, kind core.Kind) core.Category {
	t.Helper()
	c, err := s.CreateCategory(context.Background(), core.Category{UserID: userID, Name: name, Kind: kind, Color: "#112233"})
	if err != nil {
		t.Fatalf("create category %s: %v", name, err)
	}
	return c
}

func mustTransaction(t *testing.T, s storage.Store, tx core.Transaction) core.Transaction {
	t.Helper()
	out, err := s.CreateTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return out
}

func idOf(c core.Category) *int64 {
	id := c.ID
	return &id
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")
	if u.ID == 0 || u.CreatedAt.IsZero() {
		t.Fatalf("expected id and creation time, got %+v", u)
	}
	if _, err := s.CreateUser(ctx, core.User{Username: "alice", PasswordHash: "x"}); !errors.Is(err, core.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	got, err := s.FindUserByName(ctx, "alice")
	if err != nil || got.ID != u.ID || got.PasswordHash != "hash" {
		t.Fatalf("find by name: %+v, %v", got, err)
	}
	if _, err := s.FindUser(ctx, u.ID+100); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.FindUserByName(ctx, "bob"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func testCategoryDuplicates(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")
	orig := mustCategory(t, s, u.ID, "Food", core.KindExpense)

	_, err := s.CreateCategory(ctx, core.Category{UserID: u.ID, Name: " food ", Kind: core.KindExpense, Color: "#ffffff"})
	if !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory, got %v", err)
	}
	got, err := s.FindCategory(ctx, orig.ID, u.ID)
	if err != nil || got.Name != "Food" || got.Color != "#112233" {
		t.Fatalf("original changed: %+v, %v", got, err)
	}

	// Same name with another kind, or for another user, is allowed.
	mustCategory(t, s, u.ID, "Food", core.KindIncome)
	other := mustUser(t, s, "bob")
	mustCategory(t, s, other.ID, "Food", core.KindExpense)

	rent := mustCategory(t, s, u.ID, "Rent", core.KindExpense)
	rent.Name = "FOOD"
	if _, err := s.UpdateCategory(ctx, rent); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory on rename, got %v", err)
	}
	// Renaming to itself with different case is not a duplicate.
	orig.Name = "FOOD"
	if _, err := s.UpdateCategory(ctx, orig); err != nil {
		t.Fatalf("self rename: %v", err)
	}

	kind := core.KindExpense
	list, err := s.ListCategories(ctx, u.ID, &kind)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Name != "FOOD" || list[1].Name != "Rent" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := s.ListCategories(ctx, u.ID, nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(all))
	}
}

func testConcurrentCategoryCreates(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")

	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		name := "Food"
		if i%2 == 1 {
			name = "FOOD"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.CreateCategory(ctx, core.Category{
				UserID: u.ID, Name: name, Kind: core.KindExpense, Color: fmt.Sprintf("#%06d", i),
			})
		}()
	}
	wg.Wait()

	created, dup := 0, 0
	for i, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, core.ErrDuplicateCategory):
			dup++
		default:
			t.Errorf("create %d: unexpected error %v", i, err)
		}
	}
	if created != 1 || dup != n-1 {
		t.Fatalf("created=%d duplicates=%d, want 1 and %d", created, dup, n-1)
	}

	kind := core.KindExpense
	list, err := s.ListCategories(ctx, u.ID, &kind)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one stored category, got %+v", list)
	}
}

func testCategoryOwnership(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	c := mustCategory(t, s, alice.ID, "Food", core.KindExpense)

	if _, err := s.FindCategory(ctx, c.ID, bob.ID); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := s.FindCategory(ctx, c.ID+100, alice.ID); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
	c.UserID = bob.ID
	if _, err := s.UpdateCategory(ctx, c); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on update, got %v", err)
	}
	if _, err := s.DeleteCategory(ctx, c.ID, bob.ID); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on delete, got %v", err)
	}
}

func testCategoryRename(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")
	c := mustCategory(t, s, u.ID, "Food", core.KindExpense)
	tx := mustTransaction(t, s, core.Transaction{UserID: u.ID, CategoryID: idOf(c), Kind: core.KindExpense, Amount: core.Money{Cents: 500}, Date: day(3)})
	if tx.CategoryName != "Food" || tx.CategoryColor != "#112233" {
		t.Fatalf("display cache not filled: %+v", tx)
	}

	c.Name, c.Color = "Groceries", "#00ff00"
	if _, err := s.UpdateCategory(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindTransaction(ctx, tx.ID, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CategoryName != "Groceries" || got.CategoryColor != "#00ff00" {
		t.Fatalf("display cache not re-synced: %+v", got)
	}
}

func testCategoryDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")
	food := mustCategory(t, s, u.ID, "Food", core.KindExpense)
	rent := mustCategory(t, s, u.ID, "Rent", core.KindExpense)

	const n = 3
	for i := range n {
		mustTransaction(t, s, core.Transaction{UserID: u.ID, CategoryID: idOf(food), Kind: core.KindExpense, Amount: core.Money{Cents: int64(100 * (i + 1))}, Date: day(i + 1)})
	}
	kept := mustTransaction(t, s, core.Transaction{UserID: u.ID, CategoryID: idOf(rent), Kind: core.KindExpense, Amount: core.Money{Cents: 900}, Date: day(5)})

	cleared, err := s.DeleteCategory(ctx, food.ID, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cleared != n {
		t.Fatalf("cleared %d transactions, want %d", cleared, n)
	}
	if _, err := s.FindCategory(ctx, food.ID, u.ID); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("category still present: %v", err)
	}

	txs, err := s.ListTransactions(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	uncategorized := 0
	for _, tx := range txs {
		if tx.ID == kept.ID {
			if tx.CategoryID == nil || *tx.CategoryID != rent.ID {
				t.Fatalf("unrelated transaction touched: %+v", tx)
			}
			continue
		}
		if tx.CategoryID != nil || tx.CategoryName != core.UncategorizedName || tx.CategoryColor != core.UncategorizedColor {
			t.Fatalf("transaction not reset: %+v", tx)
		}
		uncategorized++
	}
	if uncategorized != n {
		t.Fatalf("%d uncategorized transactions, want %d", uncategorized, n)
	}
}

func testTransactionCategoryRules(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	salary := mustCategory(t, s, alice.ID, "Salary", core.KindIncome)
	bobs := mustCategory(t, s, bob.ID, "Food", core.KindExpense)

	base := core.Transaction{UserID: alice.ID, Kind: core.KindExpense, Amount: core.Money{Cents: 100}, Date: day(2)}

	tx := base
	tx.CategoryID = idOf(bobs)
	if _, err := s.CreateTransaction(ctx, tx); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	tx = base
	tx.CategoryID = idOf(salary)
	if _, err := s.CreateTransaction(ctx, tx); !errors.Is(err, core.ErrCategoryKindMismatch) {
		t.Fatalf("expected ErrCategoryKindMismatch, got %v", err)
	}

	tx = base
	missing := int64(9999)
	tx.CategoryID = &missing
	if _, err := s.CreateTransaction(ctx, tx); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}

	got := mustTransaction(t, s, base)
	if got.CategoryID != nil || got.CategoryName != core.UncategorizedName {
		t.Fatalf("expected uncategorized, got %+v", got)
	}

	txs, _ := s.ListTransactions(ctx, alice.ID)
	if len(txs) != 1 {
		t.Fatalf("rejected writes left %d transactions", len(txs))
	}
}

func testTransactionLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	food := mustCategory(t, s, alice.ID, "Food", core.KindExpense)

	tx := mustTransaction(t, s, core.Transaction{UserID: alice.ID, Kind: core.KindExpense, Amount: core.Money{Cents: 1999}, Description: "lunch", Date: day(4)})
	if tx.ID == 0 || tx.CreatedAt.IsZero() {
		t.Fatalf("expected id and creation time, got %+v", tx)
	}

	edit := tx
	edit.Amount = core.Money{Cents: 2500}
	edit.Description = "dinner"
	edit.Date = day(6)
	edit.CategoryID = idOf(food)
	updated, err := s.UpdateTransaction(ctx, edit)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.CreatedAt.Equal(tx.CreatedAt) {
		t.Fatalf("creation time changed: %v -> %v", tx.CreatedAt, updated.CreatedAt)
	}
	got, err := s.FindTransaction(ctx, tx.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Amount.Cents != 2500 || got.Description != "dinner" || !got.Date.Equal(day(6)) || got.CategoryName != "Food" {
		t.Fatalf("update not persisted: %+v", got)
	}

	if _, err := s.FindTransaction(ctx, tx.ID, bob.ID); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := s.DeleteTransaction(ctx, tx.ID, bob.ID); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := s.DeleteTransaction(ctx, tx.ID, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindTransaction(ctx, tx.ID, alice.ID); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	edit.ID = tx.ID
	if _, err := s.UpdateTransaction(ctx, edit); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound on update, got %v", err)
	}
}

func testHistoryOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")
	first := mustTransaction(t, s, core.Transaction{UserID: u.ID, Kind: core.KindIncome, Amount: core.Money{Cents: 1}, Date: day(5)})
	older := mustTransaction(t, s, core.Transaction{UserID: u.ID, Kind: core.KindIncome, Amount: core.Money{Cents: 2}, Date: day(1)})
	second := mustTransaction(t, s, core.Transaction{UserID: u.ID, Kind: core.KindIncome, Amount: core.Money{Cents: 3}, Date: day(5)})

	txs, err := s.ListTransactions(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{second.ID, first.ID, older.ID}
	for i, id := range want {
		if txs[i].ID != id {
			t.Fatalf("position %d: got id %d, want %d", i, txs[i].ID, id)
		}
	}
}

func testDeleteUser(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	c := mustCategory(t, s, alice.ID, "Food", core.KindExpense)
	mustTransaction(t, s, core.Transaction{UserID: alice.ID, CategoryID: idOf(c), Kind: core.KindExpense, Amount: core.Money{Cents: 1}, Date: day(1)})
	bc := mustCategory(t, s, bob.ID, "Food", core.KindExpense)
	mustTransaction(t, s, core.Transaction{UserID: bob.ID, CategoryID: idOf(bc), Kind: core.KindExpense, Amount: core.Money{Cents: 1}, Date: day(1)})

	if err := s.DeleteUser(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindUser(ctx, alice.ID); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	if cats, _ := s.ListCategories(ctx, alice.ID, nil); len(cats) != 0 {
		t.Fatalf("categories left: %+v", cats)
	}
	if txs, _ := s.ListTransactions(ctx, alice.ID); len(txs) != 0 {
		t.Fatalf("transactions left: %+v", txs)
	}
	if txs, _ := s.ListTransactions(ctx, bob.ID); len(txs) != 1 {
		t.Fatalf("other user affected: %+v", txs)
	}
	if err := s.DeleteUser(ctx, alice.ID); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func testSummary(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := mustUser(t, s, "alice")
	mustTransaction(t, s, core.Transaction{UserID: u.ID, Kind: core.KindIncome, Amount: core.Money{Cents: 100000}, Date: day(5)})
	mustTransaction(t, s, core.Transaction{UserID: u.ID, Kind: core.KindExpense, Amount: core.Money{Cents: 20050}, Date: day(6)})

	sum, err := s.Summary(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalIncome.Cents != 100000 || sum.TotalExpense.Cents != 20050 || sum.TransactionCount != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Balance().String() != "799.50" || sum.Username != "alice" {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
