// Package jsonfile is a record store kept in a single JSON document.
//
// The document is loaded once at startup. Every write copies the state,
// applies the change, persists the copy with write-to-temp-then-rename and
// only then swaps it in, all under one lock. A failed save leaves both the
// file and the in-memory state untouched.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

type Store struct {
	mu   sync.RWMutex
	path string
	opts storage.Options
	doc  *document
	now  func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open loads the document at path. A missing file starts an empty store;
// the file is created on the first write.
func Open(path string, opts storage.Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &Store{path: path, opts: opts, doc: newDocument(), now: time.Now}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("Data file not found, starting empty", "path", path)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read data file: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, s.doc); err != nil {
		return nil, fmt.Errorf("decode data file %s: %w", path, err)
	}
	s.doc.reindex()
	slog.Info("Data file loaded", "path", path,
		"users", len(s.doc.Users), "categories", len(s.doc.Categories), "transactions", len(s.doc.Transactions))
	return s, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

// mutate applies fn to a copy of the document and commits it only if it
// was persisted.
func (s *Store) mutate(op string, fn func(d *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return fmt.Errorf("%s: %w: %v", op, core.ErrStoreWrite, err)
	}
	s.doc = next
	return nil
}

func (s *Store) save(d *document) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *Store) read() *document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Users

func (s *Store) FindUser(_ context.Context, id int64) (core.User, error) {
	d := s.read()
	if i := d.userIndex(id); i >= 0 {
		return d.Users[i].toCore(), nil
	}
	return core.User{}, core.ErrUserNotFound
}

func (s *Store) FindUserByName(_ context.Context, username string) (core.User, error) {
	d := s.read()
	for _, u := range d.Users {
		if u.Username == username {
			return u.toCore(), nil
		}
	}
	return core.User{}, core.ErrUserNotFound
}

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	err := s.mutate("create user", func(d *document) error {
		for _, existing := range d.Users {
			if existing.Username == u.Username {
				return core.ErrDuplicateUsername
			}
		}
		d.NextUserID++
		u.ID = d.NextUserID
		u.CreatedAt = s.now().UTC()
		d.Users = append(d.Users, userFromCore(u))
		return nil
	})
	if err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	return s.mutate("delete user", func(d *document) error {
		i := d.userIndex(id)
		if i < 0 {
			return core.ErrUserNotFound
		}
		d.Users = slices.Delete(d.Users, i, i+1)
		d.Categories = slices.DeleteFunc(d.Categories, func(c categoryRecord) bool { return c.UserID == id })
		d.Transactions = slices.DeleteFunc(d.Transactions, func(t transactionRecord) bool { return t.UserID == id })
		return nil
	})
}

// Categories

func (s *Store) ListCategories(_ context.Context, userID int64, kind *core.Kind) ([]core.Category, error) {
	d := s.read()
	out := []core.Category{}
	for _, c := range d.Categories {
		if c.UserID != userID || (kind != nil && core.Kind(c.Kind) != *kind) {
			continue
		}
		out = append(out, c.toCore())
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := core.NameKey(out[i].Name), core.NameKey(out[j].Name)
		if ki != kj {
			return ki < kj
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) FindCategory(_ context.Context, id, userID int64) (core.Category, error) {
	c, _, err := s.read().category(id, userID)
	return c, err
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	c.Name = core.NormalizeName(c.Name)
	err := s.mutate("create category", func(d *document) error {
		c.ID = 0
		if d.hasDuplicate(c) {
			return fmt.Errorf("%w: %s %q", core.ErrDuplicateCategory, c.Kind, c.Name)
		}
		d.NextCategoryID++
		c.ID = d.NextCategoryID
		c.CreatedAt = s.now().UTC()
		d.Categories = append(d.Categories, categoryFromCore(c))
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c core.Category) (core.Category, error) {
	c.Name = core.NormalizeName(c.Name)
	err := s.mutate("update category", func(d *document) error {
		existing, i, err := d.category(c.ID, c.UserID)
		if err != nil {
			return err
		}
		if d.hasDuplicate(c) {
			return fmt.Errorf("%w: %s %q", core.ErrDuplicateCategory, c.Kind, c.Name)
		}
		c.CreatedAt = existing.CreatedAt
		d.Categories[i] = categoryFromCore(c)
		for j := range d.Transactions {
			t := &d.Transactions[j]
			if t.CategoryID != nil && *t.CategoryID == c.ID {
				t.CategoryName, t.CategoryColor = c.Name, c.Color
			}
		}
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (s *Store) DeleteCategory(_ context.Context, id, userID int64) (int, error) {
	cleared := 0
	err := s.mutate("delete category", func(d *document) error {
		_, i, err := d.category(id, userID)
		if err != nil {
			return err
		}
		for j := range d.Transactions {
			t := &d.Transactions[j]
			if t.CategoryID != nil && *t.CategoryID == id {
				t.CategoryID = nil
				t.CategoryName, t.CategoryColor = core.UncategorizedName, core.UncategorizedColor
				cleared++
			}
		}
		d.Categories = slices.Delete(d.Categories, i, i+1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// Transactions

func (s *Store) ListTransactions(_ context.Context, userID int64) ([]core.Transaction, error) {
	d := s.read()
	out := []core.Transaction{}
	for _, t := range d.Transactions {
		if t.UserID == userID {
			out = append(out, t.toCore())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) FindTransaction(_ context.Context, id, userID int64) (core.Transaction, error) {
	t, _, err := s.read().transaction(id, userID)
	return t, err
}

func (d *document) resolveCategory(opts storage.Options, t *core.Transaction) error {
	if t.CategoryID == nil {
		t.ApplyCategory(nil)
		return nil
	}
	c, _, err := d.category(*t.CategoryID, t.UserID)
	if err != nil {
		return err
	}
	if err := opts.CheckCategory(c, t.UserID, t.Kind); err != nil {
		return err
	}
	t.ApplyCategory(&c)
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	err := s.mutate("create transaction", func(d *document) error {
		if err := d.resolveCategory(s.opts, &t); err != nil {
			return err
		}
		d.NextTransactionID++
		t.ID = d.NextTransactionID
		t.CreatedAt = s.now().UTC()
		d.Transactions = append(d.Transactions, transactionFromCore(t))
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	err := s.mutate("update transaction", func(d *document) error {
		existing, i, err := d.transaction(t.ID, t.UserID)
		if err != nil {
			return err
		}
		if err := d.resolveCategory(s.opts, &t); err != nil {
			return err
		}
		t.CreatedAt = existing.CreatedAt
		d.Transactions[i] = transactionFromCore(t)
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id, userID int64) error {
	return s.mutate("delete transaction", func(d *document) error {
		_, i, err := d.transaction(id, userID)
		if err != nil {
			return err
		}
		d.Transactions = slices.Delete(d.Transactions, i, i+1)
		return nil
	})
}

func (s *Store) Summary(_ context.Context, userID int64) (core.AccountSummary, error) {
	d := s.read()
	i := d.userIndex(userID)
	if i < 0 {
		return core.AccountSummary{}, core.ErrUserNotFound
	}
	sum := core.AccountSummary{Username: d.Users[i].Username, MemberSince: d.Users[i].CreatedAt}
	for _, t := range d.Transactions {
		if t.UserID != userID {
			continue
		}
		sum.TransactionCount++
		if core.Kind(t.Kind) == core.KindIncome {
			sum.TotalIncome = sum.TotalIncome.Add(t.Amount)
		} else {
			sum.TotalExpense = sum.TotalExpense.Add(t.Amount)
		}
	}
	return sum, nil
}
