package storage

import (
	"context"

	"fintrack/internal/core"
)

// Ports implemented by every record store backend.
//
// Lookups scoped by a user return core.ErrUnauthorized when the record
// exists but belongs to someone else, and the matching not-found error when
// it does not exist at all. Each write is atomic: persistence failures are
// wrapped in core.ErrStoreWrite and leave no partial change behind.
type (
	UserStore interface {
		FindUser(ctx context.Context, id int64) (core.User, error)
		FindUserByName(ctx context.Context, username string) (core.User, error)
		// CreateUser fails with core.ErrDuplicateUsername when the name is taken.
		CreateUser(ctx context.Context, u core.User) (core.User, error)
		// DeleteUser removes the user with all owned categories and transactions.
		DeleteUser(ctx context.Context, id int64) error
	}

	CategoryStore interface {
		// ListCategories returns the user's categories ordered by name; kind
		// narrows the result when non-nil.
		ListCategories(ctx context.Context, userID int64, kind *core.Kind) ([]core.Category, error)
		FindCategory(ctx context.Context, id, userID int64) (core.Category, error)
		// CreateCategory rejects a case-insensitive (user, name, kind)
		// duplicate with core.ErrDuplicateCategory.
		CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
		// UpdateCategory applies the same duplicate rule, excluding c itself,
		// and re-syncs the display cache of every referencing transaction.
		UpdateCategory(ctx context.Context, c core.Category) (core.Category, error)
		// DeleteCategory removes the category and resets every referencing
		// transaction to Uncategorized. It returns how many were reset.
		DeleteCategory(ctx context.Context, id, userID int64) (int, error)
	}

	TransactionStore interface {
		// ListTransactions returns the user's transactions in history order.
		ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error)
		FindTransaction(ctx context.Context, id, userID int64) (core.Transaction, error)
		// CreateTransaction and UpdateTransaction resolve t.CategoryID in the
		// same atomic unit as the write and copy its display fields.
		CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id, userID int64) error
		// Summary returns all-time totals for the account page.
		Summary(ctx context.Context, userID int64) (core.AccountSummary, error)
	}

	Store interface {
		UserStore
		CategoryStore
		TransactionStore
		Ping(ctx context.Context) error
		Close() error
	}
)

// Options tunes integrity checks shared by all backends.
type Options struct {
	// StrictCategoryKind rejects a transaction whose category has a
	// different kind with core.ErrCategoryKindMismatch.
	StrictCategoryKind bool
}

// CheckCategory validates that c may be referenced by a transaction of the
// given owner and kind.
func (o Options) CheckCategory(c core.Category, userID int64, kind core.Kind) error {
	if c.UserID != userID {
		return core.ErrUnauthorized
	}
	if o.StrictCategoryKind && c.Kind != kind {
		return core.ErrCategoryKindMismatch
	}
	return nil
}
