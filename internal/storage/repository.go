package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fintrack/internal/core"
)

// SQLRepository is the relational record store. It runs on SQLite through
// modernc.org/sqlite or on PostgreSQL through the pgx stdlib driver; every
// write is a single database transaction.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	now     func() time.Time
}

var _ Store = (*SQLRepository)(nil)

// NewSQLiteRepository opens (creating if needed) the database file at dbPath
// and applies migrations.
func NewSQLiteRepository(dbPath string, opts Options) (*SQLRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	r, err := open(DialectSQLite, dsn, opts)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps transactions from
	// tripping over SQLITE_BUSY.
	r.db.SetMaxOpenConns(1)
	return r, nil
}

// NewPostgresRepository connects to databaseURL and applies migrations.
func NewPostgresRepository(databaseURL string, opts Options) (*SQLRepository, error) {
	r, err := open(DialectPostgres, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	r.db.SetMaxOpenConns(10)
	r.db.SetConnMaxIdleTime(5 * time.Minute)
	return r, nil
}

func open(d Dialect, dsn string, opts Options) (*SQLRepository, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLRepository{db: db, dialect: d, opts: opts, now: time.Now}, nil
}

func (r *SQLRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// withTx runs fn in a transaction. Domain errors from fn pass through
// unchanged; anything else is reported as core.ErrStoreWrite.
func (r *SQLRepository) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, core.ErrStoreWrite, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "operation", op, "error", rbErr)
		}
		if isDomainError(err) {
			return err
		}
		return fmt.Errorf("%s: %w: %v", op, core.ErrStoreWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, core.ErrStoreWrite, err)
	}
	return nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		core.ErrDuplicateCategory,
		core.ErrDuplicateUsername,
		core.ErrCategoryNotFound,
		core.ErrTransactionNotFound,
		core.ErrUserNotFound,
		core.ErrUnauthorized,
		core.ErrCategoryKindMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Users

const userColumns = `id, username, password_hash, created_at`

func scanUser(s rowScanner) (core.User, error) {
	var u core.User
	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (r *SQLRepository) FindUser(ctx context.Context, id int64) (core.User, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (r *SQLRepository) FindUserByName(ctx context.Context, username string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find user by name: %w", err)
	}
	return u, nil
}

func (r *SQLRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.CreatedAt = r.now().UTC()
	err := r.withTx(ctx, "create user", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			r.dialect.rebind(`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) RETURNING id`),
			u.Username, u.PasswordHash, u.CreatedAt,
		).Scan(&u.ID)
		if isUniqueViolation(err) {
			return core.ErrDuplicateUsername
		}
		return err
	})
	if err != nil {
		return core.User{}, err
	}
	slog.InfoContext(ctx, "User created", "user_id", u.ID)
	return u, nil
}

func (r *SQLRepository) DeleteUser(ctx context.Context, id int64) error {
	return r.withTx(ctx, "delete user", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM transactions WHERE user_id = ?`), id)
		if err != nil {
			return err
		}
		txCount, _ := res.RowsAffected()
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM categories WHERE user_id = ?`), id); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM users WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrUserNotFound
		}
		slog.InfoContext(ctx, "User deleted", "user_id", id, "transactions", txCount)
		return nil
	})
}

// Categories

const categoryColumns = `id, user_id, name, kind, color, created_at`

func scanCategory(s rowScanner) (core.Category, error) {
	var (
		c    core.Category
		kind string
	)
	if err := s.Scan(&c.ID, &c.UserID, &c.Name, &kind, &c.Color, &c.CreatedAt); err != nil {
		return core.Category{}, err
	}
	c.Kind = core.Kind(kind)
	return c, nil
}

func (r *SQLRepository) ListCategories(ctx context.Context, userID int64, kind *core.Kind) ([]core.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE user_id = ?`
	args := []any{userID}
	if kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*kind))
	}
	query += ` ORDER BY name_key, kind, id`

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := []core.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) FindCategory(ctx context.Context, id, userID int64) (core.Category, error) {
	return r.findCategory(ctx, r.db, id, userID)
}

func (r *SQLRepository) findCategory(ctx context.Context, q querier, id, userID int64) (core.Category, error) {
	c, err := scanCategory(q.QueryRowContext(ctx, r.dialect.rebind(`SELECT `+categoryColumns+` FROM categories WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.ErrCategoryNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("find category: %w", err)
	}
	if c.UserID != userID {
		return core.Category{}, core.ErrUnauthorized
	}
	return c, nil
}

// checkDuplicate must run inside the same transaction as the write it guards.
func (r *SQLRepository) checkDuplicate(ctx context.Context, tx *sql.Tx, c core.Category) error {
	var n int
	err := tx.QueryRowContext(ctx,
		r.dialect.rebind(`SELECT COUNT(*) FROM categories WHERE user_id = ? AND name_key = ? AND kind = ? AND id <> ?`),
		c.UserID, core.NameKey(c.Name), string(c.Kind), c.ID,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s %q", core.ErrDuplicateCategory, c.Kind, c.Name)
	}
	return nil
}

func (r *SQLRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	c.ID = 0
	c.Name = core.NormalizeName(c.Name)
	c.CreatedAt = r.now().UTC()
	err := r.withTx(ctx, "create category", func(tx *sql.Tx) error {
		if err := r.checkDuplicate(ctx, tx, c); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx,
			r.dialect.rebind(`INSERT INTO categories (user_id, name, name_key, kind, color, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			c.UserID, c.Name, core.NameKey(c.Name), string(c.Kind), c.Color, c.CreatedAt,
		).Scan(&c.ID)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %q", core.ErrDuplicateCategory, c.Kind, c.Name)
		}
		return err
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (r *SQLRepository) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	c.Name = core.NormalizeName(c.Name)
	err := r.withTx(ctx, "update category", func(tx *sql.Tx) error {
		existing, err := r.findCategory(ctx, tx, c.ID, c.UserID)
		if err != nil {
			return err
		}
		c.CreatedAt = existing.CreatedAt
		if err := r.checkDuplicate(ctx, tx, c); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			r.dialect.rebind(`UPDATE categories SET name = ?, name_key = ?, kind = ?, color = ? WHERE id = ?`),
			c.Name, core.NameKey(c.Name), string(c.Kind), c.Color, c.ID,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %q", core.ErrDuplicateCategory, c.Kind, c.Name)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			r.dialect.rebind(`UPDATE transactions SET category_name = ?, category_color = ? WHERE category_id = ?`),
			c.Name, c.Color, c.ID,
		)
		return err
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (r *SQLRepository) DeleteCategory(ctx context.Context, id, userID int64) (int, error) {
	var cleared int64
	err := r.withTx(ctx, "delete category", func(tx *sql.Tx) error {
		if _, err := r.findCategory(ctx, tx, id, userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			r.dialect.rebind(`UPDATE transactions SET category_id = NULL, category_name = ?, category_color = ? WHERE category_id = ?`),
			core.UncategorizedName, core.UncategorizedColor, id,
		)
		if err != nil {
			return err
		}
		if cleared, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM categories WHERE id = ?`), id)
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Category deleted", "category_id", id, "cleared_transactions", cleared)
	return int(cleared), nil
}

// Transactions

const transactionColumns = `id, user_id, category_id, kind, amount_cents, description, date, created_at, category_name, category_color`

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		t     core.Transaction
		catID sql.NullInt64
		kind  string
		date  string
	)
	err := s.Scan(&t.ID, &t.UserID, &catID, &kind, &t.Amount.Cents, &t.Description, &date, &t.CreatedAt, &t.CategoryName, &t.CategoryColor)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Kind = core.Kind(kind)
	if catID.Valid {
		id := catID.Int64
		t.CategoryID = &id
	}
	// A malformed stored date is left zero; reporting skips such rows.
	if d, err := time.Parse(core.DateLayout, date); err == nil {
		t.Date = d
	}
	return t, nil
}

func (r *SQLRepository) ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		r.dialect.rebind(`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY date DESC, created_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLRepository) FindTransaction(ctx context.Context, id, userID int64) (core.Transaction, error) {
	return r.findTransaction(ctx, r.db, id, userID)
}

func (r *SQLRepository) findTransaction(ctx context.Context, q querier, id, userID int64) (core.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, r.dialect.rebind(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("find transaction: %w", err)
	}
	if t.UserID != userID {
		return core.Transaction{}, core.ErrUnauthorized
	}
	return t, nil
}

// resolveCategory refreshes t's display cache from the referenced category
// inside tx.
func (r *SQLRepository) resolveCategory(ctx context.Context, tx *sql.Tx, t *core.Transaction) error {
	if t.CategoryID == nil {
		t.ApplyCategory(nil)
		return nil
	}
	c, err := r.findCategory(ctx, tx, *t.CategoryID, t.UserID)
	if err != nil {
		return err
	}
	if err := r.opts.CheckCategory(c, t.UserID, t.Kind); err != nil {
		return err
	}
	t.ApplyCategory(&c)
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (r *SQLRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.ID = 0
	t.CreatedAt = r.now().UTC()
	err := r.withTx(ctx, "create transaction", func(tx *sql.Tx) error {
		if err := r.resolveCategory(ctx, tx, &t); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			r.dialect.rebind(`INSERT INTO transactions (user_id, category_id, kind, amount_cents, description, date, created_at, category_name, category_color)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			t.UserID, nullableID(t.CategoryID), string(t.Kind), t.Amount.Cents, t.Description,
			t.Date.Format(core.DateLayout), t.CreatedAt, t.CategoryName, t.CategoryColor,
		).Scan(&t.ID)
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (r *SQLRepository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	err := r.withTx(ctx, "update transaction", func(tx *sql.Tx) error {
		existing, err := r.findTransaction(ctx, tx, t.ID, t.UserID)
		if err != nil {
			return err
		}
		t.CreatedAt = existing.CreatedAt
		if err := r.resolveCategory(ctx, tx, &t); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			r.dialect.rebind(`UPDATE transactions SET category_id = ?, kind = ?, amount_cents = ?, description = ?, date = ?,
				category_name = ?, category_color = ? WHERE id = ?`),
			nullableID(t.CategoryID), string(t.Kind), t.Amount.Cents, t.Description, t.Date.Format(core.DateLayout),
			t.CategoryName, t.CategoryColor, t.ID,
		)
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (r *SQLRepository) DeleteTransaction(ctx context.Context, id, userID int64) error {
	return r.withTx(ctx, "delete transaction", func(tx *sql.Tx) error {
		if _, err := r.findTransaction(ctx, tx, id, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM transactions WHERE id = ?`), id)
		return err
	})
}

func (r *SQLRepository) Summary(ctx context.Context, userID int64) (core.AccountSummary, error) {
	u, err := r.FindUser(ctx, userID)
	if err != nil {
		return core.AccountSummary{}, err
	}
	s := core.AccountSummary{Username: u.Username, MemberSince: u.CreatedAt}
	err = r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT
			CAST(COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0) AS BIGINT),
			COUNT(*)
		FROM transactions WHERE user_id = ?`), userID,
	).Scan(&s.TotalIncome.Cents, &s.TotalExpense.Cents, &s.TransactionCount)
	if err != nil {
		return core.AccountSummary{}, fmt.Errorf("account summary: %w", err)
	}
	return s, nil
}
