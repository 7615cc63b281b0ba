package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

const (
	FilterIncome  TypeFilter = "income"
	FilterExpense TypeFilter = "expense"
	FilterBoth    TypeFilter = "both"
)

// Display values used for transactions without a live category.
const (
	UncategorizedName  = "Uncategorized"
	UncategorizedColor = "#CCCCCC"
)

// DateLayout is the accepted layout for user supplied transaction dates.
const DateLayout = "2006-01-02"

type (
	// Kind is the direction of money flow for a category or transaction.
	Kind string

	// TypeFilter selects which kinds take part in a report.
	TypeFilter string

	User struct {
		ID           int64
		Username     string
		PasswordHash string
		CreatedAt    time.Time
	}

	Category struct {
		ID        int64
		UserID    int64
		Name      string
		Kind      Kind
		Color     string
		CreatedAt time.Time
	}

	// Transaction is a single income or expense entry.
	//
	// CategoryName and CategoryColor are a display cache of the referenced
	// category. They are written only by the store, together with the write
	// that changes the reference or the category itself.
	Transaction struct {
		ID            int64
		UserID        int64
		CategoryID    *int64
		Kind          Kind
		Amount        Money
		Description   string
		Date          time.Time
		CreatedAt     time.Time
		CategoryName  string
		CategoryColor string
	}
)

var (
	ErrDuplicateCategory    = errors.New("duplicate category")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrUnauthorized         = errors.New("record belongs to another user")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDate          = errors.New("invalid date")
	ErrStoreWrite           = errors.New("store write failed")
	ErrInvalidKind          = errors.New("invalid kind")
	ErrInvalidTypeFilter    = errors.New("invalid type filter")
	ErrInvalidPeriod        = errors.New("invalid period")
	ErrInvalidMode          = errors.New("invalid mode")
	ErrEmptyName            = errors.New("empty name")
	ErrReservedName         = errors.New("reserved category name")
	ErrInvalidColor         = errors.New("invalid color")
	ErrCategoryKindMismatch = errors.New("category kind does not match transaction kind")
	ErrDuplicateUsername    = errors.New("username already exists")
	ErrInvalidCredentials   = errors.New("invalid username or password")
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindIncome, KindExpense:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k Kind) Validate() error {
	if k != KindIncome && k != KindExpense {
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
	}
	return nil
}

// Title returns the kind with an upper-case first letter, e.g. "Expense".
func (k Kind) Title() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

func ParseTypeFilter(s string) (TypeFilter, error) {
	switch f := TypeFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterIncome, FilterExpense, FilterBoth:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTypeFilter, s)
}

// Matches reports whether a transaction of kind k passes the filter.
func (f TypeFilter) Matches(k Kind) bool {
	return f == FilterBoth || Kind(f) == k
}

// Signed returns the amount as it contributes to a report under filter f.
// Under "both" income counts positively and expense negatively; otherwise
// the magnitude is used.
func (f TypeFilter) Signed(k Kind, m Money) Money {
	if f == FilterBoth && k == KindExpense {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (f TypeFilter) Title() string {
	return Kind(f).Title()
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// NormalizeName trims surrounding whitespace; comparison keys use NameKey.
func NormalizeName(s string) string {
	return strings.TrimSpace(s)
}

// NameKey is the case-insensitive comparison key for category names.
func NameKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (c Category) Validate() error {
	if NormalizeName(c.Name) == "" {
		return ErrEmptyName
	}
	if NameKey(c.Name) == NameKey(UncategorizedName) {
		return fmt.Errorf("%w: %q", ErrReservedName, c.Name)
	}
	if len(c.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	if !colorPattern.MatchString(c.Color) {
		return fmt.Errorf("%w: %q", ErrInvalidColor, c.Color)
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

// ApplyCategory refreshes the display cache from c, or resets it to
// Uncategorized when c is nil.
func (t *Transaction) ApplyCategory(c *Category) {
	if c == nil {
		t.CategoryID = nil
		t.CategoryName = UncategorizedName
		t.CategoryColor = UncategorizedColor
		return
	}
	id := c.ID
	t.CategoryID = &id
	t.CategoryName = c.Name
	t.CategoryColor = c.Color
}

// HasCategory reports whether the transaction references a category.
func (t Transaction) HasCategory() bool {
	return t.CategoryID != nil
}

// Before reports whether t sorts before o in history order: date desc,
// then creation desc, then id desc.
func (t Transaction) Before(o Transaction) bool {
	if !t.Date.Equal(o.Date) {
		return t.Date.After(o.Date)
	}
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.After(o.CreatedAt)
	}
	return t.ID > o.ID
}

func (u User) Validate() error {
	name := strings.TrimSpace(u.Username)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 80 {
		return errors.New("username too long (max 80 characters)")
	}
	return nil
}
