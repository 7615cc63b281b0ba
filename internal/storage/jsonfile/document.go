package jsonfile

import (
	"slices"
	"time"

	"fintrack/internal/core"
)

// document is the on-disk layout.
type document struct {
	NextUserID        int64               `json:"next_user_id"`
	NextCategoryID    int64               `json:"next_category_id"`
	NextTransactionID int64               `json:"next_transaction_id"`
	Users             []userRecord        `json:"users"`
	Categories        []categoryRecord    `json:"categories"`
	Transactions      []transactionRecord `json:"transactions"`
}

type userRecord struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type categoryRecord struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"type"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionRecord struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	CategoryID    *int64     `json:"category_id"`
	Kind          string     `json:"type"`
	Amount        core.Money `json:"amount"`
	Description   string     `json:"description"`
	Date          string     `json:"date"`
	CreatedAt     time.Time  `json:"created_at"`
	CategoryName  string     `json:"category_name"`
	CategoryColor string     `json:"category_color"`
}

func newDocument() *document {
	return &document{
		Users:        []userRecord{},
		Categories:   []categoryRecord{},
		Transactions: []transactionRecord{},
	}
}

func (d *document) clone() *document {
	c := *d
	c.Users = slices.Clone(d.Users)
	c.Categories = slices.Clone(d.Categories)
	c.Transactions = slices.Clone(d.Transactions)
	return &c
}

// reindex repairs id counters of documents written by hand or by older
// versions that did not track them.
func (d *document) reindex() {
	for _, u := range d.Users {
		d.NextUserID = max(d.NextUserID, u.ID)
	}
	for _, c := range d.Categories {
		d.NextCategoryID = max(d.NextCategoryID, c.ID)
	}
	for _, t := range d.Transactions {
		d.NextTransactionID = max(d.NextTransactionID, t.ID)
	}
}

func (d *document) userIndex(id int64) int {
	return slices.IndexFunc(d.Users, func(u userRecord) bool { return u.ID == id })
}

func (d *document) category(id, userID int64) (core.Category, int, error) {
	i := slices.IndexFunc(d.Categories, func(c categoryRecord) bool { return c.ID == id })
	if i < 0 {
		return core.Category{}, -1, core.ErrCategoryNotFound
	}
	if d.Categories[i].UserID != userID {
		return core.Category{}, -1, core.ErrUnauthorized
	}
	return d.Categories[i].toCore(), i, nil
}

func (d *document) transaction(id, userID int64) (core.Transaction, int, error) {
	i := slices.IndexFunc(d.Transactions, func(t transactionRecord) bool { return t.ID == id })
	if i < 0 {
		return core.Transaction{}, -1, core.ErrTransactionNotFound
	}
	if d.Transactions[i].UserID != userID {
		return core.Transaction{}, -1, core.ErrUnauthorized
	}
	return d.Transactions[i].toCore(), i, nil
}

// hasDuplicate reports whether another category of c's owner has the same
// kind and case-insensitive name.
func (d *document) hasDuplicate(c core.Category) bool {
	key := core.NameKey(c.Name)
	return slices.ContainsFunc(d.Categories, func(o categoryRecord) bool {
		return o.ID != c.ID && o.UserID == c.UserID && o.Kind == string(c.Kind) && core.NameKey(o.Name) == key
	})
}

func userFromCore(u core.User) userRecord {
	return userRecord{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt}
}

func (r userRecord) toCore() core.User {
	return core.User{ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}
}

func categoryFromCore(c core.Category) categoryRecord {
	return categoryRecord{ID: c.ID, UserID: c.UserID, Name: c.Name, Kind: string(c.Kind), Color: c.Color, CreatedAt: c.CreatedAt}
}

func (r categoryRecord) toCore() core.Category {
	return core.Category{ID: r.ID, UserID: r.UserID, Name: r.Name, Kind: core.Kind(r.Kind), Color: r.Color, CreatedAt: r.CreatedAt}
}

func transactionFromCore(t core.Transaction) transactionRecord {
	return transactionRecord{
		ID:            t.ID,
		UserID:        t.UserID,
		CategoryID:    copyID(t.CategoryID),
		Kind:          string(t.Kind),
		Amount:        t.Amount,
		Description:   t.Description,
		Date:          t.Date.Format(core.DateLayout),
		CreatedAt:     t.CreatedAt,
		CategoryName:  t.CategoryName,
		CategoryColor: t.CategoryColor,
	}
}

// toCore converts a stored record. An unparsable date is left zero so that
// reporting can log and skip it.
func (r transactionRecord) toCore() core.Transaction {
	t := core.Transaction{
		ID:            r.ID,
		UserID:        r.UserID,
		CategoryID:    copyID(r.CategoryID),
		Kind:          core.Kind(r.Kind),
		Amount:        r.Amount,
		Description:   r.Description,
		CreatedAt:     r.CreatedAt,
		CategoryName:  r.CategoryName,
		CategoryColor: r.CategoryColor,
	}
	if d, err := time.Parse(core.DateLayout, r.Date); err == nil {
		t.Date = d
	}
	if t.CategoryName == "" {
		t.CategoryName, t.CategoryColor = core.UncategorizedName, core.UncategorizedColor
	}
	return t
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
