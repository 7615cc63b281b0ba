package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/report"
	"fintrack/internal/storage"
)

// EventPublisher is satisfied by *amqp.Client.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// LedgerService validates ledger input, applies the category and
// transaction rules through the record store and publishes change events.
type LedgerService struct {
	store  storage.Store
	events EventPublisher
	loc    *time.Location
	now    func() time.Time
}

// NewLedgerService builds the service. events may be nil; loc is the time
// zone used for user-supplied dates and period boundaries.
func NewLedgerService(store storage.Store, events EventPublisher, loc *time.Location) *LedgerService {
	if loc == nil {
		loc = time.Local
	}
	return &LedgerService{store: store, events: events, loc: loc, now: time.Now}
}

// Location is the time zone the service resolves dates in.
func (s *LedgerService) Location() *time.Location { return s.loc }

// TransactionInput carries raw form values.
type TransactionInput struct {
	Kind        string
	Amount      string
	Description string
	Date        string
	// CategoryID is empty for an uncategorized transaction.
	CategoryID string
}

type CategoryInput struct {
	Name  string
	Kind  string
	Color string
}

// HistoryPage is one page of a user's transactions in history order.
type HistoryPage struct {
	Transactions []core.Transaction
	Page         int
	PageSize     int
	Total        int
}

func (p HistoryPage) Pages() int {
	if p.PageSize <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

func (p HistoryPage) HasNext() bool { return p.Page < p.Pages() }

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ParseCategoryRef converts a form value into a category reference. Blank
// means no category.
func ParseCategoryRef(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return nil, fmt.Errorf("%w: %q", core.ErrCategoryNotFound, s)
	}
	return &id, nil
}

func (s *LedgerService) buildTransaction(userID int64, in TransactionInput) (core.Transaction, error) {
	kind, err := core.ParseKind(in.Kind)
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := core.ParseMoney(in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := core.ParseDate(in.Date, s.loc)
	if err != nil {
		return core.Transaction{}, err
	}
	catID, err := ParseCategoryRef(in.CategoryID)
	if err != nil {
		return core.Transaction{}, err
	}
	t := core.Transaction{
		UserID:      userID,
		CategoryID:  catID,
		Kind:        kind,
		Amount:      amount,
		Description: strings.TrimSpace(in.Description),
		Date:        date,
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// AddTransaction creates a transaction for userID.
func (s *LedgerService) AddTransaction(ctx context.Context, userID int64, in TransactionInput) (core.Transaction, error) {
	t, err := s.buildTransaction(userID, in)
	if err != nil {
		return core.Transaction{}, err
	}
	created, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("add transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction created",
		"user_id", userID, "transaction_id", created.ID, "kind", created.Kind, "amount", created.Amount.String())
	s.publish(ctx, amqp.NewTransactionEvent(amqp.OpCreated, created))
	return created, nil
}

// EditTransaction replaces every editable field of transaction id.
func (s *LedgerService) EditTransaction(ctx context.Context, userID, id int64, in TransactionInput) (core.Transaction, error) {
	t, err := s.buildTransaction(userID, in)
	if err != nil {
		return core.Transaction{}, err
	}
	t.ID = id
	updated, err := s.store.UpdateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("edit transaction %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Transaction updated", "user_id", userID, "transaction_id", id)
	s.publish(ctx, amqp.NewTransactionEvent(amqp.OpUpdated, updated))
	return updated, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id int64) error {
	existing, err := s.store.FindTransaction(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	if err := s.store.DeleteTransaction(ctx, id, userID); err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Transaction deleted", "user_id", userID, "transaction_id", id)
	s.publish(ctx, amqp.NewTransactionEvent(amqp.OpDeleted, existing))
	return nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, userID, id int64) (core.Transaction, error) {
	return s.store.FindTransaction(ctx, id, userID)
}

// History returns page (1-based) of the user's transactions.
func (s *LedgerService) History(ctx context.Context, userID int64, page, pageSize int) (HistoryPage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)
	page = max(page, 1)

	all, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list transactions: %w", err)
	}
	start := min((page-1)*pageSize, len(all))
	end := min(start+pageSize, len(all))
	return HistoryPage{
		Transactions: all[start:end],
		Page:         page,
		PageSize:     pageSize,
		Total:        len(all),
	}, nil
}

func (s *LedgerService) buildCategory(userID int64, in CategoryInput) (core.Category, error) {
	kind, err := core.ParseKind(in.Kind)
	if err != nil {
		return core.Category{}, err
	}
	c := core.Category{
		UserID: userID,
		Name:   core.NormalizeName(in.Name),
		Kind:   kind,
		Color:  strings.TrimSpace(in.Color),
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (s *LedgerService) AddCategory(ctx context.Context, userID int64, in CategoryInput) (core.Category, error) {
	c, err := s.buildCategory(userID, in)
	if err != nil {
		return core.Category{}, err
	}
	created, err := s.store.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("add category: %w", err)
	}
	slog.InfoContext(ctx, "Category created", "user_id", userID, "category_id", created.ID, "kind", created.Kind)
	s.publish(ctx, amqp.NewCategoryEvent(amqp.OpCreated, created, 0))
	return created, nil
}

// EditCategory renames, recolours or re-kinds a category. Referencing
// transactions pick up the new name and colour in the same write.
func (s *LedgerService) EditCategory(ctx context.Context, userID, id int64, in CategoryInput) (core.Category, error) {
	c, err := s.buildCategory(userID, in)
	if err != nil {
		return core.Category{}, err
	}
	c.ID = id
	updated, err := s.store.UpdateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("edit category %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Category updated", "user_id", userID, "category_id", id)
	s.publish(ctx, amqp.NewCategoryEvent(amqp.OpUpdated, updated, 0))
	return updated, nil
}

// DeleteCategory removes the category and returns how many transactions
// were moved to Uncategorized.
func (s *LedgerService) DeleteCategory(ctx context.Context, userID, id int64) (int, error) {
	existing, err := s.store.FindCategory(ctx, id, userID)
	if err != nil {
		return 0, fmt.Errorf("delete category %d: %w", id, err)
	}
	cleared, err := s.store.DeleteCategory(ctx, id, userID)
	if err != nil {
		return 0, fmt.Errorf("delete category %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Category deleted", "user_id", userID, "category_id", id, "cleared", cleared)
	s.publish(ctx, amqp.NewCategoryEvent(amqp.OpDeleted, existing, cleared))
	return cleared, nil
}

func (s *LedgerService) GetCategory(ctx context.Context, userID, id int64) (core.Category, error) {
	return s.store.FindCategory(ctx, id, userID)
}

// Categories lists the user's categories; kind may be empty for all.
func (s *LedgerService) Categories(ctx context.Context, userID int64, kind string) ([]core.Category, error) {
	var k *core.Kind
	if strings.TrimSpace(kind) != "" {
		parsed, err := core.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		k = &parsed
	}
	return s.store.ListCategories(ctx, userID, k)
}

// ReportRequest holds raw query values; blanks fall back to month, expense
// and category mode.
type ReportRequest struct {
	Period string
	Type   string
	Mode   string
}

// Report resolves the period at the current time and aggregates the user's
// transactions.
func (s *LedgerService) Report(ctx context.Context, userID int64, req ReportRequest) (report.Result, error) {
	period, filter, mode, err := parseReportRequest(req)
	if err != nil {
		return report.Result{}, err
	}
	window, err := report.Resolve(period, s.now().In(s.loc))
	if err != nil {
		return report.Result{}, err
	}

	var (
		txs  []core.Transaction
		cats []core.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = s.store.ListTransactions(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = s.store.ListCategories(gctx, userID, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return report.Result{}, fmt.Errorf("load report data: %w", err)
	}

	res, err := report.Aggregate(ctx, report.Input{
		Transactions: txs,
		Categories:   cats,
		Window:       window,
		Type:         filter,
		Mode:         mode,
	})
	if err != nil {
		return report.Result{}, err
	}
	slog.DebugContext(ctx, "Report computed",
		"user_id", userID, "period", period, "type", filter, "mode", mode, "count", res.Count)
	return res, nil
}

func parseReportRequest(req ReportRequest) (report.Period, core.TypeFilter, report.Mode, error) {
	periodRaw := strings.TrimSpace(req.Period)
	if periodRaw == "" {
		periodRaw = string(report.PeriodMonth)
	}
	period, err := report.ParsePeriod(periodRaw)
	if err != nil {
		return "", "", "", err
	}

	typeRaw := strings.TrimSpace(req.Type)
	if typeRaw == "" {
		typeRaw = string(core.FilterExpense)
	}
	filter, err := core.ParseTypeFilter(typeRaw)
	if err != nil {
		return "", "", "", err
	}

	modeRaw := strings.TrimSpace(req.Mode)
	if modeRaw == "" {
		modeRaw = string(report.ModeCategory)
	}
	mode, err := report.ParseMode(modeRaw)
	if err != nil {
		return "", "", "", err
	}
	return period, filter, mode, nil
}

// Summary returns the all-time totals shown on the dashboard and the
// account page.
func (s *LedgerService) Summary(ctx context.Context, userID int64) (core.AccountSummary, error) {
	sum, err := s.store.Summary(ctx, userID)
	if err != nil {
		return core.AccountSummary{}, fmt.Errorf("account summary: %w", err)
	}
	return sum, nil
}

// publish sends ev when a publisher is configured. Failures are logged; the
// ledger write has already been committed.
func (s *LedgerService) publish(ctx context.Context, ev *amqp.LedgerEvent) {
	if s.events == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping ledger event", "type", ev.RoutingKey())
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, ev); err != nil {
		level := slog.LevelError
		if errors.Is(err, amqp.ErrCircuitOpen) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "Failed to publish ledger event",
			"event_id", ev.ID, "type", ev.RoutingKey(), "error", err)
	}
}

// Ping checks the record store.
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
