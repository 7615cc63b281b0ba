package http

import (
	"time"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

type transactionView struct {
	ID            int64      `json:"id"`
	Type          core.Kind  `json:"type"`
	Amount        core.Money `json:"amount"`
	Description   string     `json:"description"`
	Date          string     `json:"date"`
	CategoryID    *int64     `json:"category_id"`
	CategoryName  string     `json:"category_name"`
	CategoryColor string     `json:"category_color"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newTransactionView(t core.Transaction) transactionView {
	return transactionView{
		ID:            t.ID,
		Type:          t.Kind,
		Amount:        t.Amount,
		Description:   t.Description,
		Date:          t.Date.Format(core.DateLayout),
		CategoryID:    t.CategoryID,
		CategoryName:  t.CategoryName,
		CategoryColor: t.CategoryColor,
		CreatedAt:     t.CreatedAt,
	}
}

type categoryView struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Type  core.Kind `json:"type"`
	Color string    `json:"color"`
}

func newCategoryView(c core.Category) categoryView {
	return categoryView{ID: c.ID, Name: c.Name, Type: c.Kind, Color: c.Color}
}

func newCategoryViews(cs []core.Category) []categoryView {
	out := make([]categoryView, 0, len(cs))
	for _, c := range cs {
		out = append(out, newCategoryView(c))
	}
	return out
}

type summaryView struct {
	Username         string     `json:"username"`
	MemberSince      string     `json:"member_since"`
	TotalIncome      core.Money `json:"total_income"`
	TotalExpense     core.Money `json:"total_expense"`
	Balance          core.Money `json:"balance"`
	TransactionCount int        `json:"transaction_count"`
}

func newSummaryView(s core.AccountSummary) summaryView {
	return summaryView{
		Username:         s.Username,
		MemberSince:      s.MemberSince.Format(core.DateLayout),
		TotalIncome:      s.TotalIncome,
		TotalExpense:     s.TotalExpense,
		Balance:          s.Balance(),
		TransactionCount: s.TransactionCount,
	}
}

type historyView struct {
	Transactions []transactionView `json:"transactions"`
	Page         int               `json:"page"`
	PageSize     int               `json:"page_size"`
	Total        int               `json:"total"`
	Pages        int               `json:"pages"`
	HasNext      bool              `json:"has_next"`
	HasPrev      bool              `json:"has_prev"`
}

func newHistoryView(p services.HistoryPage) historyView {
	txs := make([]transactionView, 0, len(p.Transactions))
	for _, t := range p.Transactions {
		txs = append(txs, newTransactionView(t))
	}
	return historyView{
		Transactions: txs,
		Page:         p.Page,
		PageSize:     p.PageSize,
		Total:        p.Total,
		Pages:        p.Pages(),
		HasNext:      p.HasNext(),
		HasPrev:      p.Page > 1,
	}
}

// dashboardView is the dashboard payload: all-time totals plus the latest
// transactions.
type dashboardView struct {
	summaryView
	Recent []transactionView `json:"recent_transactions"`
}

// outcome is the JSON body of a successful form action.
type outcome struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
	Data     any    `json:"data,omitempty"`
}
