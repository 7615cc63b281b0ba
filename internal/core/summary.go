package core

import "time"

// AccountSummary is the all-time overview shown on the dashboard and the
// account page.
type AccountSummary struct {
	Username         string
	MemberSince      time.Time
	TotalIncome      Money
	TotalExpense     Money
	TransactionCount int
}

// Balance is income minus expense.
func (s AccountSummary) Balance() Money {
	return Money{Cents: s.TotalIncome.Cents - s.TotalExpense.Cents}
}
