package http

import (
	"errors"
	"fmt"
	"net/http"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/services"
)

func transactionInput(f form) services.TransactionInput {
	return services.TransactionInput{
		Kind:        f.Get("type"),
		Amount:      f.Get("amount"),
		Description: f.Get("description"),
		Date:        f.Get("date"),
		CategoryID:  f.Get("category_id"),
	}
}

func categoryInput(f form) services.CategoryInput {
	return services.CategoryInput{
		Name:  f.Get("name"),
		Kind:  f.Get("type"),
		Color: f.Get("color"),
	}
}

// kindPage is the entry page for a transaction kind.
func kindPage(kind string) string {
	if k, err := core.ParseKind(kind); err == nil && k == core.KindIncome {
		return "/income"
	}
	return "/expense"
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	f, ok := s.parseForm(w, r, "/expense")
	if !ok {
		return
	}
	in := transactionInput(f)
	to := kindPage(in.Kind)

	tx, err := s.ledger.AddTransaction(r.Context(), sess.UserID, in)
	if err != nil {
		s.fail(w, r, f, to, noticeFor(err), err)
		return
	}
	s.events.LogTransactionChange(r.Context(), "create", sess.UserID, tx.ID, string(tx.Kind), tx.Amount.String())
	s.succeed(w, r, f, kindPage(string(tx.Kind)), fmt.Sprintf("%s added successfully!", tx.Kind.Title()),
		http.StatusCreated, newTransactionView(tx))
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	f, ok := s.parseForm(w, r, "/history")
	if !ok {
		return
	}
	const notFound = "Transaction not found or you do not have permission to edit it."
	id, ok := pathID(r)
	if !ok {
		s.fail(w, r, f, "/history", notFound, core.ErrTransactionNotFound)
		return
	}

	tx, err := s.ledger.EditTransaction(r.Context(), sess.UserID, id, transactionInput(f))
	if err != nil {
		msg := noticeFor(err)
		to := fmt.Sprintf("/edit_transaction/%d", id)
		if isMissing(err, core.ErrTransactionNotFound) {
			msg, to = notFound, "/history"
		}
		s.fail(w, r, f, to, msg, err)
		return
	}
	s.events.LogTransactionChange(r.Context(), "update", sess.UserID, tx.ID, string(tx.Kind), tx.Amount.String())
	s.succeed(w, r, f, "/history", "Transaction updated successfully!", http.StatusOK, newTransactionView(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	f, ok := s.parseForm(w, r, "/history")
	if !ok {
		return
	}
	const notFound = "Transaction not found or you do not have permission to delete it."
	id, ok := pathID(r)
	if !ok {
		s.fail(w, r, f, "/history", notFound, core.ErrTransactionNotFound)
		return
	}

	if err := s.ledger.DeleteTransaction(r.Context(), sess.UserID, id); err != nil {
		msg := noticeFor(err)
		if isMissing(err, core.ErrTransactionNotFound) {
			msg = notFound
		}
		s.fail(w, r, f, "/history", msg, err)
		return
	}
	s.events.LogTransactionChange(r.Context(), "delete", sess.UserID, id, "", "")
	s.succeed(w, r, f, "/history", "Transaction deleted successfully!", http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	id, ok := pathID(r)
	if !ok {
		s.failJSON(w, r, core.ErrTransactionNotFound)
		return
	}
	tx, err := s.ledger.GetTransaction(r.Context(), sess.UserID, id)
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	NewResponse().JSON(newTransactionView(tx)).Write(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	q := r.URL.Query()
	page := queryInt(q, "page", 1)
	size := clamp(queryInt(q, "page_size", services.DefaultPageSize), 1, services.MaxPageSize)

	p, err := s.ledger.History(r.Context(), sess.UserID, page, size)
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	NewResponse().JSON(newHistoryView(p)).Write(w)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	cats, err := s.ledger.Categories(r.Context(), sess.UserID, r.URL.Query().Get("type"))
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	NewResponse().JSON(newCategoryViews(cats)).Write(w)
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	f, ok := s.parseForm(w, r, "/categories")
	if !ok {
		return
	}
	in := categoryInput(f)

	c, err := s.ledger.AddCategory(r.Context(), sess.UserID, in)
	if err != nil {
		msg := noticeFor(err)
		if errors.Is(err, core.ErrDuplicateCategory) {
			msg = fmt.Sprintf("A %s category with the name \"%s\" already exists.", in.Kind, core.NormalizeName(in.Name))
		}
		s.fail(w, r, f, "/categories", msg, err)
		return
	}
	s.succeed(w, r, f, "/categories", fmt.Sprintf("Category \"%s\" added successfully!", c.Name),
		http.StatusCreated, newCategoryView(c))
}

func (s *Server) handleEditCategory(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	f, ok := s.parseForm(w, r, "/categories")
	if !ok {
		return
	}
	const notFound = "Category not found or you do not have permission to edit it."
	id, ok := pathID(r)
	if !ok {
		s.fail(w, r, f, "/categories", notFound, core.ErrCategoryNotFound)
		return
	}
	in := categoryInput(f)

	c, err := s.ledger.EditCategory(r.Context(), sess.UserID, id, in)
	if err != nil {
		msg := noticeFor(err)
		to := fmt.Sprintf("/edit_category/%d", id)
		switch {
		case isMissing(err, core.ErrCategoryNotFound):
			msg, to = notFound, "/categories"
		case errors.Is(err, core.ErrDuplicateCategory):
			msg = fmt.Sprintf("A %s category with the name \"%s\" already exists for this type.", in.Kind, core.NormalizeName(in.Name))
		}
		s.fail(w, r, f, to, msg, err)
		return
	}
	s.succeed(w, r, f, "/categories", "Category updated successfully!", http.StatusOK, newCategoryView(c))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	f, ok := s.parseForm(w, r, "/categories")
	if !ok {
		return
	}
	const notFound = "Category not found or you do not have permission to delete it."
	id, ok := pathID(r)
	if !ok {
		s.fail(w, r, f, "/categories", notFound, core.ErrCategoryNotFound)
		return
	}

	cleared, err := s.ledger.DeleteCategory(r.Context(), sess.UserID, id)
	if err != nil {
		msg := noticeFor(err)
		if isMissing(err, core.ErrCategoryNotFound) {
			msg = notFound
		}
		s.fail(w, r, f, "/categories", msg, err)
		return
	}
	s.succeed(w, r, f, "/categories", "Category deleted successfully!", http.StatusOK,
		map[string]any{"id": id, "cleared_transactions": cleared})
}
