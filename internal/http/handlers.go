package http

import (
	"errors"
	"net/http"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

// form wraps a parsed mutating request. Browsers are answered with a notice
// and a redirect, JSON clients with a status and a body.
type form struct {
	*RequestBodyParser
	json bool
}

// parseForm reads the body. On a malformed body the error response has
// already been written and ok is false.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request, fallback string) (form, bool) {
	p := NewRequestBodyParser(w, r)
	err := p.Parse()
	f := form{RequestBodyParser: p, json: p.IsJSON() || acceptsJSON(r) || p.declaresJSON()}
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Malformed request body", log.FieldError, err, log.FieldPath, r.URL.Path)
		s.fail(w, r, f, fallback, msgMalformedBody, err)
		return f, false
	}
	return f, true
}

func (s *Server) succeed(w http.ResponseWriter, r *http.Request, f form, to, msg string, status int, data any) {
	if f.json {
		NewResponse().Status(status).JSON(outcome{Message: msg, Redirect: to, Data: data}).Write(w)
		return
	}
	s.flash(w, r, cache.NoticeSuccess, msg)
	Redirect(to).Write(w)
}

// fail reports err. Server side failures are logged; the user only ever
// sees msg.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, f form, to, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.events.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, r.Method+" "+r.URL.Path, nil)
		msg = msgGeneric
	}
	if f.json {
		ErrorResponse(status, msg).Write(w)
		return
	}
	s.flash(w, r, cache.NoticeDanger, msg)
	Redirect(to).Write(w)
}

// failJSON answers a JSON route with the mapped status and default notice.
func (s *Server) failJSON(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := noticeFor(err)
	if status >= http.StatusInternalServerError {
		s.events.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, r.Method+" "+r.URL.Path, nil)
		msg = msgGeneric
	}
	ErrorResponse(status, msg).Write(w)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	f, ok := s.parseForm(w, r, "/register")
	if !ok {
		return
	}
	u, err := s.accounts.Register(r.Context(), f.Get("username"), f.Get("password"))
	if err != nil {
		msg := noticeFor(err)
		if errors.Is(err, core.ErrEmptyName) {
			msg = "Username is required."
		}
		s.fail(w, r, f, "/register", msg, err)
		return
	}
	s.succeed(w, r, f, "/login", "Registration successful! Please log in.", http.StatusCreated,
		map[string]any{"id": u.ID, "username": u.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	f, ok := s.parseForm(w, r, "/login")
	if !ok {
		return
	}
	u, err := s.accounts.Authenticate(r.Context(), f.Get("username"), f.Get("password"))
	if err != nil {
		s.fail(w, r, f, "/login", noticeFor(err), err)
		return
	}
	s.login(w, r, u)
	log.FromContext(r.Context()).WithComponent(log.ComponentAuth).InfoContext(r.Context(), "User logged in", log.FieldUserID, u.ID)
	s.succeed(w, r, f, "/dashboard", "Login successful!", http.StatusOK,
		map[string]any{"id": u.ID, "username": u.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logout(w, r)
	if acceptsJSON(r) {
		NewResponse().JSON(outcome{Message: "You have been logged out.", Redirect: "/login"}).Write(w)
		return
	}
	s.flash(w, r, cache.NoticeInfo, "You have been logged out.")
	Redirect("/login").Write(w)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	f, ok := s.parseForm(w, r, "/account")
	if !ok {
		return
	}
	if err := s.accounts.Delete(r.Context(), sess.UserID); err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			s.logout(w, r)
			s.fail(w, r, f, "/login", msgUserNotFound, err)
			return
		}
		s.fail(w, r, f, "/account", msgGeneric, err)
		return
	}
	s.sessions.DestroyUser(sess.UserID)
	s.logout(w, r)
	s.succeed(w, r, f, "/register", "Your account has been deleted.", http.StatusOK, nil)
}

// handleNotices returns and clears the pending notices of the session.
func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	notices := []cache.Notice{}
	if rs := sessionFrom(r); rs.ok {
		if popped := s.sessions.PopNotices(rs.sess.ID); popped != nil {
			notices = popped
		}
	}
	NewResponse().JSON(map[string]any{"notices": notices}).Write(w)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	sum, err := s.ledger.Summary(r.Context(), sess.UserID)
	if err != nil {
		s.userGone(w, r, err)
		return
	}
	NewResponse().JSON(newSummaryView(sum)).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	ctx := r.Context()
	sum, err := s.ledger.Summary(ctx, sess.UserID)
	if err != nil {
		s.userGone(w, r, err)
		return
	}
	page, err := s.ledger.History(ctx, sess.UserID, 1, queryInt(r.URL.Query(), "recent", 5))
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	view := dashboardView{summaryView: newSummaryView(sum), Recent: newHistoryView(page).Transactions}
	NewResponse().JSON(view).Write(w)
}

// userGone ends a session whose user no longer exists.
func (s *Server) userGone(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrUserNotFound) {
		s.logout(w, r)
		NotFoundError(msgUserNotFound).Write(w)
		return
	}
	s.failJSON(w, r, err)
}

