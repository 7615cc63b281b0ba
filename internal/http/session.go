package http

import (
	"context"
	"net/http"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

type sessionKey struct{}

// requestSession is the mutable session slot for one request. Handlers that
// log in, log out or flash a notice replace it and the cookie together.
type requestSession struct {
	sess cache.Session
	ok   bool
}

// CookieOptions configures the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs := &requestSession{}
		if c, err := r.Cookie(s.cookie.Name); err == nil && c.Value != "" {
			rs.sess, rs.ok = s.sessions.Get(c.Value)
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, rs)
		if rs.sess.Authenticated() {
			ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, rs.sess.UserID))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *requestSession {
	if rs, ok := r.Context().Value(sessionKey{}).(*requestSession); ok {
		return rs
	}
	return &requestSession{}
}

// currentUser returns the logged in session, if any.
func currentUser(r *http.Request) (cache.Session, bool) {
	rs := sessionFrom(r)
	return rs.sess, rs.ok && rs.sess.Authenticated()
}

func (s *Server) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cookie.TTL / time.Second),
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// flash queues a one-shot notice, creating an anonymous session when the
// request has none.
func (s *Server) flash(w http.ResponseWriter, r *http.Request, level, msg string) {
	rs := sessionFrom(r)
	if rs.ok && s.sessions.AddNotice(rs.sess.ID, level, msg) {
		return
	}
	rs.sess, rs.ok = s.sessions.Create(), true
	s.setCookie(w, rs.sess.ID)
	s.sessions.AddNotice(rs.sess.ID, level, msg)
}

// login binds u to a fresh session id.
func (s *Server) login(w http.ResponseWriter, r *http.Request, u core.User) {
	rs := sessionFrom(r)
	oldID := ""
	if rs.ok {
		oldID = rs.sess.ID
	}
	rs.sess, rs.ok = s.sessions.Login(oldID, u.ID, u.Username), true
	s.setCookie(w, rs.sess.ID)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	rs := sessionFrom(r)
	if rs.ok {
		s.sessions.Destroy(rs.sess.ID)
	}
	rs.sess, rs.ok = cache.Session{}, false
	s.clearCookie(w)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, sess cache.Session)

// requireLogin guards browser routes: anonymous requests are sent to the
// login page with a notice, JSON clients get a 401.
func (s *Server) requireLogin(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentUser(r)
		if !ok {
			if acceptsJSON(r) || isJSONRequest(r) {
				UnauthorizedError(msgLoginRequired).Write(w)
				return
			}
			s.flash(w, r, cache.NoticeDanger, msgLoginRequired)
			Redirect("/login").Write(w)
			return
		}
		h(w, r, sess)
	}
}

// requireAPILogin guards JSON routes.
func (s *Server) requireAPILogin(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentUser(r)
		if !ok {
			UnauthorizedError(msgLoginRequired).Write(w)
			return
		}
		h(w, r, sess)
	}
}

func isJSONRequest(r *http.Request) bool {
	return (&RequestBodyParser{contentType: r.Header.Get("Content-Type")}).declaresJSON()
}
