package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notice levels, shown to the user once.
const (
	NoticeSuccess = "success"
	NoticeDanger  = "danger"
	NoticeInfo    = "info"
)

type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Session is a snapshot of a browser session. UserID is zero until login.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	CreatedAt time.Time
}

func (s Session) Authenticated() bool { return s.UserID != 0 }

type sessionEntry struct {
	mu      sync.Mutex
	session Session
	notices []Notice
}

// SessionStore keeps sessions in memory with a sliding TTL. Sessions do not
// survive a restart.
type SessionStore struct {
	entries *LRUCache[*sessionEntry]
}

func NewSessionStore(maxSessions int, ttl time.Duration) *SessionStore {
	return &SessionStore{entries: NewLRUCache[*sessionEntry](maxSessions, ttl)}
}

// Cleaner exposes the underlying cache for registration with a Manager.
func (s *SessionStore) Cleaner() Cleaner { return s.entries }

func (s *SessionStore) Len() int { return s.entries.Size() }

// Create starts an anonymous session.
func (s *SessionStore) Create() Session {
	e := &sessionEntry{session: Session{ID: uuid.NewString(), CreatedAt: s.entries.now()}}
	s.entries.Set(e.session.ID, e)
	return e.session
}

// Get returns the session and extends its lifetime.
func (s *SessionStore) Get(id string) (Session, bool) {
	e, ok := s.entries.Get(id)
	if !ok {
		return Session{}, false
	}
	s.entries.Touch(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, true
}

// Login binds a user to a fresh session id and drops the old id. Pending
// notices are carried over.
func (s *SessionStore) Login(oldID string, userID int64, username string) Session {
	var notices []Notice
	if old, ok := s.entries.Get(oldID); ok {
		old.mu.Lock()
		notices = old.notices
		old.mu.Unlock()
		s.entries.Delete(oldID)
	}
	e := &sessionEntry{
		session: Session{ID: uuid.NewString(), UserID: userID, Username: username, CreatedAt: s.entries.now()},
		notices: notices,
	}
	s.entries.Set(e.session.ID, e)
	return e.session
}

func (s *SessionStore) Destroy(id string) {
	s.entries.Delete(id)
}

// DestroyUser ends every session of userID.
func (s *SessionStore) DestroyUser(userID int64) int {
	return s.entries.DeleteFunc(func(_ string, e *sessionEntry) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.session.UserID == userID
	})
}

// AddNotice queues a notice. It reports false for unknown sessions.
func (s *SessionStore) AddNotice(id, level, message string) bool {
	e, ok := s.entries.Get(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notices = append(e.notices, Notice{Level: level, Message: message})
	return true
}

// PopNotices returns and clears the queued notices.
func (s *SessionStore) PopNotices(id string) []Notice {
	e, ok := s.entries.Get(id)
	if !ok {
		return []Notice{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.notices
	e.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}
