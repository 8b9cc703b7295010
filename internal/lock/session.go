package lock

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the lock-facing identity of a repository session. It
// tracks the set of lock tokens the session holds. A session is also
// the default transaction identity for operations it performs.
type Session struct {
	id    string
	admin bool

	mu     sync.Mutex
	tokens map[string]struct{}
}

// NewSession creates a session with a fresh random identity
func NewSession() *Session {
	return &Session{
		id:     uuid.New().String(),
		tokens: make(map[string]struct{}),
	}
}

// NewAdminSession creates a session with administrative override,
// allowing it to remove locks it does not hold the token for
func NewAdminSession() *Session {
	s := NewSession()
	s.admin = true
	return s
}

// ID returns the session identity
func (s *Session) ID() string {
	return s.id
}

// IsAdmin reports whether the session may exercise administrative
// override on unlock checks
func (s *Session) IsAdmin() bool {
	return s.admin
}

// AddToken records a lock token as held by this session
func (s *Session) AddToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = struct{}{}
}

// RemoveToken drops a lock token from this session
func (s *Session) RemoveToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// HoldsToken reports whether the session holds the given token
func (s *Session) HoldsToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	return ok
}

// Tokens returns a snapshot of the session's held tokens
func (s *Session) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	return out
}
