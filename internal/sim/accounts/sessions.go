package accounts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"bonecraft.ai/internal/protocol"
)

var ErrNotAuthenticated = protocol.NewError(protocol.ErrUnauthorized, "Not authenticated")

// Sessions maps opaque tokens to usernames. Each successful Lookup extends
// the session by the TTL.
type Sessions struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	byID map[string]session
}

type session struct {
	user    string
	expires time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{ttl: ttl, now: time.Now, byID: map[string]session{}}
}

func (s *Sessions) Open(user string) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[token] = session{user: user, expires: s.now().Add(s.ttl)}
	return token
}

func (s *Sessions) Lookup(token string) (string, error) {
	if token == "" {
		return "", ErrNotAuthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[token]
	now := s.now()
	if !ok || !now.Before(sess.expires) {
		delete(s.byID, token)
		return "", ErrNotAuthenticated
	}
	sess.expires = now.Add(s.ttl)
	s.byID[token] = sess
	return sess.user, nil
}

func (s *Sessions) Close(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, token)
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, sess := range s.byID {
		if !now.Before(sess.expires) {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
