package chatui

import (
	"sync"
	"time"

	"itsupport/internal/agent"
)

// maxSessionTurns bounds the transcript kept per browser session.
const maxSessionTurns = 200

type chatSession struct {
	turns    []agent.Turn
	lastSeen time.Time
}

// sessionStore keeps one conversation per browser session in memory.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*chatSession
	idleTTL  time.Duration
	now      func() time.Time
}

func newSessionStore(idleTTL time.Duration) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*chatSession),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// History returns a copy of the session's transcript.
func (s *sessionStore) History(id string) []agent.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.lastSeen = s.now()
	out := make([]agent.Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Append adds turns to the session's transcript.
func (s *sessionStore) Append(id string, turns ...agent.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &chatSession{}
		s.sessions[id] = sess
	}
	sess.turns = append(sess.turns, turns...)
	if len(sess.turns) > maxSessionTurns {
		sess.turns = sess.turns[len(sess.turns)-maxSessionTurns:]
	}
	sess.lastSeen = s.now()
}

// Clear empties the session's transcript.
func (s *sessionStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len is the number of live sessions.
func (s *sessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *sessionStore) expireLocked() {
	if s.idleTTL <= 0 {
		return
	}
	cutoff := s.now().Add(-s.idleTTL)
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
