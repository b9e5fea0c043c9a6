// Package session owns the per-user streaming sessions to the venue: one
// authenticated websocket per user, with an outbound queue while
// unauthenticated, subscription bookkeeping that survives reconnects, a
// bounded reconnect loop, and a periodic liveness sweep. Inbound frames are
// decoded once and fanned out to a fixed set of typed consumers.
package session

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/platform/deriv"
)

// Session is one user's connection state. All fields are guarded by mu; the
// transport itself is read by exactly one goroutine (the manager's run loop)
// and written under mu.
type Session struct {
	userID string
	token  string

	mu        sync.Mutex
	state     domain.SessionState
	transport deriv.Transport
	subs      map[string]struct{}
	queue     [][]byte
	lastSeen  time.Time
	attempts  int

	// gen invalidates the run loop when the session is replaced or torn
	// down, so a stale loop or timer can never act on a fresh connection.
	gen int
}

func newSession(userID, token string) *Session {
	return &Session{
		userID:   userID,
		token:    token,
		state:    domain.SessionConnecting,
		subs:     make(map[string]struct{}),
		lastSeen: time.Now(),
	}
}

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscriptions returns a snapshot of the active symbol subscriptions.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		out = append(out, sym)
	}
	return out
}

// current reports whether gen still identifies the live run loop.
func (s *Session) current(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state != domain.SessionClosed
}

// invalidate bumps the generation and closes the transport, forcing the run
// loop to exit. Returns the transport that was closed, if any.
func (s *Session) invalidate() {
	s.mu.Lock()
	s.gen++
	s.state = domain.SessionClosed
	t := s.transport
	s.transport = nil
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// markSeen records transport activity for the liveness sweep.
func (s *Session) markSeen(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// silentSince reports how long the session has been without inbound frames.
func (s *Session) silentSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// enqueue appends a marshalled message to the pending queue in FIFO order.
func (s *Session) enqueue(data []byte) {
	s.queue = append(s.queue, data)
}

// write sends data on the live transport. Caller must hold s.mu.
func (s *Session) writeLocked(data []byte) error {
	if s.transport == nil {
		return domain.ErrSessionClosed
	}
	return s.transport.WriteMessage(data)
}
