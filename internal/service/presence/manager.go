package presence

import (
	"context"
	"log"
	"strings"
	"time"

	"radar/internal/service/storage"
)

// Manager keeps the open sessions, one per user. Sessions are built on
// Open and torn down on Close, on idle expiry or at shutdown.
type Manager struct {
	ctx       context.Context
	deps      Deps
	timings   Timings
	liveRoles map[string]bool
	sessions  *storage.ShardedMemoryStorage[string, *Session]
}

func NewManager(ctx context.Context, deps Deps, timings Timings, liveRoles map[string]bool) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		ctx:       ctx,
		deps:      deps,
		timings:   timings,
		liveRoles: liveRoles,
		sessions:  storage.NewShardedMemoryStorage[string, *Session](16),
	}
}

// Entitled reports whether role may broadcast in live mode
func (m *Manager) Entitled(role string) bool {
	return m.liveRoles[strings.ToLower(role)]
}

// Open returns the viewer's session, starting one if needed
func (m *Manager) Open(v Viewer) (*Session, bool) {
	s, created := m.sessions.GetOrCreate(v.ID, func() *Session {
		s := NewSession(m.ctx, m.deps, v, m.Entitled(v.Role), m.timings)
		s.Run()
		return s
	})
	if created {
		log.Printf("[presence] session opened for %s", v.ID)
	}
	s.Touch()
	return s, created
}

// Get returns an open session
func (m *Manager) Get(userID string) (*Session, bool) {
	s, ok := m.sessions.Get(userID)
	if ok {
		s.Touch()
	}
	return s, ok
}

// Close tears down the user's session, as on logout
func (m *Manager) Close(userID string) bool {
	s, ok := m.sessions.Take(userID)
	if !ok {
		return false
	}
	s.Close()
	log.Printf("[presence] session closed for %s", userID)
	return true
}

// CloseIdle closes sessions unused for longer than maxIdle
func (m *Manager) CloseIdle(maxIdle time.Duration) int {
	cutoff := m.deps.Now().Add(-maxIdle)
	var idle []string
	for _, s := range m.sessions.GetAllValues() {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s.Viewer.ID)
		}
	}

	closed := 0
	for _, id := range idle {
		if m.Close(id) {
			closed++
		}
	}
	return closed
}

// CloseAll tears down every session
func (m *Manager) CloseAll() {
	for _, s := range m.sessions.GetAllValues() {
		m.Close(s.Viewer.ID)
	}
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	return m.sessions.Count()
}
