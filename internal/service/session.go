package service

import (
	"sync"
	"sync/atomic"
	"time"

	"modnet/internal/protocol"
	"modnet/internal/transport"
)

// Session is one connected peer.
type Session struct {
	ID   transport.SenderID
	Conn transport.Conn

	Opened   time.Time
	group    atomic.Uint32
	lastSeen atomic.Int64

	mu    sync.RWMutex
	attrs map[string]string
}

func newSession(conn transport.Conn) *Session {
	s := &Session{
		ID:     conn.ID(),
		Conn:   conn,
		Opened: time.Now(),
		attrs:  make(map[string]string),
	}
	s.Touch()
	return s
}

func (s *Session) Touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Group is the handler group this session's messages dispatch into.
func (s *Session) Group() protocol.GroupID     { return protocol.GroupID(s.group.Load()) }
func (s *Session) SetGroup(g protocol.GroupID) { s.group.Store(uint32(g)) }

func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = make(map[string]string)
	}
	s.attrs[key] = value
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[key]
	return v, ok
}

type SessionManager struct {
	mu       sync.RWMutex
	sessions map[transport.SenderID]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[transport.SenderID]*Session)}
}

func (sm *SessionManager) Add(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[s.ID] = s
}

func (sm *SessionManager) Get(id transport.SenderID) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

func (sm *SessionManager) Remove(id transport.SenderID) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.sessions[id]
	delete(sm.sessions, id)
	return ok
}

func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *SessionManager) Snapshot() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	items := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		items = append(items, s)
	}
	return items
}

// Idle returns sessions silent for longer than timeout.
func (sm *SessionManager) Idle(now time.Time, timeout time.Duration) []*Session {
	var out []*Session
	for _, s := range sm.Snapshot() {
		if now.Sub(s.LastSeen()) > timeout {
			out = append(out, s)
		}
	}
	return out
}
