package server

import (
	"sync"
	"time"
)

// SessionManager tracks live sessions from both transports.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session // session id -> session
	closing  bool
	wg       sync.WaitGroup
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session. It returns false once CloseAll has been called.
func (sm *SessionManager) Add(s *Session) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closing {
		return false
	}
	sm.sessions[s.ID] = s
	sm.wg.Add(1)
	return true
}

// Get retrieves a session by ID.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Remove removes a session.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[id]; ok {
		delete(sm.sessions, id)
		sm.wg.Done()
	}
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns all live sessions (snapshot).
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		result = append(result, s)
	}
	return result
}

// CloseAll refuses new sessions and closes every live one.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sm.closing = true
	sm.mu.Unlock()

	for _, s := range sm.All() {
		s.Close()
	}
}

// Wait blocks until every registered session is removed or timeout elapses.
// It reports whether all sessions finished.
func (sm *SessionManager) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
