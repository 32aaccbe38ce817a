package app

import (
	"sync"

	"github.com/mark3labs/mcp-go/server"
)

// SessionStore holds live ClientSession handles keyed by session id so the
// notifier can write to their notification channels. Handles are borrowed
// from the MCP server; the store never closes them.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]server.ClientSession
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{data: make(map[string]server.ClientSession)}
}

// Set records a session handle.
func (s *SessionStore) Set(id string, session server.ClientSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = session
}

// Get returns a session handle, or nil.
func (s *SessionStore) Get(id string) server.ClientSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[id]
}

// Remove drops a session handle.
func (s *SessionStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}
