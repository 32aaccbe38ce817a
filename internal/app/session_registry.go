package app

import (
	"sync"
	"time"
)

// SessionRegistry is the bidirectional map between agent names and their live
// RPC session ids. An agent holds at most one session; both directions are
// updated under one lock so an agent is never half-registered.
type SessionRegistry struct {
	mu           sync.RWMutex
	bySession    map[string]string    // sessionID → agentName
	byAgent      map[string]string    // agentName → sessionID
	lastActivity map[string]time.Time // sessionID → last tool activity
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		bySession:    make(map[string]string),
		byAgent:      make(map[string]string),
		lastActivity: make(map[string]time.Time),
	}
}

// Bind associates a session with an agent. A previous session for the same
// agent is evicted so a stale handle never lingers.
func (r *SessionRegistry) Bind(sessionID, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byAgent[agent]; ok && old != sessionID {
		delete(r.bySession, old)
		delete(r.lastActivity, old)
	}
	r.bySession[sessionID] = agent
	r.byAgent[agent] = sessionID
	r.lastActivity[sessionID] = time.Now()
}

// AgentFor returns the agent bound to a session, or "".
func (r *SessionRegistry) AgentFor(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySession[sessionID]
}

// SessionFor returns the session id bound to an agent, or "".
func (r *SessionRegistry) SessionFor(agent string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAgent[agent]
}

// Connected reports whether an agent has a live session.
func (r *SessionRegistry) Connected(agent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAgent[agent]
	return ok
}

// ConnectedAgents returns the names of every agent with a live session.
func (r *SessionRegistry) ConnectedAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]string, 0, len(r.byAgent))
	for a := range r.byAgent {
		agents = append(agents, a)
	}
	return agents
}

// Touch records tool activity for a session.
func (r *SessionRegistry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySession[sessionID]; ok {
		r.lastActivity[sessionID] = time.Now()
	}
}

// IdleSessions returns the session ids with no activity since the cutoff.
func (r *SessionRegistry) IdleSessions(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []string
	for sid, at := range r.lastActivity {
		if at.Before(cutoff) {
			idle = append(idle, sid)
		}
	}
	return idle
}

// Remove drops a session and its agent binding.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent, ok := r.bySession[sessionID]; ok {
		delete(r.byAgent, agent)
	}
	delete(r.bySession, sessionID)
	delete(r.lastActivity, sessionID)
}

// Count returns the number of bound agents.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAgent)
}

// Backdate rewrites a session's activity time; used by watchdog tests.
func (r *SessionRegistry) Backdate(sessionID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySession[sessionID]; ok {
		r.lastActivity[sessionID] = t
	}
}
