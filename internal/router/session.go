// Package router implements RouterCore (RT): the HTTP+JSON-RPC
// front door that aggregates MCP traffic across agents and reverse-proxies
// per-agent sessions.
package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MCPSession is a router-issued aggregated session. It binds
// to no single agent.
type MCPSession struct {
	SessionID string
	CreatedAt time.Time
	LastSeen  time.Time
}

// AgentProxySession is a router-issued per-agent session.
type AgentProxySession struct {
	SessionID string
	AgentName string
	BaseURL   string
	CreatedAt time.Time
}

// sessionSoftCap bounds in-memory session growth; eviction above the cap
// is LRU by LastSeen.
const sessionSoftCap = 10000

// SessionStore holds both session namespaces. They are never interchangeable.
type SessionStore struct {
	mu       sync.Mutex
	mcp      map[string]*MCPSession
	proxy    map[string]*AgentProxySession
}

// NewSessionStore returns an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		mcp:   make(map[string]*MCPSession),
		proxy: make(map[string]*AgentProxySession),
	}
}

// NewMCPSession creates and stores a new aggregated session with a fresh
// UUID v4 id.
func (s *SessionStore) NewMCPSession() *MCPSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess := &MCPSession{SessionID: uuid.New().String(), CreatedAt: now, LastSeen: now}
	s.mcp[sess.SessionID] = sess
	s.evictMCPLocked()
	return sess
}

// GetMCPSession returns the session for id and refreshes LastSeen, or false
// when the id is unknown.
func (s *SessionStore) GetMCPSession(id string) (*MCPSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.mcp[id]
	if !ok {
		return nil, false
	}
	sess.LastSeen = time.Now()
	return sess, true
}

// DeleteMCPSession evicts an aggregated session explicitly.
func (s *SessionStore) DeleteMCPSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mcp, id)
}

// NewAgentProxySession creates and stores a new per-agent session.
func (s *SessionStore) NewAgentProxySession(agentName, baseURL string) *AgentProxySession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &AgentProxySession{
		SessionID: uuid.New().String(),
		AgentName: agentName,
		BaseURL:   baseURL,
		CreatedAt: time.Now(),
	}
	s.proxy[sess.SessionID] = sess
	return sess
}

// GetAgentProxySession returns the per-agent session for id bound to
// agentName; ok is false if the id is unknown or bound to a different agent.
func (s *SessionStore) GetAgentProxySession(id, agentName string) (*AgentProxySession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.proxy[id]
	if !ok || sess.AgentName != agentName {
		return nil, false
	}
	return sess, true
}

// DeleteAgentProxySession evicts a per-agent session explicitly.
func (s *SessionStore) DeleteAgentProxySession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proxy, id)
}

// evictMCPLocked drops the least-recently-seen sessions once the soft cap
// is exceeded. Caller must hold s.mu.
func (s *SessionStore) evictMCPLocked() {
	if len(s.mcp) <= sessionSoftCap {
		return
	}
	oldestID, oldestSeen := "", time.Now().Add(24*time.Hour)
	for id, sess := range s.mcp {
		if sess.LastSeen.Before(oldestSeen) {
			oldestID, oldestSeen = id, sess.LastSeen
		}
	}
	if oldestID != "" {
		delete(s.mcp, oldestID)
	}
}
