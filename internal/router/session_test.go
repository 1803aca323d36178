package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMCPSession_IsRetrievable(t *testing.T) {
	store := NewSessionStore()
	sess := store.NewMCPSession()

	got, ok := store.GetMCPSession(sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, sess.SessionID, got.SessionID)
}

func TestDeleteMCPSession_InvalidatesID(t *testing.T) {
	store := NewSessionStore()
	sess := store.NewMCPSession()
	store.DeleteMCPSession(sess.SessionID)

	_, ok := store.GetMCPSession(sess.SessionID)
	assert.False(t, ok)
}

func TestAgentProxySession_NamespacesAreNotInterchangeable(t *testing.T) {
	store := NewSessionStore()
	mcpSess := store.NewMCPSession()

	_, ok := store.GetAgentProxySession(mcpSess.SessionID, "demo")
	assert.False(t, ok)
}

func TestGetAgentProxySession_RejectsWrongAgent(t *testing.T) {
	store := NewSessionStore()
	sess := store.NewAgentProxySession("demo", "http://127.0.0.1:1/mcp")

	_, ok := store.GetAgentProxySession(sess.SessionID, "other")
	assert.False(t, ok)

	got, ok := store.GetAgentProxySession(sess.SessionID, "demo")
	require.True(t, ok)
	assert.Equal(t, "demo", got.AgentName)
}
