package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndListTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("mcp-session-id", "sess-1")
		w.Header().Set("Content-Type", "application/json")

		switch req["method"] {
		case "initialize":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req["id"], "result": map[string]interface{}{"protocolVersion": "2024-11-05"},
			})
		case "tools/list":
			assert.Equal(t, "sess-1", r.Header.Get("mcp-session-id"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req["id"],
				"result": map[string]interface{}{"tools": []map[string]string{{"name": "toolA"}}},
			})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	require.NoError(t, c.Initialize(context.Background()))

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "toolA", tools[0].Name)
}

func TestCall_RemoteErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req["id"],
			"error": map[string]interface{}{"code": -32000, "message": "was not found"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.CallTool(context.Background(), "toolZ", nil)
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, -32000, remoteErr.Code)
}

func TestPing_AgentOfflineWhenUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", 0)
	err := c.Ping(context.Background())
	require.Error(t, err)
}

func TestClose_ClearsSessionWithoutError(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			called = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	require.NoError(t, c.Close(context.Background()))
	assert.False(t, called) // no session established yet, so Close is a no-op
}
