package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ploinky/ploinky/internal/mcpclient"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/pkg/jsonrpc"
)

// AgentProxy handles the per-agent reverse-proxy session at
// /mcps/<agent>/mcp.
type AgentProxy struct {
	sessions *SessionStore
	rtbl     *routingtable.Table
	timeout  time.Duration

	mu sync.Mutex
	// clients caches one mcpclient.Client per agent proxy session so the
	// upstream session established on initialize survives across calls.
	clients map[string]*mcpclient.Client
}

// NewAgentProxy returns an AgentProxy bound to sessions and rtbl.
func NewAgentProxy(sessions *SessionStore, rtbl *routingtable.Table, timeout time.Duration) *AgentProxy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AgentProxy{sessions: sessions, rtbl: rtbl, timeout: timeout, clients: make(map[string]*mcpclient.Client)}
}

// Dispatch handles one parsed JSON-RPC request against agentName's proxy
// session namespace, translating client-facing session ids to the upstream
// MCPClient session transparently.
func (p *AgentProxy) Dispatch(ctx context.Context, agentName string, req *jsonrpc.Request, sessionID string) (*jsonrpc.Response, string, error) {
	route, ok := p.rtbl.Get(agentName)
	if !ok || route.HostPort <= 0 {
		return nil, "", fmt.Errorf("agent %q is not routable", agentName)
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d/mcp", route.HostPort)

	if req.Method == "initialize" {
		sess := p.sessions.NewAgentProxySession(agentName, baseURL)
		client := mcpclient.New(baseURL, p.timeout)
		if err := client.Initialize(ctx); err != nil {
			return nil, "", err
		}
		p.mu.Lock()
		p.clients[sess.SessionID] = client
		p.mu.Unlock()

		result := map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{"listChanged": false},
				"resources": map[string]interface{}{"listChanged": false},
			},
			"serverInfo": map[string]interface{}{"name": fmt.Sprintf("ploinky-router-proxy:%s", agentName), "version": serverVersion},
		}
		return jsonrpc.NewResponse(req.ID, result), sess.SessionID, nil
	}

	sess, ok := p.sessions.GetAgentProxySession(sessionID, agentName)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, "Missing or invalid MCP session", nil), sessionID, nil
	}
	p.mu.Lock()
	client, ok := p.clients[sess.SessionID]
	p.mu.Unlock()
	if !ok {
		client = mcpclient.New(baseURL, p.timeout)
		if err := client.Initialize(ctx); err != nil {
			return nil, sess.SessionID, err
		}
		p.mu.Lock()
		p.clients[sess.SessionID] = client
		p.mu.Unlock()
	}

	if req.Method == "notifications/initialized" {
		return nil, sess.SessionID, nil
	}

	result, err := forward(ctx, client, req.Method, req.Params)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil), sess.SessionID, nil
	}
	return jsonrpc.NewResponse(req.ID, result), sess.SessionID, nil
}

// CloseSession drops a proxy session's cached client, if any.
func (p *AgentProxy) CloseSession(ctx context.Context, sessionID string) {
	p.mu.Lock()
	client, ok := p.clients[sessionID]
	if ok {
		delete(p.clients, sessionID)
	}
	p.mu.Unlock()

	if ok {
		client.Close(ctx)
	}
	p.sessions.DeleteAgentProxySession(sessionID)
}

func forward(ctx context.Context, client *mcpclient.Client, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "tools/list":
		tools, err := client.ListTools(ctx)
		return map[string]interface{}{"tools": tools}, err
	case "resources/list":
		resources, err := client.ListResources(ctx)
		return map[string]interface{}{"resources": resources}, err
	case "tools/call":
		var p struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		json.Unmarshal(params, &p)
		raw, err := client.CallTool(ctx, p.Name, p.Arguments)
		var out interface{}
		json.Unmarshal(raw, &out)
		return out, err
	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		json.Unmarshal(params, &p)
		raw, err := client.ReadResource(ctx, p.URI)
		var out interface{}
		json.Unmarshal(raw, &out)
		return out, err
	case "ping":
		err := client.Ping(ctx)
		return map[string]interface{}{"status": "ok"}, err
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}
