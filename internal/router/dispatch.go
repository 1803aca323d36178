package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/mcpclient"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/pkg/jsonrpc"
)

// Dispatcher handles JSON-RPC method dispatch for the aggregated /mcp
// endpoint.
type Dispatcher struct {
	sessions       *SessionStore
	rtbl           *routingtable.Table
	upstreamTimeout time.Duration
}

// NewDispatcher returns a Dispatcher bound to sessions and rtbl.
func NewDispatcher(sessions *SessionStore, rtbl *routingtable.Table, upstreamTimeout time.Duration) *Dispatcher {
	if upstreamTimeout <= 0 {
		upstreamTimeout = 10 * time.Second
	}
	return &Dispatcher{sessions: sessions, rtbl: rtbl, upstreamTimeout: upstreamTimeout}
}

const (
	protocolVersion = "2025-06-18"
	serverName      = "ploinky-router"
	serverVersion   = "1.0.0"
)

// Dispatch handles one parsed JSON-RPC request against the aggregated
// session namespace. sessionID is the value of the inbound mcp-session-id
// header, if any. It returns the response to write (nil for a 204
// notification) and the session id to echo back in the response header.
func (d *Dispatcher) Dispatch(ctx context.Context, req *jsonrpc.Request, sessionID string) (*jsonrpc.Response, string) {
	if req.Method == "initialize" {
		sess := d.sessions.NewMCPSession()
		result := map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{"listChanged": false},
				"resources": map[string]interface{}{"listChanged": false},
			},
			"serverInfo":   map[string]interface{}{"name": serverName, "version": serverVersion},
			"instructions": "Aggregated MCP endpoint fanning out across every live agent.",
		}
		return jsonrpc.NewResponse(req.ID, result), sess.SessionID
	}

	sess, ok := d.sessions.GetMCPSession(sessionID)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, "Missing or invalid MCP session", nil), sessionID
	}

	switch req.Method {
	case "notifications/initialized":
		return nil, sess.SessionID
	case "tools/list":
		agg := AggregateTools(ctx, d.rtbl, d.upstreamTimeout)
		if len(agg.EmptyAgents) > 0 || len(agg.Errors) > 0 {
			logger.Default().WithComponent("router").Warn("tools/list partial aggregation",
				zap.Strings("empty_agents", agg.EmptyAgents),
				zap.Any("errors", agg.Errors),
			)
		}
		return jsonrpc.NewResponse(req.ID, map[string]interface{}{"tools": agg.Tools}), sess.SessionID
	case "resources/list":
		agg := d.aggregateResources(ctx)
		return jsonrpc.NewResponse(req.ID, map[string]interface{}{"resources": agg}), sess.SessionID
	case "tools/call":
		return d.dispatchToolCall(ctx, req), sess.SessionID
	case "resources/read":
		return d.dispatchResourceRead(ctx, req), sess.SessionID
	case "ping":
		return d.dispatchPing(ctx, req), sess.SessionID
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil), sess.SessionID
	}
}

func (d *Dispatcher) aggregateResources(ctx context.Context) []mcpclient.Resource {
	agg := AggregateTools(ctx, d.rtbl, d.upstreamTimeout) // establishes which agents are live; resources fetched below
	var all []mcpclient.Resource
	for agentName := range agg.ByAgent {
		route, ok := d.rtbl.Get(agentName)
		if !ok {
			continue
		}
		baseURL := fmt.Sprintf("http://127.0.0.1:%d/mcp", route.HostPort)
		client := mcpclient.New(baseURL, d.upstreamTimeout)
		if err := client.Initialize(ctx); err == nil {
			if resources, err := client.ListResources(ctx); err == nil {
				all = append(all, resources...)
			}
		}
		client.Close(ctx)
	}
	return all
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Agent     string                 `json:"agent"`
	Meta      struct {
		Router struct {
			Agent string `json:"agent"`
		} `json:"router"`
	} `json:"_meta"`
}

func (d *Dispatcher) dispatchToolCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "invalid tools/call params", nil)
	}

	explicitAgent := params.Agent
	if explicitAgent == "" {
		explicitAgent = params.Meta.Router.Agent
	}

	agg := AggregateTools(ctx, d.rtbl, d.upstreamTimeout)
	agentName, ambiguous, found := ResolveToolAgent(agg, params.Name, explicitAgent)
	if !found {
		if len(ambiguous) > 1 {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError,
				fmt.Sprintf("tool %q is ambiguous across agents", params.Name),
				map[string]interface{}{"agents": ambiguous})
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError,
			fmt.Sprintf("tool %q was not found", params.Name), nil)
	}

	route, ok := d.rtbl.Get(agentName)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, fmt.Sprintf("agent %q is not routable", agentName), nil)
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d/mcp", route.HostPort)
	client := mcpclient.New(baseURL, d.upstreamTimeout)
	defer client.Close(ctx)

	if err := client.Initialize(ctx); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil)
	}
	result, err := client.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil)
	}
	var raw interface{}
	json.Unmarshal(result, &raw)
	return jsonrpc.NewResponse(req.ID, raw)
}

func (d *Dispatcher) dispatchResourceRead(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "invalid resources/read params", nil)
	}

	var matches []string
	for agentName := range liveAgents(d.rtbl) {
		route, _ := d.rtbl.Get(agentName)
		baseURL := fmt.Sprintf("http://127.0.0.1:%d/mcp", route.HostPort)
		client := mcpclient.New(baseURL, d.upstreamTimeout)
		if err := client.Initialize(ctx); err == nil {
			if resources, err := client.ListResources(ctx); err == nil {
				for _, r := range resources {
					if r.URI == params.URI {
						matches = append(matches, agentName)
						break
					}
				}
			}
		}
		client.Close(ctx)
	}

	switch len(matches) {
	case 0:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, fmt.Sprintf("resource %q was not found", params.URI), nil)
	case 1:
		route, _ := d.rtbl.Get(matches[0])
		baseURL := fmt.Sprintf("http://127.0.0.1:%d/mcp", route.HostPort)
		client := mcpclient.New(baseURL, d.upstreamTimeout)
		defer client.Close(ctx)
		if err := client.Initialize(ctx); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil)
		}
		result, err := client.ReadResource(ctx, params.URI)
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil)
		}
		var raw interface{}
		json.Unmarshal(result, &raw)
		return jsonrpc.NewResponse(req.ID, raw)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError,
			fmt.Sprintf("resource %q is ambiguous across agents", params.URI),
			map[string]interface{}{"agents": matches})
	}
}

func (d *Dispatcher) dispatchPing(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params struct {
		Agent string `json:"agent"`
	}
	json.Unmarshal(req.Params, &params)
	if params.Agent == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "ping requires params.agent", nil)
	}

	route, ok := d.rtbl.Get(params.Agent)
	if !ok || route.Disabled || route.HostPort <= 0 {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, fmt.Sprintf("agent %q is not routable", params.Agent), nil)
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d/mcp", route.HostPort)
	client := mcpclient.New(baseURL, d.upstreamTimeout)
	defer client.Close(ctx)

	if err := client.Initialize(ctx); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil)
	}
	if err := client.Ping(ctx); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil)
	}
	return jsonrpc.NewResponse(req.ID, map[string]interface{}{"status": "ok"})
}
