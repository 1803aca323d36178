// Package mcpclient implements MCPClient: a stateful
// JSON-RPC client holding one long-lived session per agent base URL.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ploinky/ploinky/pkg/jsonrpc"
)

// Error kinds surfaced by Client operations.
var (
	ErrAgentOffline         = errors.New("AgentOffline")
	ErrAgentProtocolMismatch = errors.New("AgentProtocolMismatch")
)

// RemoteError wraps a JSON-RPC error object returned by the agent.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Tool is the MCP tool shape Client returns from ListTools, with the
// router's own {router:{agent}} annotation attached by the aggregator, not
// by Client itself.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema json.RawMessage        `json:"inputSchema,omitempty"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
}

// Resource is the MCP resource shape Client returns from ListResources.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Client is a single-base-URL MCP JSON-RPC session.
type Client struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	sessionID string
	nextID    int64
}

// New returns a Client for baseURL, e.g. "http://127.0.0.1:10123/mcp".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) nextRequestID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id, _ := json.Marshal(c.nextRequestID())

	var rawParams json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		rawParams = p
	}

	reqBody, err := json.Marshal(jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || isConnRefused(err) {
			return nil, ErrAgentOffline
		}
		return nil, fmt.Errorf("request to agent failed: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("mcp-session-id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentProtocolMismatch, err)
	}
	if rpcResp.Error != nil {
		return nil, &RemoteError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	resultBytes, err := json.Marshal(rpcResp.Result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentProtocolMismatch, err)
	}
	return resultBytes, nil
}

func isConnRefused(err error) bool {
	return err != nil && (bytes.Contains([]byte(err.Error()), []byte("connection refused")) ||
		bytes.Contains([]byte(err.Error()), []byte("no such host")))
}

// Initialize performs the handshake; subsequent calls reuse the resulting
// mcp-session-id.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
	})
	return err
}

// ListTools calls tools/list.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentProtocolMismatch, err)
	}
	return result.Tools, nil
}

// ListResources calls resources/list.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentProtocolMismatch, err)
	}
	return result.Resources, nil
}

// CallTool calls tools/call with name and args, returning the raw result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	return c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
}

// ReadResource calls resources/read for uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return c.call(ctx, "resources/read", map[string]interface{}{"uri": uri})
}

// Ping calls the ping method.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// Close sends DELETE to drop the session and clears local session state.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("mcp-session-id", sessionID)

	resp, err := c.http.Do(req)
	if err == nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return nil
}
