package router

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/common/httpmw"
	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/registry"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/pkg/jsonrpc"
)

const sessionHeader = "mcp-session-id"

// Server is RT: the HTTP server exposing /mcp, /mcps/<agent>/mcp, and
// /health.
type Server struct {
	mu      sync.RWMutex
	running bool

	engine     *gin.Engine
	httpServer *http.Server

	sessions   *SessionStore
	dispatcher *Dispatcher
	proxy      *AgentProxy

	rtbl *routingtable.Table
	ar   *registry.Registry
	auth AuthGate
	log  *logger.Logger
}

// New wires a Server around rtbl/ar and an AuthGate, registering every
// route  names.
func New(rtbl *routingtable.Table, ar *registry.Registry, auth AuthGate, log *logger.Logger) *Server {
	if auth == nil {
		auth = AllowAllAuthGate{}
	}
	log = log.WithComponent("router")

	sessions := NewSessionStore()
	s := &Server{
		engine:     gin.New(),
		sessions:   sessions,
		dispatcher: NewDispatcher(sessions, rtbl, 10*time.Second),
		proxy:      NewAgentProxy(sessions, rtbl, 10*time.Second),
		rtbl:       rtbl,
		ar:         ar,
		auth:       auth,
		log:        log,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(httpmw.RequestLogger(log, "router"))
	s.engine.Use(httpmw.OtelTracing("router"))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	mcp := s.engine.Group("/mcp")
	mcp.Use(s.authMiddleware)
	mcp.POST("", s.handleAggregatedPOST)
	mcp.DELETE("", s.handleAggregatedDelete)
	mcp.GET("", s.handleMethodNotAllowed)

	proxy := s.engine.Group("/mcps/:agent")
	proxy.Use(s.authMiddleware)
	proxy.POST("/mcp", s.handleProxyPOST)
	proxy.DELETE("/mcp", s.handleProxyDelete)
	proxy.GET("/mcp", s.handleMethodNotAllowed)
	s.engine.NoRoute(s.handleProxyNoRoute)
}

// authMiddleware consults AuthGate on every MCP request except /health.
func (s *Server) authMiddleware(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/auth/") {
		c.Next()
		return
	}
	result, err := s.auth.EnsureAuthenticated(c.Request)
	if err != nil || !result.OK {
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "login": "/auth/login"})
		return
	}
	c.Next()
}

// handleHealth reports healthy iff the reconciler can read AR and RTbl
//. Both are in-memory-backed reads that only fail if the
// process itself is in an unrecoverable state, so this is effectively a
// liveness check on the router's own data plane.
func (s *Server) handleHealth(c *gin.Context) {
	_ = s.ar.List()
	_ = s.rtbl.List()
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleMethodNotAllowed(c *gin.Context) {
	c.Header("Allow", "POST, DELETE")
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "event_stream_not_supported"})
}

func (s *Server) handleAggregatedPOST(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "failed to read request body", nil))
		return
	}

	req, rpcErr := jsonrpc.ParseRequest(body)
	if rpcErr != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, nil))
		return
	}

	sessionID := c.GetHeader(sessionHeader)
	resp, newSessionID := s.dispatcher.Dispatch(c.Request.Context(), req, sessionID)
	if newSessionID != "" {
		c.Header(sessionHeader, newSessionID)
	}
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAggregatedDelete(c *gin.Context) {
	sessionID := c.GetHeader(sessionHeader)
	if sessionID != "" {
		s.sessions.DeleteMCPSession(sessionID)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleProxyPOST(c *gin.Context) {
	agentName := c.Param("agent")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported request for agent MCP proxy"})
		return
	}

	req, rpcErr := jsonrpc.ParseRequest(body)
	if rpcErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported request for agent MCP proxy"})
		return
	}

	sessionID := c.GetHeader(sessionHeader)
	resp, newSessionID, err := s.proxy.Dispatch(c.Request.Context(), agentName, req, sessionID)
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeApplicationError, summarizeError(err), nil))
		return
	}
	if newSessionID != "" {
		c.Header(sessionHeader, newSessionID)
	}
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProxyDelete(c *gin.Context) {
	sessionID := c.GetHeader(sessionHeader)
	if sessionID != "" {
		s.proxy.CloseSession(c.Request.Context(), sessionID)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleProxyNoRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found. Use /mcps/<agent>/mcp for MCP access."})
}

// Start begins listening on addr. Blocks until Stop is called or the
// server fails.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	s.running = true
	s.mu.Unlock()

	s.log.Info("router listening", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down within timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.httpServer == nil {
		return nil
	}
	s.running = false
	return s.httpServer.Shutdown(ctx)
}

// Engine exposes the gin.Engine for tests that want httptest.NewServer.
func (s *Server) Engine() http.Handler { return s.engine }
