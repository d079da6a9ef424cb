// Package api is the operator surface: a JSON HTTP API for admission
// requests, emergency control, violation overrides and the gate exchange,
// plus a websocket feed of admission events. It serves data only; any
// dashboard lives elsewhere.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentgate/agentgate/internal/admission"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/emergency"
	"github.com/agentgate/agentgate/internal/gate"
	"github.com/agentgate/agentgate/internal/ratelimit"
	"github.com/agentgate/agentgate/internal/store"
)

// Server is the operator API server.
type Server struct {
	config     config.ServerConfig
	store      store.Store
	cfgLoader  *config.Loader
	pipeline   *admission.Pipeline
	emergency  *emergency.StateStore
	limiter    *ratelimit.Limiter
	rules      *admission.RuleSet
	gateProto  *gate.Protocol
	transport  gate.Transport
	wsHub      *WebSocketHub
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the operator API server.
func NewServer(
	cfg config.ServerConfig,
	st store.Store,
	cfgLoader *config.Loader,
	pipeline *admission.Pipeline,
	emergencyStore *emergency.StateStore,
	limiter *ratelimit.Limiter,
	rules *admission.RuleSet,
	gateProto *gate.Protocol,
	transport gate.Transport,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:    cfg,
		store:     st,
		cfgLoader: cfgLoader,
		pipeline:  pipeline,
		emergency: emergencyStore,
		limiter:   limiter,
		rules:     rules,
		gateProto: gateProto,
		transport: transport,
		wsHub:     NewWebSocketHub(logger, cfg.CORS),
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "api.Server"),
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Admission
	s.mux.HandleFunc("POST /api/admission/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("GET /api/activity", s.handleListActivity)

	// Emergency control
	s.mux.HandleFunc("GET /api/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /api/agents/{id}/events", s.handleAgentEvents)
	s.mux.HandleFunc("POST /api/agents/{id}/pause", s.handlePauseAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/resume", s.handleResumeAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/stop", s.handleStopAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/restart", s.handleRestartAgent)

	// Violations
	s.mux.HandleFunc("GET /api/violations", s.handleListViolations)
	s.mux.HandleFunc("POST /api/violations/{id}/override", s.handleOverrideViolation)

	// Gate exchange for external responders
	s.mux.HandleFunc("GET /api/gate", s.handleGetGate)
	s.mux.HandleFunc("POST /api/gate/response", s.handleGateResponse)
	s.mux.HandleFunc("GET /api/gate/audits", s.handleListGateAudits)

	// Config
	s.mux.HandleFunc("POST /api/config/reload", s.handleReloadConfig)

	// System — health is always public
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	// WebSocket
	s.mux.HandleFunc("GET /api/ws/events", s.wsHub.HandleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the API server on the given address and blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Evaluate can block on a gate session for the full collect plus
		// confirm timeouts, so no write timeout here.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("operator API listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Agentgate-Agent-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Mux returns the underlying ServeMux for mounting additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// APIAddr makes a listen address from a port.
func APIAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
