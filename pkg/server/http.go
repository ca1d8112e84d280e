// Copyright 2025 Praxis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/praxisagents/praxis/pkg/auth"
	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/observability"
	"github.com/praxisagents/praxis/pkg/passport"
)

// HTTPServer serves agents over JSON-RPC with A2A-compliant discovery.
//
// Routes:
//   - GET  /.well-known/agent-card.json  → default agent card
//   - GET  /agents                       → all agent cards (discovery)
//   - POST /agents/{name}                → JSON-RPC
//   - GET  /agents/{name}                → agent card
//   - GET  /agents/{name}/.well-known/agent-card.json → agent card
//   - GET  /health
//   - GET  /metrics (when observability metrics are on)
type HTTPServer struct {
	cfg    *config.Config
	server *http.Server

	taskStore       a2asrv.TaskStore
	authValidator   auth.TokenValidator
	authInterceptor *auth.Interceptor
	obs             *observability.Manager

	agentJSONRPCHandlers map[string]http.Handler
	agentCardHandlers    map[string]http.Handler
	agentCards           map[string]*a2a.AgentCard

	mu sync.RWMutex
}

// HTTPServerOption configures the HTTP server.
type HTTPServerOption func(*HTTPServer)

// WithTaskStore sets a persistent task store. Without it a2a-go keeps
// tasks in memory.
func WithTaskStore(store a2asrv.TaskStore) HTTPServerOption {
	return func(s *HTTPServer) { s.taskStore = store }
}

// WithAuthValidator enables JWT validation on agent routes.
func WithAuthValidator(validator auth.TokenValidator) HTTPServerOption {
	return func(s *HTTPServer) { s.authValidator = validator }
}

// WithObservability enables request tracing and the metrics endpoint.
func WithObservability(obs *observability.Manager) HTTPServerOption {
	return func(s *HTTPServer) { s.obs = obs }
}

// NewHTTPServer creates the server. executors maps agent name to its
// per-agent executor.
func NewHTTPServer(cfg *config.Config, executors map[string]*Executor, opts ...HTTPServerOption) *HTTPServer {
	cfg.Server.SetDefaults()

	s := &HTTPServer{
		cfg:                  cfg,
		agentJSONRPCHandlers: make(map[string]http.Handler),
		agentCardHandlers:    make(map[string]http.Handler),
		agentCards:           make(map[string]*a2a.AgentCard),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.buildAgentHandlers(executors)
	return s
}

func (s *HTTPServer) buildAgentHandlers(executors map[string]*Executor) {
	if s.authValidator != nil {
		s.authInterceptor = auth.NewInterceptor(false)
	}

	for name, agentCfg := range s.cfg.Agents {
		executor, ok := executors[name]
		if !ok {
			slog.Warn("no executor for agent, skipping", "agent", name)
			continue
		}

		card := s.buildAgentCard(name, agentCfg)
		s.agentCards[name] = card

		var handlerOpts []a2asrv.RequestHandlerOption
		if s.taskStore != nil {
			handlerOpts = append(handlerOpts, a2asrv.WithTaskStore(s.taskStore))
		}
		if s.authInterceptor != nil {
			handlerOpts = append(handlerOpts, a2asrv.WithCallInterceptor(s.authInterceptor))
		}

		requestHandler := a2asrv.NewHandler(executor, handlerOpts...)
		s.agentJSONRPCHandlers[name] = a2asrv.NewJSONRPCHandler(requestHandler)
		s.agentCardHandlers[name] = a2asrv.NewStaticAgentCardHandler(card)
	}
}

func (s *HTTPServer) buildAgentCard(name string, cfg *config.AgentConfig) *a2a.AgentCard {
	version := s.cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	card := &a2a.AgentCard{
		Name:               name,
		Description:        cfg.Description,
		URL:                s.cfg.Server.BaseURL + "/agents/" + name,
		Version:            version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          name,
			Name:        name,
			Description: cfg.Description,
			Tags:        []string{"general", "assistant"},
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming: true,
			// Declares secure-passport support so callers know they may
			// attach caller context to messages.
			Extensions: []a2a.AgentExtension{passport.Declaration()},
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "Praxis",
			URL: "https://github.com/praxisagents/praxis",
		},
	}

	if s.authValidator != nil {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{
			{"BearerAuth": a2a.SecuritySchemeScopes{}},
		}
	}
	return card
}

// Start runs the server until ctx is canceled or ListenAndServe fails.
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := s.setupRoutes()

	var handler http.Handler = mux

	if s.authValidator != nil {
		excluded := append([]string{}, s.cfg.Auth.ExcludePaths...)
		excluded = append(excluded, "/agents", "/agents/")
		if s.obs != nil && s.obs.MetricsEnabled() {
			excluded = append(excluded, s.obs.MetricsEndpoint())
		}
		handler = auth.MiddlewareWithExclusions(s.authValidator, excluded)(handler)
		slog.Info("authentication enabled", "excluded_paths", excluded)
	}

	handler = corsMiddleware(handler)
	handler = loggingMiddleware(handler)

	if s.obs != nil {
		handler = observability.HTTPMiddleware(s.obs.Tracer(), s.obs.Metrics())(handler)
	}

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests with a 5 second grace period.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// Address returns the listen address.
func (s *HTTPServer) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

func (s *HTTPServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	if s.obs != nil && s.obs.MetricsEnabled() {
		endpoint := s.obs.MetricsEndpoint()
		mux.Handle(endpoint, s.obs.MetricsHandler())
		slog.Info("metrics endpoint enabled", "path", endpoint)
	}

	// Server-level well-known card: single-agent clients expect the
	// default agent here.
	mux.HandleFunc(a2asrv.WellKnownAgentCardPath, s.handleDefaultAgentCard)

	mux.HandleFunc("/agents", s.handleDiscovery)
	mux.HandleFunc("/agents/", s.handleAgentRoutes)

	return mux
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleDefaultAgentCard(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, handler := range s.agentCardHandlers {
		handler.ServeHTTP(w, r)
		return
	}
	http.Error(w, "no agents configured", http.StatusNotFound)
}

// handleDiscovery lists agent cards. Internal agents only appear for
// authenticated callers.
func (s *HTTPServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	authenticated := s.isAuthenticated(r)

	agents := make([]*a2a.AgentCard, 0, len(s.agentCards))
	for name, card := range s.agentCards {
		cfg, ok := s.cfg.Agents[name]
		if !ok {
			continue
		}
		if cfg.Visibility == "internal" && !authenticated {
			continue
		}
		agents = append(agents, card)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"agents": agents,
		"total":  len(agents),
	})
}

func (s *HTTPServer) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/agents/")
	if path == "" {
		http.Error(w, "agent name required", http.StatusBadRequest)
		return
	}

	name, subPath, _ := strings.Cut(path, "/")
	if subPath != "" {
		subPath = "/" + subPath
	}

	s.mu.RLock()
	jsonRPCHandler, ok := s.agentJSONRPCHandlers[name]
	if !ok {
		s.mu.RUnlock()
		http.Error(w, "agent not found: "+name, http.StatusNotFound)
		return
	}

	if cfg, ok := s.cfg.Agents[name]; ok && cfg.Visibility == "internal" {
		if s.authValidator != nil && !s.isAuthenticated(r) {
			s.mu.RUnlock()
			http.Error(w, "unauthorized: agent is internal", http.StatusUnauthorized)
			return
		}
	}

	cardHandler := s.agentCardHandlers[name]
	s.mu.RUnlock()

	switch {
	case subPath == "" || subPath == "/":
		if r.Method == http.MethodPost {
			jsonRPCHandler.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet || r.Method == http.MethodOptions {
			cardHandler.ServeHTTP(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

	case subPath == a2asrv.WellKnownAgentCardPath:
		cardHandler.ServeHTTP(w, r)

	default:
		http.NotFound(w, r)
	}
}

func (s *HTTPServer) isAuthenticated(r *http.Request) bool {
	if s.authValidator == nil {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	_, err := s.authValidator.ValidateToken(r.Context(), token)
	return err == nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware leaves the ResponseWriter unwrapped so streaming
// handlers keep http.Flusher.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
