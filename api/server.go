package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/graphql-go/graphql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/service"
	"github.com/wricardo/tictactoe/graph"
	"github.com/wricardo/tictactoe/metrics"
	"github.com/wricardo/tictactoe/transport/websocket"
)

const transportName = "http"

// Engine runs one shot GraphQL operations
type Engine interface {
	Operation(query string) (string, error)
	Execute(ctx context.Context, req graph.Request, scope *service.Scope) *graphql.Result
}

// Scopes restores the scope of a request from its bearer token
type Scopes interface {
	NewScopeWithToken(token string) (*service.Scope, error)
}

// Config holds the optional settings of the server
type Config struct {
	// StaticDir is served under / when set
	StaticDir string
	// RateLimit applies to /graphql; a zero Rate disables it
	RateLimit RateLimiterConfig
	// Gatherer is served on /metrics when set
	Gatherer prometheus.Gatherer
	Metrics  metrics.Recorder
	// Gauges feeds /healthz
	Gauges metrics.Gauges
	Logger *slog.Logger
}

// Server represents the HTTP API server
type Server struct {
	engine  Engine
	scopes  Scopes
	hub     *websocket.Hub
	router  *mux.Router
	limiter *RateLimiter
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewServer creates a new API server
func NewServer(engine Engine, scopes Scopes, hub *websocket.Hub, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	s := &Server{
		engine:  engine,
		scopes:  scopes,
		hub:     hub,
		router:  mux.NewRouter(),
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "api")),
		metrics: cfg.Metrics,
	}
	if cfg.RateLimit.Rate > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	var graphqlHandler http.Handler = http.HandlerFunc(s.handleGraphQL)
	if s.limiter != nil {
		graphqlHandler = s.limiter.Middleware(graphqlHandler)
	}
	s.router.Handle("/graphql", graphqlHandler).Methods("GET", "POST")

	if s.hub != nil {
		s.router.HandleFunc("/graphql/ws", s.hub.ServeWS)
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	if s.cfg.Gatherer != nil {
		s.router.Handle("/metrics", metrics.Handler(s.cfg.Gatherer)).Methods("GET")
	}

	if s.cfg.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background work of the server
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// GraphQL Handler

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graph.Request
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if vars := q.Get("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				respondError(w, http.StatusBadRequest, "invalid variables")
				return
			}
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	scope, err := s.scopes.NewScopeWithToken(bearerToken(r))
	if err != nil {
		status := http.StatusBadRequest
		if engine.IsKind(err, engine.KindToken) {
			status = http.StatusUnauthorized
		}
		respondJSON(w, status, graph.ErrorResult(err))
		return
	}

	op, err := s.engine.Operation(req.Query)
	if err != nil {
		s.metrics.CommandFailed(transportName, "invalid")
		respondJSON(w, http.StatusBadRequest, graph.ErrorResult(err))
		return
	}
	if op == graph.OperationSubscription {
		respondError(w, http.StatusBadRequest, "subscriptions are served on /graphql/ws")
		return
	}
	s.metrics.CommandHandled(transportName, op)

	scope.Session().Touch()
	res := s.engine.Execute(r.Context(), req, scope)
	if res.HasErrors() {
		s.metrics.CommandFailed(transportName, op)
	}
	respondJSON(w, http.StatusOK, res)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
	}
	if g := s.cfg.Gauges; g != nil {
		resp["lobby_users"] = g.LobbyUsers()
		resp["matches"] = g.Matches()
		resp["sessions"] = g.SessionCount()
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
