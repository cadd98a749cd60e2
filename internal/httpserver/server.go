// Package httpserver is C10 HttpSurface: a thin REST/SSE/WebSocket mapper
// in front of TurnController, the approval/interaction coordinators, the
// EventBus, and TerminalMux. Routing uses one gorilla/mux HandleFunc per
// route with mux.Vars for path params.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codex-web/agent-gateway/internal/approval"
	"github.com/codex-web/agent-gateway/internal/bridge"
	"github.com/codex-web/agent-gateway/internal/contextresolver"
	"github.com/codex-web/agent-gateway/internal/domain"
	"github.com/codex-web/agent-gateway/internal/eventbus"
	"github.com/codex-web/agent-gateway/internal/gatewaylog"
	"github.com/codex-web/agent-gateway/internal/interaction"
	"github.com/codex-web/agent-gateway/internal/store"
	"github.com/codex-web/agent-gateway/internal/terminal"
	"github.com/codex-web/agent-gateway/internal/turn"
)

// RPC is the subset of *bridge.Bridge the surface calls directly (model
// listing, rate limits) without going through TurnController.
type RPC interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Status() (bridge.Status, string)
}

// Store is the subset of *store.Store the surface reads directly.
type Store interface {
	GetTurn(ctx context.Context, turnID string) (domain.Turn, error)
	ListTurnsByThread(ctx context.Context, threadID string) ([]domain.Turn, error)
	ListGatewayEventsSince(ctx context.Context, threadID string, sinceSeq int64, limit int) ([]domain.GatewayEvent, error)
}

// Server holds every dependency the route handlers need.
type Server struct {
	cfg           CORSPolicy
	rpc           RPC
	controller    *turn.Controller
	approvals     *approval.Coordinator
	interacts     *interaction.Coordinator
	bus           *eventbus.Bus
	store         Store
	resolver      *contextresolver.Resolver
	mux           *terminal.Mux
	log           *gatewaylog.Logger
	wsUpgrader    websocket.Upgrader
	sessionsDir   string
	registerer    prometheus.Registerer
}

// CORSPolicy is the subset of *config.Config the surface needs for origin
// checks, kept as an interface so httpserver doesn't import config directly.
type CORSPolicy interface {
	AllowsOrigin(origin string) bool
}

// Deps bundles every collaborator NewServer wires together.
type Deps struct {
	CORS        CORSPolicy
	RPC         RPC
	Controller  *turn.Controller
	Approvals   *approval.Coordinator
	Interacts   *interaction.Coordinator
	Bus         *eventbus.Bus
	Store       Store
	Resolver    *contextresolver.Resolver
	Terminal    *terminal.Mux
	SessionsDir string
	Registerer  prometheus.Registerer
}

// NewServer builds a Server. If deps.Registerer is non-nil, /metrics is
// wired to it in addition to the route table.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:         deps.CORS,
		rpc:         deps.RPC,
		controller:  deps.Controller,
		approvals:   deps.Approvals,
		interacts:   deps.Interacts,
		bus:         deps.Bus,
		store:       deps.Store,
		resolver:    deps.Resolver,
		mux:         deps.Terminal,
		sessionsDir: deps.SessionsDir,
		registerer:  deps.Registerer,
		log:         gatewaylog.New("http"),
	}
	s.wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Origin is accepted at the protocol-upgrade level unconditionally;
		// handleTerminalWS rejects a disallowed origin after upgrading, with
		// a close code 1008 per §4.9, rather than a bare HTTP 403 here.
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return s
}

// Router builds the full §6 route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/models", s.handleListModels).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/account/rate-limits", s.handleRateLimits).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/threads", s.handleListThreads).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/threads", s.handleStartThread).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/threads/{id}", s.handleGetThread).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/context", s.handleThreadContext).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/timeline", s.handleThreadTimeline).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/turns", s.handleStartTurn).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/review", s.handleStartReview).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/control", s.handleControl).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/approvals/pending", s.handleListPendingApprovals).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/approvals/{aid}", s.handleDecideApproval).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/interactions/pending", s.handleListPendingInteractions).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/interactions/{iid}/respond", s.handleRespondInteraction).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/threads/{id}/events", s.handleEventStream).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/terminal/ws", s.handleTerminalWS)
	r.Handle("/metrics", s.metricsHandler()).Methods("GET")

	return r
}

// metricsHandler serves deps.Registerer's collectors when it was supplied
// as a *prometheus.Registry (also a Gatherer), falling back to the global
// default registry otherwise.
func (s *Server) metricsHandler() http.Handler {
	if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.cfg.AllowsOrigin(origin) && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, lastErr := s.rpc.Status()
	body := map[string]any{"status": string(status)}
	if status == bridge.StatusDisconnected && lastErr != "" {
		body["status"] = "degraded"
		body["lastError"] = lastErr
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
