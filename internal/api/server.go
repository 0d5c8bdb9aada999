// Package api exposes the engine's read-only inspection surface: current
// phase and risk state, open positions, recent events, and a Prometheus
// scrape endpoint. It never accepts a trade-control request — every
// mutation path belongs to the trading loop alone. Grounded on the
// reference's Server/Client/readPump/writePump shape in the prior
// api/server.go and api/websocket.go, narrowed from a backtest-control
// API to a push-only event feed and stripped of every handler that
// could mutate engine state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/autopilot-engine/internal/events"
	"github.com/atlas-desktop/autopilot-engine/internal/loop"
	"github.com/atlas-desktop/autopilot-engine/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Config configures the inspection server's listen address and CORS
// policy.
type Config struct {
	ListenAddr         string
	CORSAllowedOrigins []string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

// DefaultConfig returns representative defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8080",
		CORSAllowedOrigins: []string{"*"},
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
	}
}

// Server is the read-only HTTP/WebSocket inspection surface.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	supervisor *loop.Supervisor
	bus        *events.Bus

	clients map[string]*client
}

// client is one connected WebSocket subscriber to the live event feed.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// New builds an inspection server over the already-running supervisor and
// event bus. It never holds a reference to anything that can submit
// orders or modify positions.
func New(logger *zap.Logger, cfg Config, supervisor *loop.Supervisor, bus *events.Bus) *Server {
	s := &Server{
		logger:     logger.Named("api"),
		cfg:        cfg,
		router:     mux.NewRouter(),
		supervisor: supervisor,
		bus:        bus,
		clients:    make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router for tests that want to drive
// requests through httptest.NewServer without binding a real socket.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/state", s.handleState).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/risk", s.handleRisk).Methods("GET")
	s.router.HandleFunc("/api/v1/events", s.handleEvents).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting inspection api", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("inspection api: %w", err)
	}
	return nil
}

// Stop closes every WebSocket connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.supervisor.Snapshot()
	writeJSON(w, map[string]interface{}{
		"cycleId":        snap.CycleID,
		"phase":          snap.Phase,
		"pollIntervalMs": snap.PollInterval.Milliseconds(),
		"openPositions":  len(snap.Positions),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	snap := s.supervisor.Snapshot()
	writeJSON(w, map[string]interface{}{"positions": snap.Positions, "count": len(snap.Positions)})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	snap := s.supervisor.Snapshot()
	writeJSON(w, snap.RiskState)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, map[string]interface{}{"events": s.bus.Recent(n)})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
