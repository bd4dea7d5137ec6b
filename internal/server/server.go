// Package server exposes the daemon's operations over HTTP: JSON-RPC 2.0 on
// /rpc, a health summary on /healthz, and optionally Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/autobuild/internal/config"
	"git.home.luguber.info/inful/autobuild/internal/daemon"
	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/history"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

// EngineAPI is the operation surface the RPC layer drives. *daemon.Engine
// satisfies it.
type EngineAPI interface {
	ConfigureProfile(spec daemon.ProfileSpec) error
	ToggleAutobuild(name string, enabled bool) error
	StartBuild(name string) (int, error)
	StopBuild(name string) (daemon.StopResult, error)
	GetStatus(name string) (daemon.StatusReport, error)
	ListProfiles() (map[string]state.ProfileStatus, error)
	GetLog(name string, tailLines int) (daemon.LogResult, error)
	DeleteProfile(name string) error
	Snapshot() daemon.Snapshot
	StartTime() time.Time
}

// HistoryAPI lists recorded runs. A nil HistoryAPI disables get_history.
type HistoryAPI interface {
	ListByProfile(ctx context.Context, profile string, limit int) ([]history.Run, error)
	ListRecent(ctx context.Context, limit int) ([]history.Run, error)
}

// Server manages the daemon's single HTTP endpoint.
type Server struct {
	cfg     *config.Config
	engine  EngineAPI
	history HistoryAPI
	metrics http.Handler // nil leaves the metrics route unregistered

	httpServer *http.Server
	listener   net.Listener
}

// New constructs a server. history and metricsHandler may be nil when the
// corresponding feature is disabled.
func New(cfg *config.Config, engine EngineAPI, history HistoryAPI, metricsHandler http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		history: history,
		metrics: metricsHandler,
	}
}

// Handler builds the full route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.IsEnabled() {
		mux.Handle(s.cfg.Metrics.Path, s.metrics)
	}
	return Chain(mux, loggingMiddleware, panicRecoveryMiddleware)
}

// Start binds the configured port and begins serving. The port is bound
// before the serve goroutine starts so startup fails fast on a busy address.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return aerrors.Wrap(err, aerrors.CategoryDaemon, aerrors.SeverityFatal,
			fmt.Sprintf("failed to bind %s", addr))
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts down the HTTP server, letting in-flight requests
// finish within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}

// Addr returns the bound address, or nil before Start. Useful when the
// configured port is 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

type healthResponse struct {
	Status        string          `json:"status"`
	Engine        daemon.Snapshot `json:"engine"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	snap := s.engine.Snapshot()
	status := "ok"
	if snap.Status != daemon.StatusRunning {
		status = "degraded"
	}
	uptime := 0.0
	if start := s.engine.StartTime(); !start.IsZero() {
		uptime = time.Since(start).Seconds()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Engine:        snap,
		UptimeSeconds: uptime,
		Timestamp:     time.Now().UTC(),
	})
}
