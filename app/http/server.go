package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"holyagents.arpa/app/ledger"
	"holyagents.arpa/app/persona"
	"holyagents.arpa/app/screen"
)

type Config struct {
	ServerURL string
}

// StatsSource summarizes recorded exchanges.
type StatsSource interface {
	Summarize(ctx context.Context, since time.Time) ([]ledger.PersonaSummary, error)
}

type Deps struct {
	Registry *persona.Registry
	Screens  *screen.Manager
	Hub      *Hub
	Renderer *Renderer
	// Stats is nil when the ledger is disabled
	Stats StatsSource
}

type Server struct {
	log            *zap.Logger
	config         Config
	server         *http.Server
	router         chi.Router
	registry       *persona.Registry
	screens        *screen.Manager
	hub            *Hub
	renderer       *Renderer
	stats          StatsSource
	isShuttingDown atomic.Bool
	isReady        atomic.Bool
}

func NewServer(log *zap.Logger, config Config, deps Deps) *Server {
	h := &Server{
		log:      log,
		config:   config,
		registry: deps.Registry,
		screens:  deps.Screens,
		hub:      deps.Hub,
		renderer: deps.Renderer,
		stats:    deps.Stats,
	}
	h.router = h.routes()
	return h
}

// Handler exposes the router, mainly for tests.
func (h *Server) Handler() http.Handler {
	return h.router
}

func (h *Server) Run(ctx context.Context) error {
	su, err := url.ParseRequestURI(h.config.ServerURL)
	if err != nil || su == nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	h.server = &http.Server{
		Addr:              su.Host,
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout, event streams stay open
		IdleTimeout: 120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", su.Host)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", su.Host, err)
	}
	h.isReady.Store(true)

	h.log.Info("Starting http server", zap.String("addr", ln.Addr().String()))
	if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Server) BeginShutdown(ctx context.Context) error {
	h.isShuttingDown.Store(true)
	return nil
}

// Shutdown closes the event streams first so open pages do not hold the server.
func (h *Server) Shutdown(ctx context.Context) error {
	var errs error
	if err := h.hub.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("shutdown event hub: %w", err))
	}
	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	return errs
}

func (h *Server) health(w http.ResponseWriter, r *http.Request) {
	if h.isShuttingDown.Load() { // allow draining by degrading readiness probe
		writeStatus(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeStatus(w, http.StatusOK, "ok")
}

func (h *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if h.isShuttingDown.Load() {
		h.log.Error("Health check failed", zap.String("remoteAddr", r.RemoteAddr))
		http.Error(w, "Service is shutting down.", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Server) ready(w http.ResponseWriter, r *http.Request) {
	if !h.isReady.Load() || h.isShuttingDown.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
