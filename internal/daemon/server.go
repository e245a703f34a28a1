package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ihavespoons/driftline/internal/config"
	"github.com/ihavespoons/driftline/internal/ingest"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/store"
	"github.com/ihavespoons/driftline/internal/trajectory"
)

// cleanupInterval is how often the session TTL sweep runs.
const cleanupInterval = time.Hour

// Server represents the driftline HTTP daemon
type Server struct {
	httpServer  *http.Server
	handlers    *Handlers
	broadcaster *SSEBroadcaster
	lifecycle   *Lifecycle
	mgr         *ingest.Manager
	store       store.SessionStore
	sessionTTL  time.Duration
	port        int
	stopCleanup chan struct{}
}

// NewServer creates a new daemon server. st may be nil for in-memory-only
// operation.
func NewServer(cfg *config.Config, mgr *ingest.Manager, st store.SessionStore, version string) *Server {
	handlers := NewHandlers(mgr, st, version)
	broadcaster := NewSSEBroadcaster()
	lifecycle := NewLifecycle(cfg.Settings.Daemon)

	port := cfg.Settings.Daemon.Port
	if port == 0 {
		port = 8692
	}

	// Every accepted event becomes an SSE push
	mgr.SetOnUpdate(func(sessionID string, snap trajectory.Snapshot) {
		broadcaster.Broadcast(SSEEvent{
			Type: SSESnapshotUpdate,
			Data: snap,
		})
	})

	sessionTTL, err := time.ParseDuration(cfg.Settings.Store.SessionTTL)
	if err != nil || sessionTTL <= 0 {
		sessionTTL = 168 * time.Hour
	}

	mux := http.NewServeMux()

	// Static dashboard
	mux.HandleFunc("GET /", serveIndex)
	mux.HandleFunc("GET /static/app.js", serveAppJS)
	mux.HandleFunc("GET /static/styles.css", serveStylesCSS)

	// API endpoints
	mux.HandleFunc("GET /health", handlers.Health)
	mux.HandleFunc("GET /api/sessions", handlers.Sessions)
	mux.HandleFunc("GET /api/sessions/{id}/snapshot", handlers.Snapshot)
	mux.HandleFunc("GET /api/sessions/{id}/predictions", handlers.Predictions)
	mux.HandleFunc("GET /api/sessions/{id}/segments", handlers.Segments)
	mux.HandleFunc("POST /api/sessions/{id}/close", handlers.CloseSession)
	mux.HandleFunc("POST /api/events", handlers.IngestEvent)
	mux.HandleFunc("GET /api/stats", handlers.Stats)

	// SSE endpoint
	mux.HandleFunc("GET /sse/events", broadcaster.ServeHTTP)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", port),
			Handler:           corsMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		handlers:    handlers,
		broadcaster: broadcaster,
		lifecycle:   lifecycle,
		mgr:         mgr,
		store:       st,
		sessionTTL:  sessionTTL,
		port:        port,
		stopCleanup: make(chan struct{}),
	}
}

// Start starts the server
func (s *Server) Start(ctx context.Context) error {
	if err := s.lifecycle.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	s.broadcaster.Start(ctx)

	if s.store != nil {
		go s.runCleanup(ctx)
	}

	logger.Info().
		Int("port", s.port).
		Str("url", fmt.Sprintf("http://127.0.0.1:%d", s.port)).
		Msg("Starting driftline daemon")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	logger.Info().Msg("Stopping driftline daemon")

	close(s.stopCleanup)
	s.broadcaster.Stop()
	_ = s.lifecycle.RemovePID()

	return s.httpServer.Shutdown(ctx)
}

// Port returns the server port
func (s *Server) Port() int {
	return s.port
}

// Lifecycle returns the lifecycle manager
func (s *Server) Lifecycle() *Lifecycle {
	return s.lifecycle
}

func (s *Server) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			if _, err := s.store.CleanupOldSessions(s.sessionTTL); err != nil {
				logger.Warn().Err(err).Msg("Session cleanup failed")
			}
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func serveAppJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write(appJS)
}

func serveStylesCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write(stylesCSS)
}
