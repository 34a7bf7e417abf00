// Package server provides the HTTP dashboard of the plastic detection session.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/plastisort/internal/app"
	"github.com/ayusman/plastisort/internal/metrics"
	"github.com/ayusman/plastisort/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       *app.App
	Metrics   *metrics.Metrics
	Log       logs.Log
}

// Server represents the HTTP server for the dashboard.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Log == nil {
		config.Log, _ = logs.NewLog()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	if a := s.config.App; a != nil {
		session := api.NewSessionHandler(a, s.config.Log)
		for _, p := range []string{"/api/status", "/api/thresholds", "/api/images", "/api/images/",
			"/api/webcam", "/api/cameras", "/api/export"} {
			s.mux.Handle(p, session)
		}

		hist := api.NewHistoryHandler(a, s.config.Log)
		s.mux.Handle("/api/history", hist)
		s.mux.Handle("/api/history/", hist)
		s.mux.Handle("/api/analytics", hist)

		s.mux.Handle("/api/stream", NewStreamHandler(a))
		s.mux.Handle("/api/live", NewLiveHandler(a, s.config.Log))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.App != nil {
		response["model_loaded"] = s.config.App.Status(r.Context()).ModelLoaded
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.config.Log.Infof("Dashboard listening on http://%s", addr)
	return http.ListenAndServe(addr, s)
}
