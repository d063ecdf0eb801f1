// Package api provides the read-only status server described in
// spec.md §5.3: a localhost-only HTTP surface exposing the daemon's
// current scan state and health, so an editor plugin or shell prompt
// can poll progress without parsing the Markdown report. Grounded on
// the teacher's internal/api/router.go chi wiring, trimmed to the two
// routes this daemon needs and stripped of the teacher's API-key and
// multi-project routing since this daemon serves exactly one target
// directory to exactly one local user.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nightaudit/codescanner/internal/supervisor"
)

// Server serves the status/health endpoints over a localhost-only
// listener.
type Server struct {
	sup    *supervisor.Supervisor
	router chi.Router
}

// NewServer builds the status server for sup.
func NewServer(sup *supervisor.Supervisor) *Server {
	s := &Server{sup: sup}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/status", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
