package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Login is rate limited but checks credentials itself.
		r.With(s.throttleMiddleware).Post("/auth/login", s.handleLogin)

		// The ticket is the credential for the websocket upgrade.
		r.With(s.throttleMiddleware).Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.throttleMiddleware)
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Post("/scan", s.handleScan)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Delete("/", s.handleClearDevices)
			})

			r.Post("/wake/{mac}", s.handleWake)

			r.Get("/status", s.handleStatus)
			r.Get("/metrics", s.handleMetrics)
		})
	})

	if s.panel != nil {
		r.Get("/", redirectToPanel)
		r.Get("/ui", redirectToPanel)
		r.Get("/ui/*", s.panel.ServeHTTP)
	}

	return r
}

func redirectToPanel(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusFound)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
