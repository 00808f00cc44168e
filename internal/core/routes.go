package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the global middleware chain, the public liveness
// endpoint, and the authenticated domain routes.
//
// Ordering rationale for the middleware chain:
//  1. Recoverer       - catches panics; outermost to catch all failures.
//  2. RequestID       - correlation ID for tracing, needed by everything below.
//  3. SecurityHeaders - present on every response, errors included.
//  4. RequestLogger   - structured logging with credential redaction.
//  5. CORS            - browser preflight handling.
//
// The shared-secret check applies only to the authenticated group so that
// the liveness probe stays public.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.Config.Server.CorsAllowedOrigins))

	s.router.Get("/healthz", s.HandleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.AppKeyMiddleware)
		for _, registrar := range s.RouteRegistrars {
			registrar(r)
		}
	})
}

// HandleHealth is the unauthenticated liveness probe. It reports a static
// ok: the process being able to answer is the signal.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
