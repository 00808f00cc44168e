// Package core provides the API chassis for URNS. It creates a chi router
// and enforces cross-cutting concerns -- panic recovery, request
// correlation, logging, CORS, and shared-secret authentication -- before
// requests reach the reminder handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"urns/internal/config"
)

// RouteRegistrar mounts a group of domain routes on the router. The
// application entry point populates Server.RouteRegistrars; this indirection
// avoids an import cycle between core and the handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the dependencies of the URNS API, allowing injection
// during testing and distinct configuration for different environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// RouteRegistrars are mounted inside the authenticated route group
	// by MountRoutes.
	RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. It performs a fail-fast check on critical configuration.
//
// The caller is responsible for appending RouteRegistrars and calling
// MountRoutes after construction; this separation lets tests customize
// route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if cfg.Auth.AppKey.Unmask() == "" {
		return nil, fmt.Errorf("auth app key must not be empty")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
