package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/florianilch/switchboard/internal/store"
)

// Service is the account management surface the server exposes over HTTP.
// Implemented by app.App.
type Service interface {
	Accounts() []store.Account
	CurrentID() string
	ImportCurrent(name, notes string) (store.Account, error)
	Switch(ctx context.Context, id string) error
	Delete(id string) error
	Update(id string, name, notes *string) (store.Account, error)
	Export() ([]byte, error)
	Import(data []byte) error
	Sync(id string) (bool, error)
	Quota(ctx context.Context, id string) (store.QuotaSnapshot, error)
	CheckConflict() (string, bool)
	Settings() store.Settings
	UpdateSettings(settings store.Settings) error
	RequestFixTicket() string
	FixQuarantine(ctx context.Context, ticket string) error
	Subscribe() (<-chan string, func())
}

// Server is the local HTTP API consumed by front ends. It is meant to be
// bound to loopback; there is no authentication layer.
type Server struct {
	svc    Service
	router chi.Router
	server *http.Server
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates the API server around a Service.
func New(svc Service) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service must not be nil")
	}

	s := &Server{svc: svc}

	r := chi.NewRouter()
	r.Use(Logging(slog.Default()))
	r.Use(Recovery)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/accounts", s.handleAccounts)
		r.Post("/accounts", s.handleImportCurrent)
		r.Get("/accounts/current", s.handleCurrent)
		r.Patch("/accounts/{id}", s.handleUpdate)
		r.Delete("/accounts/{id}", s.handleDelete)
		r.Post("/accounts/{id}/switch", s.handleSwitch)
		r.Post("/accounts/{id}/sync", s.handleSync)
		r.Get("/accounts/{id}/quota", s.handleQuota)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.Get("/settings", s.handleSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Get("/conflict", s.handleConflict)

		r.Post("/quarantine/ticket", s.handleFixTicket)
		r.Post("/quarantine/fix", s.handleFixQuarantine)

		r.Get("/events", s.handleEvents)
	})

	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:     s,
		ReadTimeout: 30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		IdleTimeout: 90 * time.Second, // Inbound: Keep-alive wait for next request from client
		// No WriteTimeout: the events endpoint streams for the client's lifetime.
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
