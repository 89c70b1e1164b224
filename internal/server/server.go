// Package server exposes sessions over HTTP.
//
// A client creates a session with POST /, receives the URLs of the session's
// endpoints and drives the machine through them. Action batches are passed
// as JSON in the data query parameter and answered as JSON or, when a
// callback is given, as JSON-P.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/marionette/internal/action"
	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/keyboard"
	"github.com/jbweber/marionette/internal/session"
)

// Options configure a Server.
type Options struct {
	// Username and Password enable basic auth on session creation when both
	// are set.
	Username string
	Password string
	// Layout is the keyboard layout for sessions that do not name one.
	Layout string
	// ShutdownTimeout bounds closing the remaining sessions on shutdown.
	ShutdownTimeout time.Duration
}

// Server owns the session registry and serves the HTTP API.
type Server struct {
	hv       hypervisor.Hypervisor
	registry *session.Registry
	opts     Options

	mu        sync.Mutex
	executors map[string]*action.Executor
}

// New returns a Server creating sessions on hv.
func New(hv hypervisor.Hypervisor, opts Options) (*Server, error) {
	if opts.Layout == "" {
		opts.Layout = keyboard.DefaultLayout
	}
	if _, err := keyboard.Lookup(opts.Layout); err != nil {
		return nil, err
	}
	if (opts.Username == "") != (opts.Password == "") {
		return nil, errors.New("username and password must be set together")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 2 * time.Minute
	}
	return &Server{
		hv:        hv,
		registry:  session.NewRegistry(),
		opts:      opts,
		executors: map[string]*action.Executor{},
	}, nil
}

// Registry returns the sessions owned by the server.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Handler returns the chi router with every route and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recovery)

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(BasicAuth(s.opts.Username, s.opts.Password))
		r.Post("/", s.createSession)
		r.Get("/vm", s.listSessions)
	})

	r.Route("/vm/{vm}", func(r chi.Router) {
		r.Use(s.sessionCtx)
		r.Get("/", s.getSession)
		r.Post("/run", s.runProcess)
		r.Post("/close", s.closeSession)
		r.Get("/api/execute", s.execute)
		r.Get("/api/executeIsolated", s.executeIsolated)
	})

	return r
}

// ListenAndServe serves on addr until ctx is done, then stops accepting
// requests and closes every remaining session.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", addr).Info("marionette server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logrus.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, fmt.Errorf("failed to serve on %s: %w", addr, serveErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down server: %w", err))
	}
	if n := s.registry.Len(); n > 0 {
		logrus.WithField("sessions", n).Info("Closing remaining sessions...")
	}
	if err := s.registry.CloseAll(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	logrus.Info("Server stopped")
	return errors.Join(errs...)
}

// executor returns the cached executor for layout.
func (s *Server) executor(layout string) (*action.Executor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.executors[layout]; ok {
		return e, nil
	}
	l, err := keyboard.Lookup(layout)
	if err != nil {
		return nil, err
	}
	e := action.NewExecutor(l)
	s.executors[layout] = e
	return e, nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}
