// Package server is the development server: it proxies the site's real
// backend (or serves the output directory), injects the live-reload
// client into HTML pages and hosts the live-reload socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/sitepipe/internal/config"
	sperrors "github.com/conneroisu/sitepipe/internal/errors"
	"github.com/conneroisu/sitepipe/internal/livereload"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/validation"
)

// StatusPath reports connected clients and failing tasks as JSON.
const StatusPath = "/__sitepipe/status"

// Server is the development server.
type Server struct {
	config      *config.Config
	root        string
	broadcaster *livereload.Broadcaster
	metrics     *metrics.Recorder
	failures    *sperrors.Collector
	logger      logging.Logger

	httpServer   *http.Server
	listener     net.Listener
	serverMutex  sync.RWMutex
	serveErr     chan error
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCollector reports c's failures on the status endpoint.
func WithCollector(c *sperrors.Collector) Option {
	return func(s *Server) { s.failures = c }
}

// New creates a server for the project at root. Nothing listens until
// Start.
func New(root string, cfg *config.Config, broadcaster *livereload.Broadcaster, opts ...Option) (*Server, error) {
	if broadcaster == nil {
		return nil, errors.New("server needs a live reload broadcaster")
	}
	s := &Server{
		config:      cfg,
		root:        root,
		broadcaster: broadcaster,
		serveErr:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewDiscard()
	}
	s.logger = s.logger.WithComponent("server")

	if cfg.Server.Proxy != "" {
		if _, err := url.Parse(cfg.Server.Proxy); err != nil {
			return nil, sperrors.NewConfigError("PROXY_URL", fmt.Sprintf("invalid proxy target %q: %v", cfg.Server.Proxy, err))
		}
	}
	return s, nil
}

// Handler returns the router: live-reload endpoints first, then either
// the proxy or the static output directory for everything else.
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Handle(livereload.SocketPath, s.broadcaster)
	r.Get(livereload.ScriptPath, handleClientScript)
	r.Get(StatusPath, s.handleStatus)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	if s.config.Server.Proxy == "" {
		dir := filepath.Join(s.root, s.config.Paths.Output)
		r.NotFound(newStaticHandler(dir, s.logger).ServeHTTP)
		return r, nil
	}

	target, err := url.Parse(s.config.Server.Proxy)
	if err != nil {
		return nil, sperrors.NewConfigError("PROXY_URL", fmt.Sprintf("invalid proxy target %q: %v", s.config.Server.Proxy, err))
	}
	proxy := newProxy(target, s.logger)
	r.NotFound(proxy.ServeHTTP)
	r.MethodNotAllowed(proxy.ServeHTTP)
	return r, nil
}

// Start binds the listen address and serves in the background until ctx
// is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return sperrors.NewNetworkError("LISTEN", fmt.Sprintf("cannot listen on %s", addr), err)
	}

	s.serverMutex.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Server shutdown failed")
		}
	}()

	address := "http://" + s.Addr()
	s.logger.Info(ctx, "Dev server listening", "url", address, "proxy", s.config.Server.Proxy)
	if s.config.Server.Open {
		go s.openBrowser(ctx, address)
	}
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until the server stopped serving and returns why.
func (s *Server) Wait() error {
	return <-s.serveErr
}

// Shutdown disconnects every browser and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if err := s.broadcaster.Shutdown(ctx); err != nil {
			shutdownErr = err
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("shutting down http server: %w", err)
			}
		}
		s.logger.Info(ctx, "Dev server stopped")
	})

	return shutdownErr
}

// Status is the body of the status endpoint.
type Status struct {
	Mode     string             `json:"mode"`
	Proxy    string             `json:"proxy,omitempty"`
	Clients  int                `json:"clients"`
	Failures []sperrors.Failure `json:"failures"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Mode:     s.config.Mode.String(),
		Proxy:    s.config.Server.Proxy,
		Clients:  s.broadcaster.Clients(),
		Failures: []sperrors.Failure{},
	}
	if s.failures != nil {
		status.Failures = s.failures.Failures()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn(r.Context(), err, "Status response encode failed")
	}
}

func handleClientScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(livereload.ClientScript())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) openBrowser(ctx context.Context, address string) {
	// Validate URL for security before passing to system commands
	if err := validation.ValidateURL(address); err != nil {
		s.logger.Warn(ctx, err, "Not opening browser for invalid URL", "url", address)
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", address).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", address).Start()
	case "darwin":
		err = exec.Command("open", address).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser")
	}
}
