// Package server exposes the summary job pipeline over HTTP: submission,
// polling, cancellation, a WebSocket push stream per job and a health endpoint.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/recap/ai/provider"
	"github.com/teranos/recap/am"
	"github.com/teranos/recap/errors"
	"github.com/teranos/recap/pulse/async"
	"github.com/teranos/recap/pulse/budget"
	"github.com/teranos/recap/summary"
)

// ShutdownTimeout bounds graceful HTTP shutdown
const ShutdownTimeout = 10 * time.Second

// SummaryReader returns the current summary stored for a meeting
type SummaryReader interface {
	GetSummary(ctx context.Context, meetingID string) (*summary.Summary, string, error)
}

// ProviderSet reports which providers are usable and accepts new credentials
type ProviderSet interface {
	Available() []provider.ProviderType
	Reload(cfg *am.Config)
}

// Server is the HTTP status API
type Server struct {
	manager   *async.Manager
	summaries SummaryReader
	providers ProviderSet
	budget    *budget.Pool
	logger    *zap.SugaredLogger

	mu             sync.RWMutex
	allowedOrigins []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpServer *http.Server
	handler    http.Handler
}

// Options wires the server's collaborators. Summaries, Providers and Budget may be nil.
type Options struct {
	Manager        *async.Manager
	Summaries      SummaryReader
	Providers      ProviderSet
	Budget         *budget.Pool
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// New creates a server. Call Serve to listen or Handler to mount it elsewhere.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager:        opts.Manager,
		summaries:      opts.Summaries,
		providers:      opts.Providers,
		budget:         opts.Budget,
		logger:         log.Named("server"),
		allowedOrigins: opts.AllowedOrigins,
		ctx:            ctx,
		cancel:         cancel,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ApplyConfig swaps provider credentials, budget limits and allowed origins.
// Registered as an am.ConfigWatcher callback; running jobs keep the provider they resolved.
func (s *Server) ApplyConfig(cfg *am.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if s.providers != nil {
		s.providers.Reload(cfg)
	}
	if s.budget != nil {
		s.budget.Update(cfg.Budget.CallsPerMinute, cfg.Budget.Burst)
	}
	s.setAllowedOrigins(cfg.GetServerAllowedOrigins())

	s.logger.Infow("Configuration reloaded",
		"providers", s.availableProviders(),
		"allowed_origins", len(cfg.Server.AllowedOrigins))
	return nil
}

func (s *Server) setAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigins = origins
}

func (s *Server) availableProviders() []string {
	if s.providers == nil {
		return []string{}
	}
	available := s.providers.Available()
	names := make([]string, len(available))
	for i, pt := range available {
		names[i] = string(pt)
	}
	return names
}

// Serve listens on addr until ctx is cancelled or the listener fails
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithHintf(errors.Wrapf(err, "failed to listen on %s", addr),
			"set server.port in am.toml or pass --port")
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on an existing listener
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow(fmt.Sprintf("HTTP server listening on %s", listener.Addr()))
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting requests, closes job streams and waits for handlers
func (s *Server) Shutdown() error {
	s.logger.Infow("Initiating server shutdown")
	s.cancel()

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "failed to shut down http server")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("Server shutdown complete")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Stream shutdown timed out, forcing exit", "timeout", ShutdownTimeout.String())
	}
	return shutdownErr
}
