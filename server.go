package vard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/pslog"

	"github.com/varserver/vard/internal/httpapi"
	"github.com/varserver/vard/internal/loggingutil"
	"github.com/varserver/vard/internal/registry"
	"github.com/varserver/vard/internal/version"
)

// Server wraps the HTTP listener, the registry engine, and supporting
// components.
type Server struct {
	cfg        Config
	logger     pslog.Logger
	runID      string
	reg        *registry.List
	handler    *httpapi.Handler
	httpSrv    *http.Server
	metricsSrv *http.Server
	listener   net.Listener
	socketPath string
	preloader  *preloader

	mu       sync.Mutex
	shutdown bool
	readyCh  chan struct{}
	ready    sync.Once
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger   pslog.Logger
	Registry *registry.List
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithRegistry injects a pre-built registry engine (useful for tests and
// embedding).
func WithRegistry(r *registry.List) Option {
	return func(o *options) {
		o.Registry = r
	}
}

// NewServer constructs a vard server according to cfg.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := loggingutil.Ensure(o.Logger)
	reg := o.Registry
	if reg == nil {
		reg = registry.New(loggingutil.WithSubsystem(logger, "registry"))
	}
	runID := uuid.NewString()

	var metrics *httpapi.Metrics
	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		promReg := prometheus.NewRegistry()
		metrics = httpapi.NewMetrics(promReg, reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux}
	}

	handler := httpapi.New(httpapi.Config{
		Registry:     reg,
		Logger:       logger,
		Metrics:      metrics,
		RunID:        runID,
		Version:      version.Current(),
		WatchTimeout: cfg.WatchTimeout,
	})
	mux := http.NewServeMux()
	handler.Register(mux)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		runID:      runID,
		reg:        reg,
		handler:    handler,
		httpSrv:    &http.Server{Handler: mux},
		metricsSrv: metricsSrv,
		readyCh:    make(chan struct{}),
	}
	if cfg.Preload != "" {
		s.preloader = newPreloader(cfg.Preload, reg, loggingutil.WithSubsystem(logger, "preload"))
	}
	return s, nil
}

// Registry exposes the server's registry engine for in-process callers.
func (s *Server) Registry() *registry.List {
	return s.reg
}

// RunID returns the unique identifier assigned to this server process.
func (s *Server) RunID() string {
	return s.runID
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready is closed once the listener is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

// Start runs the server until Shutdown or a fatal listener error. A clean
// http.ErrServerClosed is reported as nil.
func (s *Server) Start() error {
	if s.preloader != nil {
		if err := s.preloader.load(); err != nil {
			return fmt.Errorf("preload: %w", err)
		}
		if s.cfg.PreloadWatch {
			if err := s.preloader.watch(); err != nil {
				return fmt.Errorf("preload watch: %w", err)
			}
		}
	}
	if s.cfg.ListenProto == "unix" {
		if err := os.Remove(s.cfg.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale unix socket: %w", err)
		}
	}
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.listener = ln
	if s.cfg.ListenProto == "unix" {
		s.socketPath = s.cfg.Listen
	}
	if s.metricsSrv != nil {
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Warn("metrics listener failed", "error", err)
			}
		}()
	}
	s.ready.Do(func() { close(s.readyCh) })
	s.logger.Info("listening",
		"network", s.cfg.ListenProto,
		"address", ln.Addr().String(),
		"run_id", s.runID,
	)
	serveErr := s.httpSrv.Serve(ln)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if s.preloader != nil {
		s.preloader.stop()
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.metricsSrv != nil {
		_ = s.metricsSrv.Shutdown(ctx)
	}
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	if s.socketPath != "" {
		_ = os.Remove(s.socketPath)
		s.socketPath = ""
	}
	s.logger.Info("shutdown complete", "run_id", s.runID)
	return nil
}

// StartServer constructs and starts a server in the background, returning a
// stop function once the listener is ready.
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		if err == nil {
			err = errors.New("vard: server exited before becoming ready")
		}
		return nil, nil, err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil, nil, ctx.Err()
	}
	stop := func(stopCtx context.Context) error {
		return srv.Shutdown(stopCtx)
	}
	return srv, stop, nil
}
