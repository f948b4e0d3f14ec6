package vard

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"github.com/varserver/vard/client"
)

// TestServer wraps a running vard.Server with convenient handles for tests.
type TestServer struct {
	Server  *Server
	BaseURL string
	Client  *client.Client
	Config  Config

	stop func(context.Context) error
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return len(p), nil
	}
	lines := bytes.Split(p, []byte{'\n'})
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		w.t.Helper()
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprint(r)
					if strings.Contains(msg, "Log in goroutine after") {
						return
					}
					if strings.Contains(msg, "Log in goroutine during concurrent Cleanups") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	w.mu.Unlock()
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a pslog logger that writes through testing.TB.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	logger := pslog.NewWithOptions(writer, pslog.Options{
		Mode:     pslog.ModeStructured,
		MinLevel: level,
	})
	return logger.With("app", "testserver")
}

// Stop shuts down the server using the provided context.
func (ts *TestServer) Stop(ctx context.Context) error {
	if ts == nil || ts.stop == nil {
		return nil
	}
	return ts.stop(ctx)
}

// URL returns the base URL clients should use to reach the server.
func (ts *TestServer) URL() string {
	if ts == nil {
		return ""
	}
	return ts.BaseURL
}

// NewClient returns a new client configured against the test server.
func (ts *TestServer) NewClient(opts ...client.Option) (*client.Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("nil test server")
	}
	return client.New(ts.BaseURL, opts...)
}

type testServerOptions struct {
	cfg          Config
	cfgSet       bool
	mutators     []func(*Config)
	logger       pslog.Logger
	clientOpts   []client.Option
	startTimeout time.Duration
	logLevel     pslog.Level
	logLevelSet  bool
}

// TestServerOption customises StartTestServer behaviour.
type TestServerOption func(*testServerOptions)

// WithTestConfig provides an explicit Config to use. Missing fields are
// defaulted during validation.
func WithTestConfig(cfg Config) TestServerOption {
	return func(o *testServerOptions) {
		o.cfg = cfg
		o.cfgSet = true
	}
}

// WithTestConfigMutator adjusts the config after defaults are applied.
func WithTestConfigMutator(fn func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		o.mutators = append(o.mutators, fn)
	}
}

// WithTestLogger overrides the logger used by the test server.
func WithTestLogger(l pslog.Logger) TestServerOption {
	return func(o *testServerOptions) {
		o.logger = l
	}
}

// WithTestLogLevel sets the minimum level of the default testing logger.
func WithTestLogLevel(level pslog.Level) TestServerOption {
	return func(o *testServerOptions) {
		o.logLevel = level
		o.logLevelSet = true
	}
}

// WithTestClientOptions passes extra options to the bundled client.
func WithTestClientOptions(opts ...client.Option) TestServerOption {
	return func(o *testServerOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithTestStartTimeout bounds how long StartTestServer waits for readiness.
func WithTestStartTimeout(d time.Duration) TestServerOption {
	return func(o *testServerOptions) {
		o.startTimeout = d
	}
}

// StartTestServer boots a server on a unix socket under t.TempDir and
// registers cleanup with the test. It fails the test on any startup error.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	o := testServerOptions{
		startTimeout: 10 * time.Second,
		logLevel:     pslog.WarnLevel,
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if !o.cfgSet {
		cfg = Config{
			ListenProto: "unix",
			Listen:      filepath.Join(t.TempDir(), "vard.sock"),
		}
	}
	for _, fn := range o.mutators {
		fn(&cfg)
	}
	logger := o.logger
	if logger == nil {
		logger = NewTestingLogger(t, o.logLevel)
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.startTimeout)
	defer cancel()
	srv, stop, err := StartServer(ctx, cfg, WithLogger(logger))
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	ts := &TestServer{
		Server:  srv,
		BaseURL: "unix://" + cfg.Listen,
		Config:  srv.cfg,
		stop:    stop,
	}
	if cfg.ListenProto != "unix" {
		ts.BaseURL = "http://" + srv.Addr().String()
	}
	cl, err := client.New(ts.BaseURL, o.clientOpts...)
	if err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = stop(stopCtx)
		t.Fatalf("test server client: %v", err)
	}
	ts.Client = cl
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := ts.Stop(stopCtx); err != nil {
			t.Logf("test server stop: %v", err)
		}
	})
	return ts
}
