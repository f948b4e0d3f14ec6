// Package httpapi exposes the vard registry over HTTP/JSON. Every
// operation is a POST with a JSON body except the health and status
// probes; errors travel in the api.ErrorResponse envelope with stable
// error codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/varserver/vard/api"
	"github.com/varserver/vard/internal/loggingutil"
	"github.com/varserver/vard/internal/registry"
	"github.com/varserver/vard/vquery"
)

// DefaultWatchTimeout bounds /v1/watch long-polls when the request does
// not specify one.
const DefaultWatchTimeout = 30 * time.Second

// Config assembles the handler's dependencies.
type Config struct {
	// Registry is the variable registry engine.
	Registry *registry.List
	// Logger receives per-request structured logs.
	Logger pslog.Logger
	// Metrics is optional; nil disables Prometheus instrumentation.
	Metrics *Metrics
	// RunID identifies this server process in /v1/status.
	RunID string
	// Version is the build version reported by /v1/status.
	Version string
	// WatchTimeout overrides DefaultWatchTimeout when positive.
	WatchTimeout time.Duration
}

// Handler routes API requests to the registry engine.
type Handler struct {
	reg          *registry.List
	logger       pslog.Logger
	metrics      *Metrics
	runID        string
	version      string
	watchTimeout time.Duration
	startedAt    time.Time

	mu       sync.Mutex
	requests map[string]uint64
}

// New constructs a Handler.
func New(cfg Config) *Handler {
	wt := cfg.WatchTimeout
	if wt <= 0 {
		wt = DefaultWatchTimeout
	}
	return &Handler{
		reg:          cfg.Registry,
		logger:       loggingutil.Ensure(cfg.Logger),
		metrics:      cfg.Metrics,
		runID:        cfg.RunID,
		version:      cfg.Version,
		watchTimeout: wt,
		startedAt:    time.Now(),
		requests:     make(map[string]uint64),
	}
}

// Register installs all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/v1/create", h.wrap("create", h.handleCreate))
	mux.Handle("/v1/get", h.wrap("get", h.handleGet))
	mux.Handle("/v1/set", h.wrap("set", h.handleSet))
	mux.Handle("/v1/query", h.wrap("query", h.handleQuery))
	mux.Handle("/v1/render", h.wrap("render", h.handleRender))
	mux.Handle("/v1/flags", h.wrap("flags", h.handleFlags))
	mux.Handle("/v1/alias", h.wrap("alias", h.handleAlias))
	mux.Handle("/v1/watch", h.wrap("watch", h.handleWatch))
	mux.Handle("/v1/status", h.wrap("status", h.handleStatus))
	mux.Handle("/healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("/readyz", h.wrap("readyz", h.handleHealth))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := loggingutil.Subsystem("api", operation)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := xid.New().String()
		logger := loggingutil.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := pslog.ContextWithLogger(r.Context(), logger)
		r = r.WithContext(ctx)
		logger.Trace("request start", "remote_addr", r.RemoteAddr)

		h.countRequest(operation)
		err := func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return fn(w, r)
		}()
		elapsed := time.Since(start)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			h.writeError(w, logger, err)
			logger.Debug("request failed", "elapsed", elapsed, "error", err)
		} else {
			logger.Trace("request complete", "elapsed", elapsed)
		}
		if h.metrics != nil {
			h.metrics.ObserveRequest(operation, outcome, elapsed)
		}
	})
}

func (h *Handler) countRequest(operation string) {
	h.mu.Lock()
	h.requests[operation]++
	h.mu.Unlock()
}

func (h *Handler) requestCounts() map[string]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]uint64, len(h.requests))
	for k, v := range h.requests {
		out[k] = v
	}
	return out
}

// httpError pairs an error with the HTTP status it should produce.
type httpError struct {
	status int
	code   string
	err    error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, code: api.ErrCodeInvalidArgument, err: fmt.Errorf(format, args...)}
}

func classify(err error) (int, string) {
	var he *httpError
	if errors.As(err, &he) {
		return he.status, he.code
	}
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, api.ErrCodeNotFound
	case errors.Is(err, registry.ErrExists):
		return http.StatusConflict, api.ErrCodeAlreadyExists
	case errors.Is(err, registry.ErrReadonly):
		return http.StatusForbidden, api.ErrCodeReadonly
	case errors.Is(err, registry.ErrInvalidHandle), errors.Is(err, vquery.ErrInvalidHandle):
		return http.StatusBadRequest, api.ErrCodeInvalidHandle
	case errors.Is(err, registry.ErrInvalid), errors.Is(err, vquery.ErrInvalidQuery):
		return http.StatusBadRequest, api.ErrCodeInvalidArgument
	}
	return http.StatusInternalServerError, api.ErrCodeInternal
}

func (h *Handler) writeError(w http.ResponseWriter, logger pslog.Logger, err error) {
	status, code := classify(err)
	if status >= 500 {
		logger.Error("internal error", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(api.ErrorResponse{
		ErrorCode: code,
		Detail:    err.Error(),
	}); encodeErr != nil {
		logger.Warn("encode error response failed", "error", encodeErr)
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Method != http.MethodPost {
		return &httpError{status: http.StatusMethodNotAllowed, code: api.ErrCodeInvalidArgument, err: errors.New("POST required")}
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("decode request: %v", err)
	}
	return nil
}
