// Package client provides the Go SDK for the vard variable server. It talks
// JSON over HTTP, supports unix-domain sockets via unix:// base URLs, and
// maps the server's stable error codes to sentinel errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/varserver/vard/api"
)

const defaultHTTPTimeout = 60 * time.Second

// Sentinel errors mapped from the server's stable error codes. Use errors.Is
// against these rather than inspecting APIError fields.
var (
	ErrInvalidArgument = errors.New("vard: invalid argument")
	ErrNotFound        = errors.New("vard: not found")
	ErrExists          = errors.New("vard: already exists")
	ErrReadonly        = errors.New("vard: readonly")
	ErrInvalidHandle   = errors.New("vard: invalid handle")
)

// Client is a vard API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	logger     pslog.Logger
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The transport must be
// compatible with the base URL scheme.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request; zero disables the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger attaches a logger for request tracing.
func WithLogger(l pslog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a client for baseURL. Unix-domain sockets are addressed as
// unix:///path/to/vard.sock; anything else is treated as an HTTP origin.
func New(baseURL string, opts ...Option) (*Client, error) {
	httpClient, base, err := buildHTTPClient(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    base,
		timeout:    defaultHTTPTimeout,
		logger:     pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func buildHTTPClient(rawBase string) (*http.Client, string, error) {
	trimmed := strings.TrimSpace(rawBase)
	if trimmed == "" {
		return nil, "", fmt.Errorf("baseURL required")
	}
	if strings.HasPrefix(trimmed, "unix://") {
		return newUnixHTTPClient(trimmed)
	}
	trimmed = strings.TrimRight(trimmed, "/")
	return &http.Client{}, trimmed, nil
}

func newUnixHTTPClient(raw string) (*http.Client, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse unix baseURL: %w", err)
	}
	socketPath := u.Path
	if u.Host != "" {
		if socketPath == "" || socketPath == "/" {
			socketPath = "/" + u.Host
		} else {
			socketPath = "/" + u.Host + socketPath
		}
	}
	if socketPath == "" {
		return nil, "", fmt.Errorf("unix baseURL missing socket path")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: defaultHTTPTimeout, KeepAlive: 15 * time.Second}
	transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", socketPath)
	}
	transport.DialTLSContext = nil
	transport.TLSClientConfig = nil
	return &http.Client{Transport: transport}, "http://unix", nil
}

// APIError describes an error response from vard.
type APIError struct {
	// Status is the HTTP status code returned by the server.
	Status int
	// Response is the decoded vard error envelope, when available.
	Response api.ErrorResponse
	// Body contains the raw response body bytes for additional diagnostics.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Response.ErrorCode != "" {
		if e.Response.Detail != "" {
			return fmt.Sprintf("vard: %s (%s)", e.Response.ErrorCode, e.Response.Detail)
		}
		return fmt.Sprintf("vard: %s", e.Response.ErrorCode)
	}
	return fmt.Sprintf("vard: status %d", e.Status)
}

// Unwrap maps stable error codes onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Response.ErrorCode {
	case api.ErrCodeInvalidArgument:
		return ErrInvalidArgument
	case api.ErrCodeNotFound:
		return ErrNotFound
	case api.ErrCodeAlreadyExists:
		return ErrExists
	case api.ErrCodeReadonly:
		return ErrReadonly
	case api.ErrCodeInvalidHandle:
		return ErrInvalidHandle
	}
	return nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	reqCtx, cancel := c.requestContext(ctx)
	var body io.Reader
	if payload != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			cancel()
			return nil, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.logger.Trace("client.http.request", "method", method, "path", path)
	res, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	res.Body = &cancelReadCloser{ReadCloser: res.Body, cancel: cancel}
	return res, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	res, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return decodeError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return decodeError(res)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func decodeError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	apiErr := &APIError{Status: res.StatusCode, Body: body}
	_ = json.Unmarshal(body, &apiErr.Response)
	return apiErr
}

// Create registers a new variable and returns its handle.
func (c *Client) Create(ctx context.Context, req api.CreateRequest) (*api.CreateResponse, error) {
	var out api.CreateResponse
	if err := c.postJSON(ctx, "/v1/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches a variable's attributes and value by name or handle.
func (c *Client) Get(ctx context.Context, req api.GetRequest) (*api.GetResponse, error) {
	var out api.GetResponse
	if err := c.postJSON(ctx, "/v1/get", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetValue is a convenience wrapper returning just the raw value of name.
func (c *Client) GetValue(ctx context.Context, name string) (string, error) {
	res, err := c.Get(ctx, api.GetRequest{Name: name})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

// Set assigns a new value to a variable.
func (c *Client) Set(ctx context.Context, req api.SetRequest) (*api.SetResponse, error) {
	var out api.SetResponse
	if err := c.postJSON(ctx, "/v1/set", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetValue is a convenience wrapper assigning value to name.
func (c *Client) SetValue(ctx context.Context, name, value string) error {
	_, err := c.Set(ctx, api.SetRequest{Name: name, Value: value})
	return err
}

// Query performs one cursor step of a variable traversal. Pass the returned
// Token back in the next request to continue; Done reports exhaustion.
func (c *Client) Query(ctx context.Context, req api.QueryRequest) (*api.QueryResponse, error) {
	var out api.QueryResponse
	if err := c.postJSON(ctx, "/v1/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Render returns a variable's value formatted through its format specifier.
func (c *Client) Render(ctx context.Context, handle uint32) (string, error) {
	res, err := c.do(ctx, http.MethodPost, "/v1/render", api.RenderRequest{Handle: handle})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", decodeError(res)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ModifyFlags sets or clears flags on every variable whose name contains
// match and returns how many variables changed.
func (c *Client) ModifyFlags(ctx context.Context, match, flags string, op api.FlagOp) (int, error) {
	var out api.FlagsResponse
	err := c.postJSON(ctx, "/v1/flags", api.FlagsRequest{Match: match, Flags: flags, Op: op}, &out)
	if err != nil {
		return 0, err
	}
	return out.Affected, nil
}

// Alias registers an additional name for an existing variable.
func (c *Client) Alias(ctx context.Context, req api.AliasRequest) (*api.AliasResponse, error) {
	var out api.AliasResponse
	if err := c.postJSON(ctx, "/v1/alias", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch long-polls until the variable's sequence number advances past seq or
// the server-side timeout elapses. Changed is false on timeout.
func (c *Client) Watch(ctx context.Context, req api.WatchRequest) (*api.WatchResponse, error) {
	var out api.WatchResponse
	if err := c.postJSON(ctx, "/v1/watch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns server diagnostics.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.getJSON(ctx, "/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
