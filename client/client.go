package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	headerAPIKey    = "x-api-key"
	headerAPISecret = "x-api-secret"

	filesPath   = "/api/v1/files"
	uploadPath  = "/api/v1/files/upload"
	metaPath    = "/api/v1/files/metadata/"
	metricsPath = "/api/v1/metrics"
)

// Client talks to a Fluxsave service. It is safe for concurrent use; credentials replaced
// with SetAuth while requests are in flight may be observed as either the old or new pair.
type Client struct {
	baseURL string
	headers http.Header
	hc      *retryablehttp.Client
	logger  *slog.Logger

	mu                sync.RWMutex
	apiKey, apiSecret string

	statsMu sync.Mutex
	stats   Stats
}

var _ Interface = (*Client)(nil)

type settings struct {
	apiKey, apiSecret string
	httpClient        *http.Client
	headers           http.Header
	logger            *slog.Logger
	retryMax          int
	tracing           bool
}

// Option configures a Client.
type Option func(*settings)

// WithCredentials sets the API key and secret sent with every request.
func WithCredentials(apiKey, apiSecret string) Option {
	return func(s *settings) {
		s.apiKey = apiKey
		s.apiSecret = apiSecret
	}
}

// WithHTTPClient overrides the underlying HTTP client (transport, TLS, timeouts).
func WithHTTPClient(h *http.Client) Option {
	return func(s *settings) {
		if h != nil {
			s.httpClient = h
		}
	}
}

// WithHeaders adds headers to every request. The authentication headers always win.
func WithHeaders(h http.Header) Option {
	return func(s *settings) {
		for k, values := range h {
			for _, v := range values {
				s.headers.Add(k, v)
			}
		}
	}
}

// WithLogger sets the logger used by the client and its transport.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithRetryMax lets the transport retry connection failures and 5xx responses up to n times.
// The client performs no retries of its own; the default is 0.
func WithRetryMax(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.retryMax = n
		}
	}
}

// WithTracing instruments the transport with OpenTelemetry, using the global tracer provider.
func WithTracing() Option {
	return func(s *settings) {
		s.tracing = true
	}
}

// New creates a client for the service at baseURL. Trailing slashes are stripped.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fault.New("base URL is required")
	}

	s := settings{headers: make(http.Header)}
	for _, opt := range opts {
		opt(&s)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = s.retryMax
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.Logger = nil
	if s.logger != nil {
		hc.Logger = s.logger
	} else {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.httpClient != nil {
		hc.HTTPClient = s.httpClient
	}
	if s.tracing {
		instrumented := *hc.HTTPClient
		base := instrumented.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		instrumented.Transport = otelhttp.NewTransport(base)
		hc.HTTPClient = &instrumented
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		headers:   s.headers,
		hc:        hc,
		logger:    s.logger,
		apiKey:    s.apiKey,
		apiSecret: s.apiSecret,
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuth replaces the stored credentials.
func (c *Client) SetAuth(apiKey, apiSecret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.apiSecret = apiSecret
}

// authHeaders returns the two authentication headers, or a 401 Error if either
// credential is missing.
func (c *Client) authHeaders() (http.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.apiKey == "" || c.apiSecret == "" {
		return nil, newAuthError()
	}
	h := make(http.Header, 2)
	h.Set(headerAPIKey, c.apiKey)
	h.Set(headerAPISecret, c.apiSecret)
	return h, nil
}

// request describes a single call.
type request struct {
	method string
	path   string
	parts  []Part
}

// do performs the round trip described by r and normalizes its outcome.
func (c *Client) do(ctx context.Context, r request) (*Result, error) {
	ctx = fctx.WithMeta(ctx, "method", r.method, "path", r.path)

	auth, err := c.authHeaders()
	if err != nil {
		c.record(func(st *Stats) { st.AuthErrorsCount++ })
		return nil, fault.Wrap(err, fctx.With(ctx))
	}

	var (
		body        any
		contentType string
		upload      *multipartBody
	)
	if len(r.parts) > 0 {
		if upload, err = encodeMultipart(ctx, r.parts); err != nil {
			return nil, err
		}
		body = upload.data.Bytes()
		contentType = upload.contentType
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("error creating request"), fctx.With(ctx))
	}
	for k, values := range c.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k := range auth {
		req.Header.Set(k, auth.Get(k))
	}

	c.logger.Debug("sending request", slog.String("method", r.method), slog.String("path", r.path))

	c.record(func(st *Stats) {
		st.RequestCount++
		if upload != nil {
			st.UploadCount++
			st.UploadedFiles += upload.files
			st.UploadedBytes += upload.fileBytes
		}
	})

	resp, err := c.hc.Do(req)
	if err != nil {
		c.record(func(st *Stats) { st.ErrorsCount++ })
		return nil, fault.Wrap(newTransportError(err), fctx.With(ctx))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(func(st *Stats) { st.ErrorsCount++ })
		return nil, fault.Wrap(newTransportError(err), fctx.With(ctx))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.record(func(st *Stats) { st.ErrorsCount++ })
		c.logger.Debug("request failed", slog.String("method", r.method), slog.String("path", r.path),
			slog.Int("status", resp.StatusCode))
		return nil, fault.Wrap(newStatusError(resp.StatusCode, data), fctx.With(ctx))
	}
	return newResult(resp.StatusCode, data), nil
}

// UploadFile uploads the file at filePath as the "file" field.
func (c *Client) UploadFile(ctx context.Context, filePath string, opts *UploadOptions) (*Result, error) {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   uploadPath,
		parts:  formParts([]Part{filePart("file", filePath)}, opts),
	})
}

// UploadFiles uploads every file in filePaths as a repeated "files" field, in order.
func (c *Client) UploadFiles(ctx context.Context, filePaths []string, opts *UploadOptions) (*Result, error) {
	if len(filePaths) == 0 {
		return nil, fault.Wrap(fault.New("at least one file path is required"), fctx.With(ctx))
	}
	parts := make([]Part, 0, len(filePaths)+2)
	for _, p := range filePaths {
		parts = append(parts, filePart("files", p))
	}
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   uploadPath,
		parts:  formParts(parts, opts),
	})
}

// ListFiles lists the stored files.
func (c *Client) ListFiles(ctx context.Context) (*Result, error) {
	return c.do(ctx, request{method: http.MethodGet, path: filesPath})
}

// GetFileMetadata fetches the metadata of a file. fileID is used verbatim in the path;
// callers must not pass identifiers containing reserved URL characters.
func (c *Client) GetFileMetadata(ctx context.Context, fileID string) (*Result, error) {
	return c.do(ctx, request{method: http.MethodGet, path: metaPath + fileID})
}

// UpdateFile replaces the content of a stored file.
func (c *Client) UpdateFile(ctx context.Context, fileID, filePath string, opts *UploadOptions) (*Result, error) {
	return c.do(ctx, request{
		method: http.MethodPut,
		path:   filesPath + "/" + fileID,
		parts:  formParts([]Part{filePart("file", filePath)}, opts),
	})
}

// DeleteFile deletes a stored file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) (*Result, error) {
	return c.do(ctx, request{method: http.MethodDelete, path: filesPath + "/" + fileID})
}

// GetMetrics fetches the service metrics.
func (c *Client) GetMetrics(ctx context.Context) (*Result, error) {
	return c.do(ctx, request{method: http.MethodGet, path: metricsPath})
}

// BuildFileURL returns the unauthenticated link to a file, with params appended as a query
// string in the given order.
func (c *Client) BuildFileURL(fileID string, params ...QueryParam) string {
	u := c.baseURL + filesPath + "/" + fileID
	if len(params) == 0 {
		return u
	}

	pairs := make([]string, 0, len(params))
	for _, p := range params {
		pairs = append(pairs, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return u + "?" + strings.Join(pairs, "&")
}

func (c *Client) record(f func(st *Stats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	f(&c.stats)
}

// GetStatistics returns a snapshot of the call statistics.
func (c *Client) GetStatistics() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// ResetStatistics zeroes the call statistics.
func (c *Client) ResetStatistics() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats = Stats{}
}
