package subgraph

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/graphgate/cache"
)

const (
	// responseCacheTTL is the fixed lifetime of the coarse HTTP-level
	// response cache. Its namespace is independent of the resolver cache.
	responseCacheTTL = 5 * time.Minute

	// slowCallThreshold is the latency above which a call is logged.
	slowCallThreshold = time.Second

	responseKeyPrefix = "subgraph:"
)

// Request is an outbound GraphQL request payload.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQLError is one error object from a subgraph response.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Response is a subgraph's GraphQL response.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// HasErrors reports whether the response carries application errors.
func (r *Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// Meta carries per-request identity and tracing for outbound headers.
type Meta struct {
	// Token is the caller's bearer token, empty for anonymous callers.
	Token string

	// RequestID and TraceID are propagated for cross-service tracing.
	RequestID string
	TraceID   string

	// UserID is the authenticated caller, empty for anonymous callers.
	UserID string

	// IsQuery marks idempotent operations eligible for response caching.
	IsQuery bool
}

// DataSource proxies outbound calls to one subgraph. Transport failures
// are retried; application errors propagate to the caller untouched.
// This layer never hides partial failures.
type DataSource struct {
	cfg       *Config
	client    *http.Client
	responses cache.Store
	logger    *zap.Logger
}

// NewDataSource creates a data source for one subgraph. The responses
// store may be nil to disable the HTTP-level response cache.
func NewDataSource(cfg *Config, responses cache.Store, logger *zap.Logger) *DataSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataSource{
		cfg: cfg,
		client: &http.Client{
			// Per-attempt deadlines come from the request context; this
			// is a hard backstop for runaway connections.
			Timeout: cfg.Timeout + 5*time.Second,
		},
		responses: responses,
		logger:    logger.With(zap.String("subgraph", cfg.Name)),
	}
}

// Name returns the subgraph's configured name.
func (d *DataSource) Name() string {
	return d.cfg.Name
}

// Execute sends the request to the subgraph. Successful query responses
// are stored in the response cache; cache failures are logged, never
// surfaced. Request errors are logged with operation context and then
// returned; subgraph errors must reach the caller.
func (d *DataSource) Execute(ctx context.Context, req *Request, meta Meta) (*Response, error) {
	if meta.IsQuery {
		if cached := d.cachedResponse(ctx, req, meta); cached != nil {
			return cached, nil
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("subgraph %s: marshal request: %w", d.cfg.Name, err)
	}

	start := time.Now()
	resp, err := d.send(ctx, body, meta)
	elapsed := time.Since(start)

	if elapsed > slowCallThreshold {
		d.logger.Warn("slow subgraph call",
			zap.String("operation", req.OperationName),
			zap.Duration("elapsed", elapsed))
	}

	if err != nil {
		d.logger.Error("subgraph request failed",
			zap.String("operation", req.OperationName),
			zap.Any("variables", req.Variables),
			zap.Error(err))
		return nil, err
	}

	if meta.IsQuery && !resp.HasErrors() {
		d.storeResponse(ctx, req, meta, resp)
	}
	return resp, nil
}

// send performs the HTTP exchange with per-attempt deadlines, retrying
// transport failures and 5xx responses up to the configured retries.
func (d *DataSource) send(ctx context.Context, body []byte, meta Meta) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		resp, retryable, err := d.attempt(ctx, body, meta)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (d *DataSource) attempt(ctx context.Context, body []byte, meta Meta) (*Response, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("subgraph %s: build request: %w", d.cfg.Name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if meta.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+meta.Token)
	}
	if meta.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", meta.RequestID)
	}
	if meta.TraceID != "" {
		httpReq.Header.Set("X-Trace-ID", meta.TraceID)
	}
	if meta.UserID != "" {
		httpReq.Header.Set("X-User-ID", meta.UserID)
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("subgraph %s: transport: %w", d.cfg.Name, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("subgraph %s: read response: %w", d.cfg.Name, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		retryable := httpResp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("subgraph %s: status %d: %w",
			d.cfg.Name, httpResp.StatusCode, ErrUpstreamError)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("subgraph %s: decode response: %w", d.cfg.Name, err)
	}
	return &resp, false, nil
}

func (d *DataSource) cachedResponse(ctx context.Context, req *Request, meta Meta) *Response {
	if d.responses == nil {
		return nil
	}

	raw, err := d.responses.Get(ctx, d.responseKey(req, meta))
	if err != nil {
		if err != cache.ErrNotFound {
			d.logger.Warn("response cache read failed", zap.Error(err))
		}
		return nil
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		d.logger.Warn("response cache decode failed", zap.Error(err))
		return nil
	}
	return &resp
}

func (d *DataSource) storeResponse(ctx context.Context, req *Request, meta Meta, resp *Response) {
	if d.responses == nil {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		d.logger.Warn("response cache encode failed", zap.Error(err))
		return
	}
	if err := d.responses.Set(ctx, d.responseKey(req, meta), raw, responseCacheTTL); err != nil {
		d.logger.Warn("response cache write failed", zap.Error(err))
	}
}

// responseKey derives the response-cache key. Namespace:
// subgraph:<name>:<hash>. Variables marshal with sorted keys, so the
// hash is deterministic; the caller identity is included because
// responses may differ per user.
func (d *DataSource) responseKey(req *Request, meta Meta) string {
	h := sha256.New()
	h.Write([]byte(req.Query))
	h.Write([]byte{0})
	h.Write([]byte(req.OperationName))
	h.Write([]byte{0})
	if vars, err := json.Marshal(req.Variables); err == nil {
		h.Write(vars)
	}
	h.Write([]byte{0})
	h.Write([]byte(meta.UserID))

	return responseKeyPrefix + d.cfg.Name + ":" + hex.EncodeToString(h.Sum(nil)[:8])
}
