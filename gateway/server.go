package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonwraymond/graphgate/auth"
	"github.com/jonwraymond/graphgate/cache"
	"github.com/jonwraymond/graphgate/health"
	"github.com/jonwraymond/graphgate/metrics"
	"github.com/jonwraymond/graphgate/subgraph"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxIdentityKey = "gateway.identity"
	ctxTokenKey    = "gateway.token"
	ctxRequestID   = "gateway.requestID"
)

// Snapshotter exposes the health monitor's read-only view.
type Snapshotter interface {
	Snapshot() health.Summary
}

// ServerConfig carries the transport-level settings.
type ServerConfig struct {
	Version        string
	Production     bool
	AllowedOrigins []string
}

// Server is the HTTP face of the gateway: the GraphQL endpoint plus
// health and metrics surfaces.
type Server struct {
	cfg       ServerConfig
	engine    *gin.Engine
	executor  *Executor
	decoder   *auth.Decoder
	limiter   Limiter
	healthMon Snapshotter
	collector *metrics.Collector
	cache     *cache.Manager
	logger    *zap.Logger
}

// NewServer assembles the gin engine and routes. limiter, healthMon
// and collector may be nil; the matching feature is then disabled.
func NewServer(cfg ServerConfig, executor *Executor, decoder *auth.Decoder, limiter Limiter, healthMon Snapshotter, collector *metrics.Collector, mgr *cache.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		executor:  executor,
		decoder:   decoder,
		limiter:   limiter,
		healthMon: healthMon,
		collector: collector,
		cache:     mgr,
		logger:    logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestIDMiddleware())
	if len(cfg.AllowedOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	engine.Use(s.authMiddleware())

	engine.POST("/graphql", s.handleGraphQL)
	engine.GET("/graphql", s.handleGraphQL)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", s.handleMetrics)

	s.engine = engine
	return s
}

// Handler returns the root http.Handler for serving.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestIDMiddleware honors an inbound request id or mints one, and
// echoes it back to the client.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// authMiddleware decodes the bearer token optimistically. Bad or
// missing credentials leave the request anonymous; public fields must
// stay reachable without auth.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if id := s.decoder.FromHeader(header); id != nil {
			c.Set(ctxIdentityKey, id)
			c.Set(ctxTokenKey, header[len("Bearer "):])
		}
		c.Next()
	}
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data,omitempty"`
	Errors []*Error                   `json:"errors,omitempty"`
}

func (s *Server) handleGraphQL(c *gin.Context) {
	req, err := parseGraphQLRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, graphQLResponse{Errors: []*Error{Format(err, s.cfg.Production)}})
		return
	}

	rc := s.buildRequestContext(c)

	if s.limiter != nil {
		d, lerr := s.limiter.Allow(c.Request.Context(), rc.ClientIP, rc.Principal(), req.OperationName)
		if lerr != nil {
			// Limiter infrastructure failure - fail open, log it.
			s.logger.Warn("rate limiter error", zap.Error(lerr), zap.String("requestId", rc.RequestID))
		} else if !d.Allowed {
			s.record(c, rc, true, nil)
			c.JSON(http.StatusTooManyRequests, graphQLResponse{
				Errors: []*Error{Format(RateLimited(d.RetryAfter), s.cfg.Production)},
			})
			return
		}
	}

	result, err := s.executor.Execute(c.Request.Context(), rc, &subgraph.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	if err != nil {
		s.logger.Error("request failed",
			zap.String("requestId", rc.RequestID),
			zap.String("operation", req.OperationName),
			zap.Error(err))
		s.record(c, rc, true, nil)
		c.JSON(statusFor(err), graphQLResponse{Errors: []*Error{Format(err, s.cfg.Production)}})
		return
	}

	resp := graphQLResponse{Data: result.Data}
	for _, e := range result.Errors {
		s.logger.Warn("partial failure",
			zap.String("requestId", rc.RequestID),
			zap.String("operation", req.OperationName),
			zap.Error(e))
		resp.Errors = append(resp.Errors, Format(e, s.cfg.Production))
	}

	s.record(c, rc, len(resp.Errors) > 0, result.Subgraphs)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.healthMon == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": s.cfg.Version})
		return
	}

	summary := s.healthMon.Snapshot()
	status := "healthy"
	code := http.StatusOK
	if !summary.Overall {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":   status,
		"services": summary.Services,
		"version":  s.cfg.Version,
	}
	if s.collector != nil {
		body["metrics"] = s.collector.Current()
	}
	c.JSON(code, body)
}

func (s *Server) handleMetrics(c *gin.Context) {
	body := gin.H{"timestamp": time.Now().Unix()}
	if s.collector != nil {
		body["gateway"] = s.collector.Current()
	}
	if s.cache != nil {
		body["cache"] = s.cache.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) buildRequestContext(c *gin.Context) *RequestContext {
	var id *auth.Identity
	if v, ok := c.Get(ctxIdentityKey); ok {
		id, _ = v.(*auth.Identity)
	}
	rc := NewRequestContext(c.GetString(ctxRequestID), c.ClientIP(), id, s.cache)
	rc.Token = c.GetString(ctxTokenKey)
	return rc
}

func (s *Server) record(c *gin.Context, rc *RequestContext, failed bool, subgraphs []string) {
	if s.collector == nil {
		return
	}
	s.collector.Record(c.Request.Context(), rc.Elapsed(), failed, subgraphs)
}

func parseGraphQLRequest(c *gin.Context) (*graphQLRequest, error) {
	if c.Request.Method == http.MethodGet {
		req := &graphQLRequest{
			Query:         c.Query("query"),
			OperationName: c.Query("operationName"),
		}
		if raw := c.Query("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
				return nil, NewError(CodeBadRequest, "variables must be a JSON object")
			}
		}
		if req.Query == "" {
			return nil, NewError(CodeBadRequest, "query parameter is required")
		}
		return req, nil
	}

	var req graphQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, NewError(CodeBadRequest, "request body is not a valid GraphQL request")
	}
	if req.Query == "" {
		return nil, NewError(CodeBadRequest, "query is required")
	}
	return &req, nil
}

// statusFor maps a request-level error to an HTTP status. GraphQL
// transports conventionally use 200 for execution errors; only
// request-shape and availability problems get a non-200.
func statusFor(err error) int {
	var ge *Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	switch ge.Code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
