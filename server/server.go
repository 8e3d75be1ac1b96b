// Package server exposes the execute_script operation over HTTP using gin.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/alennartz/toolscript/internal/credentials"
	"github.com/alennartz/toolscript/internal/executor"
	"github.com/alennartz/toolscript/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/alennartz/toolscript/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// Server wraps a gin.Engine bound to one Executor.
type Server struct {
	engine      *gin.Engine
	exec        *executor.Executor
	cat         *catalog.Catalog
	log         logger.Logger
	defaultAuth credentials.Map
}

// New builds a Server with the standard routes registered. metrics may
// be nil, in which case /metrics responds 503. defaultAuth seeds every
// request's credential map before that request's own _meta.auth
// overrides are applied on top; it may be nil.
func New(
	exec *executor.Executor,
	cat *catalog.Catalog,
	log logger.Logger,
	metrics *telemetry.Instruments,
	defaultAuth credentials.Map,
) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware)

	s := &Server{engine: engine, exec: exec, cat: cat, log: log, defaultAuth: defaultAuth}
	engine.GET("/healthz", s.handleHealth)
	engine.POST("/v1/execute", s.handleExecute)
	engine.GET("/v1/catalog/docs", s.handleCatalogDocs)
	engine.GET("/metrics", func(c *gin.Context) {
		if metrics == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics disabled"})
			return
		}
		metrics.ExporterHandler().ServeHTTP(c.Writer, c.Request)
	})
	return s
}

// requestIDMiddleware assigns a correlation id to every request, reusing
// an inbound X-Request-Id if the caller already set one, so executor
// logs can be traced back to the request that triggered them.
func requestIDMiddleware(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	c.Set("request_id", id)
	c.Writer.Header().Set(requestIDHeader, id)
	c.Next()
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCatalogDocs renders the Luau-style type signature of every
// registered function, for documentation collaborators that want the
// generated surface without connecting a VM.
func (s *Server) handleCatalogDocs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signatures": s.cat.Docs()})
}

// executeRequest is the request body for POST /v1/execute.
type executeRequest struct {
	Script    string      `json:"script"`
	TimeoutMS int64       `json:"timeout_ms,omitempty"`
	Meta      executeMeta `json:"meta,omitempty"`
}

type executeMeta struct {
	Auth map[string]authOverride `json:"auth,omitempty"`
}

// authOverride models a per-request credential override:
// `_meta.auth.<api_name> = {type: bearer|api_key|basic, …}`.
type authOverride struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	HeaderName string `json:"header_name,omitempty"`
	Key        string `json:"key,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creds := s.defaultAuth.Clone()
	for api, o := range req.Meta.Auth {
		switch o.Type {
		case "bearer":
			creds[api] = credentials.Bearer(o.Token)
		case "api_key":
			creds[api] = credentials.APIKey(o.HeaderName, o.Key)
		case "basic":
			creds[api] = credentials.Basic(o.Username, o.Password)
		}
	}

	result, err := s.exec.Execute(c.Request.Context(), req.Script, creds, req.TimeoutMS)
	if err != nil {
		s.log.Warn("execute_script failed", "request_id", c.GetString("request_id"), "error", err.Error())
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode result: " + err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// statusForError maps a corerr.Code to the HTTP status that best
// describes it. Errors that don't carry a corerr.Code (e.g. a context
// deadline from the gin framework itself) fall back to 400, matching
// this handler's prior behavior.
func statusForError(err error) int {
	e, ok := corerr.As(err)
	if !ok {
		return http.StatusBadRequest
	}
	switch e.Code {
	case corerr.CodeInvalidArgument:
		return http.StatusBadRequest
	case corerr.CodeNotFound:
		return http.StatusNotFound
	case corerr.CodePermissionDenied:
		return http.StatusForbidden
	case corerr.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case corerr.CodeUpstreamError:
		return http.StatusBadGateway
	case corerr.CodeTimeout:
		return http.StatusGatewayTimeout
	case corerr.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
