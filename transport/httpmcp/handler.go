package httpmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Casys-AI/mcp-server/auth"
	"github.com/Casys-AI/mcp-server/mcp"
	"github.com/Casys-AI/mcp-server/middleware"
	"github.com/Casys-AI/mcp-server/queue"
	"github.com/Casys-AI/mcp-server/ratelimit"
	"github.com/Casys-AI/mcp-server/registry"
)

const (
	sessionIDHeader      = "Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"
	lastEventIDHeader    = "Last-Event-ID"
)

// MetricsSink is the subset of telemetry.Bridge the transport depends on.
// Kept as an interface here (rather than importing telemetry directly) so
// the transport package does not need to know about OTEL/Prometheus wiring.
type MetricsSink interface {
	SessionsExpired(n int)
	RateLimitReject(scope string)
	CapacityExceeded()
	ObserveToolCall(ctx context.Context, toolName string, dur time.Duration, err error)
	MetricsHandler() http.Handler
}

// Config assembles a Handler. Only Registry, Pipeline, ServerName, and
// ServerVersion are required; everything else has a spec-mandated default.
type Config struct {
	ServerName    string
	ServerVersion string

	Registry *registry.Registry
	Pipeline *middleware.Pipeline

	AuthProvider auth.Provider

	// IPRateLimiter, if set, applies to every /mcp request keyed by client
	// IP (or ClientIPKey, if set). Independent of the per-tool limiter
	// inside the pipeline.
	IPRateLimiter  *ratelimit.Limiter
	IPRateLimitMode middleware.RateLimitMode
	ClientIPKey     ClientIPFunc
	IPWaitTimeout   time.Duration

	// InitRateLimiter guards the initialize method specifically. Defaults
	// to 10 requests/minute/IP when unset.
	InitRateLimiter *ratelimit.Limiter

	// MaxBodyBytes bounds request bodies; 0 rejects every non-empty body.
	// nil selects DefaultMaxBodyBytes (1,000,000). No value of this field
	// turns the check off.
	MaxBodyBytes *int64

	CORS CORSConfig

	CustomRoutes map[string]http.HandlerFunc

	Metrics MetricsSink

	Logger *slog.Logger
}

// DefaultMaxBodyBytes is spec.md §4.G's default request body cap.
const DefaultMaxBodyBytes int64 = 1_000_000

// Handler serves the MCP HTTP/JSON-RPC transport.
type Handler struct {
	mux *http.ServeMux

	serverName    string
	serverVersion string

	reg      *registry.Registry
	pipeline *middleware.Pipeline

	authProvider auth.Provider

	ipLimiter       *ratelimit.Limiter
	ipLimiterMode   middleware.RateLimitMode
	clientIPKey     ClientIPFunc
	ipWaitTimeout   time.Duration
	initLimiter     *ratelimit.Limiter

	maxBodyBytes *int64
	cors         CORSConfig

	metrics MetricsSink
	logger  *slog.Logger

	sessions *sessionStore
	sse      *sseHub

	resourceMetadataURL string
	prm                 *protectedResourceMetadata
	asMeta              *authorizationServerMetadata
}

// New constructs a Handler and its routing table. Custom routes are
// registered first so they cannot be shadowed by the generic / handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("httpmcp: Registry is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("httpmcp: Pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody == nil {
		d := DefaultMaxBodyBytes
		maxBody = &d
	}

	initLimiter := cfg.InitRateLimiter
	if initLimiter == nil {
		initLimiter = ratelimit.New(ratelimit.Config{MaxRequests: 10, WindowMs: 60_000})
	}

	clientIPKey := cfg.ClientIPKey
	if clientIPKey == nil {
		clientIPKey = defaultClientIPKey
	}
	ipWaitTimeout := cfg.IPWaitTimeout
	if ipWaitTimeout <= 0 {
		ipWaitTimeout = 5 * time.Second
	}

	h := &Handler{
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		reg:           cfg.Registry,
		pipeline:      cfg.Pipeline,
		authProvider:  cfg.AuthProvider,
		ipLimiter:     cfg.IPRateLimiter,
		ipLimiterMode: cfg.IPRateLimitMode,
		clientIPKey:   clientIPKey,
		ipWaitTimeout: ipWaitTimeout,
		initLimiter:   initLimiter,
		maxBodyBytes:  maxBody,
		cors:          cfg.CORS,
		metrics:       cfg.Metrics,
		logger:        logger,
		sessions:      newSessionStore(logger, sessionsExpiredFunc(cfg.Metrics)),
		sse:           newSSEHub(),
	}

	warnIfWildcard(cfg.CORS, logger)

	if cfg.AuthProvider != nil {
		meta := cfg.AuthProvider.ResourceMetadata()
		h.resourceMetadataURL = auth.ResourceMetadataURL(meta.Resource)
		prm := protectedResourceMetadata{
			Resource:               meta.Resource,
			AuthorizationServers:   meta.AuthorizationServers,
			ScopesSupported:        meta.ScopesSupported,
			BearerMethodsSupported: []string{"header"},
		}
		h.prm = &prm
		var issuer string
		if len(meta.AuthorizationServers) > 0 {
			issuer = meta.AuthorizationServers[0]
		}
		h.asMeta = &authorizationServerMetadata{
			Issuer:          issuer,
			ScopesSupported: meta.ScopesSupported,
		}
	}

	mux := http.NewServeMux()
	for pattern, fn := range cfg.CustomRoutes {
		mux.HandleFunc(pattern, fn)
	}

	mux.HandleFunc("GET /health", h.handleHealth)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.MetricsHandler())
	}

	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.handleProtectedResourceMetadata)
	mux.HandleFunc("OPTIONS /.well-known/oauth-protected-resource", handleOptionsWellKnown)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.handleAuthorizationServerMetadata)
	mux.HandleFunc("OPTIONS /.well-known/oauth-authorization-server", handleOptionsWellKnown)

	for _, path := range []string{"/mcp", "/"} {
		mux.HandleFunc("POST "+path, h.handlePostMCP)
		mux.HandleFunc("GET "+path, h.handleGetMCP)
		mux.HandleFunc("DELETE "+path, h.handleDeleteMCP)
		mux.HandleFunc("OPTIONS "+path, h.handleOptionsMCP)
	}

	h.mux = mux
	return h, nil
}

func sessionsExpiredFunc(m MetricsSink) func(int) {
	if m == nil {
		return nil
	}
	return m.SessionsExpired
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Run starts the session reaper; it returns once ctx is canceled.
func (h *Handler) Run(ctx context.Context) {
	h.sessions.runReaper(ctx, func(ids []string) {
		for _, id := range ids {
			h.sse.closeAll(id)
		}
	})
}

// Shutdown closes every SSE client. Callers must invoke this before
// stopping the HTTP listener: per spec.md §4.G, skipping this step before
// listener shutdown deadlocks in-flight streams against server drain. The
// listener itself and the session reaper's ctx cancellation are the
// caller's responsibility (server.Server composes the ordering).
func (h *Handler) Shutdown(_ context.Context) error {
	h.sse.closeEverything()
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"server": h.serverName,
		"version": h.serverVersion,
	})
}

func (h *Handler) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if h.prm == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.prm)
}

func (h *Handler) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if h.asMeta == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.asMeta)
}

// checkBearerAuth authenticates a request outside the middleware pipeline,
// for the methods spec.md §4.G calls out as "auth-gated outside the
// pipeline": tools/list, resources/list, resources/read, and GET /mcp.
// Returns (info, true) on success; on failure it writes the response itself
// and returns (nil, false). A nil h.authProvider means auth is not
// configured at all, in which case every call passes.
func (h *Handler) checkBearerAuth(w http.ResponseWriter, r *http.Request) (*mcp.AuthInfo, bool) {
	if h.authProvider == nil {
		return nil, true
	}
	token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		w.Header().Set("WWW-Authenticate", buildBearerChallenge(h.resourceMetadataURL, "", ""))
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	info, err := h.authProvider.VerifyToken(r.Context(), token)
	if err != nil || info == nil {
		w.Header().Set("WWW-Authenticate", buildBearerChallenge(h.resourceMetadataURL, "invalid_token", "invalid or expired token"))
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	return info, true
}

// checkIPRateLimit applies the general per-IP limiter, if configured.
// Returns false (having already written the response) when the caller must
// stop processing.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, ip, sessionID string) bool {
	if h.ipLimiter == nil {
		return true
	}
	key := h.clientIPKey(r, ip, sessionID)
	if h.ipLimiterMode == middleware.RateLimitWait {
		ctx, cancel := context.WithTimeout(r.Context(), h.ipWaitTimeout)
		defer cancel()
		if err := h.ipLimiter.WaitForSlot(ctx, key); err != nil {
			h.writeRetryAfter(w, h.ipLimiter.GetTimeUntilSlot(key))
			return false
		}
		return true
	}
	if !h.ipLimiter.CheckLimit(key) {
		if h.metrics != nil {
			h.metrics.RateLimitReject("ip")
		}
		h.writeRetryAfter(w, h.ipLimiter.GetTimeUntilSlot(key))
		return false
	}
	return true
}

func (h *Handler) writeRetryAfter(w http.ResponseWriter, waitMs int64) {
	secs := (waitMs + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	h.writeJSONRPCTransportError(w, http.StatusTooManyRequests, mcp.ErrorCodeServerError, "rate limit exceeded")
}

func (h *Handler) writeJSONRPCTransportError(w http.ResponseWriter, status int, code mcp.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := mcp.NewErrorResponse(nil, code, message, nil)
	_ = json.NewEncoder(w).Encode(resp)
}

// readBody enforces spec.md §4.G's double body-size check: a Content-Length
// pre-check, then a streaming accumulation check as the body is read.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if h.maxBodyBytes == nil {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			h.writeJSONRPCTransportError(w, http.StatusBadRequest, mcp.ErrorCodeParseError, "failed to read request body")
			return nil, false
		}
		return data, true
	}
	limit := *h.maxBodyBytes
	if r.ContentLength > 0 && r.ContentLength > limit {
		h.writeJSONRPCTransportError(w, http.StatusRequestEntityTooLarge, mcp.ErrorCodeServerError, "payload too large")
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		h.writeJSONRPCTransportError(w, http.StatusBadRequest, mcp.ErrorCodeParseError, "failed to read request body")
		return nil, false
	}
	if int64(len(data)) > limit {
		h.writeJSONRPCTransportError(w, http.StatusRequestEntityTooLarge, mcp.ErrorCodeServerError, "payload too large")
		return nil, false
	}
	return data, true
}

type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    initializeCapabilities `json:"capabilities"`
	ServerInfo      mcp.ImplementationInfo `json:"serverInfo"`
}

type initializeCapabilities struct {
	Tools     map[string]any `json:"tools"`
	Resources map[string]any `json:"resources,omitempty"`
}

type toolWire struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type resourceWire struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// handlePostMCP dispatches every JSON-RPC request/notification sent over
// POST /mcp (and /).
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r, h.cors)
	start := time.Now()

	ip := clientIP(r)
	sessID := r.Header.Get(sessionIDHeader)

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var msg mcp.AnyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.writeJSONRPCTransportError(w, http.StatusOK, mcp.ErrorCodeParseError, "parse error: "+err.Error())
		return
	}
	if msg.Method == "" {
		h.writeJSONRPCTransportError(w, http.StatusOK, mcp.ErrorCodeInvalidRequest, "Invalid Request")
		return
	}

	if !h.checkIPRateLimit(w, r, ip, sessID) {
		return
	}

	if msg.Method == mcp.MethodInitialize {
		h.handleInitialize(w, r, &msg, ip)
		return
	}

	if sessID == "" {
		h.writeJSONRPCTransportError(w, http.StatusNotFound, mcp.ErrorCodeSessionOrAuth, "Session not found or expired")
		return
	}
	if _, ok := h.sessions.touch(sessID); !ok {
		h.writeJSONRPCTransportError(w, http.StatusNotFound, mcp.ErrorCodeSessionOrAuth, "Session not found or expired")
		return
	}

	if msg.ID == nil {
		// Notification: acknowledge and drop.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	req := msg.AsRequest()

	switch req.Method {
	case mcp.MethodToolsCall:
		h.handleToolsCall(w, r, req, sessID, start)
	case mcp.MethodToolsList:
		h.handleToolsList(w, r, req)
	case mcp.MethodResourcesList:
		h.handleResourcesList(w, r, req)
	case mcp.MethodResourcesRead:
		h.handleResourcesRead(w, r, req)
	default:
		h.writeJSONRPCResult(w, req.ID, http.StatusOK, nil, &mcp.RPCError{Code: mcp.ErrorCodeMethodNotFound, Message: "method not found: " + req.Method})
	}
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, msg *mcp.AnyMessage, ip string) {
	if !h.initLimiter.CheckLimit(ip) {
		h.writeJSONRPCTransportError(w, http.StatusOK, mcp.ErrorCodeServerError, "Too many initialize requests")
		return
	}

	// sessions.create() itself attempts an opportunistic cleanup before
	// failing, so the exhaustion guard only fires if that cleanup didn't
	// free a slot.
	sess, err := h.sessions.create()
	if err != nil {
		if errors.Is(err, errSessionExhaustion) {
			h.writeJSONRPCTransportError(w, http.StatusServiceUnavailable, mcp.ErrorCodeServerError, "Too many active sessions")
			return
		}
		h.writeJSONRPCTransportError(w, http.StatusInternalServerError, mcp.ErrorCodeInternalError, "failed to create session")
		return
	}

	result := initializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities: initializeCapabilities{
			Tools: map[string]any{},
		},
		ServerInfo: mcp.ImplementationInfo{Name: h.serverName, Version: h.serverVersion},
	}
	if h.reg.HasResourcesCapability() {
		result.Capabilities.Resources = map[string]any{}
	}

	w.Header().Set(sessionIDHeader, sess.id)
	w.Header().Set(protocolVersionHeader, mcp.ProtocolVersion)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp, err := mcp.NewResultResponse(msg.ID, result)
	if err != nil {
		h.logger.Error("session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleToolsCall(w http.ResponseWriter, r *http.Request, req *mcp.Request, sessID string, start time.Time) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.writeJSONRPCResult(w, req.ID, http.StatusOK, nil, &mcp.RPCError{Code: mcp.ErrorCodeInvalidParams, Message: "invalid params: " + err.Error()})
			return
		}
	}

	ic := &mcp.InvocationContext{
		ToolName:  params.Name,
		Args:      params.Arguments,
		Request:   r,
		SessionID: sessID,
	}

	result, err := h.pipeline.Run(r.Context(), ic)
	if h.metrics != nil {
		h.metrics.ObserveToolCall(r.Context(), params.Name, time.Since(start), err)
	}
	if err != nil {
		h.writeToolCallError(w, req.ID, err)
		return
	}

	h.writeJSONRPCResult(w, req.ID, http.StatusOK, wrapToolResult(result), nil)
}

func wrapToolResult(result any) any {
	if pr, ok := mcp.IsPreformatted(result); ok {
		return pr
	}
	text := stringifyResult(result)
	return &mcp.PreformattedResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}
}

func stringifyResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

func (h *Handler) writeToolCallError(w http.ResponseWriter, id *mcp.RequestID, err error) {
	var capErr *queue.ErrCapacityExceeded
	if errors.As(err, &capErr) && h.metrics != nil {
		h.metrics.CapacityExceeded()
	}
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		switch authErr.Code {
		case auth.CodeMissingToken, auth.CodeInvalidToken:
			code, desc := authChallengeFor(authErr)
			w.Header().Set("WWW-Authenticate", buildBearerChallenge(authErr.ResourceMetadataURL, code, desc))
			h.writeJSONRPCTransportErrorWithID(w, id, http.StatusUnauthorized, mcp.ErrorCodeSessionOrAuth, authErr.Error())
			return
		case auth.CodeInsufficientScope:
			h.writeJSONRPCTransportErrorWithID(w, id, http.StatusForbidden, mcp.ErrorCodeSessionOrAuth, authErr.Error())
			return
		}
	}
	var misconfig *auth.ErrMisconfigured
	if errors.As(err, &misconfig) {
		h.writeJSONRPCResult(w, id, http.StatusOK, nil, &mcp.RPCError{Code: mcp.ErrorCodeInternalError, Message: misconfig.Error()})
		return
	}
	code, message := mapHandlerError(err)
	h.writeJSONRPCResult(w, id, http.StatusOK, nil, &mcp.RPCError{Code: code, Message: message})
}

func (h *Handler) writeJSONRPCTransportErrorWithID(w http.ResponseWriter, id *mcp.RequestID, status int, code mcp.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(mcp.NewErrorResponse(id, code, message, nil))
}

func (h *Handler) writeJSONRPCResult(w http.ResponseWriter, id *mcp.RequestID, status int, result any, rpcErr *mcp.RPCError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := &mcp.Response{JSONRPCVersion: mcp.ProtocolVersion, ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		b, err := json.Marshal(result)
		if err != nil {
			resp.Error = &mcp.RPCError{Code: mcp.ErrorCodeInternalError, Message: "failed to encode result"}
		} else {
			resp.Result = b
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleToolsList(w http.ResponseWriter, r *http.Request, req *mcp.Request) {
	if _, ok := h.checkBearerAuth(w, r); !ok {
		return
	}
	tools := h.reg.ListTools()
	wire := make([]toolWire, 0, len(tools))
	for _, t := range tools {
		wire = append(wire, toolWire{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	h.writeJSONRPCResult(w, req.ID, http.StatusOK, map[string]any{"tools": wire}, nil)
}

func (h *Handler) handleResourcesList(w http.ResponseWriter, r *http.Request, req *mcp.Request) {
	if _, ok := h.checkBearerAuth(w, r); !ok {
		return
	}
	resources := h.reg.ListResources()
	wire := make([]resourceWire, 0, len(resources))
	for _, res := range resources {
		wire = append(wire, resourceWire{URI: res.URI, Name: res.Name, Description: res.Description, MimeType: res.MimeType})
	}
	h.writeJSONRPCResult(w, req.ID, http.StatusOK, map[string]any{"resources": wire}, nil)
}

func (h *Handler) handleResourcesRead(w http.ResponseWriter, r *http.Request, req *mcp.Request) {
	if _, ok := h.checkBearerAuth(w, r); !ok {
		return
	}
	var params struct {
		URI string `json:"uri"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.writeJSONRPCResult(w, req.ID, http.StatusOK, nil, &mcp.RPCError{Code: mcp.ErrorCodeInvalidParams, Message: "invalid params: " + err.Error()})
			return
		}
	}
	res, ok := h.reg.GetResource(params.URI)
	if !ok {
		h.writeJSONRPCResult(w, req.ID, http.StatusOK, nil, &mcp.RPCError{Code: mcp.ErrorCodeInvalidParams, Message: "resource not found: " + params.URI})
		return
	}
	result, err := res.Handler(r.Context(), params.URI)
	if err != nil {
		h.writeJSONRPCResult(w, req.ID, http.StatusOK, nil, &mcp.RPCError{Code: mcp.ErrorCodeInternalError, Message: err.Error()})
		return
	}
	h.writeJSONRPCResult(w, req.ID, http.StatusOK, map[string]any{"contents": []*mcp.ResourceResult{result}}, nil)
}

// handleDeleteMCP terminates a session explicitly (SPEC_FULL.md
// supplemented feature #4).
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r, h.cors)
	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !h.sessions.delete(sessID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.sse.closeAll(sessID)
	w.WriteHeader(http.StatusNoContent)
}

// SendNotification pushes a server-initiated JSON-RPC notification to every
// SSE client currently subscribed under sessionID, or to every anonymous
// client (one that connected without a session id) when sessionID is empty.
// This is the HTTP transport's counterpart to the stdio transport's
// SendNotification.
func (h *Handler) SendNotification(sessionID, method string, params any) error {
	req := &mcp.Request{JSONRPCVersion: mcp.ProtocolVersion, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("httpmcp: marshal notification params: %w", err)
		}
		req.Params = b
	}
	key := "anonymous"
	if sessionID != "" {
		key = sessionID
	}
	return h.sse.broadcast(key, req)
}

// handleGetMCP serves the SSE stream (spec.md §4.G).
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r, h.cors)

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, ok := h.checkBearerAuth(w, r); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sessID := r.Header.Get(sessionIDHeader)
	key := "anonymous"
	if sessID != "" {
		if _, ok := h.sessions.get(sessID); !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		key = sessID
	}
	if lastID := r.Header.Get(lastEventIDHeader); lastID != "" {
		// Missed events between disconnect and reconnect are not replayed:
		// this transport keeps no per-session backlog, only live fan-out.
		h.logger.Debug("sse.resume.no_backlog", slog.String("last_event_id", lastID))
	}

	w.Header().Set(sessionIDHeader, sessID)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := &sseClient{w: w, flusher: flusher}
	if err := client.writeComment("connected"); err != nil {
		return
	}
	h.sse.register(key, client)
	defer h.sse.unregister(key, client)

	<-r.Context().Done()
}
