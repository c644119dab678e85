package httpmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Casys-AI/mcp-server/mcp"
	"github.com/Casys-AI/mcp-server/middleware"
	"github.com/Casys-AI/mcp-server/queue"
	"github.com/Casys-AI/mcp-server/ratelimit"
	"github.com/Casys-AI/mcp-server/registry"
)

func newTestHandler(t *testing.T, cfg Config) *Handler {
	t.Helper()
	if cfg.Registry == nil {
		reg := registry.New()
		if err := reg.RegisterTools(&mcp.Tool{
			Name: "echo",
			Handler: func(ctx context.Context, ic *mcp.InvocationContext) (any, error) {
				return ic.Args["value"], nil
			},
		}); err != nil {
			t.Fatalf("RegisterTools: %v", err)
		}
		reg.Start()
		cfg.Registry = reg
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = middleware.Build(func(ctx context.Context, ic *mcp.InvocationContext) (any, error) {
			tool, ok := cfg.Registry.GetTool(ic.ToolName)
			if !ok {
				return nil, errUnknownTool(ic.ToolName)
			}
			return tool.Handler(ctx, ic)
		}, middleware.BuildConfig{})
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "test-server"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "0.0.0-test"
	}
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

type unknownToolError struct{ name string }

func (e *unknownToolError) Error() string { return "Unknown tool: " + e.name }

func errUnknownTool(name string) error { return &unknownToolError{name: name} }

func postJSON(t *testing.T, h *Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) mcp.Response {
	t.Helper()
	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return resp
}

func TestInitializeCreatesSessionAndReturnsHeader(t *testing.T) {
	h := newTestHandler(t, Config{})
	rec := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get(sessionIDHeader) == "" {
		t.Fatalf("missing %s response header", sessionIDHeader)
	}
	if rec.Header().Get(protocolVersionHeader) != mcp.ProtocolVersion {
		t.Fatalf("protocol version header = %q, want %q", rec.Header().Get(protocolVersionHeader), mcp.ProtocolVersion)
	}
}

func TestToolsCallRoundTripAfterInitialize(t *testing.T) {
	h := newTestHandler(t, Config{})
	initRec := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessID := initRec.Header().Get(sessionIDHeader)

	rec := postJSON(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"value":"hi"}}}`,
		map[string]string{sessionIDHeader: sessID})

	resp := decodeResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result struct {
		Content []mcp.ContentBlock `json:"content"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "hi") {
		t.Fatalf("content = %+v, want a text block containing 'hi'", result.Content)
	}
}

func TestToolsCallWithoutSessionIsRejected(t *testing.T) {
	h := newTestHandler(t, Config{})
	rec := postJSON(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUnknownToolMapsToInvalidParams(t *testing.T) {
	h := newTestHandler(t, Config{})
	initRec := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessID := initRec.Header().Get(sessionIDHeader)

	rec := postJSON(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
		map[string]string{sessionIDHeader: sessID})
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != mcp.ErrorCodeInvalidParams {
		t.Fatalf("error = %+v, want ErrorCodeInvalidParams", resp.Error)
	}
}

type fakeMetricsSink struct {
	mu               sync.Mutex
	capacityExceeded int
}

func (f *fakeMetricsSink) SessionsExpired(n int)     {}
func (f *fakeMetricsSink) RateLimitReject(scope string) {}
func (f *fakeMetricsSink) CapacityExceeded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacityExceeded++
}
func (f *fakeMetricsSink) ObserveToolCall(ctx context.Context, toolName string, dur time.Duration, err error) {
}
func (f *fakeMetricsSink) MetricsHandler() http.Handler { return http.NotFoundHandler() }

func (f *fakeMetricsSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacityExceeded
}

func TestToolCallCapacityExceededRecordsMetric(t *testing.T) {
	sink := &fakeMetricsSink{}
	pipeline := middleware.Build(func(ctx context.Context, ic *mcp.InvocationContext) (any, error) {
		return nil, &queue.ErrCapacityExceeded{MaxConcurrent: 1}
	}, middleware.BuildConfig{})
	h := newTestHandler(t, Config{Pipeline: pipeline, Metrics: sink})

	initRec := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessID := initRec.Header().Get(sessionIDHeader)

	rec := postJSON(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		map[string]string{sessionIDHeader: sessID})
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != mcp.ErrorCodeServerError {
		t.Fatalf("error = %+v, want ErrorCodeServerError", resp.Error)
	}
	if sink.count() != 1 {
		t.Fatalf("CapacityExceeded calls = %d, want 1", sink.count())
	}
}

func TestNotificationReturns202WithNoBody(t *testing.T) {
	h := newTestHandler(t, Config{})
	initRec := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessID := initRec.Header().Get(sessionIDHeader)

	rec := postJSON(t, h, `{"jsonrpc":"2.0","method":"notifications/whatever"}`,
		map[string]string{sessionIDHeader: sessID})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestProtectedResourceMetadataNotFoundWithoutAuthProvider(t *testing.T) {
	h := newTestHandler(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when no auth provider is configured", rec.Code)
	}
}

func TestDeleteSessionTerminates(t *testing.T) {
	h := newTestHandler(t, Config{})
	initRec := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessID := initRec.Header().Get(sessionIDHeader)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionIDHeader, sessID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", rec.Code)
	}

	// A second delete of the same, now-gone, session must 404.
	req2 := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req2.Header.Set(sessionIDHeader, sessID)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("second DELETE status = %d, want 404", rec2.Code)
	}
}

func TestDeleteWithoutSessionHeaderIsBadRequest(t *testing.T) {
	h := newTestHandler(t, Config{})
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIPRateLimitReturns429WithRetryAfter(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 2, WindowMs: 60_000})
	h := newTestHandler(t, Config{IPRateLimiter: limiter})

	init1 := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessID := init1.Header().Get(sessionIDHeader)

	first := postJSON(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		map[string]string{sessionIDHeader: sessID})
	if first.Code != http.StatusOK {
		t.Fatalf("first call status = %d, want 200", first.Code)
	}

	second := postJSON(t, h, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		map[string]string{sessionIDHeader: sessID})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header on 429 response")
	}
}

func TestIPRateLimitGatesInitializeItself(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 1, WindowMs: 60_000})
	h := newTestHandler(t, Config{IPRateLimiter: limiter})

	first := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first initialize status = %d, want 200", first.Code)
	}

	second := postJSON(t, h, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}`, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second initialize status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header on 429 response")
	}
	if second.Header().Get(sessionIDHeader) != "" {
		t.Fatalf("expected no session to be created for a rate-limited initialize")
	}
}

func TestCORSPreflightReflectsAllowedOrigin(t *testing.T) {
	h := newTestHandler(t, Config{CORS: CORSConfig{Enabled: true, AllowedOrigins: []string{"https://allowed.example"}}})

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://allowed.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://allowed.example" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want reflected allowed origin", got)
	}

	req2 := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req2.Header.Set("Origin", "https://not-allowed.example")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if got := rec2.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want empty for a disallowed origin", got)
	}
}

func TestBodyExceedingLimitReturns413(t *testing.T) {
	limit := int64(16)
	h := newTestHandler(t, Config{MaxBodyBytes: &limit})

	body := strings.Repeat("a", 64)
	rec := postJSON(t, h, body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestGetMCPRequiresEventStreamAccept(t *testing.T) {
	h := newTestHandler(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405 without an SSE Accept header", rec.Code)
	}
}

func TestGetMCPWritesConnectComment(t *testing.T) {
	h := newTestHandler(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // handler returns as soon as the client disconnects

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ": connected") {
		t.Fatalf("body = %q, want a leading SSE comment frame", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
}

// syncRecorder is an http.ResponseWriter + http.Flusher whose body is safe
// to read from a goroutine other than the one writing to it, unlike
// httptest.ResponseRecorder's unsynchronized bytes.Buffer.
type syncRecorder struct {
	mu     sync.Mutex
	header http.Header
	code   int
	body   bytes.Buffer
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{header: make(http.Header), code: http.StatusOK}
}

func (r *syncRecorder) Header() http.Header { return r.header }

func (r *syncRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(b)
}

func (r *syncRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func TestSendNotificationDeliversSSEFrameToSubscribedSession(t *testing.T) {
	h := newTestHandler(t, Config{})

	initRec := postJSON(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessID := initRec.Header().Get(sessionIDHeader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newSyncRecorder()
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(sessionIDHeader, sessID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	waitFor(t, func() bool { return strings.Contains(rec.String(), ": connected") })

	if err := h.SendNotification(sessID, "notifications/message", map[string]any{"level": "info"}); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	waitFor(t, func() bool { return strings.Contains(rec.String(), "notifications/message") })

	body := rec.String()
	if !strings.Contains(body, "id: 1") {
		t.Fatalf("body = %q, want a monotonic event id on the pushed frame", body)
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", body["status"])
	}
}
