package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Casys-AI/mcp-server/mcp"
	"github.com/Casys-AI/mcp-server/middleware"
	"github.com/Casys-AI/mcp-server/registry"
)

// DefaultSamplingTimeout is the per-request timeout applied to outbound
// sampling calls when none is configured (spec.md §5).
const DefaultSamplingTimeout = 60 * time.Second

// Handler is a single-connection stdio transport: it reads newline-delimited
// JSON-RPC messages from r and writes newline-delimited JSON-RPC messages to
// w. It is transport-only; all MCP semantics (tool dispatch, scopes,
// validation, backpressure) live in the shared registry and pipeline.
type Handler struct {
	r io.Reader
	w io.Writer

	logger       *slog.Logger
	userProvider UserProvider

	serverName    string
	serverVersion string

	reg      *registry.Registry
	pipeline *middleware.Pipeline

	samplingTimeout time.Duration

	writeMu sync.Mutex
	dispatcher *outboundDispatcher

	initialized atomic.Bool
}

// NewHandler constructs a stdio Handler wired to reg and pipeline, applying
// opts over the defaults (os.Stdin/os.Stdout, slog.Default(),
// OSUserProvider, a 60s sampling timeout).
func NewHandler(serverName, serverVersion string, reg *registry.Registry, pipeline *middleware.Pipeline, opts ...Option) *Handler {
	h := &Handler{
		r:               os.Stdin,
		w:               os.Stdout,
		logger:          slog.Default(),
		userProvider:    OSUserProvider{},
		serverName:      serverName,
		serverVersion:   serverVersion,
		reg:             reg,
		pipeline:        pipeline,
		samplingTimeout: DefaultSamplingTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.dispatcher = newOutboundDispatcher(h)
	return h
}

// writeMessage serializes v as one JSON-RPC line, guarded so concurrent
// request goroutines never interleave partial writes.
func (h *Handler) writeMessage(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		return err
	}
	_, err = h.w.Write([]byte("\n"))
	return err
}

// SendNotification writes method/params to the peer as a JSON-RPC
// notification (no id), per spec.md §4.G's stdio adapter contract.
func (h *Handler) SendNotification(method string, params any) error {
	req := &mcp.Request{JSONRPCVersion: mcp.ProtocolVersion, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("stdio: marshal notification params: %w", err)
		}
		req.Params = b
	}
	return h.writeMessage(req)
}

// Serve runs the read loop until r hits EOF or ctx is canceled. It is safe
// to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(h.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				close(lines)
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		h.dispatcher.CancelAll(errors.New("stdio: server shutting down"))
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			wg.Add(1)
			go func(line string) {
				defer wg.Done()
				h.handleLine(ctx, line)
			}(line)
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, line string) {
	var msg mcp.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		h.logger.Warn("stdio.parse.fail", slog.String("err", err.Error()))
		_ = h.writeMessage(mcp.NewErrorResponse(nil, mcp.ErrorCodeParseError, "parse error: "+err.Error(), nil))
		return
	}

	switch msg.Type() {
	case "response":
		h.dispatcher.OnResponse(msg.AsResponse())
		return
	case "notification":
		h.logger.Debug("stdio.notification.received", slog.String("method", msg.Method))
		return
	}

	req := msg.AsRequest()
	if req.Method != mcp.MethodInitialize && !h.initialized.Load() {
		_ = h.writeMessage(mcp.NewErrorResponse(req.ID, mcp.ErrorCodeInvalidRequest, "server not initialized", nil))
		return
	}
	switch req.Method {
	case mcp.MethodInitialize:
		h.handleInitialize(req)
	case mcp.MethodToolsCall:
		h.handleToolsCall(ctx, req)
	case mcp.MethodToolsList:
		h.handleToolsList(req)
	case mcp.MethodResourcesList:
		h.handleResourcesList(req)
	case mcp.MethodResourcesRead:
		h.handleResourcesRead(ctx, req)
	default:
		_ = h.writeMessage(mcp.NewErrorResponse(req.ID, mcp.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil))
	}
}

func (h *Handler) handleInitialize(req *mcp.Request) {
	h.initialized.Store(true)
	result := map[string]any{
		"protocolVersion": mcp.ProtocolVersion,
		"capabilities":    h.capabilities(),
		"serverInfo":      mcp.ImplementationInfo{Name: h.serverName, Version: h.serverVersion},
	}
	resp, err := mcp.NewResultResponse(req.ID, result)
	if err != nil {
		h.logger.Error("stdio.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	_ = h.writeMessage(resp)
}

func (h *Handler) capabilities() map[string]any {
	caps := map[string]any{"tools": map[string]any{}}
	if h.reg.HasResourcesCapability() {
		caps["resources"] = map[string]any{}
	}
	return caps
}

func (h *Handler) currentUserID() string {
	id, err := h.userProvider.CurrentUserID()
	if err != nil {
		return ""
	}
	return id
}

func (h *Handler) handleToolsCall(ctx context.Context, req *mcp.Request) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			_ = h.writeMessage(mcp.NewErrorResponse(req.ID, mcp.ErrorCodeInvalidParams, "invalid params: "+err.Error(), nil))
			return
		}
	}

	ic := &mcp.InvocationContext{
		ToolName: params.Name,
		Args:     params.Arguments,
		// Request and SessionID are intentionally left unset: this is the
		// signal the auth middleware uses to short-circuit on stdio.
	}
	ic.Set("stdio.userID", h.currentUserID())

	result, err := h.pipeline.Run(ctx, ic)
	if err != nil {
		code, message := mapStdioError(err)
		_ = h.writeMessage(mcp.NewErrorResponse(req.ID, code, message, nil))
		return
	}

	wrapped := wrapResult(result)
	resp, err := mcp.NewResultResponse(req.ID, wrapped)
	if err != nil {
		_ = h.writeMessage(mcp.NewErrorResponse(req.ID, mcp.ErrorCodeInternalError, "failed to encode result", nil))
		return
	}
	_ = h.writeMessage(resp)
}

func wrapResult(result any) any {
	if pr, ok := mcp.IsPreformatted(result); ok {
		return pr
	}
	var text string
	if s, ok := result.(string); ok {
		text = s
	} else if b, err := json.Marshal(result); err == nil {
		text = string(b)
	} else {
		text = fmt.Sprintf("%v", result)
	}
	return &mcp.PreformattedResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}
}

func mapStdioError(err error) (mcp.ErrorCode, string) {
	msg := err.Error()
	switch {
	case msg == "":
		return mcp.ErrorCodeInternalError, "internal error"
	default:
		return mcp.ErrorCodeInternalError, msg
	}
}

func (h *Handler) handleToolsList(req *mcp.Request) {
	tools := h.reg.ListTools()
	type wire struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		InputSchema map[string]any `json:"inputSchema,omitempty"`
	}
	out := make([]wire, 0, len(tools))
	for _, t := range tools {
		out = append(out, wire{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	resp, _ := mcp.NewResultResponse(req.ID, map[string]any{"tools": out})
	_ = h.writeMessage(resp)
}

func (h *Handler) handleResourcesList(req *mcp.Request) {
	resources := h.reg.ListResources()
	type wire struct {
		URI         string `json:"uri"`
		Name        string `json:"name,omitempty"`
		Description string `json:"description,omitempty"`
		MimeType    string `json:"mimeType,omitempty"`
	}
	out := make([]wire, 0, len(resources))
	for _, r := range resources {
		out = append(out, wire{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType})
	}
	resp, _ := mcp.NewResultResponse(req.ID, map[string]any{"resources": out})
	_ = h.writeMessage(resp)
}

func (h *Handler) handleResourcesRead(ctx context.Context, req *mcp.Request) {
	var params struct {
		URI string `json:"uri"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			_ = h.writeMessage(mcp.NewErrorResponse(req.ID, mcp.ErrorCodeInvalidParams, "invalid params: "+err.Error(), nil))
			return
		}
	}
	res, ok := h.reg.GetResource(params.URI)
	if !ok {
		_ = h.writeMessage(mcp.NewErrorResponse(req.ID, mcp.ErrorCodeInvalidParams, "resource not found: "+params.URI, nil))
		return
	}
	result, err := res.Handler(ctx, params.URI)
	if err != nil {
		_ = h.writeMessage(mcp.NewErrorResponse(req.ID, mcp.ErrorCodeInternalError, err.Error(), nil))
		return
	}
	resp, _ := mcp.NewResultResponse(req.ID, map[string]any{"contents": []*mcp.ResourceResult{result}})
	_ = h.writeMessage(resp)
}

// RequestSampling issues a server-initiated sampling request to the peer and
// waits for its response, bounded by h.samplingTimeout unless ctx already
// carries a tighter deadline.
func (h *Handler) RequestSampling(ctx context.Context, params any) (*mcp.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, h.samplingTimeout)
	defer cancel()
	return h.dispatcher.Call(cctx, "sampling/createMessage", params)
}
