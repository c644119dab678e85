package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Casys-AI/mcp-server/mcp"
)

func marshalParams(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// ErrDispatcherClosed is returned by Call once the dispatcher has been shut
// down. Calls still pending at CancelAll instead get a nil error and an
// error-shaped *mcp.Response carrying the error passed to CancelAll.
var ErrDispatcherClosed = errors.New("stdio: sampling dispatcher closed")

// samplingWriter is the minimal contract outboundDispatcher needs from the
// handler's serialized writer.
type samplingWriter interface {
	writeMessage(v any) error
}

// outboundDispatcher tracks server-initiated requests sent to the stdio peer
// (sampling and elicitation), matching responses back to callers by request
// id.
type outboundDispatcher struct {
	w       samplingWriter
	mu      sync.Mutex
	pending map[string]chan *mcp.Response
	nextID  int64
	closed  bool
}

func newOutboundDispatcher(w samplingWriter) *outboundDispatcher {
	return &outboundDispatcher{w: w, pending: make(map[string]chan *mcp.Response)}
}

// Call sends method/params as a request to the peer and blocks until a
// matching response arrives, ctx is done, or the dispatcher is closed.
func (d *outboundDispatcher) Call(ctx context.Context, method string, params any) (*mcp.Response, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	id := fmt.Sprintf("srv-%d", atomic.AddInt64(&d.nextID, 1))
	ch := make(chan *mcp.Response, 1)
	d.pending[id] = ch
	d.mu.Unlock()

	reqID := mcp.NewStringID(id)
	req := &mcp.Request{JSONRPCVersion: mcp.ProtocolVersion, Method: method, ID: &reqID}
	if params != nil {
		if b, err := marshalParams(params); err == nil {
			req.Params = b
		}
	}
	if err := d.w.writeMessage(req); err != nil {
		d.removePending(id)
		return nil, fmt.Errorf("stdio: send sampling request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		d.removePending(id)
		return nil, ctx.Err()
	}
}

// OnResponse routes an inbound response to its waiting Call, if any.
func (d *outboundDispatcher) OnResponse(resp *mcp.Response) {
	if resp.ID == nil {
		return
	}
	id := resp.ID.String()
	d.mu.Lock()
	ch, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (d *outboundDispatcher) removePending(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// CancelAll rejects every pending Call with err, used at shutdown to reject
// every pending resolver with a shutdown error.
func (d *outboundDispatcher) CancelAll(err error) {
	d.mu.Lock()
	d.closed = true
	pending := d.pending
	d.pending = make(map[string]chan *mcp.Response)
	d.mu.Unlock()

	for _, ch := range pending {
		ch <- mcp.NewErrorResponse(nil, mcp.ErrorCodeInternalError, err.Error(), nil)
	}
}
