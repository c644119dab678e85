package httpmcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

// sseClient is a single connected GET /mcp stream, registered under a
// session key ("anonymous" if the request carried no session id).
type sseClient struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex // serializes writes to w
}

func (c *sseClient) writeFrame(id string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" {
		if _, err := fmt.Fprintf(c.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseClient) writeComment(comment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, ": %s\n\n", comment); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// sseHub tracks connected SSE clients per session key and assigns each
// outbound frame a monotonically increasing event id.
type sseHub struct {
	mu       sync.Mutex
	clients  map[string][]*sseClient
	counter  int64
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[string][]*sseClient)}
}

func (h *sseHub) register(key string, c *sseClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[key] = append(h.clients[key], c)
}

// unregister removes c from key's client list, dropping the bucket entirely
// once it's empty.
func (h *sseHub) unregister(key string, c *sseClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.clients[key]
	for i, existing := range list {
		if existing == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.clients, key)
	} else {
		h.clients[key] = list
	}
}

// closeAll flushes and drops every client for key, used by DELETE /mcp and
// the session reaper. Best-effort: a write failure is ignored, since the
// peer is presumably already gone.
func (h *sseHub) closeAll(key string) {
	h.mu.Lock()
	list := h.clients[key]
	delete(h.clients, key)
	h.mu.Unlock()

	for _, c := range list {
		_ = c.writeComment("closing")
	}
}

// closeEverything drops every client across every session, used during
// server shutdown.
func (h *sseHub) closeEverything() {
	h.mu.Lock()
	keys := make([]string, 0, len(h.clients))
	for k := range h.clients {
		keys = append(keys, k)
	}
	h.mu.Unlock()
	for _, k := range keys {
		h.closeAll(k)
	}
}

// broadcast delivers msg to every client registered under key. It iterates
// in reverse so a zombie client removed mid-iteration doesn't shift the
// indices of clients not yet visited.
func (h *sseHub) broadcast(key string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%d", atomic.AddInt64(&h.counter, 1))

	h.mu.Lock()
	list := append([]*sseClient(nil), h.clients[key]...)
	h.mu.Unlock()

	var dead []*sseClient
	for i := len(list) - 1; i >= 0; i-- {
		c := list[i]
		if err := c.writeFrame(id, data); err != nil {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.unregister(key, c)
	}
	return nil
}
