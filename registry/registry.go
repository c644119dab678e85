package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Casys-AI/mcp-server/mcp"
)

// Registry holds the tools and resources an MCP server exposes. It is safe
// for concurrent use; every read and write goes through one RWMutex shared
// by both maps, which is adequate because the hot path is an in-memory map
// read.
type Registry struct {
	mu sync.RWMutex

	tools     map[string]*mcp.Tool
	resources map[string]*mcp.Resource

	started bool

	// expectResources, once true, makes resources/list and resources/read
	// advertisable even with zero resources registered (spec.md §4.F "expect
	// resources" mode).
	expectResources bool

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration warnings (e.g. a
// resource URI whose scheme isn't "ui:").
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithExpectResources pre-declares the resources capability so transports
// can advertise it before any resource is registered.
func WithExpectResources() Option {
	return func(r *Registry) { r.expectResources = true }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:     make(map[string]*mcp.Tool),
		resources: make(map[string]*mcp.Resource),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterTools inserts every tool atomically: if any name is a duplicate
// or any handler is nil, nothing is registered. Only valid before Start.
func (r *Registry) RegisterTools(tools ...*mcp.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("registry: RegisterTools called after Start; use LiveRegister")
	}
	return r.insertToolsLocked(tools)
}

// LiveRegister adds or replaces tools after Start, atomically with respect
// to concurrent tools/list reads. Unlike RegisterTools, duplicates are
// permitted (they replace the existing tool).
func (r *Registry) LiveRegister(tools ...*mcp.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if t.Handler == nil {
			return fmt.Errorf("registry: tool %q has no handler", t.Name)
		}
	}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return nil
}

// Unregister removes tools by name. Missing names are silently ignored:
// the contract for in-flight calls is that they complete against the
// handler they were dispatched with (spec.md §9 Open Questions).
func (r *Registry) Unregister(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		delete(r.tools, n)
	}
}

// Start marks the registry as having begun serving; subsequent mutation
// must go through LiveRegister/Unregister.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
}

func (r *Registry) insertToolsLocked(tools []*mcp.Tool) error {
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("registry: tool has empty name")
		}
		if t.Handler == nil {
			return fmt.Errorf("registry: tool %q has no handler", t.Name)
		}
		if _, exists := r.tools[t.Name]; exists {
			return fmt.Errorf("registry: duplicate tool %q", t.Name)
		}
	}
	// Re-scan the batch itself for intra-batch duplicates.
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("registry: duplicate tool %q within registration batch", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return nil
}

// GetTool looks up a tool by name.
func (r *Registry) GetTool(name string) (*mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListTools returns every registered tool, sorted by name for a stable
// tools/list response.
func (r *Registry) ListTools() []*mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mcp.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterResources validates the whole batch before mutating anything: it
// is an error if any resource's handler is nil, or if any URI already
// exists. On any precondition failure, the resource map is left untouched.
func (r *Registry) RegisterResources(resources ...*mcp.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(resources))
	for _, res := range resources {
		if res.URI == "" {
			return fmt.Errorf("registry: resource has empty uri")
		}
		if res.Handler == nil {
			return fmt.Errorf("registry: resource %q has no handler", res.URI)
		}
		if _, exists := r.resources[res.URI]; exists {
			return fmt.Errorf("registry: duplicate resource %q", res.URI)
		}
		if _, dup := seen[res.URI]; dup {
			return fmt.Errorf("registry: duplicate resource %q within registration batch", res.URI)
		}
		seen[res.URI] = struct{}{}
	}

	for _, res := range resources {
		if !strings.HasPrefix(res.URI, "ui:") {
			r.logger.Warn("resource registered with non-ui scheme", slog.String("uri", res.URI))
		}
		r.resources[res.URI] = res
	}
	return nil
}

// GetResource looks up a resource by URI.
func (r *Registry) GetResource(uri string) (*mcp.Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[uri]
	return res, ok
}

// ListResources returns every registered resource, sorted by URI.
func (r *Registry) ListResources() []*mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mcp.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// HasResourcesCapability reports whether resources/list and resources/read
// should be advertised: either a resource is registered, or expect-
// resources mode pre-declared the capability.
func (r *Registry) HasResourcesCapability() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expectResources || len(r.resources) > 0
}

// AllTools is used by the middleware pipeline builder to compute scope
// requirements at build time.
func (r *Registry) AllTools() []*mcp.Tool {
	return r.ListTools()
}
