package middleware

import (
	"context"
	"errors"

	"github.com/Casys-AI/mcp-server/mcp"
)

// Handler invokes the tool and returns its result.
type Handler func(ctx context.Context, ic *mcp.InvocationContext) (any, error)

// Next advances to the next middleware in the chain, or to the handler if
// this is the last one.
type Next func(ctx context.Context) (any, error)

// Middleware wraps a call, free to short-circuit by not calling next, to
// mutate ic for downstream middlewares, or to wrap next() in pre/post
// logic.
type Middleware func(ctx context.Context, ic *mcp.InvocationContext, next Next) (any, error)

// ErrDoubleInvoke is returned when a middleware calls its next (or the
// handler's implicit next) more than once. It guards against buggy
// middlewares double-invoking the pipeline.
var ErrDoubleInvoke = errors.New("middleware: next invoked more than once after the handler was reached")

// Pipeline is an ordered, built chain of middlewares around a handler.
type Pipeline struct {
	chain   []Middleware
	handler Handler
}

// New builds a Pipeline. The caller is responsible for ordering chain
// according to spec.md §4.E; this package does not reorder what it is
// given — Build (builtin.go) is what enforces the fixed order.
func New(handler Handler, chain ...Middleware) *Pipeline {
	return &Pipeline{chain: chain, handler: handler}
}

// Run executes the pipeline for a single invocation.
func (p *Pipeline) Run(ctx context.Context, ic *mcp.InvocationContext) (any, error) {
	var invoked bool
	var index int

	var next Next
	next = func(ctx context.Context) (any, error) {
		if index >= len(p.chain) {
			if invoked {
				return nil, ErrDoubleInvoke
			}
			invoked = true
			return p.handler(ctx, ic)
		}
		m := p.chain[index]
		index++
		return m(ctx, ic, next)
	}

	return next(ctx)
}
