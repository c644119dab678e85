package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Casys-AI/mcp-server/auth"
	"github.com/Casys-AI/mcp-server/mcp"
	"github.com/Casys-AI/mcp-server/queue"
	"github.com/Casys-AI/mcp-server/ratelimit"
	"github.com/Casys-AI/mcp-server/validation"
)

// RateLimitMode selects how the rate-limit middleware behaves at capacity.
type RateLimitMode string

const (
	RateLimitReject RateLimitMode = "reject"
	RateLimitWait   RateLimitMode = "wait"
)

// RateLimitKeyFunc computes the per-tool rate-limit bucket key for a call.
// Returning "" falls back to the literal key "default".
type RateLimitKeyFunc func(toolName string, args map[string]any) string

// BuildConfig assembles the fixed-order pipeline spec.md §4.E describes.
// Every field is optional except the one thing a pipeline cannot do
// without: the tool handler passed separately to Build.
type BuildConfig struct {
	RateLimiter    *ratelimit.Limiter
	RateLimitMode  RateLimitMode
	RateLimitKey   RateLimitKeyFunc

	AuthProvider        auth.Provider
	ResourceMetadataURL string

	UserMiddlewares []Middleware

	ScopeRequirements auth.ScopeRequirements

	Validator *validation.Validator

	Queue *queue.Queue

	Logger *slog.Logger
}

// Build composes the fixed-order pipeline: rate-limit (if configured) ->
// auth (if provider present) -> user middlewares (registration order) ->
// scope-check (if any tool declares required scopes) -> validation (if a
// validator is present) -> backpressure (always, when a Queue is given).
func Build(handler Handler, cfg BuildConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var chain []Middleware

	if cfg.RateLimiter != nil {
		chain = append(chain, RateLimitMiddleware(cfg.RateLimiter, cfg.RateLimitMode, cfg.RateLimitKey))
	}
	if cfg.AuthProvider != nil {
		chain = append(chain, AuthMiddleware(cfg.AuthProvider, cfg.ResourceMetadataURL, logger))
	}
	chain = append(chain, cfg.UserMiddlewares...)
	if len(cfg.ScopeRequirements) > 0 {
		chain = append(chain, ScopeCheckMiddleware(cfg.ScopeRequirements, cfg.ResourceMetadataURL))
	}
	if cfg.Validator != nil {
		chain = append(chain, ValidationMiddleware(cfg.Validator))
	}
	if cfg.Queue != nil {
		chain = append(chain, BackpressureMiddleware(cfg.Queue))
	}

	return New(handler, chain...)
}

// RateLimitMiddleware enforces ratelimit.Limiter against a per-call key.
func RateLimitMiddleware(limiter *ratelimit.Limiter, mode RateLimitMode, keyFunc RateLimitKeyFunc) Middleware {
	return func(ctx context.Context, ic *mcp.InvocationContext, next Next) (any, error) {
		key := "default"
		if keyFunc != nil {
			if k := keyFunc(ic.ToolName, ic.Args); k != "" {
				key = k
			}
		}

		switch mode {
		case RateLimitWait:
			if err := limiter.WaitForSlot(ctx, key); err != nil {
				return nil, err
			}
		default:
			if !limiter.CheckLimit(key) {
				waitMs := limiter.GetTimeUntilSlot(key)
				return nil, fmt.Errorf("Rate limit exceeded: retry after %ds", (waitMs+999)/1000)
			}
		}
		return next(ctx)
	}
}

// AuthMiddleware extracts and verifies a bearer token for HTTP-transported
// calls; it is skipped entirely on stdio (ic.Request == nil).
func AuthMiddleware(provider auth.Provider, resourceMetadataURL string, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ic *mcp.InvocationContext, next Next) (any, error) {
		if ic.Request == nil {
			return next(ctx)
		}

		metaURL := resourceMetadataURL
		if metaURL == "" {
			metaURL = auth.ResourceMetadataURL(provider.ResourceMetadata().Resource)
		}

		token := auth.ExtractBearerToken(ic.Request.Header.Get("Authorization"))
		if token == "" {
			logger.Debug("auth.check.fail", slog.String("reason", "missing_token"))
			return nil, auth.NewMissingTokenError(metaURL)
		}

		info, err := provider.VerifyToken(ctx, token)
		if err != nil || info == nil {
			logger.Debug("auth.check.fail", slog.String("reason", "invalid_token"))
			return nil, auth.NewInvalidTokenError(metaURL)
		}

		// AuthInfo is frozen from here on: no middleware downstream of this
		// one may mutate ic.AuthInfo or its Scopes slice.
		ic.AuthInfo = info
		ic.ResourceMetadataURL = metaURL
		return next(ctx)
	}
}

// ScopeCheckMiddleware enforces the per-tool required-scopes map built at
// pipeline construction time.
func ScopeCheckMiddleware(reqs auth.ScopeRequirements, resourceMetadataURL string) Middleware {
	return func(ctx context.Context, ic *mcp.InvocationContext, next Next) (any, error) {
		metaURL := resourceMetadataURL
		if metaURL == "" {
			metaURL = ic.ResourceMetadataURL
		}
		if err := auth.CheckScopes(reqs, ic.ToolName, ic, metaURL); err != nil {
			return nil, err
		}
		return next(ctx)
	}
}

// ValidationMiddleware gates tool arguments against a compiled JSON Schema.
func ValidationMiddleware(v *validation.Validator) Middleware {
	return func(ctx context.Context, ic *mcp.InvocationContext, next Next) (any, error) {
		if err := v.ValidateOrThrow(ic.ToolName, ic.Args); err != nil {
			return nil, err
		}
		return next(ctx)
	}
}

// BackpressureMiddleware bounds concurrent in-flight calls. Release happens
// in a guarded exit so it runs on every path out of next(), including a
// panic recovered by an outer layer re-panicking after release.
func BackpressureMiddleware(q *queue.Queue) Middleware {
	return func(ctx context.Context, ic *mcp.InvocationContext, next Next) (any, error) {
		if err := q.Acquire(ctx); err != nil {
			return nil, err
		}
		defer q.Release()
		return next(ctx)
	}
}
