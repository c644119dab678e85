// Package server wires every collaborator package into a single runnable
// MCP server, leaves first: queue, rate limiter, schema validator, and auth
// subsystem first, then the tool/resource registry, then the middleware
// pipeline built around them, then the transport(s) that sit on top. The
// registry comes one step earlier than in spec.md §2's component table; see
// the note in New.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Casys-AI/mcp-server/auth"
	"github.com/Casys-AI/mcp-server/config"
	"github.com/Casys-AI/mcp-server/mcp"
	"github.com/Casys-AI/mcp-server/middleware"
	"github.com/Casys-AI/mcp-server/queue"
	"github.com/Casys-AI/mcp-server/ratelimit"
	"github.com/Casys-AI/mcp-server/registry"
	"github.com/Casys-AI/mcp-server/telemetry"
	"github.com/Casys-AI/mcp-server/transport/httpmcp"
	"github.com/Casys-AI/mcp-server/validation"
)

// Config assembles a Server. ServerName, ServerVersion, and Tools are the
// only fields with no usable zero value; everything else degrades to "this
// concern is disabled" when left unset, matching each collaborator
// package's own nil-means-off convention.
type Config struct {
	ServerName    string
	ServerVersion string

	Tools           []*mcp.Tool
	Resources       []*mcp.Resource
	ExpectResources bool

	// AuthConfigPath, if set, is loaded via config.Load and used to build
	// the auth.Provider (spec.md §6). Leave empty to run without auth.
	AuthConfigPath string
	// WatchAuthConfig starts a config.Watcher on AuthConfigPath that
	// reloads and re-validates the file on every change and logs each
	// valid reload. The auth.Provider built by New is neither rebuilt nor
	// swapped: a reload does not change how tokens are verified.
	WatchAuthConfig bool

	// ToolRateLimit, when MaxRequests > 0, rate-limits every tool call
	// (spec.md §4.B), independent of the HTTP transport's per-IP limiter.
	ToolRateLimit     ratelimit.Config
	ToolRateLimitMode middleware.RateLimitMode
	ToolRateLimitKey  middleware.RateLimitKeyFunc

	// Queue, when EnableQueue is true, bounds concurrent in-flight tool
	// calls (spec.md §4.A); a MaxConcurrent of 0 or less is treated as 1.
	// With EnableQueue false there is no backpressure.
	Queue          queue.Config
	EnableQueue    bool

	// IPRateLimit, HTTP-only: bounds requests per client IP across every
	// method, independent of ToolRateLimit which only gates tools/call.
	IPRateLimit     *ratelimit.Config
	IPRateLimitMode middleware.RateLimitMode
	InitRateLimit   *ratelimit.Config

	CORS         httpmcp.CORSConfig
	MaxBodyBytes *int64
	CustomRoutes map[string]http.HandlerFunc

	EnableTelemetry bool
	Telemetry       telemetry.Config

	Logger *slog.Logger
}

// Server is a fully wired MCP server: a registry, a middleware pipeline, an
// HTTP transport, and (when configured) auth and telemetry. Construct one
// with New and drive it with Run/Shutdown; the caller owns the actual
// net.Listener (see cmd/mcpserver for the reference wiring).
type Server struct {
	Registry     *registry.Registry
	Pipeline     *middleware.Pipeline
	HTTP         *httpmcp.Handler
	AuthProvider auth.Provider
	Validator    *validation.Validator
	Queue        *queue.Queue
	Telemetry    *telemetry.Bridge

	authWatcher *config.Watcher
	logger      *slog.Logger

	cancel context.CancelFunc
}

// New constructs every collaborator and wires them together. It does not
// start any background goroutine; call Run for that.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.ServerName == "" {
		return nil, errors.New("server: ServerName is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var bridge *telemetry.Bridge
	if cfg.EnableTelemetry {
		tcfg := cfg.Telemetry
		if tcfg.ServiceName == "" {
			tcfg.ServiceName = cfg.ServerName
		}
		if tcfg.ServiceVersion == "" {
			tcfg.ServiceVersion = cfg.ServerVersion
		}
		if tcfg.Logger == nil {
			tcfg.Logger = logger
		}
		var err error
		bridge, err = telemetry.New(ctx, tcfg)
		if err != nil {
			return nil, fmt.Errorf("server: init telemetry: %w", err)
		}
	}

	// A. Request queue.
	var q *queue.Queue
	if cfg.EnableQueue {
		q = queue.New(cfg.Queue)
	}

	// B. Rate limiter (per-tool).
	var toolLimiter *ratelimit.Limiter
	if cfg.ToolRateLimit.MaxRequests > 0 {
		toolLimiter = ratelimit.New(cfg.ToolRateLimit)
	}

	// C. Schema validator, populated below once tools are known.
	validator := validation.New()
	for _, t := range cfg.Tools {
		if err := validator.Register(t.Name, t.InputSchema); err != nil {
			return nil, fmt.Errorf("server: register schema for tool %q: %w", t.Name, err)
		}
	}

	// D. Auth subsystem.
	var authProvider auth.Provider
	var authWatcher *config.Watcher
	if cfg.AuthConfigPath != "" {
		authCfg, err := config.Load(cfg.AuthConfigPath)
		if err != nil {
			return nil, fmt.Errorf("server: load auth config: %w", err)
		}
		var sink auth.EventSink
		if bridge != nil {
			sink = bridge
		}
		authProvider, err = buildAuthProvider(ctx, authCfg, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("server: build auth provider: %w", err)
		}
		if cfg.WatchAuthConfig {
			authWatcher, err = config.NewWatcher(cfg.AuthConfigPath, logger)
			if err != nil {
				return nil, fmt.Errorf("server: start auth config watcher: %w", err)
			}
			authWatcher.OnChange(func(next config.AuthConfig) {
				logger.Info("server.auth_config.changed", slog.String("provider", next.Provider))
			})
		}
	}

	// Registry is constructed here, ahead of the pipeline in spec.md §2's
	// component table, because the pipeline's dispatch handler (built next)
	// needs a live registry to resolve tool names against; the registry
	// itself has no dependency on the pipeline.
	reg := registry.New(registry.WithLogger(logger), registryOption(cfg.ExpectResources))
	if err := reg.RegisterTools(cfg.Tools...); err != nil {
		return nil, fmt.Errorf("server: register tools: %w", err)
	}
	if len(cfg.Resources) > 0 {
		if err := reg.RegisterResources(cfg.Resources...); err != nil {
			return nil, fmt.Errorf("server: register resources: %w", err)
		}
	}
	reg.Start()

	// E. Middleware pipeline.
	dispatch := func(ctx context.Context, ic *mcp.InvocationContext) (any, error) {
		tool, ok := reg.GetTool(ic.ToolName)
		if !ok {
			return nil, fmt.Errorf("Unknown tool: %s", ic.ToolName)
		}
		return tool.Handler(ctx, ic)
	}
	pipeline := middleware.Build(dispatch, middleware.BuildConfig{
		RateLimiter:       toolLimiter,
		RateLimitMode:     cfg.ToolRateLimitMode,
		RateLimitKey:      cfg.ToolRateLimitKey,
		AuthProvider:      authProvider,
		ScopeRequirements: auth.BuildScopeRequirements(cfg.Tools),
		Validator:         validator,
		Queue:             q,
		Logger:            logger,
	})

	// G. HTTP transport.
	var metricsSink httpmcp.MetricsSink
	if bridge != nil {
		metricsSink = bridge
	}
	var ipLimiter *ratelimit.Limiter
	if cfg.IPRateLimit != nil {
		ipLimiter = ratelimit.New(*cfg.IPRateLimit)
	}
	var initLimiter *ratelimit.Limiter
	if cfg.InitRateLimit != nil {
		initLimiter = ratelimit.New(*cfg.InitRateLimit)
	}
	h, err := httpmcp.New(httpmcp.Config{
		ServerName:      cfg.ServerName,
		ServerVersion:   cfg.ServerVersion,
		Registry:        reg,
		Pipeline:        pipeline,
		AuthProvider:    authProvider,
		IPRateLimiter:   ipLimiter,
		IPRateLimitMode: cfg.IPRateLimitMode,
		InitRateLimiter: initLimiter,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		CORS:            cfg.CORS,
		CustomRoutes:    cfg.CustomRoutes,
		Metrics:         metricsSink,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("server: build http transport: %w", err)
	}

	return &Server{
		Registry:     reg,
		Pipeline:     pipeline,
		HTTP:         h,
		AuthProvider: authProvider,
		Validator:    validator,
		Queue:        q,
		Telemetry:    bridge,
		authWatcher:  authWatcher,
		logger:       logger,
	}, nil
}

func registryOption(expectResources bool) registry.Option {
	if expectResources {
		return registry.WithExpectResources()
	}
	return func(*registry.Registry) {}
}

// Run starts the server's background goroutines (session reaper, and the
// auth config watcher if one was configured). It returns once ctx is
// canceled or Shutdown is called.
func (s *Server) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.authWatcher != nil {
		if err := s.authWatcher.Start(runCtx); err != nil {
			s.logger.Warn("server.auth_watcher.start_failed", slog.String("err", err.Error()))
		}
	}
	s.HTTP.Run(runCtx)
}

// Shutdown implements spec.md §4.G's shutdown ordering: cancel the session
// reaper and auth watcher, close every SSE client, then flush telemetry.
// Stopping the actual net.Listener is the caller's responsibility (it owns
// the http.Server, this package does not).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.HTTP.Shutdown(ctx); err != nil {
		return err
	}
	if s.Telemetry != nil {
		return s.Telemetry.Shutdown(ctx)
	}
	return nil
}

// WaitDrain gives in-flight SSE writers a moment to observe cancellation
// before the caller stops the listener.
func (s *Server) WaitDrain(d time.Duration) {
	time.Sleep(d)
}
