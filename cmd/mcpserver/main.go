// Command mcpserver runs a standalone MCP server exposing a handful of
// example tools over HTTP. It is a reference wiring, not a product: real
// deployments call server.New directly with their own tools and resources.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/Casys-AI/mcp-server/mcp"
	"github.com/Casys-AI/mcp-server/queue"
	"github.com/Casys-AI/mcp-server/ratelimit"
	"github.com/Casys-AI/mcp-server/server"
	"github.com/Casys-AI/mcp-server/telemetry"
	"github.com/Casys-AI/mcp-server/transport/httpmcp"
)

// schemaFor reflects v's type into a JSON Schema document shaped the way
// mcp.Tool.InputSchema expects: a plain map, not a *jsonschema.Schema, since
// that's what the validation and transport packages marshal/inspect.
func schemaFor(v any) map[string]any {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Errorf("reflect schema for %T: %w", v, err))
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Errorf("decode reflected schema for %T: %w", v, err))
	}
	return out
}

func main() {
	var (
		addr            = flag.String("addr", ":8080", "HTTP listen address")
		authConfigPath  = flag.String("auth-config", "", "path to a YAML auth config (auth: {...}); empty disables auth")
		watchAuthConfig = flag.Bool("watch-auth-config", false, "hot-reload -auth-config on write")
		enableQueue     = flag.Bool("enable-backpressure", true, "bound concurrent tool calls")
		maxConcurrent   = flag.Int("max-concurrent-calls", 32, "backpressure ceiling; ignored if -enable-backpressure=false")
		ipRateLimit     = flag.Int("ip-rate-limit", 0, "max requests per client IP per window; 0 disables")
		ipRateWindowMs  = flag.Int64("ip-rate-window-ms", 60_000, "window for -ip-rate-limit")
		enableTelemetry = flag.Bool("enable-telemetry", true, "expose /metrics and OTEL tracing")
		otlpEndpoint    = flag.String("otlp-endpoint", "", "OTLP trace collector endpoint; empty disables span export")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*addr, *authConfigPath, *watchAuthConfig, *enableQueue, *maxConcurrent, *ipRateLimit, *ipRateWindowMs, *enableTelemetry, *otlpEndpoint, logger); err != nil {
		logger.Error("mcpserver.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(addr, authConfigPath string, watchAuthConfig bool, enableQueue bool, maxConcurrent int, ipRateLimit int, ipRateWindowMs int64, enableTelemetry bool, otlpEndpoint string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := server.Config{
		ServerName:      "mcpserver",
		ServerVersion:   "0.1.0",
		Tools:           exampleTools(),
		Resources:       exampleResources(),
		AuthConfigPath:  authConfigPath,
		WatchAuthConfig: watchAuthConfig,
		EnableQueue:     enableQueue,
		Queue:           queue.Config{MaxConcurrent: maxConcurrent, Strategy: queue.StrategyQueue},
		EnableTelemetry: enableTelemetry,
		Telemetry:       telemetry.Config{OTLPEndpoint: otlpEndpoint, Logger: logger},
		CORS:            httpmcp.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
		Logger:          logger,
	}
	if ipRateLimit > 0 {
		cfg.IPRateLimit = &ratelimit.Config{MaxRequests: ipRateLimit, WindowMs: ipRateWindowMs}
	}

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.HTTP,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go srv.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcpserver.listening", slog.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv.WaitDrain(200 * time.Millisecond)
	shutdownErr := srv.Shutdown(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("mcpserver.http_shutdown_failed", slog.String("err", err.Error()))
	}
	return shutdownErr
}

// echoArgs is reflected into echo's InputSchema via invopop/jsonschema
// instead of being hand-written, the way a tool backed by a typed request
// struct would do it.
type echoArgs struct {
	Value string `json:"value" jsonschema:"required,description=the string to echo back"`
}

func exampleTools() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        "echo",
			Description: "Echoes the given value back to the caller.",
			InputSchema: schemaFor(echoArgs{}),
			Handler: func(ctx context.Context, ic *mcp.InvocationContext) (any, error) {
				v, _ := ic.Args["value"].(string)
				return v, nil
			},
		},
		{
			Name:        "current_time",
			Description: "Returns the server's current time in RFC 3339 form.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, ic *mcp.InvocationContext) (any, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		},
	}
}

func exampleResources() []*mcp.Resource {
	return []*mcp.Resource{
		{
			URI:         "mcpserver://about",
			Name:        "about",
			Description: "A short description of this server.",
			MimeType:    "text/plain",
			Handler: func(ctx context.Context, uri string) (*mcp.ResourceResult, error) {
				return &mcp.ResourceResult{
					URI:      uri,
					MimeType: "text/plain",
					Text:     "mcpserver: a reference MCP server exposing echo and current_time.",
				}, nil
			},
		},
	}
}
