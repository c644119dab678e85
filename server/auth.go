package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Casys-AI/mcp-server/auth"
	"github.com/Casys-AI/mcp-server/auth/presets"
	"github.com/Casys-AI/mcp-server/config"
)

// buildAuthProvider turns a loaded config.AuthConfig into an auth.Provider,
// dispatching to the matching preset (spec.md §6). An empty cfg.Provider
// means auth is disabled: this returns (nil, nil), and callers must treat a
// nil Provider as "run without authentication".
func buildAuthProvider(ctx context.Context, cfg config.AuthConfig, sink auth.EventSink, logger *slog.Logger) (auth.Provider, error) {
	if cfg.Provider == "" {
		return nil, nil
	}

	opts := presets.PresetOptions{
		Audience:        cfg.Audience,
		Resource:        cfg.Resource,
		ScopesSupported: cfg.ScopesSupported,
	}

	var jwtCfg auth.JWTProviderConfig
	switch cfg.Provider {
	case config.ProviderGoogle:
		jwtCfg = presets.Google(opts)
	case config.ProviderGitHub:
		jwtCfg = presets.GitHubActionsOIDC(opts)
	case config.ProviderAuth0:
		jwtCfg = presets.Auth0(cfg.Domain, opts)
	case config.ProviderOIDC:
		var err error
		jwtCfg, err = presets.OIDC(ctx, cfg.Issuer, opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("server: unknown auth provider %q", cfg.Provider)
	}

	if cfg.JWKSURI != "" {
		jwtCfg.JWKSURL = cfg.JWKSURI
	}
	jwtCfg.Logger = logger
	jwtCfg.Sink = sink

	return auth.NewJWTProvider(ctx, jwtCfg)
}
