package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Casys-AI/mcp-server/mcp"
)

// EventSink receives auth lifecycle events for the OTEL/metrics bridge.
// Implemented by the telemetry package; kept as a minimal interface here so
// auth has no import-time dependency on it.
type EventSink interface {
	AuthEvent(kind string) // "verify", "reject", or "cache_hit"
}

type noopSink struct{}

func (noopSink) AuthEvent(string) {}

// JWTProviderConfig configures a JWTProvider.
type JWTProviderConfig struct {
	Issuer   string
	Audience string
	// JWKSURL overrides the derived "{issuer}/.well-known/jwks.json" URL.
	JWKSURL string
	// Resource is the protected resource identifier used to derive
	// ResourceMetadataURL; defaults to Audience if unset.
	Resource string
	// AuthorizationServers is advertised in ResourceMetadata.
	AuthorizationServers []string
	ScopesSupported      []string

	CacheMaxSize int
	Logger       *slog.Logger
	Sink         EventSink
}

// JWTProvider is the default Provider: JWKS-backed JWT verification with a
// bounded, TTL-capped AuthInfo cache in front of it.
type JWTProvider struct {
	cfg     JWTProviderConfig
	jwks    keyfunc.Keyfunc
	cache   *tokenCache
	logger  *slog.Logger
	sink    EventSink
	metaURL string
}

// NewJWTProvider constructs a JWTProvider. It builds a long-lived,
// auto-refreshing JWKS client up front; the JWKS document itself is never
// fetched on the per-call hot path (spec.md §4.D step 3).
func NewJWTProvider(ctx context.Context, cfg JWTProviderConfig) (*JWTProvider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("auth: issuer is required")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("auth: audience is required")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: jwks init failed: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = noopSink{}
	}

	resource := cfg.Resource
	if resource == "" {
		resource = cfg.Audience
	}

	return &JWTProvider{
		cfg:     cfg,
		jwks:    jwks,
		cache:   newTokenCache(cfg.CacheMaxSize),
		logger:  logger,
		sink:    sink,
		metaURL: ResourceMetadataURL(resource),
	}, nil
}

// VerifyToken implements Provider.
func (p *JWTProvider) VerifyToken(ctx context.Context, token string) (*mcp.AuthInfo, error) {
	key := TokenCacheKey(token)
	if info, ok := p.cache.get(key); ok {
		p.sink.AuthEvent("cache_hit")
		return info, nil
	}

	info, expiresAt, err := p.verifyAndParse(token)
	if err != nil {
		p.sink.AuthEvent("reject")
		p.logger.Debug("auth.verify.fail", slog.String("reason", classifyVerifyError(err)))
		return nil, nil
	}

	p.sink.AuthEvent("verify")
	if ttl := cacheTTL(expiresAt); ttl > 0 {
		p.cache.put(key, info, ttl)
	}
	return info, nil
}

// classifyVerifyError maps a low-level parse error to a coarse reason
// string suitable for logging; never includes token material.
func classifyVerifyError(err error) string {
	switch {
	case strings.Contains(err.Error(), "expired"):
		return "expired"
	case strings.Contains(err.Error(), "signature"):
		return "signature"
	case strings.Contains(err.Error(), "issuer"):
		return "issuer_mismatch"
	case strings.Contains(err.Error(), "audience"):
		return "audience_mismatch"
	default:
		return "malformed"
	}
}

func (p *JWTProvider) verifyAndParse(token string) (*mcp.AuthInfo, int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithAudience(p.cfg.Audience),
		jwt.WithLeeway(60*time.Second),
	)

	parsed, err := parser.Parse(token, p.jwks.Keyfunc)
	if err != nil {
		return nil, 0, fmt.Errorf("token parse/verify failed: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected claims type")
	}

	info := &mcp.AuthInfo{Claims: claims}

	if sub, _ := claims["sub"].(string); sub != "" {
		info.Subject = sub
	} else {
		info.Subject = "unknown"
	}

	if azp, _ := claims["azp"].(string); azp != "" {
		info.ClientID = azp
	} else if cid, _ := claims["client_id"].(string); cid != "" {
		info.ClientID = cid
	}

	info.Scopes = scopesFromClaims(claims)

	var expiresAt int64
	switch exp := claims["exp"].(type) {
	case float64:
		expiresAt = int64(exp)
	case int64:
		expiresAt = exp
	case string:
		if n, convErr := strconv.ParseInt(exp, 10, 64); convErr == nil {
			expiresAt = n
		}
	}
	info.ExpiresAt = expiresAt

	return info, expiresAt, nil
}

// scopesFromClaims reads the "scope" space-delimited string claim, or the
// "scp" array-of-strings claim, filtering out empty entries either way.
func scopesFromClaims(claims jwt.MapClaims) []string {
	if scopeStr, ok := claims["scope"].(string); ok && scopeStr != "" {
		fields := strings.Fields(scopeStr)
		out := make([]string, 0, len(fields))
		for _, f := range fields {
			if f != "" {
				out = append(out, f)
			}
		}
		return out
	}
	if scp, ok := claims["scp"].([]any); ok {
		out := make([]string, 0, len(scp))
		for _, v := range scp {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// ResourceMetadata implements Provider.
func (p *JWTProvider) ResourceMetadata() ResourceMetadata {
	resource := p.cfg.Resource
	if resource == "" {
		resource = p.cfg.Audience
	}
	servers := p.cfg.AuthorizationServers
	if len(servers) == 0 {
		servers = []string{p.cfg.Issuer}
	}
	return ResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   servers,
		ScopesSupported:        p.cfg.ScopesSupported,
		BearerMethodsSupported: []string{"header"},
	}
}
