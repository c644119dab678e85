package presets

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/Casys-AI/mcp-server/auth"
)

// PresetOptions is the shape every preset factory below accepts.
type PresetOptions struct {
	Audience        string
	Resource        string
	ScopesSupported []string
}

func (o PresetOptions) config(issuer, jwksURI string, servers []string) auth.JWTProviderConfig {
	return auth.JWTProviderConfig{
		Issuer:               issuer,
		Audience:             o.Audience,
		JWKSURL:              jwksURI,
		Resource:             o.Resource,
		AuthorizationServers: servers,
		ScopesSupported:      o.ScopesSupported,
	}
}

// Google returns JWTProviderConfig for Google-issued ID tokens.
func Google(opts PresetOptions) auth.JWTProviderConfig {
	const issuer = "https://accounts.google.com"
	return opts.config(issuer, issuer+"/.well-known/openid-configuration/jwks", []string{issuer})
}

// GitHubActionsOIDC returns JWTProviderConfig for GitHub Actions' OIDC
// token issuer, used to verify workflow-run identity tokens.
func GitHubActionsOIDC(opts PresetOptions) auth.JWTProviderConfig {
	const issuer = "https://token.actions.githubusercontent.com"
	return opts.config(issuer, issuer+"/.well-known/jwks", []string{issuer})
}

// Auth0 returns JWTProviderConfig for a given Auth0 tenant domain.
// issuer = "https://{domain}/", jwksUri = issuer + ".well-known/jwks.json".
func Auth0(domain string, opts PresetOptions) auth.JWTProviderConfig {
	issuer := "https://" + strings.TrimSuffix(domain, "/") + "/"
	return opts.config(issuer, issuer+".well-known/jwks.json", []string{issuer})
}

// OIDC returns JWTProviderConfig for a generic OpenID Connect issuer,
// performing discovery to resolve its jwks_uri rather than assuming the
// conventional path.
func OIDC(ctx context.Context, issuer string, opts PresetOptions) (auth.JWTProviderConfig, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return auth.JWTProviderConfig{}, fmt.Errorf("presets: oidc discovery for %q failed: %w", issuer, err)
	}
	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return auth.JWTProviderConfig{}, fmt.Errorf("presets: oidc discovery metadata for %q: %w", issuer, err)
	}
	if meta.JWKSURI == "" {
		return auth.JWTProviderConfig{}, fmt.Errorf("presets: oidc discovery for %q did not advertise jwks_uri", issuer)
	}
	return opts.config(issuer, meta.JWKSURI, []string{issuer}), nil
}
