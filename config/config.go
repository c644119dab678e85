package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by MCP_AUTH_PROVIDER / auth.provider.
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
	ProviderAuth0  = "auth0"
	ProviderOIDC   = "oidc"
)

// AuthConfig is the auth subsystem's configuration, whatever its source.
type AuthConfig struct {
	Provider        string   `yaml:"provider"`
	Audience        string   `yaml:"audience"`
	Resource        string   `yaml:"resource"`
	Domain          string   `yaml:"domain,omitempty"`
	Issuer          string   `yaml:"issuer,omitempty"`
	JWKSURI         string   `yaml:"jwksUri,omitempty"`
	ScopesSupported []string `yaml:"scopesSupported,omitempty"`
}

// fileShape is the top-level YAML document shape: `auth: {...}`.
type fileShape struct {
	Auth AuthConfig `yaml:"auth"`
}

// envShape mirrors AuthConfig for envdecode, using the MCP_AUTH_* names
// spec.md §6 specifies. ScopesSupported is space-separated on the wire.
type envShape struct {
	Provider string `env:"MCP_AUTH_PROVIDER"`
	Audience string `env:"MCP_AUTH_AUDIENCE"`
	Resource string `env:"MCP_AUTH_RESOURCE"`
	Domain   string `env:"MCP_AUTH_DOMAIN"`
	Issuer   string `env:"MCP_AUTH_ISSUER"`
	JWKSURI  string `env:"MCP_AUTH_JWKS_URI"`
	Scopes   string `env:"MCP_AUTH_SCOPES"`
}

// LoadFile reads and parses path's YAML document. A missing file is not an
// error; it returns a zero-value AuthConfig.
func LoadFile(path string) (AuthConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return AuthConfig{}, nil
		}
		return AuthConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc fileShape
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return AuthConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return doc.Auth, nil
}

// LoadEnv reads the MCP_AUTH_* environment variables into an AuthConfig.
// Unset variables leave the corresponding field empty.
func LoadEnv() (AuthConfig, error) {
	var e envShape
	// envdecode reports an error when no tagged field has a matching
	// variable set; that's the common case here (auth is often unset), so
	// the error is informational only.
	_ = envdecode.Decode(&e)
	cfg := AuthConfig{
		Provider: e.Provider,
		Audience: e.Audience,
		Resource: e.Resource,
		Domain:   e.Domain,
		Issuer:   e.Issuer,
		JWKSURI:  e.JWKSURI,
	}
	if e.Scopes != "" {
		cfg.ScopesSupported = strings.Fields(e.Scopes)
	}
	return cfg, nil
}

// Merge overlays override onto base: any non-empty field on override wins.
// Used to apply environment > YAML > none priority.
func Merge(base, override AuthConfig) AuthConfig {
	merged := base
	if override.Provider != "" {
		merged.Provider = override.Provider
	}
	if override.Audience != "" {
		merged.Audience = override.Audience
	}
	if override.Resource != "" {
		merged.Resource = override.Resource
	}
	if override.Domain != "" {
		merged.Domain = override.Domain
	}
	if override.Issuer != "" {
		merged.Issuer = override.Issuer
	}
	if override.JWKSURI != "" {
		merged.JWKSURI = override.JWKSURI
	}
	if len(override.ScopesSupported) > 0 {
		merged.ScopesSupported = override.ScopesSupported
	}
	return merged
}

// Load merges the YAML file at path with the environment, environment
// taking priority, and validates the result.
func Load(path string) (AuthConfig, error) {
	fileCfg, err := LoadFile(path)
	if err != nil {
		return AuthConfig{}, err
	}
	envCfg, err := LoadEnv()
	if err != nil {
		return AuthConfig{}, err
	}
	merged := Merge(fileCfg, envCfg)
	if merged.Provider == "" {
		// No provider configured at all: auth is simply disabled. This is
		// not a validation failure; Validate only fires once a provider
		// string is present.
		return merged, nil
	}
	if err := Validate(merged); err != nil {
		return AuthConfig{}, err
	}
	return merged, nil
}

// Validate fails fast on an unknown provider, a missing audience/resource,
// or a provider-specific missing field, each with a distinct message per
// spec.md §6.
func Validate(cfg AuthConfig) error {
	switch cfg.Provider {
	case ProviderGitHub, ProviderGoogle, ProviderAuth0, ProviderOIDC:
	default:
		return fmt.Errorf("config: unknown auth provider %q", cfg.Provider)
	}
	if cfg.Audience == "" {
		return errors.New("config: auth.audience is required")
	}
	if cfg.Resource == "" {
		return errors.New("config: auth.resource is required")
	}
	if cfg.Provider == ProviderAuth0 && cfg.Domain == "" {
		return errors.New("config: auth.domain is required for the auth0 provider")
	}
	if cfg.Provider == ProviderOIDC && cfg.Issuer == "" {
		return errors.New("config: auth.issuer is required for the oidc provider")
	}
	return nil
}
