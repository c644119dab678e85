package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile missing file: unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg, AuthConfig{}) {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestLoadFileMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "auth: [this is not a map}")

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error parsing malformed yaml")
	}
}

func TestLoadFileParsesAuthBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
auth:
  provider: google
  audience: my-api
  resource: https://api.example.com
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Provider != ProviderGoogle || cfg.Audience != "my-api" || cfg.Resource != "https://api.example.com" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadEnvReadsMCPAuthVars(t *testing.T) {
	t.Setenv("MCP_AUTH_PROVIDER", ProviderAuth0)
	t.Setenv("MCP_AUTH_AUDIENCE", "env-aud")
	t.Setenv("MCP_AUTH_RESOURCE", "https://env.example.com")
	t.Setenv("MCP_AUTH_DOMAIN", "tenant.auth0.com")
	t.Setenv("MCP_AUTH_SCOPES", "read write")

	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.Provider != ProviderAuth0 || cfg.Audience != "env-aud" || cfg.Resource != "https://env.example.com" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Domain != "tenant.auth0.com" {
		t.Fatalf("expected domain to be set, got %+v", cfg)
	}
	if len(cfg.ScopesSupported) != 2 || cfg.ScopesSupported[0] != "read" || cfg.ScopesSupported[1] != "write" {
		t.Fatalf("unexpected scopes: %v", cfg.ScopesSupported)
	}
}

func TestLoadEnvUnsetLeavesZeroValue(t *testing.T) {
	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if !reflect.DeepEqual(cfg, AuthConfig{}) {
		t.Fatalf("expected zero-value config with no env set, got %+v", cfg)
	}
}

func TestMergeOverrideWinsOnNonEmptyFields(t *testing.T) {
	base := AuthConfig{Provider: ProviderGoogle, Audience: "base-aud", Resource: "base-res"}
	override := AuthConfig{Audience: "override-aud"}

	merged := Merge(base, override)
	if merged.Provider != ProviderGoogle {
		t.Fatalf("expected base provider to survive, got %q", merged.Provider)
	}
	if merged.Audience != "override-aud" {
		t.Fatalf("expected override audience to win, got %q", merged.Audience)
	}
	if merged.Resource != "base-res" {
		t.Fatalf("expected base resource to survive, got %q", merged.Resource)
	}
}

func TestLoadEnvironmentOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
auth:
  provider: google
  audience: yaml-aud
  resource: https://yaml.example.com
`)
	t.Setenv("MCP_AUTH_AUDIENCE", "env-aud")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audience != "env-aud" {
		t.Fatalf("expected env audience to win over yaml, got %q", cfg.Audience)
	}
	if cfg.Resource != "https://yaml.example.com" {
		t.Fatalf("expected yaml resource to survive, got %q", cfg.Resource)
	}
}

func TestLoadNoProviderConfiguredDisablesAuthWithoutValidation(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with no provider configured should not fail validation: %v", err)
	}
	if cfg.Provider != "" {
		t.Fatalf("expected empty provider, got %q", cfg.Provider)
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	err := Validate(AuthConfig{Provider: "bogus", Audience: "a", Resource: "r"})
	assertErrContains(t, err, "unknown auth provider")
}

func TestValidateMissingAudience(t *testing.T) {
	err := Validate(AuthConfig{Provider: ProviderGoogle, Resource: "r"})
	assertErrContains(t, err, "audience is required")
}

func TestValidateMissingResource(t *testing.T) {
	err := Validate(AuthConfig{Provider: ProviderGoogle, Audience: "a"})
	assertErrContains(t, err, "resource is required")
}

func TestValidateAuth0RequiresDomain(t *testing.T) {
	err := Validate(AuthConfig{Provider: ProviderAuth0, Audience: "a", Resource: "r"})
	assertErrContains(t, err, "domain is required")
}

func TestValidateOIDCRequiresIssuer(t *testing.T) {
	err := Validate(AuthConfig{Provider: ProviderOIDC, Audience: "a", Resource: "r"})
	assertErrContains(t, err, "issuer is required")
}

func TestValidateGitHubAccepted(t *testing.T) {
	err := Validate(AuthConfig{Provider: ProviderGitHub, Audience: "a", Resource: "r"})
	if err != nil {
		t.Fatalf("expected github provider with audience+resource to validate, got %v", err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertErrContains(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error containing %q, got nil", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("expected error to contain %q, got %q", substr, err.Error())
	}
}
