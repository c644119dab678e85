package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Casys-AI/mcp-server/mcp"
)

func TestCheckScopesNoRequirement(t *testing.T) {
	reqs := BuildScopeRequirements([]*mcp.Tool{{Name: "free_tool"}})
	ic := &mcp.InvocationContext{ToolName: "free_tool"}
	if err := CheckScopes(reqs, "free_tool", ic, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckScopesStdioPassesWithoutAuthInfo(t *testing.T) {
	reqs := BuildScopeRequirements([]*mcp.Tool{{Name: "admin_action", RequiredScopes: []string{"admin"}}})
	ic := &mcp.InvocationContext{ToolName: "admin_action"} // no Request: stdio path
	if err := CheckScopes(reqs, "admin_action", ic, ""); err != nil {
		t.Fatalf("stdio calls to a gated tool without AuthInfo must pass: %v", err)
	}
}

func TestCheckScopesHTTPWithoutAuthInfoIsMisconfiguration(t *testing.T) {
	reqs := BuildScopeRequirements([]*mcp.Tool{{Name: "admin_action", RequiredScopes: []string{"admin"}}})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	ic := &mcp.InvocationContext{ToolName: "admin_action", Request: req}

	err := CheckScopes(reqs, "admin_action", ic, "")
	var misconfig *ErrMisconfigured
	if !asMisconfig(err, &misconfig) {
		t.Fatalf("expected ErrMisconfigured, got %v (%T)", err, err)
	}
}

func TestCheckScopesInsufficientScope(t *testing.T) {
	reqs := BuildScopeRequirements([]*mcp.Tool{{Name: "admin_action", RequiredScopes: []string{"admin", "write"}}})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	ic := &mcp.InvocationContext{
		ToolName: "admin_action",
		Request:  req,
		AuthInfo: &mcp.AuthInfo{Subject: "u1", Scopes: []string{"read"}},
	}

	err := CheckScopes(reqs, "admin_action", ic, "https://example.com/.well-known/oauth-protected-resource")
	authErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *auth.Error, got %T (%v)", err, err)
	}
	if authErr.Code != CodeInsufficientScope {
		t.Errorf("Code = %v, want insufficient_scope", authErr.Code)
	}
	if len(authErr.MissingScopes) != 2 {
		t.Errorf("MissingScopes = %v, want 2 entries", authErr.MissingScopes)
	}
}

func TestCheckScopesSufficientScopePasses(t *testing.T) {
	reqs := BuildScopeRequirements([]*mcp.Tool{{Name: "admin_action", RequiredScopes: []string{"admin"}}})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	ic := &mcp.InvocationContext{
		ToolName: "admin_action",
		Request:  req,
		AuthInfo: &mcp.AuthInfo{Subject: "u1", Scopes: []string{"admin", "read"}},
	}
	if err := CheckScopes(reqs, "admin_action", ic, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func asMisconfig(err error, target **ErrMisconfigured) bool {
	m, ok := err.(*ErrMisconfigured)
	if !ok {
		return false
	}
	*target = m
	return true
}
