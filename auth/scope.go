package auth

import (
	"github.com/Casys-AI/mcp-server/mcp"
)

// ScopeRequirements is the per-tool required-scopes map computed once at
// pipeline build time by scanning every registered tool (spec.md §4.D).
type ScopeRequirements map[string][]string

// BuildScopeRequirements scans tools and returns the subset that declare at
// least one required scope.
func BuildScopeRequirements(tools []*mcp.Tool) ScopeRequirements {
	reqs := make(ScopeRequirements)
	for _, t := range tools {
		if len(t.RequiredScopes) > 0 {
			reqs[t.Name] = append([]string(nil), t.RequiredScopes...)
		}
	}
	return reqs
}

// ErrMisconfigured is returned (not an *Error 401/403) when an HTTP request
// reaches scope enforcement for a scope-gated tool without AuthInfo having
// been set at all: the pipeline was built without an auth provider even
// though the tool declares RequiredScopes. This is a server misconfiguration,
// not a client auth failure.
type ErrMisconfigured struct {
	ToolName string
}

func (e *ErrMisconfigured) Error() string {
	return "scope check: tool " + e.ToolName + " requires scopes but no auth provider is configured for the HTTP transport"
}

// CheckScopes implements spec.md §4.D's scope enforcement decision table for
// a single tool call.
func CheckScopes(reqs ScopeRequirements, toolName string, ic *mcp.InvocationContext, resourceMetadataURL string) error {
	required, gated := reqs[toolName]
	if !gated || len(required) == 0 {
		return nil
	}

	if ic.AuthInfo == nil {
		if ic.Request == nil {
			// Local (stdio) transport: auth is not applicable there.
			return nil
		}
		return &ErrMisconfigured{ToolName: toolName}
	}

	missing := missingScopes(required, ic.AuthInfo.Scopes)
	if len(missing) == 0 {
		return nil
	}
	return NewInsufficientScopeError(resourceMetadataURL, required, missing)
}

func missingScopes(required, have []string) []string {
	haveSet := make(map[string]struct{}, len(have))
	for _, s := range have {
		haveSet[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := haveSet[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// HasRequest reports whether ic carries an *http.Request, the signal that
// distinguishes networked calls from the local stdio transport.
func HasRequest(ic *mcp.InvocationContext) bool {
	return ic.Request != nil
}
