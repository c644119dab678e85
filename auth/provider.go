package auth

import (
	"context"
	"strings"

	"github.com/Casys-AI/mcp-server/mcp"
)

// Provider is the capability set the middleware pipeline depends on: verify
// an opaque bearer token, and describe the resource for RFC 9728 discovery.
// JWTProvider is the default implementation; other token schemes (API keys,
// opaque tokens) are separate implementations of the same two methods.
type Provider interface {
	// VerifyToken validates token and returns the principal it names, or
	// nil if verification fails for any reason. Failures never leak detail
	// about signature, expiry, issuer, or audience mismatches.
	VerifyToken(ctx context.Context, token string) (*mcp.AuthInfo, error)

	// ResourceMetadata describes this resource for
	// /.well-known/oauth-protected-resource.
	ResourceMetadata() ResourceMetadata
}

// ResourceMetadata is the RFC 9728 Protected Resource Metadata document
// shape this server advertises.
type ResourceMetadata struct {
	Resource                string   `json:"resource"`
	AuthorizationServers    []string `json:"authorization_servers,omitempty"`
	ScopesSupported         []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported  []string `json:"bearer_methods_supported"`
}

// ResourceMetadataURL derives the discovery URL from a resource identifier
// per spec.md §4.D: trim a trailing "/" then append the well-known suffix.
func ResourceMetadataURL(resource string) string {
	resource = strings.TrimSuffix(resource, "/")
	return resource + "/.well-known/oauth-protected-resource"
}

// ErrorCode classifies an AuthError for HTTP status mapping.
type ErrorCode string

const (
	CodeMissingToken      ErrorCode = "missing_token"
	CodeInvalidToken      ErrorCode = "invalid_token"
	CodeInsufficientScope ErrorCode = "insufficient_scope"
)

// Error is the structured error the auth and scope-check middlewares raise.
// The HTTP transport maps it to a status code and WWW-Authenticate
// challenge; the stdio transport, which never constructs one (auth is
// skipped when ctx.Request is nil), only ever sees it via JSON-RPC mapping
// on the HTTP side.
type Error struct {
	Code                ErrorCode
	ResourceMetadataURL  string
	RequiredScopes       []string
	MissingScopes        []string
	msg                  string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return string(e.Code)
}

// NewMissingTokenError builds an AuthError for a request with no bearer
// token at all.
func NewMissingTokenError(resourceMetadataURL string) *Error {
	return &Error{Code: CodeMissingToken, ResourceMetadataURL: resourceMetadataURL, msg: "missing bearer token"}
}

// NewInvalidTokenError builds an AuthError for a token that failed
// verification.
func NewInvalidTokenError(resourceMetadataURL string) *Error {
	return &Error{Code: CodeInvalidToken, ResourceMetadataURL: resourceMetadataURL, msg: "invalid or expired token"}
}

// NewInsufficientScopeError builds an AuthError carrying the scopes the
// caller's token was missing.
func NewInsufficientScopeError(resourceMetadataURL string, required, missing []string) *Error {
	return &Error{
		Code:                CodeInsufficientScope,
		ResourceMetadataURL: resourceMetadataURL,
		RequiredScopes:      required,
		MissingScopes:       missing,
		msg:                 "insufficient scope: missing " + strings.Join(missing, ", "),
	}
}
