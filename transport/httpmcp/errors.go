package httpmcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Casys-AI/mcp-server/auth"
	"github.com/Casys-AI/mcp-server/mcp"
	"github.com/Casys-AI/mcp-server/queue"
)

var errSessionExhaustion = errors.New("httpmcp: too many active sessions")

// escapeChallengeValue escapes quotes and backslashes for embedding in a
// WWW-Authenticate challenge parameter value.
func escapeChallengeValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// buildBearerChallenge assembles a WWW-Authenticate: Bearer challenge with
// resource_metadata and, when present, error/error_description, escaping
// values per RFC 6750's quoted-string rules.
func buildBearerChallenge(resourceMetadataURL, errCode, errDescription string) string {
	var b strings.Builder
	b.WriteString("Bearer")
	first := true
	write := func(key, val string) {
		if first {
			b.WriteString(" ")
			first = false
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `%s="%s"`, key, escapeChallengeValue(val))
	}
	if resourceMetadataURL != "" {
		write("resource_metadata", resourceMetadataURL)
	}
	if errCode != "" {
		write("error", errCode)
	}
	if errDescription != "" {
		write("error_description", errDescription)
	}
	return b.String()
}

// authChallengeFor maps an *auth.Error to the (errCode, description) pair
// used in its WWW-Authenticate challenge.
func authChallengeFor(e *auth.Error) (code, description string) {
	switch e.Code {
	case auth.CodeMissingToken:
		return "", ""
	case auth.CodeInvalidToken:
		return "invalid_token", e.Error()
	default:
		return "", e.Error()
	}
}

// mapHandlerError maps an error surfaced from the middleware pipeline (or
// from resource/tool dispatch outside it) to a JSON-RPC error code per
// spec.md §6/§7's message-prefix table.
func mapHandlerError(err error) (code mcp.ErrorCode, message string) {
	var capErr *queue.ErrCapacityExceeded
	if errors.As(err, &capErr) {
		return mcp.ErrorCodeServerError, capErr.Error()
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "Unknown tool"):
		return mcp.ErrorCodeInvalidParams, msg
	case strings.HasPrefix(msg, "Rate limit"):
		return mcp.ErrorCodeServerError, msg
	case strings.Contains(msg, "validation failed"):
		return mcp.ErrorCodeInvalidParams, msg
	default:
		return mcp.ErrorCodeInternalError, msg
	}
}
