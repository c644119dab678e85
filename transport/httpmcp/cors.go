package httpmcp

import (
	"log/slog"
	"net/http"
	"strings"
)

// CORSConfig controls cross-origin behavior for /mcp and /. Well-known
// discovery routes always reflect the requesting Origin regardless of this
// config, since they must be readable by any client probing for auth
// metadata before it has negotiated anything else.
type CORSConfig struct {
	// AllowedOrigins is a configured allowlist. An empty list with Enabled
	// true means wildcard "*", which logs a warning once at construction.
	AllowedOrigins []string
	Enabled        bool
}

func (c CORSConfig) allowOrigin(origin string) string {
	if len(c.AllowedOrigins) == 0 {
		return "*"
	}
	for _, o := range c.AllowedOrigins {
		if o == origin {
			return origin
		}
	}
	return ""
}

func warnIfWildcard(cfg CORSConfig, logger *slog.Logger) {
	if cfg.Enabled && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("cors.wildcard_origin", slog.String("reason", "no allowlist configured, reflecting *"))
	}
}

// applyCORS sets the standard MCP CORS headers for /mcp and / (spec.md
// §4.G): reflect the configured origin or "*", allow GET/POST/DELETE/
// OPTIONS, and expose Mcp-Session-Id.
func applyCORS(w http.ResponseWriter, r *http.Request, cfg CORSConfig) {
	if !cfg.Enabled {
		return
	}
	origin := r.Header.Get("Origin")
	allowed := cfg.allowOrigin(origin)
	if allowed == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", allowed)
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, mcp-session-id, mcp-protocol-version, last-event-id")
	w.Header().Set("Access-Control-Expose-Headers", "mcp-session-id")
}

// handleOptionsMCP answers CORS preflight for /mcp and /.
func (s *Handler) handleOptionsMCP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r, s.cors)
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleOptionsWellKnown answers CORS preflight for the well-known metadata
// routes, which always reflect regardless of s.cors.Enabled.
func handleOptionsWellKnown(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func splitLeftmost(csv string) string {
	if i := strings.IndexByte(csv, ','); i >= 0 {
		return strings.TrimSpace(csv[:i])
	}
	return strings.TrimSpace(csv)
}
