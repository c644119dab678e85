package httpmcp

import "net/http"

// ClientIPFunc extracts a rate-limit key from a request, given the resolved
// client IP and a session id if one was already present on the request.
// The default extractor keys purely by IP.
type ClientIPFunc func(r *http.Request, ip, sessionID string) string

// clientIP resolves the caller's address per spec.md §4.G: the leftmost,
// trimmed entry of X-Forwarded-For, else X-Real-IP, else CF-Connecting-IP,
// else "unknown".
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return splitLeftmost(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return cf
	}
	return "unknown"
}

func defaultClientIPKey(r *http.Request, ip, sessionID string) string {
	return ip
}
