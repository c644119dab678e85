// Package httpmcp is the HTTP/JSON-RPC transport: a single /mcp endpoint (and
// / as an alias) serving POST for JSON-RPC requests/notifications and GET for
// Server-Sent-Events streaming, plus /health, /metrics, and the RFC 9728 and
// RFC 8414 well-known discovery documents. Session lifecycle, SSE fan-out,
// per-IP rate limiting, body-size limits, and CORS are all handled here; the
// middleware pipeline itself lives in package middleware.
package httpmcp
