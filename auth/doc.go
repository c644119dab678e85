// Package auth implements the bearer-token authentication subsystem: header
// extraction, JWKS-backed JWT verification with a bounded TTL token cache,
// scope enforcement against a per-tool requirement map, and the
// resource-metadata URL the HTTP transport advertises in 401 challenges and
// RFC 9728 discovery.
//
// Provider is the duck-typed seam the middleware pipeline depends on:
// verify a token, or describe the resource for discovery. JWTProvider is the
// default implementation, backed by a long-lived JWKS client
// (github.com/MicahParks/keyfunc) so verification never performs a network
// fetch per call. The auth/presets subpackage pre-fills Provider
// configuration for common identity providers.
package auth
