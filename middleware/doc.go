// Package middleware implements the onion-composed invocation pipeline: an
// ordered chain of middlewares wrapping a tool handler, built once per
// server and reused for every call. Ordering is fixed at build time
// (rate-limit, auth, user middlewares, scope-check, validation,
// backpressure) and is itself part of this package's contract — changing it
// is a breaking change (spec.md §4.E).
package middleware
