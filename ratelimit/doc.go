// Package ratelimit implements a per-key sliding-window rate limiter.
//
// Each key tracks its own slice of request timestamps. CheckLimit prunes
// timestamps outside the current window before counting, so memory per key
// is bounded by maxRequests; Limiter additionally purges keys whose window
// has gone empty on a periodic cadence to bound the number of tracked keys
// when callers key by something unbounded like client IP.
package ratelimit
