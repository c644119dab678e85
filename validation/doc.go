// Package validation gates tool arguments against a JSON Schema document
// compiled once per tool name at registration time. It delegates the actual
// schema compilation and instance validation to
// github.com/google/jsonschema-go/jsonschema (the "external validator
// engine" spec.md names as a collaborator) and is responsible only for
// caching the compiled validator per tool and flattening its errors into
// the shape the HTTP and stdio transports report to callers.
package validation
