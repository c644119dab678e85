// Package config loads the auth subsystem's configuration from a YAML file
// and a set of MCP_AUTH_* environment variables, merging them with
// environment taking priority over YAML, and YAML over nothing. File
// absence is not an error; a missing or malformed provider selection is
// (fail-fast, with a distinct message per invariant spec.md §6 names).
//
// Watcher additionally hot-reloads the YAML file via fsnotify: a failed
// reload logs and keeps serving the last-valid configuration.
package config
