// Package stdio implements the line-delimited JSON-RPC transport used when
// this server runs as a subprocess: input and output are ordinary streams
// (os.Stdin/os.Stdout by default), one JSON-RPC message per line. It
// delegates every tools/call to the same middleware.Pipeline the HTTP
// transport uses, with Request and SessionID left unset so the auth
// middleware's stdio short-circuit applies.
package stdio
