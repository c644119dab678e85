// Package presets pre-fills auth.JWTProviderConfig for common identity
// providers, so operators only need to supply a PresetOptions and get a
// correctly-shaped {issuer, authorizationServers, jwksUri} triple.
package presets
