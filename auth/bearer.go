package auth

import "strings"

const bearerPrefix = "Bearer "

// ExtractBearerToken pulls the token out of an Authorization header value.
// Only a case-sensitive "Bearer " prefix is accepted; the remainder is
// trimmed of surrounding whitespace. An empty token after trimming, or a
// header that doesn't start with the prefix, returns "".
func ExtractBearerToken(authorizationHeader string) string {
	if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
		return ""
	}
	token := strings.TrimSpace(authorizationHeader[len(bearerPrefix):])
	return token
}
