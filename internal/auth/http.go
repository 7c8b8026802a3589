// ABOUTME: Token extraction from HTTP requests and bearer-auth middleware
// ABOUTME: Query parameters token/api_key take priority over the Authorization header

package auth

import (
	"net/http"
	"strings"
)

// Query parameter names checked for a token, in priority order.
var tokenQueryParams = []string{"token", "api_key"}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// ExtractToken returns the credential carried by r, checking the token and
// api_key query parameters first and then an Authorization: Bearer header.
// Returns "" if none is present.
func ExtractToken(r *http.Request) string {
	q := r.URL.Query()
	for _, name := range tokenQueryParams {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return ""
	}
	return token
}

// HTTPAuthMiddleware validates the request's token with v and adds the
// resulting identity to the request context. Rejections get 401 without
// detail; backend failures get 503.
func HTTPAuthMiddleware(v CredentialValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			res := v.Validate(r.Context(), token)
			if res.BackendFailure() {
				http.Error(w, `{"error":"authentication unavailable"}`, http.StatusServiceUnavailable)
				return
			}
			if !res.OK() {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), res.Identity)))
		})
	}
}
