// ABOUTME: HTTP auth API used by remote validators and the login CLI
// ABOUTME: POST /api/auth/login issues a bearer token, POST /api/auth/validate checks one

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/2389/zgate/internal/auth"
)

// maxAuthBodySize bounds login request bodies.
const maxAuthBodySize = 16 * 1024

// registerAuthAPIRoutes mounts the auth API on mux.
func (g *Gateway) registerAuthAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/login", g.handleLogin)
	mux.HandleFunc("/api/auth/validate", g.handleValidate)
}

// handleLogin exchanges a username and password for a bearer token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.validator == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "authentication not configured")
		return
	}

	var req auth.LoginRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodySize)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	res := g.validator.Authenticate(r.Context(), req.Username, req.Password)
	if res.BackendFailure() {
		g.logger.Error("login backend failure", "reason", res.Reason.String(), "error", res.Err)
		writeJSONError(w, http.StatusServiceUnavailable, "authentication unavailable")
		return
	}
	if !res.OK() {
		g.logger.Info("login rejected", "username", req.Username, "reason", res.Reason.String())
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	g.logger.Info("login succeeded", "username", res.Identity.Username, "role", res.Identity.Role)
	writeJSON(w, http.StatusOK, auth.LoginResponse{
		Token:    res.Identity.APIKey,
		ID:       res.Identity.ID,
		Username: res.Identity.Username,
		Role:     res.Identity.Role,
	})
}

// handleValidate reports the identity behind a bearer token. The identity
// is placed on the request context by auth.HTTPAuthMiddleware.
func (g *Gateway) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.validator == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "authentication not configured")
		return
	}

	auth.HTTPAuthMiddleware(g.validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.MustIdentityFromContext(r.Context())
		writeJSON(w, http.StatusOK, auth.LoginResponse{
			ID:       id.ID,
			Username: id.Username,
			Role:     id.Role,
		})
	})).ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, auth.ErrorResponse{Error: message})
}
