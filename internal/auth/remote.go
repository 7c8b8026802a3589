// ABOUTME: CredentialValidator that delegates to a remote zgate gateway over HTTP
// ABOUTME: Used by the login CLI and by Manager.Login when a server URL is given

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/zgate/internal/session"
)

// LoginRequestBody is the JSON body of POST /api/auth/login.
type LoginRequestBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /api/auth/login and /api/auth/validate.
type LoginResponse struct {
	Token    string `json:"token,omitempty"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ErrorResponse is the JSON body of a failed auth API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RemoteValidator validates credentials against another gateway's auth API.
type RemoteValidator struct {
	baseURL string
	client  *http.Client
}

// NewRemoteValidator creates a validator for baseURL. A nil client gets a
// 10 second timeout.
func NewRemoteValidator(baseURL string, client *http.Client) *RemoteValidator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteValidator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Authenticate posts the credentials to /api/auth/login.
func (v *RemoteValidator) Authenticate(ctx context.Context, username, password string) Result {
	if username == "" || password == "" {
		return Reject(ReasonMissingCredentials)
	}
	body, err := json.Marshal(LoginRequestBody{Username: username, Password: password})
	if err != nil {
		return Failure(ReasonMisconfigured, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return Failure(ReasonMisconfigured, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return v.do(req)
}

// Validate asks /api/auth/validate to check a bearer token.
func (v *RemoteValidator) Validate(ctx context.Context, token string) Result {
	if token == "" {
		return Reject(ReasonMissingCredentials)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/api/auth/validate", nil)
	if err != nil {
		return Failure(ReasonMisconfigured, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res := v.do(req)
	if res.OK() && res.Identity.APIKey == "" {
		res.Identity.APIKey = token
	}
	return res
}

func (v *RemoteValidator) do(req *http.Request) Result {
	resp, err := v.client.Do(req)
	if err != nil {
		return Failure(ReasonBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Failure(ReasonBackendUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Reject(ReasonInvalidCredentials)
	case resp.StatusCode == http.StatusBadRequest:
		return Reject(ReasonMissingCredentials)
	default:
		return Failure(ReasonBackendUnavailable, fmt.Errorf("remote auth returned %s", resp.Status))
	}

	var lr LoginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return Failure(ReasonBackendUnavailable, fmt.Errorf("decoding remote auth response: %w", err))
	}
	if lr.ID == "" && lr.Username == "" {
		return Failure(ReasonBackendUnavailable, fmt.Errorf("remote auth response has no identity"))
	}
	return Accept(session.Identity{ID: lr.ID, Username: lr.Username, Role: lr.Role, APIKey: lr.Token})
}
