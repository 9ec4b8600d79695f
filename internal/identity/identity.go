// Package identity verifies login credentials. Password checking is
// delegated: production talks to the existing identity provider over HTTP,
// dev mode uses a static user list from config.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidCredentials is returned for any username/password mismatch.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// Verifier checks a username/password pair and returns the canonical
// username on success.
type Verifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (string, error)
}

// HTTPVerifier delegates to an external identity provider.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPVerifier(baseURL string, client *http.Client) *HTTPVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPVerifier{baseURL: baseURL, client: client}
}

func (v *HTTPVerifier) VerifyCredentials(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", fmt.Errorf("identity.VerifyCredentials: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/internal/verify", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("identity.VerifyCredentials: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity.VerifyCredentials: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrInvalidCredentials
	default:
		return "", fmt.Errorf("identity.VerifyCredentials: provider status %d", resp.StatusCode)
	}

	var result struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Username == "" {
		return "", fmt.Errorf("identity.VerifyCredentials: bad provider response")
	}
	return result.Username, nil
}

// StaticVerifier holds a fixed username->password map. Dev and tests only.
type StaticVerifier struct {
	users map[string]string
}

func NewStaticVerifier(users map[string]string) *StaticVerifier {
	return &StaticVerifier{users: users}
}

func (v *StaticVerifier) VerifyCredentials(_ context.Context, username, password string) (string, error) {
	want, ok := v.users[username]
	if !ok || want == "" || want != password {
		return "", ErrInvalidCredentials
	}
	return username, nil
}
