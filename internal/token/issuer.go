// Package token obtains bearer tokens for the notes service from an API key
// and keeps them fresh.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAuthURL is the token service base URL.
const DefaultAuthURL = "https://connect.voxdenta.com"

var (
	// ErrNoAPIKey is returned when issuing without an API key.
	ErrNoAPIKey = errors.New("token: api key not configured")
	// ErrNoToken is returned when the token service answers without a token.
	ErrNoToken = errors.New("token: response carried no token")
)

// NewSessionPath returns a fresh "/user_<uuid>/appt_<uuid>" session path.
func NewSessionPath() string {
	return "/user_" + uuid.NewString() + "/appt_" + uuid.NewString()
}

// Issuer exchanges an API key for a session-scoped token.
type Issuer struct {
	AuthURL string
	APIKey  string
	Client  *http.Client
}

// NewIssuer returns an Issuer for apiKey. An empty authURL selects
// DefaultAuthURL.
func NewIssuer(authURL, apiKey string) *Issuer {
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	return &Issuer{
		AuthURL: strings.TrimRight(authURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type issueRequest struct {
	SessionID string `json:"sessionId"`
}

type issueResponse struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
}

// Issue requests a token bound to sessionID.
func (i *Issuer) Issue(ctx context.Context, sessionID string) (string, error) {
	if i.APIKey == "" {
		return "", ErrNoAPIKey
	}

	body, err := json.Marshal(issueRequest{SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.AuthURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", i.APIKey)

	client := i.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("request token: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken != "" {
		return out.AccessToken, nil
	}
	if out.Token != "" {
		return out.Token, nil
	}
	return "", ErrNoToken
}
