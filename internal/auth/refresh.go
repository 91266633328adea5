package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// ErrEmptyToken is returned when a refresh endpoint answers without a token.
var ErrEmptyToken = errors.New("refresh response carried no token")

type refreshRequest struct {
	Token string `json:"token,omitempty"`
}

type refreshResponse struct {
	Token    string `json:"token"`
	NewToken string `json:"newToken"`
}

// HTTPRefresher returns a RefreshFunc that POSTs the current token to url and
// reads {"token": "..."} (or {"newToken": "..."}) from the response.
func HTTPRefresher(client *http.Client, url string, current func() string) RefreshFunc {
	return func(ctx context.Context) (string, error) {
		var old string
		if current != nil {
			old = current()
		}
		body, err := json.Marshal(refreshRequest{Token: old})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("failed to build refresh request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("token refresh failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return "", fmt.Errorf("failed to read refresh response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		}

		var out refreshResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return "", fmt.Errorf("failed to decode refresh response: %w", err)
		}
		token := out.Token
		if token == "" {
			token = out.NewToken
		}
		if token == "" {
			return "", ErrEmptyToken
		}
		return token, nil
	}
}
