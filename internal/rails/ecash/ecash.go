// Package ecash talks to the bearer-token mint. Token cryptography lives
// entirely on the mint side; the core only moves ledger value against it.
package ecash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client interface {
	// Mint issues a bearer token worth amount. The caller must have
	// debited the account before asking for the token.
	Mint(ctx context.Context, amount int64) (string, error)
	// Claim redeems a token and returns its value.
	Claim(ctx context.Context, token string) (int64, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Mint(ctx context.Context, amount int64) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, "/mint", map[string]any{"amount": amount}, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *HTTPClient) Claim(ctx context.Context, token string) (int64, error) {
	var out struct {
		Amount int64 `json:"amount"`
	}
	if err := c.postJSON(ctx, "/claim", map[string]any{"token": token}, &out); err != nil {
		return 0, err
	}
	return out.Amount, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		trimmed := strings.TrimSpace(string(msg))
		if trimmed != "" {
			return fmt.Errorf("mint status %d: %s", resp.StatusCode, trimmed)
		}
		return fmt.Errorf("mint status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
