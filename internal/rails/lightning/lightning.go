// Package lightning talks to the Lightning node over its JSON HTTP RPC.
package lightning

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

type PayResult struct {
	PaymentHash  string `json:"payment_hash"`
	Preimage     string `json:"payment_preimage"`
	Msatoshi     int64  `json:"msatoshi"`
	MsatoshiSent int64  `json:"msatoshi_sent"`
}

type InvoiceResult struct {
	PaymentHash string `json:"payment_hash"`
	Bolt11      string `json:"bolt11"`
}

type Decoded struct {
	Msatoshi int64  `json:"msatoshi"`
	Payee    string `json:"payee"`
}

type Node struct {
	NodeID string `json:"nodeid"`
	Alias  string `json:"alias"`
}

type Client interface {
	Pay(ctx context.Context, bolt11 string, maxFeeMsat int64) (*PayResult, error)
	Invoice(ctx context.Context, amountMsat int64, label, memo string) (*InvoiceResult, error)
	DecodePay(ctx context.Context, bolt11 string) (*Decoded, error)
	ListNodes(ctx context.Context) ([]Node, error)
}

type RPCClient struct {
	baseURL string
	client  *http.Client
}

func NewRPCClient(baseURL string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *RPCClient) Pay(ctx context.Context, bolt11 string, maxFeeMsat int64) (*PayResult, error) {
	var out PayResult
	req := map[string]any{"bolt11": bolt11, "maxfee": maxFeeMsat}
	if err := c.postJSON(ctx, "/pay", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) Invoice(ctx context.Context, amountMsat int64, label, memo string) (*InvoiceResult, error) {
	var out InvoiceResult
	req := map[string]any{"msatoshi": amountMsat, "label": label, "description": memo}
	if err := c.postJSON(ctx, "/invoice", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) DecodePay(ctx context.Context, bolt11 string) (*Decoded, error) {
	var out Decoded
	if err := c.postJSON(ctx, "/decodepay", map[string]any{"bolt11": bolt11}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) ListNodes(ctx context.Context) ([]Node, error) {
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.postJSON(ctx, "/listnodes", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

func (c *RPCClient) postJSON(ctx context.Context, path string, in, out any) error {
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
			return fmt.Errorf("lightning rpc status %d: %s", resp.StatusCode, trimmed)
		}
		return fmt.Errorf("lightning rpc status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
