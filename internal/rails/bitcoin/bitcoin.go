// Package bitcoin wraps the subset of the bitcoind wallet JSON-RPC the
// settlement core uses: observing incoming transactions and building,
// signing, and broadcasting outgoing ones.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

// Sats converts a BTC-denominated node amount to satoshis.
func Sats(btc float64) int64 {
	return int64(math.Round(btc * 1e8))
}

// BTC converts satoshis to the BTC float the node RPC expects.
func BTC(sats int64) float64 {
	return float64(sats) / 1e8
}

type TxDetail struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
	Vout    int     `json:"vout"`
	Category string `json:"category"`
}

type WalletTx struct {
	Confirmations int64      `json:"confirmations"`
	Details       []TxDetail `json:"details"`
}

type FundOptions struct {
	FeeRate                float64 `json:"feeRate,omitempty"`
	SubtractFeeFromOutputs []int   `json:"subtractFeeFromOutputs"`
	Replaceable            bool    `json:"replaceable"`
}

type FundedTx struct {
	Hex string  `json:"hex"`
	Fee float64 `json:"fee"`
}

type SignedTx struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

type RawVout struct {
	Value        float64 `json:"value"`
	ScriptPubKey struct {
		Address string `json:"address"`
	} `json:"scriptPubKey"`
}

type RawTx struct {
	TxID  string    `json:"txid"`
	VSize int64     `json:"vsize"`
	Vout  []RawVout `json:"vout"`
}

type AddressInfo struct {
	IsMine bool `json:"ismine"`
}

type Client interface {
	GetTransaction(ctx context.Context, txid string) (*WalletTx, error)
	GetNewAddress(ctx context.Context) (string, error)
	GetBlockCount(ctx context.Context) (int64, error)
	CreateRawTransaction(ctx context.Context, outputs []map[string]float64, replaceable bool) (string, error)
	FundRawTransaction(ctx context.Context, hex string, opts FundOptions) (*FundedTx, error)
	SignRawTransactionWithWallet(ctx context.Context, hex string) (*SignedTx, error)
	DecodeRawTransaction(ctx context.Context, hex string) (*RawTx, error)
	TestMempoolAccept(ctx context.Context, hex string) (bool, string, error)
	SendRawTransaction(ctx context.Context, hex string) (string, error)
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)
	WalletPassphrase(ctx context.Context, passphrase string, timeoutSec int64) error
}

type RPCClient struct {
	url      string
	username string
	password string
	client   *http.Client
}

func NewRPCClient(url, username, password string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		url:      strings.TrimRight(url, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *RPCClient) GetTransaction(ctx context.Context, txid string) (*WalletTx, error) {
	var out WalletTx
	if err := c.call(ctx, "gettransaction", []any{txid}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) GetNewAddress(ctx context.Context) (string, error) {
	var out string
	err := c.call(ctx, "getnewaddress", []any{}, &out)
	return out, err
}

func (c *RPCClient) GetBlockCount(ctx context.Context) (int64, error) {
	var out int64
	err := c.call(ctx, "getblockcount", []any{}, &out)
	return out, err
}

func (c *RPCClient) CreateRawTransaction(ctx context.Context, outputs []map[string]float64, replaceable bool) (string, error) {
	var out string
	err := c.call(ctx, "createrawtransaction", []any{[]any{}, outputs, 0, replaceable}, &out)
	return out, err
}

func (c *RPCClient) FundRawTransaction(ctx context.Context, hex string, opts FundOptions) (*FundedTx, error) {
	var out FundedTx
	if err := c.call(ctx, "fundrawtransaction", []any{hex, opts}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) SignRawTransactionWithWallet(ctx context.Context, hex string) (*SignedTx, error) {
	var out SignedTx
	if err := c.call(ctx, "signrawtransactionwithwallet", []any{hex}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) DecodeRawTransaction(ctx context.Context, hex string) (*RawTx, error) {
	var out RawTx
	if err := c.call(ctx, "decoderawtransaction", []any{hex}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) TestMempoolAccept(ctx context.Context, hex string) (bool, string, error) {
	var out []struct {
		Allowed      bool   `json:"allowed"`
		RejectReason string `json:"reject-reason"`
	}
	if err := c.call(ctx, "testmempoolaccept", []any{[]string{hex}}, &out); err != nil {
		return false, "", err
	}
	if len(out) == 0 {
		return false, "empty result", nil
	}
	return out[0].Allowed, out[0].RejectReason, nil
}

func (c *RPCClient) SendRawTransaction(ctx context.Context, hex string) (string, error) {
	var out string
	err := c.call(ctx, "sendrawtransaction", []any{hex}, &out)
	return out, err
}

func (c *RPCClient) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var out AddressInfo
	if err := c.call(ctx, "getaddressinfo", []any{address}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) WalletPassphrase(ctx context.Context, passphrase string, timeoutSec int64) error {
	var out any
	return c.call(ctx, "walletpassphrase", []any{passphrase, timeoutSec}, &out)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "coinos", Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("bitcoin rpc %s: %w", method, err)
	}
	if env.Error != nil {
		return fmt.Errorf("bitcoin rpc %s: %s (code %d)", method, env.Error.Message, env.Error.Code)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}
