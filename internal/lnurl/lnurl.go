// Package lnurl implements the LNURL-pay protocol: resolving payment
// addresses, serving payRequest metadata, generating invoices on callback,
// and the verify endpoint payers poll for settlement.
package lnurl

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/SamSamskies/coinos-server/internal/directory"
	"github.com/SamSamskies/coinos-server/internal/engine"
	"github.com/SamSamskies/coinos-server/internal/invoices"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/google/uuid"
)

var (
	ErrNotLightningAddress = errors.New("not a lightning address")
	ErrNotFound            = errors.New("not found")
)

const (
	defaultMinSendable = 1000         // msat
	defaultMaxSendable = 100000000000 // msat
)

type Adapter struct {
	Store     *ledger.Store
	Engine    *engine.Engine
	Directory directory.Directory

	// BaseURL is the public URL of this service; Host is its last path
	// segment, which doubles as the address domain.
	BaseURL     string
	Host        string
	MinSendable int64
	MaxSendable int64

	// Pubkey is the hex nostr key advertised for zap receipts.
	Pubkey string

	client *http.Client
}

func New(store *ledger.Store, eng *engine.Engine, dir directory.Directory, baseURL string, nostrSeckey string) (*Adapter, error) {
	parts := strings.Split(strings.TrimRight(baseURL, "/"), "/")
	a := &Adapter{
		Store:       store,
		Engine:      eng,
		Directory:   dir,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Host:        parts[len(parts)-1],
		MinSendable: defaultMinSendable,
		MaxSendable: defaultMaxSendable,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
	if nostrSeckey != "" {
		pk, err := derivePubkey(nostrSeckey)
		if err != nil {
			return nil, fmt.Errorf("nostr seckey: %w", err)
		}
		a.Pubkey = pk
	}
	return a, nil
}

// Encode resolves name@domain to its well-known payRequest URL, checks the
// discovery response really is a payRequest, and returns the URL as a
// bech32 lnurl string.
func (a *Adapter) Encode(ctx context.Context, address string) (string, error) {
	name, domain, ok := strings.Cut(address, "@")
	if !ok || name == "" || domain == "" {
		return "", ErrNotLightningAddress
	}
	url := fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, name)

	body, err := a.fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotLightningAddress, err)
	}
	var disc struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(body, &disc); err != nil || disc.Tag != "payRequest" {
		return "", ErrNotLightningAddress
	}

	converted, err := bech32.ConvertBits([]byte(url), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode("lnurl", converted)
}

// Decode turns someone else's lnurl string back into its URL and returns
// the raw discovery response.
func (a *Adapter) Decode(ctx context.Context, text string) (json.RawMessage, error) {
	_, data, err := bech32.DecodeNoLimit(strings.ToLower(text))
	if err != nil {
		return nil, fmt.Errorf("decode lnurl: %w", err)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	return a.fetch(ctx, string(converted))
}

type PayRequestResponse struct {
	AllowsNostr bool   `json:"allowsNostr"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Metadata    string `json:"metadata"`
	NostrPubkey string `json:"nostrPubkey,omitempty"`
	Callback    string `json:"callback"`
	Tag         string `json:"tag"`
}

// PayRequest serves the payRequest discovery document for a local
// username, minting a correlation id that binds the later callback to the
// account it will credit.
func (a *Adapter) PayRequest(ctx context.Context, username string) (*PayRequestResponse, error) {
	user, err := a.Directory.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	id := uuid.NewString()
	if err := a.Store.SetRaw(ctx, ledger.LnurlKey(id), []byte(user.ID)); err != nil {
		return nil, err
	}

	return &PayRequestResponse{
		AllowsNostr: a.Pubkey != "",
		MinSendable: a.MinSendable,
		MaxSendable: a.MaxSendable,
		Metadata:    a.metadata(normalize(user.Username)),
		NostrPubkey: a.Pubkey,
		Callback:    fmt.Sprintf("%s/lnurl/%s", a.BaseURL, id),
		Tag:         "payRequest",
	}, nil
}

type CallbackResponse struct {
	PR     string   `json:"pr"`
	Routes []string `json:"routes"`
	Verify string   `json:"verify"`
}

// Callback resolves the correlation id and opens the invoice the payer
// will settle. The invoice memo must hash-match the metadata advertised by
// PayRequest, so the metadata is rebuilt here byte for byte. A zap receipt
// event, when present and well-formed, replaces the metadata and is stored
// for later publication; a malformed one is logged and ignored.
func (a *Adapter) Callback(ctx context.Context, id string, amountMsat int64, receipt string) (*CallbackResponse, error) {
	raw, err := a.Store.GetRaw(ctx, ledger.LnurlKey(id))
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user, err := a.Directory.UserByID(ctx, string(raw))
	if err != nil {
		return nil, ErrNotFound
	}

	memo := a.metadata(normalize(user.Username))
	if receipt != "" {
		if json.Valid([]byte(receipt)) {
			if err := a.Store.SetRaw(ctx, ledger.ZapKey(id), []byte(receipt)); err != nil {
				return nil, err
			}
			memo = receipt
		} else {
			log.Printf("ignoring malformed zap receipt for lnurl %s", id)
		}
	}

	amount := int64(math.Round(float64(amountMsat) / 1000))
	if amount <= 0 {
		return nil, engine.ErrInvalidAmount
	}
	inv, err := a.Engine.OpenInvoice(ctx, user, &amount, memo, models.RailLightning)
	if err != nil {
		return nil, err
	}

	return &CallbackResponse{
		PR:     inv.Text,
		Routes: []string{},
		Verify: fmt.Sprintf("%s/lnurl/verify/%s", a.BaseURL, inv.Hash),
	}, nil
}

// VerifyResponse always carries the settled flag; polling payers read it
// explicitly, so it must not be dropped from the encoding while false.
type VerifyResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Settled  bool   `json:"settled"`
	Preimage string `json:"preimage,omitempty"`
}

// Verify reports settlement state for the polled invoice. Read-only.
func (a *Adapter) Verify(ctx context.Context, hash string) *VerifyResponse {
	st, err := a.Engine.Invoices.Status(ctx, hash)
	if err != nil {
		if errors.Is(err, invoices.ErrNotFound) {
			return &VerifyResponse{Status: "ERROR", Reason: "Not found"}
		}
		return &VerifyResponse{Status: "ERROR", Reason: err.Error()}
	}
	return &VerifyResponse{Status: "OK", Settled: st.Settled, Preimage: st.Preimage}
}

// metadata builds the LNURL metadata tuple. Deterministic: PayRequest and
// Callback must produce identical bytes for the same username.
func (a *Adapter) metadata(username string) string {
	payload := [][]string{
		{"text/plain", fmt.Sprintf("Paying %s@%s", username, a.Host)},
		{"text/identifier", fmt.Sprintf("%s@%s", username, a.Host)},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func (a *Adapter) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	if a.client == nil {
		a.client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("discovery status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func normalize(username string) string {
	return strings.ToLower(strings.ReplaceAll(username, " ", ""))
}

// derivePubkey turns a hex secret key into the x-only pubkey nostr
// clients expect.
func derivePubkey(seckey string) (string, error) {
	b, err := hex.DecodeString(seckey)
	if err != nil {
		return "", err
	}
	if len(b) != 32 {
		return "", errors.New("seckey must be 32 bytes")
	}
	_, pub := btcec.PrivKeyFromBytes(b)
	return hex.EncodeToString(pub.SerializeCompressed()[1:]), nil
}
