package lnurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SamSamskies/coinos-server/internal/directory"
	"github.com/SamSamskies/coinos-server/internal/engine"
	"github.com/SamSamskies/coinos-server/internal/invoices"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"
	"github.com/SamSamskies/coinos-server/internal/rails/lightning"
	"github.com/SamSamskies/coinos-server/internal/rates"

	"github.com/alicebob/miniredis/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/go-redis/redis/v8"
)

type fakeDirectory struct {
	users map[string]*models.User
}

func (d *fakeDirectory) UserByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range d.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, directory.ErrNotFound
}

func (d *fakeDirectory) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := d.users[strings.ToLower(username)]; ok {
		return u, nil
	}
	return nil, directory.ErrNotFound
}

func (d *fakeDirectory) VerifyPIN(ctx context.Context, uid, pin string) error {
	return nil
}

type fakeLightning struct {
	n int
}

func (f *fakeLightning) Pay(ctx context.Context, bolt11 string, maxFeeMsat int64) (*lightning.PayResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeLightning) Invoice(ctx context.Context, amountMsat int64, label, memo string) (*lightning.InvoiceResult, error) {
	f.n++
	return &lightning.InvoiceResult{
		PaymentHash: fmt.Sprintf("hash-%d", f.n),
		Bolt11:      fmt.Sprintf("lnbc-fake-%d", f.n),
	}, nil
}

func (f *fakeLightning) DecodePay(ctx context.Context, bolt11 string) (*lightning.Decoded, error) {
	return nil, errors.New("not used")
}

func (f *fakeLightning) ListNodes(ctx context.Context) ([]lightning.Node, error) {
	return nil, nil
}

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := ledger.New(rdb)
	dir := &fakeDirectory{users: map[string]*models.User{
		"alice": {ID: "u-alice", Username: "alice", Currency: "USD"},
	}}
	eng := &engine.Engine{
		Store:     store,
		Invoices:  invoices.New(store),
		Rates:     rates.Fixed(map[string]float64{"USD": 60000}),
		Lightning: &fakeLightning{},
	}
	return &Adapter{
		Store:       store,
		Engine:      eng,
		Directory:   dir,
		BaseURL:     "https://wallet.example",
		Host:        "wallet.example",
		MinSendable: 1000,
		MaxSendable: 100000000000,
	}
}

func TestEncode(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/lnurlp/alice" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"tag": "payRequest"})
	}))
	defer ts.Close()

	a := newAdapter(t)
	a.client = ts.Client()

	address := "alice@" + ts.Listener.Addr().String()
	encoded, err := a.Encode(context.Background(), address)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(encoded, "lnurl1") {
		t.Fatalf("expected lnurl1 prefix, got %q", encoded)
	}

	// The encoding must round-trip back to the well-known URL.
	hrp, data, err := bech32.DecodeNoLimit(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hrp != "lnurl" {
		t.Fatalf("hrp: %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	want := fmt.Sprintf("https://%s/.well-known/lnurlp/alice", ts.Listener.Addr().String())
	if string(raw) != want {
		t.Fatalf("decoded url %q, want %q", raw, want)
	}
}

func TestEncodeRejectsNonPayRequest(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"tag": "withdrawRequest"})
	}))
	defer ts.Close()

	a := newAdapter(t)
	a.client = ts.Client()

	_, err := a.Encode(context.Background(), "alice@"+ts.Listener.Addr().String())
	if !errors.Is(err, ErrNotLightningAddress) {
		t.Fatalf("expected ErrNotLightningAddress, got %v", err)
	}
}

func TestEncodeRejectsMalformedAddress(t *testing.T) {
	a := newAdapter(t)
	for _, bad := range []string{"alice", "@example.com", "alice@", ""} {
		if _, err := a.Encode(context.Background(), bad); !errors.Is(err, ErrNotLightningAddress) {
			t.Fatalf("%q: expected ErrNotLightningAddress, got %v", bad, err)
		}
	}
}

func TestDecodeFetchesURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"tag": "payRequest", "callback": "x"})
	}))
	defer ts.Close()

	converted, err := bech32.ConvertBits([]byte(ts.URL+"/pay"), 8, 5, true)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	encoded, err := bech32.Encode("lnurl", converted)
	if err != nil {
		t.Fatalf("bech32: %v", err)
	}

	a := newAdapter(t)
	body, err := a.Decode(context.Background(), strings.ToUpper(encoded))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var doc struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.Tag != "payRequest" {
		t.Fatalf("fetched body: %s (%v)", body, err)
	}
}

func TestPayRequestCallbackVerify(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	pr, err := a.PayRequest(ctx, "alice")
	if err != nil {
		t.Fatalf("payrequest: %v", err)
	}
	if pr.Tag != "payRequest" || pr.MinSendable != 1000 {
		t.Fatalf("payrequest doc: %+v", pr)
	}
	if pr.AllowsNostr {
		t.Fatal("no nostr key configured, allowsNostr must be false")
	}
	if !strings.Contains(pr.Metadata, "alice@wallet.example") {
		t.Fatalf("metadata: %s", pr.Metadata)
	}

	id := pr.Callback[strings.LastIndex(pr.Callback, "/")+1:]
	if !strings.HasPrefix(pr.Callback, "https://wallet.example/lnurl/") || id == "" {
		t.Fatalf("callback url: %s", pr.Callback)
	}

	cb, err := a.Callback(ctx, id, 21000, "")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if cb.PR == "" {
		t.Fatal("callback must return a payable invoice")
	}
	if cb.Routes == nil || len(cb.Routes) != 0 {
		t.Fatalf("routes must be an empty array: %v", cb.Routes)
	}

	hash := cb.Verify[strings.LastIndex(cb.Verify, "/")+1:]
	v := a.Verify(ctx, hash)
	if v.Status != "OK" || v.Settled {
		t.Fatalf("fresh invoice verify: %+v", v)
	}

	// An unsettled invoice must still serialize the settled flag; payers
	// poll this field by name.
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal verify: %v", err)
	}
	if !strings.Contains(string(encoded), `"settled":false`) {
		t.Fatalf("verify response must carry settled:false, got %s", encoded)
	}

	// The callback memo must reproduce the advertised metadata exactly,
	// or payers will reject the invoice on description-hash mismatch.
	inv, err := a.Engine.Invoices.Get(ctx, hash)
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if inv.Memo != pr.Metadata {
		t.Fatalf("memo %q does not match metadata %q", inv.Memo, pr.Metadata)
	}
	if inv.Amount == nil || *inv.Amount != 21 {
		t.Fatalf("invoice amount: %v", inv.Amount)
	}

	if _, err := a.Engine.Credit(ctx, hash, 21, "", "pre", models.RailLightning); err != nil {
		t.Fatalf("settle: %v", err)
	}
	v = a.Verify(ctx, hash)
	if v.Status != "OK" || !v.Settled {
		t.Fatalf("settled verify: %+v", v)
	}
}

func TestCallbackStoresZapReceipt(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	pr, _ := a.PayRequest(ctx, "alice")
	id := pr.Callback[strings.LastIndex(pr.Callback, "/")+1:]

	receipt := `{"kind":9734,"content":"","tags":[]}`
	cb, err := a.Callback(ctx, id, 5000, receipt)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}

	stored, err := a.Store.GetRaw(ctx, ledger.ZapKey(id))
	if err != nil {
		t.Fatalf("zap receipt not stored: %v", err)
	}
	if string(stored) != receipt {
		t.Fatalf("stored receipt %q", stored)
	}

	hash := cb.Verify[strings.LastIndex(cb.Verify, "/")+1:]
	inv, err := a.Engine.Invoices.Get(ctx, hash)
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if inv.Memo != receipt {
		t.Fatalf("zap request must replace the memo, got %q", inv.Memo)
	}
}

func TestCallbackIgnoresMalformedReceipt(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	pr, _ := a.PayRequest(ctx, "alice")
	id := pr.Callback[strings.LastIndex(pr.Callback, "/")+1:]

	cb, err := a.Callback(ctx, id, 5000, "{not json")
	if err != nil {
		t.Fatalf("callback must survive a bad receipt: %v", err)
	}
	if _, err := a.Store.GetRaw(ctx, ledger.ZapKey(id)); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("malformed receipt must not be stored: %v", err)
	}

	hash := cb.Verify[strings.LastIndex(cb.Verify, "/")+1:]
	inv, _ := a.Engine.Invoices.Get(ctx, hash)
	if inv.Memo != a.metadata("alice") {
		t.Fatalf("memo should fall back to metadata, got %q", inv.Memo)
	}
}

func TestCallbackRejectsDustAmount(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	pr, _ := a.PayRequest(ctx, "alice")
	id := pr.Callback[strings.LastIndex(pr.Callback, "/")+1:]

	if _, err := a.Callback(ctx, id, 0, ""); !errors.Is(err, engine.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPayRequestUnknownUser(t *testing.T) {
	a := newAdapter(t)
	if _, err := a.PayRequest(context.Background(), "mallory"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCallbackUnknownID(t *testing.T) {
	a := newAdapter(t)
	if _, err := a.Callback(context.Background(), "bogus", 1000, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyUnknownInvoice(t *testing.T) {
	a := newAdapter(t)
	v := a.Verify(context.Background(), "nope")
	if v.Status != "ERROR" || v.Reason != "Not found" {
		t.Fatalf("unknown invoice verify: %+v", v)
	}
}

func TestDerivePubkey(t *testing.T) {
	// Secret key 1 has a well-known x-only public key.
	sk := strings.Repeat("0", 63) + "1"
	pk, err := derivePubkey(sk)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if pk != "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798" {
		t.Fatalf("pubkey: %s", pk)
	}

	if _, err := derivePubkey("zz"); err == nil {
		t.Fatal("expected error for non-hex seckey")
	}
	if _, err := derivePubkey("abcd"); err == nil {
		t.Fatal("expected error for short seckey")
	}
}
