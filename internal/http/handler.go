package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/SamSamskies/coinos-server/internal/directory"
	"github.com/SamSamskies/coinos-server/internal/engine"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/lnurl"
	"github.com/SamSamskies/coinos-server/internal/models"
	"github.com/SamSamskies/coinos-server/internal/rails/bitcoin"
	"github.com/SamSamskies/coinos-server/internal/rails/lightning"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	Engine    *engine.Engine
	Lnurl     *lnurl.Adapter
	Directory directory.Directory
	Nodes     *lightning.NodeCache
	JWTSecret string
}

func NewHandler(eng *engine.Engine, adapter *lnurl.Adapter, dir directory.Directory, nodes *lightning.NodeCache, jwtSecret string) *Handler {
	return &Handler{Engine: eng, Lnurl: adapter, Directory: dir, Nodes: nodes, JWTSecret: jwtSecret}
}

type createPaymentRequest struct {
	Amount int64  `json:"amount"`
	MaxFee int64  `json:"maxfee"`
	PayReq string `json:"payreq"`
	Hash   string `json:"hash"`
	Name   string `json:"name"`
	Memo   string `json:"memo"`
	PIN    string `json:"pin"`
}

// CreatePayment is the spend entrypoint: a payreq pays out over
// lightning, a counterpart invoice hash moves value internally, and
// otherwise the amount funds the named (or fresh) pot.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.requirePin(r, req.PIN); err != nil {
		writeDomainError(w, err)
		return
	}
	user := currentUser(r)

	var p *models.Payment
	var err error
	switch {
	case req.PayReq != "":
		p, err = h.Engine.PayLightning(r.Context(), user, req.PayReq, req.Amount, req.MaxFee, req.Memo)
	case req.Hash != "":
		p, err = h.Engine.SendInternal(r.Context(), user, req.Hash, req.Amount, req.Memo)
	default:
		name := req.Name
		if name == "" {
			name = uuid.NewString()
		}
		p, err = h.Engine.Contribute(r.Context(), user, name, req.Amount, req.Memo)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := unixParam(q, "start")
	end := unixParam(q, "end")
	limit := intParam(q, "limit")
	offset := intParam(q, "offset")

	user := currentUser(r)
	payments, total, err := h.Engine.ListPayments(r.Context(), user.ID, start, end, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	for _, p := range payments {
		if p.Type == models.RailInternal && p.Ref != "" {
			if with, err := h.Directory.UserByID(r.Context(), p.Ref); err == nil {
				p.With = with
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"payments": payments, "total": total})
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.GetPayment(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type parseRequest struct {
	PayReq string `json:"payreq"`
}

// ParsePayReq decodes a bolt11 payment request and names the payee using
// the cached node graph.
func (h *Handler) ParsePayReq(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PayReq == "" {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	decoded, err := h.Engine.Lightning.DecodePay(r.Context(), req.PayReq)
	if err != nil {
		writeDomainError(w, engine.ErrRailFailure)
		return
	}
	alias, _ := h.Nodes.Alias(r.Context(), decoded.Payee)

	writeJSON(w, http.StatusOK, map[string]any{
		"alias":  alias,
		"amount": decoded.Msatoshi / 1000,
	})
}

type createInvoiceRequest struct {
	Amount *int64 `json:"amount"`
	Memo   string `json:"memo"`
	Type   string `json:"type"`
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	rail := models.RailType(req.Type)
	if req.Type == "" {
		rail = models.RailLightning
	}
	inv, err := h.Engine.OpenInvoice(r.Context(), currentUser(r), req.Amount, req.Memo, rail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) Pot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Engine.Pot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type takeRequest struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

func (h *Handler) Take(w http.ResponseWriter, r *http.Request) {
	var req takeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	p, err := h.Engine.Take(r.Context(), currentUser(r), req.Name, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": p})
}

type bitcoinObservation struct {
	TxID   string `json:"txid"`
	Wallet string `json:"wallet"`
}

// BitcoinObservation is the walletnotify/blocknotify hook: it drives
// zero-conf credits and confirmations for tracked deposit addresses.
func (h *Handler) BitcoinObservation(w http.ResponseWriter, r *http.Request) {
	var req bitcoinObservation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxID == "" {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Engine.ObserveTransaction(r.Context(), req.TxID, req.Wallet); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

type feeRequest struct {
	Amount   int64   `json:"amount"`
	Address  string  `json:"address"`
	FeeRate  float64 `json:"feeRate"`
	Subtract bool    `json:"subtract"`
}

func (h *Handler) Fee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	est, err := h.Engine.EstimateFee(r.Context(), req.Amount, req.Address, req.FeeRate, req.Subtract)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

type sendRequest struct {
	Memo string `json:"memo"`
	PIN  string `json:"pin"`
	Tx   struct {
		Hex string  `json:"hex"`
		Fee float64 `json:"fee"`
	} `json:"tx"`
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tx.Hex == "" {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.requirePin(r, req.PIN); err != nil {
		writeDomainError(w, err)
		return
	}

	fee := bitcoin.Sats(req.Tx.Fee)
	txid, err := h.Engine.SendBitcoin(r.Context(), currentUser(r), req.Tx.Hex, fee, req.Memo)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txid": txid})
}

type claimRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if _, err := h.Engine.ClaimToken(r.Context(), currentUser(r), req.Token); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type mintRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	token, err := h.Engine.MintToken(r.Context(), currentUser(r), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type meltRequest struct {
	Amount   int64  `json:"amount"`
	Bolt11   string `json:"bolt11"`
	Preimage string `json:"preimage"`
}

func (h *Handler) Melt(w http.ResponseWriter, r *http.Request) {
	var req meltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	p, err := h.Engine.Melt(r.Context(), currentUser(r), req.Amount, req.Bolt11, req.Preimage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Encode(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}
	enc, err := h.Lnurl.Encode(r.Context(), address)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lnurl": enc})
}

func (h *Handler) Decode(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "missing text")
		return
	}
	raw, err := h.Lnurl.Decode(r.Context(), text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) PayRequest(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Lnurl.PayRequest(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	receipt := q.Get("nostr")
	if receipt != "" {
		if unescaped, err := url.QueryUnescape(receipt); err == nil {
			receipt = unescaped
		}
	}

	resp, err := h.Lnurl.Callback(r.Context(), chi.URLParam(r, "id"), amount, receipt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Lnurl.Verify(r.Context(), chi.URLParam(r, "id")))
}

func unixParam(q url.Values, key string) time.Time {
	v := q.Get(key)
	if v == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func intParam(q url.Values, key string) int {
	v := q.Get(key)
	if v == "" {
		return 0
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return i
}
