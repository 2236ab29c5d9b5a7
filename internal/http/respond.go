package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SamSamskies/coinos-server/internal/directory"
	"github.com/SamSamskies/coinos-server/internal/engine"
	"github.com/SamSamskies/coinos-server/internal/invoices"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/lnurl"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy to HTTP statuses. Conflict
// exhaustion and anything unrecognized surface as 500; rail failures get
// 502 so operators can tell "nothing happened" from "money moved".
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "Insufficient funds")
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidRail),
		errors.Is(err, lnurl.ErrNotLightningAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDuplicate):
		writeError(w, http.StatusConflict, "already settled")
	case errors.Is(err, invoices.ErrNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, lnurl.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, directory.ErrBadPIN):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, engine.ErrRailFailure):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
