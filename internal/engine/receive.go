package engine

import (
	"context"
	"fmt"

	"github.com/SamSamskies/coinos-server/internal/models"

	"github.com/google/uuid"
)

// OpenInvoice starts a receive flow on the given rail. Lightning invoices
// get their hash and payable text from the node; bitcoin invoices are
// keyed by a fresh deposit address; the other rails settle against an
// opaque uuid hash. amount nil opens an open-amount invoice.
func (e *Engine) OpenInvoice(ctx context.Context, user *models.User, amount *int64, memo string, rail models.RailType) (*models.Invoice, error) {
	if !rail.Valid() {
		return nil, ErrInvalidRail
	}
	if amount != nil && *amount <= 0 {
		return nil, ErrInvalidAmount
	}

	inv := &models.Invoice{
		UID:      user.ID,
		Currency: user.Currency,
		Rate:     e.rate(ctx, user.Currency),
		Amount:   amount,
		Memo:     memo,
		Type:     rail,
	}

	switch rail {
	case models.RailLightning:
		var msat int64
		if amount != nil {
			msat = *amount * 1000
		}
		r, err := e.Lightning.Invoice(ctx, msat, uuid.NewString(), memo)
		if err != nil {
			railFailures.WithLabelValues(string(models.RailLightning)).Inc()
			return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
		}
		inv.Hash = r.PaymentHash
		inv.Text = r.Bolt11
	case models.RailBitcoin:
		addr, err := e.Bitcoin.GetNewAddress(ctx)
		if err != nil {
			railFailures.WithLabelValues(string(models.RailBitcoin)).Inc()
			return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
		}
		inv.Hash = addr
		inv.Text = addr
	}

	return e.Invoices.Open(ctx, inv)
}
