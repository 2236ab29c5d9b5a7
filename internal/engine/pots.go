package engine

import (
	"context"

	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"
)

// Contribute funds a pot: a debit from the contributor, an atomic
// increment of the pot balance, and an append to the pot's payment list.
// Pots are implicitly created on first contribution.
func (e *Engine) Contribute(ctx context.Context, user *models.User, name string, amount int64, memo string) (*models.Payment, error) {
	p, err := e.Debit(ctx, user, "", name, amount, 0, memo, models.RailPot)
	if err != nil {
		return nil, err
	}
	if _, err := e.Store.UpdateInt(ctx, ledger.PotKey(name), func(cur int64) (int64, error) {
		return cur + amount, nil
	}); err != nil {
		return nil, err
	}
	if err := e.Store.Push(ctx, ledger.PotPaymentsKey(name), p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// Take withdraws from a pot into a fresh invoice owned by the requester.
// The check-and-decrement is a single atomic transform, so concurrent
// takes cannot overdraw the pot.
func (e *Engine) Take(ctx context.Context, user *models.User, name string, amount int64) (*models.Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := e.Store.UpdateInt(ctx, ledger.PotKey(name), func(cur int64) (int64, error) {
		if cur < amount {
			return 0, ErrInsufficientFunds
		}
		return cur - amount, nil
	}); err != nil {
		return nil, err
	}

	inv, err := e.Invoices.Open(ctx, &models.Invoice{
		UID:      user.ID,
		Currency: user.Currency,
		Rate:     e.rate(ctx, user.Currency),
		Type:     models.RailPot,
	})
	if err != nil {
		return nil, err
	}

	p, err := e.Credit(ctx, inv.Hash, amount, "", name, models.RailPot)
	if err != nil {
		return nil, err
	}
	if err := e.Store.Push(ctx, ledger.PotPaymentsKey(name), p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

type PotSnapshot struct {
	Amount   int64             `json:"amount"`
	Payments []*models.Payment `json:"payments"`
}

// Pot returns the pot balance and its contributing (and withdrawing)
// payments, newest first.
func (e *Engine) Pot(ctx context.Context, name string) (*PotSnapshot, error) {
	amount, err := e.Store.GetInt(ctx, ledger.PotKey(name))
	if err != nil {
		return nil, err
	}
	ids, err := e.Store.Range(ctx, ledger.PotPaymentsKey(name), 0, -1)
	if err != nil {
		return nil, err
	}
	snap := &PotSnapshot{Amount: amount}
	for _, id := range ids {
		var p models.Payment
		if err := e.Store.GetJSON(ctx, ledger.PaymentKey(id), &p); err != nil {
			continue
		}
		snap.Payments = append(snap.Payments, &p)
	}
	return snap, nil
}
