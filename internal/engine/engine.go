// Package engine translates rail events into ledger mutations plus
// append-only payment records. It holds no state of its own; every
// mutation is a transaction against the ledger store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/SamSamskies/coinos-server/internal/invoices"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"
	"github.com/SamSamskies/coinos-server/internal/rails/bitcoin"
	"github.com/SamSamskies/coinos-server/internal/rails/ecash"
	"github.com/SamSamskies/coinos-server/internal/rails/lightning"
	"github.com/SamSamskies/coinos-server/internal/rates"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidRail       = errors.New("unknown rail type")
	// ErrDuplicate absorbs a settlement event the ledger already applied.
	ErrDuplicate = errors.New("settlement already applied")
	// ErrRailFailure marks an external rail call that failed. When it
	// follows a balance mutation the mutation has been compensated; see
	// the refund payment referencing the original.
	ErrRailFailure = errors.New("rail failure")
	ErrUnauthorized = errors.New("unauthorized")
)

type Engine struct {
	Store    *ledger.Store
	Invoices *invoices.Manager
	Rates    *rates.Cache

	Lightning lightning.Client
	Bitcoin   bitcoin.Client
	Ecash     ecash.Client

	// Wallet is the bitcoind wallet whose notifications we act on.
	Wallet     string
	WalletPass string
	// MintUser is the only account allowed to melt ecash over lightning.
	MintUser string
}

// Debit atomically removes amount+fee from the account. It is the only
// path by which value leaves an account. hash indexes the payment under an
// external identifier (invoice hash, txid); ref carries the rail-specific
// correlation id.
func (e *Engine) Debit(ctx context.Context, user *models.User, hash, ref string, amount, fee int64, memo string, rail models.RailType) (*models.Payment, error) {
	if !rail.Valid() {
		return nil, ErrInvalidRail
	}
	if amount < 0 || fee < 0 || amount+fee <= 0 {
		return nil, ErrInvalidAmount
	}

	_, err := e.Store.UpdateInt(ctx, ledger.BalanceKey(user.ID), func(cur int64) (int64, error) {
		next := cur - amount - fee
		if next < 0 {
			return 0, ErrInsufficientFunds
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	p := &models.Payment{
		ID:        uuid.NewString(),
		Hash:      hash,
		Amount:    -amount,
		Fee:       fee,
		Memo:      memo,
		UID:       user.ID,
		Rate:      e.rate(ctx, user.Currency),
		Currency:  user.Currency,
		Type:      rail,
		Ref:       ref,
		Confirmed: !rail.Confirmable(),
		Created:   time.Now().UTC(),
	}
	if err := e.appendPayment(ctx, p); err != nil {
		return nil, err
	}
	settlementsTotal.WithLabelValues(string(rail), "debit").Inc()
	return p, nil
}

// Credit settles amount against the invoice at hash: the owning account's
// balance and the invoice's received total grow together, and a positive
// payment is appended. For externally-driven rails a repeated (hash, ref)
// pair is absorbed with ErrDuplicate instead of double-crediting; the
// caller supplies a ref that uniquely identifies the external event.
func (e *Engine) Credit(ctx context.Context, hash string, amount int64, memo, ref string, rail models.RailType) (*models.Payment, error) {
	if !rail.Valid() {
		return nil, ErrInvalidRail
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	inv, err := e.Invoices.Get(ctx, hash)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	guarded := ref != "" && externallySettled(rail)
	if guarded {
		ok, err := e.Store.SetNX(ctx, ledger.CreditGuardKey(hash, ref), id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDuplicate
		}
	}

	// The guard must not outlive a settlement that never applied, or a
	// redelivery of the legitimate event would bounce forever.
	if _, err := e.Store.UpdateInt(ctx, ledger.BalanceKey(inv.UID), func(cur int64) (int64, error) {
		return cur + amount, nil
	}); err != nil {
		if guarded {
			e.dropGuard(ctx, hash, ref)
		}
		return nil, err
	}
	if _, err := e.Invoices.ApplyReceipt(ctx, hash, amount, ""); err != nil {
		// The balance already moved; revert it before releasing the guard
		// so a redelivery starts from scratch.
		if _, rerr := e.Store.UpdateInt(ctx, ledger.BalanceKey(inv.UID), func(cur int64) (int64, error) {
			return cur - amount, nil
		}); rerr != nil {
			return nil, fmt.Errorf("receipt failed (%v) and balance revert failed: %w", err, rerr)
		}
		if guarded {
			e.dropGuard(ctx, hash, ref)
		}
		return nil, err
	}

	p := &models.Payment{
		ID:        id,
		Hash:      hash,
		Amount:    amount,
		Memo:      memo,
		UID:       inv.UID,
		Rate:      inv.Rate,
		Currency:  inv.Currency,
		Type:      rail,
		Ref:       ref,
		Confirmed: !rail.Confirmable(),
		Created:   time.Now().UTC(),
	}
	if err := e.appendPayment(ctx, p); err != nil {
		return nil, err
	}
	settlementsTotal.WithLabelValues(string(rail), "credit").Inc()
	return p, nil
}

// Confirm flips a previously-recorded unconfirmed on-chain credit to
// confirmed. The balance moved at zero-conf credit time, so nothing else
// changes. Confirmations for outputs the ledger never tracked are a no-op.
func (e *Engine) Confirm(ctx context.Context, address, txid string, vout int) error {
	ref := fmt.Sprintf("%s:%d", txid, vout)
	raw, err := e.Store.GetRaw(ctx, ledger.CreditGuardKey(address, ref))
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var p models.Payment
	err = e.Store.UpdateJSON(ctx, ledger.PaymentKey(string(raw)), &p, func() error {
		p.Confirmed = true
		return nil
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	return err
}

// GetPayment resolves either a payment id or an external hash.
func (e *Engine) GetPayment(ctx context.Context, idOrHash string) (*models.Payment, error) {
	var p models.Payment
	err := e.Store.GetJSON(ctx, ledger.PaymentKey(idOrHash), &p)
	if err == nil && p.ID != "" {
		return &p, nil
	}
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		// The key may hold a hash index (a bare JSON string id).
		var id string
		if idxErr := e.Store.GetJSON(ctx, ledger.PaymentKey(idOrHash), &id); idxErr == nil && id != "" {
			if idxErr = e.Store.GetJSON(ctx, ledger.PaymentKey(id), &p); idxErr == nil {
				return &p, nil
			}
		}
	}
	return nil, ledger.ErrNotFound
}

// ListPayments returns the account's payment history, newest first,
// optionally bounded by creation time.
func (e *Engine) ListPayments(ctx context.Context, uid string, start, end time.Time, limit, offset int) ([]*models.Payment, int, error) {
	ids, err := e.Store.Range(ctx, ledger.PaymentsKey(uid), 0, -1)
	if err != nil {
		return nil, 0, err
	}

	var out []*models.Payment
	for _, id := range ids {
		var p models.Payment
		if err := e.Store.GetJSON(ctx, ledger.PaymentKey(id), &p); err != nil {
			continue
		}
		if !start.IsZero() && p.Created.Before(start) {
			continue
		}
		if !end.IsZero() && p.Created.After(end) {
			continue
		}
		out = append(out, &p)
	}

	total := len(out)
	if offset > 0 {
		if offset >= len(out) {
			out = nil
		} else {
			out = out[offset:]
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (e *Engine) dropGuard(ctx context.Context, hash, ref string) {
	if err := e.Store.Del(ctx, ledger.CreditGuardKey(hash, ref)); err != nil {
		log.Printf("guard cleanup failed for %s:%s: %v", hash, ref, err)
	}
}

func (e *Engine) appendPayment(ctx context.Context, p *models.Payment) error {
	if err := e.Store.SetJSON(ctx, ledger.PaymentKey(p.ID), p); err != nil {
		return err
	}
	if p.Hash != "" && p.Hash != p.ID {
		if err := e.Store.SetJSON(ctx, ledger.PaymentKey(p.Hash), p.ID); err != nil {
			return err
		}
	}
	return e.Store.Push(ctx, ledger.PaymentsKey(p.UID), p.ID)
}

// refund compensates a debit whose rail call failed after the balance had
// already moved. Payments are never deleted or reversed in place; the
// refund is a new credit payment referencing the failed one.
func (e *Engine) refund(ctx context.Context, user *models.User, failed *models.Payment) error {
	restore := -failed.Amount + failed.Fee
	if _, err := e.Store.UpdateInt(ctx, ledger.BalanceKey(user.ID), func(cur int64) (int64, error) {
		return cur + restore, nil
	}); err != nil {
		return err
	}
	p := &models.Payment{
		ID:        uuid.NewString(),
		Amount:    restore,
		Memo:      "refund",
		UID:       user.ID,
		Rate:      failed.Rate,
		Currency:  failed.Currency,
		Type:      models.RailInternal,
		Ref:       failed.ID,
		Confirmed: true,
		Created:   time.Now().UTC(),
	}
	return e.appendPayment(ctx, p)
}

func (e *Engine) rate(ctx context.Context, currency string) float64 {
	if e.Rates == nil || currency == "" {
		return 0
	}
	r, err := e.Rates.Rate(ctx, currency)
	if err != nil {
		return 0
	}
	return r
}

func externallySettled(rail models.RailType) bool {
	switch rail {
	case models.RailBitcoin, models.RailLightning, models.RailEcash:
		return true
	}
	return false
}
