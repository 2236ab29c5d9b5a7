package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"
)

// ClaimToken redeems a bearer token at the mint and credits the caller.
// The token digest is the settlement reference, so re-submitting the same
// token cannot double-credit even if the mint is lenient about replays.
func (e *Engine) ClaimToken(ctx context.Context, user *models.User, token string) (*models.Payment, error) {
	digest := sha256.Sum256([]byte(token))
	ref := hex.EncodeToString(digest[:])

	// The invoice is keyed by the token digest, so a replayed token lands
	// on the same (hash, ref) pair and bounces off the dedup guard.
	if _, err := e.Store.GetRaw(ctx, ledger.CreditGuardKey(ref, ref)); err == nil {
		return nil, ErrDuplicate
	}

	amount, err := e.Ecash.Claim(ctx, token)
	if err != nil {
		railFailures.WithLabelValues(string(models.RailEcash)).Inc()
		return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	if _, err := e.Invoices.Open(ctx, &models.Invoice{
		Hash:     ref,
		UID:      user.ID,
		Currency: user.Currency,
		Rate:     e.rate(ctx, user.Currency),
		Type:     models.RailEcash,
	}); err != nil {
		return nil, err
	}

	return e.Credit(ctx, ref, amount, "", ref, models.RailEcash)
}

// MintToken debits the caller and asks the mint for a token of that value.
// A mint failure after the debit refunds per the usual rail-failure rule.
func (e *Engine) MintToken(ctx context.Context, user *models.User, amount int64) (string, error) {
	p, err := e.Debit(ctx, user, "", "", amount, 0, "", models.RailEcash)
	if err != nil {
		return "", err
	}

	token, err := e.Ecash.Mint(ctx, amount)
	if err != nil {
		railFailures.WithLabelValues(string(models.RailEcash)).Inc()
		if rerr := e.refund(ctx, user, p); rerr != nil {
			return "", fmt.Errorf("%w: mint failed (%v) and refund failed: %v", ErrRailFailure, err, rerr)
		}
		return "", fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	// The token rides on the payment record so the account can recover it.
	p.Memo = token
	if err := e.Store.SetJSON(ctx, ledger.PaymentKey(p.ID), p); err != nil {
		return "", err
	}
	return token, nil
}

// Melt lets the mint account redeem pooled ecash liabilities over
// lightning. Restricted to the configured mint user.
func (e *Engine) Melt(ctx context.Context, user *models.User, amountMsat int64, bolt11, preimage string) (*models.Payment, error) {
	if e.MintUser == "" || user.Username != e.MintUser {
		return nil, ErrUnauthorized
	}
	amount := int64(math.Round(float64(amountMsat) / 1000))
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return e.Debit(ctx, user, bolt11, preimage, amount, 0, "", models.RailLightning)
}
