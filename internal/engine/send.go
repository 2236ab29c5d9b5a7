package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/SamSamskies/coinos-server/internal/invoices"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"
	"github.com/SamSamskies/coinos-server/internal/rails/bitcoin"
)

// PayLightning debits amount+maxfee up front, pays the bolt11 through the
// node, then settles the fee difference: the overshoot (maxfee minus the
// routing fee actually paid) goes back to the balance and the payment
// record keeps the real fee, hash, and preimage. A failed node call after
// the debit is compensated with a refund payment and surfaced as
// ErrRailFailure so callers can tell "nothing happened" from "money moved,
// rail failed, refunded".
func (e *Engine) PayLightning(ctx context.Context, user *models.User, payreq string, amount, maxfee int64, memo string) (*models.Payment, error) {
	p, err := e.Debit(ctx, user, "", "", amount, maxfee, memo, models.RailLightning)
	if err != nil {
		return nil, err
	}

	r, err := e.Lightning.Pay(ctx, payreq, maxfee*1000)
	if err != nil {
		railFailures.WithLabelValues(string(models.RailLightning)).Inc()
		if rerr := e.refund(ctx, user, p); rerr != nil {
			return nil, fmt.Errorf("%w: pay failed (%v) and refund failed: %v", ErrRailFailure, err, rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	fee := (r.MsatoshiSent - r.Msatoshi) / 1000
	if over := maxfee - fee; over > 0 {
		if _, err := e.Store.UpdateInt(ctx, ledger.BalanceKey(user.ID), func(cur int64) (int64, error) {
			return cur + over, nil
		}); err != nil {
			return nil, err
		}
	}

	p.Fee = fee
	p.Hash = r.PaymentHash
	p.Ref = r.Preimage
	if err := e.Store.SetJSON(ctx, ledger.PaymentKey(p.ID), p); err != nil {
		return nil, err
	}
	if err := e.Store.SetJSON(ctx, ledger.PaymentKey(p.Hash), p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// SendInternal moves value to another account's invoice: one debit from
// the sender, one credit to the invoice owner, both referencing the
// counterpart so history can name who paid whom.
func (e *Engine) SendInternal(ctx context.Context, user *models.User, hash string, amount int64, memo string) (*models.Payment, error) {
	inv, err := e.Invoices.Get(ctx, hash)
	if err != nil {
		return nil, err
	}

	p, err := e.Debit(ctx, user, hash, inv.UID, amount, 0, memo, models.RailInternal)
	if err != nil {
		return nil, err
	}
	if _, err := e.Credit(ctx, hash, amount, memo, user.ID, models.RailInternal); err != nil {
		return nil, err
	}
	return p, nil
}

type FeeEstimate struct {
	FeeRate int64             `json:"feeRate"`
	Tx      *bitcoin.FundedTx `json:"tx"`
}

// EstimateFee builds and funds a candidate transaction so the client can
// see the effective fee rate before committing to a send.
func (e *Engine) EstimateFee(ctx context.Context, amount int64, address string, feeRate float64, subtract bool) (*FeeEstimate, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var subtractFrom []int
	if subtract {
		subtractFrom = []int{0}
	}

	outs := []map[string]float64{{address: bitcoin.BTC(amount)}}
	raw, err := e.Bitcoin.CreateRawTransaction(ctx, outs, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
	}
	funded, err := e.Bitcoin.FundRawTransaction(ctx, raw, bitcoin.FundOptions{
		FeeRate:                feeRate,
		SubtractFeeFromOutputs: subtractFrom,
		Replaceable:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	if e.WalletPass != "" {
		if err := e.Bitcoin.WalletPassphrase(ctx, e.WalletPass, 300); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
		}
	}
	signed, err := e.Bitcoin.SignRawTransactionWithWallet(ctx, funded.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
	}
	decoded, err := e.Bitcoin.DecodeRawTransaction(ctx, signed.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	effective := int64(math.Round(float64(bitcoin.Sats(funded.Fee)) * 1000 / float64(decoded.VSize)))
	return &FeeEstimate{FeeRate: effective, Tx: funded}, nil
}

// SendBitcoin signs the prepared transaction, verifies the mempool will
// take it, debits the spend (outputs minus change, plus fee), and
// broadcasts. The mempool check runs before any balance mutation; a
// broadcast failure afterwards is compensated like any rail failure.
func (e *Engine) SendBitcoin(ctx context.Context, user *models.User, txHex string, fee int64, memo string) (string, error) {
	if fee < 0 {
		return "", ErrInvalidAmount
	}

	if e.WalletPass != "" {
		if err := e.Bitcoin.WalletPassphrase(ctx, e.WalletPass, 300); err != nil {
			return "", fmt.Errorf("%w: %v", ErrRailFailure, err)
		}
	}
	signed, err := e.Bitcoin.SignRawTransactionWithWallet(ctx, txHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	allowed, reason, err := e.Bitcoin.TestMempoolAccept(ctx, signed.Hex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRailFailure, err)
	}
	if !allowed {
		return "", fmt.Errorf("%w: transaction rejected: %s", ErrRailFailure, reason)
	}

	decoded, err := e.Bitcoin.DecodeRawTransaction(ctx, signed.Hex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	var total, change int64
	for _, out := range decoded.Vout {
		sats := bitcoin.Sats(out.Value)
		total += sats
		if e.isChange(ctx, out.ScriptPubKey.Address) {
			change += sats
		}
	}
	amount := total - change

	p, err := e.Debit(ctx, user, decoded.TxID, decoded.TxID, amount, fee, memo, models.RailBitcoin)
	if err != nil {
		return "", err
	}

	if _, err := e.Bitcoin.SendRawTransaction(ctx, signed.Hex); err != nil {
		railFailures.WithLabelValues(string(models.RailBitcoin)).Inc()
		if rerr := e.refund(ctx, user, p); rerr != nil {
			return "", fmt.Errorf("%w: broadcast failed (%v) and refund failed: %v", ErrRailFailure, err, rerr)
		}
		return "", fmt.Errorf("%w: %v", ErrRailFailure, err)
	}
	return decoded.TxID, nil
}

// isChange reports whether the output pays our own wallet without being a
// tracked deposit invoice (deposit addresses are invoice hashes).
func (e *Engine) isChange(ctx context.Context, address string) bool {
	if address == "" {
		return false
	}
	info, err := e.Bitcoin.GetAddressInfo(ctx, address)
	if err != nil || !info.IsMine {
		return false
	}
	if _, err := e.Invoices.Get(ctx, address); err == nil {
		return false
	}
	return true
}

// ObserveTransaction handles a wallet notification for txid: unconfirmed
// receives credit the deposit invoice optimistically at zero conf,
// confirmed ones flip the earlier credit. Outputs the ledger never issued
// an address for are ignored.
func (e *Engine) ObserveTransaction(ctx context.Context, txid, wallet string) error {
	if wallet != "" && wallet != e.Wallet {
		return nil
	}
	tx, err := e.Bitcoin.GetTransaction(ctx, txid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRailFailure, err)
	}

	for _, d := range tx.Details {
		if d.Category != "receive" {
			continue
		}
		if tx.Confirmations > 0 {
			if err := e.Confirm(ctx, d.Address, txid, d.Vout); err != nil {
				return err
			}
			continue
		}
		ref := fmt.Sprintf("%s:%d", txid, d.Vout)
		_, err := e.Credit(ctx, d.Address, bitcoin.Sats(d.Amount), "", ref, models.RailBitcoin)
		if errors.Is(err, ErrDuplicate) || errors.Is(err, invoices.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		log.Printf("credited %s sat=%d tx=%s:%d", d.Address, bitcoin.Sats(d.Amount), txid, d.Vout)
	}
	return nil
}
