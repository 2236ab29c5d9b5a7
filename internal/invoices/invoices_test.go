package invoices

import (
	"context"
	"errors"
	"testing"

	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(ledger.New(rdb))
}

func amt(v int64) *int64 { return &v }

func TestOpenAssignsHash(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	inv, err := m.Open(ctx, &models.Invoice{UID: "alice", Amount: amt(1000)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if inv.Hash == "" {
		t.Fatal("expected a generated hash")
	}
	if inv.Received != 0 {
		t.Fatalf("fresh invoice must start at zero received, got %d", inv.Received)
	}

	got, err := m.Get(ctx, inv.Hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UID != "alice" || got.Amount == nil || *got.Amount != 1000 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestOpenDoesNotClobberExisting(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	inv, err := m.Open(ctx, &models.Invoice{UID: "alice", Hash: "fixed-hash", Amount: amt(1000)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.ApplyReceipt(ctx, inv.Hash, 400, ""); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	// Re-opening the same hash must return the receipted record, not a
	// fresh one with received reset to zero.
	again, err := m.Open(ctx, &models.Invoice{UID: "alice", Hash: "fixed-hash", Amount: amt(1000)})
	if err != nil {
		t.Fatalf("re-open: %v", err)
	}
	if again.Received != 400 {
		t.Fatalf("re-open reverted received: %d", again.Received)
	}
	st, err := m.Status(ctx, inv.Hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Received != 400 {
		t.Fatalf("received must stay monotonic: %d", st.Received)
	}
}

func TestOpenRequiresOwner(t *testing.T) {
	m := newManager(t)
	if _, err := m.Open(context.Background(), &models.Invoice{}); err == nil {
		t.Fatal("expected error for ownerless invoice")
	}
}

func TestPartialSettlement(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	inv, err := m.Open(ctx, &models.Invoice{UID: "alice", Amount: amt(1000)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := m.ApplyReceipt(ctx, inv.Hash, 400, ""); err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	st, err := m.Status(ctx, inv.Hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Received != 400 || st.Settled {
		t.Fatalf("after 400 of 1000: %+v", st)
	}

	if _, err := m.ApplyReceipt(ctx, inv.Hash, 600, "preimage-hex"); err != nil {
		t.Fatalf("second receipt: %v", err)
	}
	st, err = m.Status(ctx, inv.Hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Received != 1000 || !st.Settled {
		t.Fatalf("after full amount: %+v", st)
	}
	if st.Preimage != "preimage-hex" {
		t.Fatalf("preimage not recorded: %+v", st)
	}
}

func TestSettledLatches(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	inv, err := m.Open(ctx, &models.Invoice{UID: "alice", Amount: amt(100)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.ApplyReceipt(ctx, inv.Hash, 150, ""); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	// Overpayment counts in full and the invoice stays settled.
	st, _ := m.Status(ctx, inv.Hash)
	if st.Received != 150 || !st.Settled {
		t.Fatalf("overpaid invoice: %+v", st)
	}

	if _, err := m.ApplyReceipt(ctx, inv.Hash, 50, ""); err != nil {
		t.Fatalf("late receipt: %v", err)
	}
	st, _ = m.Status(ctx, inv.Hash)
	if st.Received != 200 || !st.Settled {
		t.Fatalf("settled must latch: %+v", st)
	}
}

func TestOpenAmountSettlesOnFirstCredit(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	inv, err := m.Open(ctx, &models.Invoice{UID: "alice"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	st, _ := m.Status(ctx, inv.Hash)
	if st.Settled {
		t.Fatal("open-amount invoice must not be settled before any credit")
	}

	if _, err := m.ApplyReceipt(ctx, inv.Hash, 1, ""); err != nil {
		t.Fatalf("receipt: %v", err)
	}
	st, _ = m.Status(ctx, inv.Hash)
	if !st.Settled || st.Received != 1 {
		t.Fatalf("open-amount invoice settles on first credit: %+v", st)
	}
}

func TestReceiptRejectsNonPositive(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	inv, _ := m.Open(ctx, &models.Invoice{UID: "alice", Amount: amt(10)})
	if _, err := m.ApplyReceipt(ctx, inv.Hash, 0, ""); err == nil {
		t.Fatal("zero receipt must fail")
	}
	if _, err := m.ApplyReceipt(ctx, inv.Hash, -5, ""); err == nil {
		t.Fatal("negative receipt must fail")
	}
}

func TestStatusUnknownInvoice(t *testing.T) {
	m := newManager(t)
	if _, err := m.Status(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
