package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/models"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("invoice not found")

// Manager tracks invoices from creation through settlement. Every credit
// path runs through ApplyReceipt, which keeps Received monotonically
// non-decreasing under concurrent settlement.
type Manager struct {
	Store *ledger.Store
}

func New(store *ledger.Store) *Manager {
	return &Manager{Store: store}
}

// Open creates the invoice record. A zero Hash gets a fresh uuid; a nil
// Amount denotes an open-amount invoice that settles on first credit.
// Opening a hash that already exists returns the existing record untouched,
// so a racing re-open can never reset a receipted invoice.
func (m *Manager) Open(ctx context.Context, inv *models.Invoice) (*models.Invoice, error) {
	if inv.UID == "" {
		return nil, errors.New("invoice requires an owning account")
	}
	if inv.Hash == "" {
		inv.Hash = uuid.NewString()
	}
	inv.Received = 0
	if inv.Created.IsZero() {
		inv.Created = time.Now().UTC()
	}
	created, err := m.Store.SetJSONNX(ctx, ledger.InvoiceKey(inv.Hash), inv)
	if err != nil {
		return nil, fmt.Errorf("open invoice: %w", err)
	}
	if !created {
		return m.Get(ctx, inv.Hash)
	}
	return inv, nil
}

func (m *Manager) Get(ctx context.Context, hash string) (*models.Invoice, error) {
	var inv models.Invoice
	err := m.Store.GetJSON(ctx, ledger.InvoiceKey(hash), &inv)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

type Status struct {
	Received int64  `json:"received"`
	Amount   *int64 `json:"amount,omitempty"`
	Settled  bool   `json:"settled"`
	Preimage string `json:"preimage,omitempty"`
}

// Status is computed from the invoice record alone; it backs the polled
// verify endpoint and must stay I/O-free beyond the single read.
func (m *Manager) Status(ctx context.Context, hash string) (Status, error) {
	inv, err := m.Get(ctx, hash)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Received: inv.Received,
		Amount:   inv.Amount,
		Settled:  inv.Settled(),
		Preimage: inv.Preimage,
	}, nil
}

// ApplyReceipt records amount landing on the invoice. It uses the same
// atomic primitive as balances because two payers can settle the same
// invoice concurrently. Returns the invoice as written.
func (m *Manager) ApplyReceipt(ctx context.Context, hash string, amount int64, preimage string) (*models.Invoice, error) {
	if amount <= 0 {
		return nil, errors.New("receipt amount must be positive")
	}
	var inv models.Invoice
	err := m.Store.UpdateJSON(ctx, ledger.InvoiceKey(hash), &inv, func() error {
		inv.Received += amount
		if preimage != "" && inv.Preimage == "" {
			inv.Preimage = preimage
		}
		return nil
	})
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
