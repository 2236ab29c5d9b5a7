package models

import "time"

type RailType string

const (
	RailInternal  RailType = "internal"
	RailLightning RailType = "lightning"
	RailBitcoin   RailType = "bitcoin"
	RailEcash     RailType = "ecash"
	RailPot       RailType = "pot"
)

type railBehavior struct {
	// Confirmable rails record value movement as unconfirmed first and
	// flip it to confirmed when the chain does.
	Confirmable bool
	// RefMeaning documents how Payment.Ref is interpreted for the rail.
	RefMeaning string
}

var railBehaviors = map[RailType]railBehavior{
	RailInternal:  {Confirmable: false, RefMeaning: "counterpart user id"},
	RailLightning: {Confirmable: false, RefMeaning: "payment preimage"},
	RailBitcoin:   {Confirmable: true, RefMeaning: "txid:vout"},
	RailEcash:     {Confirmable: false, RefMeaning: "token claim id"},
	RailPot:       {Confirmable: false, RefMeaning: "pot name"},
}

func (r RailType) Valid() bool {
	_, ok := railBehaviors[r]
	return ok
}

func (r RailType) Confirmable() bool {
	return railBehaviors[r].Confirmable
}

func (r RailType) RefMeaning() string {
	return railBehaviors[r].RefMeaning
}

// Payment is an append-only settlement record. Amount is negative for
// debits and positive for credits, in the smallest currency unit.
// Confirmed is the only mutable field, and only for the bitcoin rail.
type Payment struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash,omitempty"`
	Amount    int64     `json:"amount"`
	Fee       int64     `json:"fee"`
	Memo      string    `json:"memo,omitempty"`
	UID       string    `json:"uid"`
	Rate      float64   `json:"rate,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Type      RailType  `json:"type"`
	Ref       string    `json:"ref,omitempty"`
	Confirmed bool      `json:"confirmed"`
	With      *User     `json:"with,omitempty"`
	Created   time.Time `json:"created"`
}

// Invoice is a standing request to receive value. Amount nil means an
// open-amount invoice that settles on the first credit of any size.
// Received only ever grows; the record doubles as the settlement audit
// trail and is never deleted.
type Invoice struct {
	Hash     string    `json:"hash"`
	UID      string    `json:"uid"`
	Currency string    `json:"currency,omitempty"`
	Rate     float64   `json:"rate,omitempty"`
	Amount   *int64    `json:"amount,omitempty"`
	Received int64     `json:"received"`
	Preimage string    `json:"preimage,omitempty"`
	Text     string    `json:"text,omitempty"`
	Memo     string    `json:"memo,omitempty"`
	Type     RailType  `json:"type,omitempty"`
	Created  time.Time `json:"created"`
}

func (i *Invoice) Settled() bool {
	if i.Amount == nil {
		return i.Received > 0
	}
	return i.Received >= *i.Amount
}

// User is the view of an account the settlement core needs; the directory
// owns the full record.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Currency string `json:"currency,omitempty"`
}
