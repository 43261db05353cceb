package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Order statuses as stored in the journal and returned by the API
const (
	StatusOpen      = "open"
	StatusCancelled = "cancelled"
	StatusFilled    = "filled"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Address      common.Address
	CreatedAt    time.Time
}

// Order is a standing offer to give AmountGive of TokenGive in exchange for
// AmountGet of TokenGet. Everything except the status flags and the fill
// progress is fixed at creation.
type Order struct {
	ID         uint64
	User       common.Address
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	Timestamp  time.Time

	Cancelled bool
	Filled    bool

	// Settled so far, in TokenGet and TokenGive units
	FilledGet  *uint256.Int
	FilledGive *uint256.Int
}

// Status returns "open", "cancelled" or "filled"
func (o *Order) Status() string {
	switch {
	case o.Cancelled:
		return StatusCancelled
	case o.Filled:
		return StatusFilled
	default:
		return StatusOpen
	}
}

// RemainingGet returns the part of AmountGet not yet settled
func (o *Order) RemainingGet() *uint256.Int {
	return new(uint256.Int).Sub(o.AmountGet, o.FilledGet)
}

// RemainingGive returns the part of AmountGive not yet settled
func (o *Order) RemainingGive() *uint256.Int {
	return new(uint256.Int).Sub(o.AmountGive, o.FilledGive)
}

// Clone returns a deep copy so callers never share amounts with the book
func (o *Order) Clone() Order {
	c := *o
	c.AmountGet = o.AmountGet.Clone()
	c.AmountGive = o.AmountGive.Clone()
	c.FilledGet = o.FilledGet.Clone()
	c.FilledGive = o.FilledGive.Clone()
	return c
}

// Trade represents one settled fill of an order
type Trade struct {
	OrderID    uint64
	Maker      common.Address // order creator
	Taker      common.Address // filler
	TokenGet   common.Address
	AmountGet  *uint256.Int // paid by the taker, fee included
	TokenGive  common.Address
	AmountGive *uint256.Int // paid by the maker
	Fee        *uint256.Int // taken out of AmountGet
	ExecutedAt time.Time
}
