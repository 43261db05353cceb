package models

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names a ledger event
type EventType string

const (
	EventDeposit  EventType = "Deposit"
	EventWithdraw EventType = "Withdraw"
	EventOrder    EventType = "Order"
	EventCancel   EventType = "Cancel"
	EventTrade    EventType = "Trade"
)

// Event is emitted once per successful exchange operation. Seq is assigned
// by the exchange and is gapless for the lifetime of the ledger.
//
// Deposit/Withdraw carry User, Token, Amount and the resulting Balance.
// Order/Cancel carry the Order snapshot. Trade carries the Trade and the
// Order snapshot after settlement.
type Event struct {
	Seq       uint64
	Type      EventType
	Timestamp time.Time

	User    common.Address
	Token   common.Address
	Amount  *uint256.Int
	Balance *uint256.Int

	Order *Order
	Trade *Trade
}

// Key returns the partition key used by sinks: the order id for order
// events, the user address otherwise
func (e *Event) Key() string {
	if e.Order != nil {
		return "order-" + strconv.FormatUint(e.Order.ID, 10)
	}
	return e.User.Hex()
}
