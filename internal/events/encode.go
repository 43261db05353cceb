package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/xtrntr/kdex/internal/models"
)

// OrderView is the wire form of an order. Amounts are base-unit decimal
// strings.
type OrderView struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"token_get"`
	AmountGet  string         `json:"amount_get"`
	TokenGive  common.Address `json:"token_give"`
	AmountGive string         `json:"amount_give"`
	FilledGet  string         `json:"filled_get"`
	FilledGive string         `json:"filled_give"`
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// TradeView is the wire form of a trade
type TradeView struct {
	OrderID    uint64         `json:"order_id"`
	Maker      common.Address `json:"maker"`
	Taker      common.Address `json:"taker"`
	TokenGet   common.Address `json:"token_get"`
	AmountGet  string         `json:"amount_get"`
	TokenGive  common.Address `json:"token_give"`
	AmountGive string         `json:"amount_give"`
	Fee        string         `json:"fee"`
	ExecutedAt time.Time      `json:"executed_at"`
}

type wireEvent struct {
	Seq       uint64           `json:"seq"`
	Type      models.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	User      common.Address   `json:"user"`
	Token     *common.Address  `json:"token,omitempty"`
	Amount    string           `json:"amount,omitempty"`
	Balance   string           `json:"balance,omitempty"`
	Order     *OrderView       `json:"order,omitempty"`
	Trade     *TradeView       `json:"trade,omitempty"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// NewOrderView converts an order for the wire
func NewOrderView(o models.Order) OrderView {
	return OrderView{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  dec(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: dec(o.AmountGive),
		FilledGet:  dec(o.FilledGet),
		FilledGive: dec(o.FilledGive),
		Status:     o.Status(),
		Timestamp:  o.Timestamp,
	}
}

// NewTradeView converts a trade for the wire
func NewTradeView(t models.Trade) TradeView {
	return TradeView{
		OrderID:    t.OrderID,
		Maker:      t.Maker,
		Taker:      t.Taker,
		TokenGet:   t.TokenGet,
		AmountGet:  dec(t.AmountGet),
		TokenGive:  t.TokenGive,
		AmountGive: dec(t.AmountGive),
		Fee:        dec(t.Fee),
		ExecutedAt: t.ExecutedAt,
	}
}

// Encode renders an event as JSON
func Encode(ev models.Event) ([]byte, error) {
	w := wireEvent{
		Seq:       ev.Seq,
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		User:      ev.User,
	}
	if ev.Token != (common.Address{}) {
		tok := ev.Token
		w.Token = &tok
	}
	if ev.Amount != nil {
		w.Amount = ev.Amount.Dec()
	}
	if ev.Balance != nil {
		w.Balance = ev.Balance.Dec()
	}
	if ev.Order != nil {
		v := NewOrderView(*ev.Order)
		w.Order = &v
	}
	if ev.Trade != nil {
		v := NewTradeView(*ev.Trade)
		w.Trade = &v
	}
	return json.Marshal(w)
}

// Decode parses the output of Encode
func Decode(data []byte) (models.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev := models.Event{
		Seq:       w.Seq,
		Type:      w.Type,
		Timestamp: w.Timestamp,
		User:      w.User,
	}
	if w.Token != nil {
		ev.Token = *w.Token
	}

	var err error
	amount := func(s string) *uint256.Int {
		if s == "" || err != nil {
			return nil
		}
		var v *uint256.Int
		v, err = models.ParseAmount(s)
		return v
	}
	ev.Amount = amount(w.Amount)
	ev.Balance = amount(w.Balance)
	if w.Order != nil {
		o := models.Order{
			ID:         w.Order.ID,
			User:       w.Order.User,
			TokenGet:   w.Order.TokenGet,
			AmountGet:  amount(w.Order.AmountGet),
			TokenGive:  w.Order.TokenGive,
			AmountGive: amount(w.Order.AmountGive),
			FilledGet:  amount(w.Order.FilledGet),
			FilledGive: amount(w.Order.FilledGive),
			Cancelled:  w.Order.Status == models.StatusCancelled,
			Filled:     w.Order.Status == models.StatusFilled,
			Timestamp:  w.Order.Timestamp,
		}
		ev.Order = &o
	}
	if w.Trade != nil {
		t := models.Trade{
			OrderID:    w.Trade.OrderID,
			Maker:      w.Trade.Maker,
			Taker:      w.Trade.Taker,
			TokenGet:   w.Trade.TokenGet,
			AmountGet:  amount(w.Trade.AmountGet),
			TokenGive:  w.Trade.TokenGive,
			AmountGive: amount(w.Trade.AmountGive),
			Fee:        amount(w.Trade.Fee),
			ExecutedAt: w.Trade.ExecutedAt,
		}
		ev.Trade = &t
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("decode event %d: %w", w.Seq, err)
	}
	return ev, nil
}
