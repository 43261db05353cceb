package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"github.com/xtrntr/kdex/internal/events"
	"github.com/xtrntr/kdex/internal/models"
)

func decOrNil(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}

func parseAmounts(src []string, dst []**uint256.Int) error {
	for i, s := range src {
		v, err := models.ParseAmount(s)
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}

// Handle journals one event. It is an events.Sink: events already recorded
// (same seq) are skipped, so replaying a stream is harmless.
func (db *DB) Handle(ctx context.Context, ev models.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var token *string
	if ev.Token != (common.Address{}) {
		t := addr(ev.Token)
		token = &t
	}
	var orderID *int64
	if ev.Order != nil {
		id := int64(ev.Order.ID)
		orderID = &id
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_events (seq, type, user_address, token, amount, balance, order_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (seq) DO NOTHING`,
		int64(ev.Seq), string(ev.Type), addr(ev.User), token,
		decOrNil(ev.Amount), decOrNil(ev.Balance),
		orderID, string(payload), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to journal event %d: %w", ev.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if ev.Order != nil {
		err = upsertOrder(ctx, tx, ev.Order, ev.Timestamp)
	}
	if err == nil && ev.Type == models.EventTrade {
		if ev.Trade == nil {
			return fmt.Errorf("trade event %d has no trade", ev.Seq)
		}
		err = insertTrade(ctx, tx, ev.Seq, ev.Trade)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// upsertOrder records the order as it stands after the event. Orders
// created before the journal was attached are inserted on first sight.
func upsertOrder(ctx context.Context, tx pgx.Tx, o *models.Order, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_address, token_get, amount_get, token_give, amount_give,
			filled_get, filled_give, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			filled_get = EXCLUDED.filled_get,
			filled_give = EXCLUDED.filled_give,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		int64(o.ID), addr(o.User), addr(o.TokenGet), o.AmountGet.Dec(), addr(o.TokenGive), o.AmountGive.Dec(),
		o.FilledGet.Dec(), o.FilledGive.Dec(), o.Status(), o.Timestamp, at)
	if err != nil {
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, seq uint64, t *models.Trade) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trades (seq, order_id, maker, taker, token_get, amount_get, token_give, amount_give, fee, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		int64(seq), int64(t.OrderID), addr(t.Maker), addr(t.Taker),
		addr(t.TokenGet), t.AmountGet.Dec(), addr(t.TokenGive), t.AmountGive.Dec(), t.Fee.Dec(), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade for order %d: %w", t.OrderID, err)
	}
	return nil
}

// LastSeq returns the highest journaled sequence number. ok is false for an
// empty journal.
func (db *DB) LastSeq(ctx context.Context) (seq uint64, ok bool, err error) {
	var last *int64
	if err := db.Pool.QueryRow(ctx, "SELECT max(seq) FROM ledger_events").Scan(&last); err != nil {
		return 0, false, fmt.Errorf("failed to read last seq: %w", err)
	}
	if last == nil {
		return 0, false, nil
	}
	return uint64(*last), true, nil
}

// GetUserOrders retrieves all orders created by user, oldest first
func (db *DB) GetUserOrders(ctx context.Context, user common.Address) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_address, token_get, amount_get::text, token_give, amount_give::text,
			filled_get::text, filled_give::text, status, created_at
		FROM orders
		WHERE user_address = $1
		ORDER BY id ASC`,
		addr(user))
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var (
			o                                  models.Order
			owner, tokenGet, tokenGive, status string
			amountGet, amountGive, fGet, fGive string
		)
		if err := rows.Scan(&o.ID, &owner, &tokenGet, &amountGet, &tokenGive, &amountGive, &fGet, &fGive, &status, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.User = common.HexToAddress(owner)
		o.TokenGet = common.HexToAddress(tokenGet)
		o.TokenGive = common.HexToAddress(tokenGive)
		o.Cancelled = status == models.StatusCancelled
		o.Filled = status == models.StatusFilled
		if err := parseAmounts(
			[]string{amountGet, amountGive, fGet, fGive},
			[]**uint256.Int{&o.AmountGet, &o.AmountGive, &o.FilledGet, &o.FilledGive},
		); err != nil {
			return nil, fmt.Errorf("order %d: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return orders, nil
}

// GetUserTrades retrieves every trade user took part in, as maker or taker
func (db *DB) GetUserTrades(ctx context.Context, user common.Address) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT order_id, maker, taker, token_get, amount_get::text, token_give, amount_give::text, fee::text, executed_at
		FROM trades
		WHERE maker = $1 OR taker = $1
		ORDER BY seq ASC`,
		addr(user))
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t                                 models.Trade
			maker, taker, tokenGet, tokenGive string
			amountGet, amountGive, fee        string
		)
		if err := rows.Scan(&t.OrderID, &maker, &taker, &tokenGet, &amountGet, &tokenGive, &amountGive, &fee, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Maker = common.HexToAddress(maker)
		t.Taker = common.HexToAddress(taker)
		t.TokenGet = common.HexToAddress(tokenGet)
		t.TokenGive = common.HexToAddress(tokenGive)
		if err := parseAmounts(
			[]string{amountGet, amountGive, fee},
			[]**uint256.Int{&t.AmountGet, &t.AmountGive, &t.Fee},
		); err != nil {
			return nil, fmt.Errorf("trade on order %d: %w", t.OrderID, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}

// GetLedgerEvents returns the journaled events concerning user, newest
// first. Trades count for both sides.
func (db *DB) GetLedgerEvents(ctx context.Context, user common.Address, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT e.payload::text
		FROM ledger_events e
		LEFT JOIN trades t ON t.seq = e.seq
		WHERE e.user_address = $1 OR t.maker = $1
		ORDER BY e.seq DESC
		LIMIT $2`,
		addr(user), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev, err := events.Decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}
