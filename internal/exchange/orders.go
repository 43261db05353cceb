package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/fee"
	"github.com/xtrntr/kdex/internal/models"
)

// MakeOrder records an offer to give amountGive of tokenGive for amountGet
// of tokenGet. The creator's escrow balance of tokenGive is checked but not
// reserved; it is checked again when the order is filled.
func (e *Exchange) MakeOrder(user, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (models.Order, error) {
	if amountGet == nil || amountGet.IsZero() || amountGive == nil || amountGive.IsZero() {
		return models.Order{}, fmt.Errorf("make order: %w", ErrInvalidAmount)
	}
	if tokenGet == tokenGive || tokenGet == (common.Address{}) || tokenGive == (common.Address{}) {
		return models.Order{}, fmt.Errorf("make order: %w", ErrInvalidAsset)
	}
	for _, asset := range []common.Address{tokenGet, tokenGive} {
		if _, err := e.lookup(asset); err != nil {
			return models.Order{}, fmt.Errorf("make order: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasLocked(user, tokenGive, amountGive) {
		return models.Order{}, fmt.Errorf("make order: %w: escrow holds %s, order gives %s",
			ErrInsufficientBalance, e.balanceOfLocked(user, tokenGive).Dec(), amountGive.Dec())
	}

	o := &models.Order{
		ID:         uint64(len(e.orders)),
		User:       user,
		TokenGet:   tokenGet,
		AmountGet:  amountGet.Clone(),
		TokenGive:  tokenGive,
		AmountGive: amountGive.Clone(),
		Timestamp:  e.now(),
		FilledGet:  new(uint256.Int),
		FilledGive: new(uint256.Int),
	}
	e.orders = append(e.orders, o)

	snap := o.Clone()
	e.emitLocked(models.Event{
		Type:      models.EventOrder,
		Timestamp: o.Timestamp,
		User:      user,
		Order:     &snap,
	})
	e.logger.Debug("order created",
		zap.Uint64("id", o.ID),
		zap.Stringer("user", user),
		zap.String("amount_get", amountGet.Dec()),
		zap.String("amount_give", amountGive.Dec()))
	return o.Clone(), nil
}

// CancelOrder marks an order cancelled. Only its creator may cancel it.
// Nothing was reserved at creation, so no balance moves.
func (e *Exchange) CancelOrder(user common.Address, id uint64) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.orderLocked(id)
	if err != nil {
		return models.Order{}, fmt.Errorf("cancel order %d: %w", id, err)
	}
	if o.User != user {
		return models.Order{}, fmt.Errorf("cancel order %d: %w", id, ErrNotOrderOwner)
	}
	if err := checkOpen(o); err != nil {
		return models.Order{}, fmt.Errorf("cancel order %d: %w", id, err)
	}

	o.Cancelled = true

	snap := o.Clone()
	e.emitLocked(models.Event{
		Type:      models.EventCancel,
		Timestamp: e.now(),
		User:      user,
		Order:     &snap,
	})
	e.logger.Debug("order cancelled", zap.Uint64("id", id), zap.Stringer("user", user))
	return o.Clone(), nil
}

// FillOrder settles an order against filler's escrow balances. A nil
// amount fills everything that remains. A smaller amount, measured in the
// order's TokenGet, is a partial fill and requires AllowPartialFills; the
// give leg is scaled down proportionally, rounding in the creator's favour,
// and the last fill of an order receives whatever give amount remains.
func (e *Exchange) FillOrder(filler common.Address, id uint64, amount *uint256.Int) (models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.orderLocked(id)
	if err != nil {
		return models.Trade{}, fmt.Errorf("fill order %d: %w", id, err)
	}
	if err := checkOpen(o); err != nil {
		return models.Trade{}, fmt.Errorf("fill order %d: %w", id, err)
	}
	if filler == o.User {
		return models.Trade{}, fmt.Errorf("fill order %d: %w", id, ErrSelfTrade)
	}

	get, give, err := e.legs(o, amount)
	if err != nil {
		return models.Trade{}, fmt.Errorf("fill order %d: %w", id, err)
	}
	feeAmount, err := fee.Compute(get, e.cfg.FeePercent)
	if err != nil {
		return models.Trade{}, fmt.Errorf("fill order %d: %w", id, err)
	}

	if !e.hasLocked(filler, o.TokenGet, get) {
		return models.Trade{}, fmt.Errorf("fill order %d: %w: filler holds %s, fill needs %s",
			id, ErrInsufficientBalance, e.balanceOfLocked(filler, o.TokenGet).Dec(), get.Dec())
	}
	if !e.hasLocked(o.User, o.TokenGive, give) {
		return models.Trade{}, fmt.Errorf("fill order %d: %w: creator holds %s, fill needs %s",
			id, ErrInsufficientBalance, e.balanceOfLocked(o.User, o.TokenGive).Dec(), give.Dec())
	}

	// Every precondition holds; nothing below can fail.
	e.debitLocked(filler, o.TokenGet, get)
	e.creditLocked(o.User, o.TokenGet, new(uint256.Int).Sub(get, feeAmount))
	if !feeAmount.IsZero() {
		e.creditLocked(e.cfg.FeeAccount, o.TokenGet, feeAmount)
	}
	e.debitLocked(o.User, o.TokenGive, give)
	e.creditLocked(filler, o.TokenGive, give)

	o.FilledGet.Add(o.FilledGet, get)
	o.FilledGive.Add(o.FilledGive, give)
	if o.FilledGet.Eq(o.AmountGet) {
		o.Filled = true
	}

	trade := models.Trade{
		OrderID:    o.ID,
		Maker:      o.User,
		Taker:      filler,
		TokenGet:   o.TokenGet,
		AmountGet:  get,
		TokenGive:  o.TokenGive,
		AmountGive: give,
		Fee:        feeAmount,
		ExecutedAt: e.now(),
	}
	snap := o.Clone()
	evTrade := cloneTrade(trade)
	e.emitLocked(models.Event{
		Type:      models.EventTrade,
		Timestamp: trade.ExecutedAt,
		User:      filler,
		Token:     o.TokenGet,
		Amount:    get.Clone(),
		Order:     &snap,
		Trade:     &evTrade,
	})
	e.logger.Debug("order filled",
		zap.Uint64("id", id),
		zap.Stringer("filler", filler),
		zap.String("amount_get", get.Dec()),
		zap.String("amount_give", give.Dec()),
		zap.String("fee", feeAmount.Dec()),
		zap.Bool("complete", o.Filled))
	return cloneTrade(trade), nil
}

// legs resolves how much of each side a fill settles
func (e *Exchange) legs(o *models.Order, amount *uint256.Int) (get, give *uint256.Int, err error) {
	remaining := o.RemainingGet()
	if amount == nil {
		return remaining, o.RemainingGive(), nil
	}
	if amount.IsZero() {
		return nil, nil, ErrInvalidAmount
	}
	if amount.Gt(remaining) {
		return nil, nil, fmt.Errorf("%w: %s exceeds remaining %s", ErrInvalidAmount, amount.Dec(), remaining.Dec())
	}
	if amount.Eq(remaining) {
		return remaining, o.RemainingGive(), nil
	}
	if !e.cfg.AllowPartialFills {
		return nil, nil, fmt.Errorf("%w: partial fills are disabled", ErrInvalidAmount)
	}

	// amount < remaining <= AmountGet, so the quotient is below AmountGive
	give, _ = new(uint256.Int).MulDivOverflow(amount, o.AmountGive, o.AmountGet)
	if give.IsZero() {
		return nil, nil, fmt.Errorf("%w: %s is too small to receive any %s", ErrInvalidAmount, amount.Dec(), o.TokenGive.Hex())
	}
	return amount.Clone(), give, nil
}

func checkOpen(o *models.Order) error {
	switch {
	case o.Cancelled:
		return ErrOrderAlreadyCancelled
	case o.Filled:
		return ErrOrderAlreadyFilled
	}
	return nil
}

func (e *Exchange) orderLocked(id uint64) (*models.Order, error) {
	if id >= uint64(len(e.orders)) {
		return nil, ErrOrderNotFound
	}
	return e.orders[id], nil
}

func cloneTrade(t models.Trade) models.Trade {
	t.AmountGet = t.AmountGet.Clone()
	t.AmountGive = t.AmountGive.Clone()
	t.Fee = t.Fee.Clone()
	return t
}

// TotalOrders returns the number of orders ever created
func (e *Exchange) TotalOrders() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.orders))
}

// Order returns a copy of the order with the given id
func (e *Exchange) Order(id uint64) (models.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, err := e.orderLocked(id)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %d: %w", id, err)
	}
	return o.Clone(), nil
}

// IsOrderCancelled reports whether the order was cancelled. Unknown ids
// report false.
func (e *Exchange) IsOrderCancelled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, err := e.orderLocked(id)
	return err == nil && o.Cancelled
}

// IsOrderFilled reports whether the order was completely filled. Unknown
// ids report false.
func (e *Exchange) IsOrderFilled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, err := e.orderLocked(id)
	return err == nil && o.Filled
}

// OrdersBy returns every order created by user, oldest first
func (e *Exchange) OrdersBy(user common.Address) []models.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []models.Order
	for _, o := range e.orders {
		if o.User == user {
			out = append(out, o.Clone())
		}
	}
	return out
}

// OpenOrders returns every order neither cancelled nor filled, oldest first
func (e *Exchange) OpenOrders() []models.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []models.Order
	for _, o := range e.orders {
		if !o.Cancelled && !o.Filled {
			out = append(out, o.Clone())
		}
	}
	return out
}
