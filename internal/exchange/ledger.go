package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/models"
	"github.com/xtrntr/kdex/internal/token"
)

type guardKey struct{}

// enter marks ctx as inside a token call made by this exchange. A token
// that calls Deposit or Withdraw with the context it was handed gets
// ErrReentrantCall.
func (e *Exchange) enter(ctx context.Context) (context.Context, error) {
	if g, _ := ctx.Value(guardKey{}).(*Exchange); g == e {
		return nil, ErrReentrantCall
	}
	return context.WithValue(ctx, guardKey{}, e), nil
}

func (e *Exchange) lookup(asset common.Address) (token.Token, error) {
	tok, err := e.tokens.Lookup(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return tok, nil
}

// Deposit pulls amount of asset from user into custody and credits the
// user's escrow balance. It returns the balance after the credit.
//
// The pull happens before the credit and outside the ledger lock, so a
// token that re-enters the exchange mid-transfer observes the balance
// without the pending deposit.
func (e *Exchange) Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("deposit: %w", ErrInvalidAmount)
	}
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	e.transfers.RLock()
	defer e.transfers.RUnlock()

	tok, err := e.lookup(asset)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}

	allowance, err := tok.Allowance(ctx, user, e.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("deposit: query allowance: %w", err)
	}
	if allowance.Lt(amount) {
		return nil, fmt.Errorf("deposit %s: %w: allowance is %s", amount.Dec(), ErrInsufficientAllowance, allowance.Dec())
	}
	held, err := tok.BalanceOf(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("deposit: query balance: %w", err)
	}
	if held.Lt(amount) {
		return nil, fmt.Errorf("deposit %s: %w: wallet holds %s", amount.Dec(), ErrInsufficientExternalBalance, held.Dec())
	}

	// The checks above do not hold the token's lock; a concurrent spend can
	// still make the pull fail for the same reasons.
	if err := tok.TransferFrom(ctx, e.cfg.Address, user, e.cfg.Address, amount); err != nil {
		switch {
		case errors.Is(err, token.ErrInsufficientAllowance):
			return nil, fmt.Errorf("deposit %s: %w: %w", amount.Dec(), ErrInsufficientAllowance, err)
		case errors.Is(err, token.ErrInsufficientBalance):
			return nil, fmt.Errorf("deposit %s: %w: %w", amount.Dec(), ErrInsufficientExternalBalance, err)
		}
		return nil, fmt.Errorf("deposit: %w: %w", ErrTransferFailed, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.creditLocked(user, asset, amount)
	balance := e.balanceOfLocked(user, asset)
	e.emitLocked(models.Event{
		Type:      models.EventDeposit,
		Timestamp: e.now(),
		User:      user,
		Token:     asset,
		Amount:    amount.Clone(),
		Balance:   balance.Clone(),
	})
	e.logger.Debug("deposit",
		zap.Stringer("user", user),
		zap.Stringer("token", asset),
		zap.String("amount", amount.Dec()),
		zap.String("balance", balance.Dec()))
	return balance, nil
}

// Withdraw debits the user's escrow balance and pushes amount of asset
// back to the user. It returns the balance after the debit.
//
// The debit is committed before the push and the ledger lock is released
// while the token runs. Operations in that window see the debited balance
// even if the push then fails, in which case the debit is reversed and
// ErrTransferFailed returned. The returned balance and the event carry the
// balance as it stood right after the debit.
func (e *Exchange) Withdraw(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("withdraw: %w", ErrInvalidAmount)
	}
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	e.transfers.RLock()
	defer e.transfers.RUnlock()

	tok, err := e.lookup(asset)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	e.mu.Lock()
	if !e.hasLocked(user, asset, amount) {
		have := e.balanceOfLocked(user, asset)
		e.mu.Unlock()
		return nil, fmt.Errorf("withdraw %s: %w: escrow holds %s", amount.Dec(), ErrInsufficientBalance, have.Dec())
	}
	e.debitLocked(user, asset, amount)
	balance := e.balanceOfLocked(user, asset)
	e.mu.Unlock()

	if err := tok.Transfer(ctx, e.cfg.Address, user, amount); err != nil {
		e.mu.Lock()
		e.creditLocked(user, asset, amount)
		e.mu.Unlock()
		e.logger.Warn("withdraw push failed, debit reversed",
			zap.Stringer("user", user),
			zap.Stringer("token", asset),
			zap.String("amount", amount.Dec()),
			zap.Error(err))
		return nil, fmt.Errorf("withdraw: %w: %w", ErrTransferFailed, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.emitLocked(models.Event{
		Type:      models.EventWithdraw,
		Timestamp: e.now(),
		User:      user,
		Token:     asset,
		Amount:    amount.Clone(),
		Balance:   balance.Clone(),
	})
	e.logger.Debug("withdraw",
		zap.Stringer("user", user),
		zap.Stringer("token", asset),
		zap.String("amount", amount.Dec()),
		zap.String("balance", balance.Dec()))
	return balance, nil
}

// BalanceOf returns user's escrow balance of asset
func (e *Exchange) BalanceOf(user, asset common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balanceOfLocked(user, asset)
}

// Supply returns the sum of every escrow balance of asset
func (e *Exchange) Supply(asset common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.supplyLocked(asset)
}

func (e *Exchange) supplyLocked(asset common.Address) *uint256.Int {
	total := new(uint256.Int)
	for k, b := range e.balances {
		if k.token == asset {
			total.Add(total, b)
		}
	}
	return total
}
