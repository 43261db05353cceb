// Package token provides the fungible asset primitive the exchange holds in
// custody: the Token interface it consumes, an in-memory ERC-20 style
// Ledger implementing it, and a Registry of ledgers by address.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrZeroAddress           = errors.New("token: zero address")
)

// Token is the external asset as seen by the exchange
type Token interface {
	// TransferFrom moves amount from owner to recipient on behalf of
	// spender, consuming spender's allowance.
	TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *uint256.Int) error
	// Transfer moves amount from sender to recipient.
	Transfer(ctx context.Context, sender, recipient common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
}

// Info describes a token
type Info struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals int32
}

// Ledger is an in-memory ERC-20 style token
type Ledger struct {
	info Info

	mu         sync.RWMutex
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

var _ Token = (*Ledger)(nil)

// NewLedger creates a token and mints supply to holder
func NewLedger(info Info, holder common.Address, supply *uint256.Int) *Ledger {
	l := &Ledger{
		info:       info,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
	if supply != nil && !supply.IsZero() {
		l.mint(holder, supply)
	}
	return l
}

// Info returns the token metadata
func (l *Ledger) Info() Info {
	return l.info
}

// TotalSupply returns the amount minted so far
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

// Mint creates amount new tokens for to
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, overflow := new(uint256.Int).AddOverflow(l.supply, amount); overflow {
		return fmt.Errorf("mint %s %s: supply overflow", amount.Dec(), l.info.Symbol)
	}
	l.mint(to, amount)
	return nil
}

func (l *Ledger) mint(to common.Address, amount *uint256.Int) {
	l.supply.Add(l.supply, amount)
	l.balanceLocked(to).Add(l.balanceLocked(to), amount)
}

// Approve sets spender's allowance over owner's tokens
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = amount.Clone()
	return nil
}

// Transfer implements Token
func (l *Ledger) Transfer(ctx context.Context, sender, recipient common.Address, amount *uint256.Int) error {
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(sender, recipient, amount)
}

// TransferFrom implements Token
func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *uint256.Int) error {
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowanceLocked(owner, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s allows %s %s, need %s",
			ErrInsufficientAllowance, owner.Hex(), spender.Hex(), allowed.Dec(), amount.Dec())
	}
	if err := l.moveLocked(owner, recipient, amount); err != nil {
		return err
	}
	if byOwner, ok := l.allowances[owner]; ok {
		byOwner[spender] = new(uint256.Int).Sub(allowed, amount)
	}
	return nil
}

func (l *Ledger) moveLocked(from, to common.Address, amount *uint256.Int) error {
	have := l.balanceLocked(from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s",
			ErrInsufficientBalance, from.Hex(), have.Dec(), l.info.Symbol, amount.Dec())
	}
	have.Sub(have, amount)
	dst := l.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

// BalanceOf implements Token
func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[owner]; ok {
		return b.Clone(), nil
	}
	return new(uint256.Int), nil
}

// Allowance implements Token
func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowanceLocked(owner, spender).Clone(), nil
}

func (l *Ledger) balanceLocked(owner common.Address) *uint256.Int {
	b, ok := l.balances[owner]
	if !ok {
		b = new(uint256.Int)
		l.balances[owner] = b
	}
	return b
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}
