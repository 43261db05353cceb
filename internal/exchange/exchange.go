// Package exchange implements the escrow ledger and order book: custodial
// balances per (user, asset), an append-only arena of orders, and fill
// settlement with the fee policy applied.
//
// All state lives behind one writer lock. Every operation either commits
// all of its mutations and emits exactly one event, or fails and leaves
// balances and orders untouched.
package exchange

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/fee"
	"github.com/xtrntr/kdex/internal/models"
	"github.com/xtrntr/kdex/internal/token"
)

// Config is fixed at construction and never changes afterwards
type Config struct {
	// Address is the exchange's own identity on every token: the spender
	// of deposits and the holder of custodial funds.
	Address common.Address
	// FeeAccount receives FeePercent of every amount a filler pays.
	FeeAccount common.Address
	FeePercent uint64
	// AllowPartialFills enables FillOrder with an amount below the
	// order's remaining amount.
	AllowPartialFills bool
}

// Tokens resolves asset addresses to the external token
type Tokens interface {
	Lookup(addr common.Address) (token.Token, error)
}

// Emitter receives events in commit order. Emit is called with the
// exchange lock held and must not call back into the exchange.
type Emitter interface {
	Emit(models.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(models.Event) {}

type balanceKey struct {
	user  common.Address
	token common.Address
}

// Exchange is the escrow ledger and order book
type Exchange struct {
	cfg     Config
	tokens  Tokens
	emitter Emitter
	now     func() time.Time
	logger  *zap.Logger

	// transfers is held shared by Deposit and Withdraw across their token
	// calls and exclusively by Checkpoint
	transfers sync.RWMutex

	mu       sync.RWMutex
	balances map[balanceKey]*uint256.Int
	orders   []*models.Order
	seq      uint64
}

// Option customises an Exchange
type Option func(*Exchange)

// WithEmitter sets the event receiver
func WithEmitter(em Emitter) Option {
	return func(e *Exchange) { e.emitter = em }
}

// WithClock sets the source of commit timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.logger = l }
}

// New creates an empty exchange
func New(cfg Config, tokens Tokens, opts ...Option) (*Exchange, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("exchange address is required")
	}
	if cfg.FeeAccount == (common.Address{}) {
		return nil, errors.New("fee account is required")
	}
	if cfg.FeePercent > fee.MaxPercent {
		return nil, fmt.Errorf("%w: %d", fee.ErrInvalidPercent, cfg.FeePercent)
	}
	if tokens == nil {
		return nil, errors.New("token registry is required")
	}

	e := &Exchange{
		cfg:      cfg,
		tokens:   tokens,
		emitter:  nopEmitter{},
		now:      time.Now,
		logger:   zap.NewNop(),
		balances: make(map[balanceKey]*uint256.Int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Address returns the exchange's custody address
func (e *Exchange) Address() common.Address {
	return e.cfg.Address
}

// FeeAccount returns the account credited with fees
func (e *Exchange) FeeAccount() common.Address {
	return e.cfg.FeeAccount
}

// FeePercent returns the fee percentage applied to fills
func (e *Exchange) FeePercent() uint64 {
	return e.cfg.FeePercent
}

// PartialFillsEnabled reports whether FillOrder accepts partial amounts
func (e *Exchange) PartialFillsEnabled() bool {
	return e.cfg.AllowPartialFills
}

// emitLocked stamps the next sequence number and hands the event over.
// Caller holds e.mu.
func (e *Exchange) emitLocked(ev models.Event) {
	ev.Seq = e.seq
	e.seq++
	e.emitter.Emit(ev)
}

// balanceLocked returns the live balance entry, nil when never credited
func (e *Exchange) balanceLocked(user, asset common.Address) *uint256.Int {
	return e.balances[balanceKey{user: user, token: asset}]
}

func (e *Exchange) balanceOfLocked(user, asset common.Address) *uint256.Int {
	if b := e.balanceLocked(user, asset); b != nil {
		return b.Clone()
	}
	return new(uint256.Int)
}

// creditLocked adds amount. Ledger totals are bounded by token supplies,
// which are themselves 256-bit, so the sum cannot wrap.
func (e *Exchange) creditLocked(user, asset common.Address, amount *uint256.Int) {
	k := balanceKey{user: user, token: asset}
	b, ok := e.balances[k]
	if !ok {
		b = new(uint256.Int)
		e.balances[k] = b
	}
	b.Add(b, amount)
}

// debitLocked subtracts amount; callers check the balance first
func (e *Exchange) debitLocked(user, asset common.Address, amount *uint256.Int) {
	b := e.balances[balanceKey{user: user, token: asset}]
	b.Sub(b, amount)
}

func (e *Exchange) hasLocked(user, asset common.Address, amount *uint256.Int) bool {
	b := e.balanceLocked(user, asset)
	if b == nil {
		return amount.IsZero()
	}
	return !b.Lt(amount)
}
