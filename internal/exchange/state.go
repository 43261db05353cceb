package exchange

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/xtrntr/kdex/internal/models"
)

// Balance is one non-zero escrow entry
type Balance struct {
	User   common.Address
	Token  common.Address
	Amount *uint256.Int
}

// State is a point-in-time copy of the ledger and the order book
type State struct {
	Balances []Balance
	Orders   []models.Order
	// NextSeq is the sequence number the next event will carry
	NextSeq uint64
}

// Snapshot copies the full state. Balances are ordered by user then token.
func (e *Exchange) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := State{
		Balances: make([]Balance, 0, len(e.balances)),
		Orders:   make([]models.Order, 0, len(e.orders)),
		NextSeq:  e.seq,
	}
	for k, b := range e.balances {
		if b.IsZero() {
			continue
		}
		st.Balances = append(st.Balances, Balance{User: k.user, Token: k.token, Amount: b.Clone()})
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		if c := bytes.Compare(st.Balances[i].User[:], st.Balances[j].User[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(st.Balances[i].Token[:], st.Balances[j].Token[:]) < 0
	})
	for _, o := range e.orders {
		st.Orders = append(st.Orders, o.Clone())
	}
	return st
}

// Checkpoint calls fn with a snapshot taken while no deposit or withdrawal
// is between its token transfer and its ledger update. Token state read
// inside fn therefore agrees with the snapshot's escrow balances. fn must
// not call Deposit or Withdraw.
func (e *Exchange) Checkpoint(fn func(State) error) error {
	e.transfers.Lock()
	defer e.transfers.Unlock()
	return fn(e.Snapshot())
}

// Restore loads st into an exchange that has seen no activity yet
func (e *Exchange) Restore(st State) error {
	for i := range st.Orders {
		if err := validateOrder(uint64(i), &st.Orders[i]); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	for _, b := range st.Balances {
		if b.Amount == nil {
			return fmt.Errorf("restore: balance of %s in %s has no amount", b.User.Hex(), b.Token.Hex())
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.orders) > 0 || len(e.balances) > 0 || e.seq > 0 {
		return fmt.Errorf("restore: %w", ErrStateNotEmpty)
	}
	for _, b := range st.Balances {
		e.creditLocked(b.User, b.Token, b.Amount)
	}
	e.orders = make([]*models.Order, 0, len(st.Orders))
	for i := range st.Orders {
		o := st.Orders[i].Clone()
		e.orders = append(e.orders, &o)
	}
	e.seq = st.NextSeq
	return nil
}

func validateOrder(pos uint64, o *models.Order) error {
	if o.ID != pos {
		return fmt.Errorf("order at position %d has id %d", pos, o.ID)
	}
	if o.AmountGet == nil || o.AmountGive == nil || o.FilledGet == nil || o.FilledGive == nil {
		return fmt.Errorf("order %d has missing amounts", o.ID)
	}
	if o.Cancelled && o.Filled {
		return fmt.Errorf("order %d is both cancelled and filled", o.ID)
	}
	if o.FilledGet.Gt(o.AmountGet) || o.FilledGive.Gt(o.AmountGive) {
		return fmt.Errorf("order %d is overfilled", o.ID)
	}
	if o.Filled != o.FilledGet.Eq(o.AmountGet) {
		return fmt.Errorf("order %d filled flag disagrees with fill progress", o.ID)
	}
	return nil
}

// AuditEntry compares escrow with custody for one asset
type AuditEntry struct {
	Token   common.Address
	Escrow  *uint256.Int // sum of user balances
	Custody *uint256.Int // held by the exchange address on the token
}

// Solvent reports whether custody covers escrow
func (a AuditEntry) Solvent() bool {
	return !a.Escrow.Gt(a.Custody)
}

// Audit checks every asset with escrow balances against the exchange's
// holdings on the token. Custody may exceed escrow (tokens sent directly
// to the exchange, a withdrawal mid-transfer); the reverse means value was
// created and yields ErrInsolvent alongside the full report.
func (e *Exchange) Audit(ctx context.Context) ([]AuditEntry, error) {
	// Held for the whole audit: deposits credit and withdrawals debit
	// under this lock, so escrow cannot move while custody is read.
	e.mu.RLock()
	defer e.mu.RUnlock()

	assets := make(map[common.Address]struct{})
	for k := range e.balances {
		assets[k.token] = struct{}{}
	}
	entries := make([]AuditEntry, 0, len(assets))
	for asset := range assets {
		tok, err := e.lookup(asset)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		held, err := tok.BalanceOf(ctx, e.cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("audit %s: %w", asset.Hex(), err)
		}
		entries = append(entries, AuditEntry{Token: asset, Escrow: e.supplyLocked(asset), Custody: held})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Token[:], entries[j].Token[:]) < 0
	})

	for _, a := range entries {
		if !a.Solvent() {
			return entries, fmt.Errorf("audit %s: %w: escrow %s, custody %s",
				a.Token.Hex(), ErrInsolvent, a.Escrow.Dec(), a.Custody.Dec())
		}
	}
	return entries, nil
}
