package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is a point-in-time copy of a ledger
type State struct {
	Info       Info
	Supply     *uint256.Int
	Balances   map[common.Address]*uint256.Int
	Allowances map[common.Address]map[common.Address]*uint256.Int
}

// Snapshot copies the ledger's state
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := State{
		Info:       l.info,
		Supply:     l.supply.Clone(),
		Balances:   make(map[common.Address]*uint256.Int, len(l.balances)),
		Allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(l.allowances)),
	}
	for owner, b := range l.balances {
		if b.IsZero() {
			continue
		}
		st.Balances[owner] = b.Clone()
	}
	for owner, bySpender := range l.allowances {
		m := make(map[common.Address]*uint256.Int, len(bySpender))
		for spender, a := range bySpender {
			if a.IsZero() {
				continue
			}
			m[spender] = a.Clone()
		}
		if len(m) > 0 {
			st.Allowances[owner] = m
		}
	}
	return st
}

// RestoreLedger rebuilds a ledger from a snapshot
func RestoreLedger(st State) *Ledger {
	l := NewLedger(st.Info, common.Address{}, nil)
	if st.Supply != nil {
		l.supply = st.Supply.Clone()
	}
	for owner, b := range st.Balances {
		l.balances[owner] = b.Clone()
	}
	for owner, bySpender := range st.Allowances {
		m := make(map[common.Address]*uint256.Int, len(bySpender))
		for spender, a := range bySpender {
			m[spender] = a.Clone()
		}
		l.allowances[owner] = m
	}
	return l
}
