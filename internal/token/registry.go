package token

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps token addresses to ledgers
type Registry struct {
	mu      sync.RWMutex
	ledgers map[common.Address]*Ledger
}

// NewRegistry creates a registry holding the given ledgers
func NewRegistry(ledgers ...*Ledger) *Registry {
	r := &Registry{ledgers: make(map[common.Address]*Ledger)}
	for _, l := range ledgers {
		r.ledgers[l.info.Address] = l
	}
	return r
}

// Register adds a ledger, failing if its address is taken
func (r *Registry) Register(l *Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[l.info.Address]; ok {
		return fmt.Errorf("token %s already registered", l.info.Address.Hex())
	}
	r.ledgers[l.info.Address] = l
	return nil
}

// Lookup returns the token at addr
func (r *Registry) Lookup(addr common.Address) (Token, error) {
	l, err := r.Ledger(addr)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Ledger returns the ledger at addr
func (r *Registry) Ledger(addr common.Address) (*Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return l, nil
}

// BySymbol finds a ledger by ticker symbol
func (r *Registry) BySymbol(symbol string) (*Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.ledgers {
		if l.info.Symbol == symbol {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: symbol %s", ErrUnknownToken, symbol)
}

// Addresses returns every registered token address in ascending order
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.ledgers))
	for addr := range r.ledgers {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Ledgers returns every registered ledger ordered by address
func (r *Registry) Ledgers() []*Ledger {
	addrs := r.Addresses()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Ledger, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, r.ledgers[a])
	}
	return out
}
