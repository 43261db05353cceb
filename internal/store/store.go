// Package store persists exchange and token snapshots in Pebble.
//
// Key layout:
//
//	bal:<user>:<token>  escrow balance, base-unit decimal
//	ord:<%020d id>      order record, JSON
//	tok:<token>         token metadata, supply, balances and allowances, JSON
//	meta:seq            sequence number of the next event
//	meta:saved_at       RFC 3339 time of the last save
//
// Each Save replaces the previous snapshot in one atomic batch.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/xtrntr/kdex/internal/exchange"
	"github.com/xtrntr/kdex/internal/models"
	"github.com/xtrntr/kdex/internal/token"
)

// ErrCorrupt is returned when a stored record cannot be decoded
var ErrCorrupt = errors.New("store: corrupt record")

var (
	prefixBalance = []byte("bal:")
	prefixOrder   = []byte("ord:")
	prefixToken   = []byte("tok:")
	keySeq        = []byte("meta:seq")
	keySavedAt    = []byte("meta:saved_at")
)

// Snapshot is everything needed to rebuild a running exchange
type Snapshot struct {
	Exchange exchange.State
	Tokens   []token.State
	SavedAt  time.Time
}

// Store wraps a Pebble database
type Store struct {
	db *pebble.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	cache := pebble.NewCache(32 << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: 16 << 20,
		MaxOpenFiles: 500,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type orderRecord struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"token_get"`
	AmountGet  string         `json:"amount_get"`
	TokenGive  common.Address `json:"token_give"`
	AmountGive string         `json:"amount_give"`
	Timestamp  time.Time      `json:"timestamp"`
	Cancelled  bool           `json:"cancelled"`
	Filled     bool           `json:"filled"`
	FilledGet  string         `json:"filled_get"`
	FilledGive string         `json:"filled_give"`
}

type tokenRecord struct {
	Address    common.Address               `json:"address"`
	Name       string                       `json:"name"`
	Symbol     string                       `json:"symbol"`
	Decimals   int32                        `json:"decimals"`
	Supply     string                       `json:"supply"`
	Balances   map[string]string            `json:"balances"`
	Allowances map[string]map[string]string `json:"allowances,omitempty"`
}

// Addresses in keys are lower-case hex so key order matches byte order.
func balanceKey(user, tok common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, hexKey(user), hexKey(tok)))
}

func hexKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func tokenKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixToken...), hexKey(addr)...)
}

// upperBound returns the smallest key greater than every key with prefix
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	end[len(end)-1]++
	return end
}

// Save replaces the stored snapshot
func (s *Store) Save(st exchange.State, tokens []token.State, now time.Time) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, prefix := range [][]byte{prefixBalance, prefixOrder, prefixToken} {
		if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
			return fmt.Errorf("clear %s: %w", prefix, err)
		}
	}

	for _, bal := range st.Balances {
		if err := b.Set(balanceKey(bal.User, bal.Token), []byte(bal.Amount.Dec()), nil); err != nil {
			return fmt.Errorf("save balance: %w", err)
		}
	}
	for _, o := range st.Orders {
		data, err := json.Marshal(orderRecord{
			ID:         o.ID,
			User:       o.User,
			TokenGet:   o.TokenGet,
			AmountGet:  o.AmountGet.Dec(),
			TokenGive:  o.TokenGive,
			AmountGive: o.AmountGive.Dec(),
			Timestamp:  o.Timestamp,
			Cancelled:  o.Cancelled,
			Filled:     o.Filled,
			FilledGet:  o.FilledGet.Dec(),
			FilledGive: o.FilledGive.Dec(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
		}
		if err := b.Set(orderKey(o.ID), data, nil); err != nil {
			return fmt.Errorf("save order %d: %w", o.ID, err)
		}
	}
	for _, ts := range tokens {
		data, err := json.Marshal(newTokenRecord(ts))
		if err != nil {
			return fmt.Errorf("failed to marshal token %s: %w", ts.Info.Symbol, err)
		}
		if err := b.Set(tokenKey(ts.Info.Address), data, nil); err != nil {
			return fmt.Errorf("save token %s: %w", ts.Info.Symbol, err)
		}
	}
	if err := b.Set(keySeq, []byte(strconv.FormatUint(st.NextSeq, 10)), nil); err != nil {
		return fmt.Errorf("save seq: %w", err)
	}
	if err := b.Set(keySavedAt, []byte(now.UTC().Format(time.RFC3339Nano)), nil); err != nil {
		return fmt.Errorf("save time: %w", err)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func newTokenRecord(ts token.State) tokenRecord {
	rec := tokenRecord{
		Address:  ts.Info.Address,
		Name:     ts.Info.Name,
		Symbol:   ts.Info.Symbol,
		Decimals: ts.Info.Decimals,
		Supply:   ts.Supply.Dec(),
		Balances: make(map[string]string, len(ts.Balances)),
	}
	for owner, v := range ts.Balances {
		rec.Balances[owner.Hex()] = v.Dec()
	}
	if len(ts.Allowances) > 0 {
		rec.Allowances = make(map[string]map[string]string, len(ts.Allowances))
		for owner, bySpender := range ts.Allowances {
			m := make(map[string]string, len(bySpender))
			for spender, v := range bySpender {
				m[spender.Hex()] = v.Dec()
			}
			rec.Allowances[owner.Hex()] = m
		}
	}
	return rec
}

// Load reads the stored snapshot. ok is false when nothing was ever saved.
func (s *Store) Load() (snap Snapshot, ok bool, err error) {
	seq, found, err := s.get(keySeq)
	if err != nil || !found {
		return Snapshot{}, false, err
	}
	snap.Exchange.NextSeq, err = strconv.ParseUint(string(seq), 10, 64)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: meta:seq: %v", ErrCorrupt, err)
	}
	if raw, found, err := s.get(keySavedAt); err != nil {
		return Snapshot{}, false, err
	} else if found {
		if snap.SavedAt, err = time.Parse(time.RFC3339Nano, string(raw)); err != nil {
			return Snapshot{}, false, fmt.Errorf("%w: meta:saved_at: %v", ErrCorrupt, err)
		}
	}

	err = s.scan(prefixBalance, func(key, value []byte) error {
		parts := strings.Split(string(key[len(prefixBalance):]), ":")
		if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
			return fmt.Errorf("%w: balance key %q", ErrCorrupt, key)
		}
		amount, err := models.ParseAmount(string(value))
		if err != nil {
			return fmt.Errorf("%w: balance %q: %v", ErrCorrupt, key, err)
		}
		snap.Exchange.Balances = append(snap.Exchange.Balances, exchange.Balance{
			User:   common.HexToAddress(parts[0]),
			Token:  common.HexToAddress(parts[1]),
			Amount: amount,
		})
		return nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}

	err = s.scan(prefixOrder, func(key, value []byte) error {
		o, err := decodeOrder(value)
		if err != nil {
			return fmt.Errorf("%w: order %q: %v", ErrCorrupt, key, err)
		}
		snap.Exchange.Orders = append(snap.Exchange.Orders, o)
		return nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}

	err = s.scan(prefixToken, func(key, value []byte) error {
		ts, err := decodeToken(value)
		if err != nil {
			return fmt.Errorf("%w: token %q: %v", ErrCorrupt, key, err)
		}
		snap.Tokens = append(snap.Tokens, ts)
		return nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return bytes.Clone(data), true, nil
}

// scan visits every key with prefix in key order
func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func decodeOrder(data []byte) (models.Order, error) {
	var rec orderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.Order{}, err
	}
	amounts := make([]*uint256.Int, 4)
	for i, s := range []string{rec.AmountGet, rec.AmountGive, rec.FilledGet, rec.FilledGive} {
		v, err := models.ParseAmount(s)
		if err != nil {
			return models.Order{}, err
		}
		amounts[i] = v
	}
	return models.Order{
		ID:         rec.ID,
		User:       rec.User,
		TokenGet:   rec.TokenGet,
		AmountGet:  amounts[0],
		TokenGive:  rec.TokenGive,
		AmountGive: amounts[1],
		Timestamp:  rec.Timestamp,
		Cancelled:  rec.Cancelled,
		Filled:     rec.Filled,
		FilledGet:  amounts[2],
		FilledGive: amounts[3],
	}, nil
}

func decodeToken(data []byte) (token.State, error) {
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return token.State{}, err
	}
	supply, err := models.ParseAmount(rec.Supply)
	if err != nil {
		return token.State{}, err
	}
	ts := token.State{
		Info: token.Info{
			Address:  rec.Address,
			Name:     rec.Name,
			Symbol:   rec.Symbol,
			Decimals: rec.Decimals,
		},
		Supply:     supply,
		Balances:   make(map[common.Address]*uint256.Int, len(rec.Balances)),
		Allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(rec.Allowances)),
	}
	for owner, s := range rec.Balances {
		v, err := models.ParseAmount(s)
		if err != nil {
			return token.State{}, err
		}
		ts.Balances[common.HexToAddress(owner)] = v
	}
	for owner, bySpender := range rec.Allowances {
		m := make(map[common.Address]*uint256.Int, len(bySpender))
		for spender, s := range bySpender {
			v, err := models.ParseAmount(s)
			if err != nil {
				return token.State{}, err
			}
			m[common.HexToAddress(spender)] = v
		}
		ts.Allowances[common.HexToAddress(owner)] = m
	}
	return ts, nil
}
