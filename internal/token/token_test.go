package token

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob     = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	spender = common.HexToAddress("0xEE00000000000000000000000000000000000000")
	kdex    = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

func newTestLedger() *Ledger {
	return NewLedger(Info{Address: kdex, Name: "Kempaf Decentralized Exchange", Symbol: "KDEX", Decimals: 18}, alice, uint256.NewInt(1000))
}

func TestLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	tests := []struct {
		name        string
		from        common.Address
		to          common.Address
		amount      uint64
		expectError error
	}{
		{name: "Success", from: alice, to: bob, amount: 400},
		{name: "Insufficient", from: bob, to: alice, amount: 401, expectError: ErrInsufficientBalance},
		{name: "ZeroRecipient", from: alice, to: common.Address{}, amount: 1, expectError: ErrZeroAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Transfer(ctx, tt.from, tt.to, uint256.NewInt(tt.amount))
			if tt.expectError != nil {
				assert.True(t, errors.Is(err, tt.expectError), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}

	a, _ := l.BalanceOf(ctx, alice)
	b, _ := l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(600), a.Uint64())
	assert.Equal(t, uint64(400), b.Uint64())
	assert.Equal(t, uint64(1000), l.TotalSupply().Uint64())
}

func TestLedger_TransferFrom(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	err := l.TransferFrom(ctx, spender, alice, spender, uint256.NewInt(10))
	require.True(t, errors.Is(err, ErrInsufficientAllowance), "got %v", err)

	require.NoError(t, l.Approve(alice, spender, uint256.NewInt(300)))
	require.NoError(t, l.TransferFrom(ctx, spender, alice, spender, uint256.NewInt(200)))

	left, _ := l.Allowance(ctx, alice, spender)
	assert.Equal(t, uint64(100), left.Uint64())

	err = l.TransferFrom(ctx, spender, alice, spender, uint256.NewInt(101))
	assert.True(t, errors.Is(err, ErrInsufficientAllowance), "got %v", err)

	got, _ := l.BalanceOf(ctx, spender)
	assert.Equal(t, uint64(200), got.Uint64())

	// zero transfer without any allowance is a no-op
	assert.NoError(t, l.TransferFrom(ctx, spender, bob, alice, new(uint256.Int)))
}

func TestLedger_TransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	require.NoError(t, l.Approve(bob, spender, uint256.NewInt(50)))

	err := l.TransferFrom(ctx, spender, bob, spender, uint256.NewInt(50))
	assert.True(t, errors.Is(err, ErrInsufficientBalance), "got %v", err)

	left, _ := l.Allowance(ctx, bob, spender)
	assert.Equal(t, uint64(50), left.Uint64())
}

func TestLedger_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	require.NoError(t, l.Transfer(ctx, alice, bob, uint256.NewInt(250)))
	require.NoError(t, l.Approve(bob, spender, uint256.NewInt(25)))

	restored := RestoreLedger(l.Snapshot())

	assert.Equal(t, l.Info(), restored.Info())
	assert.Equal(t, uint64(1000), restored.TotalSupply().Uint64())
	b, _ := restored.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(250), b.Uint64())
	a, _ := restored.Allowance(ctx, bob, spender)
	assert.Equal(t, uint64(25), a.Uint64())

	// restored ledger does not share state
	require.NoError(t, restored.Transfer(ctx, bob, alice, uint256.NewInt(250)))
	b, _ = l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(250), b.Uint64())
}

func TestRegistry(t *testing.T) {
	l := newTestLedger()
	r := NewRegistry(l)

	got, err := r.Lookup(kdex)
	require.NoError(t, err)
	assert.Equal(t, l, got)

	_, err = r.Lookup(bob)
	assert.True(t, errors.Is(err, ErrUnknownToken))

	bySym, err := r.BySymbol("KDEX")
	require.NoError(t, err)
	assert.Equal(t, l, bySym)

	assert.Error(t, r.Register(l), "duplicate registration must fail")

	other := NewLedger(Info{Address: common.HexToAddress("0x05"), Symbol: "mETH", Decimals: 18}, alice, nil)
	require.NoError(t, r.Register(other))
	addrs := r.Addresses()
	require.Len(t, addrs, 2)
	assert.Equal(t, other.Info().Address, addrs[0])
	assert.Len(t, r.Ledgers(), 2)
}
