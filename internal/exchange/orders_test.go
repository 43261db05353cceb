package exchange

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/kdex/internal/models"
)

func TestExchange_MakeOrder(t *testing.T) {
	tests := []struct {
		name        string
		tokenGet    common.Address
		amountGet   *uint256.Int
		tokenGive   common.Address
		amountGive  *uint256.Int
		expectError error
	}{
		{name: "Success", tokenGet: tokenB, amountGet: amt(500), tokenGive: tokenA, amountGive: amt(500)},
		{name: "GivesWholeBalance", tokenGet: tokenB, amountGet: amt(1), tokenGive: tokenA, amountGive: amt(1000)},
		{name: "ZeroGet", tokenGet: tokenB, amountGet: amt(0), tokenGive: tokenA, amountGive: amt(500), expectError: ErrInvalidAmount},
		{name: "ZeroGive", tokenGet: tokenB, amountGet: amt(500), tokenGive: tokenA, amountGive: amt(0), expectError: ErrInvalidAmount},
		{name: "NilGive", tokenGet: tokenB, amountGet: amt(500), tokenGive: tokenA, amountGive: nil, expectError: ErrInvalidAmount},
		{name: "SameAsset", tokenGet: tokenA, amountGet: amt(500), tokenGive: tokenA, amountGive: amt(500), expectError: ErrInvalidAsset},
		{name: "ZeroAddressAsset", tokenGet: common.Address{}, amountGet: amt(500), tokenGive: tokenA, amountGive: amt(500), expectError: ErrInvalidAsset},
		{name: "UnknownAsset", tokenGet: unknownToken, amountGet: amt(500), tokenGive: tokenA, amountGive: amt(500), expectError: ErrUnknownAsset},
		{name: "GivesMoreThanEscrow", tokenGet: tokenB, amountGet: amt(500), tokenGive: tokenA, amountGive: amt(1001), expectError: ErrInsufficientBalance},
		{name: "GivesUndepositedAsset", tokenGet: tokenA, amountGet: amt(500), tokenGive: tokenB, amountGive: amt(1), expectError: ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1, false)
			f.deposit(t, user1, tokenA, 1000)

			order, err := f.ex.MakeOrder(user1, tt.tokenGet, tt.amountGet, tt.tokenGive, tt.amountGive)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Equal(t, uint64(0), f.ex.TotalOrders())
				assert.Len(t, f.events.all(), 1, "only the deposit event")
				return
			}
			require.NoError(t, err)

			assert.Equal(t, uint64(0), order.ID)
			assert.Equal(t, user1, order.User)
			assert.Equal(t, tt.amountGet.Uint64(), order.AmountGet.Uint64())
			assert.Equal(t, tt.amountGive.Uint64(), order.AmountGive.Uint64())
			assert.Equal(t, testTime, order.Timestamp)
			assert.Equal(t, models.StatusOpen, order.Status())
			assert.Equal(t, uint64(1), f.ex.TotalOrders())

			// nothing is reserved
			assert.Equal(t, uint64(1000), f.balance(user1, tokenA))

			ev := f.events.last()
			assert.Equal(t, models.EventOrder, ev.Type)
			assert.Equal(t, uint64(1), ev.Seq)
			require.NotNil(t, ev.Order)
			assert.Equal(t, order.ID, ev.Order.ID)
		})
	}
}

func TestExchange_OrderIDsAreDense(t *testing.T) {
	f := newFixture(t, 1, false)
	f.deposit(t, user1, tokenA, 1000)
	f.deposit(t, user2, tokenB, 1000)

	for i := 0; i < 5; i++ {
		maker := user1
		get, give := tokenB, tokenA
		if i%2 == 1 {
			maker = user2
			get, give = tokenA, tokenB
		}
		o, err := f.ex.MakeOrder(maker, get, amt(10), give, amt(10))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), o.ID)
	}
	// failures consume no id
	_, err := f.ex.MakeOrder(user1, tokenB, amt(10), tokenA, amt(5000))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	o, err := f.ex.MakeOrder(user1, tokenB, amt(10), tokenA, amt(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), o.ID)
	assert.Equal(t, uint64(6), f.ex.TotalOrders())

	assert.Len(t, f.ex.OrdersBy(user1), 4)
	assert.Len(t, f.ex.OrdersBy(user2), 2)
	assert.Empty(t, f.ex.OrdersBy(user3))
}

func TestExchange_CancelOrder(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, f *fixture)
		caller      common.Address
		id          uint64
		expectError error
	}{
		{
			name:   "Success",
			caller: user1,
			id:     0,
		},
		{
			name:        "NotOwner",
			caller:      user2,
			id:          0,
			expectError: ErrNotOrderOwner,
		},
		{
			name:        "NotFound",
			caller:      user1,
			id:          1,
			expectError: ErrOrderNotFound,
		},
		{
			name: "AlreadyCancelled",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.ex.CancelOrder(user1, 0)
				require.NoError(t, err)
			},
			caller:      user1,
			id:          0,
			expectError: ErrOrderAlreadyCancelled,
		},
		{
			name: "AlreadyFilled",
			setup: func(t *testing.T, f *fixture) {
				f.deposit(t, user2, tokenB, 500)
				_, err := f.ex.FillOrder(user2, 0, nil)
				require.NoError(t, err)
			},
			caller:      user1,
			id:          0,
			expectError: ErrOrderAlreadyFilled,
		},
		{
			name: "NotOwnerOfCancelledOrder",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.ex.CancelOrder(user1, 0)
				require.NoError(t, err)
			},
			caller:      user2,
			id:          0,
			expectError: ErrNotOrderOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1, false)
			f.deposit(t, user1, tokenA, 1000)
			_, err := f.ex.MakeOrder(user1, tokenB, amt(500), tokenA, amt(500))
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before := len(f.events.all())
			balances := f.ex.Snapshot().Balances

			order, err := f.ex.CancelOrder(tt.caller, tt.id)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Len(t, f.events.all(), before)
				assert.Equal(t, balances, f.ex.Snapshot().Balances)
				return
			}
			require.NoError(t, err)

			assert.True(t, order.Cancelled)
			assert.True(t, f.ex.IsOrderCancelled(0))
			assert.False(t, f.ex.IsOrderFilled(0))
			assert.Equal(t, uint64(1000), f.balance(user1, tokenA))

			ev := f.events.last()
			assert.Equal(t, models.EventCancel, ev.Type)
			assert.Equal(t, user1, ev.User)
		})
	}
}

func TestExchange_FillOrder(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, f *fixture)
		filler      common.Address
		id          uint64
		expectError error
	}{
		{
			name:   "Success",
			filler: user2,
		},
		{
			name:        "NotFound",
			filler:      user2,
			id:          3,
			expectError: ErrOrderNotFound,
		},
		{
			name:        "SelfTrade",
			filler:      user1,
			expectError: ErrSelfTrade,
		},
		{
			name: "Cancelled",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.ex.CancelOrder(user1, 0)
				require.NoError(t, err)
			},
			filler:      user2,
			expectError: ErrOrderAlreadyCancelled,
		},
		{
			name: "FilledTwice",
			setup: func(t *testing.T, f *fixture) {
				f.deposit(t, user3, tokenB, 500)
				_, err := f.ex.FillOrder(user3, 0, nil)
				require.NoError(t, err)
			},
			filler:      user2,
			expectError: ErrOrderAlreadyFilled,
		},
		{
			name: "FillerShort",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.ex.Withdraw(context.Background(), user2, tokenB, amt(1))
				require.NoError(t, err)
			},
			filler:      user2,
			expectError: ErrInsufficientBalance,
		},
		{
			name: "CreatorSpentEscrow",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.ex.Withdraw(context.Background(), user1, tokenA, amt(600))
				require.NoError(t, err)
			},
			filler:      user2,
			expectError: ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1, false)
			f.deposit(t, user1, tokenA, 1000)
			f.deposit(t, user2, tokenB, 500)
			_, err := f.ex.MakeOrder(user1, tokenB, amt(500), tokenA, amt(500))
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before := len(f.events.all())
			snap := f.ex.Snapshot()

			trade, err := f.ex.FillOrder(tt.filler, tt.id, nil)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Len(t, f.events.all(), before)
				assert.Equal(t, snap, f.ex.Snapshot())
				return
			}
			require.NoError(t, err)

			assert.Equal(t, user1, trade.Maker)
			assert.Equal(t, user2, trade.Taker)
			assert.Equal(t, uint64(500), trade.AmountGet.Uint64())
			assert.Equal(t, uint64(500), trade.AmountGive.Uint64())
			assert.Equal(t, uint64(5), trade.Fee.Uint64())
			assert.True(t, f.ex.IsOrderFilled(0))

			ev := f.events.last()
			assert.Equal(t, models.EventTrade, ev.Type)
			assert.Equal(t, user2, ev.User)
			require.NotNil(t, ev.Trade)
			require.NotNil(t, ev.Order)
			assert.Equal(t, models.StatusFilled, ev.Order.Status())
		})
	}
}

func TestExchange_ZeroFee(t *testing.T) {
	f := newFixture(t, 0, false)
	f.deposit(t, user1, tokenA, 100)
	f.deposit(t, user2, tokenB, 100)
	_, err := f.ex.MakeOrder(user1, tokenB, amt(100), tokenA, amt(100))
	require.NoError(t, err)

	trade, err := f.ex.FillOrder(user2, 0, nil)
	require.NoError(t, err)
	assert.True(t, trade.Fee.IsZero())
	assert.Equal(t, uint64(100), f.balance(user1, tokenB))
	assert.Equal(t, uint64(0), f.balance(feeAccount, tokenB))
}

func TestExchange_FeeRoundsDown(t *testing.T) {
	f := newFixture(t, 1, false)
	f.deposit(t, user1, tokenA, 10)
	f.deposit(t, user2, tokenB, 99)
	_, err := f.ex.MakeOrder(user1, tokenB, amt(99), tokenA, amt(10))
	require.NoError(t, err)

	trade, err := f.ex.FillOrder(user2, 0, nil)
	require.NoError(t, err)
	assert.True(t, trade.Fee.IsZero(), "a fee below one unit rounds to zero")
	assert.Equal(t, uint64(99), f.balance(user1, tokenB))
}

func TestExchange_PartialFills(t *testing.T) {
	f := newFixture(t, 1, true)
	f.deposit(t, user1, tokenA, 1000)
	f.deposit(t, user2, tokenB, 1000)
	// 300 B for 1000 A
	_, err := f.ex.MakeOrder(user1, tokenB, amt(300), tokenA, amt(1000))
	require.NoError(t, err)

	trade, err := f.ex.FillOrder(user2, 0, amt(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), trade.AmountGet.Uint64())
	assert.Equal(t, uint64(333), trade.AmountGive.Uint64(), "100*1000/300 rounds down")
	assert.Equal(t, uint64(1), trade.Fee.Uint64())

	o, err := f.ex.Order(0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, o.Status())
	assert.Equal(t, uint64(200), o.RemainingGet().Uint64())
	assert.Equal(t, uint64(667), o.RemainingGive().Uint64())
	assert.Len(t, f.ex.OpenOrders(), 1)

	_, err = f.ex.FillOrder(user2, 0, amt(201))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ex.FillOrder(user2, 0, amt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)

	// the last fill takes exactly what remains of both legs
	trade, err = f.ex.FillOrder(user2, 0, amt(200))
	require.NoError(t, err)
	assert.Equal(t, uint64(667), trade.AmountGive.Uint64())
	assert.True(t, f.ex.IsOrderFilled(0))
	assert.Empty(t, f.ex.OpenOrders())

	assert.Equal(t, uint64(0), f.balance(user1, tokenA))
	assert.Equal(t, uint64(1000), f.balance(user2, tokenA))
	assert.Equal(t, uint64(297), f.balance(user1, tokenB))
	assert.Equal(t, uint64(3), f.balance(feeAccount, tokenB))
	assert.Equal(t, uint64(700), f.balance(user2, tokenB))

	_, err = f.ex.FillOrder(user2, 0, nil)
	assert.ErrorIs(t, err, ErrOrderAlreadyFilled)
}

func TestExchange_PartialFillTooSmall(t *testing.T) {
	f := newFixture(t, 1, true)
	f.deposit(t, user1, tokenA, 1)
	f.deposit(t, user2, tokenB, 1000)
	_, err := f.ex.MakeOrder(user1, tokenB, amt(1000), tokenA, amt(1))
	require.NoError(t, err)

	_, err = f.ex.FillOrder(user2, 0, amt(999))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, uint64(1000), f.balance(user2, tokenB))
}

func TestExchange_PartialFillsDisabled(t *testing.T) {
	f := newFixture(t, 1, false)
	f.deposit(t, user1, tokenA, 1000)
	f.deposit(t, user2, tokenB, 1000)
	_, err := f.ex.MakeOrder(user1, tokenB, amt(300), tokenA, amt(1000))
	require.NoError(t, err)

	_, err = f.ex.FillOrder(user2, 0, amt(100))
	require.ErrorIs(t, err, ErrInvalidAmount)

	// an explicit amount equal to the whole order is a full fill
	_, err = f.ex.FillOrder(user2, 0, amt(300))
	require.NoError(t, err)
	assert.True(t, f.ex.IsOrderFilled(0))
}

func TestExchange_CancelPartiallyFilled(t *testing.T) {
	f := newFixture(t, 1, true)
	f.deposit(t, user1, tokenA, 1000)
	f.deposit(t, user2, tokenB, 1000)
	_, err := f.ex.MakeOrder(user1, tokenB, amt(100), tokenA, amt(100))
	require.NoError(t, err)
	_, err = f.ex.FillOrder(user2, 0, amt(40))
	require.NoError(t, err)

	o, err := f.ex.CancelOrder(user1, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, o.Status())
	assert.Equal(t, uint64(40), o.FilledGet.Uint64())

	_, err = f.ex.FillOrder(user2, 0, amt(10))
	assert.ErrorIs(t, err, ErrOrderAlreadyCancelled)
}

func TestExchange_EventSequenceIsGapless(t *testing.T) {
	f := newFixture(t, 1, false)
	f.deposit(t, user1, tokenA, 1000)
	f.deposit(t, user2, tokenB, 1000)
	_, _ = f.ex.MakeOrder(user1, tokenB, amt(10), tokenA, amt(10))
	_, _ = f.ex.MakeOrder(user1, tokenB, amt(10), tokenA, amt(99999)) // fails
	_, _ = f.ex.FillOrder(user2, 0, nil)
	_, _ = f.ex.CancelOrder(user1, 0) // fails
	_, _ = f.ex.Withdraw(context.Background(), user2, tokenA, amt(10))

	evs := f.events.all()
	require.Len(t, evs, 5)
	want := []models.EventType{models.EventDeposit, models.EventDeposit, models.EventOrder, models.EventTrade, models.EventWithdraw}
	for i, ev := range evs {
		assert.Equal(t, uint64(i), ev.Seq)
		assert.Equal(t, want[i], ev.Type)
	}
}
