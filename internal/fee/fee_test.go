package fee

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestCompute(t *testing.T) {
	max := new(uint256.Int).SetAllOne()

	tests := []struct {
		name    string
		amount  *uint256.Int
		percent uint64
		want    *uint256.Int
	}{
		{name: "OnePercentOfThousand", amount: uint256.NewInt(1000), percent: 1, want: uint256.NewInt(10)},
		{name: "RoundsDown", amount: uint256.NewInt(199), percent: 1, want: uint256.NewInt(1)},
		{name: "BelowOneUnit", amount: uint256.NewInt(99), percent: 1, want: uint256.NewInt(0)},
		{name: "ZeroPercent", amount: uint256.NewInt(1000), percent: 0, want: uint256.NewInt(0)},
		{name: "FullPercent", amount: uint256.NewInt(1000), percent: 100, want: uint256.NewInt(1000)},
		{name: "MaxAmountNoOverflow", amount: max, percent: 100, want: max},
		{name: "MaxAmountHalf", amount: max, percent: 50, want: new(uint256.Int).Rsh(max, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.amount, tt.percent)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Eq(tt.want) {
				t.Errorf("expected %s, got %s", tt.want.Dec(), got.Dec())
			}
		})
	}
}

func TestCompute_InvalidPercent(t *testing.T) {
	_, err := Compute(uint256.NewInt(1000), 101)
	if !errors.Is(err, ErrInvalidPercent) {
		t.Errorf("expected ErrInvalidPercent, got %v", err)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a, _ := Compute(uint256.NewInt(123456789), 3)
	b, _ := Compute(uint256.NewInt(123456789), 3)
	if !a.Eq(b) {
		t.Errorf("fee not deterministic: %s vs %s", a.Dec(), b.Dec())
	}
}
