// Package fee computes the exchange's cut of a fill.
package fee

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// MaxPercent is the largest accepted fee percentage
const MaxPercent = 100

var (
	// ErrInvalidPercent is returned for percentages above MaxPercent
	ErrInvalidPercent = errors.New("fee percent out of range")

	hundred = uint256.NewInt(100)
)

// Compute returns floor(amount * percent / 100). The product is formed at
// 512-bit width, so no input can overflow; only the percentage is checked.
func Compute(amount *uint256.Int, percent uint64) (*uint256.Int, error) {
	if percent > MaxPercent {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPercent, percent)
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(percent), hundred)
	if overflow {
		// unreachable while percent <= 100
		return nil, fmt.Errorf("fee of %s at %d%% overflows", amount.Dec(), percent)
	}
	return fee, nil
}
