// Package sqrtprice implements the Q64.96 square-root price arithmetic used to
// settle dual-currency bonds. A sqrt price encodes price = sqrtPrice² / 2^192
// where price is quoted in stable base units per secondary base unit.
package sqrtprice

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrInvalidPrice is returned for zero or out-of-range sqrt prices.
	ErrInvalidPrice = errors.New("sqrtprice: invalid sqrt price")
	// ErrOverflow is returned when a conversion result does not fit in 256 bits.
	ErrOverflow = errors.New("sqrtprice: arithmetic overflow")
)

var (
	// Q96 is the fixed-point denominator of a sqrt price (2^96).
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	// Q192 is the denominator of the squared sqrt price (2^192).
	Q192 = new(uint256.Int).Lsh(uint256.NewInt(1), 192)
)

// maxSqrtBits bounds sqrt prices to the uint160 range pools report.
const maxSqrtBits = 160

// Convert returns floor((stableAmount << 192) / sqrtPrice²), the number of
// secondary base units worth stableAmount at the given sqrt price.
//
// The squared price is never materialised: floor(floor(a/b)/c) equals
// floor(a/(b*c)) for positive integers, so dividing twice by sqrtPrice keeps
// the intermediate within a 512-bit mul-div.
func Convert(stableAmount, sqrtPrice *uint256.Int) (*uint256.Int, error) {
	if sqrtPrice == nil || sqrtPrice.IsZero() || sqrtPrice.BitLen() > maxSqrtBits {
		return nil, ErrInvalidPrice
	}
	if stableAmount == nil || stableAmount.IsZero() {
		return new(uint256.Int), nil
	}
	step, overflow := new(uint256.Int).MulDivOverflow(stableAmount, Q192, sqrtPrice)
	if overflow {
		return convertWide(stableAmount, sqrtPrice)
	}
	return step.Div(step, sqrtPrice), nil
}

// convertWide handles amounts whose first quotient exceeds 256 bits while the
// final result may still fit.
func convertWide(stableAmount, sqrtPrice *uint256.Int) (*uint256.Int, error) {
	num := new(big.Int).Lsh(stableAmount.ToBig(), 192)
	den := sqrtPrice.ToBig()
	den.Mul(den, den)
	out, overflow := uint256.FromBig(num.Quo(num, den))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ValidateSqrtPrice reports whether price lies in [MinSqrtRatio, MaxSqrtRatio],
// the range reachable through tick math.
func ValidateSqrtPrice(price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	if price.Lt(MinSqrtRatio) || price.Gt(MaxSqrtRatio) {
		return ErrInvalidPrice
	}
	return nil
}
