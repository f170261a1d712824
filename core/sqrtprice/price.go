package sqrtprice

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var q192Big = new(big.Int).Lsh(big.NewInt(1), 192)

// ParsePrice parses a positive ratio of stable base units per secondary base
// unit. Both decimal ("0.000000003") and fractional ("3/1000000000") forms are
// accepted.
func ParsePrice(raw string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("sqrtprice: price required")
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("sqrtprice: invalid price %q", raw)
	}
	if r.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return r, nil
}

// SqrtPriceFromRat returns floor(sqrt(price * 2^192)) and checks the result is
// inside the tick range.
func SqrtPriceFromRat(price *big.Rat) (*uint256.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	scaled := new(big.Int).Mul(price.Num(), q192Big)
	scaled.Quo(scaled, price.Denom())
	root := new(big.Int).Sqrt(scaled)
	out, overflow := uint256.FromBig(root)
	if overflow {
		return nil, ErrInvalidPrice
	}
	if err := ValidateSqrtPrice(out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodePriceSqrt derives the sqrt price at which secondaryReserve secondary
// units trade for stableReserve stable units.
func EncodePriceSqrt(stableReserve, secondaryReserve *big.Int) (*uint256.Int, error) {
	if stableReserve == nil || secondaryReserve == nil || stableReserve.Sign() <= 0 || secondaryReserve.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return SqrtPriceFromRat(new(big.Rat).SetFrac(stableReserve, secondaryReserve))
}

// PriceString renders the price encoded by sqrtPrice with the supplied number of
// decimal places.
func PriceString(sqrtPrice *uint256.Int, precision int) string {
	if sqrtPrice == nil {
		return ""
	}
	sq := new(big.Int).Mul(sqrtPrice.ToBig(), sqrtPrice.ToBig())
	return new(big.Rat).SetFrac(sq, q192Big).FloatString(precision)
}
