package sqrtprice

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// StableDecimals is the default decimal scale of the stable collateral.
	StableDecimals uint8 = 6
	// ClaimDecimals is the fixed decimal scale of bond claim tokens.
	ClaimDecimals uint8 = 18
)

// ClaimScale returns 10^(ClaimDecimals - stableDecimals), the number of claim
// base units minted per stable base unit.
func ClaimScale(stableDecimals uint8) (*uint256.Int, error) {
	if stableDecimals > ClaimDecimals {
		return nil, fmt.Errorf("sqrtprice: stable decimals %d exceed claim decimals %d", stableDecimals, ClaimDecimals)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(ClaimDecimals-stableDecimals))), nil
}

// ToClaims scales a stable amount up to claim units.
func ToClaims(stable, scale *uint256.Int) (*uint256.Int, error) {
	if stable == nil {
		return new(uint256.Int), nil
	}
	out, overflow := new(uint256.Int).MulOverflow(stable, scale)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ToStable scales claim units down to stable units. The remainder below one
// stable unit is returned as dust and is not representable in the stable
// asset.
func ToStable(claims, scale *uint256.Int) (stable, dust *uint256.Int) {
	stable, dust = new(uint256.Int), new(uint256.Int)
	if claims == nil || scale == nil || scale.IsZero() {
		return stable, dust
	}
	stable.DivMod(claims, scale, dust)
	return stable, dust
}
