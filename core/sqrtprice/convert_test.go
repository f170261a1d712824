package sqrtprice

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func referenceConvert(amount, sqrtPrice *uint256.Int) *big.Int {
	num := new(big.Int).Lsh(amount.ToBig(), 192)
	den := new(big.Int).Mul(sqrtPrice.ToBig(), sqrtPrice.ToBig())
	return num.Quo(num, den)
}

func TestConvertZeroAmount(t *testing.T) {
	for _, price := range []*uint256.Int{MinSqrtRatio, Q96, MaxSqrtRatio} {
		got, err := Convert(uint256.NewInt(0), price)
		if err != nil {
			t.Fatalf("convert zero: %v", err)
		}
		if !got.IsZero() {
			t.Fatalf("expected zero, got %s", got)
		}
	}
}

func TestConvertRejectsInvalidPrice(t *testing.T) {
	tooWide := new(uint256.Int).Lsh(uint256.NewInt(1), 160)
	for _, price := range []*uint256.Int{nil, uint256.NewInt(0), tooWide} {
		if _, err := Convert(uint256.NewInt(1000), price); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("expected ErrInvalidPrice for %v, got %v", price, err)
		}
	}
}

func TestConvertUnitPrice(t *testing.T) {
	got, err := Convert(uint256.NewInt(1000), Q96)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Uint64() != 1000 {
		t.Fatalf("expected 1000 at unit price, got %s", got)
	}

	// price 4 stable per secondary: 1000 stable buys 250 secondary.
	double := new(uint256.Int).Lsh(Q96, 1)
	got, err = Convert(uint256.NewInt(1000), double)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Uint64() != 250 {
		t.Fatalf("expected 250 at price 4, got %s", got)
	}
}

func TestConvertMatchesWideReference(t *testing.T) {
	amounts := []*uint256.Int{
		uint256.NewInt(1),
		uint256.NewInt(999),
		uint256.NewInt(1_000_000_000),
		uint256.MustFromDecimal("123456789012345678901234567890"),
	}
	prices := []*uint256.Int{
		MinSqrtRatio,
		uint256.NewInt(1 << 40),
		Q96,
		uint256.MustFromDecimal("1771595571142957166518320255467520"),
		new(uint256.Int).Lsh(uint256.NewInt(3), 130),
		MaxSqrtRatio,
	}
	for _, amount := range amounts {
		for _, price := range prices {
			got, err := Convert(amount, price)
			want := referenceConvert(amount, price)
			if want.BitLen() > 256 {
				if !errors.Is(err, ErrOverflow) {
					t.Fatalf("expected overflow for %s @ %s, got %v", amount, price, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("convert %s @ %s: %v", amount, price, err)
			}
			if got.ToBig().Cmp(want) != 0 {
				t.Fatalf("convert %s @ %s = %s, want %s", amount, price, got, want)
			}
		}
	}
}

func TestConvertOverflow(t *testing.T) {
	huge := new(uint256.Int).SetAllOne()
	if _, err := Convert(huge, MinSqrtRatio); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestConvertMonotonicInAmount(t *testing.T) {
	price := uint256.MustFromDecimal("1771595571142957166518320255467520")
	prev := new(uint256.Int)
	for i := uint64(0); i < 2000; i += 7 {
		got, err := Convert(uint256.NewInt(i*1_000_003), price)
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
		if got.Lt(prev) {
			t.Fatalf("not monotonic at %d: %s < %s", i, got, prev)
		}
		prev = got
	}
}

func TestConvertNonIncreasingInPrice(t *testing.T) {
	amount := uint256.NewInt(1_000_000_000)
	var prev *uint256.Int
	for tick := int32(-200_000); tick <= 200_000; tick += 9_973 {
		price, err := SqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		got, err := Convert(amount, price)
		if err != nil {
			t.Fatalf("convert at tick %d: %v", tick, err)
		}
		if prev != nil && got.Gt(prev) {
			t.Fatalf("conversion increased with price at tick %d", tick)
		}
		prev = got
	}
}

func TestValidateSqrtPrice(t *testing.T) {
	if err := ValidateSqrtPrice(Q96); err != nil {
		t.Fatalf("unit price rejected: %v", err)
	}
	below := new(uint256.Int).SubUint64(MinSqrtRatio, 1)
	above := new(uint256.Int).AddUint64(MaxSqrtRatio, 1)
	for _, price := range []*uint256.Int{nil, new(uint256.Int), below, above} {
		if err := ValidateSqrtPrice(price); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("expected ErrInvalidPrice for %v, got %v", price, err)
		}
	}
}
