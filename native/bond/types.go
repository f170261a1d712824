package bond

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"dualbond/core/sqrtprice"
)

// Params captures the deployment-time parameters of a bond program. All fields
// are immutable once the bond is created; PriceOracle is only the initial pool
// and may be replaced by the owner before maturity.
//
// StableDecimals is nil until resolved. Open takes it from the stable asset
// when the asset reports its decimals and rejects an explicit value that
// disagrees.
//
// The pool price is read as stable per secondary (token1 per token0 with the
// secondary asset as token0). InvertPrice reads pools where the stable asset
// is token0.
type Params struct {
	Name             string
	Symbol           string
	Decimals         uint8
	StableDecimals   *uint8
	InvertPrice      bool
	StableAsset      string
	SecondaryAsset   string
	StableCap        *uint256.Int
	IssuanceDeadline int64
	Maturity         int64
	StrikePrice      *uint256.Int
	Owner            common.Address
	PriceOracle      common.Address
	Salt             [32]byte
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.StableCap = cloneInt(p.StableCap)
	clone.StrikePrice = cloneInt(p.StrikePrice)
	if p.StableDecimals != nil {
		decimals := *p.StableDecimals
		clone.StableDecimals = &decimals
	}
	return clone
}

// StableScale returns the stable asset decimals, defaulting to
// sqrtprice.StableDecimals while unresolved.
func (p Params) StableScale() uint8 {
	if p.StableDecimals == nil {
		return sqrtprice.StableDecimals
	}
	return *p.StableDecimals
}

// Uint8 returns a pointer to v, for optional decimals.
func Uint8(v uint8) *uint8 { return &v }

// Validate checks the parameters for internal consistency. The issuance
// deadline must not be later than maturity and the strike must be reachable
// through tick math.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidParams)
	}
	if p.Decimals != 0 && p.Decimals != sqrtprice.ClaimDecimals {
		return fmt.Errorf("%w: claim decimals fixed at %d", ErrInvalidParams, sqrtprice.ClaimDecimals)
	}
	if p.StableScale() > sqrtprice.ClaimDecimals {
		return fmt.Errorf("%w: stable decimals %d exceed claim decimals", ErrInvalidParams, p.StableScale())
	}
	if strings.TrimSpace(p.StableAsset) == "" || strings.TrimSpace(p.SecondaryAsset) == "" {
		return fmt.Errorf("%w: stable and secondary assets required", ErrInvalidParams)
	}
	if strings.EqualFold(strings.TrimSpace(p.StableAsset), strings.TrimSpace(p.SecondaryAsset)) {
		return fmt.Errorf("%w: stable and secondary assets must differ", ErrInvalidParams)
	}
	if p.StableCap == nil || p.StableCap.IsZero() {
		return fmt.Errorf("%w: stable cap must be positive", ErrInvalidParams)
	}
	if p.IssuanceDeadline <= 0 || p.Maturity <= 0 {
		return fmt.Errorf("%w: deadline and maturity required", ErrInvalidParams)
	}
	if p.IssuanceDeadline > p.Maturity {
		return ErrInvalidSchedule
	}
	if err := sqrtprice.ValidateSqrtPrice(p.StrikePrice); err != nil {
		return fmt.Errorf("strike: %w", err)
	}
	if p.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner required", ErrInvalidParams)
	}
	return nil
}

// Normalize fills display defaults and canonical asset casing.
func (p Params) Normalize() Params {
	out := p.Clone()
	out.Name = strings.TrimSpace(out.Name)
	out.Symbol = strings.TrimSpace(out.Symbol)
	out.StableAsset = strings.ToUpper(strings.TrimSpace(out.StableAsset))
	out.SecondaryAsset = strings.ToUpper(strings.TrimSpace(out.SecondaryAsset))
	if out.Decimals == 0 {
		out.Decimals = sqrtprice.ClaimDecimals
	}
	return out
}

// DeriveAddress returns the deterministic custody address of a bond program:
// the last 20 bytes of keccak256(owner, symbol, maturity, salt).
func DeriveAddress(p Params) common.Address {
	var maturity [8]byte
	binary.BigEndian.PutUint64(maturity[:], uint64(p.Maturity))
	hash := ethcrypto.Keccak256(p.Owner[:], []byte(strings.TrimSpace(p.Symbol)), maturity[:], p.Salt[:])
	return common.BytesToAddress(hash[12:])
}

// Phase enumerates the lifecycle of a bond.
type Phase uint8

const (
	PhaseIssuing Phase = iota
	PhaseMaturedUnpriced
	PhaseMaturedPriced
)

func (p Phase) String() string {
	switch p {
	case PhaseIssuing:
		return "issuing"
	case PhaseMaturedUnpriced:
		return "matured_unpriced"
	case PhaseMaturedPriced:
		return "matured_priced"
	default:
		return "unknown"
	}
}

// Settlement is either unset or locked to a single sqrt price. The zero value
// is unset.
type Settlement struct {
	price    *uint256.Int
	lockedAt int64
	window   uint32
}

// Unset returns the unlocked settlement.
func Unset() Settlement { return Settlement{} }

// Locked returns a settlement fixed at price.
func Locked(price *uint256.Int, lockedAt int64, windowSeconds uint32) Settlement {
	if price == nil {
		return Settlement{}
	}
	return Settlement{price: cloneInt(price), lockedAt: lockedAt, window: windowSeconds}
}

// IsLocked reports whether the settlement price has been fixed.
func (s Settlement) IsLocked() bool { return s.price != nil }

// Price returns a copy of the locked price, or nil when unset.
func (s Settlement) Price() *uint256.Int {
	if s.price == nil {
		return nil
	}
	return new(uint256.Int).Set(s.price)
}

// LockedAt returns the unix time the price was locked.
func (s Settlement) LockedAt() int64 { return s.lockedAt }

// WindowSeconds returns the TWAP window the locked price was observed over.
func (s Settlement) WindowSeconds() uint32 { return s.window }

// Branch identifies which asset a redemption paid out.
type Branch string

const (
	BranchStable    Branch = "stable"
	BranchSecondary Branch = "secondary"
)

// Bond is the persisted ledger of one bond program.
type Bond struct {
	Address              common.Address
	Params               Params
	PriceOracle          common.Address
	TotalStableDeposited *uint256.Int
	Settlement           Settlement
	Claims               *ClaimLedger
	CreatedAt            int64
}

// Clone returns a deep copy of the bond so callers can stage mutations.
func (b *Bond) Clone() *Bond {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Params = b.Params.Clone()
	clone.TotalStableDeposited = cloneInt(b.TotalStableDeposited)
	clone.Settlement = Locked(b.Settlement.price, b.Settlement.lockedAt, b.Settlement.window)
	clone.Claims = b.Claims.Clone()
	return &clone
}

// Phase reports the lifecycle phase at the supplied unix time.
func (b *Bond) Phase(now int64) Phase {
	if b == nil || now < b.Params.Maturity {
		return PhaseIssuing
	}
	if b.Settlement.IsLocked() {
		return PhaseMaturedPriced
	}
	return PhaseMaturedUnpriced
}

// Redemption is the receipt of a successful redemption.
type Redemption struct {
	Holder           common.Address
	ClaimsBurned     *uint256.Int
	StableEquivalent *uint256.Int
	Dust             *uint256.Int
	Branch           Branch
	StablePaid       *uint256.Int
	SecondaryMinted  *uint256.Int
	SettlementPrice  *uint256.Int
	Finalized        bool
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
