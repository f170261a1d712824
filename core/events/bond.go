package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/core/types"
)

const (
	// TypeBondDeposited is emitted when stable collateral is accepted and
	// claims are minted.
	TypeBondDeposited = "bond.deposited"
	// TypeBondPriceLocked is emitted exactly once per bond when the
	// settlement price is fixed.
	TypeBondPriceLocked = "bond.price_locked"
	// TypeBondRedeemed is emitted for every successful redemption.
	TypeBondRedeemed = "bond.redeemed"
	// TypeBondRescued is emitted when the owner withdraws assets from custody.
	TypeBondRescued = "bond.rescued"
	// TypeBondOracleSet is emitted when the owner points the bond at a pool.
	TypeBondOracleSet = "bond.oracle_set"
	// TypeBondClaimsTransferred is emitted for holder-to-holder claim moves.
	TypeBondClaimsTransferred = "bond.claims_transferred"
	// TypeBondClaimsApproved is emitted when a holder sets a claim allowance.
	TypeBondClaimsApproved = "bond.claims_approved"
)

// BondEvent is implemented by every bond lifecycle event so sinks can key
// records by bond address.
type BondEvent interface {
	Event
	BondAddress() common.Address
	Event() *types.Event
}

type BondDeposited struct {
	Bond           common.Address
	Depositor      common.Address
	StableAmount   *uint256.Int
	ClaimsMinted   *uint256.Int
	TotalDeposited *uint256.Int
}

func (BondDeposited) EventType() string { return TypeBondDeposited }

func (e BondDeposited) BondAddress() common.Address { return e.Bond }

func (e BondDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeBondDeposited,
		Attributes: map[string]string{
			"bond":           e.Bond.Hex(),
			"depositor":      e.Depositor.Hex(),
			"stableAmount":   amountString(e.StableAmount),
			"claimsMinted":   amountString(e.ClaimsMinted),
			"totalDeposited": amountString(e.TotalDeposited),
		},
	}
}

type BondPriceLocked struct {
	Bond            common.Address
	SettlementPrice *uint256.Int
	StrikePrice     *uint256.Int
	WindowSeconds   uint32
	LockedAt        int64
}

func (BondPriceLocked) EventType() string { return TypeBondPriceLocked }

func (e BondPriceLocked) BondAddress() common.Address { return e.Bond }

func (e BondPriceLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeBondPriceLocked,
		Attributes: map[string]string{
			"bond":            e.Bond.Hex(),
			"settlementPrice": amountString(e.SettlementPrice),
			"strikePrice":     amountString(e.StrikePrice),
			"windowSeconds":   strconv.FormatUint(uint64(e.WindowSeconds), 10),
			"lockedAt":        strconv.FormatInt(e.LockedAt, 10),
		},
	}
}

type BondRedeemed struct {
	Bond            common.Address
	Holder          common.Address
	ClaimsBurned    *uint256.Int
	Branch          string
	StablePaid      *uint256.Int
	SecondaryMinted *uint256.Int
	Dust            *uint256.Int
}

func (BondRedeemed) EventType() string { return TypeBondRedeemed }

func (e BondRedeemed) BondAddress() common.Address { return e.Bond }

func (e BondRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeBondRedeemed,
		Attributes: map[string]string{
			"bond":            e.Bond.Hex(),
			"holder":          e.Holder.Hex(),
			"claimsBurned":    amountString(e.ClaimsBurned),
			"branch":          e.Branch,
			"stablePaid":      amountString(e.StablePaid),
			"secondaryMinted": amountString(e.SecondaryMinted),
			"dust":            amountString(e.Dust),
		},
	}
}

type BondRescued struct {
	Bond   common.Address
	Asset  string
	To     common.Address
	Amount *uint256.Int
}

func (BondRescued) EventType() string { return TypeBondRescued }

func (e BondRescued) BondAddress() common.Address { return e.Bond }

func (e BondRescued) Event() *types.Event {
	return &types.Event{
		Type: TypeBondRescued,
		Attributes: map[string]string{
			"bond":   e.Bond.Hex(),
			"asset":  normalizeAsset(e.Asset),
			"to":     e.To.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

type BondOracleSet struct {
	Bond common.Address
	Pool common.Address
}

func (BondOracleSet) EventType() string { return TypeBondOracleSet }

func (e BondOracleSet) BondAddress() common.Address { return e.Bond }

func (e BondOracleSet) Event() *types.Event {
	return &types.Event{
		Type: TypeBondOracleSet,
		Attributes: map[string]string{
			"bond": e.Bond.Hex(),
			"pool": e.Pool.Hex(),
		},
	}
}

type BondClaimsTransferred struct {
	Bond   common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (BondClaimsTransferred) EventType() string { return TypeBondClaimsTransferred }

func (e BondClaimsTransferred) BondAddress() common.Address { return e.Bond }

func (e BondClaimsTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeBondClaimsTransferred,
		Attributes: map[string]string{
			"bond":   e.Bond.Hex(),
			"from":   e.From.Hex(),
			"to":     e.To.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

type BondClaimsApproved struct {
	Bond    common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (BondClaimsApproved) EventType() string { return TypeBondClaimsApproved }

func (e BondClaimsApproved) BondAddress() common.Address { return e.Bond }

func (e BondClaimsApproved) Event() *types.Event {
	return &types.Event{
		Type: TypeBondClaimsApproved,
		Attributes: map[string]string{
			"bond":    e.Bond.Hex(),
			"owner":   e.Owner.Hex(),
			"spender": e.Spender.Hex(),
			"amount":  amountString(e.Amount),
		},
	}
}

// normalizeAsset upper-cases asset symbols so journal rows match ledger keys.
func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
