package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/core/sqrtprice"
	"dualbond/native/bond"
	"dualbond/storage"
)

type fixedTickPool struct{ tick int64 }

func (p fixedTickPool) Observe(_ context.Context, secondsAgos []uint32) ([]int64, error) {
	return []int64{0, p.tick * int64(secondsAgos[0])}, nil
}

type memBondStore struct{ bonds map[common.Address]*bond.Bond }

func (s *memBondStore) LoadBond(addr common.Address) (*bond.Bond, bool, error) {
	b, ok := s.bonds[addr]
	return b.Clone(), ok, nil
}

func (s *memBondStore) SaveBond(b *bond.Bond) error {
	s.bonds[b.Address] = b.Clone()
	return nil
}

func TestBondSettlesThroughLedger(t *testing.T) {
	ledger, err := NewLedger(storage.NewMemDB(), AssetInfo{Symbol: "USDC", Decimals: 6}, AssetInfo{Symbol: "NHB", Decimals: 18})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	stable, _ := ledger.Asset("USDC")
	registry := bond.NewRegistry()
	issuer, err := NewIssuer(ledger, "NHB", registry)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	pool := common.HexToAddress("0xee")
	engine := bond.NewEngine(bond.Config{
		Store:     &memBondStore{bonds: make(map[common.Address]*bond.Bond)},
		Stable:    stable,
		Authority: issuer,
		Pools: bond.PoolResolverFunc(func(common.Address) (bond.Pool, error) {
			return fixedTickPool{tick: 13_863}, nil // about price 4
		}),
	})
	now := int64(10)
	engine.SetNowFunc(func() int64 { return now })
	// strike at price 2 stable per secondary
	strike, err := sqrtprice.SqrtPriceFromRat(ratTwo())
	if err != nil {
		t.Fatalf("strike: %v", err)
	}
	b, err := engine.Open(bond.Params{
		Symbol:           "DN",
		StableAsset:      "USDC",
		SecondaryAsset:   "NHB",
		StableCap:        uint256.NewInt(1_000_000_000),
		IssuanceDeadline: 100,
		Maturity:         200,
		StrikePrice:      strike,
		Owner:            common.HexToAddress("0x01"),
		PriceOracle:      pool,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := registry.Register(engine); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := ledger.Mint("USDC", alice, uint256.NewInt(10_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve("USDC", alice, b.Address, uint256.NewInt(10_000_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	claims, err := engine.Deposit(context.Background(), alice, uint256.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	custody, _ := ledger.BalanceOf("USDC", b.Address)
	if custody.Uint64() != 10_000_000 {
		t.Fatalf("expected custody 10 USDC, got %s", custody)
	}

	now = 200
	receipt, err := engine.Redeem(context.Background(), alice, claims)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if receipt.Branch != bond.BranchSecondary {
		t.Fatalf("expected secondary payout, got %s", receipt.Branch)
	}
	minted, _ := ledger.BalanceOf("NHB", alice)
	// 10_000_000 stable base units at a strike of 2 buy about half as many secondary units
	if minted.IsZero() || !minted.Eq(receipt.SecondaryMinted) {
		t.Fatalf("expected minted balance %s, got %s", receipt.SecondaryMinted, minted)
	}
	want := uint256.NewInt(5_000_000)
	diff := new(uint256.Int)
	if minted.Gt(want) {
		diff.Sub(minted, want)
	} else {
		diff.Sub(want, minted)
	}
	if diff.Uint64() > 1 {
		t.Fatalf("expected about %s secondary, got %s", want, minted)
	}
}

func ratTwo() *big.Rat { return big.NewRat(2, 1) }

func openDAIBond(t *testing.T, decimals *uint8) (*Ledger, *bond.Engine, *bond.Bond, error) {
	t.Helper()
	ledger, err := NewLedger(storage.NewMemDB(), AssetInfo{Symbol: "DAI", Decimals: 18}, AssetInfo{Symbol: "NHB", Decimals: 18})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	stable, _ := ledger.Asset("DAI")
	registry := bond.NewRegistry()
	issuer, err := NewIssuer(ledger, "NHB", registry)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	engine := bond.NewEngine(bond.Config{
		Store:     &memBondStore{bonds: make(map[common.Address]*bond.Bond)},
		Stable:    stable,
		Authority: issuer,
		Pools: bond.PoolResolverFunc(func(common.Address) (bond.Pool, error) {
			return fixedTickPool{}, nil
		}),
	})
	engine.SetNowFunc(func() int64 { return 10 })
	stableCap := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1_000_000_000_000_000_000))
	b, err := engine.Open(bond.Params{
		Symbol:           "DND",
		StableAsset:      "DAI",
		StableDecimals:   decimals,
		SecondaryAsset:   "NHB",
		StableCap:        stableCap,
		IssuanceDeadline: 100,
		Maturity:         200,
		StrikePrice:      new(uint256.Int).Set(sqrtprice.Q96),
		Owner:            common.HexToAddress("0x01"),
		PriceOracle:      common.HexToAddress("0xee"),
	})
	return ledger, engine, b, err
}

func TestBondTakesStableScaleFromLedgerAsset(t *testing.T) {
	ledger, engine, b, err := openDAIBond(t, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b.Params.StableScale() != 18 {
		t.Fatalf("expected 18 stable decimals, got %d", b.Params.StableScale())
	}
	oneDAI := uint256.NewInt(1_000_000_000_000_000_000)
	if err := ledger.Mint("DAI", alice, oneDAI); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve("DAI", alice, b.Address, oneDAI); err != nil {
		t.Fatalf("approve: %v", err)
	}
	claims, err := engine.Deposit(context.Background(), alice, oneDAI)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !claims.Eq(oneDAI) {
		t.Fatalf("expected one claim token per DAI, got %s", claims)
	}

	if _, _, _, err := openDAIBond(t, bond.Uint8(6)); !errors.Is(err, bond.ErrInvalidParams) {
		t.Fatalf("expected mismatched decimals to be rejected, got %v", err)
	}
	if _, _, b, err := openDAIBond(t, bond.Uint8(18)); err != nil || b.Params.StableScale() != 18 {
		t.Fatalf("expected matching decimals to open, got %v", err)
	}
}

func TestBondCustodyCannotDepositIntoItself(t *testing.T) {
	ledger, engine, b, err := openDAIBond(t, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	amount := uint256.NewInt(1_000_000)
	if err := ledger.Mint("DAI", alice, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve("DAI", alice, b.Address, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Deposit(context.Background(), alice, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.Approve("DAI", b.Address, b.Address, amount); err != nil {
		t.Fatalf("approve self: %v", err)
	}
	if _, err := engine.Deposit(context.Background(), b.Address, amount); !errors.Is(err, bond.ErrInvalidParams) {
		t.Fatalf("expected custody deposit to be rejected, got %v", err)
	}
	snap, _ := engine.Snapshot()
	custody, _ := ledger.BalanceOf("DAI", b.Address)
	if !snap.TotalStableDeposited.Eq(custody) || custody.Uint64() != 1_000_000 {
		t.Fatalf("expected deposits to match custody, got deposited=%s custody=%s", snap.TotalStableDeposited, custody)
	}
	if !snap.Claims.Supply().Eq(custody) {
		t.Fatalf("expected claim supply %s, got %s", custody, snap.Claims.Supply())
	}
}
