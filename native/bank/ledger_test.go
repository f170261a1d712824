package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/native/bond"
	"dualbond/storage"
)

var (
	alice   = common.HexToAddress("0xa1")
	bob     = common.HexToAddress("0xb0")
	spender = common.HexToAddress("0x5e")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(storage.NewMemDB(), AssetInfo{Symbol: "usdc", Decimals: 6}, AssetInfo{Symbol: "NHB", Decimals: 18})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func TestLedgerMintAndTransfer(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Mint("USDC", alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer("usdc", alice, bob, uint256.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.BalanceOf("USDC", alice)
	bobBal, _ := ledger.BalanceOf("USDC", bob)
	supply, _ := ledger.Supply("USDC")
	if aliceBal.Uint64() != 70 || bobBal.Uint64() != 30 || supply.Uint64() != 100 {
		t.Fatalf("unexpected balances alice=%s bob=%s supply=%s", aliceBal, bobBal, supply)
	}
	err := ledger.Transfer("USDC", bob, alice, uint256.NewInt(31))
	if !errors.Is(err, ErrInsufficientFunds) || !errors.Is(err, bond.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := ledger.BalanceOf("DAI", alice); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected unknown asset, got %v", err)
	}
}

func TestLedgerTransferFromConsumesAllowance(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Mint("USDC", alice, uint256.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom("USDC", spender, alice, bob, uint256.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if err := ledger.Approve("USDC", alice, spender, uint256.NewInt(20)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom("USDC", spender, alice, bob, uint256.NewInt(15)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := ledger.Allowance("USDC", alice, spender)
	if remaining.Uint64() != 5 {
		t.Fatalf("expected allowance 5, got %s", remaining)
	}
	bobBal, _ := ledger.BalanceOf("USDC", bob)
	if bobBal.Uint64() != 15 {
		t.Fatalf("expected bob 15, got %s", bobBal)
	}
}

type staticRegistry map[common.Address]bool

func (r staticRegistry) IsBond(addr common.Address) bool { return r[addr] }

func TestIssuerOnlyMintsForRegisteredBonds(t *testing.T) {
	ledger := newTestLedger(t)
	bondAddr := common.HexToAddress("0xb0b0")
	issuer, err := NewIssuer(ledger, "nhb", staticRegistry{bondAddr: true})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	ctx := context.Background()
	if err := issuer.MintOnRedemption(ctx, alice, uint256.NewInt(5), alice); !errors.Is(err, bond.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := issuer.MintOnRedemption(ctx, bondAddr, uint256.NewInt(5), alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	bal, _ := ledger.BalanceOf("NHB", alice)
	if bal.Uint64() != 5 {
		t.Fatalf("expected minted balance 5, got %s", bal)
	}
}

func TestAssetHandleRespectsContext(t *testing.T) {
	ledger := newTestLedger(t)
	asset, err := ledger.Asset("usdc")
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if asset.Symbol() != "USDC" {
		t.Fatalf("expected normalised symbol, got %s", asset.Symbol())
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := asset.Transfer(ctx, alice, bob, uint256.NewInt(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled context, got %v", err)
	}
}

func TestAssetReportsDecimalsAndRefundsAllowance(t *testing.T) {
	ledger := newTestLedger(t)
	usdcAsset, _ := ledger.Asset("USDC")
	nhbAsset, _ := ledger.Asset("NHB")
	if usdcAsset.Decimals() != 6 || nhbAsset.Decimals() != 18 {
		t.Fatalf("unexpected decimals usdc=%d nhb=%d", usdcAsset.Decimals(), nhbAsset.Decimals())
	}
	if err := ledger.Approve("USDC", alice, spender, uint256.NewInt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := usdcAsset.RefundAllowance(context.Background(), alice, spender, uint256.NewInt(7)); err != nil {
		t.Fatalf("refund allowance: %v", err)
	}
	allowance, _ := ledger.Allowance("USDC", alice, spender)
	if allowance.Uint64() != 12 {
		t.Fatalf("expected allowance 12, got %s", allowance)
	}
	if err := ledger.IncreaseAllowance("USDC", alice, common.Address{}, uint256.NewInt(1)); err == nil {
		t.Fatalf("expected zero spender to be rejected")
	}
	huge := new(uint256.Int).SetAllOne()
	if err := ledger.IncreaseAllowance("USDC", alice, spender, huge); !errors.Is(err, bond.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
