package bond

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestClaimLedgerSupplyTracksBalances(t *testing.T) {
	ledger := NewClaimLedger()
	if err := ledger.mint(aliceAddr, uint256.NewInt(70)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.mint(bobAddr, uint256.NewInt(30)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.transfer(aliceAddr, bobAddr, uint256.NewInt(20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.burn(bobAddr, uint256.NewInt(50)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if ledger.Supply().Uint64() != 50 {
		t.Fatalf("expected supply 50, got %s", ledger.Supply())
	}
	holders := ledger.Holders()
	if len(holders) != 1 || holders[0] != aliceAddr {
		t.Fatalf("expected only alice to hold claims, got %v", holders)
	}
	mustErrorIs(t, ledger.burn(bobAddr, uint256.NewInt(1)), ErrInsufficientBalance)
	mustErrorIs(t, ledger.mint([20]byte{}, uint256.NewInt(1)), ErrInvalidParams)
}

func TestClaimLedgerOverflow(t *testing.T) {
	ledger := NewClaimLedger()
	full := new(uint256.Int).SetAllOne()
	if err := ledger.mint(aliceAddr, full); err != nil {
		t.Fatalf("mint: %v", err)
	}
	mustErrorIs(t, ledger.mint(bobAddr, uint256.NewInt(1)), ErrOverflow)
	if !ledger.BalanceOf(bobAddr).IsZero() {
		t.Fatalf("overflowing mint must not credit")
	}
}

func TestClaimLedgerDirtyTracking(t *testing.T) {
	ledger := NewClaimLedger()
	ledger.Load(aliceAddr, uint256.NewInt(10))
	holders, keys := ledger.Dirty()
	if len(holders) != 0 || len(keys) != 0 {
		t.Fatalf("loaded entries must not be dirty")
	}
	if err := ledger.approve(aliceAddr, bobAddr, uint256.NewInt(4)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	clone := ledger.Clone()
	if err := clone.spendAllowance(aliceAddr, bobAddr, uint256.NewInt(4)); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if err := clone.transfer(aliceAddr, bobAddr, uint256.NewInt(4)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ledger.Allowance(aliceAddr, bobAddr).Uint64() != 4 || ledger.BalanceOf(bobAddr).Uint64() != 0 {
		t.Fatalf("clone mutations leaked into the original")
	}
	holders, keys = clone.Dirty()
	if len(holders) != 2 || len(keys) != 1 {
		t.Fatalf("expected 2 dirty holders and 1 allowance, got %v %v", holders, keys)
	}
	clone.ClearDirty()
	holders, keys = clone.Dirty()
	if len(holders) != 0 || len(keys) != 0 {
		t.Fatalf("expected clean ledger after ClearDirty")
	}
}
