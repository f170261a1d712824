package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestBondRedeemedEventAttributes(t *testing.T) {
	bond := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	holder := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	evt := BondRedeemed{
		Bond:         bond,
		Holder:       holder,
		ClaimsBurned: uint256.NewInt(1_000_000_000_000_000),
		Branch:       "stable",
		StablePaid:   uint256.NewInt(1000),
	}.Event()
	if evt.Type != TypeBondRedeemed {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attr("holder") != holder.Hex() {
		t.Fatalf("unexpected holder %s", evt.Attr("holder"))
	}
	if evt.Attr("stablePaid") != "1000" {
		t.Fatalf("unexpected stable paid %s", evt.Attr("stablePaid"))
	}
	if evt.Attr("secondaryMinted") != "0" {
		t.Fatalf("nil amounts should render as zero, got %s", evt.Attr("secondaryMinted"))
	}
}

func TestFanoutAndRecorder(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	fan := Fanout{first, nil, second}
	fan.Emit(BondOracleSet{})
	fan.Emit(BondRescued{Asset: " usdc "})
	if len(first.Events) != 2 || len(second.Events) != 2 {
		t.Fatalf("expected both recorders to receive events")
	}
	rescued := second.OfType(TypeBondRescued)
	if len(rescued) != 1 {
		t.Fatalf("expected one rescue event, got %d", len(rescued))
	}
	if got := rescued[0].(BondRescued).Event().Attributes["asset"]; got != "USDC" {
		t.Fatalf("asset not normalised: %q", got)
	}
}
