package bonds

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"dualbond/core/sqrtprice"
	"dualbond/native/bond"
	"dualbond/storage"
)

func sampleBond() *bond.Bond {
	params := bond.Params{
		Name:             "Dual Note",
		Symbol:           "DN",
		StableAsset:      "USDC",
		SecondaryAsset:   "NHB",
		StableCap:        uint256.NewInt(5_000_000),
		IssuanceDeadline: 100,
		Maturity:         200,
		StrikePrice:      new(uint256.Int).Set(sqrtprice.Q96),
		Owner:            common.HexToAddress("0x01"),
		PriceOracle:      common.HexToAddress("0xee"),
		Salt:             [32]byte{7},
	}.Normalize()
	return &bond.Bond{
		Address:              bond.DeriveAddress(params),
		Params:               params,
		PriceOracle:          params.PriceOracle,
		TotalStableDeposited: uint256.NewInt(3),
		Settlement:           bond.Locked(sqrtprice.Q96, 250, 1800),
		Claims:               bond.NewClaimLedger(),
		CreatedAt:            42,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	b := sampleBond()
	b.Claims.Load(common.HexToAddress("0xa1"), uint256.NewInt(10))
	b.Claims.Load(common.HexToAddress("0xb0"), uint256.NewInt(5))
	b.Claims.LoadAllowance(bond.AllowanceKey{Owner: common.HexToAddress("0xa1"), Spender: common.HexToAddress("0xb0")}, uint256.NewInt(2))
	b.Claims.MarkDirty(
		[]common.Address{common.HexToAddress("0xa1"), common.HexToAddress("0xb0")},
		[]bond.AllowanceKey{{Owner: common.HexToAddress("0xa1"), Spender: common.HexToAddress("0xb0")}},
	)
	require.NoError(t, store.SaveBond(b))

	loaded, ok, err := store.LoadBond(b.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.Params.Symbol, loaded.Params.Symbol)
	require.True(t, loaded.Params.StrikePrice.Eq(sqrtprice.Q96))
	require.True(t, loaded.Settlement.IsLocked())
	require.Equal(t, int64(250), loaded.Settlement.LockedAt())
	require.Equal(t, uint32(1800), loaded.Settlement.WindowSeconds())
	require.Equal(t, uint64(15), loaded.Claims.Supply().Uint64())
	require.Equal(t, uint64(2), loaded.Claims.Allowance(common.HexToAddress("0xa1"), common.HexToAddress("0xb0")).Uint64())

	addrs, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []common.Address{b.Address}, addrs)

	_, ok, err = store.LoadBond(common.HexToAddress("0x1234"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreKeepsStableScaleAndOrientation(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	b := sampleBond()
	b.Params.StableAsset = "DAI"
	b.Params.StableDecimals = bond.Uint8(18)
	b.Params.InvertPrice = true
	require.NoError(t, store.SaveBond(b))

	loaded, ok, err := store.LoadBond(b.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, loaded.Params.StableDecimals)
	require.Equal(t, uint8(18), loaded.Params.StableScale())
	require.True(t, loaded.Params.InvertPrice)
}

func TestStoreUnsetSettlement(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	b := sampleBond()
	b.Settlement = bond.Unset()
	require.NoError(t, store.SaveBond(b))
	loaded, ok, err := store.LoadBond(b.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, loaded.Settlement.IsLocked())
}

func TestStoreDetectsSupplyMismatch(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	b := sampleBond()
	require.NoError(t, store.SaveBond(b))
	require.NoError(t, db.Put(balanceKey(b.Address, common.HexToAddress("0xa1")), []byte{9}))
	_, _, err := store.LoadBond(b.Address)
	require.ErrorIs(t, err, ErrCorrupt)
}

type nopAsset struct{}

func (nopAsset) Symbol() string { return "USDC" }
func (nopAsset) BalanceOf(context.Context, common.Address) (*uint256.Int, error) {
	return new(uint256.Int), nil
}
func (nopAsset) Transfer(context.Context, common.Address, common.Address, *uint256.Int) error {
	return nil
}
func (nopAsset) TransferFrom(context.Context, common.Address, common.Address, common.Address, *uint256.Int) error {
	return nil
}

func TestEngineStateSurvivesLevelDBReopen(t *testing.T) {
	dir := t.TempDir()
	ldb, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	params := sampleBond().Params
	engine := bond.NewEngine(bond.Config{Store: NewStore(ldb), Stable: nopAsset{}})
	engine.SetNowFunc(func() int64 { return 10 })
	_, err = engine.Open(params)
	require.NoError(t, err)
	holder := common.HexToAddress("0xa1")
	_, err = engine.Deposit(context.Background(), holder, uint256.NewInt(2_000_000))
	require.NoError(t, err)
	require.NoError(t, engine.TransferClaims(holder, common.HexToAddress("0xb0"), engine.ClaimBalance(holder)))
	ldb.Close()

	ldb, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer ldb.Close()
	reopened := bond.NewEngine(bond.Config{Store: NewStore(ldb), Stable: nopAsset{}})
	snap, err := reopened.Open(params)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000), snap.TotalStableDeposited.Uint64())
	require.True(t, snap.Claims.BalanceOf(holder).IsZero())
	require.Equal(t, []common.Address{common.HexToAddress("0xb0")}, snap.Claims.Holders())
}
