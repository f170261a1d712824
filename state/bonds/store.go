package bonds

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dualbond/native/bond"
	"dualbond/storage"
)

var (
	headerPrefix    = []byte("bonds/header/")
	balancePrefix   = []byte("bonds/balance/")
	allowancePrefix = []byte("bonds/allowance/")
)

// ErrCorrupt is returned when a persisted record fails validation on load.
var ErrCorrupt = errors.New("bonds: corrupt record")

func headerKey(addr common.Address) []byte {
	return append(append([]byte{}, headerPrefix...), addr[:]...)
}

func balanceKeyPrefix(addr common.Address) []byte {
	return append(append([]byte{}, balancePrefix...), addr[:]...)
}

func balanceKey(addr, holder common.Address) []byte {
	return append(balanceKeyPrefix(addr), holder[:]...)
}

func allowanceKeyPrefix(addr common.Address) []byte {
	return append(append([]byte{}, allowancePrefix...), addr[:]...)
}

func allowanceKey(addr common.Address, key bond.AllowanceKey) []byte {
	out := append(allowanceKeyPrefix(addr), key.Owner[:]...)
	return append(out, key.Spender[:]...)
}

type storedBond struct {
	Address          [20]byte
	Name             string
	Symbol           string
	Decimals         uint8
	StableDecimals   uint8
	StableAsset      string
	SecondaryAsset   string
	StableCap        *big.Int
	IssuanceDeadline *big.Int
	Maturity         *big.Int
	StrikePrice      *big.Int
	Owner            [20]byte
	InitialOracle    [20]byte
	Salt             [32]byte
	PriceOracle      [20]byte
	TotalDeposited   *big.Int
	ClaimSupply      *big.Int
	SettlementPrice  *big.Int
	LockedAt         *big.Int
	WindowSeconds    uint64
	CreatedAt        *big.Int
	InvertPrice      bool `rlp:"optional"`
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: value %s out of range", ErrCorrupt, v)
	}
	return out, nil
}

func int64From(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}

func newStoredBond(b *bond.Bond) *storedBond {
	p := b.Params
	record := &storedBond{
		Address:          b.Address,
		Name:             p.Name,
		Symbol:           p.Symbol,
		Decimals:         p.Decimals,
		StableDecimals:   p.StableScale(),
		StableAsset:      p.StableAsset,
		SecondaryAsset:   p.SecondaryAsset,
		StableCap:        toBig(p.StableCap),
		IssuanceDeadline: big.NewInt(p.IssuanceDeadline),
		Maturity:         big.NewInt(p.Maturity),
		StrikePrice:      toBig(p.StrikePrice),
		Owner:            p.Owner,
		InitialOracle:    p.PriceOracle,
		Salt:             p.Salt,
		PriceOracle:      b.PriceOracle,
		TotalDeposited:   toBig(b.TotalStableDeposited),
		ClaimSupply:      toBig(b.Claims.Supply()),
		SettlementPrice:  big.NewInt(0),
		LockedAt:         big.NewInt(b.Settlement.LockedAt()),
		WindowSeconds:    uint64(b.Settlement.WindowSeconds()),
		CreatedAt:        big.NewInt(b.CreatedAt),
		InvertPrice:      p.InvertPrice,
	}
	if b.Settlement.IsLocked() {
		record.SettlementPrice = b.Settlement.Price().ToBig()
	}
	return record
}

func (s *storedBond) toBond() (*bond.Bond, error) {
	stableCap, err := fromBig(s.StableCap)
	if err != nil {
		return nil, err
	}
	strike, err := fromBig(s.StrikePrice)
	if err != nil {
		return nil, err
	}
	deposited, err := fromBig(s.TotalDeposited)
	if err != nil {
		return nil, err
	}
	settlement, err := fromBig(s.SettlementPrice)
	if err != nil {
		return nil, err
	}
	out := &bond.Bond{
		Address: s.Address,
		Params: bond.Params{
			Name:             s.Name,
			Symbol:           s.Symbol,
			Decimals:         s.Decimals,
			StableDecimals:   bond.Uint8(s.StableDecimals),
			InvertPrice:      s.InvertPrice,
			StableAsset:      s.StableAsset,
			SecondaryAsset:   s.SecondaryAsset,
			StableCap:        stableCap,
			IssuanceDeadline: int64From(s.IssuanceDeadline),
			Maturity:         int64From(s.Maturity),
			StrikePrice:      strike,
			Owner:            s.Owner,
			PriceOracle:      s.InitialOracle,
			Salt:             s.Salt,
		},
		PriceOracle:          s.PriceOracle,
		TotalStableDeposited: deposited,
		Settlement:           bond.Unset(),
		Claims:               bond.NewClaimLedger(),
		CreatedAt:            int64From(s.CreatedAt),
	}
	if !settlement.IsZero() {
		out.Settlement = bond.Locked(settlement, int64From(s.LockedAt), uint32(s.WindowSeconds))
	}
	return out, nil
}

// Store persists bond ledgers in a key/value database. The header and every
// dirty claim entry of a save are written in one batch.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// SaveBond implements bond.Store.
func (s *Store) SaveBond(b *bond.Bond) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("bonds: database not configured")
	}
	if b == nil {
		return fmt.Errorf("bonds: nil bond")
	}
	encoded, err := rlp.EncodeToBytes(newStoredBond(b))
	if err != nil {
		return fmt.Errorf("bonds: encode header: %w", err)
	}
	batch := storage.NewBatch()
	batch.Put(headerKey(b.Address), encoded)

	holders, keys := b.Claims.Dirty()
	for _, holder := range holders {
		bal := b.Claims.BalanceOf(holder)
		if bal.IsZero() {
			batch.Delete(balanceKey(b.Address, holder))
			continue
		}
		batch.Put(balanceKey(b.Address, holder), bal.Bytes())
	}
	for _, key := range keys {
		amount := b.Claims.Allowance(key.Owner, key.Spender)
		if amount.IsZero() {
			batch.Delete(allowanceKey(b.Address, key))
			continue
		}
		batch.Put(allowanceKey(b.Address, key), amount.Bytes())
	}
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("bonds: write %s: %w", b.Address.Hex(), err)
	}
	return nil
}

// LoadBond implements bond.Store. The rebuilt claim supply must match the
// supply recorded in the header.
func (s *Store) LoadBond(addr common.Address) (*bond.Bond, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("bonds: database not configured")
	}
	raw, err := s.db.Get(headerKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var record storedBond
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, false, fmt.Errorf("%w: decode header: %v", ErrCorrupt, err)
	}
	out, err := record.toBond()
	if err != nil {
		return nil, false, err
	}

	prefix := balanceKeyPrefix(addr)
	if err := s.db.Iterate(prefix, func(key, value []byte) bool {
		out.Claims.Load(common.BytesToAddress(key[len(prefix):]), new(uint256.Int).SetBytes(value))
		return true
	}); err != nil {
		return nil, false, err
	}
	aprefix := allowanceKeyPrefix(addr)
	if err := s.db.Iterate(aprefix, func(key, value []byte) bool {
		rest := key[len(aprefix):]
		out.Claims.LoadAllowance(bond.AllowanceKey{
			Owner:   common.BytesToAddress(rest[:common.AddressLength]),
			Spender: common.BytesToAddress(rest[common.AddressLength:]),
		}, new(uint256.Int).SetBytes(value))
		return true
	}); err != nil {
		return nil, false, err
	}

	want, err := fromBig(record.ClaimSupply)
	if err != nil {
		return nil, false, err
	}
	if got := out.Claims.Supply(); !got.Eq(want) {
		return nil, false, fmt.Errorf("%w: claim supply %s does not match balances %s", ErrCorrupt, want, got)
	}
	return out, true, nil
}

// List returns every persisted bond address.
func (s *Store) List() ([]common.Address, error) {
	var out []common.Address
	err := s.db.Iterate(headerPrefix, func(key, _ []byte) bool {
		out = append(out, common.BytesToAddress(key[len(headerPrefix):]))
		return true
	})
	return out, err
}
