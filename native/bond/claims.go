package bond

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AllowanceKey identifies a claim allowance granted by Owner to Spender.
type AllowanceKey struct {
	Owner   common.Address
	Spender common.Address
}

// ClaimLedger tracks the fungible claim token of a single bond. Supply always
// equals the sum of balances. Keys touched since the last ClearDirty are
// tracked so stores can persist incrementally.
type ClaimLedger struct {
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[AllowanceKey]*uint256.Int

	dirtyBalances   map[common.Address]struct{}
	dirtyAllowances map[AllowanceKey]struct{}
}

// NewClaimLedger returns an empty ledger.
func NewClaimLedger() *ClaimLedger {
	return &ClaimLedger{
		supply:          new(uint256.Int),
		balances:        make(map[common.Address]*uint256.Int),
		allowances:      make(map[AllowanceKey]*uint256.Int),
		dirtyBalances:   make(map[common.Address]struct{}),
		dirtyAllowances: make(map[AllowanceKey]struct{}),
	}
}

// Clone deep copies the ledger including its dirty set.
func (l *ClaimLedger) Clone() *ClaimLedger {
	out := NewClaimLedger()
	if l == nil {
		return out
	}
	out.supply.Set(l.supply)
	for holder, bal := range l.balances {
		out.balances[holder] = new(uint256.Int).Set(bal)
	}
	for key, amt := range l.allowances {
		out.allowances[key] = new(uint256.Int).Set(amt)
	}
	for holder := range l.dirtyBalances {
		out.dirtyBalances[holder] = struct{}{}
	}
	for key := range l.dirtyAllowances {
		out.dirtyAllowances[key] = struct{}{}
	}
	return out
}

// Supply returns the outstanding claim supply.
func (l *ClaimLedger) Supply() *uint256.Int {
	if l == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(l.supply)
}

// BalanceOf returns the claim balance of holder.
func (l *ClaimLedger) BalanceOf(holder common.Address) *uint256.Int {
	if l == nil {
		return new(uint256.Int)
	}
	return cloneInt(l.balances[holder])
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *ClaimLedger) Allowance(owner, spender common.Address) *uint256.Int {
	if l == nil {
		return new(uint256.Int)
	}
	return cloneInt(l.allowances[AllowanceKey{Owner: owner, Spender: spender}])
}

// Holders lists every address with a non-zero balance in byte order.
func (l *ClaimLedger) Holders() []common.Address {
	if l == nil {
		return nil
	}
	out := make([]common.Address, 0, len(l.balances))
	for holder, bal := range l.balances {
		if bal != nil && !bal.IsZero() {
			out = append(out, holder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (l *ClaimLedger) mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: mint to zero address", ErrInvalidParams)
	}
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return ErrOverflow
	}
	// balance <= supply, so the balance add cannot overflow once supply fits.
	l.supply = supply
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), amount))
	return nil
}

func (l *ClaimLedger) burn(from common.Address, amount *uint256.Int) error {
	bal := l.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: claims %s < %s", ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}
	l.setBalance(from, bal.Sub(bal, amount))
	l.supply = new(uint256.Int).Sub(l.supply, amount)
	return nil
}

func (l *ClaimLedger) transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to zero address", ErrInvalidParams)
	}
	bal := l.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: claims %s < %s", ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}
	l.setBalance(from, bal.Sub(bal, amount))
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), amount))
	return nil
}

func (l *ClaimLedger) approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("%w: approve zero address", ErrInvalidParams)
	}
	l.setAllowance(AllowanceKey{Owner: owner, Spender: spender}, cloneInt(amount))
	return nil
}

func (l *ClaimLedger) spendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	key := AllowanceKey{Owner: owner, Spender: spender}
	current := l.Allowance(owner, spender)
	if current.Lt(amount) {
		return fmt.Errorf("%w: allowance %s < %s", ErrInsufficientBalance, current.Dec(), amount.Dec())
	}
	l.setAllowance(key, current.Sub(current, amount))
	return nil
}

func (l *ClaimLedger) setBalance(holder common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		delete(l.balances, holder)
	} else {
		l.balances[holder] = amount
	}
	l.dirtyBalances[holder] = struct{}{}
}

func (l *ClaimLedger) setAllowance(key AllowanceKey, amount *uint256.Int) {
	if amount.IsZero() {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = amount
	}
	l.dirtyAllowances[key] = struct{}{}
}

// Load seeds a balance without marking it dirty. Stores use it when
// rehydrating a ledger.
func (l *ClaimLedger) Load(holder common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	l.balances[holder] = new(uint256.Int).Set(amount)
	l.supply = new(uint256.Int).Add(l.supply, amount)
}

// LoadAllowance seeds an allowance without marking it dirty.
func (l *ClaimLedger) LoadAllowance(key AllowanceKey, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	l.allowances[key] = new(uint256.Int).Set(amount)
}

// Dirty returns the balances and allowances touched since the last
// ClearDirty call, in deterministic order.
func (l *ClaimLedger) Dirty() ([]common.Address, []AllowanceKey) {
	if l == nil {
		return nil, nil
	}
	holders := make([]common.Address, 0, len(l.dirtyBalances))
	for holder := range l.dirtyBalances {
		holders = append(holders, holder)
	}
	sort.Slice(holders, func(i, j int) bool { return bytes.Compare(holders[i][:], holders[j][:]) < 0 })
	keys := make([]AllowanceKey, 0, len(l.dirtyAllowances))
	for key := range l.dirtyAllowances {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := bytes.Compare(keys[i].Owner[:], keys[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(keys[i].Spender[:], keys[j].Spender[:]) < 0
	})
	return holders, keys
}

// MarkDirty flags the supplied keys so the next persist rewrites them.
func (l *ClaimLedger) MarkDirty(holders []common.Address, keys []AllowanceKey) {
	for _, holder := range holders {
		l.dirtyBalances[holder] = struct{}{}
	}
	for _, key := range keys {
		l.dirtyAllowances[key] = struct{}{}
	}
}

// ClearDirty resets the dirty set after a successful persist.
func (l *ClaimLedger) ClearDirty() {
	l.dirtyBalances = make(map[common.Address]struct{})
	l.dirtyAllowances = make(map[AllowanceKey]struct{})
}
