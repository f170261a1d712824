package bank

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/native/bond"
	"dualbond/storage"
)

var (
	// ErrUnknownAsset is returned for symbols the ledger was not configured with.
	ErrUnknownAsset = errors.New("bank: unknown asset")
	// ErrInsufficientFunds wraps the bond sentinel so callers can match either.
	ErrInsufficientFunds = fmt.Errorf("bank: insufficient funds: %w", bond.ErrInsufficientBalance)
	// ErrInsufficientAllowance is returned when a spender exceeds its approval.
	ErrInsufficientAllowance = fmt.Errorf("bank: insufficient allowance: %w", bond.ErrInsufficientBalance)
)

// AssetInfo describes a fungible asset held by the ledger.
type AssetInfo struct {
	Symbol   string
	Decimals uint8
}

// NormalizeSymbol canonicalises an asset symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Ledger keeps balances, allowances and supply for a set of assets. Every
// mutation is written as one batch so balances and supply never diverge.
type Ledger struct {
	mu     sync.Mutex
	db     storage.Database
	assets map[string]AssetInfo
}

// NewLedger returns a ledger over db for the supplied assets.
func NewLedger(db storage.Database, assets ...AssetInfo) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("bank: database required")
	}
	l := &Ledger{db: db, assets: make(map[string]AssetInfo)}
	for _, info := range assets {
		symbol := NormalizeSymbol(info.Symbol)
		if symbol == "" {
			return nil, fmt.Errorf("bank: asset symbol required")
		}
		if _, dup := l.assets[symbol]; dup {
			return nil, fmt.Errorf("bank: duplicate asset %s", symbol)
		}
		info.Symbol = symbol
		l.assets[symbol] = info
	}
	return l, nil
}

// Assets lists the configured assets in symbol order.
func (l *Ledger) Assets() []AssetInfo {
	out := make([]AssetInfo, 0, len(l.assets))
	for _, info := range l.assets {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Info returns the metadata of symbol.
func (l *Ledger) Info(symbol string) (AssetInfo, error) {
	info, ok := l.assets[NormalizeSymbol(symbol)]
	if !ok {
		return AssetInfo{}, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return info, nil
}

func balanceKey(symbol string, holder common.Address) []byte {
	return append([]byte("bank/balance/"+symbol+"/"), holder[:]...)
}

func allowanceKey(symbol string, owner, spender common.Address) []byte {
	key := append([]byte("bank/allowance/"+symbol+"/"), owner[:]...)
	return append(key, spender[:]...)
}

func supplyKey(symbol string) []byte {
	return []byte("bank/supply/" + symbol)
}

func (l *Ledger) read(key []byte) (*uint256.Int, error) {
	raw, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func put(batch *storage.Batch, key []byte, value *uint256.Int) {
	if value.IsZero() {
		batch.Delete(key)
		return
	}
	batch.Put(key, value.Bytes())
}

func (l *Ledger) symbol(raw string) (string, error) {
	symbol := NormalizeSymbol(raw)
	if _, ok := l.assets[symbol]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAsset, raw)
	}
	return symbol, nil
}

// BalanceOf returns the balance of holder.
func (l *Ledger) BalanceOf(symbol string, holder common.Address) (*uint256.Int, error) {
	sym, err := l.symbol(symbol)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(balanceKey(sym, holder))
}

// Allowance returns the amount spender may move for owner.
func (l *Ledger) Allowance(symbol string, owner, spender common.Address) (*uint256.Int, error) {
	sym, err := l.symbol(symbol)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(allowanceKey(sym, owner, spender))
}

// Supply returns the total minted amount of symbol.
func (l *Ledger) Supply(symbol string) (*uint256.Int, error) {
	sym, err := l.symbol(symbol)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(supplyKey(sym))
}

// Mint credits amount to to and grows the supply.
func (l *Ledger) Mint(symbol string, to common.Address, amount *uint256.Int) error {
	sym, err := l.symbol(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return bond.ErrZeroAmount
	}
	if to == (common.Address{}) {
		return fmt.Errorf("bank: mint to zero address")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, err := l.read(supplyKey(sym))
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return bond.ErrOverflow
	}
	bal, err := l.read(balanceKey(sym, to))
	if err != nil {
		return err
	}
	batch := storage.NewBatch()
	put(batch, supplyKey(sym), next)
	put(batch, balanceKey(sym, to), bal.Add(bal, amount))
	return l.db.Write(batch)
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(symbol string, from, to common.Address, amount *uint256.Int) error {
	sym, err := l.symbol(symbol)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := storage.NewBatch()
	if err := l.stageTransfer(batch, sym, from, to, amount); err != nil {
		return err
	}
	return l.db.Write(batch)
}

// Approve sets the allowance spender may draw from owner.
func (l *Ledger) Approve(symbol string, owner, spender common.Address, amount *uint256.Int) error {
	sym, err := l.symbol(symbol)
	if err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("bank: approve zero address")
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := storage.NewBatch()
	put(batch, allowanceKey(sym, owner, spender), amount)
	return l.db.Write(batch)
}

// IncreaseAllowance adds amount to the allowance spender may draw from owner.
func (l *Ledger) IncreaseAllowance(symbol string, owner, spender common.Address, amount *uint256.Int) error {
	sym, err := l.symbol(symbol)
	if err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("bank: approve zero address")
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance, err := l.read(allowanceKey(sym, owner, spender))
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(allowance, amount)
	if overflow {
		return bond.ErrOverflow
	}
	batch := storage.NewBatch()
	put(batch, allowanceKey(sym, owner, spender), next)
	return l.db.Write(batch)
}

// TransferFrom moves amount from from to to using the allowance granted to
// spender.
func (l *Ledger) TransferFrom(symbol string, spender, from, to common.Address, amount *uint256.Int) error {
	sym, err := l.symbol(symbol)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance, err := l.read(allowanceKey(sym, from, spender))
	if err != nil {
		return err
	}
	if amount != nil && allowance.Lt(amount) {
		return fmt.Errorf("%w: %s < %s", ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}
	batch := storage.NewBatch()
	if err := l.stageTransfer(batch, sym, from, to, amount); err != nil {
		return err
	}
	put(batch, allowanceKey(sym, from, spender), allowance.Sub(allowance, amount))
	return l.db.Write(batch)
}

func (l *Ledger) stageTransfer(batch *storage.Batch, sym string, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return bond.ErrZeroAmount
	}
	if to == (common.Address{}) {
		return fmt.Errorf("bank: transfer to zero address")
	}
	fromBal, err := l.read(balanceKey(sym, from))
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s %s < %s", ErrInsufficientFunds, sym, fromBal.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := l.read(balanceKey(sym, to))
	if err != nil {
		return err
	}
	put(batch, balanceKey(sym, from), fromBal.Sub(fromBal, amount))
	put(batch, balanceKey(sym, to), toBal.Add(toBal, amount))
	return nil
}
