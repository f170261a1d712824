package bank

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/native/bond"
)

// Asset is a handle on a single ledger asset. It satisfies bond.Asset.
type Asset struct {
	ledger *Ledger
	symbol string
}

var (
	_ bond.DecimalAsset      = (*Asset)(nil)
	_ bond.AllowanceRefunder = (*Asset)(nil)
)

// Asset returns the handle for symbol.
func (l *Ledger) Asset(symbol string) (*Asset, error) {
	sym, err := l.symbol(symbol)
	if err != nil {
		return nil, err
	}
	return &Asset{ledger: l, symbol: sym}, nil
}

func (a *Asset) Symbol() string { return a.symbol }

// Decimals reports the configured scale of the asset.
func (a *Asset) Decimals() uint8 {
	info, err := a.ledger.Info(a.symbol)
	if err != nil {
		return 0
	}
	return info.Decimals
}

func (a *Asset) BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.ledger.BalanceOf(a.symbol, holder)
}

func (a *Asset) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.ledger.Transfer(a.symbol, from, to, amount)
}

func (a *Asset) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.ledger.TransferFrom(a.symbol, spender, from, to, amount)
}

// RefundAllowance restores allowance consumed by a reverted TransferFrom.
func (a *Asset) RefundAllowance(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.ledger.IncreaseAllowance(a.symbol, owner, spender, amount)
}

// BondRegistry reports which addresses are registered bonds.
type BondRegistry interface {
	IsBond(addr common.Address) bool
}

// Issuer is the mint authority for the secondary asset. Only registered bonds
// may mint, and only on redemption.
type Issuer struct {
	ledger   *Ledger
	symbol   string
	registry BondRegistry
	logger   *slog.Logger
}

var _ bond.IssuanceAuthority = (*Issuer)(nil)

// NewIssuer returns the mint authority for symbol.
func NewIssuer(ledger *Ledger, symbol string, registry BondRegistry) (*Issuer, error) {
	if ledger == nil || registry == nil {
		return nil, fmt.Errorf("bank: issuer requires a ledger and a registry")
	}
	sym, err := ledger.symbol(symbol)
	if err != nil {
		return nil, err
	}
	return &Issuer{ledger: ledger, symbol: sym, registry: registry, logger: slog.Default()}, nil
}

// SetLogger configures the structured logger.
func (i *Issuer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		i.logger = logger
	}
}

// Symbol returns the minted asset.
func (i *Issuer) Symbol() string { return i.symbol }

// MintOnRedemption implements bond.IssuanceAuthority.
func (i *Issuer) MintOnRedemption(ctx context.Context, caller common.Address, amount *uint256.Int, recipient common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !i.registry.IsBond(caller) {
		i.logger.Warn("secondary mint rejected",
			slog.String("caller", caller.Hex()),
			slog.String("asset", i.symbol))
		return fmt.Errorf("%w: %s is not a registered bond", bond.ErrUnauthorized, caller.Hex())
	}
	if err := i.ledger.Mint(i.symbol, recipient, amount); err != nil {
		return fmt.Errorf("bank: mint %s: %w", i.symbol, err)
	}
	return nil
}
