package bond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/core/events"
	"dualbond/core/sqrtprice"
)

// Asset is the fungible token primitive holding collateral. Transfer moves
// funds owned by from; TransferFrom spends an allowance granted to spender.
type Asset interface {
	Symbol() string
	BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}

// DecimalAsset is an Asset that reports its decimal scale. Engines size the
// claim scale from it.
type DecimalAsset interface {
	Asset
	Decimals() uint8
}

// AllowanceRefunder is implemented by assets that can hand back an allowance
// spent by a pull that was later compensated.
type AllowanceRefunder interface {
	RefundAllowance(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
}

// IssuanceAuthority mints the secondary asset for registered bonds.
type IssuanceAuthority interface {
	MintOnRedemption(ctx context.Context, caller common.Address, amount *uint256.Int, recipient common.Address) error
}

// Store persists bond ledgers. SaveBond must write the header together with
// every dirty claim entry atomically.
type Store interface {
	LoadBond(addr common.Address) (*Bond, bool, error)
	SaveBond(b *Bond) error
}

// Observer receives engine measurements. Implementations must be cheap and
// must not call back into the engine.
type Observer interface {
	ObserveDeposit(bond common.Address, amount, totalDeposited, claimSupply *uint256.Int)
	ObserveRedemption(bond common.Address, branch Branch, dust, claimSupply *uint256.Int)
	ObserveOracleRead(bond common.Address, window time.Duration, err error)
	ObservePriceLocked(bond common.Address, price *uint256.Int)
}

type noopObserver struct{}

func (noopObserver) ObserveDeposit(common.Address, *uint256.Int, *uint256.Int, *uint256.Int) {}
func (noopObserver) ObserveRedemption(common.Address, Branch, *uint256.Int, *uint256.Int)     {}
func (noopObserver) ObserveOracleRead(common.Address, time.Duration, error)                    {}
func (noopObserver) ObservePriceLocked(common.Address, *uint256.Int)                           {}

// Config wires an engine to its collaborators.
type Config struct {
	Store     Store
	Stable    Asset
	Authority IssuanceAuthority
	Pools     PoolResolver
	Oracle    *OracleAdapter
	Fallback  FallbackPolicy
}

// Engine runs the lifecycle of a single bond. Every state-modifying call holds
// the engine lock for its whole duration, including the oracle read, so the
// settlement price is read at most once.
type Engine struct {
	mu sync.Mutex

	bond      *Bond
	scale     *uint256.Int
	store     Store
	stable    Asset
	authority IssuanceAuthority
	pools     PoolResolver
	oracle    *OracleAdapter
	fallback  FallbackPolicy

	emitter  events.Emitter
	observer Observer
	logger   *slog.Logger
	nowFn    func() int64
}

// NewEngine creates an engine with a no-op emitter and the wall clock.
func NewEngine(cfg Config) *Engine {
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = NewOracleAdapter(nil)
	}
	fallback := cfg.Fallback
	if len(fallback.Windows) == 0 {
		fallback = SingleWindow(DefaultTWAPWindow)
	}
	return &Engine{
		store:     cfg.Store,
		stable:    cfg.Stable,
		authority: cfg.Authority,
		pools:     cfg.Pools,
		oracle:    oracle,
		fallback:  fallback,
		emitter:   events.NoopEmitter{},
		observer:  noopObserver{},
		logger:    slog.Default(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetObserver configures the metrics observer.
func (e *Engine) SetObserver(observer Observer) {
	if observer == nil {
		e.observer = noopObserver{}
		return
	}
	e.observer = observer
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) loaded() (*Bond, error) {
	if e.bond == nil || e.store == nil {
		return nil, errNilState
	}
	return e.bond, nil
}

// Open loads the bond described by params, creating and persisting it when it
// does not exist yet. Re-opening with different immutable parameters fails.
func (e *Engine) Open(params Params) (*Bond, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, errNilState
	}
	normalized, err := e.resolveStableDecimals(params.Normalize())
	if err != nil {
		return nil, err
	}
	if err := normalized.Validate(); err != nil {
		return nil, err
	}
	scale, err := sqrtprice.ClaimScale(normalized.StableScale())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	addr := DeriveAddress(normalized)
	existing, ok, err := e.store.LoadBond(addr)
	if err != nil {
		return nil, fmt.Errorf("bond: load %s: %w", addr.Hex(), err)
	}
	if ok {
		if !sameProgram(existing.Params, normalized) {
			return nil, fmt.Errorf("%w: bond %s already exists with different parameters", ErrInvalidParams, addr.Hex())
		}
		existing.Claims.ClearDirty()
		e.bond = existing
		e.scale = scale
		return existing.Clone(), nil
	}
	b := &Bond{
		Address:              addr,
		Params:               normalized,
		PriceOracle:          normalized.PriceOracle,
		TotalStableDeposited: new(uint256.Int),
		Settlement:           Unset(),
		Claims:               NewClaimLedger(),
		CreatedAt:            e.now(),
	}
	if err := e.store.SaveBond(b); err != nil {
		return nil, fmt.Errorf("bond: persist %s: %w", addr.Hex(), err)
	}
	e.bond = b
	e.scale = scale
	e.logger.Info("bond created",
		slog.String("bond", addr.Hex()),
		slog.String("symbol", normalized.Symbol),
		slog.String("stableCap", normalized.StableCap.Dec()),
		slog.Int64("issuanceDeadline", normalized.IssuanceDeadline),
		slog.Int64("maturity", normalized.Maturity))
	return b.Clone(), nil
}

// resolveStableDecimals pins the stable decimals to what the stable asset
// reports. Without a reporting asset an unset value falls back to the default.
func (e *Engine) resolveStableDecimals(p Params) (Params, error) {
	if reporter, ok := e.stable.(DecimalAsset); ok {
		actual := reporter.Decimals()
		if p.StableDecimals != nil && *p.StableDecimals != actual {
			return p, fmt.Errorf("%w: stable decimals %d disagree with %s decimals %d",
				ErrInvalidParams, *p.StableDecimals, reporter.Symbol(), actual)
		}
		p.StableDecimals = Uint8(actual)
		return p, nil
	}
	p.StableDecimals = Uint8(p.StableScale())
	return p, nil
}

func sameProgram(a, b Params) bool {
	return a.Symbol == b.Symbol &&
		a.Owner == b.Owner &&
		a.Salt == b.Salt &&
		a.StableAsset == b.StableAsset &&
		a.SecondaryAsset == b.SecondaryAsset &&
		a.StableScale() == b.StableScale() &&
		a.InvertPrice == b.InvertPrice &&
		a.IssuanceDeadline == b.IssuanceDeadline &&
		a.Maturity == b.Maturity &&
		a.StableCap.Eq(b.StableCap) &&
		a.StrikePrice.Eq(b.StrikePrice)
}

// Address returns the custody address of the bond.
func (e *Engine) Address() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bond == nil {
		return common.Address{}
	}
	return e.bond.Address
}

// Snapshot returns a copy of the current ledger.
func (e *Engine) Snapshot() (*Bond, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// Phase reports the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bond.Phase(e.now())
}

// ClaimBalance returns the claim balance of holder.
func (e *Engine) ClaimBalance(holder common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bond == nil {
		return new(uint256.Int)
	}
	return e.bond.Claims.BalanceOf(holder)
}

// ClaimAllowance returns the claim allowance owner granted spender.
func (e *Engine) ClaimAllowance(owner, spender common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bond == nil {
		return new(uint256.Int)
	}
	return e.bond.Claims.Allowance(owner, spender)
}

// commit persists next and makes it the live ledger.
func (e *Engine) commit(next *Bond) error {
	if err := e.store.SaveBond(next); err != nil {
		return fmt.Errorf("bond: persist %s: %w", next.Address.Hex(), err)
	}
	next.Claims.ClearDirty()
	e.bond = next
	return nil
}

// Deposit accepts amount of the stable asset from caller during the issuance
// window and mints the decimal-adjusted claims.
func (e *Engine) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return nil, err
	}
	if e.stable == nil {
		return nil, errNilAsset
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if err := checkHolder(b, caller); err != nil {
		return nil, err
	}
	if e.now() >= b.Params.IssuanceDeadline {
		return nil, ErrIssuanceClosed
	}
	total, overflow := new(uint256.Int).AddOverflow(b.TotalStableDeposited, amount)
	if overflow || total.Gt(b.Params.StableCap) {
		return nil, fmt.Errorf("%w: %s + %s > %s", ErrCapExceeded, b.TotalStableDeposited.Dec(), amount.Dec(), b.Params.StableCap.Dec())
	}
	claims, err := sqrtprice.ToClaims(amount, e.scale)
	if err != nil {
		return nil, err
	}
	next := b.Clone()
	next.TotalStableDeposited = total
	if err := next.Claims.mint(caller, claims); err != nil {
		return nil, err
	}

	if err := e.stable.TransferFrom(ctx, b.Address, caller, b.Address, amount); err != nil {
		return nil, fmt.Errorf("bond: pull collateral: %w", err)
	}
	if err := e.commit(next); err != nil {
		refundErr := e.stable.Transfer(ctx, b.Address, caller, amount)
		if refunder, ok := e.stable.(AllowanceRefunder); ok && refundErr == nil {
			refundErr = refunder.RefundAllowance(ctx, caller, b.Address, amount)
		}
		if refundErr != nil {
			e.logger.Error("bond deposit compensation failed",
				slog.String("bond", b.Address.Hex()),
				slog.String("depositor", caller.Hex()),
				slog.String("amount", amount.Dec()),
				slog.Any("error", refundErr))
			return nil, errors.Join(err, refundErr)
		}
		return nil, err
	}

	supply := next.Claims.Supply()
	e.observer.ObserveDeposit(next.Address, amount, total, supply)
	e.emit(events.BondDeposited{
		Bond:           next.Address,
		Depositor:      caller,
		StableAmount:   cloneInt(amount),
		ClaimsMinted:   cloneInt(claims),
		TotalDeposited: cloneInt(total),
	})
	e.logger.Info("bond deposit accepted",
		slog.String("bond", next.Address.Hex()),
		slog.String("depositor", caller.Hex()),
		slog.String("amount", amount.Dec()),
		slog.String("claims", claims.Dec()),
		slog.String("totalDeposited", total.Dec()))
	return cloneInt(claims), nil
}

// Finalize locks the settlement price once the bond has matured. After the
// first success it returns the locked settlement without consulting the pool.
func (e *Engine) Finalize(ctx context.Context) (Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return Settlement{}, err
	}
	if e.now() < b.Params.Maturity {
		return Settlement{}, ErrNotMatured
	}
	if b.Settlement.IsLocked() {
		return b.Settlement, nil
	}
	next := b.Clone()
	if _, err := e.finalizeInto(ctx, next); err != nil {
		return Settlement{}, err
	}
	if err := e.commit(next); err != nil {
		return Settlement{}, err
	}
	e.announceLock(next)
	return next.Settlement, nil
}

// finalizeInto locks the settlement on the staged ledger when unset. The
// caller must hold the engine lock.
func (e *Engine) finalizeInto(ctx context.Context, next *Bond) (bool, error) {
	if next.Settlement.IsLocked() {
		return false, nil
	}
	if next.PriceOracle == (common.Address{}) {
		return false, ErrOracleNotSet
	}
	if e.pools == nil {
		return false, fmt.Errorf("%w: no pool resolver", ErrOracleNotSet)
	}
	pool, err := e.pools.Pool(next.PriceOracle)
	if err != nil {
		return false, fmt.Errorf("%w: resolve pool %s: %w", ErrOracleReadFailure, next.PriceOracle.Hex(), err)
	}
	if next.Params.InvertPrice {
		pool = InvertedPool{Pool: pool}
	}
	price, window, err := e.fallback.Read(ctx, e.oracle, pool, func(window time.Duration, err error) {
		e.observer.ObserveOracleRead(next.Address, window, err)
		if err != nil {
			e.logger.Warn("bond oracle read failed",
				slog.String("bond", next.Address.Hex()),
				slog.String("pool", next.PriceOracle.Hex()),
				slog.Duration("window", window),
				slog.Any("error", err))
		}
	})
	if err != nil {
		return false, err
	}
	next.Settlement = Locked(price, e.now(), WindowSeconds(window))
	return true, nil
}

func (e *Engine) announceLock(b *Bond) {
	price := b.Settlement.Price()
	e.observer.ObservePriceLocked(b.Address, price)
	e.emit(events.BondPriceLocked{
		Bond:            b.Address,
		SettlementPrice: price,
		StrikePrice:     cloneInt(b.Params.StrikePrice),
		WindowSeconds:   b.Settlement.WindowSeconds(),
		LockedAt:        b.Settlement.LockedAt(),
	})
	e.logger.Info("bond settlement price locked",
		slog.String("bond", b.Address.Hex()),
		slog.String("settlementPrice", price.Dec()),
		slog.String("strikePrice", b.Params.StrikePrice.Dec()),
		slog.Uint64("windowSeconds", uint64(b.Settlement.WindowSeconds())))
}

// Redeem burns claimAmount of the caller's claims after maturity and pays out
// either the stable equivalent or the secondary asset at the strike price.
// Claims are burned and persisted before any payout; a failed payout restores
// the previous ledger, including an unlocked settlement.
func (e *Engine) Redeem(ctx context.Context, caller common.Address, claimAmount *uint256.Int) (Redemption, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return Redemption{}, err
	}
	if e.now() < b.Params.Maturity {
		return Redemption{}, ErrNotMatured
	}
	if claimAmount == nil || claimAmount.IsZero() {
		return Redemption{}, ErrZeroAmount
	}
	if err := checkHolder(b, caller); err != nil {
		return Redemption{}, err
	}
	if bal := b.Claims.BalanceOf(caller); bal.Lt(claimAmount) {
		return Redemption{}, fmt.Errorf("%w: claims %s < %s", ErrInsufficientBalance, bal.Dec(), claimAmount.Dec())
	}
	stableEquivalent, dust := sqrtprice.ToStable(claimAmount, e.scale)
	if stableEquivalent.IsZero() {
		return Redemption{}, fmt.Errorf("%w: claims below one stable unit", ErrZeroAmount)
	}

	next := b.Clone()
	finalized, err := e.finalizeInto(ctx, next)
	if err != nil {
		return Redemption{}, err
	}
	settlement := next.Settlement.Price()
	receipt := Redemption{
		Holder:           caller,
		ClaimsBurned:     cloneInt(claimAmount),
		StableEquivalent: stableEquivalent,
		Dust:             dust,
		StablePaid:       new(uint256.Int),
		SecondaryMinted:  new(uint256.Int),
		SettlementPrice:  settlement,
		Finalized:        finalized,
	}
	if !settlement.Gt(b.Params.StrikePrice) {
		receipt.Branch = BranchStable
		receipt.StablePaid = cloneInt(stableEquivalent)
	} else {
		if e.authority == nil {
			return Redemption{}, fmt.Errorf("%w: issuance authority not configured", ErrUnauthorized)
		}
		minted, err := sqrtprice.Convert(stableEquivalent, b.Params.StrikePrice)
		if err != nil {
			return Redemption{}, err
		}
		if minted.IsZero() {
			return Redemption{}, fmt.Errorf("%w: secondary payout rounds to zero", ErrZeroAmount)
		}
		receipt.Branch = BranchSecondary
		receipt.SecondaryMinted = minted
	}
	if receipt.Branch == BranchStable && e.stable == nil {
		return Redemption{}, errNilAsset
	}

	if err := next.Claims.burn(caller, claimAmount); err != nil {
		return Redemption{}, err
	}
	holders, keys := next.Claims.Dirty()
	if err := e.commit(next); err != nil {
		return Redemption{}, err
	}

	if err := e.pay(ctx, next.Address, caller, receipt); err != nil {
		e.revert(b, holders, keys)
		return Redemption{}, err
	}

	if finalized {
		e.announceLock(next)
	}
	supply := next.Claims.Supply()
	e.observer.ObserveRedemption(next.Address, receipt.Branch, dust, supply)
	e.emit(events.BondRedeemed{
		Bond:            next.Address,
		Holder:          caller,
		ClaimsBurned:    cloneInt(claimAmount),
		Branch:          string(receipt.Branch),
		StablePaid:      cloneInt(receipt.StablePaid),
		SecondaryMinted: cloneInt(receipt.SecondaryMinted),
		Dust:            cloneInt(dust),
	})
	e.logger.Info("bond redeemed",
		slog.String("bond", next.Address.Hex()),
		slog.String("holder", caller.Hex()),
		slog.String("branch", string(receipt.Branch)),
		slog.String("claims", claimAmount.Dec()),
		slog.String("stablePaid", receipt.StablePaid.Dec()),
		slog.String("secondaryMinted", receipt.SecondaryMinted.Dec()),
		slog.String("dust", dust.Dec()))
	return receipt, nil
}

func (e *Engine) pay(ctx context.Context, bondAddr, holder common.Address, receipt Redemption) error {
	switch receipt.Branch {
	case BranchStable:
		if err := e.stable.Transfer(ctx, bondAddr, holder, receipt.StablePaid); err != nil {
			return fmt.Errorf("bond: stable payout: %w", err)
		}
	case BranchSecondary:
		if err := e.authority.MintOnRedemption(ctx, bondAddr, receipt.SecondaryMinted, holder); err != nil {
			return fmt.Errorf("bond: secondary payout: %w", err)
		}
	default:
		return fmt.Errorf("bond: unknown branch %q", receipt.Branch)
	}
	return nil
}

// revert restores prev as the live ledger after a failed payout, rewriting
// every entry the failed attempt touched.
func (e *Engine) revert(prev *Bond, holders []common.Address, keys []AllowanceKey) {
	restored := prev.Clone()
	restored.Claims.MarkDirty(holders, keys)
	if err := e.commit(restored); err != nil {
		e.logger.Error("bond revert persist failed",
			slog.String("bond", prev.Address.Hex()),
			slog.Any("error", err))
		e.bond = prev
	}
}

// SetPriceOracle points the bond at a pool. Only the owner may call it and
// only before maturity.
func (e *Engine) SetPriceOracle(capability OwnerCapability, pool common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return err
	}
	if err := e.checkCapability(b, capability); err != nil {
		return err
	}
	if pool == (common.Address{}) {
		return fmt.Errorf("%w: pool address required", ErrInvalidParams)
	}
	if e.now() >= b.Params.Maturity {
		return ErrOracleFrozen
	}
	next := b.Clone()
	next.PriceOracle = pool
	if err := e.commit(next); err != nil {
		return err
	}
	e.emit(events.BondOracleSet{Bond: next.Address, Pool: pool})
	e.logger.Info("bond price oracle set",
		slog.String("bond", next.Address.Hex()),
		slog.String("pool", pool.Hex()))
	return nil
}

// Rescue transfers amount of asset out of custody to the owner. It does not
// touch the bond ledger and can drain collateral needed for redemptions.
func (e *Engine) Rescue(ctx context.Context, capability OwnerCapability, asset Asset, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return err
	}
	if err := e.checkCapability(b, capability); err != nil {
		return err
	}
	if asset == nil {
		return errNilAsset
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if err := asset.Transfer(ctx, b.Address, b.Params.Owner, amount); err != nil {
		return fmt.Errorf("bond: rescue: %w", err)
	}
	e.emit(events.BondRescued{Bond: b.Address, Asset: asset.Symbol(), To: b.Params.Owner, Amount: cloneInt(amount)})
	e.logger.Warn("bond assets rescued",
		slog.String("bond", b.Address.Hex()),
		slog.String("asset", asset.Symbol()),
		slog.String("amount", amount.Dec()))
	return nil
}

// TransferClaims moves claims between holders.
func (e *Engine) TransferClaims(caller, to common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if err := checkHolder(b, to); err != nil {
		return err
	}
	next := b.Clone()
	if err := next.Claims.transfer(caller, to, amount); err != nil {
		return err
	}
	if err := e.commit(next); err != nil {
		return err
	}
	e.emit(events.BondClaimsTransferred{Bond: next.Address, From: caller, To: to, Amount: cloneInt(amount)})
	return nil
}

// ApproveClaims sets the allowance spender may move on behalf of owner.
func (e *Engine) ApproveClaims(owner, spender common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return err
	}
	next := b.Clone()
	if err := next.Claims.approve(owner, spender, amount); err != nil {
		return err
	}
	if err := e.commit(next); err != nil {
		return err
	}
	e.emit(events.BondClaimsApproved{Bond: next.Address, Owner: owner, Spender: spender, Amount: cloneInt(amount)})
	return nil
}

// TransferClaimsFrom moves claims from one holder to another using the
// spender's allowance.
func (e *Engine) TransferClaimsFrom(spender, from, to common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.loaded()
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if err := checkHolder(b, to); err != nil {
		return err
	}
	next := b.Clone()
	if err := next.Claims.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	if err := next.Claims.transfer(from, to, amount); err != nil {
		return err
	}
	if err := e.commit(next); err != nil {
		return err
	}
	e.emit(events.BondClaimsTransferred{Bond: next.Address, From: from, To: to, Amount: cloneInt(amount)})
	return nil
}

// checkHolder rejects the custody and zero addresses as claim holders. Claims
// held by custody would have no collateral behind them.
func checkHolder(b *Bond, holder common.Address) error {
	switch holder {
	case common.Address{}:
		return fmt.Errorf("%w: zero address cannot hold claims", ErrInvalidParams)
	case b.Address:
		return fmt.Errorf("%w: bond custody cannot hold claims", ErrInvalidParams)
	}
	return nil
}
