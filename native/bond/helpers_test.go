package bond

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/core/events"
	"dualbond/core/sqrtprice"
)

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, common.AddressLength))
	return addr
}

var (
	ownerAddr = newTestAddress(0x01)
	aliceAddr = newTestAddress(0xA1)
	bobAddr   = newTestAddress(0xB0)
	poolAddr  = newTestAddress(0xEE)
)

// memStore keeps deep copies of persisted bonds.
type memStore struct {
	mu      sync.Mutex
	bonds   map[common.Address]*Bond
	saves   int
	failErr error
}

func newMemStore() *memStore {
	return &memStore{bonds: make(map[common.Address]*Bond)}
}

func (m *memStore) LoadBond(addr common.Address) (*Bond, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bonds[addr]
	if !ok {
		return nil, false, nil
	}
	return b.Clone(), true, nil
}

func (m *memStore) SaveBond(b *Bond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.bonds[b.Address] = b.Clone()
	return nil
}

func (m *memStore) stored(addr common.Address) *Bond {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bonds[addr].Clone()
}

// fakeAsset is a minimal token ledger with allowances.
type fakeAsset struct {
	mu          sync.Mutex
	symbol      string
	balances    map[common.Address]*uint256.Int
	allowances  map[AllowanceKey]*uint256.Int
	transferErr error
}

func newFakeAsset(symbol string) *fakeAsset {
	return &fakeAsset{
		symbol:     symbol,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[AllowanceKey]*uint256.Int),
	}
}

func (a *fakeAsset) Symbol() string { return a.symbol }

func (a *fakeAsset) BalanceOf(_ context.Context, holder common.Address) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneInt(a.balances[holder]), nil
}

func (a *fakeAsset) credit(holder common.Address, amount uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[holder] = new(uint256.Int).Add(cloneInt(a.balances[holder]), uint256.NewInt(amount))
}

func (a *fakeAsset) approve(owner, spender common.Address, amount *uint256.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowances[AllowanceKey{Owner: owner, Spender: spender}] = cloneInt(amount)
}

func (a *fakeAsset) balance(holder common.Address) *uint256.Int {
	bal, _ := a.BalanceOf(context.Background(), holder)
	return bal
}

func (a *fakeAsset) move(from, to common.Address, amount *uint256.Int) error {
	bal := cloneInt(a.balances[from])
	if bal.Lt(amount) {
		return fmt.Errorf("fake asset: balance %s < %s", bal, amount)
	}
	a.balances[from] = bal.Sub(bal, amount)
	a.balances[to] = new(uint256.Int).Add(cloneInt(a.balances[to]), amount)
	return nil
}

func (a *fakeAsset) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transferErr != nil {
		return a.transferErr
	}
	return a.move(from, to, amount)
}

func (a *fakeAsset) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := AllowanceKey{Owner: from, Spender: spender}
	allowance := cloneInt(a.allowances[key])
	if allowance.Lt(amount) {
		return fmt.Errorf("fake asset: allowance %s < %s", allowance, amount)
	}
	if err := a.move(from, to, amount); err != nil {
		return err
	}
	a.allowances[key] = allowance.Sub(allowance, amount)
	return nil
}

func (a *fakeAsset) RefundAllowance(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := AllowanceKey{Owner: owner, Spender: spender}
	a.allowances[key] = new(uint256.Int).Add(cloneInt(a.allowances[key]), amount)
	return nil
}

func (a *fakeAsset) allowance(owner, spender common.Address) *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneInt(a.allowances[AllowanceKey{Owner: owner, Spender: spender}])
}

// scaledAsset reports a fixed decimal scale for the wrapped asset.
type scaledAsset struct {
	*fakeAsset
	decimals uint8
}

func (a scaledAsset) Decimals() uint8 { return a.decimals }

func withStableDecimals(decimals uint8) func(*Config) {
	return func(cfg *Config) {
		cfg.Stable = scaledAsset{fakeAsset: cfg.Stable.(*fakeAsset), decimals: decimals}
	}
}

type mintCall struct {
	caller    common.Address
	amount    *uint256.Int
	recipient common.Address
}

type fakeAuthority struct {
	mu    sync.Mutex
	calls []mintCall
	err   error
}

func (f *fakeAuthority) MintOnRedemption(_ context.Context, caller common.Address, amount *uint256.Int, recipient common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, mintCall{caller: caller, amount: cloneInt(amount), recipient: recipient})
	return nil
}

func (f *fakeAuthority) minted() []mintCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mintCall(nil), f.calls...)
}

// countingPool reports a constant average tick and counts observe calls.
type countingPool struct {
	calls       atomic.Int64
	mu          sync.Mutex
	tick        int64
	failWindows map[uint32]error
	failAll     error
	requested   [][]uint32
}

func (p *countingPool) Observe(_ context.Context, secondsAgos []uint32) ([]int64, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requested = append(p.requested, append([]uint32(nil), secondsAgos...))
	if p.failAll != nil {
		return nil, p.failAll
	}
	if err, ok := p.failWindows[secondsAgos[0]]; ok {
		return nil, err
	}
	window := int64(secondsAgos[0])
	return []int64{1_000_000, 1_000_000 + p.tick*window}, nil
}

func (p *countingPool) setTick(tick int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick = tick
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	mu          sync.Mutex
	deposits    int
	redemptions map[Branch]int
	oracleReads []error
	locks       int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{redemptions: make(map[Branch]int)}
}

func (o *recordingObserver) ObserveDeposit(common.Address, *uint256.Int, *uint256.Int, *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deposits++
}

func (o *recordingObserver) ObserveRedemption(_ common.Address, branch Branch, _ *uint256.Int, _ *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.redemptions[branch]++
}

func (o *recordingObserver) ObserveOracleRead(_ common.Address, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.oracleReads = append(o.oracleReads, err)
}

func (o *recordingObserver) ObservePriceLocked(common.Address, *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.locks++
}

const (
	testDeadline = int64(1_000)
	testMaturity = int64(2_000)
	// usdc is one stable unit at six decimals.
	usdc = uint64(1_000_000)
)

func testParams() Params {
	return Params{
		Name:             "Dual Note 1",
		Symbol:           "DN1",
		StableAsset:      "usdc",
		SecondaryAsset:   "nhb",
		StableCap:        uint256.NewInt(1_000 * usdc),
		IssuanceDeadline: testDeadline,
		Maturity:         testMaturity,
		StrikePrice:      new(uint256.Int).Set(sqrtprice.Q96),
		Owner:            ownerAddr,
		PriceOracle:      poolAddr,
	}
}

type harness struct {
	t         *testing.T
	engine    *Engine
	store     *memStore
	stable    *fakeAsset
	authority *fakeAuthority
	pool      *countingPool
	recorder  *events.Recorder
	observer  *recordingObserver
	now       int64
	bond      common.Address
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	return newHarnessFor(t, testParams(), opts...)
}

func newHarnessFor(t *testing.T, params Params, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		store:     newMemStore(),
		stable:    newFakeAsset("USDC"),
		authority: &fakeAuthority{},
		pool:      &countingPool{},
		recorder:  &events.Recorder{},
		observer:  newRecordingObserver(),
		now:       100,
	}
	cfg := Config{
		Store:     h.store,
		Stable:    h.stable,
		Authority: h.authority,
		Pools: PoolResolverFunc(func(addr common.Address) (Pool, error) {
			if addr != poolAddr {
				return nil, fmt.Errorf("unknown pool %s", addr.Hex())
			}
			return h.pool, nil
		}),
		Fallback: SingleWindow(10 * time.Minute),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.engine = NewEngine(cfg)
	h.engine.SetNowFunc(func() int64 { return h.now })
	h.engine.SetEmitter(h.recorder)
	h.engine.SetObserver(h.observer)
	b, err := h.engine.Open(params)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.bond = b.Address
	return h
}

// fund credits holder with stable units and approves the bond to pull them.
func (h *harness) fund(holder common.Address, amount uint64) {
	h.stable.credit(holder, amount)
	h.stable.approve(holder, h.bond, uint256.NewInt(amount))
}

func (h *harness) deposit(holder common.Address, amount uint64) *uint256.Int {
	h.t.Helper()
	h.fund(holder, amount)
	claims, err := h.engine.Deposit(context.Background(), holder, uint256.NewInt(amount))
	if err != nil {
		h.t.Fatalf("deposit %d: %v", amount, err)
	}
	return claims
}

func claimsFor(stable uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(stable), uint256.NewInt(1_000_000_000_000))
}

func mustErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
