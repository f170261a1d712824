package uniswapv3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"dualbond/native/bond"
)

const poolABIJSON = `[{"inputs":[{"internalType":"uint32[]","name":"secondsAgos","type":"uint32[]"}],"name":"observe","outputs":[{"internalType":"int56[]","name":"tickCumulatives","type":"int56[]"},{"internalType":"uint160[]","name":"secondsPerLiquidityCumulativeX128s","type":"uint160[]"}],"stateMutability":"view","type":"function"}]`

var poolABI = mustParseABI(poolABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("uniswapv3: parse pool abi: %v", err))
	}
	return parsed
}

// ErrMalformedResponse is returned when the node answers with data that does
// not decode as an observe result.
var ErrMalformedResponse = errors.New("uniswapv3: malformed observe response")

// ContractCaller is the subset of the Ethereum RPC used for read-only calls.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial opens an RPC client for endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("uniswapv3: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Pool reads TWAP observations from a deployed pool contract.
type Pool struct {
	caller  ContractCaller
	address common.Address
	timeout time.Duration
}

var _ bond.Pool = (*Pool)(nil)

// NewPool binds a pool contract.
func NewPool(caller ContractCaller, address common.Address) *Pool {
	return &Pool{caller: caller, address: address}
}

// Address returns the bound contract address.
func (p *Pool) Address() common.Address { return p.address }

// Observe calls observe(secondsAgos) at the latest block and returns the tick
// cumulatives.
func (p *Pool) Observe(ctx context.Context, secondsAgos []uint32) ([]int64, error) {
	if p == nil || p.caller == nil {
		return nil, fmt.Errorf("uniswapv3: pool not initialised")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	input, err := poolABI.Pack("observe", secondsAgos)
	if err != nil {
		return nil, fmt.Errorf("uniswapv3: pack observe: %w", err)
	}
	to := p.address
	output, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("uniswapv3: observe %s: %w", p.address.Hex(), err)
	}
	values, err := poolABI.Unpack("observe", output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("%w: expected 2 outputs, got %d", ErrMalformedResponse, len(values))
	}
	cumulatives, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected tick cumulative type %T", ErrMalformedResponse, values[0])
	}
	if len(cumulatives) != len(secondsAgos) {
		return nil, fmt.Errorf("%w: expected %d cumulatives, got %d", ErrMalformedResponse, len(secondsAgos), len(cumulatives))
	}
	out := make([]int64, len(cumulatives))
	for i, value := range cumulatives {
		if value == nil || !value.IsInt64() {
			return nil, fmt.Errorf("%w: cumulative %d out of range", ErrMalformedResponse, i)
		}
		out[i] = value.Int64()
	}
	return out, nil
}

// Resolver binds pool addresses to a shared RPC client.
type Resolver struct {
	caller  ContractCaller
	timeout time.Duration
}

var _ bond.PoolResolver = (*Resolver)(nil)

// NewResolver returns a resolver backed by caller.
func NewResolver(caller ContractCaller) *Resolver {
	return &Resolver{caller: caller}
}

// Pool implements bond.PoolResolver.
func (r *Resolver) Pool(addr common.Address) (bond.Pool, error) {
	if r == nil || r.caller == nil {
		return nil, fmt.Errorf("uniswapv3: rpc client not configured")
	}
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("uniswapv3: pool address required")
	}
	pool := NewPool(r.caller, addr)
	pool.timeout = r.timeout
	return pool, nil
}

// SetTimeout bounds each observe call. Zero disables the bound.
func (r *Resolver) SetTimeout(timeout time.Duration) {
	if timeout >= 0 {
		r.timeout = timeout
	}
}
