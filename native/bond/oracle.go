package bond

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dualbond/core/sqrtprice"
)

// Pool is the external TWAP-capable pool. Observe returns the cumulative tick
// at each of the requested offsets (seconds before now).
type Pool interface {
	Observe(ctx context.Context, secondsAgos []uint32) ([]int64, error)
}

// PoolResolver maps a configured pool address to a live Pool.
type PoolResolver interface {
	Pool(addr common.Address) (Pool, error)
}

// PoolResolverFunc adapts a function to PoolResolver.
type PoolResolverFunc func(addr common.Address) (Pool, error)

// Pool implements PoolResolver.
func (f PoolResolverFunc) Pool(addr common.Address) (Pool, error) { return f(addr) }

// TickMathFunc converts a tick into a Q64.96 sqrt price.
type TickMathFunc func(tick int32) (*uint256.Int, error)

// OracleAdapter reads a settlement sqrt price from a pool. It performs exactly
// one observe call per read and never retries.
type OracleAdapter struct {
	tickMath TickMathFunc
	tracer   trace.Tracer
}

// NewOracleAdapter returns an adapter using tickMath, or the reference tick
// math when nil.
func NewOracleAdapter(tickMath TickMathFunc) *OracleAdapter {
	if tickMath == nil {
		tickMath = sqrtprice.SqrtRatioAtTick
	}
	return &OracleAdapter{tickMath: tickMath, tracer: otel.Tracer("dualbond/bond/oracle")}
}

// WindowSeconds converts a window into whole observation seconds. Windows
// shorter than one second are clamped to one second, the shortest interval a
// pool can average.
func WindowSeconds(window time.Duration) uint32 {
	secs := int64(window / time.Second)
	if secs < 1 {
		return 1
	}
	if secs > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(secs)
}

// ObserveSettlementPrice returns the sqrt price at the arithmetic mean tick of
// the last window. The mean truncates toward zero.
func (a *OracleAdapter) ObserveSettlementPrice(ctx context.Context, pool Pool, window time.Duration) (*uint256.Int, error) {
	if pool == nil {
		return nil, ErrOracleNotSet
	}
	secs := WindowSeconds(window)
	ctx, span := a.tracer.Start(ctx, "bond.oracle.observe", trace.WithAttributes(
		attribute.Int64("twap.window_seconds", int64(secs)),
	))
	defer span.End()

	price, err := a.observe(ctx, pool, secs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return price, nil
}

func (a *OracleAdapter) observe(ctx context.Context, pool Pool, secs uint32) (*uint256.Int, error) {
	cumulatives, err := pool.Observe(ctx, []uint32{secs, 0})
	if err != nil {
		return nil, fmt.Errorf("%w: observe: %w", ErrOracleReadFailure, err)
	}
	if len(cumulatives) != 2 {
		return nil, fmt.Errorf("%w: expected 2 observations, got %d", ErrOracleReadFailure, len(cumulatives))
	}
	delta := cumulatives[1] - cumulatives[0]
	avg := delta / int64(secs)
	if avg < int64(sqrtprice.MinTick) || avg > int64(sqrtprice.MaxTick) {
		return nil, fmt.Errorf("%w: average tick %d out of range", ErrOracleReadFailure, avg)
	}
	price, err := a.tickMath(int32(avg))
	if err != nil {
		return nil, fmt.Errorf("%w: tick math: %w", ErrOracleReadFailure, err)
	}
	if err := sqrtprice.ValidateSqrtPrice(price); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleReadFailure, err)
	}
	return price, nil
}

// InvertedPool reads a pool whose token order is the reverse of the bond's
// price convention. Negated tick cumulatives average to the negated tick,
// whose sqrt ratio is the reciprocal price.
type InvertedPool struct {
	Pool Pool
}

// Observe implements Pool.
func (p InvertedPool) Observe(ctx context.Context, secondsAgos []uint32) ([]int64, error) {
	cumulatives, err := p.Pool.Observe(ctx, secondsAgos)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(cumulatives))
	for i, c := range cumulatives {
		if c == math.MinInt64 {
			return nil, fmt.Errorf("tick cumulative %d cannot be inverted", c)
		}
		out[i] = -c
	}
	return out, nil
}

// FallbackPolicy lists the TWAP windows tried, in order, when locking the
// settlement price. A single window means a failed read is surfaced with no
// fallback.
type FallbackPolicy struct {
	Windows []time.Duration
}

// SingleWindow returns a policy with no degraded-precision fallback.
func SingleWindow(window time.Duration) FallbackPolicy {
	return FallbackPolicy{Windows: []time.Duration{window}}
}

// Ladder returns a policy trying primary first and then each fallback.
func Ladder(primary time.Duration, fallbacks ...time.Duration) FallbackPolicy {
	windows := append([]time.Duration{primary}, fallbacks...)
	return FallbackPolicy{Windows: windows}
}

// AttemptFunc observes each rung of the ladder.
type AttemptFunc func(window time.Duration, err error)

// Read walks the ladder until one window yields a price. Each rung issues one
// pool call. When every rung fails the rung errors, each already matching
// ErrOracleReadFailure, are returned joined.
func (p FallbackPolicy) Read(ctx context.Context, adapter *OracleAdapter, pool Pool, onAttempt AttemptFunc) (*uint256.Int, time.Duration, error) {
	windows := p.Windows
	if len(windows) == 0 {
		windows = []time.Duration{DefaultTWAPWindow}
	}
	var errs []error
	for _, window := range windows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrOracleReadFailure, err))
			break
		}
		price, err := adapter.ObserveSettlementPrice(ctx, pool, window)
		if onAttempt != nil {
			onAttempt(window, err)
		}
		if err == nil {
			return price, window, nil
		}
		errs = append(errs, fmt.Errorf("window %s: %w", window, err))
	}
	return nil, 0, errors.Join(errs...)
}

// DefaultTWAPWindow is the observation window used when none is configured.
const DefaultTWAPWindow = 30 * time.Minute
