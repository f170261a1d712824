package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"dualbond/native/bond"
)

// BondMetrics records bond lifecycle activity. It implements bond.Observer.
type BondMetrics struct {
	deposits       *prometheus.CounterVec
	redemptions    *prometheus.CounterVec
	oracleReads    *prometheus.CounterVec
	settlement     *prometheus.GaugeVec
	totalDeposited *prometheus.GaugeVec
	claimSupply    *prometheus.GaugeVec
	forfeitedDust  *prometheus.CounterVec
}

var (
	bondOnce     sync.Once
	bondRegistry *BondMetrics
)

var _ bond.Observer = (*BondMetrics)(nil)

// Bond returns the process-wide bond metrics, registering them on first use.
func Bond() *BondMetrics {
	bondOnce.Do(func() {
		bondRegistry = &BondMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dualbond",
				Name:      "deposits_total",
				Help:      "Accepted stable deposits per bond.",
			}, []string{"bond"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dualbond",
				Name:      "redemptions_total",
				Help:      "Successful redemptions per bond and payout branch.",
			}, []string{"bond", "branch"}),
			oracleReads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dualbond",
				Name:      "oracle_reads_total",
				Help:      "TWAP reads per bond, window and outcome.",
			}, []string{"bond", "window", "outcome"}),
			settlement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dualbond",
				Name:      "settlement_price",
				Help:      "Locked settlement price in stable units per secondary unit.",
			}, []string{"bond"}),
			totalDeposited: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dualbond",
				Name:      "stable_deposited",
				Help:      "Cumulative stable base units deposited per bond.",
			}, []string{"bond"}),
			claimSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dualbond",
				Name:      "claim_supply",
				Help:      "Outstanding claim base units per bond.",
			}, []string{"bond"}),
			forfeitedDust: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dualbond",
				Name:      "forfeited_dust_total",
				Help:      "Claim base units below one stable unit forfeited on redemption.",
			}, []string{"bond"}),
		}
		prometheus.MustRegister(
			bondRegistry.deposits,
			bondRegistry.redemptions,
			bondRegistry.oracleReads,
			bondRegistry.settlement,
			bondRegistry.totalDeposited,
			bondRegistry.claimSupply,
			bondRegistry.forfeitedDust,
		)
	})
	return bondRegistry
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

var q192 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 192))

func priceFloat(sqrtPrice *uint256.Int) float64 {
	if sqrtPrice == nil {
		return 0
	}
	sq := new(big.Int).Mul(sqrtPrice.ToBig(), sqrtPrice.ToBig())
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(sq), q192).Float64()
	return f
}

func (m *BondMetrics) ObserveDeposit(addr common.Address, _ *uint256.Int, totalDeposited, claimSupply *uint256.Int) {
	if m == nil {
		return
	}
	label := addr.Hex()
	m.deposits.WithLabelValues(label).Inc()
	m.totalDeposited.WithLabelValues(label).Set(toFloat(totalDeposited))
	m.claimSupply.WithLabelValues(label).Set(toFloat(claimSupply))
}

func (m *BondMetrics) ObserveRedemption(addr common.Address, branch bond.Branch, dust, claimSupply *uint256.Int) {
	if m == nil {
		return
	}
	label := addr.Hex()
	m.redemptions.WithLabelValues(label, string(branch)).Inc()
	m.claimSupply.WithLabelValues(label).Set(toFloat(claimSupply))
	if dust != nil && !dust.IsZero() {
		m.forfeitedDust.WithLabelValues(label).Add(toFloat(dust))
	}
}

func (m *BondMetrics) ObserveOracleRead(addr common.Address, window time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.oracleReads.WithLabelValues(addr.Hex(), window.String(), outcome).Inc()
}

func (m *BondMetrics) ObservePriceLocked(addr common.Address, price *uint256.Int) {
	if m == nil {
		return
	}
	m.settlement.WithLabelValues(addr.Hex()).Set(priceFloat(price))
}
