package metrics

import (
	"strings"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"lendpool/native/fixedpoint"
	"lendpool/native/pool"
)

// PoolMetrics exports the balances and yields of pool instances.
type PoolMetrics struct {
	balances      *prometheus.GaugeVec
	yields        *prometheus.GaugeVec
	pendingQueue  *prometheus.GaugeVec
	open          *prometheus.GaugeVec
	stakeRatioMet *prometheus.GaugeVec
	lentFunds     *prometheus.GaugeVec
	loanTransfers *prometheus.CounterVec
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

// Pool returns the process wide pool metrics registry.
func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendpool_pool_balance",
				Help: "Pool balance components in whole tokens.",
			}, []string{"pool", "component"}),
			yields: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendpool_pool_yield_percent",
				Help: "Current annual yields and the weighted average loan APR.",
			}, []string{"pool", "kind"}),
			pendingQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendpool_pool_withdrawal_queue_length",
				Help: "Withdrawal requests waiting for liquidity.",
			}, []string{"pool"}),
			open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendpool_pool_open",
				Help: "1 when the pool accepts deposits and loans.",
			}, []string{"pool"}),
			stakeRatioMet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendpool_pool_stake_ratio_met",
				Help: "1 when the staked shares meet the target stake ratio.",
			}, []string{"pool"}),
			lentFunds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendpool_loandesk_lent_funds",
				Help: "Principal outstanding across active loans in whole tokens.",
			}, []string{"pool"}),
			loanTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendpool_loan_transfers_total",
				Help: "Cumulative loan flows in whole tokens segmented by kind.",
			}, []string{"pool", "kind"}),
		}
		prometheus.MustRegister(
			poolRegistry.balances,
			poolRegistry.yields,
			poolRegistry.pendingQueue,
			poolRegistry.open,
			poolRegistry.stakeRatioMet,
			poolRegistry.lentFunds,
			poolRegistry.loanTransfers,
		)
	})
	return poolRegistry
}

// RecordStats publishes a pool snapshot.
func (m *PoolMetrics) RecordStats(poolID string, stats *pool.Stats, lent *uint256.Int, decimals uint8) {
	if m == nil || stats == nil || stats.Balances == nil {
		return
	}
	poolID = labelPool(poolID)
	bal := stats.Balances
	for component, value := range map[string]*uint256.Int{
		"raw_liquidity":    bal.RawLiquidity,
		"allocated":        bal.AllocatedFunds,
		"strategized":      bal.StrategizedFunds,
		"pool_funds":       bal.PoolFunds,
		"pool_funds_limit": bal.PoolFundsLimit,
		"staked_value":     stats.StakedValue,
		"unstakable":       stats.Unstakable,
	} {
		m.balances.WithLabelValues(poolID, component).Set(tokens(value, decimals))
	}
	m.yields.WithLabelValues(poolID, "lender_apy").Set(percent(stats.LenderAPY))
	m.yields.WithLabelValues(poolID, "staker_apy").Set(percent(stats.StakerAPY))
	m.yields.WithLabelValues(poolID, "weighted_avg_apr").Set(percent(stats.WeightedAvgAPR))
	m.pendingQueue.WithLabelValues(poolID).Set(float64(stats.PendingQueue))
	m.open.WithLabelValues(poolID).Set(boolGauge(stats.Open))
	m.stakeRatioMet.WithLabelValues(poolID).Set(boolGauge(stats.StakeRatioMet))
	m.lentFunds.WithLabelValues(poolID).Set(tokens(lent, decimals))
}

// RecordLoanTransfer adds a borrow, repayment or loss amount to the flow
// counters.
func (m *PoolMetrics) RecordLoanTransfer(poolID, kind string, amount *uint256.Int, decimals uint8) {
	if m == nil || amount == nil || amount.IsZero() {
		return
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "unspecified"
	}
	m.loanTransfers.WithLabelValues(labelPool(poolID), kind).Add(tokens(amount, decimals))
}

func labelPool(poolID string) string {
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return "unknown"
	}
	return poolID
}

func tokens(value *uint256.Int, decimals uint8) float64 {
	if value == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(value.ToBig(), -int32(decimals)).Float64()
	return f
}

func percent(p fixedpoint.Percent) float64 {
	f, _ := decimal.New(int64(p), -fixedpoint.PercentDecimals).Float64()
	return f
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
