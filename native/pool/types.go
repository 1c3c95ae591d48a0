package pool

import (
	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
)

// Balances captures the aggregate accounting of a pool. Values are tracked
// incrementally; PoolFunds is never recomputed from its components.
type Balances struct {
	// RawLiquidity is uninvested asset held in pool custody.
	RawLiquidity *uint256.Int
	// AllocatedFunds is reserved for drafted or offered loans.
	AllocatedFunds *uint256.Int
	// StrategizedFunds is principal outstanding in active loans.
	StrategizedFunds *uint256.Int
	// PoolFunds is the asset value backing every share.
	PoolFunds *uint256.Int
	// StakedShares are held by the pool on behalf of the staker.
	StakedShares *uint256.Int
	// PoolFundsLimit caps lender deposits relative to the stake.
	PoolFundsLimit *uint256.Int
}

func newBalances() *Balances {
	return &Balances{
		RawLiquidity:     new(uint256.Int),
		AllocatedFunds:   new(uint256.Int),
		StrategizedFunds: new(uint256.Int),
		PoolFunds:        new(uint256.Int),
		StakedShares:     new(uint256.Int),
		PoolFundsLimit:   new(uint256.Int),
	}
}

func (b *Balances) normalize() {
	for _, field := range []**uint256.Int{
		&b.RawLiquidity, &b.AllocatedFunds, &b.StrategizedFunds,
		&b.PoolFunds, &b.StakedShares, &b.PoolFundsLimit,
	} {
		if *field == nil {
			*field = new(uint256.Int)
		}
	}
}

// Clone returns a deep copy of the balances.
func (b *Balances) Clone() *Balances {
	if b == nil {
		return nil
	}
	return &Balances{
		RawLiquidity:     fixedpoint.Clone(b.RawLiquidity),
		AllocatedFunds:   fixedpoint.Clone(b.AllocatedFunds),
		StrategizedFunds: fixedpoint.Clone(b.StrategizedFunds),
		PoolFunds:        fixedpoint.Clone(b.PoolFunds),
		StakedShares:     fixedpoint.Clone(b.StakedShares),
		PoolFundsLimit:   fixedpoint.Clone(b.PoolFundsLimit),
	}
}

// Config holds the risk and revenue parameters of a pool.
type Config struct {
	TargetStakePercent     fixedpoint.Percent
	TargetLiquidityPercent fixedpoint.Percent
	ProtocolFeePercent     fixedpoint.Percent
	MaxProtocolFeePercent  fixedpoint.Percent
	// StakerEarnFactor multiplies the staker's per-share yield relative to
	// lenders. It is at least 100%.
	StakerEarnFactor    fixedpoint.Percent
	StakerEarnFactorMax fixedpoint.Percent
	// MinWithdrawalRequest is the smallest fund value a withdrawal request
	// may carry.
	MinWithdrawalRequest *uint256.Int
	// StakerInactivityPeriod is the number of seconds without staker activity
	// after which lenders may default loans.
	StakerInactivityPeriod uint64
	// AllowDepositWithOpenRequests lets wallets deposit while they still have
	// queued withdrawal requests.
	AllowDepositWithOpenRequests bool
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	out := c
	out.MinWithdrawalRequest = fixedpoint.Clone(c.MinWithdrawalRequest)
	return out
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.TargetStakePercent >= fixedpoint.OneHundredPercent {
		return errInvalidConfig("target stake percent must be below 100%")
	}
	if !c.TargetLiquidityPercent.Valid() {
		return errInvalidConfig("target liquidity percent exceeds 100%")
	}
	if !c.MaxProtocolFeePercent.Valid() {
		return errInvalidConfig("max protocol fee exceeds 100%")
	}
	if c.ProtocolFeePercent > c.MaxProtocolFeePercent {
		return errInvalidConfig("protocol fee exceeds max protocol fee")
	}
	if c.StakerEarnFactorMax < fixedpoint.OneHundredPercent {
		return errInvalidConfig("staker earn factor max below 100%")
	}
	if c.StakerEarnFactor < fixedpoint.OneHundredPercent || c.StakerEarnFactor > c.StakerEarnFactorMax {
		return errInvalidConfig("staker earn factor outside 100%..max")
	}
	return nil
}

// DefaultConfig returns the baseline parameters for a token with the given
// decimals.
func DefaultConfig(decimals uint8) Config {
	return Config{
		TargetStakePercent:     fixedpoint.PercentOf(10),
		TargetLiquidityPercent: fixedpoint.ZeroPercent,
		ProtocolFeePercent:     fixedpoint.PercentOf(10),
		MaxProtocolFeePercent:  fixedpoint.PercentOf(10),
		StakerEarnFactor:       fixedpoint.PercentOf(150),
		StakerEarnFactorMax:    fixedpoint.PercentOf(500),
		MinWithdrawalRequest:   new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))),
		StakerInactivityPeriod: 90 * 86400,
	}
}

// lifecycle is the persisted open/closed switch plus staker liveness.
type lifecycle struct {
	Open               bool
	OpenedAt           uint64
	ClosedAt           uint64
	LastStakerActivity uint64
}

// RepaySplit reports how a loan payment was distributed.
type RepaySplit struct {
	Principal      *uint256.Int
	Interest       *uint256.Int
	ProtocolFee    *uint256.Int
	StakerEarnings *uint256.Int
	StakerShares   *uint256.Int
	LenderInterest *uint256.Int
}

// DefaultLoss reports how a realised loss was absorbed.
type DefaultLoss struct {
	Loss         *uint256.Int
	StakerLoss   *uint256.Int
	LenderLoss   *uint256.Int
	SharesBurned *uint256.Int
}

// Fulfillment describes one withdrawal request served from the queue.
type Fulfillment struct {
	RequestID uint64
	Wallet    crypto.Address
	Shares    *uint256.Int
	Funds     *uint256.Int
	Remaining *uint256.Int
	// Dropped marks a request removed because it redeemed for nothing.
	Dropped bool
}

// Stats is a point in time summary of the pool.
type Stats struct {
	Balances       *Balances
	TotalShares    *uint256.Int
	LenderShares   *uint256.Int
	StakedValue    *uint256.Int
	Unstakable     *uint256.Int
	PendingQueue   uint64
	Open           bool
	StakeRatioMet  bool
	LenderAPY      fixedpoint.Percent
	StakerAPY      fixedpoint.Percent
	WeightedAvgAPR fixedpoint.Percent
}
