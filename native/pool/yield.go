package pool

import (
	"github.com/holiman/uint256"

	"lendpool/native/fixedpoint"
)

func toPercent(v *uint256.Int) (fixedpoint.Percent, error) {
	if !v.IsUint64() {
		return fixedpoint.ZeroPercent, fixedpoint.ErrOverflow
	}
	return fixedpoint.Percent(v.Uint64()), nil
}

// lenderAPY derives the lender yield from the loan book APR. Interest is
// earned on the strategized share of pool funds, the protocol fee is taken
// and the staker's leveraged part is removed.
func lenderAPY(cfg Config, strategized, poolFunds, staked, total *uint256.Int, avgAPR fixedpoint.Percent) (fixedpoint.Percent, error) {
	if poolFunds.IsZero() || strategized.IsZero() || avgAPR == fixedpoint.ZeroPercent {
		return fixedpoint.ZeroPercent, nil
	}
	poolAPY, err := fixedpoint.MulDiv(avgAPR.Int(), strategized, poolFunds, fixedpoint.Down)
	if err != nil {
		return fixedpoint.ZeroPercent, err
	}
	afterFee, err := (fixedpoint.OneHundredPercent - cfg.ProtocolFeePercent).Apply(poolAPY, fixedpoint.Down)
	if err != nil {
		return fixedpoint.ZeroPercent, err
	}
	stakerPart, err := stakerEarnings(afterFee, staked, total, cfg.StakerEarnFactor)
	if err != nil {
		return fixedpoint.ZeroPercent, err
	}
	return toPercent(new(uint256.Int).Sub(afterFee, stakerPart))
}

// stakerAPY scales the per-share lender yield by the earn factor.
func stakerAPY(cfg Config, lender fixedpoint.Percent, staked *uint256.Int) (fixedpoint.Percent, error) {
	if staked.IsZero() {
		return fixedpoint.ZeroPercent, nil
	}
	v, err := cfg.StakerEarnFactor.Apply(lender.Int(), fixedpoint.Down)
	if err != nil {
		return fixedpoint.ZeroPercent, err
	}
	return toPercent(v)
}

func (e *Engine) yieldInputs() (Config, *Balances, *uint256.Int, fixedpoint.Percent, error) {
	if e == nil || e.state == nil {
		return Config{}, nil, nil, 0, errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return Config{}, nil, nil, 0, err
	}
	bal, err := e.loadBalances()
	if err != nil {
		return Config{}, nil, nil, 0, err
	}
	total, err := e.totalShares()
	if err != nil {
		return Config{}, nil, nil, 0, err
	}
	apr := fixedpoint.ZeroPercent
	if e.deskView != nil {
		if apr, err = e.deskView.WeightedAvgAPR(); err != nil {
			return Config{}, nil, nil, 0, err
		}
	}
	return cfg, bal, total, apr, nil
}

// CurrentLenderAPY estimates the annual yield of a lender share from the
// current loan book.
func (e *Engine) CurrentLenderAPY() (fixedpoint.Percent, error) {
	cfg, bal, total, apr, err := e.yieldInputs()
	if err != nil {
		return 0, err
	}
	return lenderAPY(cfg, bal.StrategizedFunds, bal.PoolFunds, bal.StakedShares, total, apr)
}

// ProjectedLenderAPY estimates lender yield if strategyRate of pool funds
// were lent at avgAPR.
func (e *Engine) ProjectedLenderAPY(strategyRate, avgAPR fixedpoint.Percent) (fixedpoint.Percent, error) {
	cfg, bal, total, _, err := e.yieldInputs()
	if err != nil {
		return 0, err
	}
	if !strategyRate.Valid() || !avgAPR.Valid() {
		return 0, ErrInvalidAmount
	}
	strategized, err := strategyRate.Apply(bal.PoolFunds, fixedpoint.Down)
	if err != nil {
		return 0, err
	}
	return lenderAPY(cfg, strategized, bal.PoolFunds, bal.StakedShares, total, avgAPR)
}

// CurrentStakerAPY estimates the annual yield on staked capital.
func (e *Engine) CurrentStakerAPY() (fixedpoint.Percent, error) {
	cfg, bal, total, apr, err := e.yieldInputs()
	if err != nil {
		return 0, err
	}
	lender, err := lenderAPY(cfg, bal.StrategizedFunds, bal.PoolFunds, bal.StakedShares, total, apr)
	if err != nil {
		return 0, err
	}
	return stakerAPY(cfg, lender, bal.StakedShares)
}

// Stats summarises balances, share supply and yields.
func (e *Engine) Stats() (*Stats, error) {
	cfg, bal, total, apr, err := e.yieldInputs()
	if err != nil {
		return nil, err
	}
	lc, err := e.loadLifecycle()
	if err != nil {
		return nil, err
	}
	stakedValue, err := sharesToFunds(bal.StakedShares, total, bal.PoolFunds)
	if err != nil {
		return nil, err
	}
	unstakable, err := amountUnstakable(bal, total, cfg, lc.Open)
	if err != nil {
		return nil, err
	}
	ratio, err := maintainsStakeRatio(bal.StakedShares, total, cfg.TargetStakePercent)
	if err != nil {
		return nil, err
	}
	pending, err := e.queue.Len()
	if err != nil {
		return nil, err
	}
	lender, err := lenderAPY(cfg, bal.StrategizedFunds, bal.PoolFunds, bal.StakedShares, total, apr)
	if err != nil {
		return nil, err
	}
	staker, err := stakerAPY(cfg, lender, bal.StakedShares)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Balances:       bal,
		TotalShares:    total,
		LenderShares:   fixedpoint.SubFloor(total, bal.StakedShares),
		StakedValue:    stakedValue,
		Unstakable:     unstakable,
		PendingQueue:   pending,
		Open:           lc.Open,
		StakeRatioMet:  ratio,
		LenderAPY:      lender,
		StakerAPY:      staker,
		WeightedAvgAPR: apr,
	}, nil
}
