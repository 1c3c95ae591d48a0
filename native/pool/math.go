package pool

import (
	"github.com/holiman/uint256"

	"lendpool/native/fixedpoint"
)

var maxUint256 = new(uint256.Int).SetAllOne()

func positive(v *uint256.Int) bool { return v != nil && !v.IsZero() }

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, errBalanceUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// fundsToShares converts an asset amount into shares at the current price.
// An empty pool mints one share per unit. A failed pool, holding shares but no
// funds, values existing shares at one unit in total so new capital dilutes
// the remaining positions to near zero.
func fundsToShares(funds, totalShares, poolFunds *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	switch {
	case totalShares.IsZero():
		return fixedpoint.Clone(funds), nil
	case poolFunds.IsZero():
		return fixedpoint.Mul(funds, totalShares)
	default:
		return fixedpoint.MulDiv(funds, totalShares, poolFunds, rounding)
	}
}

// sharesToFunds converts shares into their asset value, rounding down.
func sharesToFunds(shares, totalShares, poolFunds *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() || poolFunds.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulDiv(shares, poolFunds, totalShares, fixedpoint.Down)
}

// poolFundsLimit returns the asset value the stake can support at the target
// ratio. A zero target leaves deposits unbounded.
func poolFundsLimit(staked, totalShares, poolFunds *uint256.Int, target fixedpoint.Percent) (*uint256.Int, error) {
	if target == fixedpoint.ZeroPercent {
		return fixedpoint.Clone(maxUint256), nil
	}
	supported, err := fixedpoint.MulDiv(staked, fixedpoint.OneHundredPercent.Int(), target.Int(), fixedpoint.Down)
	if err != nil {
		return nil, err
	}
	if totalShares.IsZero() {
		return supported, nil
	}
	return sharesToFunds(supported, totalShares, poolFunds)
}

// requiredStakeShares returns the smallest stake that keeps
// staked >= (lender + staked) * target.
func requiredStakeShares(lenderShares *uint256.Int, target fixedpoint.Percent) (*uint256.Int, error) {
	if target == fixedpoint.ZeroPercent || lenderShares.IsZero() {
		return new(uint256.Int), nil
	}
	if target >= fixedpoint.OneHundredPercent {
		return fixedpoint.Clone(maxUint256), nil
	}
	return fixedpoint.MulDiv(lenderShares, target.Int(), (fixedpoint.OneHundredPercent - target).Int(), fixedpoint.Up)
}

// stakerEarnings returns the leveraged part of shareholder interest owed to the
// staker: interest * E / (E + 1) where E = staked/total * (factor - 100%).
func stakerEarnings(interest, staked, totalShares *uint256.Int, factor fixedpoint.Percent) (*uint256.Int, error) {
	if interest.IsZero() || staked.IsZero() || totalShares.IsZero() || factor <= fixedpoint.OneHundredPercent {
		return new(uint256.Int), nil
	}
	leverage, err := fixedpoint.Mul(staked, (factor - fixedpoint.OneHundredPercent).Int())
	if err != nil {
		return nil, err
	}
	base, err := fixedpoint.Mul(totalShares, fixedpoint.OneHundredPercent.Int())
	if err != nil {
		return nil, err
	}
	denominator, err := fixedpoint.Add(leverage, base)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(interest, leverage, denominator, fixedpoint.Down)
}
