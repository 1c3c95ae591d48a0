package pool

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
)

// Open lets the pool accept deposits, stake and new loans.
func (e *Engine) Open(caller crypto.Address) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		lc, err := e.loadLifecycle()
		if err != nil {
			return err
		}
		if lc.Open {
			return fmt.Errorf("%w: pool already open", ErrInvalidState)
		}
		now := e.now()
		lc.Open = true
		lc.OpenedAt = now
		lc.LastStakerActivity = now
		if err := e.storeLifecycle(lc); err != nil {
			return err
		}
		e.emit(EventTypeOpened, map[string]string{"staker": caller.String()})
		return nil
	})
}

// Close stops new deposits and loans. It requires that no loan is outstanding
// and no offer holds allocated funds.
func (e *Engine) Close(caller crypto.Address) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		lc, err := e.loadLifecycle()
		if err != nil {
			return err
		}
		if !lc.Open {
			return fmt.Errorf("%w: pool already closed", ErrInvalidState)
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if !bal.AllocatedFunds.IsZero() || !bal.StrategizedFunds.IsZero() {
			return ErrLoansOutstanding
		}
		if e.deskView != nil {
			lent, err := e.deskView.LentFunds()
			if err != nil {
				return err
			}
			allocated, err := e.deskView.AllocatedFunds()
			if err != nil {
				return err
			}
			if !lent.IsZero() || !allocated.IsZero() {
				return ErrLoansOutstanding
			}
		}
		now := e.now()
		lc.Open = false
		lc.ClosedAt = now
		lc.LastStakerActivity = now
		if err := e.storeLifecycle(lc); err != nil {
			return err
		}
		e.emit(EventTypeClosed, map[string]string{"staker": caller.String()})
		return nil
	})
}

// TransferShares moves unlocked shares between wallets.
func (e *Engine) TransferShares(from, to crypto.Address, amount *uint256.Int) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		if from == e.address || to == e.address {
			return fmt.Errorf("%w: staked shares are not transferable", ErrUnauthorized)
		}
		unlocked, err := e.unlockedShares(from)
		if err != nil {
			return err
		}
		if amount.Gt(unlocked) {
			return ErrInsufficientShares
		}
		if err := e.shares.Transfer(from, to, amount); err != nil {
			return err
		}
		e.emit(EventTypeSharesTransferred, map[string]string{
			"from":   from.String(),
			"to":     to.String(),
			"shares": amount.Dec(),
		})
		return nil
	})
}

// updateConfig applies change to the stored configuration after authorize
// passes and the result validates.
func (e *Engine) updateConfig(authorize func() error, change func(cfg *Config) error, field, value string) error {
	return e.mutate(func() error {
		if err := authorize(); err != nil {
			return err
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if err := change(&cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := e.storeConfig(cfg); err != nil {
			return err
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if err := e.refreshLimit(bal, cfg); err != nil {
			return err
		}
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		e.emit(EventTypeConfigUpdated, map[string]string{"field": field, "value": value})
		return nil
	})
}

func (e *Engine) requireGovernance(caller crypto.Address) func() error {
	return func() error {
		if !e.isGovernance(caller) {
			return fmt.Errorf("%w: governance only", ErrUnauthorized)
		}
		return nil
	}
}

// SetTargetStakePercent updates the stake ratio the pool must maintain.
func (e *Engine) SetTargetStakePercent(caller crypto.Address, p fixedpoint.Percent) error {
	return e.updateConfig(e.requireGovernance(caller), func(cfg *Config) error {
		cfg.TargetStakePercent = p
		return nil
	}, "targetStakePercent", p.String())
}

// SetTargetLiquidityPercent updates the share of pool funds kept liquid when
// offering loans.
func (e *Engine) SetTargetLiquidityPercent(caller crypto.Address, p fixedpoint.Percent) error {
	return e.updateConfig(e.requireGovernance(caller), func(cfg *Config) error {
		cfg.TargetLiquidityPercent = p
		return nil
	}, "targetLiquidityPercent", p.String())
}

// SetProtocolFeePercent updates the treasury share of interest, bounded by
// MaxProtocolFeePercent.
func (e *Engine) SetProtocolFeePercent(caller crypto.Address, p fixedpoint.Percent) error {
	return e.updateConfig(e.requireGovernance(caller), func(cfg *Config) error {
		cfg.ProtocolFeePercent = p
		return nil
	}, "protocolFeePercent", p.String())
}

// SetStakerEarnFactorMax updates the upper bound of the staker earn factor and
// lowers the current factor when it exceeds the new bound.
func (e *Engine) SetStakerEarnFactorMax(caller crypto.Address, p fixedpoint.Percent) error {
	return e.updateConfig(e.requireGovernance(caller), func(cfg *Config) error {
		cfg.StakerEarnFactorMax = p
		if cfg.StakerEarnFactor > p {
			cfg.StakerEarnFactor = p
		}
		return nil
	}, "stakerEarnFactorMax", p.String())
}

// SetStakerEarnFactor lets the staker tune its leverage within 100%..max.
func (e *Engine) SetStakerEarnFactor(caller crypto.Address, p fixedpoint.Percent) error {
	return e.updateConfig(func() error {
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		return e.touchStaker()
	}, func(cfg *Config) error {
		cfg.StakerEarnFactor = p
		return nil
	}, "stakerEarnFactor", p.String())
}

// SetMinWithdrawalRequest updates the minimum fund value of a withdrawal
// request.
func (e *Engine) SetMinWithdrawalRequest(caller crypto.Address, amount *uint256.Int) error {
	return e.updateConfig(e.requireGovernance(caller), func(cfg *Config) error {
		cfg.MinWithdrawalRequest = fixedpoint.Clone(amount)
		return nil
	}, "minWithdrawalRequest", fixedpoint.Clone(amount).Dec())
}

// SetAllowDepositWithOpenRequests toggles whether wallets with queued
// withdrawals may deposit.
func (e *Engine) SetAllowDepositWithOpenRequests(caller crypto.Address, allow bool) error {
	return e.updateConfig(e.requireGovernance(caller), func(cfg *Config) error {
		cfg.AllowDepositWithOpenRequests = allow
		return nil
	}, "allowDepositWithOpenRequests", strconv.FormatBool(allow))
}
