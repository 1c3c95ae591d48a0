package pool

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
)

// canOffer checks liquidity, the liquidity reserve and the stake ratio for a
// new allocation of amount.
func (e *Engine) canOffer(amount *uint256.Int) error {
	if err := e.checkActive(); err != nil {
		return err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	bal, err := e.loadBalances()
	if err != nil {
		return err
	}
	total, err := e.totalShares()
	if err != nil {
		return err
	}
	ok, err := maintainsStakeRatio(bal.StakedShares, total, cfg.TargetStakePercent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: stake ratio below target", ErrInsufficientStake)
	}
	if amount.Gt(bal.RawLiquidity) {
		return ErrInsufficientLiquidity
	}
	reserve, err := cfg.TargetLiquidityPercent.Apply(bal.PoolFunds, fixedpoint.Up)
	if err != nil {
		return err
	}
	if new(uint256.Int).Sub(bal.RawLiquidity, amount).Lt(reserve) {
		return fmt.Errorf("%w: offer breaches liquidity reserve", ErrInsufficientLiquidity)
	}
	return nil
}

// CanOffer reports whether a loan of amount could be funded now. The error
// describes why not when the answer is false.
func (e *Engine) CanOffer(amount *uint256.Int) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if !positive(amount) {
		return false, ErrInvalidAmount
	}
	if err := e.canOffer(amount); err != nil {
		return false, err
	}
	return true, nil
}

// OnOfferAllocate reserves amount of raw liquidity for a drafted loan offer.
func (e *Engine) OnOfferAllocate(caller crypto.Address, amount *uint256.Int) error {
	return e.mutate(func() error {
		if err := e.requireDesk(caller); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		if err := e.canOffer(amount); err != nil {
			return err
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if bal.RawLiquidity, err = sub(bal.RawLiquidity, amount); err != nil {
			return ErrInsufficientLiquidity
		}
		bal.AllocatedFunds = new(uint256.Int).Add(bal.AllocatedFunds, amount)
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		e.emit(EventTypeOfferAllocated, map[string]string{"amount": amount.Dec()})
		return nil
	})
}

// OnOfferDeallocate releases previously reserved liquidity.
func (e *Engine) OnOfferDeallocate(caller crypto.Address, amount *uint256.Int) error {
	return e.mutate(func() error {
		if err := e.requireDesk(caller); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if bal.AllocatedFunds, err = sub(bal.AllocatedFunds, amount); err != nil {
			return fmt.Errorf("%w: deallocation exceeds allocated funds", ErrInvalidAmount)
		}
		bal.RawLiquidity = new(uint256.Int).Add(bal.RawLiquidity, amount)
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		e.emit(EventTypeOfferDeallocated, map[string]string{"amount": amount.Dec()})
		return nil
	})
}

// OnBorrow moves allocated funds into the active loan book and pays the
// borrower.
func (e *Engine) OnBorrow(caller crypto.Address, loanID uint64, borrower crypto.Address, amount *uint256.Int) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireDesk(caller); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if bal.AllocatedFunds, err = sub(bal.AllocatedFunds, amount); err != nil {
			return fmt.Errorf("%w: borrow exceeds allocated funds", ErrInsufficientLiquidity)
		}
		bal.StrategizedFunds = new(uint256.Int).Add(bal.StrategizedFunds, amount)
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		if err := e.asset.Transfer(e.address, borrower, amount); err != nil {
			return err
		}
		e.emit(EventTypeLoanFunded, map[string]string{
			"loanId":   strconv.FormatUint(loanID, 10),
			"borrower": borrower.String(),
			"amount":   amount.Dec(),
		})
		return nil
	})
}

// OnRepay pulls transferAmount from payer and distributes the interest part
// between the treasury, the staker and the shareholders. The principal part
// returns from the loan book to raw liquidity.
func (e *Engine) OnRepay(caller crypto.Address, loanID uint64, borrower, payer crypto.Address, transferAmount, interestPayable *uint256.Int) (*RepaySplit, error) {
	var split *RepaySplit
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireDesk(caller); err != nil {
			return err
		}
		if !positive(transferAmount) {
			return ErrInvalidAmount
		}
		interest := fixedpoint.Clone(interestPayable)
		principal, err := sub(transferAmount, interest)
		if err != nil {
			return fmt.Errorf("%w: interest exceeds payment", ErrInvalidAmount)
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if bal.StrategizedFunds, err = sub(bal.StrategizedFunds, principal); err != nil {
			return fmt.Errorf("%w: principal exceeds strategized funds", ErrInvalidAmount)
		}
		fee, err := cfg.ProtocolFeePercent.Apply(interest, fixedpoint.Down)
		if err != nil {
			return err
		}
		if !fee.IsZero() && e.treasury.IsZero() {
			return errTreasuryNotConfigured
		}
		shareholderInterest := new(uint256.Int).Sub(interest, fee)
		total, err := e.totalShares()
		if err != nil {
			return err
		}
		stakerEarned, err := stakerEarnings(shareholderInterest, bal.StakedShares, total, cfg.StakerEarnFactor)
		if err != nil {
			return err
		}
		lenderInterest := new(uint256.Int).Sub(shareholderInterest, stakerEarned)

		if bal.RawLiquidity, err = fixedpoint.Add(bal.RawLiquidity, principal); err != nil {
			return err
		}
		if bal.RawLiquidity, err = fixedpoint.Add(bal.RawLiquidity, lenderInterest); err != nil {
			return err
		}
		if bal.PoolFunds, err = fixedpoint.Add(bal.PoolFunds, lenderInterest); err != nil {
			return err
		}

		// Staker earnings buy staked shares at the price after lender interest.
		stakerShares := new(uint256.Int)
		if !stakerEarned.IsZero() {
			if stakerShares, err = fundsToShares(stakerEarned, total, bal.PoolFunds, fixedpoint.Down); err != nil {
				return err
			}
			if bal.RawLiquidity, err = fixedpoint.Add(bal.RawLiquidity, stakerEarned); err != nil {
				return err
			}
			if bal.PoolFunds, err = fixedpoint.Add(bal.PoolFunds, stakerEarned); err != nil {
				return err
			}
			bal.StakedShares = new(uint256.Int).Add(bal.StakedShares, stakerShares)
			if err := e.shares.Mint(e.address, e.address, stakerShares); err != nil {
				return err
			}
		}
		if err := e.refreshLimit(bal, cfg); err != nil {
			return err
		}
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		if err := e.asset.Transfer(payer, e.address, transferAmount); err != nil {
			return err
		}
		if !fee.IsZero() {
			if err := e.asset.Transfer(e.address, e.treasury, fee); err != nil {
				return err
			}
		}
		split = &RepaySplit{
			Principal:      principal,
			Interest:       interest,
			ProtocolFee:    fee,
			StakerEarnings: stakerEarned,
			StakerShares:   stakerShares,
			LenderInterest: lenderInterest,
		}
		e.emit(EventTypeRepayment, map[string]string{
			"loanId":         strconv.FormatUint(loanID, 10),
			"borrower":       borrower.String(),
			"payer":          payer.String(),
			"amount":         transferAmount.Dec(),
			"principal":      principal.Dec(),
			"interest":       interest.Dec(),
			"protocolFee":    fee.Dec(),
			"stakerEarnings": stakerEarned.Dec(),
			"lenderInterest": lenderInterest.Dec(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return split, nil
}

// OnDefault realises loss on the loan book. Staked shares absorb the loss
// first; any remainder lowers the share price for every holder.
func (e *Engine) OnDefault(caller crypto.Address, loanID uint64, loss *uint256.Int) (*DefaultLoss, error) {
	var out *DefaultLoss
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireDesk(caller); err != nil {
			return err
		}
		loss = fixedpoint.Clone(loss)
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if loss.Gt(bal.StrategizedFunds) {
			return fmt.Errorf("%w: loss exceeds strategized funds", ErrInvalidAmount)
		}
		result := &DefaultLoss{
			Loss:         loss,
			StakerLoss:   new(uint256.Int),
			LenderLoss:   new(uint256.Int),
			SharesBurned: new(uint256.Int),
		}
		if !loss.IsZero() {
			total, err := e.totalShares()
			if err != nil {
				return err
			}
			stakedValue, err := sharesToFunds(bal.StakedShares, total, bal.PoolFunds)
			if err != nil {
				return err
			}
			lossShares, err := fundsToShares(loss, total, bal.PoolFunds, fixedpoint.Up)
			if err != nil {
				return err
			}
			result.SharesBurned = fixedpoint.Min(lossShares, bal.StakedShares)
			result.StakerLoss = fixedpoint.Min(loss, stakedValue)
			result.LenderLoss = new(uint256.Int).Sub(loss, result.StakerLoss)

			bal.StakedShares = new(uint256.Int).Sub(bal.StakedShares, result.SharesBurned)
			bal.StrategizedFunds = new(uint256.Int).Sub(bal.StrategizedFunds, loss)
			if bal.PoolFunds, err = sub(bal.PoolFunds, loss); err != nil {
				return err
			}
			if !result.SharesBurned.IsZero() {
				if err := e.shares.Burn(e.address, e.address, result.SharesBurned); err != nil {
					return err
				}
			}
			if err := e.refreshLimit(bal, cfg); err != nil {
				return err
			}
			if err := e.storeBalances(bal); err != nil {
				return err
			}
		}
		e.emit(EventTypeDefault, map[string]string{
			"loanId":       strconv.FormatUint(loanID, 10),
			"loss":         loss.Dec(),
			"stakerLoss":   result.StakerLoss.Dec(),
			"lenderLoss":   result.LenderLoss.Dec(),
			"sharesBurned": result.SharesBurned.Dec(),
		})
		out = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OnStakerActivity records a staker action taken through the loan desk.
func (e *Engine) OnStakerActivity(caller crypto.Address) error {
	return e.mutate(func() error {
		if err := e.requireDesk(caller); err != nil {
			return err
		}
		return e.touchStaker()
	})
}

// StakerInactive reports whether wallet may act in place of an inactive
// staker: the staker has been idle for the configured period and wallet holds
// unlocked pool shares.
func (e *Engine) StakerInactive(wallet crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return false, err
	}
	if cfg.StakerInactivityPeriod == 0 {
		return false, nil
	}
	lc, err := e.loadLifecycle()
	if err != nil {
		return false, err
	}
	if e.now() <= lc.LastStakerActivity+cfg.StakerInactivityPeriod {
		return false, nil
	}
	unlocked, err := e.unlockedShares(wallet)
	if err != nil {
		return false, err
	}
	return !unlocked.IsZero(), nil
}
