package loandesk

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
)

// Borrow accepts a made offer, opens the loan and has the pool pay out the
// principal.
func (e *Engine) Borrow(borrower crypto.Address, applicationID uint64) (*Loan, error) {
	var loan *Loan
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		app, err := e.applicationInState(applicationID, ApplicationOfferMade)
		if err != nil {
			return err
		}
		if app.Borrower != borrower {
			return fmt.Errorf("%w: offer %d belongs to %s", ErrUnauthorized, applicationID, app.Borrower)
		}
		offer, err := e.loadOffer(applicationID)
		if err != nil {
			return err
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		now := e.now()
		loan = &Loan{
			ID:                m.NextLoanID,
			ApplicationID:     applicationID,
			Borrower:          borrower,
			Amount:            fixedpoint.Clone(offer.Amount),
			Duration:          offer.Duration,
			GracePeriod:       offer.GracePeriod,
			Installments:      offer.Installments,
			InstallmentAmount: fixedpoint.Clone(offer.InstallmentAmount),
			APR:               offer.APR,
			BorrowedTime:      now,
			Status:            LoanOutstanding,
		}
		detail := &LoanDetail{LoanID: loan.ID, InterestPaidTillTime: now}
		detail.normalize()

		if m.WeightedAvgAPR, err = addToAverage(m.LentFunds, m.WeightedAvgAPR, loan.Amount, loan.APR); err != nil {
			return err
		}
		if m.LentFunds, err = fixedpoint.Add(m.LentFunds, loan.Amount); err != nil {
			return err
		}
		m.AllocatedFunds = fixedpoint.SubFloor(m.AllocatedFunds, loan.Amount)
		m.NextLoanID++

		stats, err := e.loadStats(borrower)
		if err != nil {
			return err
		}
		stats.CountBorrowed++
		stats.RecentLoanID = loan.ID
		if stats.AmountBorrowed, err = fixedpoint.Add(stats.AmountBorrowed, loan.Amount); err != nil {
			return err
		}
		app.Status = ApplicationOfferAccepted

		if err := e.storeLoan(loan); err != nil {
			return err
		}
		if err := e.storeDetail(detail); err != nil {
			return err
		}
		if err := e.storeApplication(app); err != nil {
			return err
		}
		if err := e.storeMeta(m); err != nil {
			return err
		}
		if err := e.storeStats(stats); err != nil {
			return err
		}
		if err := e.pool.OnBorrow(e.address, loan.ID, borrower, loan.Amount); err != nil {
			return err
		}
		e.emit(EventTypeLoanBorrowed, map[string]string{
			"loanId":        strconv.FormatUint(loan.ID, 10),
			"applicationId": strconv.FormatUint(applicationID, 10),
			"borrower":      borrower.String(),
			"amount":        loan.Amount.Dec(),
			"apr":           loan.APR.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Repay pays up to amount towards the caller's loan.
func (e *Engine) Repay(caller crypto.Address, loanID uint64, amount *uint256.Int) (*Payment, error) {
	return e.repay(caller, loanID, amount, caller)
}

// RepayOnBehalf pays up to amount from payer towards borrower's loan.
func (e *Engine) RepayOnBehalf(payer crypto.Address, loanID uint64, amount *uint256.Int, borrower crypto.Address) (*Payment, error) {
	return e.repay(payer, loanID, amount, borrower)
}

func (e *Engine) repay(payer crypto.Address, loanID uint64, amount *uint256.Int, borrower crypto.Address) (*Payment, error) {
	var payment *Payment
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		loan, err := e.loadLoan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanOutstanding {
			return fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loanID, loan.Status)
		}
		if loan.Borrower != borrower {
			return fmt.Errorf("%w: loan %d belongs to %s", ErrUnauthorized, loanID, loan.Borrower)
		}
		detail, err := e.loadDetail(loanID)
		if err != nil {
			return err
		}
		acc, err := accrue(loan, detail, e.now())
		if err != nil {
			return err
		}
		transfer, interest, payableDays, err := payable(acc, amount)
		if err != nil {
			return err
		}
		if !transfer.Eq(acc.balanceDue()) {
			oneDay, err := interestFor(acc.principal, loan.APR, 1)
			if err != nil {
				return err
			}
			if amount.Lt(oneDay) {
				return fmt.Errorf("%w: payment under one day of interest (%s)", ErrBelowMinimum, oneDay.Dec())
			}
		}
		if transfer.IsZero() {
			return fmt.Errorf("%w: nothing payable", ErrInvalidAmount)
		}
		principal := new(uint256.Int).Sub(transfer, interest)

		detail.TotalAmountRepaid = new(uint256.Int).Add(detail.TotalAmountRepaid, transfer)
		detail.PrincipalAmountRepaid = new(uint256.Int).Add(detail.PrincipalAmountRepaid, principal)
		detail.InterestPaid = new(uint256.Int).Add(detail.InterestPaid, interest)
		detail.InterestPaidTillTime += payableDays * Day

		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		if !principal.IsZero() {
			p, err := e.loadParams()
			if err != nil {
				return err
			}
			if m.WeightedAvgAPR, err = removeFromAverage(m.LentFunds, m.WeightedAvgAPR, principal, loan.APR, p.Template.APR); err != nil {
				return err
			}
			m.LentFunds = fixedpoint.SubFloor(m.LentFunds, principal)
		}
		stats, err := e.loadStats(loan.Borrower)
		if err != nil {
			return err
		}
		stats.AmountBaseRepaid = new(uint256.Int).Add(stats.AmountBaseRepaid, principal)
		stats.AmountInterestPaid = new(uint256.Int).Add(stats.AmountInterestPaid, interest)
		repaid := !detail.PrincipalAmountRepaid.Lt(loan.Amount)
		if repaid {
			loan.Status = LoanRepaid
			stats.CountRepaid++
		}

		if err := e.storeDetail(detail); err != nil {
			return err
		}
		if err := e.storeLoan(loan); err != nil {
			return err
		}
		if err := e.storeMeta(m); err != nil {
			return err
		}
		if err := e.storeStats(stats); err != nil {
			return err
		}
		split, err := e.pool.OnRepay(e.address, loanID, loan.Borrower, payer, transfer, interest)
		if err != nil {
			return err
		}
		payment = &Payment{
			LoanID:         loanID,
			Payer:          payer,
			Transfer:       transfer,
			Interest:       interest,
			Principal:      principal,
			PayableDays:    payableDays,
			Repaid:         repaid,
			ProtocolFee:    split.ProtocolFee,
			StakerEarnings: split.StakerEarnings,
		}
		e.emit(EventTypeLoanRepayment, map[string]string{
			"loanId":      strconv.FormatUint(loanID, 10),
			"borrower":    loan.Borrower.String(),
			"payer":       payer.String(),
			"amount":      transfer.Dec(),
			"principal":   principal.Dec(),
			"interest":    interest.Dec(),
			"payableDays": strconv.FormatUint(payableDays, 10),
		})
		if repaid {
			e.emit(EventTypeLoanRepaid, map[string]string{
				"loanId":   strconv.FormatUint(loanID, 10),
				"borrower": loan.Borrower.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// DefaultLoan writes off the outstanding principal of a loan that missed its
// schedule. The staker may call it, as may any shareholder once the staker
// has gone inactive.
func (e *Engine) DefaultLoan(caller crypto.Address, loanID uint64) (*DefaultResult, error) {
	var result *DefaultResult
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if e.isStaker(caller) {
			if err := e.pool.OnStakerActivity(e.address); err != nil {
				return err
			}
		} else {
			inactive, err := e.pool.StakerInactive(caller)
			if err != nil {
				return err
			}
			if !inactive {
				return fmt.Errorf("%w: %s cannot default loans", ErrUnauthorized, caller)
			}
		}
		loan, err := e.loadLoan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanOutstanding {
			return fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loanID, loan.Status)
		}
		detail, err := e.loadDetail(loanID)
		if err != nil {
			return err
		}
		if !canDefault(loan, detail, e.now()) {
			return ErrNotDefaultable
		}
		loss := fixedpoint.SubFloor(loan.Amount, detail.PrincipalAmountRepaid)

		p, err := e.loadParams()
		if err != nil {
			return err
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		if m.WeightedAvgAPR, err = removeFromAverage(m.LentFunds, m.WeightedAvgAPR, loss, loan.APR, p.Template.APR); err != nil {
			return err
		}
		m.LentFunds = fixedpoint.SubFloor(m.LentFunds, loss)
		stats, err := e.loadStats(loan.Borrower)
		if err != nil {
			return err
		}
		stats.CountDefaulted++
		loan.Status = LoanDefaulted

		if err := e.storeLoan(loan); err != nil {
			return err
		}
		if err := e.storeMeta(m); err != nil {
			return err
		}
		if err := e.storeStats(stats); err != nil {
			return err
		}
		outcome, err := e.pool.OnDefault(e.address, loanID, loss)
		if err != nil {
			return err
		}
		result = &DefaultResult{
			LoanID:     loanID,
			Loss:       loss,
			StakerLoss: outcome.StakerLoss,
			LenderLoss: outcome.LenderLoss,
		}
		e.emit(EventTypeLoanDefaulted, map[string]string{
			"loanId":     strconv.FormatUint(loanID, 10),
			"borrower":   loan.Borrower.String(),
			"loss":       loss.Dec(),
			"stakerLoss": outcome.StakerLoss.Dec(),
			"lenderLoss": outcome.LenderLoss.Dec(),
			"by":         caller.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LoanBalanceDue returns outstanding principal plus interest accrued up to
// now. Closed loans owe nothing.
func (e *Engine) LoanBalanceDue(loanID uint64) (*uint256.Int, error) {
	loan, detail, err := e.loanView(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanOutstanding {
		return new(uint256.Int), nil
	}
	acc, err := accrue(loan, detail, e.now())
	if err != nil {
		return nil, err
	}
	return acc.balanceDue(), nil
}

// NextInstallmentDue returns the due time and amount of the next unpaid
// installment.
func (e *Engine) NextInstallmentDue(loanID uint64) (uint64, *uint256.Int, error) {
	loan, detail, err := e.loanView(loanID)
	if err != nil {
		return 0, nil, err
	}
	if loan.Status != LoanOutstanding {
		return 0, new(uint256.Int), nil
	}
	acc, err := accrue(loan, detail, e.now())
	if err != nil {
		return 0, nil, err
	}
	due, amount := nextInstallment(loan, detail, acc)
	return due, amount, nil
}

// CanDefault reports whether the loan may be defaulted now.
func (e *Engine) CanDefault(loanID uint64) (bool, error) {
	loan, detail, err := e.loanView(loanID)
	if err != nil {
		return false, err
	}
	return canDefault(loan, detail, e.now()), nil
}

func (e *Engine) loanView(loanID uint64) (*Loan, *LoanDetail, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, nil, err
	}
	detail, err := e.loadDetail(loanID)
	if err != nil {
		return nil, nil, err
	}
	return loan, detail, nil
}
