package loandesk

import (
	"github.com/holiman/uint256"

	"lendpool/native/fixedpoint"
)

var yearPercent = new(uint256.Int).Mul(uint256.NewInt(DaysPerYear), fixedpoint.OneHundredPercent.Int())

// countInterestDays returns the whole interest days between the watermark and
// now, rounding any started day up.
func countInterestDays(from, now uint64) uint64 {
	if now <= from {
		return 0
	}
	elapsed := now - from
	return (elapsed + Day - 1) / Day
}

// interestFor returns simple interest on principal at apr for days:
// principal * apr * days / (365 * 100%).
func interestFor(principal *uint256.Int, apr fixedpoint.Percent, days uint64) (*uint256.Int, error) {
	if days == 0 || apr == fixedpoint.ZeroPercent || principal.IsZero() {
		return new(uint256.Int), nil
	}
	rate, err := fixedpoint.Mul(apr.Int(), uint256.NewInt(days))
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(principal, rate, yearPercent, fixedpoint.Down)
}

// accrual is the outstanding position of a loan at a point in time.
type accrual struct {
	principal *uint256.Int
	apr       fixedpoint.Percent
	interest  *uint256.Int
	days      uint64
}

func (a accrual) balanceDue() *uint256.Int {
	return new(uint256.Int).Add(a.principal, a.interest)
}

func accrue(loan *Loan, detail *LoanDetail, now uint64) (accrual, error) {
	principal := fixedpoint.SubFloor(loan.Amount, detail.PrincipalAmountRepaid)
	days := countInterestDays(detail.InterestPaidTillTime, now)
	interest, err := interestFor(principal, loan.APR, days)
	if err != nil {
		return accrual{}, err
	}
	return accrual{principal: principal, apr: loan.APR, interest: interest, days: days}, nil
}

// payable computes what a payment of up to maxAmount settles. A payment that
// does not cover the accrued interest is cut down to the largest whole number
// of interest days it pays for, and the watermark moves by payableDays only.
func payable(acc accrual, maxAmount *uint256.Int) (transfer, interest *uint256.Int, payableDays uint64, err error) {
	transfer = fixedpoint.Min(acc.balanceDue(), maxAmount)
	if !transfer.Lt(acc.interest) {
		return transfer, fixedpoint.Clone(acc.interest), acc.days, nil
	}
	// interestFor is non-decreasing in days and the full span is out of
	// reach, so search [0, days) for the last affordable day count.
	lo, hi := uint64(0), acc.days
	interest = new(uint256.Int)
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		cost, err := interestFor(acc.principal, acc.apr, mid)
		if err != nil {
			return nil, nil, 0, err
		}
		if cost.Gt(transfer) {
			hi = mid
			continue
		}
		lo, interest = mid, cost
	}
	return fixedpoint.Clone(interest), interest, lo, nil
}

// canDefault applies the maturity rule to single installment loans and the
// per installment schedule to the rest.
func canDefault(loan *Loan, detail *LoanDetail, now uint64) bool {
	if loan.Status != LoanOutstanding {
		return false
	}
	maturity := loan.BorrowedTime + loan.Duration + loan.GracePeriod
	if now > maturity {
		return true
	}
	if loan.Installments <= 1 || loan.InstallmentAmount == nil || loan.InstallmentAmount.IsZero() {
		return false
	}
	period := loan.Duration / loan.Installments
	if period == 0 || now <= loan.BorrowedTime {
		return false
	}
	past := (now - loan.BorrowedTime) / period
	if past > loan.Installments {
		past = loan.Installments
	}
	expected, err := fixedpoint.Mul(loan.InstallmentAmount, uint256.NewInt(past))
	if err != nil {
		return false
	}
	if !detail.TotalAmountRepaid.Lt(expected) {
		return false
	}
	met := new(uint256.Int).Div(detail.TotalAmountRepaid, loan.InstallmentAmount).Uint64()
	due := loan.BorrowedTime + (met+1)*period
	return now > due+loan.GracePeriod
}

// nextInstallment returns the due time and outstanding amount of the first
// installment not yet covered by repayments.
func nextInstallment(loan *Loan, detail *LoanDetail, acc accrual) (uint64, *uint256.Int) {
	if loan.Installments <= 1 || loan.InstallmentAmount == nil || loan.InstallmentAmount.IsZero() {
		return loan.BorrowedTime + loan.Duration, acc.balanceDue()
	}
	period := loan.Duration / loan.Installments
	met := new(uint256.Int).Div(detail.TotalAmountRepaid, loan.InstallmentAmount).Uint64()
	if met >= loan.Installments-1 {
		return loan.BorrowedTime + loan.Duration, acc.balanceDue()
	}
	k := met + 1
	owed := new(uint256.Int).Mul(loan.InstallmentAmount, uint256.NewInt(k))
	owed = fixedpoint.SubFloor(owed, detail.TotalAmountRepaid)
	return loan.BorrowedTime + k*period, fixedpoint.Min(owed, acc.balanceDue())
}

// addToAverage folds amount at apr into the weighted average of lent funds.
func addToAverage(lent *uint256.Int, avg fixedpoint.Percent, amount *uint256.Int, apr fixedpoint.Percent) (fixedpoint.Percent, error) {
	total, err := fixedpoint.Add(lent, amount)
	if err != nil {
		return 0, err
	}
	if total.IsZero() {
		return avg, nil
	}
	weighted, err := weightedSum(lent, avg, amount, apr)
	if err != nil {
		return 0, err
	}
	return toPercent(new(uint256.Int).Div(weighted, total))
}

// removeFromAverage takes amount at apr out of the weighted average. When no
// funds remain lent the average resets to fallback.
func removeFromAverage(lent *uint256.Int, avg fixedpoint.Percent, amount *uint256.Int, apr fixedpoint.Percent, fallback fixedpoint.Percent) (fixedpoint.Percent, error) {
	remaining := fixedpoint.SubFloor(lent, amount)
	if remaining.IsZero() {
		return fallback, nil
	}
	current, err := fixedpoint.Mul(lent, avg.Int())
	if err != nil {
		return 0, err
	}
	removed, err := fixedpoint.Mul(amount, apr.Int())
	if err != nil {
		return 0, err
	}
	return toPercent(new(uint256.Int).Div(fixedpoint.SubFloor(current, removed), remaining))
}

func weightedSum(a *uint256.Int, aRate fixedpoint.Percent, b *uint256.Int, bRate fixedpoint.Percent) (*uint256.Int, error) {
	x, err := fixedpoint.Mul(a, aRate.Int())
	if err != nil {
		return nil, err
	}
	y, err := fixedpoint.Mul(b, bRate.Int())
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(x, y)
}

func toPercent(v *uint256.Int) (fixedpoint.Percent, error) {
	if !v.IsUint64() {
		return 0, fixedpoint.ErrOverflow
	}
	return fixedpoint.Percent(v.Uint64()), nil
}
