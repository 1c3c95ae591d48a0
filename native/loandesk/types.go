package loandesk

import (
	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
)

const (
	// Day is the length of an interest day in seconds.
	Day uint64 = 86400
	// DaysPerYear is the simple interest year.
	DaysPerYear uint64 = 365
)

// ApplicationStatus tracks a loan application through negotiation.
type ApplicationStatus uint8

const (
	ApplicationNull ApplicationStatus = iota
	ApplicationApplied
	ApplicationDenied
	ApplicationOfferDrafted
	ApplicationOfferDraftLocked
	ApplicationOfferMade
	ApplicationOfferAccepted
	ApplicationCancelled
)

func (s ApplicationStatus) String() string {
	switch s {
	case ApplicationApplied:
		return "applied"
	case ApplicationDenied:
		return "denied"
	case ApplicationOfferDrafted:
		return "offer_drafted"
	case ApplicationOfferDraftLocked:
		return "offer_draft_locked"
	case ApplicationOfferMade:
		return "offer_made"
	case ApplicationOfferAccepted:
		return "offer_accepted"
	case ApplicationCancelled:
		return "cancelled"
	default:
		return "null"
	}
}

// open reports whether the application still blocks a new one from the same
// borrower.
func (s ApplicationStatus) open() bool {
	switch s {
	case ApplicationApplied, ApplicationOfferDrafted, ApplicationOfferDraftLocked, ApplicationOfferMade:
		return true
	default:
		return false
	}
}

// LoanStatus tracks a funded loan.
type LoanStatus uint8

const (
	LoanNull LoanStatus = iota
	LoanOutstanding
	LoanRepaid
	LoanDefaulted
)

func (s LoanStatus) String() string {
	switch s {
	case LoanOutstanding:
		return "outstanding"
	case LoanRepaid:
		return "repaid"
	case LoanDefaulted:
		return "defaulted"
	default:
		return "null"
	}
}

// Application is a borrower's request for credit.
type Application struct {
	ID            uint64
	Borrower      crypto.Address
	Amount        *uint256.Int
	Duration      uint64
	Status        ApplicationStatus
	ProfileID     string
	ProfileDigest [32]byte
	RequestedTime uint64
}

// Terms are the negotiable parameters of a loan offer.
type Terms struct {
	Amount            *uint256.Int
	Duration          uint64
	GracePeriod       uint64
	InstallmentAmount *uint256.Int
	Installments      uint64
	APR               fixedpoint.Percent
}

// Offer is the staker's proposal for an application.
type Offer struct {
	ApplicationID     uint64
	Borrower          crypto.Address
	Amount            *uint256.Int
	Duration          uint64
	GracePeriod       uint64
	InstallmentAmount *uint256.Int
	Installments      uint64
	APR               fixedpoint.Percent
	DraftedTime       uint64
	LockedTime        uint64
	OfferedTime       uint64
}

func (o *Offer) apply(t Terms) {
	o.Amount = fixedpoint.Clone(t.Amount)
	o.Duration = t.Duration
	o.GracePeriod = t.GracePeriod
	o.InstallmentAmount = fixedpoint.Clone(t.InstallmentAmount)
	o.Installments = t.Installments
	o.APR = t.APR
}

// Loan is an accepted offer. Only Status changes after creation.
type Loan struct {
	ID                uint64
	ApplicationID     uint64
	Borrower          crypto.Address
	Amount            *uint256.Int
	Duration          uint64
	GracePeriod       uint64
	Installments      uint64
	InstallmentAmount *uint256.Int
	APR               fixedpoint.Percent
	BorrowedTime      uint64
	Status            LoanStatus
}

// LoanDetail tracks repayment progress. InterestPaidTillTime is the accrual
// watermark.
type LoanDetail struct {
	LoanID                uint64
	TotalAmountRepaid     *uint256.Int
	PrincipalAmountRepaid *uint256.Int
	InterestPaid          *uint256.Int
	InterestPaidTillTime  uint64
}

func (d *LoanDetail) normalize() {
	if d.TotalAmountRepaid == nil {
		d.TotalAmountRepaid = new(uint256.Int)
	}
	if d.PrincipalAmountRepaid == nil {
		d.PrincipalAmountRepaid = new(uint256.Int)
	}
	if d.InterestPaid == nil {
		d.InterestPaid = new(uint256.Int)
	}
}

// BorrowerStats aggregates a borrower's history for reporting.
type BorrowerStats struct {
	Borrower            crypto.Address
	CountRequested      uint64
	CountDenied         uint64
	CountOffered        uint64
	CountBorrowed       uint64
	CountCancelled      uint64
	CountRepaid         uint64
	CountDefaulted      uint64
	AmountBorrowed      *uint256.Int
	AmountBaseRepaid    *uint256.Int
	AmountInterestPaid  *uint256.Int
	RecentApplicationID uint64
	RecentLoanID        uint64
}

func (s *BorrowerStats) normalize() {
	if s.AmountBorrowed == nil {
		s.AmountBorrowed = new(uint256.Int)
	}
	if s.AmountBaseRepaid == nil {
		s.AmountBaseRepaid = new(uint256.Int)
	}
	if s.AmountInterestPaid == nil {
		s.AmountInterestPaid = new(uint256.Int)
	}
}

// Template bounds the loans the desk will accept and supplies defaults.
type Template struct {
	MinAmount   *uint256.Int
	MinDuration uint64
	MaxDuration uint64
	GracePeriod uint64
	APR         fixedpoint.Percent
}

// Params are the fixed protocol bounds of a desk.
type Params struct {
	Template       Template
	MinGracePeriod uint64
	MaxGracePeriod uint64
	LockPeriod     uint64
}

// DefaultParams returns the baseline desk parameters for a token with the
// given decimals.
func DefaultParams(decimals uint8) Params {
	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return Params{
		Template: Template{
			MinAmount:   new(uint256.Int).Mul(uint256.NewInt(100), unit),
			MinDuration: Day,
			MaxDuration: 365 * Day,
			GracePeriod: 60 * Day,
			APR:         fixedpoint.PercentOf(30),
		},
		MinGracePeriod: 3 * Day,
		MaxGracePeriod: 365 * Day,
		LockPeriod:     7 * Day,
	}
}

// meta holds the desk counters and loan book aggregates.
type meta struct {
	NextApplicationID uint64
	NextLoanID        uint64
	LentFunds         *uint256.Int
	AllocatedFunds    *uint256.Int
	WeightedAvgAPR    fixedpoint.Percent
	Open              bool
	OpenedAt          uint64
	ClosedAt          uint64
}

func (m *meta) normalize() {
	if m.LentFunds == nil {
		m.LentFunds = new(uint256.Int)
	}
	if m.AllocatedFunds == nil {
		m.AllocatedFunds = new(uint256.Int)
	}
	if m.NextApplicationID == 0 {
		m.NextApplicationID = 1
	}
	if m.NextLoanID == 0 {
		m.NextLoanID = 1
	}
}

// Payment describes how a repayment was applied.
type Payment struct {
	LoanID         uint64
	Payer          crypto.Address
	Transfer       *uint256.Int
	Interest       *uint256.Int
	Principal      *uint256.Int
	PayableDays    uint64
	Repaid         bool
	ProtocolFee    *uint256.Int
	StakerEarnings *uint256.Int
}

// DefaultResult describes a realised loan default.
type DefaultResult struct {
	LoanID     uint64
	Loss       *uint256.Int
	StakerLoss *uint256.Int
	LenderLoss *uint256.Int
}
