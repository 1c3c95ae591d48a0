package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"lendpool/core/types"
	"lendpool/crypto"
	"lendpool/native/fixedpoint"
	"lendpool/native/loandesk"
	"lendpool/native/pool"
	"lendpool/native/withdrawals"
)

const requestLimit = 1 << 20 // 1 MiB

// Amounts travel as decimal strings in whole tokens, durations in days.

type amountRequest struct {
	Amount string `json:"amount"`
}

type sharesRequest struct {
	Shares string `json:"shares"`
}

type transferSharesRequest struct {
	To     string `json:"to"`
	Shares string `json:"shares"`
}

type fulfillRequest struct {
	Count uint64 `json:"count"`
}

type percentRequest struct {
	Percent string `json:"percent"`
}

type boolRequest struct {
	Enabled bool `json:"enabled"`
}

type applyRequest struct {
	Amount       string `json:"amount"`
	DurationDays uint64 `json:"duration_days"`
	ProfileID    string `json:"profile_id"`
	// Profile is hashed and never stored.
	Profile string `json:"profile"`
}

type termsRequest struct {
	Amount            string `json:"amount"`
	DurationDays      uint64 `json:"duration_days"`
	GracePeriodDays   uint64 `json:"grace_period_days"`
	InstallmentAmount string `json:"installment_amount"`
	Installments      uint64 `json:"installments"`
	APR               string `json:"apr"`
}

type templateRequest struct {
	MinAmount       string `json:"min_amount"`
	MinDurationDays uint64 `json:"min_duration_days"`
	MaxDurationDays uint64 `json:"max_duration_days"`
	GracePeriodDays uint64 `json:"grace_period_days"`
	APR             string `json:"apr"`
}

type repayRequest struct {
	Amount string `json:"amount"`
	// Borrower is set when a third party repays.
	Borrower string `json:"borrower,omitempty"`
}

type roleRequest struct {
	Role    string `json:"role"`
	Address string `json:"address"`
	Granted bool   `json:"granted"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type callResponse struct {
	Result any            `json:"result,omitempty"`
	Events []*types.Event `json:"events"`
}

type balancesView struct {
	RawLiquidity     string `json:"raw_liquidity"`
	AllocatedFunds   string `json:"allocated_funds"`
	StrategizedFunds string `json:"strategized_funds"`
	PoolFunds        string `json:"pool_funds"`
	StakedShares     string `json:"staked_shares"`
	PoolFundsLimit   string `json:"pool_funds_limit"`
}

type statsView struct {
	PoolID         string       `json:"pool_id"`
	PoolAddress    string       `json:"pool_address"`
	DeskAddress    string       `json:"desk_address"`
	Balances       balancesView `json:"balances"`
	TotalShares    string       `json:"total_shares"`
	LenderShares   string       `json:"lender_shares"`
	StakedValue    string       `json:"staked_value"`
	Unstakable     string       `json:"unstakable"`
	PendingQueue   uint64       `json:"pending_queue"`
	Open           bool         `json:"open"`
	DeskOpen       bool         `json:"desk_open"`
	StakeRatioMet  bool         `json:"stake_ratio_met"`
	LenderAPY      string       `json:"lender_apy"`
	StakerAPY      string       `json:"staker_apy"`
	WeightedAvgAPR string       `json:"weighted_avg_apr"`
	LentFunds      string       `json:"lent_funds"`
}

type configView struct {
	TargetStakePercent           string `json:"target_stake_percent"`
	TargetLiquidityPercent       string `json:"target_liquidity_percent"`
	ProtocolFeePercent           string `json:"protocol_fee_percent"`
	MaxProtocolFeePercent        string `json:"max_protocol_fee_percent"`
	StakerEarnFactor             string `json:"staker_earn_factor"`
	StakerEarnFactorMax          string `json:"staker_earn_factor_max"`
	MinWithdrawalRequest         string `json:"min_withdrawal_request"`
	StakerInactivityDays         uint64 `json:"staker_inactivity_days"`
	AllowDepositWithOpenRequests bool   `json:"allow_deposit_with_open_requests"`
	LastStakerActivity           uint64 `json:"last_staker_activity"`
}

type walletView struct {
	Address        string        `json:"address"`
	Asset          string        `json:"asset"`
	Shares         string        `json:"shares"`
	LockedShares   string        `json:"locked_shares"`
	UnlockedShares string        `json:"unlocked_shares"`
	Value          string        `json:"value"`
	Requests       []requestView `json:"withdrawal_requests"`
	Borrower       *borrowerView `json:"borrower,omitempty"`
}

type requestView struct {
	ID        uint64 `json:"id"`
	Wallet    string `json:"wallet"`
	Shares    string `json:"shares"`
	CreatedAt uint64 `json:"created_at"`
}

type fulfillmentView struct {
	RequestID uint64 `json:"request_id"`
	Wallet    string `json:"wallet"`
	Shares    string `json:"shares"`
	Funds     string `json:"funds"`
	Remaining string `json:"remaining"`
	Dropped   bool   `json:"dropped,omitempty"`
}

type applicationView struct {
	ID            uint64 `json:"id"`
	Borrower      string `json:"borrower"`
	Amount        string `json:"amount"`
	DurationDays  uint64 `json:"duration_days"`
	Status        string `json:"status"`
	ProfileID     string `json:"profile_id"`
	ProfileDigest string `json:"profile_digest"`
	RequestedTime uint64 `json:"requested_time"`
}

type offerView struct {
	ApplicationID     uint64 `json:"application_id"`
	Borrower          string `json:"borrower"`
	Amount            string `json:"amount"`
	DurationDays      uint64 `json:"duration_days"`
	GracePeriodDays   uint64 `json:"grace_period_days"`
	InstallmentAmount string `json:"installment_amount"`
	Installments      uint64 `json:"installments"`
	APR               string `json:"apr"`
	DraftedTime       uint64 `json:"drafted_time"`
	LockedTime        uint64 `json:"locked_time,omitempty"`
	OfferedTime       uint64 `json:"offered_time,omitempty"`
}

type loanView struct {
	ID                    uint64 `json:"id"`
	ApplicationID         uint64 `json:"application_id"`
	Borrower              string `json:"borrower"`
	Amount                string `json:"amount"`
	DurationDays          uint64 `json:"duration_days"`
	GracePeriodDays       uint64 `json:"grace_period_days"`
	Installments          uint64 `json:"installments"`
	InstallmentAmount     string `json:"installment_amount"`
	APR                   string `json:"apr"`
	BorrowedTime          uint64 `json:"borrowed_time"`
	Status                string `json:"status"`
	TotalAmountRepaid     string `json:"total_amount_repaid"`
	PrincipalAmountRepaid string `json:"principal_amount_repaid"`
	InterestPaid          string `json:"interest_paid"`
	InterestPaidTillTime  uint64 `json:"interest_paid_till_time"`
	BalanceDue            string `json:"balance_due"`
	NextInstallmentDue    uint64 `json:"next_installment_due,omitempty"`
	NextInstallmentAmount string `json:"next_installment_amount,omitempty"`
	CanDefault            bool   `json:"can_default"`
}

type paymentView struct {
	LoanID         uint64 `json:"loan_id"`
	Payer          string `json:"payer"`
	Transfer       string `json:"transfer"`
	Interest       string `json:"interest"`
	Principal      string `json:"principal"`
	PayableDays    uint64 `json:"payable_days"`
	Repaid         bool   `json:"repaid"`
	ProtocolFee    string `json:"protocol_fee"`
	StakerEarnings string `json:"staker_earnings"`
}

type defaultView struct {
	LoanID     uint64 `json:"loan_id"`
	Loss       string `json:"loss"`
	StakerLoss string `json:"staker_loss"`
	LenderLoss string `json:"lender_loss"`
}

type borrowerView struct {
	CountRequested      uint64 `json:"count_requested"`
	CountDenied         uint64 `json:"count_denied"`
	CountOffered        uint64 `json:"count_offered"`
	CountBorrowed       uint64 `json:"count_borrowed"`
	CountCancelled      uint64 `json:"count_cancelled"`
	CountRepaid         uint64 `json:"count_repaid"`
	CountDefaulted      uint64 `json:"count_defaulted"`
	AmountBorrowed      string `json:"amount_borrowed"`
	AmountBaseRepaid    string `json:"amount_base_repaid"`
	AmountInterestPaid  string `json:"amount_interest_paid"`
	RecentApplicationID uint64 `json:"recent_application_id"`
	RecentLoanID        uint64 `json:"recent_loan_id"`
}

type apyView struct {
	Current   string `json:"current_lender_apy"`
	Projected string `json:"projected_lender_apy"`
	Staker    string `json:"staker_apy"`
}

// units converts between the wire and the smallest token unit.
type units struct {
	decimals uint8
}

func (u units) parse(field, value string) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, err := fixedpoint.ParseUnits(value, u.decimals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return amount, nil
}

func (u units) format(v *uint256.Int) string {
	return fixedpoint.FormatUnits(v, u.decimals)
}

func parseAddress(field, value string) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.Address{}, fmt.Errorf("%s is required", field)
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parsePercent(field, value string) (fixedpoint.Percent, error) {
	p, err := fixedpoint.ParsePercent(strings.TrimSuffix(strings.TrimSpace(value), "%"))
	if err != nil {
		return fixedpoint.ZeroPercent, fmt.Errorf("%s: %w", field, err)
	}
	return p, nil
}

func days(seconds uint64) uint64 { return seconds / loandesk.Day }

func (u units) terms(req termsRequest) (loandesk.Terms, error) {
	amount, err := u.parse("amount", req.Amount)
	if err != nil {
		return loandesk.Terms{}, err
	}
	installment := new(uint256.Int)
	if strings.TrimSpace(req.InstallmentAmount) != "" {
		if installment, err = u.parse("installment_amount", req.InstallmentAmount); err != nil {
			return loandesk.Terms{}, err
		}
	}
	apr, err := parsePercent("apr", req.APR)
	if err != nil {
		return loandesk.Terms{}, err
	}
	return loandesk.Terms{
		Amount:            amount,
		Duration:          req.DurationDays * loandesk.Day,
		GracePeriod:       req.GracePeriodDays * loandesk.Day,
		InstallmentAmount: installment,
		Installments:      req.Installments,
		APR:               apr,
	}, nil
}

func (u units) template(req templateRequest) (loandesk.Template, error) {
	minAmount, err := u.parse("min_amount", req.MinAmount)
	if err != nil {
		return loandesk.Template{}, err
	}
	apr, err := parsePercent("apr", req.APR)
	if err != nil {
		return loandesk.Template{}, err
	}
	return loandesk.Template{
		MinAmount:   minAmount,
		MinDuration: req.MinDurationDays * loandesk.Day,
		MaxDuration: req.MaxDurationDays * loandesk.Day,
		GracePeriod: req.GracePeriodDays * loandesk.Day,
		APR:         apr,
	}, nil
}

func (u units) balances(b *pool.Balances) balancesView {
	return balancesView{
		RawLiquidity:     u.format(b.RawLiquidity),
		AllocatedFunds:   u.format(b.AllocatedFunds),
		StrategizedFunds: u.format(b.StrategizedFunds),
		PoolFunds:        u.format(b.PoolFunds),
		StakedShares:     u.format(b.StakedShares),
		PoolFundsLimit:   u.format(b.PoolFundsLimit),
	}
}

func (u units) config(cfg pool.Config, lastActivity uint64) configView {
	return configView{
		TargetStakePercent:           cfg.TargetStakePercent.String(),
		TargetLiquidityPercent:       cfg.TargetLiquidityPercent.String(),
		ProtocolFeePercent:           cfg.ProtocolFeePercent.String(),
		MaxProtocolFeePercent:        cfg.MaxProtocolFeePercent.String(),
		StakerEarnFactor:             cfg.StakerEarnFactor.String(),
		StakerEarnFactorMax:          cfg.StakerEarnFactorMax.String(),
		MinWithdrawalRequest:         u.format(cfg.MinWithdrawalRequest),
		StakerInactivityDays:         days(cfg.StakerInactivityPeriod),
		AllowDepositWithOpenRequests: cfg.AllowDepositWithOpenRequests,
		LastStakerActivity:           lastActivity,
	}
}

func (u units) request(r *withdrawals.Request) requestView {
	return requestView{
		ID:        r.ID,
		Wallet:    r.Wallet.String(),
		Shares:    u.format(r.Shares),
		CreatedAt: r.CreatedAt,
	}
}

func (u units) fulfillment(f pool.Fulfillment) fulfillmentView {
	return fulfillmentView{
		RequestID: f.RequestID,
		Wallet:    f.Wallet.String(),
		Shares:    u.format(f.Shares),
		Funds:     u.format(f.Funds),
		Remaining: u.format(f.Remaining),
		Dropped:   f.Dropped,
	}
}

func (u units) application(app *loandesk.Application) applicationView {
	return applicationView{
		ID:            app.ID,
		Borrower:      app.Borrower.String(),
		Amount:        u.format(app.Amount),
		DurationDays:  days(app.Duration),
		Status:        app.Status.String(),
		ProfileID:     app.ProfileID,
		ProfileDigest: hex.EncodeToString(app.ProfileDigest[:]),
		RequestedTime: app.RequestedTime,
	}
}

func (u units) offer(o *loandesk.Offer) offerView {
	return offerView{
		ApplicationID:     o.ApplicationID,
		Borrower:          o.Borrower.String(),
		Amount:            u.format(o.Amount),
		DurationDays:      days(o.Duration),
		GracePeriodDays:   days(o.GracePeriod),
		InstallmentAmount: u.format(o.InstallmentAmount),
		Installments:      o.Installments,
		APR:               o.APR.String(),
		DraftedTime:       o.DraftedTime,
		LockedTime:        o.LockedTime,
		OfferedTime:       o.OfferedTime,
	}
}

func (u units) loan(l *loandesk.Loan, d *loandesk.LoanDetail) loanView {
	view := loanView{
		ID:                l.ID,
		ApplicationID:     l.ApplicationID,
		Borrower:          l.Borrower.String(),
		Amount:            u.format(l.Amount),
		DurationDays:      days(l.Duration),
		GracePeriodDays:   days(l.GracePeriod),
		Installments:      l.Installments,
		InstallmentAmount: u.format(l.InstallmentAmount),
		APR:               l.APR.String(),
		BorrowedTime:      l.BorrowedTime,
		Status:            l.Status.String(),
	}
	if d != nil {
		view.TotalAmountRepaid = u.format(d.TotalAmountRepaid)
		view.PrincipalAmountRepaid = u.format(d.PrincipalAmountRepaid)
		view.InterestPaid = u.format(d.InterestPaid)
		view.InterestPaidTillTime = d.InterestPaidTillTime
	}
	return view
}

func (u units) payment(p *loandesk.Payment) paymentView {
	return paymentView{
		LoanID:         p.LoanID,
		Payer:          p.Payer.String(),
		Transfer:       u.format(p.Transfer),
		Interest:       u.format(p.Interest),
		Principal:      u.format(p.Principal),
		PayableDays:    p.PayableDays,
		Repaid:         p.Repaid,
		ProtocolFee:    u.format(p.ProtocolFee),
		StakerEarnings: u.format(p.StakerEarnings),
	}
}

func (u units) defaulted(d *loandesk.DefaultResult) defaultView {
	return defaultView{
		LoanID:     d.LoanID,
		Loss:       u.format(d.Loss),
		StakerLoss: u.format(d.StakerLoss),
		LenderLoss: u.format(d.LenderLoss),
	}
}

func (u units) borrower(s *loandesk.BorrowerStats) *borrowerView {
	return &borrowerView{
		CountRequested:      s.CountRequested,
		CountDenied:         s.CountDenied,
		CountOffered:        s.CountOffered,
		CountBorrowed:       s.CountBorrowed,
		CountCancelled:      s.CountCancelled,
		CountRepaid:         s.CountRepaid,
		CountDefaulted:      s.CountDefaulted,
		AmountBorrowed:      u.format(s.AmountBorrowed),
		AmountBaseRepaid:    u.format(s.AmountBaseRepaid),
		AmountInterestPaid:  u.format(s.AmountInterestPaid),
		RecentApplicationID: s.RecentApplicationID,
		RecentLoanID:        s.RecentLoanID,
	}
}

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
