package loandesk

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"lendpool/core/events"
	"lendpool/core/state"
	"lendpool/crypto"
	"lendpool/native/access"
	nativecommon "lendpool/native/common"
	"lendpool/native/fixedpoint"
	"lendpool/native/pool"
	"lendpool/native/token"
	"lendpool/storage"
)

type roleSet map[string]map[crypto.Address]bool

func (r roleSet) HasRole(role string, addr crypto.Address) bool { return r[role][addr] }

func (r roleSet) grant(role string, addr crypto.Address) {
	if r[role] == nil {
		r[role] = make(map[crypto.Address]bool)
	}
	r[role][addr] = true
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x20
	a[19] = b
	return a
}

type fixture struct {
	t        *testing.T
	st       *state.Manager
	asset    *token.Ledger
	shares   *token.Ledger
	pool     *pool.Engine
	desk     *Engine
	roles    roleSet
	pauses   pauseSet
	recorder *events.Recorder
	now      time.Time

	poolAddr  crypto.Address
	deskAddr  crypto.Address
	staker    crypto.Address
	gov       crypto.Address
	lenderGov crypto.Address
	treasury  crypto.Address
	faucet    crypto.Address
	lender    crypto.Address
}

// newFixture builds a pool with 200 staked at a 10% target and a lender
// filling the 2,000 limit, wired to an open desk.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		st:        state.NewManager(storage.NewMemDB()),
		roles:     roleSet{},
		pauses:    pauseSet{},
		recorder:  &events.Recorder{},
		now:       time.Unix(1_700_000_000, 0).UTC(),
		poolAddr:  addr(0xB0),
		deskAddr:  addr(0xB1),
		staker:    addr(0xB2),
		gov:       addr(0xB3),
		lenderGov: addr(0xB4),
		treasury:  addr(0xB5),
		faucet:    addr(0xB6),
		lender:    addr(0x01),
	}
	clock := func() time.Time { return f.now }
	f.asset = token.NewLedger(f.st, "usdc", 0, f.faucet)
	f.shares = token.NewLedger(f.st, "lpusdc", 0, f.poolAddr)
	f.roles.grant(access.PoolRole("main", access.RoleStaker), f.staker)
	f.roles.grant(access.PoolRole("main", access.RoleLenderGovernance), f.lenderGov)
	f.roles.grant(access.RoleGovernance, f.gov)

	f.pool = pool.NewEngine("main", f.poolAddr, f.asset, f.shares)
	f.pool.SetState(f.st)
	f.pool.SetAccess(f.roles)
	f.pool.SetPauses(f.pauses)
	f.pool.SetEmitter(f.recorder)
	f.pool.SetTreasury(f.treasury)
	f.pool.SetNowFunc(clock)

	f.desk = NewEngine("main", f.deskAddr, f.pool)
	f.desk.SetState(f.st)
	f.desk.SetAccess(f.roles)
	f.desk.SetPauses(f.pauses)
	f.desk.SetEmitter(f.recorder)
	f.desk.SetNowFunc(clock)
	f.pool.SetLoanDesk(f.deskAddr, f.desk)

	expectOK(t, f.pool.Initialize(pool.DefaultConfig(0)), "initialize pool")
	expectOK(t, f.desk.Initialize(DefaultParams(0)), "initialize desk")
	expectOK(t, f.pool.Open(f.staker), "open pool")
	expectOK(t, f.desk.Open(f.staker), "open desk")

	f.fund(f.staker, 200)
	_, err := f.pool.Stake(f.staker, u(200))
	expectOK(t, err, "stake")
	f.fund(f.lender, 1800)
	_, err = f.pool.Deposit(f.lender, u(1800))
	expectOK(t, err, "deposit")
	return f
}

func (f *fixture) fund(to crypto.Address, amount uint64) {
	f.t.Helper()
	expectOK(f.t, f.asset.Mint(f.faucet, to, u(amount)), "fund")
}

func (f *fixture) assetBalance(of crypto.Address) uint64 {
	f.t.Helper()
	bal, err := f.asset.BalanceOf(of)
	expectOK(f.t, err, "asset balance")
	return bal.Uint64()
}

func (f *fixture) balances() *pool.Balances {
	f.t.Helper()
	bal, err := f.pool.Balances()
	expectOK(f.t, err, "balances")
	return bal
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func singleTerms(amount uint64, duration, grace time.Duration, apr fixedpoint.Percent) Terms {
	return Terms{
		Amount:       u(amount),
		Duration:     uint64(duration / time.Second),
		GracePeriod:  uint64(grace / time.Second),
		Installments: 1,
		APR:          apr,
	}
}

// offer runs an application through drafting, locking and the veto window.
func (f *fixture) offer(borrower crypto.Address, terms Terms) uint64 {
	f.t.Helper()
	app, err := f.desk.RequestLoan(borrower, terms.Amount, terms.Duration, "profile-1", []byte("kyc"))
	expectOK(f.t, err, "request loan")
	_, err = f.desk.DraftOffer(f.staker, app.ID, terms)
	expectOK(f.t, err, "draft offer")
	expectOK(f.t, f.desk.LockDraftOffer(f.staker, app.ID), "lock offer")
	f.advance(days(7) + time.Second)
	expectOK(f.t, f.desk.OfferLoan(f.staker, app.ID), "offer loan")
	return app.ID
}

func (f *fixture) borrow(borrower crypto.Address, terms Terms) *Loan {
	f.t.Helper()
	appID := f.offer(borrower, terms)
	loan, err := f.desk.Borrow(borrower, appID)
	expectOK(f.t, err, "borrow")
	return loan
}

func (f *fixture) lent() uint64 {
	f.t.Helper()
	lent, err := f.desk.LentFunds()
	expectOK(f.t, err, "lent funds")
	return lent.Uint64()
}

func (f *fixture) avgAPR() fixedpoint.Percent {
	f.t.Helper()
	avg, err := f.desk.WeightedAvgAPR()
	expectOK(f.t, err, "weighted apr")
	return avg
}

func (f *fixture) requireConservation() {
	f.t.Helper()
	bal := f.balances()
	sum := new(uint256.Int).Add(bal.RawLiquidity, bal.AllocatedFunds)
	sum.Add(sum, bal.StrategizedFunds)
	if !sum.Eq(bal.PoolFunds) {
		f.t.Fatalf("raw + allocated + strategized = %s, pool funds = %s", sum, bal.PoolFunds)
	}
	custody := new(uint256.Int).Add(bal.RawLiquidity, bal.AllocatedFunds)
	if held := f.assetBalance(f.poolAddr); held != custody.Uint64() {
		f.t.Fatalf("custody holds %d, raw + allocated = %s", held, custody)
	}
}

func TestLoanLifecycleToRepaid(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	terms := singleTerms(1000, days(30), days(60), fixedpoint.PercentOf(10))

	app, err := f.desk.RequestLoan(borrower, u(1000), terms.Duration, "profile-7", []byte("kyc-7"))
	expectOK(t, err, "request loan")
	if app.Status != ApplicationApplied {
		t.Fatalf("expected an applied application, got %s", app.Status)
	}
	if app.ProfileDigest != blake3.Sum256([]byte("kyc-7")) {
		t.Fatalf("profile digest mismatch: %x", app.ProfileDigest)
	}

	_, err = f.desk.DraftOffer(f.staker, app.ID, terms)
	expectOK(t, err, "draft offer")
	expectUint(t, f.balances().AllocatedFunds, 1000, "pool allocation")
	allocated, err := f.desk.AllocatedFunds()
	expectOK(t, err, "desk allocation")
	expectUint(t, allocated, 1000, "desk allocation")

	expectOK(t, f.desk.LockDraftOffer(f.staker, app.ID), "lock offer")
	expectErr(t, f.desk.OfferLoan(f.staker, app.ID), ErrLockPeriodActive, "offer inside veto window")
	f.advance(days(7))
	expectErr(t, f.desk.OfferLoan(f.staker, app.ID), ErrLockPeriodActive, "offer at window end")
	f.advance(time.Second)
	expectOK(t, f.desk.OfferLoan(f.staker, app.ID), "offer loan")

	_, err = f.desk.Borrow(addr(8), app.ID)
	expectErr(t, err, ErrUnauthorized, "borrow by stranger")
	loan, err := f.desk.Borrow(borrower, app.ID)
	expectOK(t, err, "borrow")
	if loan.ID != 1 {
		t.Fatalf("expected loan 1, got %d", loan.ID)
	}
	if got := f.assetBalance(borrower); got != 1000 {
		t.Fatalf("expected borrower funded 1000, got %d", got)
	}
	bal := f.balances()
	expectUint(t, bal.StrategizedFunds, 1000, "loan book")
	expectUint(t, bal.AllocatedFunds, 0, "allocation after borrow")
	if got := f.lent(); got != 1000 {
		t.Fatalf("expected 1000 lent, got %d", got)
	}
	if avg := f.avgAPR(); avg != fixedpoint.PercentOf(10) {
		t.Fatalf("expected 10%% book apr, got %v", avg)
	}

	f.advance(days(30))
	due, err := f.desk.LoanBalanceDue(loan.ID)
	expectOK(t, err, "balance due")
	expectUint(t, due, 1008, "balance due")

	f.fund(borrower, 8)
	payment, err := f.desk.Repay(borrower, loan.ID, u(1008))
	expectOK(t, err, "repay")
	if !payment.Repaid || payment.PayableDays != 30 {
		t.Fatalf("expected a full 30 day repayment, got %+v", payment)
	}
	expectUint(t, payment.Principal, 1000, "principal")
	expectUint(t, payment.Interest, 8, "interest")

	loan, err = f.desk.Loan(loan.ID)
	expectOK(t, err, "load loan")
	if loan.Status != LoanRepaid {
		t.Fatalf("expected a repaid loan, got %s", loan.Status)
	}
	bal = f.balances()
	expectUint(t, bal.StrategizedFunds, 0, "loan book")
	expectUint(t, bal.PoolFunds, 2008, "pool funds")
	f.requireConservation()

	if got := f.lent(); got != 0 {
		t.Fatalf("expected nothing lent, got %d", got)
	}
	if avg := f.avgAPR(); avg != fixedpoint.PercentOf(30) {
		t.Fatalf("empty book falls back to the template apr, got %v", avg)
	}

	stats, err := f.desk.BorrowerStats(borrower)
	expectOK(t, err, "borrower stats")
	if stats.CountRequested != 1 || stats.CountOffered != 1 || stats.CountBorrowed != 1 || stats.CountRepaid != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	expectUint(t, stats.AmountBaseRepaid, 1000, "base repaid")
	expectUint(t, stats.AmountInterestPaid, 8, "interest paid")
	if n := len(f.recorder.OfType(EventTypeLoanRepaid)); n != 1 {
		t.Fatalf("expected one loan repaid event, got %d", n)
	}
	if n := len(f.recorder.OfType(pool.EventTypeRepayment)); n != 1 {
		t.Fatalf("expected one pool repayment event, got %d", n)
	}

	_, err = f.desk.Repay(borrower, loan.ID, u(1))
	expectErr(t, err, ErrInvalidState, "repay a closed loan")
}

func TestMinimumPaymentRule(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	loan := f.borrow(borrower, singleTerms(1000, days(30), days(60), fixedpoint.OneHundredPercent))
	start := loan.BorrowedTime
	f.advance(days(30))
	f.fund(borrower, 1000)

	_, err := f.desk.Repay(borrower, loan.ID, u(1))
	expectErr(t, err, ErrBelowMinimum, "payment under one day")

	// One day costs 2 even though 30 days floor to 82.
	payment, err := f.desk.Repay(borrower, loan.ID, u(2))
	expectOK(t, err, "one day payment")
	if payment.PayableDays != 1 {
		t.Fatalf("expected one day paid, got %d", payment.PayableDays)
	}
	expectUint(t, payment.Transfer, 2, "transfer")
	expectUint(t, payment.Principal, 0, "principal")
	if got := f.assetBalance(borrower); got != 1998 {
		t.Fatalf("expected borrower left with 1998, got %d", got)
	}

	detail, err := f.desk.LoanDetail(loan.ID)
	expectOK(t, err, "loan detail")
	if detail.InterestPaidTillTime != start+Day {
		t.Fatalf("expected interest paid through day 1, got %d", detail.InterestPaidTillTime-start)
	}
	expectUint(t, detail.InterestPaid, 2, "interest paid")

	payment, err = f.desk.Repay(borrower, loan.ID, u(5000))
	expectOK(t, err, "final repay")
	if !payment.Repaid {
		t.Fatalf("expected the loan repaid")
	}
	expectUint(t, payment.Transfer, 1079, "transfer")
	expectUint(t, payment.Interest, 79, "interest")
	expectUint(t, payment.ProtocolFee, 7, "protocol fee")
	f.requireConservation()
}

func TestRepayOneDayAfterSeveralDays(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	loan := f.borrow(borrower, singleTerms(1000, days(30), days(60), fixedpoint.OneHundredPercent))
	f.advance(days(3))

	payment, err := f.desk.Repay(borrower, loan.ID, u(2))
	expectOK(t, err, "one day payment")
	if payment.PayableDays != 1 || payment.Repaid {
		t.Fatalf("expected one day bought, got %+v", payment)
	}
	expectUint(t, payment.Interest, 2, "interest")

	// Two days cost 5, so 4 still buys one.
	payment, err = f.desk.Repay(borrower, loan.ID, u(4))
	expectOK(t, err, "second payment")
	if payment.PayableDays != 1 {
		t.Fatalf("expected one more day bought, got %d", payment.PayableDays)
	}
	expectUint(t, payment.Transfer, 2, "transfer")

	detail, err := f.desk.LoanDetail(loan.ID)
	expectOK(t, err, "loan detail")
	if detail.InterestPaidTillTime != loan.BorrowedTime+2*Day {
		t.Fatalf("expected two days paid, got %d", (detail.InterestPaidTillTime-loan.BorrowedTime)/Day)
	}
	f.requireConservation()
}

func TestFailedRepaymentLeavesLoanUntouched(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	loan := f.borrow(borrower, singleTerms(1000, days(30), days(60), fixedpoint.PercentOf(10)))
	f.advance(days(30))
	before := f.recorder.Len()

	_, err := f.desk.Repay(borrower, loan.ID, u(1008))
	expectErr(t, err, token.ErrInsufficientBalance, "repay without funds")

	detail, err := f.desk.LoanDetail(loan.ID)
	expectOK(t, err, "loan detail")
	if !detail.TotalAmountRepaid.IsZero() || detail.InterestPaidTillTime != loan.BorrowedTime {
		t.Fatalf("expected an untouched loan detail, got %+v", detail)
	}
	if got := f.lent(); got != 1000 {
		t.Fatalf("expected 1000 still lent, got %d", got)
	}
	expectUint(t, f.balances().StrategizedFunds, 1000, "loan book")
	if got := f.recorder.Len(); got != before {
		t.Fatalf("expected no events from a failed repay, got %d new", got-before)
	}
}

func TestRepayOnBehalf(t *testing.T) {
	f := newFixture(t)
	borrower, sponsor := addr(7), addr(9)
	loan := f.borrow(borrower, singleTerms(1000, days(30), days(60), fixedpoint.PercentOf(10)))
	f.advance(days(30))
	f.fund(sponsor, 1008)

	_, err := f.desk.RepayOnBehalf(sponsor, loan.ID, u(1008), addr(8))
	expectErr(t, err, ErrUnauthorized, "wrong borrower")
	_, err = f.desk.Repay(sponsor, loan.ID, u(1008))
	expectErr(t, err, ErrUnauthorized, "repay someone else's loan")

	payment, err := f.desk.RepayOnBehalf(sponsor, loan.ID, u(1008), borrower)
	expectOK(t, err, "repay on behalf")
	if !payment.Repaid || payment.Payer != sponsor {
		t.Fatalf("expected the sponsor to repay in full, got %+v", payment)
	}
	if got := f.assetBalance(sponsor); got != 0 {
		t.Fatalf("expected sponsor drained, got %d", got)
	}
	if got := f.assetBalance(borrower); got != 1000 {
		t.Fatalf("expected borrower to keep the principal, got %d", got)
	}
}

func TestLenderGovernanceVeto(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	terms := singleTerms(1000, days(30), days(60), fixedpoint.PercentOf(10))

	app, err := f.desk.RequestLoan(borrower, u(1000), terms.Duration, "", nil)
	expectOK(t, err, "request loan")
	_, err = f.desk.DraftOffer(f.staker, app.ID, terms)
	expectOK(t, err, "draft offer")
	expectErr(t, f.desk.CancelLoan(f.lenderGov, app.ID), ErrInvalidState, "drafts are not vetoable")
	expectOK(t, f.desk.LockDraftOffer(f.staker, app.ID), "lock offer")
	expectErr(t, f.desk.CancelLoan(addr(9), app.ID), ErrUnauthorized, "cancel by stranger")

	f.advance(days(3))
	expectOK(t, f.desk.CancelLoan(f.lenderGov, app.ID), "veto")
	app, err = f.desk.Application(app.ID)
	expectOK(t, err, "load application")
	if app.Status != ApplicationCancelled {
		t.Fatalf("expected a cancelled application, got %s", app.Status)
	}
	expectUint(t, f.balances().AllocatedFunds, 0, "pool allocation")
	allocated, err := f.desk.AllocatedFunds()
	expectOK(t, err, "desk allocation")
	expectUint(t, allocated, 0, "desk allocation")

	second, err := f.desk.RequestLoan(borrower, u(1000), terms.Duration, "", nil)
	expectOK(t, err, "second request")
	_, err = f.desk.DraftOffer(f.staker, second.ID, terms)
	expectOK(t, err, "second draft")
	expectOK(t, f.desk.LockDraftOffer(f.staker, second.ID), "second lock")
	f.advance(days(7) + time.Second)
	expectErr(t, f.desk.CancelLoan(f.lenderGov, second.ID), ErrLockPeriodExpired, "veto after window")
	expectOK(t, f.desk.CancelLoan(f.staker, second.ID), "staker cancel")
	expectUint(t, f.balances().AllocatedFunds, 0, "pool allocation")

	stats, err := f.desk.BorrowerStats(borrower)
	expectOK(t, err, "borrower stats")
	if stats.CountCancelled != 2 {
		t.Fatalf("expected 2 cancellations, got %d", stats.CountCancelled)
	}
}

func TestDefaultStakerAbsorbsLoss(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	loan := f.borrow(borrower, singleTerms(150, days(30), days(3), fixedpoint.PercentOf(10)))

	f.advance(days(33))
	ok, err := f.desk.CanDefault(loan.ID)
	expectOK(t, err, "can default")
	if ok {
		t.Fatalf("expected no default inside grace")
	}
	_, err = f.desk.DefaultLoan(f.staker, loan.ID)
	expectErr(t, err, ErrNotDefaultable, "default inside grace")

	f.advance(time.Second)
	_, err = f.desk.DefaultLoan(f.lender, loan.ID)
	expectErr(t, err, ErrUnauthorized, "staker is still active")
	result, err := f.desk.DefaultLoan(f.staker, loan.ID)
	expectOK(t, err, "default")
	expectUint(t, result.Loss, 150, "loss")
	expectUint(t, result.StakerLoss, 150, "staker loss")
	expectUint(t, result.LenderLoss, 0, "lender loss")

	bal := f.balances()
	expectUint(t, bal.StakedShares, 50, "staked shares")
	expectUint(t, bal.PoolFunds, 1850, "pool funds")
	expectUint(t, bal.StrategizedFunds, 0, "loan book")
	f.requireConservation()

	loan, err = f.desk.Loan(loan.ID)
	expectOK(t, err, "load loan")
	if loan.Status != LoanDefaulted {
		t.Fatalf("expected a defaulted loan, got %s", loan.Status)
	}
	if got := f.lent(); got != 0 {
		t.Fatalf("expected nothing lent, got %d", got)
	}
	stats, err := f.desk.BorrowerStats(borrower)
	expectOK(t, err, "borrower stats")
	if stats.CountDefaulted != 1 {
		t.Fatalf("expected one default counted, got %d", stats.CountDefaulted)
	}
	if n := len(f.recorder.OfType(EventTypeLoanDefaulted)); n != 1 {
		t.Fatalf("expected one default event, got %d", n)
	}

	_, err = f.desk.DefaultLoan(f.staker, loan.ID)
	expectErr(t, err, ErrInvalidState, "default twice")
}

func TestDefaultSpillsToLenders(t *testing.T) {
	f := newFixture(t)
	loan := f.borrow(addr(7), singleTerms(1000, days(30), days(3), fixedpoint.PercentOf(10)))
	f.advance(days(33) + time.Second)

	result, err := f.desk.DefaultLoan(f.staker, loan.ID)
	expectOK(t, err, "default")
	expectUint(t, result.StakerLoss, 200, "staker loss")
	expectUint(t, result.LenderLoss, 800, "lender loss")

	bal := f.balances()
	expectUint(t, bal.StakedShares, 0, "staked shares")
	expectUint(t, bal.PoolFunds, 1000, "pool funds")
	value, err := f.pool.SharesToFunds(u(1800))
	expectOK(t, err, "shares to funds")
	expectUint(t, value, 1000, "lender value")
	f.requireConservation()
}

func TestInactiveStakerLetsShareholdersDefault(t *testing.T) {
	f := newFixture(t)
	loan := f.borrow(addr(7), singleTerms(150, days(30), days(3), fixedpoint.PercentOf(10)))
	f.advance(days(91))

	_, err := f.desk.DefaultLoan(addr(9), loan.ID)
	expectErr(t, err, ErrUnauthorized, "wallets without shares cannot step in")
	result, err := f.desk.DefaultLoan(f.lender, loan.ID)
	expectOK(t, err, "shareholder default")
	expectUint(t, result.StakerLoss, 150, "staker loss")
}

func TestInstallmentScheduleDrivesDefault(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	loan := f.borrow(borrower, Terms{
		Amount:            u(1000),
		Duration:          90 * Day,
		GracePeriod:       5 * Day,
		Installments:      3,
		InstallmentAmount: u(350),
		APR:               fixedpoint.PercentOf(10),
	})
	start := loan.BorrowedTime

	f.advance(days(10))
	payment, err := f.desk.Repay(borrower, loan.ID, u(400))
	expectOK(t, err, "repay")
	expectUint(t, payment.Interest, 2, "interest")
	expectUint(t, payment.Principal, 398, "principal")
	if avg := f.avgAPR(); avg != fixedpoint.PercentOf(10) {
		t.Fatalf("expected 10%% book apr, got %v", avg)
	}

	f.advance(days(25) + time.Second)
	ok, err := f.desk.CanDefault(loan.ID)
	expectOK(t, err, "can default")
	if ok {
		t.Fatalf("expected the first installment covered")
	}
	due, amount, err := f.desk.NextInstallmentDue(loan.ID)
	expectOK(t, err, "next installment")
	if due != start+60*Day {
		t.Fatalf("expected the second installment next, due at day %d", (due-start)/Day)
	}
	expectUint(t, amount, 300, "installment amount")

	f.advance(days(30))
	ok, err = f.desk.CanDefault(loan.ID)
	expectOK(t, err, "can default")
	if !ok {
		t.Fatalf("expected a missed second installment to allow default")
	}
}

func TestRequestLoanValidation(t *testing.T) {
	f := newFixture(t)
	borrower := addr(7)
	month := 30 * Day

	_, err := f.desk.RequestLoan(borrower, u(99), month, "", nil)
	expectErr(t, err, ErrBelowMinimum, "amount under minimum")
	_, err = f.desk.RequestLoan(borrower, u(100), 0, "", nil)
	expectErr(t, err, ErrBelowMinimum, "zero duration")
	_, err = f.desk.RequestLoan(borrower, u(100), 366*Day, "", nil)
	expectErr(t, err, ErrInvalidAmount, "duration over a year")
	_, err = f.desk.RequestLoan(f.staker, u(100), month, "", nil)
	expectErr(t, err, ErrUnauthorized, "staker as borrower")

	app, err := f.desk.RequestLoan(borrower, u(100), month, "", nil)
	expectOK(t, err, "request loan")
	_, err = f.desk.RequestLoan(borrower, u(100), month, "", nil)
	expectErr(t, err, ErrOpenApplication, "second open application")
	expectErr(t, err, ErrInvalidState, "second open application")

	expectOK(t, f.desk.DenyLoan(f.staker, app.ID), "deny")
	expectErr(t, f.desk.DenyLoan(f.staker, app.ID), ErrInvalidState, "deny twice")

	f.borrow(borrower, singleTerms(100, days(30), days(3), fixedpoint.PercentOf(10)))
	_, err = f.desk.RequestLoan(borrower, u(100), month, "", nil)
	expectErr(t, err, ErrActiveLoan, "request with an active loan")

	stats, err := f.desk.BorrowerStats(borrower)
	expectOK(t, err, "borrower stats")
	if stats.CountRequested != 2 || stats.CountDenied != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
}

func TestDraftOfferValidation(t *testing.T) {
	f := newFixture(t)
	app, err := f.desk.RequestLoan(addr(7), u(500), 30*Day, "", nil)
	expectOK(t, err, "request loan")
	base := singleTerms(500, days(30), days(60), fixedpoint.PercentOf(10))

	cases := []struct {
		name   string
		mutate func(t *Terms)
		want   error
	}{
		{"grace under bound", func(t *Terms) { t.GracePeriod = Day }, ErrBelowMinimum},
		{"no installments", func(t *Terms) { t.Installments = 0 }, ErrBelowMinimum},
		{"more installments than days", func(t *Terms) { t.Installments = 31; t.InstallmentAmount = u(20) }, ErrInvalidAmount},
		{"missing installment amount", func(t *Terms) { t.Installments = 3 }, ErrInvalidAmount},
		{"apr over 100%", func(t *Terms) { t.APR = fixedpoint.OneHundredPercent + 1 }, ErrInvalidAmount},
		{"amount under template", func(t *Terms) { t.Amount = u(50) }, ErrBelowMinimum},
		{"beyond raw liquidity", func(t *Terms) { t.Amount = u(2500) }, pool.ErrInsufficientLiquidity},
	}
	for _, tc := range cases {
		terms := base
		tc.mutate(&terms)
		_, err := f.desk.DraftOffer(f.staker, app.ID, terms)
		expectErr(t, err, tc.want, tc.name)
	}

	_, err = f.desk.DraftOffer(addr(9), app.ID, base)
	expectErr(t, err, ErrUnauthorized, "draft by stranger")
	expectUint(t, f.balances().AllocatedFunds, 0, "allocation after rejected drafts")
}

func TestOffersGatedByStakeRatio(t *testing.T) {
	f := newFixture(t)
	terms := singleTerms(500, days(30), days(60), fixedpoint.PercentOf(10))

	first, err := f.desk.RequestLoan(addr(7), u(500), terms.Duration, "", nil)
	expectOK(t, err, "request loan")
	_, err = f.desk.DraftOffer(f.staker, first.ID, terms)
	expectOK(t, err, "draft offer")
	expectOK(t, f.desk.LockDraftOffer(f.staker, first.ID), "lock offer")

	expectOK(t, f.pool.SetTargetStakePercent(f.gov, fixedpoint.PercentOf(20)), "raise stake target")
	f.advance(days(8))
	expectErr(t, f.desk.OfferLoan(f.staker, first.ID), pool.ErrInsufficientStake, "offer below target")

	second, err := f.desk.RequestLoan(addr(8), u(500), terms.Duration, "", nil)
	expectOK(t, err, "second request")
	_, err = f.desk.DraftOffer(f.staker, second.ID, terms)
	expectErr(t, err, pool.ErrInsufficientStake, "draft below target")
}

func TestUpdateDraftOfferReallocates(t *testing.T) {
	f := newFixture(t)
	app, err := f.desk.RequestLoan(addr(7), u(500), 30*Day, "", nil)
	expectOK(t, err, "request loan")
	terms := singleTerms(500, days(30), days(60), fixedpoint.PercentOf(10))
	_, err = f.desk.DraftOffer(f.staker, app.ID, terms)
	expectOK(t, err, "draft offer")

	terms.Amount = u(800)
	offer, err := f.desk.UpdateDraftOffer(f.staker, app.ID, terms)
	expectOK(t, err, "raise offer")
	expectUint(t, offer.Amount, 800, "offer amount")
	expectUint(t, f.balances().AllocatedFunds, 800, "pool allocation")

	terms.Amount = u(300)
	_, err = f.desk.UpdateDraftOffer(f.staker, app.ID, terms)
	expectOK(t, err, "lower offer")
	expectUint(t, f.balances().AllocatedFunds, 300, "pool allocation")
	allocated, err := f.desk.AllocatedFunds()
	expectOK(t, err, "desk allocation")
	expectUint(t, allocated, 300, "desk allocation")
	f.requireConservation()

	expectOK(t, f.desk.LockDraftOffer(f.staker, app.ID), "lock offer")
	_, err = f.desk.UpdateDraftOffer(f.staker, app.ID, terms)
	expectErr(t, err, ErrInvalidState, "update a locked offer")
}

func TestWeightedAvgAPRTracksBook(t *testing.T) {
	f := newFixture(t)
	a, b := addr(7), addr(8)
	termsA := singleTerms(500, days(30), days(60), fixedpoint.PercentOf(10))
	termsB := singleTerms(500, days(30), days(60), fixedpoint.PercentOf(30))

	loanA := f.borrow(a, termsA)
	loanB := f.borrow(b, termsB)
	if loanB.ID != 2 {
		t.Fatalf("expected loan 2, got %d", loanB.ID)
	}
	if avg := f.avgAPR(); avg != fixedpoint.PercentOf(20) {
		t.Fatalf("expected 20%% book apr, got %v", avg)
	}

	f.fund(a, 100)
	payment, err := f.desk.Repay(a, loanA.ID, u(600))
	expectOK(t, err, "repay a")
	if !payment.Repaid {
		t.Fatalf("expected loan a repaid")
	}
	if avg := f.avgAPR(); avg != fixedpoint.PercentOf(30) {
		t.Fatalf("expected 30%% book apr, got %v", avg)
	}
	if got := f.lent(); got != 500 {
		t.Fatalf("expected 500 lent, got %d", got)
	}
}

func TestDeskLifecycleAndPause(t *testing.T) {
	f := newFixture(t)
	app, err := f.desk.RequestLoan(addr(7), u(500), 30*Day, "", nil)
	expectOK(t, err, "request loan")
	_, err = f.desk.DraftOffer(f.staker, app.ID, singleTerms(500, days(30), days(60), fixedpoint.PercentOf(10)))
	expectOK(t, err, "draft offer")

	expectErr(t, f.desk.Close(addr(9)), ErrUnauthorized, "close by stranger")
	expectErr(t, f.desk.Close(f.staker), ErrInvalidState, "close with allocation")
	expectOK(t, f.desk.CancelLoan(f.staker, app.ID), "cancel")
	expectOK(t, f.desk.Close(f.staker), "close")
	expectErr(t, f.desk.Close(f.staker), ErrInvalidState, "close twice")

	_, err = f.desk.RequestLoan(addr(8), u(500), 30*Day, "", nil)
	expectErr(t, err, nativecommon.ErrModuleClosed, "request on closed desk")
	expectOK(t, f.desk.Open(f.staker), "reopen")

	f.pauses[moduleName] = true
	_, err = f.desk.RequestLoan(addr(8), u(500), 30*Day, "", nil)
	expectErr(t, err, nativecommon.ErrModulePaused, "request while paused")
	f.pauses[moduleName] = false
	_, err = f.desk.RequestLoan(addr(8), u(500), 30*Day, "", nil)
	expectOK(t, err, "request after unpause")
}

func TestSetTemplate(t *testing.T) {
	f := newFixture(t)
	tmpl := DefaultParams(0).Template
	tmpl.MinAmount = u(200)
	tmpl.APR = fixedpoint.PercentOf(20)

	expectErr(t, f.desk.SetTemplate(addr(9), tmpl), ErrUnauthorized, "template by stranger")
	bad := tmpl
	bad.GracePeriod = Day
	expectErr(t, f.desk.SetTemplate(f.staker, bad), ErrInvalidParams, "invalid template")

	expectOK(t, f.desk.SetTemplate(f.staker, tmpl), "set template")
	params, err := f.desk.Params()
	expectOK(t, err, "params")
	expectUint(t, params.Template.MinAmount, 200, "template minimum")
	if avg := f.avgAPR(); avg != fixedpoint.PercentOf(20) {
		t.Fatalf("expected empty book to report the new template apr, got %v", avg)
	}

	_, err = f.desk.RequestLoan(addr(7), u(150), 30*Day, "", nil)
	expectErr(t, err, ErrBelowMinimum, "request under new minimum")
}
