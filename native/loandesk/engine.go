// Package loandesk runs the loan lifecycle of a pool: applications, offer
// negotiation with a lender veto window, borrowing, installment aware
// repayment and default. Capital moves only through the pool hooks.
package loandesk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"lendpool/core/events"
	"lendpool/core/types"
	"lendpool/crypto"
	"lendpool/native/access"
	nativecommon "lendpool/native/common"
	"lendpool/native/fixedpoint"
	"lendpool/native/pool"
)

var (
	ErrInvalidAmount     = errors.New("loandesk: invalid amount")
	ErrBelowMinimum      = errors.New("loandesk: below minimum")
	ErrInvalidState      = errors.New("loandesk: invalid state")
	ErrUnauthorized      = errors.New("loandesk: unauthorized caller")
	ErrNotFound          = errors.New("loandesk: not found")
	ErrLockPeriodActive  = errors.New("loandesk: lock period active")
	ErrLockPeriodExpired = errors.New("loandesk: lock period expired")
	ErrInvalidParams     = errors.New("loandesk: invalid params")

	ErrOpenApplication = fmt.Errorf("%w: borrower has an open application", ErrInvalidState)
	ErrActiveLoan      = fmt.Errorf("%w: borrower has an outstanding loan", ErrInvalidState)
	ErrNotDefaultable  = fmt.Errorf("%w: loan cannot be defaulted yet", ErrInvalidState)

	errNilState       = errors.New("loandesk: state not configured")
	errNilPool        = errors.New("loandesk: pool not configured")
	errNotInitialised = errors.New("loandesk: not initialised")
)

const moduleName = "loandesk"

// Pool is the set of pool hooks the desk drives. Every mutating hook takes the
// desk address as caller.
type Pool interface {
	CanOffer(amount *uint256.Int) (bool, error)
	MaintainsStakeRatio() (bool, error)
	OnOfferAllocate(caller crypto.Address, amount *uint256.Int) error
	OnOfferDeallocate(caller crypto.Address, amount *uint256.Int) error
	OnBorrow(caller crypto.Address, loanID uint64, borrower crypto.Address, amount *uint256.Int) error
	OnRepay(caller crypto.Address, loanID uint64, borrower, payer crypto.Address, transferAmount, interestPayable *uint256.Int) (*pool.RepaySplit, error)
	OnDefault(caller crypto.Address, loanID uint64, loss *uint256.Int) (*pool.DefaultLoss, error)
	OnStakerActivity(caller crypto.Address) error
	StakerInactive(wallet crypto.Address) (bool, error)
}

// Engine owns the applications, offers and loans of one pool.
type Engine struct {
	state   nativecommon.State
	poolID  string
	address crypto.Address
	pool    Pool
	roles   access.Checker
	pauses  nativecommon.PauseView
	emitter events.Emitter
	nowFn   func() time.Time
	guard   nativecommon.ReentrancyGuard
	pending []*types.Event
}

// NewEngine creates a desk for poolID. address identifies the desk to the
// pool hooks.
func NewEngine(poolID string, address crypto.Address, p Pool) *Engine {
	return &Engine{
		poolID:  strings.TrimSpace(poolID),
		address: address,
		pool:    p,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state nativecommon.State) { e.state = state }

// SetAccess configures the role checker.
func (e *Engine) SetAccess(roles access.Checker) { e.roles = roles }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event sink. Nil discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock. Nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e.nowFn = now
}

// Address returns the desk address used for pool hooks.
func (e *Engine) Address() crypto.Address { return e.address }

func (e *Engine) now() uint64 { return uint64(e.nowFn().Unix()) }

func (e *Engine) key(parts ...string) []byte {
	return []byte("loandesk/" + e.poolID + "/" + strings.Join(parts, "/"))
}

func (e *Engine) idKey(kind string, id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(e.key(kind, ""), buf[:]...)
}

func (e *Engine) statsKey(borrower crypto.Address) []byte {
	return append(e.key("stats", ""), borrower[:]...)
}

func validateTemplate(t Template, p Params) error {
	if t.MinAmount == nil || t.MinAmount.IsZero() {
		return fmt.Errorf("%w: template minimum amount must be positive", ErrInvalidParams)
	}
	if t.MinDuration == 0 || t.MinDuration > t.MaxDuration {
		return fmt.Errorf("%w: template duration range", ErrInvalidParams)
	}
	if t.GracePeriod < p.MinGracePeriod || t.GracePeriod > p.MaxGracePeriod {
		return fmt.Errorf("%w: template grace period outside bounds", ErrInvalidParams)
	}
	if !t.APR.Valid() {
		return fmt.Errorf("%w: template apr exceeds 100%%", ErrInvalidParams)
	}
	return nil
}

// Validate checks the desk parameters.
func (p Params) Validate() error {
	if p.MinGracePeriod > p.MaxGracePeriod {
		return fmt.Errorf("%w: grace period bounds", ErrInvalidParams)
	}
	return validateTemplate(p.Template, p)
}

// Initialize stores the genesis parameters. The desk starts closed.
func (e *Engine) Initialize(params Params) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := params.Validate(); err != nil {
		return err
	}
	return nativecommon.Atomic(e.state, func() error {
		exists, err := e.state.KVGet(e.key("params"), nil)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: desk %s already initialised", ErrInvalidState, e.poolID)
		}
		if err := e.state.KVPut(e.key("params"), &params); err != nil {
			return err
		}
		m := &meta{WeightedAvgAPR: params.Template.APR}
		m.normalize()
		return e.storeMeta(m)
	})
}

func (e *Engine) loadParams() (Params, error) {
	var p Params
	ok, err := e.state.KVGet(e.key("params"), &p)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return Params{}, errNotInitialised
	}
	p.Template.MinAmount = fixedpoint.Clone(p.Template.MinAmount)
	return p, nil
}

func (e *Engine) storeParams(p Params) error {
	return e.state.KVPut(e.key("params"), &p)
}

func (e *Engine) loadMeta() (*meta, error) {
	m := new(meta)
	ok, err := e.state.KVGet(e.key("meta"), m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}
	m.normalize()
	return m, nil
}

func (e *Engine) storeMeta(m *meta) error {
	return e.state.KVPut(e.key("meta"), m)
}

func (e *Engine) loadApplication(id uint64) (*Application, error) {
	app := new(Application)
	ok, err := e.state.KVGet(e.idKey("app", id), app)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: application %d", ErrNotFound, id)
	}
	app.Amount = fixedpoint.Clone(app.Amount)
	return app, nil
}

func (e *Engine) storeApplication(app *Application) error {
	return e.state.KVPut(e.idKey("app", app.ID), app)
}

func (e *Engine) loadOffer(id uint64) (*Offer, error) {
	offer := new(Offer)
	ok, err := e.state.KVGet(e.idKey("offer", id), offer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: offer for application %d", ErrNotFound, id)
	}
	offer.Amount = fixedpoint.Clone(offer.Amount)
	offer.InstallmentAmount = fixedpoint.Clone(offer.InstallmentAmount)
	return offer, nil
}

func (e *Engine) storeOffer(offer *Offer) error {
	return e.state.KVPut(e.idKey("offer", offer.ApplicationID), offer)
}

func (e *Engine) loadLoan(id uint64) (*Loan, error) {
	loan := new(Loan)
	ok, err := e.state.KVGet(e.idKey("loan", id), loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: loan %d", ErrNotFound, id)
	}
	loan.Amount = fixedpoint.Clone(loan.Amount)
	loan.InstallmentAmount = fixedpoint.Clone(loan.InstallmentAmount)
	return loan, nil
}

func (e *Engine) storeLoan(loan *Loan) error {
	return e.state.KVPut(e.idKey("loan", loan.ID), loan)
}

func (e *Engine) loadDetail(id uint64) (*LoanDetail, error) {
	detail := new(LoanDetail)
	ok, err := e.state.KVGet(e.idKey("detail", id), detail)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: loan detail %d", ErrNotFound, id)
	}
	detail.normalize()
	return detail, nil
}

func (e *Engine) storeDetail(detail *LoanDetail) error {
	return e.state.KVPut(e.idKey("detail", detail.LoanID), detail)
}

func (e *Engine) loadStats(borrower crypto.Address) (*BorrowerStats, error) {
	stats := new(BorrowerStats)
	ok, err := e.state.KVGet(e.statsKey(borrower), stats)
	if err != nil {
		return nil, err
	}
	if !ok {
		stats.Borrower = borrower
	}
	stats.normalize()
	return stats, nil
}

func (e *Engine) storeStats(stats *BorrowerStats) error {
	return e.state.KVPut(e.statsKey(stats.Borrower), stats)
}

// mutate runs op under the reentrancy guard inside a state snapshot. Events
// queued by op are emitted only when it succeeds.
func (e *Engine) mutate(op func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pool == nil {
		return errNilPool
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	e.pending = e.pending[:0]
	if err := nativecommon.Atomic(e.state, op); err != nil {
		e.pending = e.pending[:0]
		return err
	}
	for _, evt := range e.pending {
		e.emitter.Emit(events.Wrap(evt))
	}
	e.pending = e.pending[:0]
	return nil
}

func (e *Engine) emit(eventType string, attrs map[string]string) {
	attrs["pool"] = e.poolID
	e.pending = append(e.pending, &types.Event{Type: eventType, Attributes: attrs})
}

func (e *Engine) checkPaused() error {
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) checkActive() error {
	if err := e.checkPaused(); err != nil {
		return err
	}
	m, err := e.loadMeta()
	if err != nil {
		return err
	}
	return nativecommon.Lifecycle{Open: m.Open}.GuardOpen()
}

func (e *Engine) isStaker(addr crypto.Address) bool {
	return e.roles != nil && e.roles.HasRole(access.PoolRole(e.poolID, access.RoleStaker), addr)
}

func (e *Engine) isLenderGovernance(addr crypto.Address) bool {
	return e.roles != nil && e.roles.HasRole(access.PoolRole(e.poolID, access.RoleLenderGovernance), addr)
}

// requireStaker checks the role and records staker liveness with the pool.
func (e *Engine) requireStaker(caller crypto.Address) error {
	if !e.isStaker(caller) {
		return fmt.Errorf("%w: %s is not the pool staker", ErrUnauthorized, caller)
	}
	return e.pool.OnStakerActivity(e.address)
}

// Open lets the desk accept loan applications.
func (e *Engine) Open(caller crypto.Address) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		if m.Open {
			return fmt.Errorf("%w: desk already open", ErrInvalidState)
		}
		m.Open = true
		m.OpenedAt = e.now()
		if err := e.storeMeta(m); err != nil {
			return err
		}
		e.emit(EventTypeDeskOpened, map[string]string{"staker": caller.String()})
		return nil
	})
}

// Close stops new applications. Outstanding loans keep running; reserved offer
// funds must be released first.
func (e *Engine) Close(caller crypto.Address) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		if !m.Open {
			return fmt.Errorf("%w: desk already closed", ErrInvalidState)
		}
		if !m.AllocatedFunds.IsZero() {
			return fmt.Errorf("%w: offers hold allocated funds", ErrInvalidState)
		}
		m.Open = false
		m.ClosedAt = e.now()
		if err := e.storeMeta(m); err != nil {
			return err
		}
		e.emit(EventTypeDeskClosed, map[string]string{"staker": caller.String()})
		return nil
	})
}

// SetTemplate replaces the loan template. Staker only.
func (e *Engine) SetTemplate(caller crypto.Address, t Template) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		p, err := e.loadParams()
		if err != nil {
			return err
		}
		t.MinAmount = fixedpoint.Clone(t.MinAmount)
		if err := validateTemplate(t, p); err != nil {
			return err
		}
		p.Template = t
		if err := e.storeParams(p); err != nil {
			return err
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		if m.LentFunds.IsZero() {
			m.WeightedAvgAPR = t.APR
			if err := e.storeMeta(m); err != nil {
				return err
			}
		}
		e.emit(EventTypeTemplateUpdated, map[string]string{
			"minAmount":   t.MinAmount.Dec(),
			"apr":         t.APR.String(),
			"gracePeriod": fmt.Sprintf("%d", t.GracePeriod),
		})
		return nil
	})
}

// Params returns the desk parameters including the current template.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	return e.loadParams()
}

// IsOpen reports whether the desk accepts applications.
func (e *Engine) IsOpen() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	m, err := e.loadMeta()
	if err != nil {
		return false, err
	}
	return m.Open, nil
}

// LentFunds returns the principal outstanding across active loans.
func (e *Engine) LentFunds() (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, err := e.loadMeta()
	if err != nil {
		return nil, err
	}
	return m.LentFunds, nil
}

// AllocatedFunds returns the funds reserved by drafted and made offers.
func (e *Engine) AllocatedFunds() (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, err := e.loadMeta()
	if err != nil {
		return nil, err
	}
	return m.AllocatedFunds, nil
}

// WeightedAvgAPR returns the principal weighted APR of active loans.
func (e *Engine) WeightedAvgAPR() (fixedpoint.Percent, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	m, err := e.loadMeta()
	if err != nil {
		return 0, err
	}
	return m.WeightedAvgAPR, nil
}

// Application returns an application by id.
func (e *Engine) Application(id uint64) (*Application, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadApplication(id)
}

// Offer returns the offer attached to an application.
func (e *Engine) Offer(applicationID uint64) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadOffer(applicationID)
}

// Loan returns a loan by id.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadLoan(id)
}

// LoanDetail returns the repayment progress of a loan.
func (e *Engine) LoanDetail(id uint64) (*LoanDetail, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadDetail(id)
}

// BorrowerStats returns the aggregate history of borrower.
func (e *Engine) BorrowerStats(borrower crypto.Address) (*BorrowerStats, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadStats(borrower)
}
