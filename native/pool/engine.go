// Package pool implements the share accounting of a lending pool: lender
// deposits and withdrawals, the staker's first-loss stake, the withdrawal
// queue, and the hooks through which the loan desk moves capital.
package pool

import (
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
	"lendpool/native/withdrawals"
)

var (
	ErrInvalidAmount         = errors.New("pool: invalid amount")
	ErrInsufficientLiquidity = errors.New("pool: insufficient liquidity")
	ErrInsufficientStake     = errors.New("pool: insufficient stake")
	ErrInsufficientShares    = errors.New("pool: insufficient unlocked shares")
	ErrBelowMinimum          = errors.New("pool: amount below minimum")
	ErrInvalidState          = errors.New("pool: invalid state")
	ErrUnauthorized          = errors.New("pool: unauthorized caller")
	ErrNotFound              = errors.New("pool: not found")
	ErrInvalidConfig         = errors.New("pool: invalid config")

	ErrPoolLimitReached       = fmt.Errorf("%w: deposit exceeds pool funds limit", ErrInsufficientStake)
	ErrOpenWithdrawalRequests = fmt.Errorf("%w: wallet has open withdrawal requests", ErrInvalidState)
	ErrLoansOutstanding       = fmt.Errorf("%w: loans or allocations outstanding", ErrInvalidState)

	errNilState              = errors.New("pool: state not configured")
	errNotInitialised        = errors.New("pool: not initialised")
	errBalanceUnderflow      = errors.New("pool: balance underflow")
	errTreasuryNotConfigured = errors.New("pool: treasury not configured")
)

const moduleName = "pool"

func errInvalidConfig(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}

// Asset is the liquidity token port. Transfers move funds between wallets and
// must fail without side effects.
type Asset interface {
	BalanceOf(addr crypto.Address) (*uint256.Int, error)
	Transfer(from, to crypto.Address, amount *uint256.Int) error
	Decimals() uint8
}

// ShareToken is the pool share ledger. Mint and burn are restricted to the
// pool address.
type ShareToken interface {
	BalanceOf(addr crypto.Address) (*uint256.Int, error)
	TotalSupply() (*uint256.Int, error)
	Transfer(from, to crypto.Address, amount *uint256.Int) error
	Mint(caller, to crypto.Address, amount *uint256.Int) error
	Burn(caller, from crypto.Address, amount *uint256.Int) error
}

// LoanDeskView exposes the loan side aggregates the pool depends on.
type LoanDeskView interface {
	LentFunds() (*uint256.Int, error)
	AllocatedFunds() (*uint256.Int, error)
	WeightedAvgAPR() (fixedpoint.Percent, error)
}

// Engine owns the balances and configuration of one pool instance.
type Engine struct {
	state    nativecommon.State
	poolID   string
	address  crypto.Address
	treasury crypto.Address
	asset    Asset
	shares   ShareToken
	roles    access.Checker
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	queue    *withdrawals.Queue
	desk     crypto.Address
	deskView LoanDeskView
	nowFn    func() time.Time
	guard    nativecommon.ReentrancyGuard
	pending  []*types.Event
}

// NewEngine creates an engine for poolID. The pool address holds the pool's
// liquidity and the staker's shares.
func NewEngine(poolID string, address crypto.Address, asset Asset, shares ShareToken) *Engine {
	return &Engine{
		poolID:  strings.TrimSpace(poolID),
		address: address,
		asset:   asset,
		shares:  shares,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state nativecommon.State) {
	e.state = state
	e.queue = nil
	if state != nil {
		e.queue = withdrawals.New(state, e.poolID)
	}
}

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

// SetTreasury configures the protocol fee recipient.
func (e *Engine) SetTreasury(addr crypto.Address) { e.treasury = addr }

// SetLoanDesk authorises addr to invoke the loan hooks and wires the desk's
// aggregate view.
func (e *Engine) SetLoanDesk(addr crypto.Address, view LoanDeskView) {
	e.desk = addr
	e.deskView = view
}

// PoolID returns the pool identifier.
func (e *Engine) PoolID() string { return e.poolID }

// Address returns the pool custody address.
func (e *Engine) Address() crypto.Address { return e.address }

// Queue exposes the withdrawal queue for read access.
func (e *Engine) Queue() *withdrawals.Queue { return e.queue }

func (e *Engine) now() uint64 {
	return uint64(e.nowFn().Unix())
}

func (e *Engine) key(suffix string) []byte {
	return []byte("pool/" + e.poolID + "/" + suffix)
}

// Initialize stores the genesis configuration and zero balances. The pool
// starts closed.
func (e *Engine) Initialize(cfg Config) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return nativecommon.Atomic(e.state, func() error {
		exists, err := e.state.KVGet(e.key("config"), nil)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: pool %s already initialised", ErrInvalidState, e.poolID)
		}
		if err := e.storeConfig(cfg); err != nil {
			return err
		}
		bal := newBalances()
		if bal.PoolFundsLimit, err = poolFundsLimit(bal.StakedShares, new(uint256.Int), bal.PoolFunds, cfg.TargetStakePercent); err != nil {
			return err
		}
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		return e.storeLifecycle(&lifecycle{})
	})
}

func (e *Engine) loadConfig() (Config, error) {
	var cfg Config
	ok, err := e.state.KVGet(e.key("config"), &cfg)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, errNotInitialised
	}
	if cfg.MinWithdrawalRequest == nil {
		cfg.MinWithdrawalRequest = new(uint256.Int)
	}
	return cfg, nil
}

func (e *Engine) storeConfig(cfg Config) error {
	cfg.MinWithdrawalRequest = fixedpoint.Clone(cfg.MinWithdrawalRequest)
	return e.state.KVPut(e.key("config"), &cfg)
}

func (e *Engine) loadBalances() (*Balances, error) {
	bal := new(Balances)
	ok, err := e.state.KVGet(e.key("balances"), bal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotInitialised
	}
	bal.normalize()
	return bal, nil
}

func (e *Engine) storeBalances(bal *Balances) error {
	return e.state.KVPut(e.key("balances"), bal)
}

func (e *Engine) loadLifecycle() (*lifecycle, error) {
	lc := new(lifecycle)
	if _, err := e.state.KVGet(e.key("lifecycle"), lc); err != nil {
		return nil, err
	}
	return lc, nil
}

func (e *Engine) storeLifecycle(lc *lifecycle) error {
	return e.state.KVPut(e.key("lifecycle"), lc)
}

// mutate runs op under the reentrancy guard inside a state snapshot. Events
// queued by op are emitted only when it succeeds.
func (e *Engine) mutate(op func() error) error {
	if e == nil || e.state == nil {
		return errNilState
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

// checkActive requires the pool to be unpaused and open.
func (e *Engine) checkActive() error {
	if err := e.checkPaused(); err != nil {
		return err
	}
	lc, err := e.loadLifecycle()
	if err != nil {
		return err
	}
	return nativecommon.Lifecycle{Open: lc.Open}.GuardOpen()
}

// requireLender rejects the custody accounts of the pool and its desk as
// lender wallets.
func (e *Engine) requireLender(wallet crypto.Address) error {
	if wallet.IsZero() || wallet == e.address || (!e.desk.IsZero() && wallet == e.desk) {
		return fmt.Errorf("%w: %s is not a lender wallet", ErrUnauthorized, wallet)
	}
	return nil
}

func (e *Engine) stakerRole() string { return access.PoolRole(e.poolID, access.RoleStaker) }

func (e *Engine) isStaker(addr crypto.Address) bool {
	return e.roles != nil && e.roles.HasRole(e.stakerRole(), addr)
}

func (e *Engine) isGovernance(addr crypto.Address) bool {
	return e.roles != nil && e.roles.HasRole(access.RoleGovernance, addr)
}

func (e *Engine) requireStaker(addr crypto.Address) error {
	if !e.isStaker(addr) {
		return fmt.Errorf("%w: %s is not the pool staker", ErrUnauthorized, addr)
	}
	return nil
}

func (e *Engine) requireDesk(caller crypto.Address) error {
	if e.desk.IsZero() || caller != e.desk {
		return fmt.Errorf("%w: hook restricted to the loan desk", ErrUnauthorized)
	}
	return nil
}

func (e *Engine) touchStaker() error {
	lc, err := e.loadLifecycle()
	if err != nil {
		return err
	}
	lc.LastStakerActivity = e.now()
	return e.storeLifecycle(lc)
}

func (e *Engine) totalShares() (*uint256.Int, error) {
	total, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(total), nil
}

// refreshLimit recomputes the pool funds limit from the current share supply.
func (e *Engine) refreshLimit(bal *Balances, cfg Config) error {
	total, err := e.totalShares()
	if err != nil {
		return err
	}
	limit, err := poolFundsLimit(bal.StakedShares, total, bal.PoolFunds, cfg.TargetStakePercent)
	if err != nil {
		return err
	}
	bal.PoolFundsLimit = limit
	return nil
}

func (e *Engine) lockedShares(wallet crypto.Address) (*uint256.Int, error) {
	return e.queue.LockedShares(wallet)
}

// unlockedShares returns the wallet's share balance minus shares queued for
// withdrawal.
func (e *Engine) unlockedShares(wallet crypto.Address) (*uint256.Int, error) {
	balance, err := e.shares.BalanceOf(wallet)
	if err != nil {
		return nil, err
	}
	locked, err := e.lockedShares(wallet)
	if err != nil {
		return nil, err
	}
	return fixedpoint.SubFloor(balance, locked), nil
}

// Deposit charges amount of the asset from wallet and mints shares at the
// current price. It returns the minted shares.
func (e *Engine) Deposit(wallet crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := e.mutate(func() error {
		if err := e.checkActive(); err != nil {
			return err
		}
		if err := e.requireLender(wallet); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if !cfg.AllowDepositWithOpenRequests {
			open, err := e.queue.OpenRequests(wallet)
			if err != nil {
				return err
			}
			if open > 0 {
				return ErrOpenWithdrawalRequests
			}
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if !e.isStaker(wallet) {
			headroom := fixedpoint.SubFloor(bal.PoolFundsLimit, bal.PoolFunds)
			if amount.Gt(headroom) {
				return ErrPoolLimitReached
			}
		}
		total, err := e.totalShares()
		if err != nil {
			return err
		}
		shares, err := fundsToShares(amount, total, bal.PoolFunds, fixedpoint.Down)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			return fmt.Errorf("%w: deposit mints no shares", ErrInvalidAmount)
		}
		if bal.RawLiquidity, err = fixedpoint.Add(bal.RawLiquidity, amount); err != nil {
			return err
		}
		if bal.PoolFunds, err = fixedpoint.Add(bal.PoolFunds, amount); err != nil {
			return err
		}
		if err := e.shares.Mint(e.address, wallet, shares); err != nil {
			return err
		}
		if err := e.refreshLimit(bal, cfg); err != nil {
			return err
		}
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		if err := e.asset.Transfer(wallet, e.address, amount); err != nil {
			return err
		}
		e.emit(EventTypeDeposit, map[string]string{
			"wallet": wallet.String(),
			"amount": amount.Dec(),
			"shares": shares.Dec(),
		})
		minted = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw burns the shares worth amount from wallet and pays out the asset.
// It remains available while the pool is closed.
func (e *Engine) Withdraw(wallet crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	var burned *uint256.Int
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireLender(wallet); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if amount.Gt(bal.RawLiquidity) {
			return ErrInsufficientLiquidity
		}
		total, err := e.totalShares()
		if err != nil {
			return err
		}
		shares, err := fundsToShares(amount, total, bal.PoolFunds, fixedpoint.Up)
		if err != nil {
			return err
		}
		unlocked, err := e.unlockedShares(wallet)
		if err != nil {
			return err
		}
		if shares.Gt(unlocked) {
			return ErrInsufficientShares
		}
		if bal.RawLiquidity, err = sub(bal.RawLiquidity, amount); err != nil {
			return err
		}
		if bal.PoolFunds, err = sub(bal.PoolFunds, amount); err != nil {
			return err
		}
		if err := e.shares.Burn(e.address, wallet, shares); err != nil {
			return err
		}
		if err := e.refreshLimit(bal, cfg); err != nil {
			return err
		}
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		if err := e.asset.Transfer(e.address, wallet, amount); err != nil {
			return err
		}
		e.emit(EventTypeWithdraw, map[string]string{
			"wallet": wallet.String(),
			"amount": amount.Dec(),
			"shares": shares.Dec(),
		})
		burned = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}

// Stake adds first-loss capital from the staker. The minted shares are held
// by the pool and counted as staked.
func (e *Engine) Stake(caller crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := e.mutate(func() error {
		if err := e.checkActive(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
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
		shares, err := fundsToShares(amount, total, bal.PoolFunds, fixedpoint.Down)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			return fmt.Errorf("%w: stake mints no shares", ErrInvalidAmount)
		}
		if bal.RawLiquidity, err = fixedpoint.Add(bal.RawLiquidity, amount); err != nil {
			return err
		}
		if bal.PoolFunds, err = fixedpoint.Add(bal.PoolFunds, amount); err != nil {
			return err
		}
		bal.StakedShares = new(uint256.Int).Add(bal.StakedShares, shares)
		if err := e.shares.Mint(e.address, e.address, shares); err != nil {
			return err
		}
		if err := e.refreshLimit(bal, cfg); err != nil {
			return err
		}
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		if err := e.touchStaker(); err != nil {
			return err
		}
		if err := e.asset.Transfer(caller, e.address, amount); err != nil {
			return err
		}
		e.emit(EventTypeStake, map[string]string{
			"staker": caller.String(),
			"amount": amount.Dec(),
			"shares": shares.Dec(),
		})
		minted = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Unstake returns staked capital to the staker, bounded by AmountUnstakable.
func (e *Engine) Unstake(caller crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	var burned *uint256.Int
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if amount.Gt(bal.RawLiquidity) {
			return ErrInsufficientLiquidity
		}
		total, err := e.totalShares()
		if err != nil {
			return err
		}
		lc, err := e.loadLifecycle()
		if err != nil {
			return err
		}
		unstakable, err := amountUnstakable(bal, total, cfg, lc.Open)
		if err != nil {
			return err
		}
		if amount.Gt(unstakable) {
			return ErrInsufficientStake
		}
		shares, err := fundsToShares(amount, total, bal.PoolFunds, fixedpoint.Up)
		if err != nil {
			return err
		}
		if bal.StakedShares, err = sub(bal.StakedShares, shares); err != nil {
			return ErrInsufficientStake
		}
		if bal.RawLiquidity, err = sub(bal.RawLiquidity, amount); err != nil {
			return err
		}
		if bal.PoolFunds, err = sub(bal.PoolFunds, amount); err != nil {
			return err
		}
		if err := e.shares.Burn(e.address, e.address, shares); err != nil {
			return err
		}
		if err := e.refreshLimit(bal, cfg); err != nil {
			return err
		}
		if err := e.storeBalances(bal); err != nil {
			return err
		}
		if err := e.touchStaker(); err != nil {
			return err
		}
		if err := e.asset.Transfer(e.address, caller, amount); err != nil {
			return err
		}
		e.emit(EventTypeUnstake, map[string]string{
			"staker": caller.String(),
			"amount": amount.Dec(),
			"shares": shares.Dec(),
		})
		burned = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}

// amountUnstakable is the staked value above the target ratio floor, capped by
// raw liquidity. A closed pool releases the whole stake.
func amountUnstakable(bal *Balances, total *uint256.Int, cfg Config, open bool) (*uint256.Int, error) {
	excess := fixedpoint.Clone(bal.StakedShares)
	if open {
		lender := fixedpoint.SubFloor(total, bal.StakedShares)
		required, err := requiredStakeShares(lender, cfg.TargetStakePercent)
		if err != nil {
			return nil, err
		}
		excess = fixedpoint.SubFloor(bal.StakedShares, required)
	}
	funds, err := sharesToFunds(excess, total, bal.PoolFunds)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Min(funds, bal.RawLiquidity), nil
}

// AmountUnstakable returns the asset amount the staker may currently unstake.
func (e *Engine) AmountUnstakable() (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	bal, err := e.loadBalances()
	if err != nil {
		return nil, err
	}
	total, err := e.totalShares()
	if err != nil {
		return nil, err
	}
	lc, err := e.loadLifecycle()
	if err != nil {
		return nil, err
	}
	return amountUnstakable(bal, total, cfg, lc.Open)
}

// SharesToFunds converts shares to asset value at the current price.
func (e *Engine) SharesToFunds(shares *uint256.Int) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	bal, err := e.loadBalances()
	if err != nil {
		return nil, err
	}
	total, err := e.totalShares()
	if err != nil {
		return nil, err
	}
	return sharesToFunds(fixedpoint.Clone(shares), total, bal.PoolFunds)
}

// FundsToShares converts an asset amount to shares at the current price.
func (e *Engine) FundsToShares(funds *uint256.Int) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	bal, err := e.loadBalances()
	if err != nil {
		return nil, err
	}
	total, err := e.totalShares()
	if err != nil {
		return nil, err
	}
	return fundsToShares(fixedpoint.Clone(funds), total, bal.PoolFunds, fixedpoint.Down)
}

// MaintainsStakeRatio reports whether staked >= total * targetStakePercent.
func (e *Engine) MaintainsStakeRatio() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return false, err
	}
	bal, err := e.loadBalances()
	if err != nil {
		return false, err
	}
	total, err := e.totalShares()
	if err != nil {
		return false, err
	}
	return maintainsStakeRatio(bal.StakedShares, total, cfg.TargetStakePercent)
}

func maintainsStakeRatio(staked, total *uint256.Int, target fixedpoint.Percent) (bool, error) {
	lhs, err := fixedpoint.Mul(staked, fixedpoint.OneHundredPercent.Int())
	if err != nil {
		return false, err
	}
	rhs, err := fixedpoint.Mul(total, target.Int())
	if err != nil {
		return false, err
	}
	return !lhs.Lt(rhs), nil
}

// UpdatePoolLimit recomputes and stores the pool funds limit.
func (e *Engine) UpdatePoolLimit() (*uint256.Int, error) {
	var limit *uint256.Int
	err := e.mutate(func() error {
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		bal, err := e.loadBalances()
		if err != nil {
			return err
		}
		if err := e.refreshLimit(bal, cfg); err != nil {
			return err
		}
		limit = fixedpoint.Clone(bal.PoolFundsLimit)
		return e.storeBalances(bal)
	})
	if err != nil {
		return nil, err
	}
	return limit, nil
}

// Balances returns a copy of the pool balances.
func (e *Engine) Balances() (*Balances, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadBalances()
}

// Config returns the pool configuration.
func (e *Engine) Config() (Config, error) {
	if e == nil || e.state == nil {
		return Config{}, errNilState
	}
	return e.loadConfig()
}

// IsOpen reports whether the pool accepts deposits and new loans.
func (e *Engine) IsOpen() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	lc, err := e.loadLifecycle()
	if err != nil {
		return false, err
	}
	return lc.Open, nil
}

// LastStakerActivity returns the unix time of the staker's last recorded
// action.
func (e *Engine) LastStakerActivity() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	lc, err := e.loadLifecycle()
	if err != nil {
		return 0, err
	}
	return lc.LastStakerActivity, nil
}

// UnlockedShares returns the shares wallet may transfer or withdraw directly.
func (e *Engine) UnlockedShares(wallet crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.unlockedShares(wallet)
}

// LockedShares returns the shares wallet has queued for withdrawal.
func (e *Engine) LockedShares(wallet crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.lockedShares(wallet)
}
