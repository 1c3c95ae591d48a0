package pool

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
	"lendpool/native/withdrawals"
)

func (e *Engine) loadRequest(id uint64) (*withdrawals.Request, error) {
	req, err := e.queue.Get(id)
	if errors.Is(err, withdrawals.ErrNotFound) {
		return nil, fmt.Errorf("%w: withdrawal request %d", ErrNotFound, id)
	}
	return req, err
}

func (e *Engine) ownedRequest(wallet crypto.Address, id uint64) (*withdrawals.Request, error) {
	req, err := e.loadRequest(id)
	if err != nil {
		return nil, err
	}
	if req.Wallet != wallet {
		return nil, fmt.Errorf("%w: request %d belongs to another wallet", ErrUnauthorized, id)
	}
	return req, nil
}

// checkRequestSize enforces the minimum fund value of a request.
func (e *Engine) checkRequestSize(shares *uint256.Int, cfg Config) error {
	bal, err := e.loadBalances()
	if err != nil {
		return err
	}
	total, err := e.totalShares()
	if err != nil {
		return err
	}
	value, err := sharesToFunds(shares, total, bal.PoolFunds)
	if err != nil {
		return err
	}
	if value.Lt(cfg.MinWithdrawalRequest) {
		return ErrBelowMinimum
	}
	return nil
}

// RequestWithdrawal queues shares of wallet for withdrawal once liquidity is
// available. The shares stay locked until the request is served or cancelled.
func (e *Engine) RequestWithdrawal(wallet crypto.Address, shares *uint256.Int) (*withdrawals.Request, error) {
	var out *withdrawals.Request
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireLender(wallet); err != nil {
			return err
		}
		if !positive(shares) {
			return ErrInvalidAmount
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if err := e.checkRequestSize(shares, cfg); err != nil {
			return err
		}
		unlocked, err := e.unlockedShares(wallet)
		if err != nil {
			return err
		}
		if shares.Gt(unlocked) {
			return ErrInsufficientShares
		}
		req, err := e.queue.Enqueue(wallet, shares, e.now())
		if err != nil {
			return err
		}
		e.emit(EventTypeWithdrawalRequested, map[string]string{
			"id":     strconv.FormatUint(req.ID, 10),
			"wallet": wallet.String(),
			"shares": shares.Dec(),
		})
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateWithdrawalRequest lowers the shares of an existing request.
func (e *Engine) UpdateWithdrawalRequest(wallet crypto.Address, id uint64, shares *uint256.Int) (*withdrawals.Request, error) {
	var out *withdrawals.Request
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		req, err := e.ownedRequest(wallet, id)
		if err != nil {
			return err
		}
		if !positive(shares) {
			return ErrInvalidAmount
		}
		if !shares.Lt(req.Shares) {
			return fmt.Errorf("%w: request shares may only decrease", ErrInvalidAmount)
		}
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if err := e.checkRequestSize(shares, cfg); err != nil {
			return err
		}
		updated, _, err := e.queue.DecreaseOrRemove(id, shares)
		if err != nil {
			return err
		}
		e.emit(EventTypeWithdrawalUpdated, map[string]string{
			"id":     strconv.FormatUint(id, 10),
			"wallet": wallet.String(),
			"shares": shares.Dec(),
		})
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelWithdrawalRequest removes a request and unlocks its shares.
func (e *Engine) CancelWithdrawalRequest(wallet crypto.Address, id uint64) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if _, err := e.ownedRequest(wallet, id); err != nil {
			return err
		}
		removed, err := e.queue.Remove(id)
		if err != nil {
			return err
		}
		e.emit(EventTypeWithdrawalCancelled, map[string]string{
			"id":     strconv.FormatUint(id, 10),
			"wallet": wallet.String(),
			"shares": removed.Shares.Dec(),
		})
		return nil
	})
}

// FulfillWithdrawalRequests serves up to count requests from the head of the
// queue. A request larger than the raw liquidity is partially served and ends
// the pass. Requests worth nothing at the current share price are
// dropped and count toward count.
func (e *Engine) FulfillWithdrawalRequests(count uint64) ([]Fulfillment, error) {
	var out []Fulfillment
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if count == 0 {
			return ErrInvalidAmount
		}
		pending := false
		for i := uint64(0); i < count; i++ {
			head, ok, err := e.queue.PeekHead()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			pending = true
			served, err := e.fulfill(head)
			if err != nil {
				return err
			}
			if served == nil {
				break
			}
			out = append(out, *served)
			if !served.Remaining.IsZero() {
				break
			}
		}
		if len(out) == 0 && pending {
			return ErrInsufficientLiquidity
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FulfillWithdrawalRequestByID serves one request regardless of its queue
// position.
func (e *Engine) FulfillWithdrawalRequestByID(id uint64) (*Fulfillment, error) {
	var out *Fulfillment
	err := e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		req, err := e.loadRequest(id)
		if err != nil {
			return err
		}
		served, err := e.fulfill(req)
		if err != nil {
			return err
		}
		if served == nil {
			return ErrInsufficientLiquidity
		}
		out = served
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fulfill pays out as much of req as raw liquidity allows. It returns nil when
// nothing can be served.
func (e *Engine) fulfill(req *withdrawals.Request) (*Fulfillment, error) {
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
	shares := fixedpoint.Clone(req.Shares)
	funds, err := sharesToFunds(shares, total, bal.PoolFunds)
	if err != nil {
		return nil, err
	}
	if funds.IsZero() {
		return e.dropWorthless(req)
	}
	if funds.Gt(bal.RawLiquidity) {
		shares, err = fundsToShares(bal.RawLiquidity, total, bal.PoolFunds, fixedpoint.Down)
		if err != nil {
			return nil, err
		}
		shares = fixedpoint.Min(shares, req.Shares)
		if funds, err = sharesToFunds(shares, total, bal.PoolFunds); err != nil {
			return nil, err
		}
	}
	if shares.IsZero() || funds.IsZero() {
		return nil, nil
	}
	if bal.RawLiquidity, err = sub(bal.RawLiquidity, funds); err != nil {
		return nil, err
	}
	if bal.PoolFunds, err = sub(bal.PoolFunds, funds); err != nil {
		return nil, err
	}
	if err := e.shares.Burn(e.address, req.Wallet, shares); err != nil {
		return nil, err
	}
	if err := e.refreshLimit(bal, cfg); err != nil {
		return nil, err
	}
	if err := e.storeBalances(bal); err != nil {
		return nil, err
	}
	remaining := new(uint256.Int).Sub(req.Shares, shares)
	if _, _, err := e.queue.DecreaseOrRemove(req.ID, remaining); err != nil {
		return nil, err
	}
	if err := e.asset.Transfer(e.address, req.Wallet, funds); err != nil {
		return nil, err
	}
	e.emit(EventTypeWithdrawalFulfilled, map[string]string{
		"id":        strconv.FormatUint(req.ID, 10),
		"wallet":    req.Wallet.String(),
		"shares":    shares.Dec(),
		"amount":    funds.Dec(),
		"remaining": remaining.Dec(),
	})
	return &Fulfillment{
		RequestID: req.ID,
		Wallet:    req.Wallet,
		Shares:    shares,
		Funds:     funds,
		Remaining: remaining,
	}, nil
}

// dropWorthless removes a request whose shares no longer redeem for any funds
// and unlocks the shares. Nothing is burned or paid.
func (e *Engine) dropWorthless(req *withdrawals.Request) (*Fulfillment, error) {
	if _, err := e.queue.Remove(req.ID); err != nil {
		return nil, err
	}
	e.emit(EventTypeWithdrawalDropped, map[string]string{
		"id":     strconv.FormatUint(req.ID, 10),
		"wallet": req.Wallet.String(),
		"shares": req.Shares.Dec(),
	})
	return &Fulfillment{
		RequestID: req.ID,
		Wallet:    req.Wallet,
		Shares:    new(uint256.Int),
		Funds:     new(uint256.Int),
		Remaining: new(uint256.Int),
		Dropped:   true,
	}, nil
}

// WithdrawalRequest returns a queued request by id.
func (e *Engine) WithdrawalRequest(id uint64) (*withdrawals.Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadRequest(id)
}

// WithdrawalRequests lists the queued requests of wallet in queue order.
func (e *Engine) WithdrawalRequests(wallet crypto.Address) ([]*withdrawals.Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.queue.RequestsOf(wallet)
}
