package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"lendpool/core/protocol"
	"lendpool/crypto"
	"lendpool/native/fixedpoint"
	"lendpool/native/pool"
)

func (s *Server) poolRoutes() []route {
	return []route{
		{http.MethodGet, "/stats", "stats", s.poolStats},
		{http.MethodGet, "/config", "config", s.poolConfig},
		{http.MethodGet, "/apy", "apy", s.poolAPY},
		{http.MethodGet, "/wallets/{address}", "wallet", s.wallet},
		{http.MethodGet, "/withdrawals/{id}", "withdrawal", s.withdrawal},

		{http.MethodPost, "/open", "open", s.openPool},
		{http.MethodPost, "/close", "close", s.closePool},
		{http.MethodPost, "/deposit", "deposit", s.deposit},
		{http.MethodPost, "/withdraw", "withdraw", s.withdraw},
		{http.MethodPost, "/stake", "stake", s.stake},
		{http.MethodPost, "/unstake", "unstake", s.unstake},
		{http.MethodPost, "/shares/transfer", "transfer_shares", s.transferShares},
		{http.MethodPost, "/withdrawals", "request_withdrawal", s.requestWithdrawal},
		{http.MethodPost, "/withdrawals/fulfill", "fulfill_withdrawals", s.fulfillWithdrawals},
		{http.MethodPut, "/withdrawals/{id}", "update_withdrawal", s.updateWithdrawal},
		{http.MethodDelete, "/withdrawals/{id}", "cancel_withdrawal", s.cancelWithdrawal},
		{http.MethodPost, "/withdrawals/{id}/fulfill", "fulfill_withdrawal", s.fulfillWithdrawal},

		{http.MethodPost, "/config/target-stake", "set_target_stake", s.setPercent(setTargetStake)},
		{http.MethodPost, "/config/target-liquidity", "set_target_liquidity", s.setPercent(setTargetLiquidity)},
		{http.MethodPost, "/config/protocol-fee", "set_protocol_fee", s.setPercent(setProtocolFee)},
		{http.MethodPost, "/config/staker-earn-factor", "set_staker_earn_factor", s.setPercent(setEarnFactor)},
		{http.MethodPost, "/config/staker-earn-factor-max", "set_staker_earn_factor_max", s.setPercent(setEarnFactorMax)},
		{http.MethodPost, "/config/min-withdrawal-request", "set_min_withdrawal_request", s.setMinWithdrawalRequest},
		{http.MethodPost, "/config/deposit-with-open-requests", "set_deposit_with_open_requests", s.setDepositWithOpenRequests},
	}
}

type percentSetter func(e *pool.Engine, caller crypto.Address, p fixedpoint.Percent) error

func setTargetStake(e *pool.Engine, caller crypto.Address, p fixedpoint.Percent) error {
	return e.SetTargetStakePercent(caller, p)
}

func setTargetLiquidity(e *pool.Engine, caller crypto.Address, p fixedpoint.Percent) error {
	return e.SetTargetLiquidityPercent(caller, p)
}

func setProtocolFee(e *pool.Engine, caller crypto.Address, p fixedpoint.Percent) error {
	return e.SetProtocolFeePercent(caller, p)
}

func setEarnFactor(e *pool.Engine, caller crypto.Address, p fixedpoint.Percent) error {
	return e.SetStakerEarnFactor(caller, p)
}

func setEarnFactorMax(e *pool.Engine, caller crypto.Address, p fixedpoint.Percent) error {
	return e.SetStakerEarnFactorMax(caller, p)
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) decodeAmount(w http.ResponseWriter, r *http.Request) (*uint256.Int, bool) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return nil, false
	}
	amount, err := s.units.parse("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return nil, false
	}
	return amount, true
}

func (s *Server) decodeShares(w http.ResponseWriter, r *http.Request) (*uint256.Int, bool) {
	var req sharesRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return nil, false
	}
	shares, err := s.units.parse("shares", req.Shares)
	if err != nil {
		writeBadRequest(w, err)
		return nil, false
	}
	return shares, true
}

func (s *Server) poolStats(w http.ResponseWriter, r *http.Request) {
	s.view(w, r, "stats", func(e *protocol.Engines) (any, error) {
		stats, err := e.Pool.Stats()
		if err != nil {
			return nil, err
		}
		lent, err := e.Desk.LentFunds()
		if err != nil {
			return nil, err
		}
		deskOpen, err := e.Desk.IsOpen()
		if err != nil {
			return nil, err
		}
		return statsView{
			PoolID:         s.protocol.PoolID(),
			PoolAddress:    s.protocol.PoolAddress().String(),
			DeskAddress:    s.protocol.DeskAddress().String(),
			Balances:       s.units.balances(stats.Balances),
			TotalShares:    s.units.format(stats.TotalShares),
			LenderShares:   s.units.format(stats.LenderShares),
			StakedValue:    s.units.format(stats.StakedValue),
			Unstakable:     s.units.format(stats.Unstakable),
			PendingQueue:   stats.PendingQueue,
			Open:           stats.Open,
			DeskOpen:       deskOpen,
			StakeRatioMet:  stats.StakeRatioMet,
			LenderAPY:      stats.LenderAPY.String(),
			StakerAPY:      stats.StakerAPY.String(),
			WeightedAvgAPR: stats.WeightedAvgAPR.String(),
			LentFunds:      s.units.format(lent),
		}, nil
	})
}

func (s *Server) poolConfig(w http.ResponseWriter, r *http.Request) {
	s.view(w, r, "config", func(e *protocol.Engines) (any, error) {
		cfg, err := e.Pool.Config()
		if err != nil {
			return nil, err
		}
		last, err := e.Pool.LastStakerActivity()
		if err != nil {
			return nil, err
		}
		return s.units.config(cfg, last), nil
	})
}

// poolAPY reports current yields and, when strategy_rate is given, the lender
// yield for that deployment at the current loan book APR or at apr.
func (s *Server) poolAPY(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var strategyRate, apr *fixedpoint.Percent
	if raw := query.Get("strategy_rate"); raw != "" {
		p, err := parsePercent("strategy_rate", raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		strategyRate = &p
	}
	if raw := query.Get("apr"); raw != "" {
		p, err := parsePercent("apr", raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		apr = &p
	}
	s.view(w, r, "apy", func(e *protocol.Engines) (any, error) {
		current, err := e.Pool.CurrentLenderAPY()
		if err != nil {
			return nil, err
		}
		staker, err := e.Pool.CurrentStakerAPY()
		if err != nil {
			return nil, err
		}
		view := apyView{Current: current.String(), Staker: staker.String()}
		if strategyRate != nil {
			avg := apr
			if avg == nil {
				weighted, err := e.Desk.WeightedAvgAPR()
				if err != nil {
					return nil, err
				}
				avg = &weighted
			}
			projected, err := e.Pool.ProjectedLenderAPY(*strategyRate, *avg)
			if err != nil {
				return nil, err
			}
			view.Projected = projected.String()
		}
		return view, nil
	})
}

func (s *Server) wallet(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.view(w, r, "wallet", func(e *protocol.Engines) (any, error) {
		asset, err := e.Asset.BalanceOf(addr)
		if err != nil {
			return nil, err
		}
		shares, err := e.Shares.BalanceOf(addr)
		if err != nil {
			return nil, err
		}
		locked, err := e.Pool.LockedShares(addr)
		if err != nil {
			return nil, err
		}
		unlocked, err := e.Pool.UnlockedShares(addr)
		if err != nil {
			return nil, err
		}
		value, err := e.Pool.SharesToFunds(shares)
		if err != nil {
			return nil, err
		}
		requests, err := e.Pool.WithdrawalRequests(addr)
		if err != nil {
			return nil, err
		}
		stats, err := e.Desk.BorrowerStats(addr)
		if err != nil {
			return nil, err
		}
		view := walletView{
			Address:        addr.String(),
			Asset:          s.units.format(asset),
			Shares:         s.units.format(shares),
			LockedShares:   s.units.format(locked),
			UnlockedShares: s.units.format(unlocked),
			Value:          s.units.format(value),
			Requests:       make([]requestView, 0, len(requests)),
		}
		for _, req := range requests {
			view.Requests = append(view.Requests, s.units.request(req))
		}
		if stats.CountRequested > 0 {
			view.Borrower = s.units.borrower(stats)
		}
		return view, nil
	})
}

func (s *Server) withdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.view(w, r, "withdrawal", func(e *protocol.Engines) (any, error) {
		req, err := e.Pool.WithdrawalRequest(id)
		if err != nil {
			return nil, err
		}
		return s.units.request(req), nil
	})
}

func (s *Server) openPool(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "open", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Pool.Open(caller)
	})
}

func (s *Server) closePool(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "close", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Pool.Close(caller)
	})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.decodeAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "deposit", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		shares, err := e.Pool.Deposit(caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares": s.units.format(shares)}, nil
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.decodeAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "withdraw", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		shares, err := e.Pool.Withdraw(caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares_burned": s.units.format(shares)}, nil
	})
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.decodeAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "stake", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		shares, err := e.Pool.Stake(caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares": s.units.format(shares)}, nil
	})
}

func (s *Server) unstake(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.decodeAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "unstake", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		shares, err := e.Pool.Unstake(caller, amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"shares_burned": s.units.format(shares)}, nil
	})
}

func (s *Server) transferShares(w http.ResponseWriter, r *http.Request) {
	var req transferSharesRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	shares, err := s.units.parse("shares", req.Shares)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "transfer_shares", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Pool.TransferShares(caller, to, shares)
	})
}

func (s *Server) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	shares, ok := s.decodeShares(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "request_withdrawal", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		req, err := e.Pool.RequestWithdrawal(caller, shares)
		if err != nil {
			return nil, err
		}
		return s.units.request(req), nil
	})
}

func (s *Server) updateWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	shares, ok := s.decodeShares(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "update_withdrawal", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		req, err := e.Pool.UpdateWithdrawalRequest(caller, id, shares)
		if err != nil {
			return nil, err
		}
		return s.units.request(req), nil
	})
}

func (s *Server) cancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "cancel_withdrawal", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Pool.CancelWithdrawalRequest(caller, id)
	})
}

func (s *Server) fulfillWithdrawals(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "fulfill_withdrawals", func(_ crypto.Address, e *protocol.Engines) (any, error) {
		served, err := e.Pool.FulfillWithdrawalRequests(req.Count)
		if err != nil {
			return nil, err
		}
		views := make([]fulfillmentView, 0, len(served))
		for _, f := range served {
			views = append(views, s.units.fulfillment(f))
		}
		return views, nil
	})
}

func (s *Server) fulfillWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "fulfill_withdrawal", func(_ crypto.Address, e *protocol.Engines) (any, error) {
		served, err := e.Pool.FulfillWithdrawalRequestByID(id)
		if err != nil {
			return nil, err
		}
		return s.units.fulfillment(*served), nil
	})
}

func (s *Server) setPercent(set percentSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req percentRequest
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		p, err := parsePercent("percent", req.Percent)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		s.execute(w, r, "set_config", func(caller crypto.Address, e *protocol.Engines) (any, error) {
			return nil, set(e.Pool, caller, p)
		})
	}
}

func (s *Server) setMinWithdrawalRequest(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.decodeAmount(w, r)
	if !ok {
		return
	}
	s.execute(w, r, "set_min_withdrawal_request", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Pool.SetMinWithdrawalRequest(caller, amount)
	})
}

func (s *Server) setDepositWithOpenRequests(w http.ResponseWriter, r *http.Request) {
	var req boolRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "set_deposit_with_open_requests", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Pool.SetAllowDepositWithOpenRequests(caller, req.Enabled)
	})
}
