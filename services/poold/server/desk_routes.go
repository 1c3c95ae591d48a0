package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendpool/core/protocol"
	"lendpool/crypto"
	"lendpool/native/loandesk"
)

func (s *Server) deskRoutes() []route {
	return []route{
		{http.MethodGet, "/params", "params", s.deskParams},
		{http.MethodGet, "/applications/{id}", "application", s.application},
		{http.MethodGet, "/applications/{id}/offer", "offer", s.offer},
		{http.MethodGet, "/loans/{id}", "loan", s.loan},
		{http.MethodGet, "/borrowers/{address}", "borrower", s.borrower},

		{http.MethodPost, "/open", "open", s.openDesk},
		{http.MethodPost, "/close", "close", s.closeDesk},
		{http.MethodPost, "/template", "set_template", s.setTemplate},
		{http.MethodPost, "/applications", "request_loan", s.requestLoan},
		{http.MethodPost, "/applications/{id}/deny", "deny_loan", s.applicationCall("deny_loan", denyLoan)},
		{http.MethodPost, "/applications/{id}/offer", "draft_offer", s.offerTerms("draft_offer", draftOffer)},
		{http.MethodPut, "/applications/{id}/offer", "update_offer", s.offerTerms("update_offer", updateOffer)},
		{http.MethodPost, "/applications/{id}/offer/lock", "lock_offer", s.applicationCall("lock_offer", lockOffer)},
		{http.MethodPost, "/applications/{id}/offer/make", "make_offer", s.applicationCall("make_offer", makeOffer)},
		{http.MethodPost, "/applications/{id}/cancel", "cancel_loan", s.applicationCall("cancel_loan", cancelLoan)},
		{http.MethodPost, "/applications/{id}/borrow", "borrow", s.borrow},
		{http.MethodPost, "/loans/{id}/repay", "repay", s.repay},
		{http.MethodPost, "/loans/{id}/default", "default", s.defaultLoan},
	}
}

type applicationAction func(d *loandesk.Engine, caller crypto.Address, id uint64) error

func denyLoan(d *loandesk.Engine, caller crypto.Address, id uint64) error { return d.DenyLoan(caller, id) }

func lockOffer(d *loandesk.Engine, caller crypto.Address, id uint64) error {
	return d.LockDraftOffer(caller, id)
}

func makeOffer(d *loandesk.Engine, caller crypto.Address, id uint64) error { return d.OfferLoan(caller, id) }

func cancelLoan(d *loandesk.Engine, caller crypto.Address, id uint64) error {
	return d.CancelLoan(caller, id)
}

type termsAction func(d *loandesk.Engine, caller crypto.Address, id uint64, t loandesk.Terms) (*loandesk.Offer, error)

func draftOffer(d *loandesk.Engine, caller crypto.Address, id uint64, t loandesk.Terms) (*loandesk.Offer, error) {
	return d.DraftOffer(caller, id, t)
}

func updateOffer(d *loandesk.Engine, caller crypto.Address, id uint64, t loandesk.Terms) (*loandesk.Offer, error) {
	return d.UpdateDraftOffer(caller, id, t)
}

func (s *Server) deskParams(w http.ResponseWriter, r *http.Request) {
	s.view(w, r, "params", func(e *protocol.Engines) (any, error) {
		params, err := e.Desk.Params()
		if err != nil {
			return nil, err
		}
		open, err := e.Desk.IsOpen()
		if err != nil {
			return nil, err
		}
		allocated, err := e.Desk.AllocatedFunds()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"open": open,
			"template": templateRequest{
				MinAmount:       s.units.format(params.Template.MinAmount),
				MinDurationDays: days(params.Template.MinDuration),
				MaxDurationDays: days(params.Template.MaxDuration),
				GracePeriodDays: days(params.Template.GracePeriod),
				APR:             params.Template.APR.String(),
			},
			"min_grace_period_days": days(params.MinGracePeriod),
			"max_grace_period_days": days(params.MaxGracePeriod),
			"lock_period_days":      days(params.LockPeriod),
			"allocated_funds":       s.units.format(allocated),
		}, nil
	})
}

func (s *Server) application(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.view(w, r, "application", func(e *protocol.Engines) (any, error) {
		app, err := e.Desk.Application(id)
		if err != nil {
			return nil, err
		}
		return s.units.application(app), nil
	})
}

func (s *Server) offer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.view(w, r, "offer", func(e *protocol.Engines) (any, error) {
		offer, err := e.Desk.Offer(id)
		if err != nil {
			return nil, err
		}
		return s.units.offer(offer), nil
	})
}

func (s *Server) loan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.view(w, r, "loan", func(e *protocol.Engines) (any, error) {
		loan, err := e.Desk.Loan(id)
		if err != nil {
			return nil, err
		}
		detail, err := e.Desk.LoanDetail(id)
		if err != nil {
			return nil, err
		}
		due, err := e.Desk.LoanBalanceDue(id)
		if err != nil {
			return nil, err
		}
		nextDue, nextAmount, err := e.Desk.NextInstallmentDue(id)
		if err != nil {
			return nil, err
		}
		canDefault, err := e.Desk.CanDefault(id)
		if err != nil {
			return nil, err
		}
		view := s.units.loan(loan, detail)
		view.BalanceDue = s.units.format(due)
		if loan.Status == loandesk.LoanOutstanding {
			view.NextInstallmentDue = nextDue
			view.NextInstallmentAmount = s.units.format(nextAmount)
		}
		view.CanDefault = canDefault
		return view, nil
	})
}

func (s *Server) borrower(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.view(w, r, "borrower", func(e *protocol.Engines) (any, error) {
		stats, err := e.Desk.BorrowerStats(addr)
		if err != nil {
			return nil, err
		}
		return s.units.borrower(stats), nil
	})
}

func (s *Server) openDesk(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "open_desk", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Desk.Open(caller)
	})
}

func (s *Server) closeDesk(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "close_desk", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Desk.Close(caller)
	})
}

func (s *Server) setTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	template, err := s.units.template(req)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "set_template", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Desk.SetTemplate(caller, template)
	})
}

func (s *Server) requestLoan(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := s.units.parse("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if strings.TrimSpace(req.ProfileID) == "" {
		writeBadRequest(w, errors.New("profile_id is required"))
		return
	}
	s.execute(w, r, "request_loan", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		app, err := e.Desk.RequestLoan(caller, amount, req.DurationDays*loandesk.Day, req.ProfileID, []byte(req.Profile))
		if err != nil {
			return nil, err
		}
		return s.units.application(app), nil
	})
}

func (s *Server) applicationCall(operation string, action applicationAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		s.execute(w, r, operation, func(caller crypto.Address, e *protocol.Engines) (any, error) {
			if err := action(e.Desk, caller, id); err != nil {
				return nil, err
			}
			app, err := e.Desk.Application(id)
			if err != nil {
				return nil, err
			}
			return s.units.application(app), nil
		})
	}
}

func (s *Server) offerTerms(operation string, action termsAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		var req termsRequest
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		terms, err := s.units.terms(req)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		s.execute(w, r, operation, func(caller crypto.Address, e *protocol.Engines) (any, error) {
			offer, err := action(e.Desk, caller, id, terms)
			if err != nil {
				return nil, err
			}
			return s.units.offer(offer), nil
		})
	}
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "borrow", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		loan, err := e.Desk.Borrow(caller, id)
		if err != nil {
			return nil, err
		}
		detail, err := e.Desk.LoanDetail(loan.ID)
		if err != nil {
			return nil, err
		}
		return s.units.loan(loan, detail), nil
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req repayRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := s.units.parse("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var onBehalf *crypto.Address
	if strings.TrimSpace(req.Borrower) != "" {
		b, err := parseAddress("borrower", req.Borrower)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		onBehalf = &b
	}
	s.execute(w, r, "repay", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		var payment *loandesk.Payment
		var err error
		if onBehalf != nil {
			payment, err = e.Desk.RepayOnBehalf(caller, id, amount, *onBehalf)
		} else {
			payment, err = e.Desk.Repay(caller, id, amount)
		}
		if err != nil {
			return nil, err
		}
		return s.units.payment(payment), nil
	})
}

func (s *Server) defaultLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "default", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		result, err := e.Desk.DefaultLoan(caller, id)
		if err != nil {
			return nil, err
		}
		return s.units.defaulted(result), nil
	})
}
