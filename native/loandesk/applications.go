package loandesk

import (
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
	"lendpool/native/pool"
)

// validateTerms checks offer terms against the template and protocol bounds.
func validateTerms(t Terms, p Params) error {
	if t.Amount == nil || t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if t.Amount.Lt(p.Template.MinAmount) {
		return fmt.Errorf("%w: amount %s under template minimum %s", ErrBelowMinimum, t.Amount.Dec(), p.Template.MinAmount.Dec())
	}
	if t.Duration < p.Template.MinDuration {
		return fmt.Errorf("%w: duration %d under template minimum", ErrBelowMinimum, t.Duration)
	}
	if t.Duration > p.Template.MaxDuration {
		return fmt.Errorf("%w: duration %d over template maximum", ErrInvalidAmount, t.Duration)
	}
	if t.GracePeriod < p.MinGracePeriod {
		return fmt.Errorf("%w: grace period %d", ErrBelowMinimum, t.GracePeriod)
	}
	if t.GracePeriod > p.MaxGracePeriod {
		return fmt.Errorf("%w: grace period %d", ErrInvalidAmount, t.GracePeriod)
	}
	if t.Installments == 0 {
		return fmt.Errorf("%w: at least one installment", ErrBelowMinimum)
	}
	if t.Installments > t.Duration/Day {
		return fmt.Errorf("%w: %d installments over %d days", ErrInvalidAmount, t.Installments, t.Duration/Day)
	}
	if t.Installments > 1 && (t.InstallmentAmount == nil || t.InstallmentAmount.IsZero()) {
		return fmt.Errorf("%w: installment amount required", ErrInvalidAmount)
	}
	if !t.APR.Valid() {
		return fmt.Errorf("%w: apr %s", ErrInvalidAmount, t.APR)
	}
	return nil
}

func normalizeTerms(t Terms) Terms {
	t.Amount = fixedpoint.Clone(t.Amount)
	if t.InstallmentAmount != nil {
		t.InstallmentAmount = fixedpoint.Clone(t.InstallmentAmount)
	} else {
		t.InstallmentAmount = new(uint256.Int)
	}
	return t
}

// RequestLoan files a loan application for borrower. The profile bytes are
// reduced to a blake3 digest; only the digest and profileID are stored.
func (e *Engine) RequestLoan(borrower crypto.Address, amount *uint256.Int, duration uint64, profileID string, profile []byte) (*Application, error) {
	var app *Application
	err := e.mutate(func() error {
		if err := e.checkActive(); err != nil {
			return err
		}
		if e.isStaker(borrower) {
			return fmt.Errorf("%w: the staker cannot borrow from its own pool", ErrUnauthorized)
		}
		p, err := e.loadParams()
		if err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		if amount.Lt(p.Template.MinAmount) {
			return fmt.Errorf("%w: amount %s under template minimum %s", ErrBelowMinimum, amount.Dec(), p.Template.MinAmount.Dec())
		}
		if duration < p.Template.MinDuration {
			return fmt.Errorf("%w: duration %d under template minimum", ErrBelowMinimum, duration)
		}
		if duration > p.Template.MaxDuration {
			return fmt.Errorf("%w: duration %d over template maximum", ErrInvalidAmount, duration)
		}
		stats, err := e.loadStats(borrower)
		if err != nil {
			return err
		}
		if stats.RecentApplicationID != 0 {
			recent, err := e.loadApplication(stats.RecentApplicationID)
			if err != nil {
				return err
			}
			if recent.Status.open() {
				return ErrOpenApplication
			}
		}
		if stats.RecentLoanID != 0 {
			recent, err := e.loadLoan(stats.RecentLoanID)
			if err != nil {
				return err
			}
			if recent.Status == LoanOutstanding {
				return ErrActiveLoan
			}
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		app = &Application{
			ID:            m.NextApplicationID,
			Borrower:      borrower,
			Amount:        fixedpoint.Clone(amount),
			Duration:      duration,
			Status:        ApplicationApplied,
			ProfileID:     profileID,
			ProfileDigest: blake3.Sum256(profile),
			RequestedTime: e.now(),
		}
		m.NextApplicationID++
		stats.CountRequested++
		stats.RecentApplicationID = app.ID
		if err := e.storeApplication(app); err != nil {
			return err
		}
		if err := e.storeMeta(m); err != nil {
			return err
		}
		if err := e.storeStats(stats); err != nil {
			return err
		}
		e.emit(EventTypeLoanRequested, map[string]string{
			"applicationId": strconv.FormatUint(app.ID, 10),
			"borrower":      borrower.String(),
			"amount":        amount.Dec(),
			"duration":      strconv.FormatUint(duration, 10),
			"profileId":     profileID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// applicationInState loads an application and requires one of the given
// statuses.
func (e *Engine) applicationInState(id uint64, allowed ...ApplicationStatus) (*Application, error) {
	app, err := e.loadApplication(id)
	if err != nil {
		return nil, err
	}
	for _, status := range allowed {
		if app.Status == status {
			return app, nil
		}
	}
	return nil, fmt.Errorf("%w: application %d is %s", ErrInvalidState, id, app.Status)
}

// DenyLoan rejects an application that has no offer yet.
func (e *Engine) DenyLoan(caller crypto.Address, applicationID uint64) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		app, err := e.applicationInState(applicationID, ApplicationApplied)
		if err != nil {
			return err
		}
		app.Status = ApplicationDenied
		stats, err := e.loadStats(app.Borrower)
		if err != nil {
			return err
		}
		stats.CountDenied++
		if err := e.storeApplication(app); err != nil {
			return err
		}
		if err := e.storeStats(stats); err != nil {
			return err
		}
		e.emit(EventTypeLoanDenied, map[string]string{
			"applicationId": strconv.FormatUint(applicationID, 10),
			"borrower":      app.Borrower.String(),
		})
		return nil
	})
}

func offerAttributes(offer *Offer) map[string]string {
	return map[string]string{
		"applicationId":     strconv.FormatUint(offer.ApplicationID, 10),
		"borrower":          offer.Borrower.String(),
		"amount":            offer.Amount.Dec(),
		"duration":          strconv.FormatUint(offer.Duration, 10),
		"gracePeriod":       strconv.FormatUint(offer.GracePeriod, 10),
		"installments":      strconv.FormatUint(offer.Installments, 10),
		"installmentAmount": offer.InstallmentAmount.Dec(),
		"apr":               offer.APR.String(),
	}
}

// DraftOffer attaches an offer to an application and reserves its amount in
// the pool.
func (e *Engine) DraftOffer(caller crypto.Address, applicationID uint64, terms Terms) (*Offer, error) {
	var offer *Offer
	err := e.mutate(func() error {
		if err := e.checkActive(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		app, err := e.applicationInState(applicationID, ApplicationApplied)
		if err != nil {
			return err
		}
		p, err := e.loadParams()
		if err != nil {
			return err
		}
		terms = normalizeTerms(terms)
		if err := validateTerms(terms, p); err != nil {
			return err
		}
		if _, err := e.pool.CanOffer(terms.Amount); err != nil {
			return err
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		if m.AllocatedFunds, err = fixedpoint.Add(m.AllocatedFunds, terms.Amount); err != nil {
			return err
		}
		offer = &Offer{
			ApplicationID: app.ID,
			Borrower:      app.Borrower,
			DraftedTime:   e.now(),
		}
		offer.apply(terms)
		app.Status = ApplicationOfferDrafted
		if err := e.storeOffer(offer); err != nil {
			return err
		}
		if err := e.storeApplication(app); err != nil {
			return err
		}
		if err := e.storeMeta(m); err != nil {
			return err
		}
		if err := e.pool.OnOfferAllocate(e.address, terms.Amount); err != nil {
			return err
		}
		e.emit(EventTypeOfferDrafted, offerAttributes(offer))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// UpdateDraftOffer amends an unlocked draft. A larger amount reserves the
// difference in the pool; a smaller one releases it.
func (e *Engine) UpdateDraftOffer(caller crypto.Address, applicationID uint64, terms Terms) (*Offer, error) {
	var offer *Offer
	err := e.mutate(func() error {
		if err := e.checkActive(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		if _, err := e.applicationInState(applicationID, ApplicationOfferDrafted); err != nil {
			return err
		}
		p, err := e.loadParams()
		if err != nil {
			return err
		}
		terms = normalizeTerms(terms)
		if err := validateTerms(terms, p); err != nil {
			return err
		}
		if offer, err = e.loadOffer(applicationID); err != nil {
			return err
		}
		m, err := e.loadMeta()
		if err != nil {
			return err
		}
		previous := fixedpoint.Clone(offer.Amount)
		var allocate, release *uint256.Int
		switch terms.Amount.Cmp(previous) {
		case 1:
			allocate = new(uint256.Int).Sub(terms.Amount, previous)
			if _, err := e.pool.CanOffer(allocate); err != nil {
				return err
			}
			if m.AllocatedFunds, err = fixedpoint.Add(m.AllocatedFunds, allocate); err != nil {
				return err
			}
		case -1:
			release = new(uint256.Int).Sub(previous, terms.Amount)
			m.AllocatedFunds = fixedpoint.SubFloor(m.AllocatedFunds, release)
		}
		offer.apply(terms)
		if err := e.storeOffer(offer); err != nil {
			return err
		}
		if err := e.storeMeta(m); err != nil {
			return err
		}
		if allocate != nil {
			if err := e.pool.OnOfferAllocate(e.address, allocate); err != nil {
				return err
			}
		}
		if release != nil {
			if err := e.pool.OnOfferDeallocate(e.address, release); err != nil {
				return err
			}
		}
		attrs := offerAttributes(offer)
		attrs["previousAmount"] = previous.Dec()
		e.emit(EventTypeOfferUpdated, attrs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// LockDraftOffer freezes a draft and starts the lender veto window.
func (e *Engine) LockDraftOffer(caller crypto.Address, applicationID uint64) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		app, err := e.applicationInState(applicationID, ApplicationOfferDrafted)
		if err != nil {
			return err
		}
		offer, err := e.loadOffer(applicationID)
		if err != nil {
			return err
		}
		offer.LockedTime = e.now()
		app.Status = ApplicationOfferDraftLocked
		if err := e.storeOffer(offer); err != nil {
			return err
		}
		if err := e.storeApplication(app); err != nil {
			return err
		}
		e.emit(EventTypeOfferLocked, map[string]string{
			"applicationId": strconv.FormatUint(applicationID, 10),
			"lockedTime":    strconv.FormatUint(offer.LockedTime, 10),
		})
		return nil
	})
}

// OfferLoan publishes a locked offer once its veto window has passed.
func (e *Engine) OfferLoan(caller crypto.Address, applicationID uint64) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		if err := e.requireStaker(caller); err != nil {
			return err
		}
		app, err := e.applicationInState(applicationID, ApplicationOfferDraftLocked)
		if err != nil {
			return err
		}
		p, err := e.loadParams()
		if err != nil {
			return err
		}
		offer, err := e.loadOffer(applicationID)
		if err != nil {
			return err
		}
		now := e.now()
		if now <= offer.LockedTime+p.LockPeriod {
			return fmt.Errorf("%w: offer %d locked until %d", ErrLockPeriodActive, applicationID, offer.LockedTime+p.LockPeriod)
		}
		ok, err := e.pool.MaintainsStakeRatio()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: stake ratio below target", pool.ErrInsufficientStake)
		}
		stats, err := e.loadStats(app.Borrower)
		if err != nil {
			return err
		}
		stats.CountOffered++
		offer.OfferedTime = now
		app.Status = ApplicationOfferMade
		if err := e.storeOffer(offer); err != nil {
			return err
		}
		if err := e.storeApplication(app); err != nil {
			return err
		}
		if err := e.storeStats(stats); err != nil {
			return err
		}
		e.emit(EventTypeOfferMade, offerAttributes(offer))
		return nil
	})
}

// CancelLoan withdraws an application or offer before it is accepted. The
// staker may cancel at any point before acceptance; lender governance may
// only veto a locked offer inside its lock window.
func (e *Engine) CancelLoan(caller crypto.Address, applicationID uint64) error {
	return e.mutate(func() error {
		if err := e.checkPaused(); err != nil {
			return err
		}
		app, err := e.loadApplication(applicationID)
		if err != nil {
			return err
		}
		switch {
		case e.isStaker(caller):
			if err := e.pool.OnStakerActivity(e.address); err != nil {
				return err
			}
			if !app.Status.open() {
				return fmt.Errorf("%w: application %d is %s", ErrInvalidState, applicationID, app.Status)
			}
		case e.isLenderGovernance(caller):
			if app.Status != ApplicationOfferDraftLocked {
				return fmt.Errorf("%w: only locked offers can be vetoed", ErrInvalidState)
			}
			p, err := e.loadParams()
			if err != nil {
				return err
			}
			offer, err := e.loadOffer(applicationID)
			if err != nil {
				return err
			}
			if e.now() > offer.LockedTime+p.LockPeriod {
				return fmt.Errorf("%w: veto window of offer %d closed", ErrLockPeriodExpired, applicationID)
			}
		default:
			return fmt.Errorf("%w: %s cannot cancel loans", ErrUnauthorized, caller)
		}

		var release *uint256.Int
		if app.Status != ApplicationApplied {
			offer, err := e.loadOffer(applicationID)
			if err != nil {
				return err
			}
			release = offer.Amount
			m, err := e.loadMeta()
			if err != nil {
				return err
			}
			m.AllocatedFunds = fixedpoint.SubFloor(m.AllocatedFunds, release)
			if err := e.storeMeta(m); err != nil {
				return err
			}
		}
		stats, err := e.loadStats(app.Borrower)
		if err != nil {
			return err
		}
		stats.CountCancelled++
		app.Status = ApplicationCancelled
		if err := e.storeApplication(app); err != nil {
			return err
		}
		if err := e.storeStats(stats); err != nil {
			return err
		}
		if release != nil {
			if err := e.pool.OnOfferDeallocate(e.address, release); err != nil {
				return err
			}
		}
		e.emit(EventTypeLoanCancelled, map[string]string{
			"applicationId": strconv.FormatUint(applicationID, 10),
			"borrower":      app.Borrower.String(),
			"by":            caller.String(),
		})
		return nil
	})
}
