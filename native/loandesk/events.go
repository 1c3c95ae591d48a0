package loandesk

const (
	EventTypeLoanRequested   = "loan.requested"
	EventTypeLoanDenied      = "loan.denied"
	EventTypeOfferDrafted    = "loan.offer.drafted"
	EventTypeOfferUpdated    = "loan.offer.updated"
	EventTypeOfferLocked     = "loan.offer.locked"
	EventTypeOfferMade       = "loan.offer.made"
	EventTypeLoanCancelled   = "loan.cancelled"
	EventTypeLoanBorrowed    = "loan.borrowed"
	EventTypeLoanRepayment   = "loan.repayment"
	EventTypeLoanRepaid      = "loan.repaid"
	EventTypeLoanDefaulted   = "loan.defaulted"
	EventTypeDeskOpened      = "loandesk.opened"
	EventTypeDeskClosed      = "loandesk.closed"
	EventTypeTemplateUpdated = "loandesk.template.updated"
)
