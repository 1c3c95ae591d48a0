package pool

const (
	EventTypeDeposit             = "pool.deposit"
	EventTypeWithdraw            = "pool.withdraw"
	EventTypeStake               = "pool.stake"
	EventTypeUnstake             = "pool.unstake"
	EventTypeWithdrawalRequested = "pool.withdrawal.requested"
	EventTypeWithdrawalUpdated   = "pool.withdrawal.updated"
	EventTypeWithdrawalCancelled = "pool.withdrawal.cancelled"
	EventTypeWithdrawalFulfilled = "pool.withdrawal.fulfilled"
	EventTypeWithdrawalDropped   = "pool.withdrawal.dropped"
	EventTypeOfferAllocated      = "pool.offer.allocated"
	EventTypeOfferDeallocated    = "pool.offer.deallocated"
	EventTypeLoanFunded          = "pool.loan.funded"
	EventTypeRepayment           = "pool.repayment"
	EventTypeDefault             = "pool.default"
	EventTypeOpened              = "pool.opened"
	EventTypeClosed              = "pool.closed"
	EventTypeSharesTransferred   = "pool.shares.transferred"
	EventTypeConfigUpdated       = "pool.config.updated"
)
