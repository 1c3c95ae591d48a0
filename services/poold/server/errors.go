package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lendpool/native/access"
	nativecommon "lendpool/native/common"
	"lendpool/native/fixedpoint"
	"lendpool/native/loandesk"
	"lendpool/native/pool"
	"lendpool/native/token"
	"lendpool/native/withdrawals"
)

var errNoCaller = errors.New("caller wallet not resolved")

type statusRule struct {
	status int
	errs   []error
}

var statusRules = []statusRule{
	{http.StatusForbidden, []error{
		access.ErrUnauthorized, pool.ErrUnauthorized, loandesk.ErrUnauthorized, token.ErrUnauthorizedMinter,
	}},
	{http.StatusNotFound, []error{
		pool.ErrNotFound, loandesk.ErrNotFound, withdrawals.ErrNotFound, withdrawals.ErrIndexOutOfRange,
	}},
	{http.StatusServiceUnavailable, []error{nativecommon.ErrModulePaused}},
	{http.StatusBadRequest, []error{
		pool.ErrInvalidAmount, pool.ErrBelowMinimum, pool.ErrInvalidConfig,
		loandesk.ErrInvalidAmount, loandesk.ErrBelowMinimum, loandesk.ErrInvalidParams,
		withdrawals.ErrInvalidAmount, withdrawals.ErrAmountIncrease,
		fixedpoint.ErrInvalidNumber, fixedpoint.ErrOverflow,
	}},
	{http.StatusUnprocessableEntity, []error{
		pool.ErrInsufficientLiquidity, pool.ErrInsufficientStake, pool.ErrInsufficientShares,
		token.ErrInsufficientBalance, token.ErrSupplyOverflow,
	}},
	{http.StatusConflict, []error{
		pool.ErrInvalidState, loandesk.ErrInvalidState,
		loandesk.ErrLockPeriodActive, loandesk.ErrLockPeriodExpired,
		nativecommon.ErrModuleClosed, nativecommon.ErrReentrantCall,
	}},
}

func statusFor(err error) int {
	if errors.Is(err, errNoCaller) {
		return http.StatusUnauthorized
	}
	for _, rule := range statusRules {
		for _, target := range rule.errs {
			if errors.Is(err, target) {
				return rule.status
			}
		}
	}
	return http.StatusInternalServerError
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		payload = []byte(fmt.Sprintf("{\"error\":%q}", http.StatusText(status)))
	}
	_, _ = w.Write(payload)
}
