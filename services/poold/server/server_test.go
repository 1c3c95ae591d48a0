package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendpool/config"
	"lendpool/core/protocol"
	"lendpool/crypto"
	"lendpool/native/loandesk"
	"lendpool/native/pool"
	"lendpool/observability/metrics"
	"lendpool/services/poold/middleware"
	"lendpool/storage"
)

func addr(b byte) crypto.Address {
	return crypto.BytesToAddress([]byte{0x50, b})
}

var (
	governance = addr(1)
	treasury   = addr(2)
	staker     = addr(3)
	lender     = addr(10)
	borrower   = addr(11)
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type harness struct {
	t       *testing.T
	clock   *clock
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Roles.Governance = governance.String()
	cfg.Roles.Treasury = treasury.String()
	cfg.Roles.Stakers = []string{staker.String()}
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p, err := protocol.New(storage.NewMemDB(), cfg, protocol.WithClock(c.Now))
	require.NoError(t, err)
	srv, err := New(Options{
		Protocol: p,
		Decimals: cfg.Asset.Decimals,
		Metrics:  metrics.Pool(),
	})
	require.NoError(t, err)
	return &harness{t: t, clock: c, handler: srv.Handler()}
}

func (h *harness) do(method, path string, caller *crypto.Address, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if caller != nil {
		req.Header.Set(middleware.DevCallerHeader, caller.String())
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) ok(method, path string, caller crypto.Address, body any) callResponse {
	h.t.Helper()
	rr := h.do(method, path, &caller, body)
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	var resp callResponse
	require.NoError(h.t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func (h *harness) get(path string, dst any) {
	h.t.Helper()
	rr := h.do(http.MethodGet, path, nil, nil)
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(h.t, json.Unmarshal(rr.Body.Bytes(), dst))
}

// fund mints, opens the pool and desk, stakes 200 and fills the limit with a
// 1800 deposit.
func (h *harness) fund() {
	h.ok(http.MethodPost, "/v1/admin/asset/mint", governance, mintRequest{To: staker.String(), Amount: "200"})
	h.ok(http.MethodPost, "/v1/admin/asset/mint", governance, mintRequest{To: lender.String(), Amount: "2000"})
	h.ok(http.MethodPost, "/v1/pool/open", staker, nil)
	h.ok(http.MethodPost, "/v1/desk/open", staker, nil)
	h.ok(http.MethodPost, "/v1/pool/stake", staker, amountRequest{Amount: "200"})
	h.ok(http.MethodPost, "/v1/pool/deposit", lender, amountRequest{Amount: "1800"})
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())

	var stats statsView
	h.get("/v1/pool/stats", &stats)

	rr = h.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "lendpool_api_calls_total")
}

func TestDepositFlow(t *testing.T) {
	h := newHarness(t)
	h.fund()

	var stats statsView
	h.get("/v1/pool/stats", &stats)
	require.Equal(t, "main", stats.PoolID)
	require.Equal(t, "2000", stats.Balances.PoolFunds)
	require.Equal(t, "2000", stats.Balances.PoolFundsLimit)
	require.True(t, stats.Open)
	require.True(t, stats.DeskOpen)
	require.True(t, stats.StakeRatioMet)

	var wallet walletView
	h.get("/v1/pool/wallets/"+lender.String(), &wallet)
	require.Equal(t, "1800", wallet.Shares)
	require.Equal(t, "1800", wallet.Value)
	require.Equal(t, "200", wallet.Asset)
	require.Empty(t, wallet.Requests)
	require.Nil(t, wallet.Borrower)

	var cfg configView
	h.get("/v1/pool/config", &cfg)
	require.Equal(t, "10.0%", cfg.TargetStakePercent)
	require.Equal(t, "1", cfg.MinWithdrawalRequest)
	require.Equal(t, uint64(90), cfg.StakerInactivityDays)
}

func TestWithdrawalRequestRoutes(t *testing.T) {
	h := newHarness(t)
	h.fund()

	resp := h.ok(http.MethodPost, "/v1/pool/withdrawals", lender, sharesRequest{Shares: "100.5"})
	require.Len(t, resp.Events, 1)
	require.Equal(t, pool.EventTypeWithdrawalRequested, resp.Events[0].Type)

	var req requestView
	h.get("/v1/pool/withdrawals/1", &req)
	require.Equal(t, "100.5", req.Shares)
	require.Equal(t, lender.String(), req.Wallet)

	h.ok(http.MethodPut, "/v1/pool/withdrawals/1", lender, sharesRequest{Shares: "50"})
	rr := h.do(http.MethodPut, "/v1/pool/withdrawals/1", &lender, sharesRequest{Shares: "60"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	resp = h.ok(http.MethodPost, "/v1/pool/withdrawals/fulfill", staker, fulfillRequest{Count: 1})
	require.True(t, hasEvent(resp, pool.EventTypeWithdrawalFulfilled))

	rr = h.do(http.MethodGet, "/v1/pool/withdrawals/1", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	var wallet walletView
	h.get("/v1/pool/wallets/"+lender.String(), &wallet)
	require.Equal(t, "1750", wallet.Shares)
	require.Equal(t, "250", wallet.Asset)
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/v1/pool/deposit", nil, amountRequest{Amount: "1"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.do(http.MethodPost, "/v1/pool/deposit", &lender, amountRequest{Amount: "1"})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "module closed")

	rr = h.do(http.MethodPost, "/v1/admin/asset/mint", &lender, mintRequest{To: lender.String(), Amount: "1"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(http.MethodPost, "/v1/pool/deposit", &lender, amountRequest{Amount: "-1"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(http.MethodPost, "/v1/pool/deposit", &lender, map[string]string{"amount": "1", "extra": "x"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	h.fund()
	rr = h.do(http.MethodPost, "/v1/pool/deposit", &lender, amountRequest{Amount: "1"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = h.do(http.MethodGet, "/v1/desk/loans/9", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	h.ok(http.MethodPost, "/v1/admin/pause", governance, pauseRequest{Module: "pool", Paused: true})
	rr = h.do(http.MethodPost, "/v1/pool/withdraw", &lender, amountRequest{Amount: "1"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestLoanRoutes(t *testing.T) {
	h := newHarness(t)
	h.fund()

	resp := h.ok(http.MethodPost, "/v1/desk/applications", borrower, applyRequest{
		Amount: "1000", DurationDays: 30, ProfileID: "kyc-1", Profile: "{}",
	})
	require.Equal(t, loandesk.EventTypeLoanRequested, resp.Events[0].Type)

	terms := termsRequest{Amount: "1000", DurationDays: 30, GracePeriodDays: 5, Installments: 1, APR: "10"}
	h.ok(http.MethodPost, "/v1/desk/applications/1/offer", staker, terms)
	terms.APR = "12.5%"
	h.ok(http.MethodPut, "/v1/desk/applications/1/offer", staker, terms)

	var offer offerView
	h.get("/v1/desk/applications/1/offer", &offer)
	require.Equal(t, "12.5%", offer.APR)
	require.Equal(t, uint64(5), offer.GracePeriodDays)

	h.ok(http.MethodPost, "/v1/desk/applications/1/offer/lock", staker, nil)
	rr := h.do(http.MethodPost, "/v1/desk/applications/1/offer/make", &staker, nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	h.clock.now = h.clock.now.Add(7*24*time.Hour + time.Second)
	h.ok(http.MethodPost, "/v1/desk/applications/1/offer/make", staker, nil)

	rr = h.do(http.MethodPost, "/v1/desk/applications/1/borrow", &lender, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	h.ok(http.MethodPost, "/v1/desk/applications/1/borrow", borrower, nil)

	var app applicationView
	h.get("/v1/desk/applications/1", &app)
	require.Equal(t, "offer_accepted", app.Status)

	var loan loanView
	h.get("/v1/desk/loans/1", &loan)
	require.Equal(t, "outstanding", loan.Status)
	require.Equal(t, "1000", loan.BalanceDue)
	require.False(t, loan.CanDefault)

	var stats statsView
	h.get("/v1/pool/stats", &stats)
	require.Equal(t, "1000", stats.LentFunds)
	require.Equal(t, "1000", stats.Balances.StrategizedFunds)

	// A third party repays part of the principal.
	h.ok(http.MethodPost, "/v1/admin/asset/mint", governance, mintRequest{To: lender.String(), Amount: "100"})
	resp = h.ok(http.MethodPost, "/v1/desk/loans/1/repay", lender, repayRequest{Amount: "100", Borrower: borrower.String()})
	require.True(t, hasEvent(resp, loandesk.EventTypeLoanRepayment))

	var borrowerStats borrowerView
	h.get("/v1/desk/borrowers/"+borrower.String(), &borrowerStats)
	require.Equal(t, uint64(1), borrowerStats.CountBorrowed)
	require.Equal(t, "1000", borrowerStats.AmountBorrowed)
	require.Equal(t, "100", borrowerStats.AmountBaseRepaid)
}

func TestTemplateAndRoleRoutes(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/v1/desk/template", &staker, templateRequest{
		MinAmount: "50", MinDurationDays: 2, MaxDurationDays: 90, GracePeriodDays: 10, APR: "20",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var params map[string]any
	h.get("/v1/desk/params", &params)
	template := params["template"].(map[string]any)
	require.Equal(t, "50", template["min_amount"])
	require.Equal(t, "20.0%", template["apr"])

	newStaker := addr(20)
	role := "main/staker"
	rr = h.do(http.MethodPost, "/v1/admin/roles", &staker, roleRequest{Role: role, Address: newStaker.String(), Granted: true})
	require.Equal(t, http.StatusForbidden, rr.Code)
	h.ok(http.MethodPost, "/v1/admin/roles", governance, roleRequest{Role: role, Address: newStaker.String(), Granted: true})
	h.ok(http.MethodPost, "/v1/pool/open", newStaker, nil)

	rr = h.do(http.MethodPost, "/v1/pool/config/target-stake", &governance, percentRequest{Percent: "ten"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	h.ok(http.MethodPost, "/v1/pool/config/target-stake", governance, percentRequest{Percent: "20"})
	var cfg configView
	h.get("/v1/pool/config", &cfg)
	require.Equal(t, "20.0%", cfg.TargetStakePercent)
}

func hasEvent(resp callResponse, eventType string) bool {
	for _, evt := range resp.Events {
		if evt.Type == eventType {
			return true
		}
	}
	return false
}
