// Package server exposes a lending pool over HTTP. Every mutating route runs
// as one protocol call on behalf of the authenticated wallet.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendpool/core/protocol"
	"lendpool/core/types"
	"lendpool/crypto"
	"lendpool/native/loandesk"
	"lendpool/observability/metrics"
	telemetry "lendpool/observability/otel"
	"lendpool/services/poold/middleware"
)

// Route groups double as rate limit keys and metric module labels.
const (
	GroupPool  = "pool"
	GroupDesk  = "loandesk"
	GroupAdmin = "admin"
)

type Options struct {
	Protocol *protocol.Protocol
	// Decimals of the liquidity asset; shares use the same precision.
	Decimals      uint8
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Calls         *telemetry.Calls
	Metrics       *metrics.PoolMetrics
}

type Server struct {
	protocol *protocol.Protocol
	units    units
	logger   *slog.Logger
	auth     *middleware.Authenticator
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	calls    *telemetry.Calls
	metrics  *metrics.PoolMetrics
}

func New(opts Options) (*Server, error) {
	if opts.Protocol == nil {
		return nil, errors.New("server: protocol required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := opts.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	obs := opts.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, logger)
	}
	return &Server{
		protocol: opts.Protocol,
		units:    units{decimals: opts.Decimals},
		logger:   logger,
		auth:     auth,
		limiter:  opts.RateLimiter,
		obs:      obs,
		calls:    opts.Calls,
		metrics:  opts.Metrics,
	}, nil
}

type route struct {
	method    string
	pattern   string
	operation string
	handler   http.HandlerFunc
}

// Handler builds the HTTP surface of the daemon.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	s.mount(r, "/v1/pool", GroupPool, s.poolRoutes())
	s.mount(r, "/v1/desk", GroupDesk, s.deskRoutes())
	s.mount(r, "/v1/admin", GroupAdmin, s.adminRoutes())
	return otelhttp.NewHandler(r, "poold")
}

func (s *Server) mount(r chi.Router, prefix, group string, routes []route) {
	r.Route(prefix, func(sr chi.Router) {
		sr.Use(s.auth.Middleware())
		if s.limiter != nil {
			sr.Use(s.limiter.Middleware(group))
		}
		for _, rt := range routes {
			sr.With(s.obs.Middleware(group, rt.operation)).Method(rt.method, rt.pattern, rt.handler)
		}
	})
}

type callFn func(caller crypto.Address, e *protocol.Engines) (any, error)

// execute runs fn as one protocol call for the request's wallet and writes
// the result with the committed events.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, operation string, fn callFn) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, errNoCaller)
		return
	}
	_, end := s.calls.Start(r.Context(), s.protocol.PoolID(), operation)
	var result any
	emitted, err := s.protocol.Execute(func(e *protocol.Engines) error {
		var callErr error
		result, callErr = fn(caller, e)
		return callErr
	})
	end(err)
	if err != nil {
		s.logger.Warn("call rejected",
			"operation", operation,
			"caller", caller.String(),
			"request_id", middleware.RequestIDFrom(r.Context()),
			"error", err)
		writeError(w, err)
		return
	}
	s.logger.Info("call committed",
		"operation", operation,
		"caller", caller.String(),
		"request_id", middleware.RequestIDFrom(r.Context()),
		"events", len(emitted))
	s.record(emitted)
	if emitted == nil {
		emitted = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, callResponse{Result: result, Events: emitted})
}

type viewFn func(e *protocol.Engines) (any, error)

func (s *Server) view(w http.ResponseWriter, r *http.Request, operation string, fn viewFn) {
	_, end := s.calls.Start(r.Context(), s.protocol.PoolID(), operation)
	var result any
	err := s.protocol.View(func(e *protocol.Engines) error {
		var viewErr error
		result, viewErr = fn(e)
		return viewErr
	})
	end(err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// record refreshes the pool gauges and counts loan flows after a commit.
func (s *Server) record(emitted []*types.Event) {
	if s.metrics == nil {
		return
	}
	poolID := s.protocol.PoolID()
	for _, evt := range emitted {
		switch evt.Type {
		case loandesk.EventTypeLoanBorrowed:
			s.recordFlow(poolID, "borrowed", evt.Attributes["amount"])
		case loandesk.EventTypeLoanRepayment:
			s.recordFlow(poolID, "principal_repaid", evt.Attributes["principal"])
			s.recordFlow(poolID, "interest_paid", evt.Attributes["interest"])
		case loandesk.EventTypeLoanDefaulted:
			s.recordFlow(poolID, "loss", evt.Attributes["loss"])
		}
	}
	err := s.protocol.View(func(e *protocol.Engines) error {
		stats, err := e.Pool.Stats()
		if err != nil {
			return err
		}
		lent, err := e.Desk.LentFunds()
		if err != nil {
			return err
		}
		s.metrics.RecordStats(poolID, stats, lent, s.units.decimals)
		return nil
	})
	if err != nil {
		s.logger.Warn("pool metrics refresh failed", "pool", poolID, "error", err)
	}
}

func (s *Server) recordFlow(poolID, kind, raw string) {
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return
	}
	s.metrics.RecordLoanTransfer(poolID, kind, amount, s.units.decimals)
}
