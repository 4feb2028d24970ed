package jsonrpc

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/mezonai/stakepool/errors"
	"github.com/mezonai/stakepool/exception"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/jsonx"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/ratelimit"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
)

// JSON-RPC error codes. The NetworkError in the error data carries the
// precise reason.
const (
	CodeCallerError  jrpc2.Code = -32000
	CodeNotFound     jrpc2.Code = -32004
	CodeRateLimited  jrpc2.Code = -32005
	CodeSystemError  jrpc2.Code = -32603
	CodeInvalidParam jrpc2.Code = -32602
)

func toJRPC2Error(err error) error {
	if err == nil {
		return nil
	}
	ne := errors.FromError(err)
	code := CodeCallerError
	switch {
	case ne.Code == errors.ErrCodeRateLimited:
		code = CodeRateLimited
	case ne.Code == errors.ErrCodeTransactionNotFound || ne.Code == errors.ErrCodeAccountNotFound:
		code = CodeNotFound
	case ne.Code == errors.ErrCodeInvalidRequest || ne.Code == errors.ErrCodeInvalidAddress:
		code = CodeInvalidParam
	case ne.Class == errors.ClassSystem:
		code = CodeSystemError
	}
	return jrpc2.Errorf(code, "%s", ne.Message).WithData(ne)
}

func rateLimited(rle *ratelimit.RateLimitError) *errors.NetworkError {
	return &errors.NetworkError{
		Code:             errors.ErrCodeRateLimited,
		Message:          errors.ErrMsgRateLimited,
		Class:            errors.ClassCaller,
		Retryable:        true,
		RemainingSeconds: int64(rle.RetryAfter.Round(time.Second).Seconds()),
	}
}

// --- Params/Results ---

type ownerParams struct {
	Owner string `json:"owner"`
}

type txStatusParams struct {
	TxHash string `json:"tx_hash"`
}

type batchParams struct {
	Txs []transaction.SignedTx `json:"txs"`
}

type batchItemResult struct {
	Ok     bool                     `json:"ok"`
	Result *interfaces.SubmitResult `json:"result,omitempty"`
	Error  *errors.NetworkError     `json:"error,omitempty"`
}

type batchResponse struct {
	Items []batchItemResult `json:"items"`
}

// --- Server ---

type Server struct {
	addr       string
	svc        interfaces.StakingService
	health     interfaces.HealthService
	limiter    *ratelimit.RequestLimiter
	corsConfig CORSConfig
	bridgeOnce sync.Once
	bridge     *jhttp.Bridge
	httpServer *http.Server
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func NewServer(addr string, svc interfaces.StakingService, health interfaces.HealthService, limiter *ratelimit.RequestLimiter) *Server {
	return &Server{
		addr:    addr,
		svc:     svc,
		health:  health,
		limiter: limiter,
		corsConfig: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
}

// SetCORSConfig allows configuring CORS settings
func (s *Server) SetCORSConfig(config CORSConfig) {
	s.corsConfig = config
}

// Handler builds the HTTP handler: CORS, then the per-IP limit, then the
// JSON-RPC bridge.
func (s *Server) Handler() http.Handler {
	s.bridgeOnce.Do(func() {
		b := jhttp.NewBridge(s.buildMethodMap(), &jhttp.BridgeOptions{Server: &jrpc2.ServerOptions{}})
		s.bridge = &b
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if s.limiter != nil {
			ip := extractClientIPFromRequest(r)
			if err := s.limiter.CheckIP(ip); err != nil {
				rle := err.(*ratelimit.RateLimitError)
				logx.Warn("SECURITY", "Rate limited ip", ip)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.FormatInt(int64(rle.RetryAfter.Round(time.Second).Seconds()), 10))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = jsonx.NewEncoder(w).Encode(rateLimited(rle))
				return
			}
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
		s.bridge.ServeHTTP(w, r)
	})
}

func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	exception.SafeGoWithPanic("JSONRPCServer", func() {
		logx.Info("JSONRPC", "Listening on", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("JSONRPC", "Server stopped:", err)
		}
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s.bridge != nil {
		return s.bridge.Close()
	}
	return nil
}

// Build jrpc2 method map
func (s *Server) buildMethodMap() handler.Map {
	return handler.Map{
		MethodStakingInitialize: handler.New(func(ctx context.Context, p transaction.SignedTx) (*interfaces.SubmitResult, error) {
			return s.submit(ctx, transaction.InstructionInitialize, p)
		}),
		MethodStakingDeposit: handler.New(func(ctx context.Context, p transaction.SignedTx) (*interfaces.SubmitResult, error) {
			return s.submit(ctx, transaction.InstructionDeposit, p)
		}),
		MethodStakingWithdraw: handler.New(func(ctx context.Context, p transaction.SignedTx) (*interfaces.SubmitResult, error) {
			return s.submit(ctx, transaction.InstructionWithdraw, p)
		}),
		MethodStakingGetPool: handler.New(func(ctx context.Context) (*interfaces.PoolInfo, error) {
			res, err := s.svc.GetPool(ctx)
			return res, toJRPC2Error(err)
		}),
		MethodStakingGetUser: handler.New(func(ctx context.Context, p ownerParams) (*interfaces.UserInfo, error) {
			res, err := s.svc.GetUser(ctx, p.Owner)
			return res, toJRPC2Error(err)
		}),
		MethodTokenGetBalance: handler.New(func(ctx context.Context, p ownerParams) (*interfaces.BalanceInfo, error) {
			res, err := s.svc.GetBalance(ctx, p.Owner)
			return res, toJRPC2Error(err)
		}),
		MethodTxGetStatus: handler.New(func(ctx context.Context, p txStatusParams) (*types.TransactionMeta, error) {
			res, err := s.svc.GetTxStatus(ctx, p.TxHash)
			return res, toJRPC2Error(err)
		}),
		MethodTxSubmitBatch: handler.New(s.rpcSubmitBatch),
		MethodHealthCheck: handler.New(func(ctx context.Context) (*interfaces.HealthStatus, error) {
			if s.health == nil {
				return &interfaces.HealthStatus{Status: interfaces.HealthNotServing, ErrorMessage: "health service not initialized"}, nil
			}
			res, err := s.health.Check(ctx)
			return res, toJRPC2Error(err)
		}),
	}
}

// --- Implementations ---

func (s *Server) submit(ctx context.Context, want transaction.Instruction, p transaction.SignedTx) (*interfaces.SubmitResult, error) {
	if p.Instruction == "" {
		p.Instruction = want.String()
	}
	if p.Instruction != want.String() {
		return nil, toJRPC2Error(errors.NewError(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("method expects a %s transaction, got %s", want, p.Instruction)))
	}
	if err := s.checkActor(p.Actor); err != nil {
		return nil, err
	}
	res, err := s.svc.Submit(ctx, p)
	if err != nil {
		return nil, toJRPC2Error(err)
	}
	return res, nil
}

func (s *Server) rpcSubmitBatch(ctx context.Context, p batchParams) (*batchResponse, error) {
	if len(p.Txs) == 0 || len(p.Txs) > MaxBatchSize {
		return nil, toJRPC2Error(errors.NewError(errors.ErrCodeInvalidRequest, errors.ErrMsgInvalidRequest))
	}
	for _, tx := range p.Txs {
		if err := s.checkActor(tx.Actor); err != nil {
			return nil, err
		}
	}
	items := s.svc.SubmitBatch(ctx, p.Txs)
	out := &batchResponse{Items: make([]batchItemResult, len(items))}
	for i, item := range items {
		if item.Err != nil {
			out.Items[i] = batchItemResult{Error: errors.FromError(item.Err)}
			continue
		}
		out.Items[i] = batchItemResult{Ok: true, Result: item.Result}
	}
	return out, nil
}

func (s *Server) checkActor(actor string) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.CheckActor(actor); err != nil {
		rle := err.(*ratelimit.RateLimitError)
		logx.Warn("SECURITY", "Rate limited actor", actor)
		return jrpc2.Errorf(CodeRateLimited, "%s", errors.ErrMsgRateLimited).WithData(rateLimited(rle))
	}
	return nil
}

// --- Helpers ---

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsConfig.AllowedOrigins) > 0 {
		if s.corsConfig.AllowedOrigins[0] == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			origin := r.Header.Get("Origin")
			for _, allowedOrigin := range s.corsConfig.AllowedOrigins {
				if origin == allowedOrigin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
	}
	if len(s.corsConfig.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.corsConfig.AllowedMethods, ", "))
	}
	if len(s.corsConfig.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.corsConfig.AllowedHeaders, ", "))
	}
	if s.corsConfig.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(s.corsConfig.MaxAge))
	}
}

// --- Env helpers ---

// CORSFromEnv reads CORS_ALLOWED_ORIGINS, CORS_ALLOWED_METHODS,
// CORS_ALLOWED_HEADERS (comma-separated) and CORS_MAX_AGE (seconds). It
// returns false if none is set.
func CORSFromEnv() (CORSConfig, bool) {
	var cfg CORSConfig
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("CORS_ALLOWED_METHODS"); v != "" {
		cfg.AllowedMethods = splitAndTrim(v)
	}
	if v := os.Getenv("CORS_ALLOWED_HEADERS"); v != "" {
		cfg.AllowedHeaders = splitAndTrim(v)
	}
	if v, err := strconv.Atoi(os.Getenv("CORS_MAX_AGE")); err == nil {
		cfg.MaxAge = v
	}
	provided := len(cfg.AllowedOrigins) > 0 || len(cfg.AllowedMethods) > 0 || len(cfg.AllowedHeaders) > 0 || cfg.MaxAge > 0
	return cfg, provided
}
