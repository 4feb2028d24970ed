package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/mezonai/stakepool/errors"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/ledger"
	"github.com/mezonai/stakepool/ratelimit"
	"github.com/mezonai/stakepool/staking"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	submitted []transaction.SignedTx
	submitErr error
}

func (f *fakeService) Submit(ctx context.Context, in transaction.SignedTx) (*interfaces.SubmitResult, error) {
	f.submitted = append(f.submitted, in)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &interfaces.SubmitResult{TxHash: "hash-" + in.Instruction, Seq: uint64(len(f.submitted))}, nil
}

func (f *fakeService) SubmitBatch(ctx context.Context, in []transaction.SignedTx) []interfaces.BatchItem {
	out := make([]interfaces.BatchItem, len(in))
	for i, tx := range in {
		if tx.Instruction == "withdraw" {
			out[i].Err = staking.ErrNothingStaked
			continue
		}
		out[i].Result = &interfaces.SubmitResult{TxHash: "batch", Seq: uint64(i + 1)}
	}
	return out
}

func (f *fakeService) GetPool(ctx context.Context) (*interfaces.PoolInfo, error) {
	return &interfaces.PoolInfo{Mint: "mint", TotalStaked: "10", TotalRewards: "5"}, nil
}

func (f *fakeService) GetUser(ctx context.Context, owner string) (*interfaces.UserInfo, error) {
	if owner == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidAddress, errors.ErrMsgInvalidAddress)
	}
	return nil, staking.ErrUserNotFound
}

func (f *fakeService) GetBalance(ctx context.Context, owner string) (*interfaces.BalanceInfo, error) {
	return &interfaces.BalanceInfo{Owner: owner, Amount: "42"}, nil
}

func (f *fakeService) GetTxStatus(ctx context.Context, txHash string) (*types.TransactionMeta, error) {
	return nil, errors.NewError(errors.ErrCodeTransactionNotFound, errors.ErrMsgTransactionNotFound)
}

func newTestClient(t *testing.T, svc interfaces.StakingService, limiter *ratelimit.RequestLimiter) (*jrpc2.Client, *httptest.Server) {
	t.Helper()
	srv := NewServer("", svc, nil, limiter)
	hs := httptest.NewServer(srv.Handler())
	cli := jrpc2.NewClient(jhttp.NewChannel(hs.URL, nil), nil)
	t.Cleanup(func() {
		_ = cli.Close()
		hs.Close()
		_ = srv.Shutdown(context.Background())
	})
	return cli, hs
}

func call(ctx context.Context, cli *jrpc2.Client, method string, params any) error {
	_, err := cli.Call(ctx, method, params)
	return err
}

func errorData(t *testing.T, err error) errors.NetworkError {
	t.Helper()
	var rpcErr *jrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	var ne errors.NetworkError
	require.NoError(t, json.Unmarshal(rpcErr.Data, &ne))
	return ne
}

func TestSubmitChecksInstruction(t *testing.T) {
	svc := &fakeService{}
	cli, _ := newTestClient(t, svc, nil)
	ctx := context.Background()

	var res interfaces.SubmitResult
	require.NoError(t, cli.CallResult(ctx, MethodStakingDeposit, transaction.SignedTx{Actor: "a", Amount: "5"}, &res))
	assert.Equal(t, "hash-deposit", res.TxHash)
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "deposit", svc.submitted[0].Instruction)

	err := cli.CallResult(ctx, MethodStakingWithdraw, transaction.SignedTx{Instruction: "deposit", Actor: "a"}, &res)
	var rpcErr *jrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParam, rpcErr.Code)
	assert.Len(t, svc.submitted, 1)
}

func TestDomainErrorsCarryClass(t *testing.T) {
	svc := &fakeService{submitErr: &staking.LockNotExpiredError{Remaining: 3 * time.Hour}}
	cli, _ := newTestClient(t, svc, nil)
	ctx := context.Background()

	err := call(ctx, cli, MethodStakingWithdraw, transaction.SignedTx{Actor: "a"})
	ne := errorData(t, err)
	assert.Equal(t, errors.ErrCodeLockNotExpired, ne.Code)
	assert.Equal(t, errors.ClassCaller, ne.Class)
	assert.True(t, ne.Retryable)
	assert.Equal(t, int64(3*3600), ne.RemainingSeconds)

	svc.submitErr = staking.ErrInconsistency
	err = call(ctx, cli, MethodStakingWithdraw, transaction.SignedTx{Actor: "a"})
	var rpcErr *jrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeSystemError, rpcErr.Code)
	assert.Equal(t, errors.ClassSystem, errorData(t, err).Class)

	svc.submitErr = ledger.ErrDuplicateTx
	err = call(ctx, cli, MethodStakingDeposit, transaction.SignedTx{Actor: "a"})
	assert.Equal(t, errors.ErrCodeDuplicateTransaction, errorData(t, err).Code)
}

func TestQueries(t *testing.T) {
	cli, _ := newTestClient(t, &fakeService{}, nil)
	ctx := context.Background()

	var pool interfaces.PoolInfo
	require.NoError(t, cli.CallResult(ctx, MethodStakingGetPool, nil, &pool))
	assert.Equal(t, "10", pool.TotalStaked)

	var bal interfaces.BalanceInfo
	require.NoError(t, cli.CallResult(ctx, MethodTokenGetBalance, ownerParams{Owner: "bob"}, &bal))
	assert.Equal(t, "42", bal.Amount)

	err := call(ctx, cli, MethodStakingGetUser, ownerParams{Owner: "bob"})
	var rpcErr *jrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	err = call(ctx, cli, MethodTxGetStatus, txStatusParams{TxHash: "x"})
	assert.Equal(t, errors.ErrCodeTransactionNotFound, errorData(t, err).Code)

	var health interfaces.HealthStatus
	require.NoError(t, cli.CallResult(ctx, MethodHealthCheck, nil, &health))
	assert.Equal(t, interfaces.HealthNotServing, health.Status)
}

func TestSubmitBatch(t *testing.T) {
	cli, _ := newTestClient(t, &fakeService{}, nil)
	var res batchResponse
	require.NoError(t, cli.CallResult(context.Background(), MethodTxSubmitBatch, batchParams{Txs: []transaction.SignedTx{
		{Instruction: "deposit", Actor: "a"},
		{Instruction: "withdraw", Actor: "b"},
	}}, &res))
	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].Ok)
	assert.False(t, res.Items[1].Ok)
	assert.Equal(t, errors.ErrCodeNothingStaked, res.Items[1].Error.Code)
}

func TestRateLimits(t *testing.T) {
	limiter := ratelimit.NewRequestLimiter(&ratelimit.RateLimiterConfig{MaxRequests: 4, WindowSize: time.Minute}, nil)
	t.Cleanup(limiter.Stop)
	cli, hs := newTestClient(t, &fakeService{}, limiter)
	ctx := context.Background()

	require.NoError(t, call(ctx, cli, MethodStakingDeposit, transaction.SignedTx{Actor: "a"}))
	require.NoError(t, call(ctx, cli, MethodStakingDeposit, transaction.SignedTx{Actor: "a"}))
	err := call(ctx, cli, MethodStakingDeposit, transaction.SignedTx{Actor: "a"})
	ne := errorData(t, err)
	assert.Equal(t, errors.ErrCodeRateLimited, ne.Code)
	assert.Positive(t, ne.RemainingSeconds)

	// Fourth request from this IP uses the last slot, the fifth is refused.
	require.NoError(t, call(ctx, cli, MethodStakingGetPool, nil))
	resp, err := http.Post(hs.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"staking.getpool"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	_, hs := newTestClient(t, &fakeService{}, nil)
	req, err := http.NewRequest(http.MethodOptions, hs.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestExtractClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", extractClientIPFromRequest(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", extractClientIPFromRequest(r))
}
