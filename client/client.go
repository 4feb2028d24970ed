package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/errors"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/jsonrpc"
	"github.com/mezonai/stakepool/jsonx"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
)

type Config struct {
	Endpoint string
	// Clock stamps outgoing transactions. Defaults to the system clock.
	Clock utils.Clock
}

// StakingClient talks to a node over JSON-RPC and signs transactions
// locally; private keys never leave the process.
type StakingClient struct {
	cfg   Config
	rpc   *jrpc2.Client
	clock utils.Clock
	nonce atomic.Uint64
}

func NewClient(cfg Config) (*StakingClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = utils.SystemClock{}
	}
	c := &StakingClient{
		cfg:   cfg,
		rpc:   jrpc2.NewClient(jhttp.NewChannel(cfg.Endpoint, nil), nil),
		clock: clock,
	}
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c, nil
}

// BuildTx returns a signed transaction stamped with the current time and a
// fresh nonce.
func (c *StakingClient) BuildTx(key solana.PrivateKey, ins transaction.Instruction, mint solana.PublicKey, amount uint64) (*transaction.Transaction, error) {
	tx := &transaction.Transaction{
		Instruction: ins,
		Actor:       key.PublicKey(),
		Mint:        mint,
		Amount:      amount,
		Timestamp:   uint64(c.clock.Now().UnixMilli()),
		Nonce:       c.nonce.Add(1),
	}
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *StakingClient) Initialize(ctx context.Context, key solana.PrivateKey, mint solana.PublicKey, reward uint64) (*interfaces.SubmitResult, error) {
	return c.submit(ctx, jsonrpc.MethodStakingInitialize, key, transaction.InstructionInitialize, mint, reward)
}

func (c *StakingClient) Deposit(ctx context.Context, key solana.PrivateKey, amount uint64) (*interfaces.SubmitResult, error) {
	return c.submit(ctx, jsonrpc.MethodStakingDeposit, key, transaction.InstructionDeposit, solana.PublicKey{}, amount)
}

func (c *StakingClient) Withdraw(ctx context.Context, key solana.PrivateKey) (*interfaces.SubmitResult, error) {
	return c.submit(ctx, jsonrpc.MethodStakingWithdraw, key, transaction.InstructionWithdraw, solana.PublicKey{}, 0)
}

func (c *StakingClient) submit(ctx context.Context, method string, key solana.PrivateKey, ins transaction.Instruction, mint solana.PublicKey, amount uint64) (*interfaces.SubmitResult, error) {
	tx, err := c.BuildTx(key, ins, mint, amount)
	if err != nil {
		return nil, err
	}
	var res interfaces.SubmitResult
	if err := c.call(ctx, method, tx.ToSigned(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitSigned sends an already signed transaction on the method matching
// its instruction.
func (c *StakingClient) SubmitSigned(ctx context.Context, tx *transaction.Transaction) (*interfaces.SubmitResult, error) {
	methods := map[transaction.Instruction]string{
		transaction.InstructionInitialize: jsonrpc.MethodStakingInitialize,
		transaction.InstructionDeposit:    jsonrpc.MethodStakingDeposit,
		transaction.InstructionWithdraw:   jsonrpc.MethodStakingWithdraw,
	}
	method, ok := methods[tx.Instruction]
	if !ok {
		return nil, transaction.ErrUnknownInstruction
	}
	var res interfaces.SubmitResult
	if err := c.call(ctx, method, tx.ToSigned(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *StakingClient) GetPool(ctx context.Context) (*interfaces.PoolInfo, error) {
	var res interfaces.PoolInfo
	if err := c.call(ctx, jsonrpc.MethodStakingGetPool, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *StakingClient) GetUser(ctx context.Context, owner solana.PublicKey) (*interfaces.UserInfo, error) {
	var res interfaces.UserInfo
	if err := c.call(ctx, jsonrpc.MethodStakingGetUser, map[string]string{"owner": owner.String()}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *StakingClient) GetBalance(ctx context.Context, owner solana.PublicKey) (*interfaces.BalanceInfo, error) {
	var res interfaces.BalanceInfo
	if err := c.call(ctx, jsonrpc.MethodTokenGetBalance, map[string]string{"owner": owner.String()}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *StakingClient) GetTxStatus(ctx context.Context, txHash string) (*types.TransactionMeta, error) {
	var res types.TransactionMeta
	if err := c.call(ctx, jsonrpc.MethodTxGetStatus, map[string]string{"tx_hash": txHash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *StakingClient) CheckHealth(ctx context.Context) (*interfaces.HealthStatus, error) {
	var res interfaces.HealthStatus
	if err := c.call(ctx, jsonrpc.MethodHealthCheck, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// call unwraps server errors into *errors.NetworkError when the error data
// carries one.
func (c *StakingClient) call(ctx context.Context, method string, params, out interface{}) error {
	err := c.rpc.CallResult(ctx, method, params, out)
	if err == nil {
		return nil
	}
	var rpcErr *jrpc2.Error
	if stderrors.As(err, &rpcErr) && len(rpcErr.Data) > 0 {
		var ne errors.NetworkError
		if jsonx.Unmarshal(rpcErr.Data, &ne) == nil && ne.Code != "" {
			return &ne
		}
	}
	return err
}

// Close closes the underlying JSON-RPC client
func (c *StakingClient) Close() error {
	return c.rpc.Close()
}
