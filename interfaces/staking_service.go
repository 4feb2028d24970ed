package interfaces

import (
	"context"

	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
)

// Amounts are decimal strings of base units so that u64 values survive
// JSON clients.

type PoolInfo struct {
	Address           string `json:"address"`
	Vault             string `json:"vault"`
	Mint              string `json:"mint"`
	Decimals          uint8  `json:"decimals"`
	TotalStaked       string `json:"total_staked"`
	TotalRewards      string `json:"total_rewards"`
	VaultBalance      string `json:"vault_balance"`
	LockPeriodSeconds int64  `json:"lock_period_seconds"`
}

type UserInfo struct {
	Owner            string `json:"owner"`
	Address          string `json:"address"`
	AmountStaked     string `json:"amount_staked"`
	StakedAt         int64  `json:"staked_at"`
	LastWithdrawAt   int64  `json:"last_withdraw_at"`
	State            string `json:"state"`
	UnlockAt         int64  `json:"unlock_at,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds,omitempty"`
}

type BalanceInfo struct {
	Owner        string `json:"owner"`
	Mint         string `json:"mint"`
	TokenAccount string `json:"token_account"`
	Amount       string `json:"amount"`
	UIAmount     string `json:"ui_amount"`
	Decimals     uint8  `json:"decimals"`
}

type SubmitResult struct {
	TxHash    string    `json:"tx_hash"`
	Seq       uint64    `json:"seq"`
	StateHash string    `json:"state_hash"`
	Pool      *PoolInfo `json:"pool,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
}

// BatchItem is the outcome of one entry of SubmitBatch. Exactly one of
// Result and Err is set.
type BatchItem struct {
	Result *SubmitResult
	Err    error
}

type StakingService interface {
	Submit(ctx context.Context, in transaction.SignedTx) (*SubmitResult, error)
	SubmitBatch(ctx context.Context, in []transaction.SignedTx) []BatchItem
	GetPool(ctx context.Context) (*PoolInfo, error)
	GetUser(ctx context.Context, owner string) (*UserInfo, error)
	GetBalance(ctx context.Context, owner string) (*BalanceInfo, error)
	GetTxStatus(ctx context.Context, txHash string) (*types.TransactionMeta, error)
}
