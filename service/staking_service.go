package service

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/errors"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/ledger"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/staking"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
)

type StakingServiceImpl struct {
	ledger *ledger.Ledger
	batch  *ledger.BatchExecutor
	clock  utils.Clock
	// mint answers balance queries before the pool exists.
	mint solana.PublicKey
}

func NewStakingService(ld *ledger.Ledger, be *ledger.BatchExecutor, clock utils.Clock, defaultMint solana.PublicKey) *StakingServiceImpl {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &StakingServiceImpl{ledger: ld, batch: be, clock: clock, mint: defaultMint}
}

func (s *StakingServiceImpl) Submit(ctx context.Context, in transaction.SignedTx) (*interfaces.SubmitResult, error) {
	tx, err := in.ToTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedTx, err)
	}
	res, err := s.ledger.Execute(ctx, tx)
	if err != nil {
		return nil, err
	}
	return s.toSubmitResult(res, tx.Actor), nil
}

// SubmitBatch parses every entry and hands the valid ones to the batch
// executor. Items come back in input order.
func (s *StakingServiceImpl) SubmitBatch(ctx context.Context, in []transaction.SignedTx) []interfaces.BatchItem {
	out := make([]interfaces.BatchItem, len(in))
	txs := make([]*transaction.Transaction, 0, len(in))
	positions := make([]int, 0, len(in))
	for i, signed := range in {
		tx, err := signed.ToTransaction()
		if err != nil {
			out[i].Err = fmt.Errorf("%w: %v", ledger.ErrMalformedTx, err)
			continue
		}
		txs = append(txs, tx)
		positions = append(positions, i)
	}
	if s.batch == nil {
		for j, tx := range txs {
			res, err := s.ledger.Execute(ctx, tx)
			out[positions[j]] = s.toBatchItem(res, err, tx.Actor)
		}
		return out
	}
	for j, r := range s.batch.ExecuteBatch(ctx, txs) {
		out[positions[j]] = s.toBatchItem(r.Result, r.Err, r.Tx.Actor)
	}
	logx.Info("SERVICE", fmt.Sprintf("Batch of %d executed, %d parsed", len(in), len(txs)))
	return out
}

func (s *StakingServiceImpl) toBatchItem(res *ledger.Result, err error, actor solana.PublicKey) interfaces.BatchItem {
	if err != nil {
		return interfaces.BatchItem{Err: err}
	}
	return interfaces.BatchItem{Result: s.toSubmitResult(res, actor)}
}

func (s *StakingServiceImpl) toSubmitResult(res *ledger.Result, actor solana.PublicKey) *interfaces.SubmitResult {
	out := &interfaces.SubmitResult{
		TxHash:    res.Meta.TxHash,
		Seq:       res.Meta.Seq,
		StateHash: res.Meta.StateHash,
	}
	if res.Pool != nil {
		out.Pool = s.poolInfo(res.Pool)
	}
	if res.User != nil {
		out.User = s.userInfo(actor, res.User)
	}
	return out
}

func (s *StakingServiceImpl) GetPool(ctx context.Context) (*interfaces.PoolInfo, error) {
	pool, err := s.ledger.Program().GetPool(s.ledger.Reader())
	if err != nil {
		return nil, err
	}
	return s.poolInfo(pool), nil
}

func (s *StakingServiceImpl) GetUser(ctx context.Context, owner string) (*interfaces.UserInfo, error) {
	key, err := parseOwner(owner)
	if err != nil {
		return nil, err
	}
	user, err := s.ledger.Program().GetUser(s.ledger.Reader(), key)
	if err != nil {
		return nil, err
	}
	return s.userInfo(key, user), nil
}

func (s *StakingServiceImpl) GetBalance(ctx context.Context, owner string) (*interfaces.BalanceInfo, error) {
	key, err := parseOwner(owner)
	if err != nil {
		return nil, err
	}
	prog := s.ledger.Program()
	reader := s.ledger.Reader()

	mint := s.mint
	if pool, err := prog.GetPool(reader); err == nil {
		mint = pool.Mint
	}
	if mint.IsZero() {
		return nil, staking.ErrNotInitialized
	}
	m, err := prog.Token.GetMint(reader, mint)
	if err != nil {
		return nil, err
	}
	ata, err := prog.Token.AssociatedAddress(key, mint)
	if err != nil {
		return nil, err
	}
	// A missing token account is a zero balance, not an error.
	var amount uint64
	if acc, err := reader.Get(ata.Key); err != nil {
		return nil, err
	} else if acc != nil {
		if amount, err = prog.Token.BalanceOf(reader, ata.Key); err != nil {
			return nil, err
		}
	}
	return &interfaces.BalanceInfo{
		Owner:        key.String(),
		Mint:         mint.String(),
		TokenAccount: ata.Key.String(),
		Amount:       utils.FormatAmount(amount),
		UIAmount:     utils.FormatUIAmount(amount, m.Decimals),
		Decimals:     m.Decimals,
	}, nil
}

func (s *StakingServiceImpl) GetTxStatus(ctx context.Context, txHash string) (*types.TransactionMeta, error) {
	if txHash == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidRequest, errors.ErrMsgInvalidRequest)
	}
	meta, err := s.ledger.GetTxMeta(txHash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, errors.NewError(errors.ErrCodeTransactionNotFound, errors.ErrMsgTransactionNotFound)
	}
	return meta, nil
}

func (s *StakingServiceImpl) poolInfo(pool *types.PoolRecord) *interfaces.PoolInfo {
	prog := s.ledger.Program()
	reader := s.ledger.Reader()
	info := &interfaces.PoolInfo{
		Mint:              pool.Mint.String(),
		TotalStaked:       utils.FormatAmount(pool.TotalStaked),
		TotalRewards:      utils.FormatAmount(pool.TotalRewards),
		LockPeriodSeconds: prog.LockPeriod,
	}
	if addr, err := derive.PoolAddress(prog.ID); err == nil {
		info.Address = addr.Key.String()
		if vault, err := derive.VaultAddress(addr.Key, prog.ID); err == nil {
			info.Vault = vault.Key.String()
		}
	}
	if bal, err := prog.VaultBalance(reader); err == nil {
		info.VaultBalance = utils.FormatAmount(bal)
	}
	if m, err := prog.Token.GetMint(reader, pool.Mint); err == nil {
		info.Decimals = m.Decimals
	}
	return info
}

func (s *StakingServiceImpl) userInfo(owner solana.PublicKey, user *types.UserRecord) *interfaces.UserInfo {
	prog := s.ledger.Program()
	status := prog.UserState(user, s.clock.Now().Unix())
	info := &interfaces.UserInfo{
		Owner:            owner.String(),
		AmountStaked:     utils.FormatAmount(user.AmountStaked),
		StakedAt:         user.StakedAt,
		LastWithdrawAt:   user.LastWithdrawAt,
		State:            status.State.String(),
		UnlockAt:         status.UnlockAt,
		RemainingSeconds: int64(status.Remaining.Seconds()),
	}
	if addr, err := derive.UserAddress(owner, prog.ID); err == nil {
		info.Address = addr.Key.String()
	}
	return info
}

func parseOwner(owner string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return solana.PublicKey{}, errors.NewError(errors.ErrCodeInvalidAddress, errors.ErrMsgInvalidAddress)
	}
	return key, nil
}
