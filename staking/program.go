// Package staking is the pool state machine: one pool record, one vault
// and a stake record per depositor. Every operation runs against the
// account view of a single transaction, so a failed call leaves no trace.
package staking

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/token"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
)

// MonthSeconds is the default lock period.
const MonthSeconds int64 = 30 * 24 * 60 * 60

// MaxLockPeriod bounds a configured lock period so that unlock times and
// remaining durations stay within int64.
const MaxLockPeriod int64 = 100 * 365 * 24 * 60 * 60

type Program struct {
	ID         solana.PublicKey
	Token      *token.Program
	LockPeriod int64 // seconds
}

func NewProgram(id solana.PublicKey, tokenProgram *token.Program) *Program {
	return &Program{ID: id, Token: tokenProgram, LockPeriod: MonthSeconds}
}

// InvokeContext carries what the runtime hands a program for one
// transaction. Signer is the verified request signer; Now is unix seconds
// from the runtime clock.
type InvokeContext struct {
	View   interfaces.AccountView
	Signer derive.Authority
	Now    int64
}

func (c *InvokeContext) Actor() solana.PublicKey {
	return c.Signer.Key()
}

// Process dispatches tx to its instruction handler.
func (p *Program) Process(ictx *InvokeContext, tx *transaction.Transaction) error {
	if !ictx.Signer.IsSigner() || !ictx.Signer.Key().Equals(tx.Actor) {
		return ErrUnauthorized
	}
	switch tx.Instruction {
	case transaction.InstructionInitialize:
		return p.Initialize(ictx, tx.Mint, tx.Amount)
	case transaction.InstructionDeposit:
		return p.Deposit(ictx, tx.Amount)
	case transaction.InstructionWithdraw:
		_, err := p.Withdraw(ictx)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, tx.Instruction)
	}
}

// Accounts lists every address tx may write: pool, vault, the actor's
// stake record and token account, and for initialize the mint. The pool
// mint is read from committed state, which is safe because it never
// changes once set.
func (p *Program) Accounts(reader interfaces.AccountReader, tx *transaction.Transaction) ([]solana.PublicKey, error) {
	pool, err := derive.PoolAddress(p.ID)
	if err != nil {
		return nil, err
	}
	vault, err := derive.VaultAddress(pool.Key, p.ID)
	if err != nil {
		return nil, err
	}
	out := []solana.PublicKey{pool.Key, vault.Key}

	mint := tx.Mint
	if tx.Instruction != transaction.InstructionInitialize {
		rec, err := p.GetPool(reader)
		switch {
		case errors.Is(err, ErrNotInitialized):
			mint = solana.PublicKey{}
		case err != nil:
			return nil, err
		default:
			mint = rec.Mint
		}
		user, err := derive.UserAddress(tx.Actor, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, user.Key)
	}
	if mint.IsZero() {
		return out, nil
	}
	ata, err := p.Token.AssociatedAddress(tx.Actor, mint)
	if err != nil {
		return nil, err
	}
	out = append(out, ata.Key)
	if tx.Instruction == transaction.InstructionInitialize {
		out = append(out, mint)
	}
	return out, nil
}

// Initialize creates the pool and its vault and funds the vault with
// reward from the signer's token account. It can succeed once.
func (p *Program) Initialize(ictx *InvokeContext, mint solana.PublicKey, reward uint64) error {
	view := ictx.View
	pool, err := derive.PoolAddress(p.ID)
	if err != nil {
		return err
	}
	existing, err := view.Get(pool.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyInitialized
	}
	if reward == 0 {
		return fmt.Errorf("%w: reward amount must be positive", ErrOverflow)
	}
	vault, err := derive.VaultAddress(pool.Key, p.ID)
	if err != nil {
		return err
	}

	if _, err := p.Token.GetMint(view, mint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTokenType, err)
	}
	source, err := p.actorTokenAccount(view, ictx.Actor(), mint)
	if err != nil {
		return err
	}

	rec := &types.PoolRecord{
		Mint:         mint,
		TotalStaked:  0,
		TotalRewards: reward,
		Bump:         pool.Bump,
		VaultBump:    vault.Bump,
	}
	data, err := types.EncodeRecord(rec, types.PoolRecordSize)
	if err != nil {
		return err
	}
	if err := view.Create(types.NewAccount(pool.Key, p.ID, data)); err != nil {
		if errors.Is(err, types.ErrAccountExisted) {
			return ErrAlreadyInitialized
		}
		return err
	}
	if err := p.Token.InitializeAccount(view, vault.Key, mint, pool.Key); err != nil {
		if errors.Is(err, types.ErrAccountExisted) {
			return fmt.Errorf("%w: vault %s already exists", ErrAlreadyInitialized, vault.Key)
		}
		return mapTokenError(err, false)
	}
	if err := p.Token.Transfer(view, source, vault.Key, reward, ictx.Signer); err != nil {
		return mapTokenError(err, false)
	}

	logx.Info("STAKING", fmt.Sprintf("Pool %s initialized: mint=%s reward=%d", pool.Key, mint, reward))
	return nil
}

// Deposit moves amount from the signer into the vault, adds it to the
// signer's stake and restarts the signer's lock window.
func (p *Program) Deposit(ictx *InvokeContext, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: deposit amount must be positive", ErrOverflow)
	}
	view := ictx.View
	actor := ictx.Actor()

	poolAddr, pool, err := p.loadPool(view)
	if err != nil {
		return err
	}
	userAddr, err := derive.UserAddress(actor, p.ID)
	if err != nil {
		return err
	}
	user, err := p.loadUser(view, userAddr.Key)
	if err != nil {
		return err
	}
	isNew := user == nil
	if isNew {
		user = &types.UserRecord{Owner: actor, Bump: userAddr.Bump}
	} else if !user.Owner.Equals(actor) {
		return fmt.Errorf("%w: stake record %s owned by %s", ErrInconsistency, userAddr.Key, user.Owner)
	}

	vault, err := derive.VaultAddress(poolAddr, p.ID)
	if err != nil {
		return err
	}
	source, err := p.actorTokenAccount(view, actor, pool.Mint)
	if err != nil {
		return err
	}
	if err := p.Token.Transfer(view, source, vault.Key, amount, ictx.Signer); err != nil {
		return mapTokenError(err, false)
	}

	staked, ok := utils.CheckedAdd(user.AmountStaked, amount)
	if !ok {
		return fmt.Errorf("%w: user stake %d + %d", ErrOverflow, user.AmountStaked, amount)
	}
	total, ok := utils.CheckedAdd(pool.TotalStaked, amount)
	if !ok {
		return fmt.Errorf("%w: pool total %d + %d", ErrOverflow, pool.TotalStaked, amount)
	}
	user.AmountStaked = staked
	user.StakedAt = ictx.Now
	pool.TotalStaked = total

	if err := p.storeUser(view, userAddr.Key, user, isNew); err != nil {
		return err
	}
	if err := p.storePool(view, poolAddr, pool); err != nil {
		return err
	}

	logx.Debug("STAKING", fmt.Sprintf("Deposit %d by %s, stake now %d, pool total %d", amount, actor, staked, total))
	return nil
}

// Withdraw returns the signer's whole stake once the lock window since the
// last deposit has passed. It returns the amount paid out.
func (p *Program) Withdraw(ictx *InvokeContext) (uint64, error) {
	view := ictx.View
	actor := ictx.Actor()

	poolAddr, pool, err := p.loadPool(view)
	if err != nil {
		return 0, err
	}
	userAddr, err := derive.UserAddress(actor, p.ID)
	if err != nil {
		return 0, err
	}
	user, err := p.loadUser(view, userAddr.Key)
	if err != nil {
		return 0, err
	}
	if user == nil || user.AmountStaked == 0 {
		return 0, ErrNothingStaked
	}
	if remaining := p.remaining(user, ictx.Now); remaining > 0 {
		return 0, &LockNotExpiredError{
			Remaining: time.Duration(remaining) * time.Second,
			UnlockAt:  user.StakedAt + p.LockPeriod,
		}
	}

	amount := user.AmountStaked
	vault, err := derive.VaultAddress(poolAddr, p.ID)
	if err != nil {
		return 0, err
	}
	dest, err := p.ensureTokenAccount(view, actor, pool.Mint)
	if err != nil {
		return 0, err
	}
	authority := derive.ProgramAuthority(derive.Address{Key: poolAddr, Bump: pool.Bump}, derive.PoolSeeds(), p.ID)
	if err := p.Token.Transfer(view, vault.Key, dest, amount, authority); err != nil {
		return 0, mapTokenError(err, true)
	}

	total, ok := utils.CheckedSub(pool.TotalStaked, amount)
	if !ok {
		return 0, fmt.Errorf("%w: pool total %d below user stake %d", ErrInconsistency, pool.TotalStaked, amount)
	}
	pool.TotalStaked = total
	user.AmountStaked = 0
	user.LastWithdrawAt = ictx.Now

	if err := p.storeUser(view, userAddr.Key, user, false); err != nil {
		return 0, err
	}
	if err := p.storePool(view, poolAddr, pool); err != nil {
		return 0, err
	}

	logx.Info("STAKING", fmt.Sprintf("Withdraw %d by %s, pool total %d", amount, actor, total))
	return amount, nil
}

// remaining is the number of seconds until user may withdraw.
func (p *Program) remaining(user *types.UserRecord, now int64) int64 {
	elapsed := now - user.StakedAt
	if elapsed >= p.LockPeriod {
		return 0
	}
	return p.LockPeriod - elapsed
}

func (p *Program) actorTokenAccount(view interfaces.AccountReader, actor, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, err := p.Token.AssociatedAddress(actor, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	acc, err := p.Token.GetAccount(view, ata.Key)
	if err != nil {
		return solana.PublicKey{}, mapTokenError(err, false)
	}
	if !acc.Mint.Equals(mint) {
		return solana.PublicKey{}, fmt.Errorf("%w: account %s holds %s", ErrInvalidTokenType, ata.Key, acc.Mint)
	}
	return ata.Key, nil
}

// ensureTokenAccount returns the actor's token account for mint, opening
// an empty one if it is missing.
func (p *Program) ensureTokenAccount(view interfaces.AccountView, actor, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, err := p.Token.AssociatedAddress(actor, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	_, err = p.Token.GetAccount(view, ata.Key)
	if errors.Is(err, token.ErrAccountNotFound) {
		if err := p.Token.InitializeAccount(view, ata.Key, mint, actor); err != nil {
			return solana.PublicKey{}, mapTokenError(err, false)
		}
		return ata.Key, nil
	}
	if err != nil {
		return solana.PublicKey{}, mapTokenError(err, false)
	}
	return ata.Key, nil
}

func (p *Program) loadPool(reader interfaces.AccountReader) (solana.PublicKey, *types.PoolRecord, error) {
	addr, err := derive.PoolAddress(p.ID)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	raw, err := reader.Get(addr.Key)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	if raw == nil {
		return solana.PublicKey{}, nil, ErrNotInitialized
	}
	if !raw.Owner.Equals(p.ID) {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: pool %s owned by %s", ErrInconsistency, addr.Key, raw.Owner)
	}
	var rec types.PoolRecord
	if err := types.DecodeRecord(raw.Data, &rec, types.PoolRecordSize); err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: %v", ErrInconsistency, err)
	}
	return addr.Key, &rec, nil
}

func (p *Program) loadUser(reader interfaces.AccountReader, addr solana.PublicKey) (*types.UserRecord, error) {
	raw, err := reader.Get(addr)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	if !raw.Owner.Equals(p.ID) {
		return nil, fmt.Errorf("%w: stake record %s owned by %s", ErrInconsistency, addr, raw.Owner)
	}
	var rec types.UserRecord
	if err := types.DecodeRecord(raw.Data, &rec, types.UserRecordSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistency, err)
	}
	return &rec, nil
}

func (p *Program) storePool(view interfaces.AccountView, addr solana.PublicKey, rec *types.PoolRecord) error {
	data, err := types.EncodeRecord(rec, types.PoolRecordSize)
	if err != nil {
		return err
	}
	return view.Put(types.NewAccount(addr, p.ID, data))
}

func (p *Program) storeUser(view interfaces.AccountView, addr solana.PublicKey, rec *types.UserRecord, create bool) error {
	data, err := types.EncodeRecord(rec, types.UserRecordSize)
	if err != nil {
		return err
	}
	acc := types.NewAccount(addr, p.ID, data)
	if create {
		return view.Create(acc)
	}
	return view.Put(acc)
}
