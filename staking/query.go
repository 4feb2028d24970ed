package staking

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
)

type StakeState int

const (
	Unstaked StakeState = iota
	Locked
	Withdrawable
)

func (s StakeState) String() string {
	switch s {
	case Unstaked:
		return "unstaked"
	case Locked:
		return "locked"
	case Withdrawable:
		return "withdrawable"
	default:
		return "unknown"
	}
}

// UserStatus is the lock state of one stake record at a point in time.
type UserStatus struct {
	State     StakeState    `json:"state"`
	Remaining time.Duration `json:"remaining"`
	UnlockAt  int64         `json:"unlock_at,omitempty"`
}

// GetPool reads the pool record. It fails with ErrNotInitialized before
// initialize has committed.
func (p *Program) GetPool(reader interfaces.AccountReader) (*types.PoolRecord, error) {
	_, rec, err := p.loadPool(reader)
	return rec, err
}

// GetUser reads the stake record of actor.
func (p *Program) GetUser(reader interfaces.AccountReader, actor solana.PublicKey) (*types.UserRecord, error) {
	addr, err := derive.UserAddress(actor, p.ID)
	if err != nil {
		return nil, err
	}
	rec, err := p.loadUser(reader, addr.Key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrUserNotFound
	}
	return rec, nil
}

// VaultBalance is the token balance held in escrow: all stake plus the
// reward allotment.
func (p *Program) VaultBalance(reader interfaces.AccountReader) (uint64, error) {
	pool, err := derive.PoolAddress(p.ID)
	if err != nil {
		return 0, err
	}
	vault, err := derive.VaultAddress(pool.Key, p.ID)
	if err != nil {
		return 0, err
	}
	return p.Token.BalanceOf(reader, vault.Key)
}

// UserState evaluates user against now (unix seconds). A nil user is
// Unstaked.
func (p *Program) UserState(user *types.UserRecord, now int64) UserStatus {
	if user == nil || user.AmountStaked == 0 {
		return UserStatus{State: Unstaked}
	}
	unlockAt := user.StakedAt + p.LockPeriod
	if rem := p.remaining(user, now); rem > 0 {
		return UserStatus{State: Locked, Remaining: time.Duration(rem) * time.Second, UnlockAt: unlockAt}
	}
	return UserStatus{State: Withdrawable, UnlockAt: unlockAt}
}

// AuditTotals sums every stake record that walk yields and checks the sum
// against the pool total. Before initialize the sum must be zero. A
// mismatch, an undecodable record or an overflowing sum is ErrInconsistency.
func (p *Program) AuditTotals(reader interfaces.AccountReader, walk func(fn func(*types.Account) bool) error) (uint64, error) {
	var (
		sum     uint64
		records int
		walkErr error
	)
	err := walk(func(acc *types.Account) bool {
		if !acc.Owner.Equals(p.ID) || !bytes.HasPrefix(acc.Data, types.UserDiscriminator[:]) {
			return true
		}
		var rec types.UserRecord
		if err := types.DecodeRecord(acc.Data, &rec, types.UserRecordSize); err != nil {
			walkErr = fmt.Errorf("%w: stake record %s: %v", ErrInconsistency, acc.Address, err)
			return false
		}
		next, ok := utils.CheckedAdd(sum, rec.AmountStaked)
		if !ok {
			walkErr = fmt.Errorf("%w: stake records overflow u64", ErrInconsistency)
			return false
		}
		sum = next
		records++
		return true
	})
	if err != nil {
		return 0, err
	}
	if walkErr != nil {
		return 0, walkErr
	}

	pool, err := p.GetPool(reader)
	switch {
	case errors.Is(err, ErrNotInitialized):
		if sum != 0 {
			return 0, fmt.Errorf("%w: %d staked without a pool", ErrInconsistency, sum)
		}
		return 0, nil
	case err != nil:
		return 0, err
	}
	if pool.TotalStaked != sum {
		return 0, fmt.Errorf("%w: pool total %d, %d stake records sum to %d", ErrInconsistency, pool.TotalStaked, records, sum)
	}
	return sum, nil
}
