package staking

import (
	"math"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/token"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	startTime  int64 = 1_700_000_000
	oneToken         = 1_000_000_000
	mintDigits       = 9
)

type mapView map[solana.PublicKey]*types.Account

func (m mapView) Get(addr solana.PublicKey) (*types.Account, error) {
	return m[addr].Clone(), nil
}

func (m mapView) Create(acc *types.Account) error {
	if _, ok := m[acc.Address]; ok {
		return types.ErrAccountExisted
	}
	m[acc.Address] = acc.Clone()
	return nil
}

func (m mapView) Put(acc *types.Account) error {
	m[acc.Address] = acc.Clone()
	return nil
}

func (m mapView) clone() mapView {
	out := make(mapView, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return pk.PublicKey()
}

type fixture struct {
	t        *testing.T
	prog     *Program
	state    mapView
	now      int64
	mint     solana.PublicKey
	mintAuth solana.PublicKey
	admin    solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		prog:     NewProgram(newKey(t), token.NewProgram(newKey(t))),
		state:    mapView{},
		now:      startTime,
		mint:     newKey(t),
		mintAuth: newKey(t),
		admin:    newKey(t),
	}
	require.NoError(t, f.prog.Token.InitializeMint(f.state, f.mint, f.mintAuth, mintDigits))
	f.fund(f.admin, 10*oneToken)
	return f
}

// fund opens actor's token account if needed and mints amount into it.
func (f *fixture) fund(actor solana.PublicKey, amount uint64) {
	f.t.Helper()
	ata, err := f.prog.Token.AssociatedAddress(actor, f.mint)
	require.NoError(f.t, err)
	if f.state[ata.Key] == nil {
		require.NoError(f.t, f.prog.Token.InitializeAccount(f.state, ata.Key, f.mint, actor))
	}
	if amount > 0 {
		require.NoError(f.t, f.prog.Token.MintTo(f.state, f.mint, ata.Key, amount, derive.SignerAuthority(f.mintAuth)))
	}
}

// exec runs fn on a copy of the state and keeps the copy only on success,
// the way the ledger session commits.
func (f *fixture) exec(actor solana.PublicKey, fn func(*InvokeContext) error) error {
	staged := f.state.clone()
	err := fn(&InvokeContext{View: staged, Signer: derive.SignerAuthority(actor), Now: f.now})
	if err == nil {
		f.state = staged
	}
	return err
}

func (f *fixture) initialize(reward uint64) error {
	return f.exec(f.admin, func(c *InvokeContext) error { return f.prog.Initialize(c, f.mint, reward) })
}

func (f *fixture) deposit(actor solana.PublicKey, amount uint64) error {
	return f.exec(actor, func(c *InvokeContext) error { return f.prog.Deposit(c, amount) })
}

func (f *fixture) withdraw(actor solana.PublicKey) (uint64, error) {
	var out uint64
	err := f.exec(actor, func(c *InvokeContext) error {
		var err error
		out, err = f.prog.Withdraw(c)
		return err
	})
	return out, err
}

func (f *fixture) pool() *types.PoolRecord {
	f.t.Helper()
	rec, err := f.prog.GetPool(f.state)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) user(actor solana.PublicKey) *types.UserRecord {
	f.t.Helper()
	rec, err := f.prog.GetUser(f.state, actor)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) balance(actor solana.PublicKey) uint64 {
	f.t.Helper()
	ata, err := f.prog.Token.AssociatedAddress(actor, f.mint)
	require.NoError(f.t, err)
	bal, err := f.prog.Token.BalanceOf(f.state, ata.Key)
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) vault() uint64 {
	f.t.Helper()
	bal, err := f.prog.VaultBalance(f.state)
	require.NoError(f.t, err)
	return bal
}

// overwrite replaces a stored record, bypassing the program.
func (f *fixture) overwrite(addr solana.PublicKey, owner solana.PublicKey, rec types.Record, size int) {
	f.t.Helper()
	data, err := types.EncodeRecord(rec, size)
	require.NoError(f.t, err)
	f.state[addr] = types.NewAccount(addr, owner, data)
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))

	pool := f.pool()
	assert.Equal(t, f.mint, pool.Mint)
	assert.Zero(t, pool.TotalStaked)
	assert.Equal(t, uint64(oneToken), pool.TotalRewards)
	assert.Equal(t, uint64(oneToken), f.vault())
	assert.Equal(t, float64(1), token.UIAmount(f.vault(), mintDigits))
	assert.Equal(t, uint64(9*oneToken), f.balance(f.admin))

	poolAddr, err := derive.PoolAddress(f.prog.ID)
	require.NoError(t, err)
	assert.Equal(t, poolAddr.Bump, pool.Bump)
	vault, err := derive.VaultAddress(poolAddr.Key, f.prog.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.Bump, pool.VaultBump)

	acc, err := f.prog.Token.GetAccount(f.state, vault.Key)
	require.NoError(t, err)
	assert.Equal(t, poolAddr.Key, acc.Owner)
}

func TestInitializeTwice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	before := f.state.clone()

	err := f.initialize(2 * oneToken)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, before, f.state)

	// The existing pool wins over the zero-amount check.
	err = f.initialize(0)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.NotErrorIs(t, err, ErrOverflow)
	assert.Equal(t, before, f.state)
	assert.Equal(t, uint64(oneToken), f.pool().TotalRewards)
}

func TestInitializeErrors(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture) (solana.PublicKey, solana.PublicKey, uint64)
		want  error
	}{
		{"zero reward", func(f *fixture) (solana.PublicKey, solana.PublicKey, uint64) {
			return f.admin, f.mint, 0
		}, ErrOverflow},
		{"short balance", func(f *fixture) (solana.PublicKey, solana.PublicKey, uint64) {
			return f.admin, f.mint, 10*oneToken + 1
		}, ErrInsufficientFunds},
		{"no token account", func(f *fixture) (solana.PublicKey, solana.PublicKey, uint64) {
			return newKey(t), f.mint, 1
		}, ErrInsufficientFunds},
		{"unknown mint", func(f *fixture) (solana.PublicKey, solana.PublicKey, uint64) {
			return f.admin, newKey(t), 1
		}, ErrInvalidTokenType},
		{"mint is not a mint", func(f *fixture) (solana.PublicKey, solana.PublicKey, uint64) {
			ata, err := f.prog.Token.AssociatedAddress(f.admin, f.mint)
			require.NoError(t, err)
			return f.admin, ata.Key, 1
		}, ErrInvalidTokenType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			actor, mint, reward := tc.setup(f)
			before := f.state.clone()

			err := f.exec(actor, func(c *InvokeContext) error { return f.prog.Initialize(c, mint, reward) })
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, CallerError, Classify(err))
			assert.Equal(t, before, f.state)

			_, err = f.prog.GetPool(f.state)
			assert.ErrorIs(t, err, ErrNotInitialized)
		})
	}
}

func TestDepositScenarios(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	u := newKey(t)
	f.fund(u, 5*oneToken)

	require.NoError(t, f.deposit(u, oneToken))
	assert.Equal(t, uint64(oneToken), f.pool().TotalStaked)
	assert.Equal(t, uint64(oneToken), f.user(u).AmountStaked)
	assert.Equal(t, u, f.user(u).Owner)

	f.now += 45
	require.NoError(t, f.deposit(u, oneToken))
	assert.Equal(t, uint64(2*oneToken), f.pool().TotalStaked)
	assert.Equal(t, uint64(2*oneToken), f.user(u).AmountStaked)
	assert.InDelta(t, f.now, f.user(u).StakedAt, 60)
	assert.Equal(t, uint64(3*oneToken), f.vault())
	assert.Equal(t, uint64(3*oneToken), f.balance(u))

	before := f.state.clone()
	_, err := f.withdraw(u)
	var lockErr *LockNotExpiredError
	require.ErrorAs(t, err, &lockErr)
	assert.ErrorIs(t, err, ErrLockNotExpired)
	assert.Equal(t, time.Duration(MonthSeconds)*time.Second, lockErr.Remaining)
	assert.Equal(t, f.now+MonthSeconds, lockErr.UnlockAt)
	assert.True(t, Classify(err).Retryable())
	assert.Equal(t, before, f.state)
}

func TestDepositErrors(t *testing.T) {
	f := newFixture(t)
	u := newKey(t)
	f.fund(u, oneToken)

	assert.ErrorIs(t, f.deposit(u, 1), ErrNotInitialized)

	require.NoError(t, f.initialize(oneToken))
	before := f.state.clone()

	assert.ErrorIs(t, f.deposit(u, 0), ErrOverflow)
	assert.ErrorIs(t, f.deposit(u, oneToken+1), ErrInsufficientFunds)
	assert.ErrorIs(t, f.deposit(newKey(t), 1), ErrInsufficientFunds)
	assert.Equal(t, before, f.state)

	_, err := f.prog.GetUser(f.state, u)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	u := newKey(t)
	f.fund(u, 3*oneToken)

	require.NoError(t, f.deposit(u, 2*oneToken))
	stakedAt := f.user(u).StakedAt

	f.now += MonthSeconds
	paid, err := f.withdraw(u)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*oneToken), paid)
	assert.Equal(t, uint64(3*oneToken), f.balance(u))
	assert.Zero(t, f.pool().TotalStaked)
	assert.Equal(t, uint64(oneToken), f.vault())

	rec := f.user(u)
	assert.Zero(t, rec.AmountStaked)
	assert.Equal(t, stakedAt, rec.StakedAt)
	assert.Equal(t, f.now, rec.LastWithdrawAt)

	_, err = f.withdraw(u)
	assert.ErrorIs(t, err, ErrNothingStaked)

	// The record is reused and the lock restarts from the new deposit.
	f.now += 10
	require.NoError(t, f.deposit(u, 1))
	assert.Equal(t, f.now, f.user(u).StakedAt)
	_, err = f.withdraw(u)
	assert.ErrorIs(t, err, ErrLockNotExpired)
}

func TestLockBoundary(t *testing.T) {
	for _, tc := range []struct {
		name   string
		offset int64
		ok     bool
	}{
		{"one second early", MonthSeconds - 1, false},
		{"exactly at expiry", MonthSeconds, true},
		{"one second late", MonthSeconds + 1, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.initialize(oneToken))
			u := newKey(t)
			f.fund(u, oneToken)
			require.NoError(t, f.deposit(u, oneToken))

			f.now = startTime + tc.offset
			_, err := f.withdraw(u)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			var lockErr *LockNotExpiredError
			require.ErrorAs(t, err, &lockErr)
			assert.Equal(t, time.Second, lockErr.Remaining)
		})
	}
}

func TestDepositResetsLock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	u := newKey(t)
	f.fund(u, 2*oneToken)

	require.NoError(t, f.deposit(u, oneToken))
	f.now = startTime + MonthSeconds - 100
	require.NoError(t, f.deposit(u, oneToken))

	// Past the first deposit's window but inside the second's.
	f.now = startTime + MonthSeconds + 1
	_, err := f.withdraw(u)
	var lockErr *LockNotExpiredError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, time.Duration(MonthSeconds-101)*time.Second, lockErr.Remaining)

	f.now = startTime + 2*MonthSeconds - 100
	paid, err := f.withdraw(u)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*oneToken), paid)
}

func TestIndependentUsers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	a, b := newKey(t), newKey(t)
	f.fund(a, oneToken)
	f.fund(b, oneToken)

	require.NoError(t, f.deposit(a, 300))
	f.now += 1000
	require.NoError(t, f.deposit(b, 700))
	assert.Equal(t, uint64(1000), f.pool().TotalStaked)

	f.now = startTime + MonthSeconds
	_, err := f.withdraw(a)
	require.NoError(t, err)
	_, err = f.withdraw(b)
	assert.ErrorIs(t, err, ErrLockNotExpired)
	assert.Equal(t, uint64(700), f.pool().TotalStaked)
	assert.Equal(t, uint64(700), f.user(b).AmountStaked)
}

func TestDepositOverflow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	u := newKey(t)
	f.fund(u, 100)
	require.NoError(t, f.deposit(u, 10))

	poolAddr, err := derive.PoolAddress(f.prog.ID)
	require.NoError(t, err)
	pool := f.pool()
	pool.TotalStaked = math.MaxUint64 - 5
	f.overwrite(poolAddr.Key, f.prog.ID, pool, types.PoolRecordSize)
	before := f.state.clone()

	err = f.deposit(u, 10)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, before, f.state)

	// A user stake at the ceiling overflows before the pool total does.
	userAddr, err := derive.UserAddress(u, f.prog.ID)
	require.NoError(t, err)
	user := f.user(u)
	user.AmountStaked = math.MaxUint64
	f.overwrite(userAddr.Key, f.prog.ID, user, types.UserRecordSize)
	assert.ErrorIs(t, f.deposit(u, 1), ErrOverflow)
}

func TestDepositVaultOverflow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	u := newKey(t)
	f.fund(u, 100)

	poolAddr, err := derive.PoolAddress(f.prog.ID)
	require.NoError(t, err)
	vault, err := derive.VaultAddress(poolAddr.Key, f.prog.ID)
	require.NoError(t, err)
	f.overwrite(vault.Key, f.prog.Token.ID, &types.TokenAccount{Mint: f.mint, Owner: poolAddr.Key, Amount: math.MaxUint64}, types.TokenAccountSize)

	assert.ErrorIs(t, f.deposit(u, 1), ErrOverflow)
}

func TestWithdrawInconsistency(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	u := newKey(t)
	f.fund(u, 100)
	require.NoError(t, f.deposit(u, 100))
	f.now += MonthSeconds

	poolAddr, err := derive.PoolAddress(f.prog.ID)
	require.NoError(t, err)
	pool := f.pool()
	pool.TotalStaked = 50
	f.overwrite(poolAddr.Key, f.prog.ID, pool, types.PoolRecordSize)
	before := f.state.clone()

	_, err = f.withdraw(u)
	assert.ErrorIs(t, err, ErrInconsistency)
	assert.Equal(t, SystemError, Classify(err))
	assert.False(t, Classify(err).Retryable())
	assert.Equal(t, before, f.state)
}

func TestWithdrawVaultShortfall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	u := newKey(t)
	f.fund(u, 100)
	require.NoError(t, f.deposit(u, 100))
	f.now += MonthSeconds

	poolAddr, err := derive.PoolAddress(f.prog.ID)
	require.NoError(t, err)
	vault, err := derive.VaultAddress(poolAddr.Key, f.prog.ID)
	require.NoError(t, err)
	f.overwrite(vault.Key, f.prog.Token.ID, &types.TokenAccount{Mint: f.mint, Owner: poolAddr.Key, Amount: 10}, types.TokenAccountSize)

	_, err = f.withdraw(u)
	assert.ErrorIs(t, err, ErrInconsistency)
}

func TestWithdrawWithoutRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.initialize(oneToken))
	_, err := f.withdraw(newKey(t))
	assert.ErrorIs(t, err, ErrNothingStaked)
}

func TestProcess(t *testing.T) {
	f := newFixture(t)
	u := newKey(t)
	f.fund(u, oneToken)

	run := func(signer solana.PublicKey, tx *transaction.Transaction) error {
		return f.exec(signer, func(c *InvokeContext) error { return f.prog.Process(c, tx) })
	}

	require.NoError(t, run(f.admin, &transaction.Transaction{Instruction: transaction.InstructionInitialize, Actor: f.admin, Mint: f.mint, Amount: oneToken}))
	require.NoError(t, run(u, &transaction.Transaction{Instruction: transaction.InstructionDeposit, Actor: u, Amount: 5}))
	assert.ErrorIs(t, run(u, &transaction.Transaction{Instruction: transaction.InstructionWithdraw, Actor: u}), ErrLockNotExpired)
	assert.ErrorIs(t, run(u, &transaction.Transaction{Instruction: 42, Actor: u}), ErrUnknownInstruction)

	// The signer must be the actor named in the request.
	err := run(f.admin, &transaction.Transaction{Instruction: transaction.InstructionDeposit, Actor: u, Amount: 5})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, uint64(5), f.user(u).AmountStaked)
}

func TestAccounts(t *testing.T) {
	f := newFixture(t)
	u := newKey(t)
	poolAddr, err := derive.PoolAddress(f.prog.ID)
	require.NoError(t, err)
	vault, err := derive.VaultAddress(poolAddr.Key, f.prog.ID)
	require.NoError(t, err)
	userAddr, err := derive.UserAddress(u, f.prog.ID)
	require.NoError(t, err)
	ata, err := f.prog.Token.AssociatedAddress(u, f.mint)
	require.NoError(t, err)

	// Before initialize the pool mint is unknown.
	got, err := f.prog.Accounts(f.state, &transaction.Transaction{Instruction: transaction.InstructionDeposit, Actor: u})
	require.NoError(t, err)
	assert.ElementsMatch(t, []solana.PublicKey{poolAddr.Key, vault.Key, userAddr.Key}, got)

	adminAta, err := f.prog.Token.AssociatedAddress(f.admin, f.mint)
	require.NoError(t, err)
	got, err = f.prog.Accounts(f.state, &transaction.Transaction{Instruction: transaction.InstructionInitialize, Actor: f.admin, Mint: f.mint})
	require.NoError(t, err)
	assert.ElementsMatch(t, []solana.PublicKey{poolAddr.Key, vault.Key, adminAta.Key, f.mint}, got)

	require.NoError(t, f.initialize(oneToken))
	got, err = f.prog.Accounts(f.state, &transaction.Transaction{Instruction: transaction.InstructionWithdraw, Actor: u})
	require.NoError(t, err)
	assert.ElementsMatch(t, []solana.PublicKey{poolAddr.Key, vault.Key, userAddr.Key, ata.Key}, got)
}

func TestUserState(t *testing.T) {
	p := &Program{LockPeriod: 100}

	assert.Equal(t, UserStatus{State: Unstaked}, p.UserState(nil, 0))
	assert.Equal(t, UserStatus{State: Unstaked}, p.UserState(&types.UserRecord{StakedAt: 5}, 500))

	rec := &types.UserRecord{AmountStaked: 1, StakedAt: 1000}
	assert.Equal(t, UserStatus{State: Locked, Remaining: 40 * time.Second, UnlockAt: 1100}, p.UserState(rec, 1060))
	assert.Equal(t, UserStatus{State: Withdrawable, UnlockAt: 1100}, p.UserState(rec, 1100))
	assert.Equal(t, "withdrawable", Withdrawable.String())

	longest := &Program{LockPeriod: MaxLockPeriod}
	rec = &types.UserRecord{AmountStaked: 1, StakedAt: startTime}
	st := longest.UserState(rec, startTime)
	assert.Equal(t, Locked, st.State)
	assert.Equal(t, time.Duration(MaxLockPeriod)*time.Second, st.Remaining)
	assert.Positive(t, st.Remaining)
	assert.Equal(t, startTime+MaxLockPeriod, st.UnlockAt)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{ErrAlreadyInitialized, CallerError},
		{ErrInsufficientFunds, CallerError},
		{&LockNotExpiredError{Remaining: time.Minute}, CallerError},
		{ErrOverflow, CallerError},
		{ErrInconsistency, SystemError},
		{assert.AnError, SystemError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), tc.err.Error())
	}
	assert.Zero(t, Classify(nil))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "lock_not_expired", Code(&LockNotExpiredError{}))
	assert.Equal(t, "insufficient_funds", Code(mapTokenError(token.ErrInsufficientFunds, false)))
	assert.Equal(t, "inconsistency", Code(mapTokenError(token.ErrInsufficientFunds, true)))
	assert.Equal(t, "internal_error", Code(assert.AnError))
	assert.Empty(t, Code(nil))
}

func (m mapView) walk(fn func(*types.Account) bool) error {
	for _, acc := range m {
		if !fn(acc.Clone()) {
			break
		}
	}
	return nil
}

func TestAuditTotals(t *testing.T) {
	f := newFixture(t)
	sum, err := f.prog.AuditTotals(f.state, f.state.walk)
	require.NoError(t, err)
	assert.Zero(t, sum)

	require.NoError(t, f.initialize(oneToken))
	alice, bob := newKey(t), newKey(t)
	f.fund(alice, 3*oneToken)
	f.fund(bob, 3*oneToken)
	require.NoError(t, f.deposit(alice, oneToken))
	require.NoError(t, f.deposit(bob, 2*oneToken))

	sum, err = f.prog.AuditTotals(f.state, f.state.walk)
	require.NoError(t, err)
	assert.Equal(t, uint64(3*oneToken), sum)

	addr, err := derive.UserAddress(alice, f.prog.ID)
	require.NoError(t, err)
	rec := f.user(alice)
	rec.AmountStaked = math.MaxUint64
	f.overwrite(addr.Key, f.prog.ID, rec, types.UserRecordSize)
	_, err = f.prog.AuditTotals(f.state, f.state.walk)
	assert.ErrorIs(t, err, ErrInconsistency)

	rec.AmountStaked = 5
	f.overwrite(addr.Key, f.prog.ID, rec, types.UserRecordSize)
	_, err = f.prog.AuditTotals(f.state, f.state.walk)
	assert.ErrorIs(t, err, ErrInconsistency)
}
