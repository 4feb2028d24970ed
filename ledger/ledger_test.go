package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/config"
	"github.com/mezonai/stakepool/db"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/events"
	"github.com/mezonai/stakepool/staking"
	"github.com/mezonai/stakepool/store"
	"github.com/mezonai/stakepool/token"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	startUnix = 1_700_000_000
	oneToken  = 1_000_000_000
)

type harness struct {
	t       *testing.T
	ledger  *Ledger
	stores  *store.Stores
	clock   *utils.ManualClock
	bus     *events.EventBus
	genesis *config.Genesis
	admin   solana.PrivateKey
	users   []solana.PrivateKey
	nonce   atomic.Uint64
}

func newKeypair(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

func newHarness(t *testing.T, users int) *harness {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	stores, err := store.NewStores(provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	h := &harness{
		t:      t,
		stores: stores,
		clock:  utils.NewManualClock(time.Unix(startUnix, 0)),
		bus:    events.NewEventBus(),
		admin:  newKeypair(t),
	}
	g := &config.Genesis{
		StakingProgram: newKeypair(t).PublicKey(),
		TokenProgram:   newKeypair(t).PublicKey(),
		Mints: []config.GenesisMint{{
			Address:   newKeypair(t).PublicKey(),
			Authority: newKeypair(t).PublicKey(),
			Decimals:  9,
		}},
	}
	mint := g.Mints[0].Address
	g.Accounts = append(g.Accounts, config.GenesisBalance{Owner: h.admin.PublicKey(), Mint: mint, Amount: 10 * oneToken})
	for i := 0; i < users; i++ {
		k := newKeypair(t)
		h.users = append(h.users, k)
		g.Accounts = append(g.Accounts, config.GenesisBalance{Owner: k.PublicKey(), Mint: mint, Amount: 5 * oneToken})
	}
	h.genesis = g
	h.ledger = h.open()
	require.NoError(t, h.ledger.ApplyGenesis(g))
	return h
}

// open builds a ledger over the harness stores, as a restarted node would.
func (h *harness) open() *Ledger {
	h.t.Helper()
	prog := staking.NewProgram(h.genesis.StakingProgram, token.NewProgram(h.genesis.TokenProgram))
	l, err := NewLedger(prog, h.stores, h.clock, h.bus, DefaultOptions())
	require.NoError(h.t, err)
	return l
}

func (h *harness) mint() solana.PublicKey {
	return h.genesis.Mints[0].Address
}

func (h *harness) tx(key solana.PrivateKey, ins transaction.Instruction, amount uint64) *transaction.Transaction {
	h.t.Helper()
	tx := &transaction.Transaction{
		Instruction: ins,
		Actor:       key.PublicKey(),
		Amount:      amount,
		Timestamp:   uint64(h.clock.Now().UnixMilli()),
		Nonce:       h.nonce.Add(1),
	}
	if ins == transaction.InstructionInitialize {
		tx.Mint = h.mint()
	}
	require.NoError(h.t, tx.Sign(key))
	return tx
}

func (h *harness) exec(key solana.PrivateKey, ins transaction.Instruction, amount uint64) (*Result, error) {
	return h.ledger.Execute(context.Background(), h.tx(key, ins, amount))
}

func (h *harness) balance(owner solana.PublicKey) uint64 {
	h.t.Helper()
	prog := h.ledger.Program()
	ata, err := prog.Token.AssociatedAddress(owner, h.mint())
	require.NoError(h.t, err)
	bal, err := prog.Token.BalanceOf(h.ledger.Reader(), ata.Key)
	require.NoError(h.t, err)
	return bal
}

// dump copies every committed account.
func (h *harness) dump() map[solana.PublicKey]*types.Account {
	out := map[solana.PublicKey]*types.Account{}
	require.NoError(h.t, h.stores.Accounts.IterateAccounts(func(acc *types.Account) bool {
		out[acc.Address] = acc
		return true
	}))
	return out
}

// checkInvariant asserts total_staked equals the sum of every stake record
// and the vault holds exactly stake plus rewards.
func (h *harness) checkInvariant() {
	h.t.Helper()
	prog := h.ledger.Program()
	pool, err := prog.GetPool(h.ledger.Reader())
	require.NoError(h.t, err)

	var sum uint64
	for _, acc := range h.dump() {
		if !acc.Owner.Equals(prog.ID) || len(acc.Data) != types.UserRecordSize {
			continue
		}
		var u types.UserRecord
		require.NoError(h.t, types.DecodeRecord(acc.Data, &u, types.UserRecordSize))
		sum += u.AmountStaked
	}
	assert.Equal(h.t, pool.TotalStaked, sum, "total_staked must equal the sum of stakes")

	vault, err := prog.VaultBalance(h.ledger.Reader())
	require.NoError(h.t, err)
	assert.Equal(h.t, pool.TotalStaked+pool.TotalRewards, vault)
}

func TestScenarios(t *testing.T) {
	h := newHarness(t, 1)
	u := h.users[0]

	res, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)
	assert.Zero(t, res.Pool.TotalStaked)
	assert.Equal(t, uint64(oneToken), res.Pool.TotalRewards)
	assert.Nil(t, res.User)
	vault, err := h.ledger.Program().VaultBalance(h.ledger.Reader())
	require.NoError(t, err)
	assert.Equal(t, uint64(oneToken), vault)

	res, err = h.exec(u, transaction.InstructionDeposit, oneToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(oneToken), res.Pool.TotalStaked)
	assert.Equal(t, uint64(oneToken), res.User.AmountStaked)

	h.clock.Advance(30 * time.Second)
	res, err = h.exec(u, transaction.InstructionDeposit, oneToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*oneToken), res.Pool.TotalStaked)
	assert.Equal(t, uint64(2*oneToken), res.User.AmountStaked)
	assert.InDelta(t, h.clock.Now().Unix(), res.User.StakedAt, 60)

	res, err = h.exec(u, transaction.InstructionWithdraw, 0)
	assert.ErrorIs(t, err, staking.ErrLockNotExpired)
	require.NotNil(t, res)
	assert.Equal(t, types.TxStatusFailed, int(res.Meta.Status))
	assert.Equal(t, "lock_not_expired", res.Meta.ErrorCode)
	assert.Equal(t, uint64(2*oneToken), res.User.AmountStaked)

	h.clock.Advance(time.Duration(staking.MonthSeconds) * time.Second)
	res, err = h.exec(u, transaction.InstructionWithdraw, 0)
	require.NoError(t, err)
	assert.Zero(t, res.User.AmountStaked)
	assert.Zero(t, res.Pool.TotalStaked)
	assert.Equal(t, uint64(5*oneToken), h.balance(u.PublicKey()))
	h.checkInvariant()
}

func TestInitializeTwiceKeepsFirstState(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)

	res, err := h.exec(h.admin, transaction.InstructionInitialize, 2*oneToken)
	assert.ErrorIs(t, err, staking.ErrAlreadyInitialized)
	assert.Equal(t, uint64(oneToken), res.Pool.TotalRewards)
	assert.Equal(t, uint64(9*oneToken), h.balance(h.admin.PublicKey()))
}

func TestFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, 1)
	u := h.users[0]
	_, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)
	_, err = h.exec(u, transaction.InstructionDeposit, oneToken)
	require.NoError(t, err)

	before := h.dump()
	seq, hash := h.ledger.StateHash()

	failing := []struct {
		ins    transaction.Instruction
		amount uint64
		want   error
	}{
		{transaction.InstructionWithdraw, 0, staking.ErrLockNotExpired},
		{transaction.InstructionDeposit, 100 * oneToken, staking.ErrInsufficientFunds},
		{transaction.InstructionDeposit, 0, staking.ErrOverflow},
		{transaction.InstructionInitialize, 1, staking.ErrAlreadyInitialized},
	}
	for _, f := range failing {
		tx := h.tx(u, f.ins, f.amount)
		_, err := h.ledger.Execute(context.Background(), tx)
		require.ErrorIs(t, err, f.want)

		meta, err := h.ledger.GetTxMeta(tx.Hash())
		require.NoError(t, err)
		require.NotNil(t, meta)
		assert.False(t, meta.Succeeded())
		assert.Zero(t, meta.Seq)
	}

	assert.Equal(t, before, h.dump())
	gotSeq, gotHash := h.ledger.StateHash()
	assert.Equal(t, seq, gotSeq)
	assert.Equal(t, hash, gotHash)
}

func TestReplayAndFreshness(t *testing.T) {
	h := newHarness(t, 1)
	u := h.users[0]
	_, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)

	tx := h.tx(u, transaction.InstructionDeposit, 10)
	_, err = h.ledger.Execute(context.Background(), tx)
	require.NoError(t, err)
	_, err = h.ledger.Execute(context.Background(), tx)
	assert.ErrorIs(t, err, ErrDuplicateTx)

	// A failed request is not replayable either.
	h.clock.Advance(time.Second)
	bad := h.tx(u, transaction.InstructionWithdraw, 0)
	_, err = h.ledger.Execute(context.Background(), bad)
	assert.ErrorIs(t, err, staking.ErrLockNotExpired)
	_, err = h.ledger.Execute(context.Background(), bad)
	assert.ErrorIs(t, err, ErrDuplicateTx)

	old := h.tx(u, transaction.InstructionDeposit, 10)
	h.clock.Advance(DefaultOptions().MaxTxAge + time.Second)
	_, err = h.ledger.Execute(context.Background(), old)
	assert.ErrorIs(t, err, ErrTxExpired)

	future := h.tx(u, transaction.InstructionDeposit, 10)
	future.Timestamp += uint64(time.Minute.Milliseconds())
	require.NoError(t, future.Sign(u))
	_, err = h.ledger.Execute(context.Background(), future)
	assert.ErrorIs(t, err, ErrTxFromFuture)

	forged := h.tx(u, transaction.InstructionDeposit, 10)
	forged.Amount = 1_000
	_, err = h.ledger.Execute(context.Background(), forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	user, err := h.ledger.Program().GetUser(h.ledger.Reader(), u.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), user.AmountStaked)
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.ledger.Execute(ctx, h.tx(h.admin, transaction.InstructionInitialize, oneToken))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = h.ledger.Program().GetPool(h.ledger.Reader())
	assert.ErrorIs(t, err, staking.ErrNotInitialized)
}

func TestConcurrentDepositsKeepInvariant(t *testing.T) {
	h := newHarness(t, 8)
	_, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)

	const perUser = 10
	var wg sync.WaitGroup
	for _, u := range h.users {
		for i := 0; i < perUser; i++ {
			tx := h.tx(u, transaction.InstructionDeposit, 1_000)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.ledger.Execute(context.Background(), tx)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	pool, err := h.ledger.Program().GetPool(h.ledger.Reader())
	require.NoError(t, err)
	assert.Equal(t, uint64(len(h.users)*perUser*1_000), pool.TotalStaked)
	h.checkInvariant()

	seq, _ := h.ledger.StateHash()
	// genesis + initialize + every deposit
	assert.Equal(t, uint64(2+len(h.users)*perUser), seq)
}

func TestStateHashChainSurvivesRestart(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)
	res, err := h.exec(h.users[0], transaction.InstructionDeposit, 5)
	require.NoError(t, err)

	seq, hash := h.ledger.StateHash()
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, seq, res.Meta.Seq)
	stored, ok, err := h.stores.StateMeta.GetStateHash(seq)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hash, stored)

	restarted := h.open()
	gotSeq, gotHash := restarted.StateHash()
	assert.Equal(t, seq, gotSeq)
	assert.Equal(t, hash, gotHash)

	// Genesis is skipped on an existing database.
	before := h.dump()
	require.NoError(t, restarted.ApplyGenesis(h.genesis))
	assert.Equal(t, before, h.dump())
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t, 1)
	u := h.users[0]
	_, ch := h.bus.Subscribe(events.ForActor(u.PublicKey().String()))

	_, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)
	_, err = h.exec(u, transaction.InstructionDeposit, 7)
	require.NoError(t, err)
	_, err = h.exec(u, transaction.InstructionWithdraw, 0)
	require.Error(t, err)

	committed := <-ch
	require.Equal(t, events.EventTransactionCommitted, committed.Type())
	ev := committed.(*events.TransactionCommitted)
	assert.Equal(t, uint64(7), ev.Pool().TotalStaked)
	assert.Equal(t, uint64(7), ev.User().AmountStaked)

	failed := <-ch
	require.Equal(t, events.EventTransactionFailed, failed.Type())
	assert.Equal(t, "lock_not_expired", failed.Meta().ErrorCode)
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// countingAccounts records the address sets read through GetBatch.
type countingAccounts struct {
	store.AccountStore
	mu      sync.Mutex
	batches [][]solana.PublicKey
}

func (c *countingAccounts) GetBatch(addrs []solana.PublicKey) (map[solana.PublicKey]*types.Account, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]solana.PublicKey(nil), addrs...))
	c.mu.Unlock()
	return c.AccountStore.GetBatch(addrs)
}

func TestExecuteReadsAccountSetInOneBatch(t *testing.T) {
	h := newHarness(t, 1)
	counting := &countingAccounts{AccountStore: h.stores.Accounts}
	h.stores.Accounts = counting
	h.ledger = h.open()

	tx := h.tx(h.admin, transaction.InstructionInitialize, oneToken)
	want, err := h.ledger.Program().Accounts(h.ledger.Reader(), tx)
	require.NoError(t, err)

	_, err = h.ledger.Execute(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, counting.batches, 1)
	assert.ElementsMatch(t, want, counting.batches[0])
	h.checkInvariant()
}

func TestAudit(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.ledger.Audit())

	_, err := h.exec(h.admin, transaction.InstructionInitialize, oneToken)
	require.NoError(t, err)
	for _, u := range h.users {
		_, err = h.exec(u, transaction.InstructionDeposit, oneToken)
		require.NoError(t, err)
	}
	require.NoError(t, h.ledger.Audit())

	prog := h.ledger.Program()
	addr, err := derive.UserAddress(h.users[0].PublicKey(), prog.ID)
	require.NoError(t, err)
	rec, err := prog.GetUser(h.ledger.Reader(), h.users[0].PublicKey())
	require.NoError(t, err)
	rec.AmountStaked--
	data, err := types.EncodeRecord(rec, types.UserRecordSize)
	require.NoError(t, err)
	require.NoError(t, h.stores.Accounts.Store(types.NewAccount(addr.Key, prog.ID, data)))

	err = h.ledger.Audit()
	assert.ErrorIs(t, err, staking.ErrInconsistency)
}
