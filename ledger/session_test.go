package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/db"
	"github.com/mezonai/stakepool/store"
	"github.com/mezonai/stakepool/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountStore(t *testing.T) store.AccountStore {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	stores, err := store.NewStores(provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	return stores.Accounts
}

func TestSessionOverlay(t *testing.T) {
	base := newAccountStore(t)
	owner := solana.PublicKey{9}
	committed := types.NewAccount(solana.PublicKey{1}, owner, []byte{1, 2, 3})
	require.NoError(t, base.Store(committed))

	s := NewSession(base)

	got, err := s.Get(committed.Address)
	require.NoError(t, err)
	assert.True(t, committed.Equal(got))

	// Callers get copies.
	got.Data[0] = 42
	again, err := s.Get(committed.Address)
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.Data[0])

	err = s.Create(types.NewAccount(committed.Address, owner, nil))
	assert.ErrorIs(t, err, types.ErrAccountExisted)

	fresh := types.NewAccount(solana.PublicKey{2}, owner, []byte{7})
	require.NoError(t, s.Create(fresh))
	assert.ErrorIs(t, s.Create(fresh), types.ErrAccountExisted)

	// Writes are invisible to the store until committed.
	stored, err := base.GetByAddr(fresh.Address)
	require.NoError(t, err)
	assert.Nil(t, stored)

	// Re-putting an unchanged account is not a write.
	require.NoError(t, s.Put(committed.Clone()))
	dirty := s.Dirty()
	require.Len(t, dirty, 1)
	assert.True(t, fresh.Equal(dirty[0]))

	s.Discard()
	assert.Empty(t, s.Dirty())
	missing, err := s.Get(fresh.Address)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionPinsReads(t *testing.T) {
	base := newAccountStore(t)
	addr := solana.PublicKey{3}
	s := NewSession(base)

	missing, err := s.Get(addr)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, base.Store(types.NewAccount(addr, solana.PublicKey{9}, []byte{1})))
	still, err := s.Get(addr)
	require.NoError(t, err)
	assert.Nil(t, still)
}

func TestSessionPreload(t *testing.T) {
	base := newAccountStore(t)
	owner := solana.PublicKey{9}
	present := types.NewAccount(solana.PublicKey{4}, owner, []byte{1})
	absent := solana.PublicKey{5}
	require.NoError(t, base.Store(present))

	s := NewSession(base)
	staged := types.NewAccount(solana.PublicKey{6}, owner, []byte{2})
	require.NoError(t, s.Put(staged))
	require.NoError(t, s.Preload([]solana.PublicKey{present.Address, absent, staged.Address}))

	// Preloaded values are pinned: later store writes are not seen.
	require.NoError(t, base.Store(types.NewAccount(present.Address, owner, []byte{9})))
	require.NoError(t, base.Store(types.NewAccount(absent, owner, []byte{9})))

	got, err := s.Get(present.Address)
	require.NoError(t, err)
	assert.True(t, present.Equal(got))
	missing, err := s.Get(absent)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, s.Create(types.NewAccount(present.Address, owner, nil)), types.ErrAccountExisted)

	// Staged writes win over the preload.
	kept, err := s.Get(staged.Address)
	require.NoError(t, err)
	assert.True(t, staged.Equal(kept))

	require.NoError(t, s.Preload(nil))
}

func TestDirtyIsSortedByAddress(t *testing.T) {
	s := NewSession(newAccountStore(t))
	for _, b := range []byte{5, 1, 3} {
		require.NoError(t, s.Put(types.NewAccount(solana.PublicKey{b}, solana.PublicKey{}, []byte{b})))
	}
	dirty := s.Dirty()
	require.Len(t, dirty, 3)
	assert.Equal(t, solana.PublicKey{1}, dirty[0].Address)
	assert.Equal(t, solana.PublicKey{5}, dirty[2].Address)
}

func TestAccountsDeltaHash(t *testing.T) {
	a := types.NewAccount(solana.PublicKey{1}, solana.PublicKey{9}, []byte{1})
	b := types.NewAccount(solana.PublicKey{2}, solana.PublicKey{9}, []byte{2})

	assert.Equal(t, ComputeAccountsDeltaHash([]*types.Account{a, b}), ComputeAccountsDeltaHash([]*types.Account{b, a}))
	assert.Equal(t, [32]byte{}, ComputeAccountsDeltaHash(nil))

	changed := b.Clone()
	changed.Data[0] = 3
	assert.NotEqual(t, ComputeAccountsDeltaHash([]*types.Account{a, b}), ComputeAccountsDeltaHash([]*types.Account{a, changed}))

	delta := ComputeAccountsDeltaHash([]*types.Account{a})
	assert.Equal(t, delta, CombineBankHash([32]byte{}, delta))
	assert.NotEqual(t, delta, CombineBankHash(delta, delta))
}

func TestLockTableOrdersOverlappingSets(t *testing.T) {
	lt := NewLockTable()
	a, b, c := solana.PublicKey{1}, solana.PublicKey{2}, solana.PublicKey{3}
	sets := [][]solana.PublicKey{{a, b}, {b, a}, {c, a}, {b, c, a, a}}

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 200; i++ {
		set := sets[i%len(sets)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := lt.Acquire(set)
			counter++ // every set contains a
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
	assert.Equal(t, 200, counter)
	assert.Equal(t, 3, lt.Size())
}
