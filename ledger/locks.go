package ledger

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/monitoring"
	"github.com/puzpuzpuz/xsync/v4"
)

// LockTable hands out one mutex per account address. Locks for a
// transaction are always taken in address order so two transactions with
// overlapping accounts cannot deadlock.
type LockTable struct {
	locks *xsync.Map[solana.PublicKey, *sync.Mutex]
}

func NewLockTable() *LockTable {
	return &LockTable{locks: xsync.NewMap[solana.PublicKey, *sync.Mutex]()}
}

func (lt *LockTable) get(addr solana.PublicKey) *sync.Mutex {
	mu, _ := lt.locks.Compute(addr, func(old *sync.Mutex, loaded bool) (*sync.Mutex, xsync.ComputeOp) {
		if !loaded {
			old = &sync.Mutex{}
		}
		return old, xsync.UpdateOp
	})
	return mu
}

// Acquire locks every distinct address and returns the matching unlock.
func (lt *LockTable) Acquire(addrs []solana.PublicKey) (unlock func()) {
	ordered := orderedUnique(addrs)
	start := time.Now()
	held := make([]*sync.Mutex, 0, len(ordered))
	for _, addr := range ordered {
		mu := lt.get(addr)
		mu.Lock()
		held = append(held, mu)
	}
	monitoring.RecordLockWait(time.Since(start))

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (lt *LockTable) Size() int {
	return lt.locks.Size()
}

func orderedUnique(addrs []solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(addrs))
	out := make([]solana.PublicKey, 0, len(addrs))
	for _, a := range addrs {
		if a.IsZero() {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
