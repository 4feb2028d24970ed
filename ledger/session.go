package ledger

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/store"
	"github.com/mezonai/stakepool/types"
)

// Session is a copy-on-write view of the account store for one
// transaction. Reads fall through to the store once and are then pinned,
// writes stay in the overlay until the ledger commits them.
type Session struct {
	base    store.AccountStore
	mu      sync.RWMutex
	read    map[solana.PublicKey]*types.Account // nil value records a miss
	overlay map[solana.PublicKey]*types.Account
}

func NewSession(base store.AccountStore) *Session {
	return &Session{
		base:    base,
		read:    make(map[solana.PublicKey]*types.Account),
		overlay: make(map[solana.PublicKey]*types.Account),
	}
}

// Get returns a private copy of the account at addr, or nil if absent.
func (s *Session) Get(addr solana.PublicKey) (*types.Account, error) {
	acc, _, err := s.load(addr)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

func (s *Session) load(addr solana.PublicKey) (*types.Account, bool, error) {
	s.mu.RLock()
	if acc, ok := s.overlay[addr]; ok {
		s.mu.RUnlock()
		return acc, true, nil
	}
	if acc, ok := s.read[addr]; ok {
		s.mu.RUnlock()
		return acc, acc != nil, nil
	}
	s.mu.RUnlock()

	acc, err := s.base.GetByAddr(addr)
	if err != nil {
		return nil, false, fmt.Errorf("could not load account %s: %w", addr, err)
	}
	s.mu.Lock()
	s.read[addr] = acc
	s.mu.Unlock()
	return acc, acc != nil, nil
}

// Preload reads addrs from the store in one round trip and pins them,
// misses included. Addresses already read or staged are left alone.
func (s *Session) Preload(addrs []solana.PublicKey) error {
	if len(addrs) == 0 {
		return nil
	}
	accounts, err := s.base.GetBatch(addrs)
	if err != nil {
		return fmt.Errorf("could not preload accounts: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range addrs {
		if _, ok := s.overlay[addr]; ok {
			continue
		}
		if _, ok := s.read[addr]; ok {
			continue
		}
		s.read[addr] = accounts[addr]
	}
	return nil
}

// Create stages a new account. It fails with types.ErrAccountExisted if the
// address is taken in the overlay or the store.
func (s *Session) Create(account *types.Account) error {
	_, exists, err := s.load(account.Address)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", types.ErrAccountExisted, account.Address)
	}
	s.mu.Lock()
	s.overlay[account.Address] = account.Clone()
	s.mu.Unlock()
	return nil
}

// Put stages a new version of account.
func (s *Session) Put(account *types.Account) error {
	s.mu.Lock()
	s.overlay[account.Address] = account.Clone()
	s.mu.Unlock()
	return nil
}

// Dirty returns the staged accounts that differ from what was read,
// ordered by address.
func (s *Session) Dirty() []*types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Account, 0, len(s.overlay))
	for addr, acc := range s.overlay {
		if prev, ok := s.read[addr]; ok && prev.Equal(acc) {
			continue
		}
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Discard drops every staged write.
func (s *Session) Discard() {
	s.mu.Lock()
	s.overlay = make(map[solana.PublicKey]*types.Account)
	s.mu.Unlock()
}
