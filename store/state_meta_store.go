package store

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mezonai/stakepool/db"
)

// StateMetaStore keeps the running state hash of the ledger. Every commit
// gets the next sequence number and a hash chained over the previous one.
// Keys:
// - StateMetaKeyLatest => 8-byte big-endian seq | 32-byte hash
// - PrefixStateHashBySeq + <8-byte big-endian seq> => 32-byte hash
type StateMetaStore interface {
	Latest() (seq uint64, hash [32]byte, err error)
	SetInBatch(batch db.DatabaseBatch, seq uint64, hash [32]byte)
	GetStateHash(seq uint64) ([32]byte, bool, error)
}

type GenericStateMetaStore struct {
	provider db.DatabaseProvider
}

func NewGenericStateMetaStore(provider db.DatabaseProvider) *GenericStateMetaStore {
	return &GenericStateMetaStore{provider: provider}
}

func (s *GenericStateMetaStore) seqKey(seq uint64) []byte {
	key := make([]byte, len(PrefixStateHashBySeq)+8)
	copy(key, PrefixStateHashBySeq)
	binary.BigEndian.PutUint64(key[len(PrefixStateHashBySeq):], seq)
	return key
}

// Latest returns zero values on a fresh database.
func (s *GenericStateMetaStore) Latest() (uint64, [32]byte, error) {
	var hash [32]byte
	value, err := s.provider.Get([]byte(StateMetaKeyLatest))
	if err != nil {
		return 0, hash, fmt.Errorf("failed to get latest state meta: %w", err)
	}
	if len(value) == 0 {
		return 0, hash, nil
	}
	if len(value) != 8+sha256.Size {
		return 0, hash, fmt.Errorf("invalid latest state meta length: %d", len(value))
	}
	copy(hash[:], value[8:])
	return binary.BigEndian.Uint64(value[:8]), hash, nil
}

func (s *GenericStateMetaStore) SetInBatch(batch db.DatabaseBatch, seq uint64, hash [32]byte) {
	latest := make([]byte, 8+sha256.Size)
	binary.BigEndian.PutUint64(latest[:8], seq)
	copy(latest[8:], hash[:])
	batch.Put([]byte(StateMetaKeyLatest), latest)
	batch.Put(s.seqKey(seq), append([]byte(nil), hash[:]...))
}

func (s *GenericStateMetaStore) GetStateHash(seq uint64) ([32]byte, bool, error) {
	var out [32]byte
	value, err := s.provider.Get(s.seqKey(seq))
	if err != nil {
		return out, false, fmt.Errorf("failed to get state hash for seq %d: %w", seq, err)
	}
	if len(value) == 0 {
		return out, false, nil
	}
	if len(value) != sha256.Size {
		return out, false, fmt.Errorf("invalid state hash length: %d", len(value))
	}
	copy(out[:], value)
	return out, true, nil
}
