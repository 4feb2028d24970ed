package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/mezonai/stakepool/types"
)

// ComputeAccountsDeltaHash computes a deterministic hash over the accounts
// written by one transaction. Each record is encoded as
// address(32B)|owner(32B)|len(data)(8B BE)|data, sorted by address.
func ComputeAccountsDeltaHash(updated []*types.Account) [32]byte {
	if len(updated) == 0 {
		return [32]byte{}
	}
	sorted := make([]*types.Account, len(updated))
	copy(sorted, updated)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Address[:], sorted[j].Address[:]) < 0
	})

	h := sha256.New()
	buf := make([]byte, 8)
	for _, acc := range sorted {
		h.Write(acc.Address[:])
		h.Write(acc.Owner[:])
		binary.BigEndian.PutUint64(buf, uint64(len(acc.Data)))
		h.Write(buf)
		h.Write(acc.Data)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CombineBankHash combines previous bank hash and delta hash to produce new bank hash.
// new = SHA256(prev || delta). If prev is zero, returns delta.
func CombineBankHash(prev [32]byte, delta [32]byte) [32]byte {
	if isZeroHash(prev) {
		return delta
	}
	h := sha256.New()
	h.Write(prev[:])
	h.Write(delta[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func isZeroHash(h [32]byte) bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}
