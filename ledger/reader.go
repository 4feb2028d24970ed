package ledger

import (
	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/store"
	"github.com/mezonai/stakepool/types"
)

// Reader is read-only access to committed accounts.
type Reader struct {
	accounts store.AccountStore
}

func (r *Reader) Get(addr solana.PublicKey) (*types.Account, error) {
	return r.accounts.GetByAddr(addr)
}
