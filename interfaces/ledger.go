package interfaces

import (
	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/types"
)

// AccountReader is read access to committed or in-flight account state.
// Get returns (nil, nil) for an account that does not exist.
type AccountReader interface {
	Get(addr solana.PublicKey) (*types.Account, error)
}

// AccountView is what a program sees while a transaction runs. Writes are
// staged and only become visible to others if the transaction commits.
type AccountView interface {
	AccountReader
	// Create fails with types.ErrAccountExisted if the address is already
	// taken, staged or committed.
	Create(account *types.Account) error
	Put(account *types.Account) error
}
