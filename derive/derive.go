// Package derive computes program-derived account addresses and the
// authority capabilities that let a program move funds held at them.
package derive

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidAuthority = errors.New("authority does not re-derive to the claimed key")
	ErrNoAuthority      = errors.New("no authority supplied")
)

const (
	SeedPool  = "pool"
	SeedUser  = "user"
	SeedToken = "token"
)

// Address is a derived account address together with its bump, the proof
// value that makes the seeds land off the ed25519 curve.
type Address struct {
	Key  solana.PublicKey
	Bump uint8
}

func (a Address) String() string {
	return a.Key.String()
}

// Find returns the canonical derived address for seeds under program.
func Find(seeds [][]byte, program solana.PublicKey) (Address, error) {
	key, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return Address{}, fmt.Errorf("derive %d seeds under %s: %w", len(seeds), program, err)
	}
	return Address{Key: key, Bump: bump}, nil
}

// PoolAddress is the singleton pool record of a staking program.
func PoolAddress(program solana.PublicKey) (Address, error) {
	return Find(PoolSeeds(), program)
}

func PoolSeeds() [][]byte {
	return [][]byte{[]byte(SeedPool)}
}

// VaultAddress is the escrow token account of the pool.
func VaultAddress(pool, program solana.PublicKey) (Address, error) {
	return Find(VaultSeeds(pool), program)
}

func VaultSeeds(pool solana.PublicKey) [][]byte {
	return [][]byte{pool.Bytes()}
}

// UserAddress is the per-depositor stake record.
func UserAddress(actor, program solana.PublicKey) (Address, error) {
	return Find(UserSeeds(actor), program)
}

func UserSeeds(actor solana.PublicKey) [][]byte {
	return [][]byte{[]byte(SeedUser), actor.Bytes()}
}

// TokenAccountAddress is the canonical token account of owner for mint,
// derived under the token program.
func TokenAccountAddress(owner, mint, tokenProgram solana.PublicKey) (Address, error) {
	return Find([][]byte{[]byte(SeedToken), owner.Bytes(), mint.Bytes()}, tokenProgram)
}
