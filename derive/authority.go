package derive

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Authority is a capability to act as Key. It is either a verified
// transaction signer or a program-derived proof. A program-derived
// authority is honoured only if its seeds and bump re-derive to Key under
// the named program, so holding the address alone grants nothing.
type Authority struct {
	key     solana.PublicKey
	signer  bool
	seeds   [][]byte
	bump    uint8
	program solana.PublicKey
}

// SignerAuthority wraps a key whose signature the runtime has verified.
// Programs receive these from the runtime and must not mint their own.
func SignerAuthority(key solana.PublicKey) Authority {
	return Authority{key: key, signer: true}
}

// ProgramAuthority builds the capability for a derived address.
func ProgramAuthority(addr Address, seeds [][]byte, program solana.PublicKey) Authority {
	cp := make([][]byte, len(seeds))
	for i, s := range seeds {
		cp[i] = append([]byte(nil), s...)
	}
	return Authority{key: addr.Key, seeds: cp, bump: addr.Bump, program: program}
}

func (a Authority) Key() solana.PublicKey {
	return a.key
}

func (a Authority) IsSigner() bool {
	return a.signer
}

// Verify checks the capability. For a derived authority the address is
// recomputed from the stored seeds and bump.
func (a Authority) Verify() error {
	if a.key.IsZero() {
		return ErrNoAuthority
	}
	if a.signer {
		return nil
	}
	seeds := append(append([][]byte{}, a.seeds...), []byte{a.bump})
	got, err := solana.CreateProgramAddress(seeds, a.program)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthority, err)
	}
	if !got.Equals(a.key) {
		return fmt.Errorf("%w: derived %s, claimed %s", ErrInvalidAuthority, got, a.key)
	}
	return nil
}

// Authorizes reports whether the capability may act for owner.
func (a Authority) Authorizes(owner solana.PublicKey) error {
	if err := a.Verify(); err != nil {
		return err
	}
	if !a.key.Equals(owner) {
		return fmt.Errorf("%w: authority %s is not owner %s", ErrInvalidAuthority, a.key, owner)
	}
	return nil
}
