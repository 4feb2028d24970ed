package types

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidAccountData = errors.New("invalid account data")
	ErrAccountExisted     = errors.New("account existed")
)

// Account is the persisted envelope for every record. Owner is the program
// allowed to mutate Data.
type Account struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
}

func NewAccount(address, owner solana.PublicKey, data []byte) *Account {
	return &Account{Address: address, Owner: owner, Data: data}
}

// Clone returns a deep copy so overlays never alias stored bytes.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Address: a.Address,
		Owner:   a.Owner,
		Data:    append([]byte(nil), a.Data...),
	}
}

func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Address.Equals(other.Address) && a.Owner.Equals(other.Owner) && bytes.Equal(a.Data, other.Data)
}

// MarshalBinary encodes the envelope as address | owner | len-prefixed data.
func (a *Account) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteBytes(a.Address[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(a.Owner[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(a.Data, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Account) UnmarshalBinary(data []byte) error {
	dec := bin.NewBinDecoder(data)
	addr, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("%w: address: %v", ErrInvalidAccountData, err)
	}
	owner, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("%w: owner: %v", ErrInvalidAccountData, err)
	}
	body, err := dec.ReadByteSlice()
	if err != nil {
		return fmt.Errorf("%w: data: %v", ErrInvalidAccountData, err)
	}
	a.Address = solana.PublicKeyFromBytes(addr)
	a.Owner = solana.PublicKeyFromBytes(owner)
	a.Data = append([]byte(nil), body...)
	return nil
}
