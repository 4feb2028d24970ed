// Package token is the fungible-token ledger the staking program transfers
// through. Balances live in token accounts; each token account belongs to
// one mint and one owner, and only the owner's authority may debit it.
package token

import (
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
)

type Program struct {
	ID solana.PublicKey
}

func NewProgram(id solana.PublicKey) *Program {
	return &Program{ID: id}
}

// AssociatedAddress is the canonical token account of owner for mint.
func (p *Program) AssociatedAddress(owner, mint solana.PublicKey) (derive.Address, error) {
	return derive.TokenAccountAddress(owner, mint, p.ID)
}

func (p *Program) InitializeMint(view interfaces.AccountView, mint, authority solana.PublicKey, decimals uint8) error {
	data, err := types.EncodeRecord(&types.Mint{Authority: authority, Decimals: decimals}, types.MintSize)
	if err != nil {
		return err
	}
	return view.Create(types.NewAccount(mint, p.ID, data))
}

// InitializeAccount creates an empty token account at addr.
func (p *Program) InitializeAccount(view interfaces.AccountView, addr, mint, owner solana.PublicKey) error {
	if _, err := p.GetMint(view, mint); err != nil {
		return err
	}
	data, err := types.EncodeRecord(&types.TokenAccount{Mint: mint, Owner: owner}, types.TokenAccountSize)
	if err != nil {
		return err
	}
	return view.Create(types.NewAccount(addr, p.ID, data))
}

// MintTo credits dest and raises the mint supply.
func (p *Program) MintTo(view interfaces.AccountView, mint, dest solana.PublicKey, amount uint64, authority derive.Authority) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	m, err := p.GetMint(view, mint)
	if err != nil {
		return err
	}
	if err := authority.Authorizes(m.Authority); err != nil {
		return fmt.Errorf("%w: %v", ErrOwnerMismatch, err)
	}
	acc, err := p.GetAccount(view, dest)
	if err != nil {
		return err
	}
	if !acc.Mint.Equals(mint) {
		return ErrMintMismatch
	}

	supply, ok := utils.CheckedAdd(m.Supply, amount)
	if !ok {
		return ErrOverflow
	}
	balance, ok := utils.CheckedAdd(acc.Amount, amount)
	if !ok {
		return ErrOverflow
	}
	m.Supply = supply
	acc.Amount = balance

	if err := p.putMint(view, mint, m); err != nil {
		return err
	}
	return p.putAccount(view, dest, acc)
}

// Transfer moves amount from one token account to another of the same
// mint. authority must be able to act for the source owner.
func (p *Program) Transfer(view interfaces.AccountView, from, to solana.PublicKey, amount uint64, authority derive.Authority) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	src, err := p.GetAccount(view, from)
	if err != nil {
		return fmt.Errorf("source %s: %w", from, err)
	}
	dst, err := p.GetAccount(view, to)
	if err != nil {
		return fmt.Errorf("destination %s: %w", to, err)
	}
	if !src.Mint.Equals(dst.Mint) {
		return ErrMintMismatch
	}
	if err := authority.Authorizes(src.Owner); err != nil {
		return fmt.Errorf("%w: %v", ErrOwnerMismatch, err)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from.Equals(to) {
		return nil
	}

	credited, ok := utils.CheckedAdd(dst.Amount, amount)
	if !ok {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount = credited

	if err := p.putAccount(view, from, src); err != nil {
		return err
	}
	return p.putAccount(view, to, dst)
}

func (p *Program) BalanceOf(reader interfaces.AccountReader, addr solana.PublicKey) (uint64, error) {
	acc, err := p.GetAccount(reader, addr)
	if err != nil {
		return 0, err
	}
	return acc.Amount, nil
}

func (p *Program) GetMint(reader interfaces.AccountReader, mint solana.PublicKey) (*types.Mint, error) {
	raw, err := p.load(reader, mint)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	var m types.Mint
	if err := types.DecodeRecord(raw.Data, &m, types.MintSize); err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *Program) GetAccount(reader interfaces.AccountReader, addr solana.PublicKey) (*types.TokenAccount, error) {
	raw, err := p.load(reader, addr)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrAccountNotFound
	}
	var acc types.TokenAccount
	if err := types.DecodeRecord(raw.Data, &acc, types.TokenAccountSize); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (p *Program) load(reader interfaces.AccountReader, addr solana.PublicKey) (*types.Account, error) {
	raw, err := reader.Get(addr)
	if err != nil {
		return nil, err
	}
	if raw != nil && !raw.Owner.Equals(p.ID) {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrNotTokenAccount, addr, raw.Owner)
	}
	return raw, nil
}

func (p *Program) putMint(view interfaces.AccountView, addr solana.PublicKey, m *types.Mint) error {
	data, err := types.EncodeRecord(m, types.MintSize)
	if err != nil {
		return err
	}
	return view.Put(types.NewAccount(addr, p.ID, data))
}

func (p *Program) putAccount(view interfaces.AccountView, addr solana.PublicKey, acc *types.TokenAccount) error {
	data, err := types.EncodeRecord(acc, types.TokenAccountSize)
	if err != nil {
		return err
	}
	return view.Put(types.NewAccount(addr, p.ID, data))
}

// UIAmount scales a base-unit amount by the mint decimals.
func UIAmount(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}
