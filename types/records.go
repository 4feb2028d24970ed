package types

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const DiscriminatorLength = 8

// Discriminator tags the first bytes of a record so that one record kind
// can never be decoded as another.
type Discriminator [DiscriminatorLength]byte

func discriminatorFor(name string) Discriminator {
	sum := sha256.Sum256([]byte("account:" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorLength])
	return d
}

var (
	PoolDiscriminator         = discriminatorFor("Pool")
	UserDiscriminator         = discriminatorFor("User")
	MintDiscriminator         = discriminatorFor("Mint")
	TokenAccountDiscriminator = discriminatorFor("TokenAccount")
)

const (
	PoolRecordSize   = DiscriminatorLength + solana.PublicKeyLength + 8 + 8 + 1 + 1
	UserRecordSize   = DiscriminatorLength + solana.PublicKeyLength + 8 + 8 + 8 + 1
	MintSize         = DiscriminatorLength + solana.PublicKeyLength + 8 + 1
	TokenAccountSize = DiscriminatorLength + solana.PublicKeyLength + solana.PublicKeyLength + 8
)

// PoolRecord is the singleton staking pool state.
type PoolRecord struct {
	Mint         solana.PublicKey `json:"mint"`
	TotalStaked  uint64           `json:"total_staked"`
	TotalRewards uint64           `json:"total_rewards"`
	Bump         uint8            `json:"bump"`
	VaultBump    uint8            `json:"vault_bump"`
}

func (p *PoolRecord) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(PoolDiscriminator[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(p.Mint[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint64(p.TotalStaked, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(p.TotalRewards, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteByte(p.Bump); err != nil {
		return err
	}
	return enc.WriteByte(p.VaultBump)
}

func (p *PoolRecord) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readDiscriminator(dec, PoolDiscriminator); err != nil {
		return err
	}
	if p.Mint, err = readPublicKey(dec); err != nil {
		return err
	}
	if p.TotalStaked, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if p.TotalRewards, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if p.Bump, err = dec.ReadByte(); err != nil {
		return err
	}
	p.VaultBump, err = dec.ReadByte()
	return err
}

// UserRecord is one depositor's stake. StakedAt is reset by every deposit;
// LastWithdrawAt is zero until the first withdraw.
type UserRecord struct {
	Owner          solana.PublicKey `json:"owner"`
	AmountStaked   uint64           `json:"amount_staked"`
	StakedAt       int64            `json:"staked_at"`
	LastWithdrawAt int64            `json:"last_withdraw_at"`
	Bump           uint8            `json:"bump"`
}

func (u *UserRecord) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(UserDiscriminator[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(u.Owner[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint64(u.AmountStaked, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(u.StakedAt, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(u.LastWithdrawAt, bin.LE); err != nil {
		return err
	}
	return enc.WriteByte(u.Bump)
}

func (u *UserRecord) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readDiscriminator(dec, UserDiscriminator); err != nil {
		return err
	}
	if u.Owner, err = readPublicKey(dec); err != nil {
		return err
	}
	if u.AmountStaked, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if u.StakedAt, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	if u.LastWithdrawAt, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	u.Bump, err = dec.ReadByte()
	return err
}

// Mint describes a fungible token type.
type Mint struct {
	Authority solana.PublicKey `json:"authority"`
	Supply    uint64           `json:"supply"`
	Decimals  uint8            `json:"decimals"`
}

func (m *Mint) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(MintDiscriminator[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(m.Authority[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint64(m.Supply, bin.LE); err != nil {
		return err
	}
	return enc.WriteByte(m.Decimals)
}

func (m *Mint) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readDiscriminator(dec, MintDiscriminator); err != nil {
		return err
	}
	if m.Authority, err = readPublicKey(dec); err != nil {
		return err
	}
	if m.Supply, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	m.Decimals, err = dec.ReadByte()
	return err
}

// TokenAccount holds a balance of one mint on behalf of Owner.
type TokenAccount struct {
	Mint   solana.PublicKey `json:"mint"`
	Owner  solana.PublicKey `json:"owner"`
	Amount uint64           `json:"amount"`
}

func (t *TokenAccount) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(TokenAccountDiscriminator[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.Mint[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.Owner[:], false); err != nil {
		return err
	}
	return enc.WriteUint64(t.Amount, bin.LE)
}

func (t *TokenAccount) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readDiscriminator(dec, TokenAccountDiscriminator); err != nil {
		return err
	}
	if t.Mint, err = readPublicKey(dec); err != nil {
		return err
	}
	if t.Owner, err = readPublicKey(dec); err != nil {
		return err
	}
	t.Amount, err = dec.ReadUint64(bin.LE)
	return err
}

// Record is implemented by every fixed-size record kind.
type Record interface {
	MarshalWithEncoder(enc *bin.Encoder) error
	UnmarshalWithDecoder(dec *bin.Decoder) error
}

// EncodeRecord serialises r and checks it against the fixed size.
func EncodeRecord(r Record, size int) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(size)
	if err := r.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, err
	}
	if buf.Len() != size {
		return nil, fmt.Errorf("%w: encoded %d bytes, want %d", ErrInvalidAccountData, buf.Len(), size)
	}
	return buf.Bytes(), nil
}

// DecodeRecord fills r from data, which must be exactly size bytes.
func DecodeRecord(data []byte, r Record, size int) error {
	if len(data) != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidAccountData, len(data), size)
	}
	if err := r.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return nil
}

func readDiscriminator(dec *bin.Decoder, want Discriminator) error {
	got, err := dec.ReadBytes(DiscriminatorLength)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want[:]) {
		return fmt.Errorf("%w: unexpected discriminator %x", ErrInvalidAccountData, got)
	}
	return nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}
