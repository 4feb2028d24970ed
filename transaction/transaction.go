package transaction

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/common"
)

// Instruction names the staking operation a transaction requests.
type Instruction uint8

const (
	InstructionInitialize Instruction = 1
	InstructionDeposit    Instruction = 2
	InstructionWithdraw   Instruction = 3
)

// messageDomain prefixes every signed message so a signature over a
// staking request cannot be replayed as any other kind of payload.
const messageDomain = "stakepool/tx/v1"

var (
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrMissingSignature   = errors.New("missing signature")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrMissingActor       = errors.New("missing actor")
	ErrSignerMismatch     = errors.New("signing key does not match actor")
)

func (i Instruction) String() string {
	switch i {
	case InstructionInitialize:
		return "initialize"
	case InstructionDeposit:
		return "deposit"
	case InstructionWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("instruction(%d)", uint8(i))
	}
}

func ParseInstruction(s string) (Instruction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initialize":
		return InstructionInitialize, nil
	case "deposit":
		return InstructionDeposit, nil
	case "withdraw":
		return InstructionWithdraw, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownInstruction, s)
	}
}

// Transaction is a signed request from Actor. Mint is only read by
// initialize, Amount by initialize (reward) and deposit. Nonce lets a client
// submit two otherwise identical requests within one millisecond.
type Transaction struct {
	Instruction Instruction
	Actor       solana.PublicKey
	Mint        solana.PublicKey
	Amount      uint64
	Timestamp   uint64 // unix milliseconds
	Nonce       uint64
	Signature   solana.Signature
}

// Serialize returns the canonical message that is signed.
func (tx *Transaction) Serialize() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteBytes([]byte(messageDomain), false)
	_ = enc.WriteByte(byte(tx.Instruction))
	_ = enc.WriteBytes(tx.Actor[:], false)
	_ = enc.WriteBytes(tx.Mint[:], false)
	_ = enc.WriteUint64(tx.Amount, bin.LE)
	_ = enc.WriteUint64(tx.Timestamp, bin.LE)
	_ = enc.WriteUint64(tx.Nonce, bin.LE)
	return buf.Bytes()
}

func (tx *Transaction) Validate() error {
	switch tx.Instruction {
	case InstructionInitialize, InstructionDeposit, InstructionWithdraw:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownInstruction, tx.Instruction)
	}
	if tx.Actor.IsZero() {
		return ErrMissingActor
	}
	return nil
}

// Sign signs the transaction with key, which must belong to Actor.
func (tx *Transaction) Sign(key solana.PrivateKey) error {
	if !key.PublicKey().Equals(tx.Actor) {
		return ErrSignerMismatch
	}
	sig, err := key.Sign(tx.Serialize())
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	tx.Signature = sig
	return nil
}

// Verify checks the ed25519 signature of Actor over the canonical message.
func (tx *Transaction) Verify() error {
	if tx.Signature.IsZero() {
		return ErrMissingSignature
	}
	if !tx.Signature.Verify(tx.Actor, tx.Serialize()) {
		return ErrInvalidSignature
	}
	return nil
}

// Hash identifies a signed transaction. The signature is included, so a
// re-signed request with a fresh timestamp gets a new hash.
func (tx *Transaction) Hash() string {
	return common.HashToBase58(tx.Serialize(), tx.Signature[:])
}
