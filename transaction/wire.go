package transaction

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/utils"
)

// SignedTx is the JSON form used on the RPC surface. Keys and signature are
// base58, amount is a decimal string so that u64 values survive JSON.
type SignedTx struct {
	Instruction string `json:"instruction"`
	Actor       string `json:"actor"`
	Mint        string `json:"mint,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Timestamp   uint64 `json:"timestamp"`
	Nonce       uint64 `json:"nonce"`
	Signature   string `json:"signature"`
}

func (tx *Transaction) ToSigned() SignedTx {
	out := SignedTx{
		Instruction: tx.Instruction.String(),
		Actor:       tx.Actor.String(),
		Amount:      utils.FormatAmount(tx.Amount),
		Timestamp:   tx.Timestamp,
		Nonce:       tx.Nonce,
		Signature:   tx.Signature.String(),
	}
	if !tx.Mint.IsZero() {
		out.Mint = tx.Mint.String()
	}
	return out
}

// ToTransaction parses the wire form. It does not verify the signature.
func (s SignedTx) ToTransaction() (*Transaction, error) {
	ins, err := ParseInstruction(s.Instruction)
	if err != nil {
		return nil, err
	}
	actor, err := solana.PublicKeyFromBase58(s.Actor)
	if err != nil {
		return nil, fmt.Errorf("invalid actor: %w", err)
	}
	tx := &Transaction{
		Instruction: ins,
		Actor:       actor,
		Timestamp:   s.Timestamp,
		Nonce:       s.Nonce,
	}
	if s.Mint != "" {
		if tx.Mint, err = solana.PublicKeyFromBase58(s.Mint); err != nil {
			return nil, fmt.Errorf("invalid mint: %w", err)
		}
	}
	if s.Amount != "" {
		if tx.Amount, err = utils.ParseAmount(s.Amount); err != nil {
			return nil, err
		}
	}
	if s.Signature != "" {
		if tx.Signature, err = solana.SignatureFromBase58(s.Signature); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}
	return tx, tx.Validate()
}
