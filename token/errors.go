package token

import "errors"

var (
	ErrAccountNotFound   = errors.New("token account not found")
	ErrMintNotFound      = errors.New("mint not found")
	ErrNotTokenAccount   = errors.New("account is not owned by the token program")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMintMismatch      = errors.New("token account mint mismatch")
	ErrOwnerMismatch     = errors.New("authority is not the account owner")
	ErrZeroAmount        = errors.New("amount must be greater than zero")
	ErrOverflow          = errors.New("balance overflow")
)
