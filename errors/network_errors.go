package errors

import (
	stderrors "errors"

	"github.com/mezonai/stakepool/jsonx"
	"github.com/mezonai/stakepool/ledger"
	"github.com/mezonai/stakepool/staking"
	"github.com/mezonai/stakepool/utils"
)

// NetworkErrorCode represents standardized error codes for network operations
type NetworkErrorCode string

const (
	// General errors
	ErrCodeInternal NetworkErrorCode = "internal_error"

	// Validation errors
	ErrCodeInvalidRequest     NetworkErrorCode = "invalid_request"
	ErrCodeInvalidTransaction NetworkErrorCode = "invalid_transaction"
	ErrCodeInvalidSignature   NetworkErrorCode = "invalid_signature"
	ErrCodeInvalidAddress     NetworkErrorCode = "invalid_address"
	ErrCodeInvalidAmount      NetworkErrorCode = "invalid_amount"
	ErrCodeExpired            NetworkErrorCode = "transaction_expired"

	// Business logic errors
	ErrCodeTransactionNotFound  NetworkErrorCode = "transaction_not_found"
	ErrCodeAccountNotFound      NetworkErrorCode = "account_not_found"
	ErrCodeDuplicateTransaction NetworkErrorCode = "duplicate_transaction"
	ErrCodeAlreadyInitialized   NetworkErrorCode = "already_initialized"
	ErrCodeNotInitialized       NetworkErrorCode = "not_initialized"
	ErrCodeInvalidTokenType     NetworkErrorCode = "invalid_token_type"
	ErrCodeInsufficientFunds    NetworkErrorCode = "insufficient_funds"
	ErrCodeNothingStaked        NetworkErrorCode = "nothing_staked"
	ErrCodeLockNotExpired       NetworkErrorCode = "lock_not_expired"
	ErrCodeOverflow             NetworkErrorCode = "overflow"
	ErrCodeUnauthorized         NetworkErrorCode = "unauthorized"

	// System errors
	ErrCodeInconsistency NetworkErrorCode = "inconsistency"
	ErrCodeRateLimited   NetworkErrorCode = "rate_limited"
)

// Error class values carried on the wire.
const (
	ClassCaller = "caller"
	ClassSystem = "system"
)

// NetworkError represents a standardized network error
type NetworkError struct {
	Code             NetworkErrorCode `json:"code"`
	Message          string           `json:"message"`
	Class            string           `json:"class"`
	Retryable        bool             `json:"retryable"`
	RemainingSeconds int64            `json:"remaining_seconds,omitempty"`
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	err, _ := jsonx.Marshal(e)
	return string(err)
}

// Error message constants - user-friendly and concise
const (
	ErrMsgInvalidRequest       = "Request format is invalid"
	ErrMsgInvalidTransaction   = "Transaction data is invalid"
	ErrMsgInvalidSignature     = "Transaction signature is invalid"
	ErrMsgInvalidAddress       = "Wallet address is invalid"
	ErrMsgInvalidAmount        = "Amount is invalid or zero"
	ErrMsgExpired              = "Transaction timestamp is outside the accepted window, sign it again"
	ErrMsgTransactionNotFound  = "Transaction could not be found"
	ErrMsgAccountNotFound      = "Account does not exist"
	ErrMsgDuplicateTransaction = "This transaction already exists"
	ErrMsgAlreadyInitialized   = "Staking pool is already initialized"
	ErrMsgNotInitialized       = "Staking pool is not initialized yet"
	ErrMsgInvalidTokenType     = "Token type is not accepted by the pool"
	ErrMsgInsufficientFunds    = "Not enough balance in your wallet"
	ErrMsgNothingStaked        = "Nothing is staked"
	ErrMsgLockNotExpired       = "Stake is still locked"
	ErrMsgOverflow             = "Amount must be positive and within range"
	ErrMsgUnauthorized         = "Signer may not perform this action"
	ErrMsgInconsistency        = "Pool state is inconsistent, contact the operator"
	ErrMsgInternal             = "Server error, please try again"
	ErrMsgRateLimited          = "Too many requests, please slow down"
)

// NewError creates a caller-class NetworkError.
func NewError(code NetworkErrorCode, message string) error {
	return &NetworkError{Code: code, Message: message, Class: ClassCaller, Retryable: true}
}

// NewSystemError creates a system-class NetworkError.
func NewSystemError(code NetworkErrorCode, message string) error {
	return &NetworkError{Code: code, Message: message, Class: ClassSystem}
}

var callerMappings = []struct {
	target  error
	code    NetworkErrorCode
	message string
}{
	{ledger.ErrInvalidSignature, ErrCodeInvalidSignature, ErrMsgInvalidSignature},
	{ledger.ErrMalformedTx, ErrCodeInvalidTransaction, ErrMsgInvalidTransaction},
	{ledger.ErrTxExpired, ErrCodeExpired, ErrMsgExpired},
	{ledger.ErrTxFromFuture, ErrCodeExpired, ErrMsgExpired},
	{ledger.ErrDuplicateTx, ErrCodeDuplicateTransaction, ErrMsgDuplicateTransaction},
	{staking.ErrAlreadyInitialized, ErrCodeAlreadyInitialized, ErrMsgAlreadyInitialized},
	{staking.ErrNotInitialized, ErrCodeNotInitialized, ErrMsgNotInitialized},
	{staking.ErrInvalidTokenType, ErrCodeInvalidTokenType, ErrMsgInvalidTokenType},
	{staking.ErrInsufficientFunds, ErrCodeInsufficientFunds, ErrMsgInsufficientFunds},
	{staking.ErrNothingStaked, ErrCodeNothingStaked, ErrMsgNothingStaked},
	{staking.ErrLockNotExpired, ErrCodeLockNotExpired, ErrMsgLockNotExpired},
	{staking.ErrOverflow, ErrCodeOverflow, ErrMsgOverflow},
	{staking.ErrUnauthorized, ErrCodeUnauthorized, ErrMsgUnauthorized},
	{staking.ErrUserNotFound, ErrCodeAccountNotFound, ErrMsgAccountNotFound},
	{staking.ErrUnknownInstruction, ErrCodeInvalidTransaction, ErrMsgInvalidTransaction},
	{utils.ErrInvalidAmount, ErrCodeInvalidAmount, ErrMsgInvalidAmount},
	{utils.ErrAmountTooLarge, ErrCodeInvalidAmount, ErrMsgInvalidAmount},
}

// FromError maps a ledger or staking failure to its wire form. Anything
// unrecognised becomes an internal system error.
func FromError(err error) *NetworkError {
	if err == nil {
		return nil
	}
	var ne *NetworkError
	if stderrors.As(err, &ne) {
		return ne
	}
	if stderrors.Is(err, staking.ErrInconsistency) {
		return &NetworkError{Code: ErrCodeInconsistency, Message: ErrMsgInconsistency, Class: ClassSystem}
	}
	for _, m := range callerMappings {
		if !stderrors.Is(err, m.target) {
			continue
		}
		out := &NetworkError{Code: m.code, Message: m.message, Class: ClassCaller, Retryable: true}
		var lockErr *staking.LockNotExpiredError
		if stderrors.As(err, &lockErr) {
			out.RemainingSeconds = int64(lockErr.Remaining.Seconds())
		}
		return out
	}
	return &NetworkError{Code: ErrCodeInternal, Message: ErrMsgInternal, Class: ClassSystem}
}
