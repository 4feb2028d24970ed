package staking

import (
	"errors"
	"fmt"
	"time"

	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/token"
)

var (
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrNotInitialized     = errors.New("pool not initialized")
	ErrInvalidTokenType   = errors.New("invalid token type")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNothingStaked      = errors.New("nothing staked")
	ErrLockNotExpired     = errors.New("lock not expired")
	ErrOverflow           = errors.New("arithmetic overflow")
	ErrInconsistency      = errors.New("pool state inconsistency")
	ErrUnauthorized       = errors.New("unauthorized signer")
	ErrUserNotFound       = errors.New("user record not found")
	ErrUnknownInstruction = errors.New("unknown instruction")
)

// LockNotExpiredError is returned by withdraw while the lock window is open.
// It matches ErrLockNotExpired.
type LockNotExpiredError struct {
	Remaining time.Duration
	UnlockAt  int64
}

func (e *LockNotExpiredError) Error() string {
	return fmt.Sprintf("%s: %s remaining (unlocks at %d)", ErrLockNotExpired, e.Remaining, e.UnlockAt)
}

func (e *LockNotExpiredError) Is(target error) bool {
	return target == ErrLockNotExpired
}

// ErrorClass tells a caller whether a failure is theirs to fix.
type ErrorClass int

const (
	// CallerError failures leave state untouched and may succeed once the
	// caller satisfies the condition (funds, lock window, initialization).
	CallerError ErrorClass = iota + 1
	// SystemError failures indicate a broken invariant or an unavailable
	// runtime. They are surfaced verbatim and never retried.
	SystemError
)

func (c ErrorClass) String() string {
	switch c {
	case CallerError:
		return "caller"
	case SystemError:
		return "system"
	default:
		return "unknown"
	}
}

func (c ErrorClass) Retryable() bool {
	return c == CallerError
}

var callerErrors = []error{
	ErrAlreadyInitialized,
	ErrNotInitialized,
	ErrInvalidTokenType,
	ErrInsufficientFunds,
	ErrNothingStaked,
	ErrLockNotExpired,
	ErrOverflow,
	ErrUnauthorized,
	ErrUserNotFound,
	ErrUnknownInstruction,
}

// Classify sorts err into CallerError or SystemError. Anything not known
// to be a caller mistake is a system error.
func Classify(err error) ErrorClass {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrInconsistency) {
		return SystemError
	}
	for _, target := range callerErrors {
		if errors.Is(err, target) {
			return CallerError
		}
	}
	return SystemError
}

// mapTokenError translates a token ledger failure into the staking taxonomy.
// vaultDebit marks transfers out of the vault, where a shortfall means the
// vault no longer covers recorded stake.
func mapTokenError(err error, vaultDebit bool) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrInsufficientFunds), errors.Is(err, token.ErrAccountNotFound):
		if vaultDebit {
			return fmt.Errorf("%w: vault cannot cover stake: %v", ErrInconsistency, err)
		}
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case errors.Is(err, token.ErrMintMismatch), errors.Is(err, token.ErrMintNotFound), errors.Is(err, token.ErrNotTokenAccount):
		return fmt.Errorf("%w: %v", ErrInvalidTokenType, err)
	case errors.Is(err, token.ErrZeroAmount), errors.Is(err, token.ErrOverflow):
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	case errors.Is(err, token.ErrOwnerMismatch), errors.Is(err, derive.ErrInvalidAuthority), errors.Is(err, derive.ErrNoAuthority):
		if vaultDebit {
			return fmt.Errorf("%w: pool authority rejected: %v", ErrInconsistency, err)
		}
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	default:
		return err
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInconsistency, "inconsistency"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrNotInitialized, "not_initialized"},
	{ErrInvalidTokenType, "invalid_token_type"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrNothingStaked, "nothing_staked"},
	{ErrLockNotExpired, "lock_not_expired"},
	{ErrOverflow, "overflow"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUserNotFound, "user_not_found"},
	{ErrUnknownInstruction, "unknown_instruction"},
}

// Code is the stable snake_case name of err, recorded in transaction
// metadata and returned on the wire.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}
