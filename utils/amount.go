package utils

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountTooLarge = errors.New("amount exceeds u64")
)

// ParseAmount parses a decimal base-unit amount. Values are accepted up to
// 256 bits so that an oversized request is reported as too large rather than
// as malformed. Underscores may group digits.
func ParseAmount(s string) (uint64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountTooLarge, s)
	}
	return v.Uint64(), nil
}

// FormatAmount renders a base-unit amount as a decimal string.
func FormatAmount(amount uint64) string {
	return uint256.NewInt(amount).Dec()
}

// FormatUIAmount renders amount scaled down by decimals without float
// rounding, e.g. 1000000000 with 6 decimals is "1000".
func FormatUIAmount(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return FormatAmount(amount)
	}
	r := new(big.Rat).SetFrac(new(big.Int).SetUint64(amount), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out := r.FloatString(int(decimals))
	out = strings.TrimRight(out, "0")
	return strings.TrimSuffix(out, ".")
}
