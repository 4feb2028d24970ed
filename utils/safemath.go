package utils

import "github.com/holiman/uint256"

// CheckedAdd returns a+b and false if the sum does not fit in 64 bits.
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
	if !sum.IsUint64() {
		return 0, false
	}
	return sum.Uint64(), true
}

// CheckedSub returns a-b and false if b > a.
func CheckedSub(a, b uint64) (uint64, bool) {
	diff, underflow := new(uint256.Int).SubOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if underflow {
		return 0, false
	}
	return diff.Uint64(), true
}
