package common

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// EncodeBytesToBase58 encodes bytes directly to base58
func EncodeBytesToBase58(bytes []byte) string {
	return base58.Encode(bytes)
}

// DecodeBase58ToBytes decodes base58 string to bytes
func DecodeBase58ToBytes(base58Str string) ([]byte, error) {
	bytes, err := base58.Decode(base58Str)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base58 string: %w", err)
	}
	return bytes, nil
}

// DecodeBase58Fixed decodes s and checks that it is exactly size bytes long.
func DecodeBase58Fixed(s string, size int) ([]byte, error) {
	bytes, err := DecodeBase58ToBytes(s)
	if err != nil {
		return nil, err
	}
	if len(bytes) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(bytes))
	}
	return bytes, nil
}

// HashToBase58 returns the base58 form of sha256(parts...).
func HashToBase58(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return base58.Encode(h.Sum(nil))
}

// IsValidBase58 checks if a string is valid base58
func IsValidBase58(str string) bool {
	decoded, err := base58.Decode(str)
	return err == nil && len(decoded) > 0
}
