package sui

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput marks caller mistakes such as malformed hashes or addresses.
var ErrInvalidInput = errors.New("invalid input")

// NormalizeAddress lowercases a and ensures the 0x prefix. Empty input stays empty.
func NormalizeAddress(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	if a == "" {
		return ""
	}
	if strings.HasPrefix(a, "0x") {
		return a
	}
	return "0x" + a
}

func NormalizeAddresses(addresses []string) []string {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, NormalizeAddress(a))
	}
	return out
}

// NormalizeFileHash validates a SHA-256 digest given as hex, with or without 0x,
// and returns it lowercased with the 0x prefix.
func NormalizeFileHash(h string) (string, error) {
	hx := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "0x")
	if len(hx) != 64 {
		return "", fmt.Errorf("%w: file_hash_hex must be 32 bytes (64 hex chars)", ErrInvalidInput)
	}
	if _, err := hex.DecodeString(hx); err != nil {
		return "", fmt.Errorf("%w: file_hash_hex is not valid hex", ErrInvalidInput)
	}
	return "0x" + hx, nil
}

// ShortAddress renders 0xabcd...wxyz for display.
func ShortAddress(a string) string {
	s := strings.ToLower(a)
	if len(s) < 10 {
		return s
	}
	return "0x" + s[2:6] + "..." + s[len(s)-4:]
}
