package grant

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// UserCodeAlphabet excludes vowels and characters that are easily confused
// (0/O, 1/I/L).
const UserCodeAlphabet = "BCDFGHJKMNPQRSTVWXZ23456789"

// UserCodeLength is the number of significant characters in a user code.
const UserCodeLength = 8

// GenerateUserCode returns a random normalized user code.
func GenerateUserCode() (string, error) {
	max := big.NewInt(int64(len(UserCodeAlphabet)))
	var b strings.Builder
	b.Grow(UserCodeLength)
	for i := 0; i < UserCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		b.WriteByte(UserCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateDeviceCode returns an unguessable device code (256 bits).
func GenerateDeviceCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NormalizeUserCode upper-cases input and strips dashes and whitespace, so
// that "wdjb-mjht" and "WDJB MJHT" both become "WDJBMJHT".
func NormalizeUserCode(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ToUpper(input) {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatUserCode renders a normalized code as XXXX-XXXX.
func FormatUserCode(code string) string {
	if len(code) != UserCodeLength {
		return code
	}
	return code[:UserCodeLength/2] + "-" + code[UserCodeLength/2:]
}

// ValidUserCode reports whether a normalized code has the expected shape.
func ValidUserCode(code string) bool {
	if len(code) != UserCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(UserCodeAlphabet, r) {
			return false
		}
	}
	return true
}
