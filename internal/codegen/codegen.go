// Package codegen creates the identifiers handed out for pending transactions.
package codegen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ShortCodeAlphabet omits I, O, 0 and 1 so codes survive being read aloud.
const ShortCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ShortCodeLength is the number of characters in a manual-entry code.
const ShortCodeLength = 6

const referencePrefix = "TXN"

// ReferenceNumber returns "TXN-YYYYMMDD-XXXXXXXXXXXX" where the suffix is taken
// from a random UUID.
func ReferenceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("%s-%s-%s", referencePrefix, now.UTC().Format("20060102"), suffix)
}

// ShortCode returns a random code drawn from ShortCodeAlphabet.
func ShortCode() (string, error) {
	size := big.NewInt(int64(len(ShortCodeAlphabet)))
	var b strings.Builder
	b.Grow(ShortCodeLength)
	for i := 0; i < ShortCodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("codegen: read random: %w", err)
		}
		b.WriteByte(ShortCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize canonicalises user input; codes are case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidShortCode reports whether code (after Normalize) could have been issued.
func ValidShortCode(code string) bool {
	if len(code) != ShortCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(ShortCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
