package codegen

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShortCodeUsesUnambiguousAlphabet(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		code, err := ShortCode()
		require.NoError(t, err)
		require.Len(t, code, ShortCodeLength)
		require.True(t, ValidShortCode(code), code)
		require.NotContains(t, code, "O")
		require.NotContains(t, code, "0")
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 490)
}

func TestReferenceNumberFormat(t *testing.T) {
	now := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	ref := ReferenceNumber(now)
	require.Regexp(t, regexp.MustCompile(`^TXN-20260309-[0-9A-F]{12}$`), ref)
	require.NotEqual(t, ref, ReferenceNumber(now))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "AB2CD3", Normalize("  ab2cd3 "))
	require.True(t, ValidShortCode(Normalize("ab2cd3")))
	require.False(t, ValidShortCode("AB2CD"))
	require.False(t, ValidShortCode("AB2CD0"))
}
