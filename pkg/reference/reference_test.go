package reference

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLengthAndCharset(t *testing.T) {
	for i := 0; i < 100; i++ {
		ref, err := New()
		require.NoError(t, err)
		require.Len(t, ref, Length)
		for _, c := range ref {
			require.True(t, strings.ContainsRune(charset, c), "unexpected character %q in %q", c, ref)
		}
	}
}

func TestNewDoesNotRepeatQuickly(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ref, err := New()
		require.NoError(t, err)
		require.False(t, seen[ref], "duplicate reference %q after %d draws", ref, i)
		seen[ref] = true
	}
}
