package reference

import (
	"crypto/rand"
	"math/big"
)

// Length of a claim reference. References are human-facing so the charset
// drops ambiguous characters (I, O, 0, 1).
const Length = 8

const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// MaxAttempts bounds how many times a caller should regenerate on a
// uniqueness collision before giving up.
const MaxAttempts = 10

// New returns a fresh random claim reference. Uniqueness is the caller's
// responsibility; the claims table carries the unique index that backstops it.
func New() (string, error) {
	b := make([]byte, Length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}
