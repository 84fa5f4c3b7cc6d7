// Package roomcode generates and normalizes human-shareable join codes.
package roomcode

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Alphabet excludes I, O, 0 and 1, which are easy to misread.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the number of characters in a code.
const Length = 6

// Generate returns a random code drawn from Alphabet.
func Generate() string {
	var b strings.Builder
	b.Grow(Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String()
}

// IsValid reports whether code has the right length and only uses Alphabet.
func IsValid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// Format splits a code for display, e.g. "ABC123" -> "ABC-123".
func Format(code string) string {
	if len(code) != Length {
		return code
	}
	return code[:Length/2] + "-" + code[Length/2:]
}

// Normalize cleans user input: non-alphanumerics are stripped and letters upper-cased.
func Normalize(input string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
