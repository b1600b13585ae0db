package room

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// Room codes are short, shareable, and unambiguous to type out loud.
const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultCodeLen  = 6
	MaxCodeLen      = 10
	codeGenAttempts = 5
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

// ValidCode reports whether s is a well-formed room code.
func ValidCode(s string) bool { return codePattern.MatchString(s) }

// newCode returns a random code of length n from the code alphabet.
func newCode(n int) (string, error) {
	if n < 1 || n > MaxCodeLen {
		return "", fmt.Errorf("room code length %d out of range", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
