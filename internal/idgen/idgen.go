// Package idgen generates session ids and secrets over the relay's
// confusion-resistant alphabet, grounded on the teacher's
// internal/signaling/relayserver.generateShortCode.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet excludes 0/O and 1/I (but keeps L) per spec.md §3.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// IDLength is the length of a public session id.
	IDLength = 4
	// SecretLength is the length of a session secret.
	SecretLength = 16
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a random string of length n over Alphabet, drawing each
// character from a cryptographically secure source.
func Generate(n int) (string, error) {
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("idgen: read random byte: %w", err)
		}
		buf[i] = Alphabet[idx.Int64()]
	}
	return string(buf), nil
}

// NewSecret returns a new SecretLength-character secret. Collisions are not
// a correctness concern at this length (spec.md §4.1), so no retry.
func NewSecret() (string, error) {
	return Generate(SecretLength)
}

// NewID returns a new IDLength-character id, retrying on collision against
// exists until a fresh value is found.
func NewID(exists func(id string) bool) (string, error) {
	for {
		id, err := Generate(IDLength)
		if err != nil {
			return "", err
		}
		if !exists(id) {
			return id, nil
		}
	}
}
