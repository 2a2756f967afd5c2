// Package token generates the unguessable identifiers that address live
// channels. Possession of a token grants full control of its channel, so
// tokens must be collision-resistant and unpredictable.
package token

import (
	"crypto/rand"
	"fmt"
	"io"
)

func init() {
	assertAvailablePRNG()
}

func assertAvailablePRNG() {
	// Assert that a cryptographically secure PRNG is available.
	// Panic otherwise.
	buf := make([]byte, 1)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(fmt.Sprintf("crypto/rand is unavailable: Read() failed with %#v", err))
	}
}

// crockford base32: no i, l, o or u, unambiguous when read back by a human
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// entropyBytes is 128 bits of randomness per token
const entropyBytes = 16

// Length is the number of characters in a generated token.
const Length = (entropyBytes*8 + 4) / 5

// New returns a securely generated channel token. It will return an error if
// the system's secure random number generator fails to function correctly, in
// which case the caller should not continue.
func New() (string, error) {
	b := make([]byte, entropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: reading random bytes: %w", err)
	}
	return encode(b), nil
}

// encode converts raw bytes to the crockford base32 alphabet
func encode(b []byte) string {
	out := make([]byte, 0, Length)
	acc, bits := 0, 0
	for _, c := range b {
		acc = (acc << 8) | int(c)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out = append(out, alphabet[(acc>>bits)&31])
		}
	}
	if bits > 0 {
		out = append(out, alphabet[(acc<<(5-bits))&31])
	}
	return string(out)
}
