// Package shared holds small helpers with no natural home in a single layer
// of the protocol stack.
package shared

import (
	"crypto/rand"
	"math/big"
)

const randStringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns a random alphanumeric string of length n, used to
// generate default link names.
func RandString(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(randStringAlphabet))))
		if err != nil {
			panic(err)
		}
		b[i] = randStringAlphabet[idx.Int64()]
	}
	return string(b)
}
