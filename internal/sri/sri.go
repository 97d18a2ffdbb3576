// Package sri generates the client-side socket request id that ties a
// connection to one client instance.
package sri

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Length   = 12
)

// RandomString draws n characters uniformly from alphabet.
func RandomString(alphabet string, n int) (string, error) {
	if alphabet == "" {
		return "", errors.New("empty alphabet")
	}
	if n < 0 {
		return "", errors.New("negative length")
	}
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// Generate returns a fresh 12-character alphanumeric id.
func Generate() (string, error) { return RandomString(Alphabet, Length) }
