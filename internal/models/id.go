package models

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed, lexically sortable identifier, e.g. "sub_01H...".
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, ulid.Make())
}

const keyCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomKey(prefix string, length int) string {
	b := make([]byte, length)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(keyCharset))))
		b[i] = keyCharset[n.Int64()]
	}
	return fmt.Sprintf("%s_%s", prefix, string(b))
}

// NewAPIKey returns a fresh organization API key.
func NewAPIKey() string {
	return randomKey("hk", 32)
}

// NewSecret returns a fresh webhook signing secret.
func NewSecret() string {
	return randomKey("whsec", 40)
}
