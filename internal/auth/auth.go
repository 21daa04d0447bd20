// Package auth turns the shared login/key pair into the static envelope key
// and IV, and generates client identifiers.
package auth

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/chronologos/terminus/internal/crypto"
)

// Default envelope key and IV used when neither login nor key is configured.
const (
	DefaultKey = "40bbca6b3421e7966ce00949ed8fccd58e5e36ce94d04fe8eeeb1f3706c4df30"
	DefaultIV  = "539c0972470ff80a630a68e29d404c75"
)

// IdentifierSize is the number of random bytes in a generated identifier.
const IdentifierSize = 8

// Credentials is the login/key pair shared by the relay and its clients.
type Credentials struct {
	Login string
	Key   string
}

// Empty reports whether no credentials were configured.
func (c Credentials) Empty() bool {
	return c.Login == "" && c.Key == ""
}

// EnvelopeKey returns the 32-character key string for the envelope cipher:
// MD5 hex of "login:key", or DefaultKey when no credentials are set.
func (c Credentials) EnvelopeKey() string {
	if c.Empty() {
		return DefaultKey
	}
	return crypto.MD5Hex(c.Login + ":" + c.Key)
}

// EnvelopeIV returns the IV string for the envelope cipher. The MD5 hex of
// "key:login" is 32 characters; the cipher truncates it to the IV size.
func (c Credentials) EnvelopeIV() string {
	if c.Empty() {
		return DefaultIV
	}
	return crypto.MD5Hex(c.Key + ":" + c.Login)
}

// GenerateIdentifier returns a random hex client identifier, used when a
// slave starts without one.
func GenerateIdentifier() (string, error) {
	b := make([]byte, IdentifierSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
