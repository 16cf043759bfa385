package crypto

import (
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the length of the derived pre-shared key.
	KeySize = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 2
	saltPrefix   = "wyrmhole-nameplate:"
)

// DeriveKey stretches a rendezvous code into a pre-shared key. Both peers
// derive the same key from the same code; the nameplate salts the hash.
func DeriveKey(code Code) []byte {
	salt := []byte(saltPrefix + code.Nameplate)
	return argon2.IDKey([]byte(code.String()), salt, argonTime, argonMemory, argonThreads, KeySize)
}
