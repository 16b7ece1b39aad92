// ABOUTME: Public key type shared by identities, token accounts and derived addresses
// ABOUTME: Keys are 32-byte ed25519 points rendered as lowercase hex

package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// PublicKeySize is the length of a public key in bytes.
const PublicKeySize = 32

// ErrInvalidPublicKey is returned when a key string cannot be decoded.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey identifies a signer, a token account, or a derived address.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a hex encoded key. A leading "0x" is tolerated.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParsePublicKey is ParsePublicKey for constants and tests.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// FromEd25519 converts an ed25519 public key.
func FromEd25519(pub ed25519.PublicKey) (PublicKey, error) {
	var pk PublicKey
	if len(pub) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("%w: ed25519 key has %d bytes", ErrInvalidPublicKey, len(pub))
	}
	copy(pk[:], pub)
	return pk, nil
}

// FromSeed hashes an arbitrary label into a key. Used for program IDs and
// other well-known namespaces that have no private key.
func FromSeed(label string) PublicKey {
	return PublicKey(sha256.Sum256([]byte(label)))
}

// String returns the lowercase hex encoding.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is all zero bytes.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Bytes returns a copy of the key bytes.
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	pk, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = pk
	return nil
}
