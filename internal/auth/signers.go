// ABOUTME: Set of identities that co-signed a request
// ABOUTME: Built from verified request signatures so operations can check who authorized them

package auth

import (
	"sort"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// Signers reports whether an identity co-signed the current request.
type Signers interface {
	IsSigner(key keys.PublicKey) bool
}

// SignerSet is a Signers backed by a set of keys.
type SignerSet map[keys.PublicKey]struct{}

// NewSignerSet returns a set containing the given keys. In-process callers
// that hold their own keys use it directly.
func NewSignerSet(signers ...keys.PublicKey) SignerSet {
	s := make(SignerSet, len(signers))
	for _, k := range signers {
		s[k] = struct{}{}
	}
	return s
}

// IsSigner implements Signers.
func (s SignerSet) IsSigner(key keys.PublicKey) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the signers in a stable order.
func (s SignerSet) Keys() []keys.PublicKey {
	out := make([]keys.PublicKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
