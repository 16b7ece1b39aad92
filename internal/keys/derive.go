// ABOUTME: Deterministic address derivation from a program ID and seeds
// ABOUTME: Finds an off-curve address and the bump byte needed to reproduce it

package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeeds is the maximum number of seeds accepted by a derivation.
	MaxSeeds = 16

	// MaxSeedLen is the maximum length of a single seed in bytes.
	MaxSeedLen = 32

	derivationMarker = "ProgramDerivedAddress"
)

// GatewaySeed is the domain tag for the single gateway record.
var GatewaySeed = []byte("gateway")

var (
	// ErrOnCurve is returned when a candidate address is a valid curve point
	// and could therefore have a private key.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")

	// ErrNoViableBump is returned when no bump produces an off-curve address.
	ErrNoViableBump = errors.New("no viable bump seed")

	// ErrInvalidSeeds is returned when seeds exceed the allowed count or length.
	ErrInvalidSeeds = errors.New("invalid seeds")
)

// CreateProgramAddress hashes seeds, the bump byte and the program ID into an
// address. It fails with ErrOnCurve if the result decodes to a curve point.
func CreateProgramAddress(programID PublicKey, seeds [][]byte, bump uint8) (PublicKey, error) {
	if err := checkSeeds(seeds); err != nil {
		return PublicKey{}, err
	}

	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(programID[:])
	h.Write([]byte(derivationMarker))

	var addr PublicKey
	copy(addr[:], h.Sum(nil))

	if isOnCurve(addr) {
		return PublicKey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address together with the bump that produced it.
func FindProgramAddress(programID PublicKey, seeds [][]byte) (PublicKey, uint8, error) {
	if err := checkSeeds(seeds); err != nil {
		return PublicKey{}, 0, err
	}
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(programID, seeds, uint8(bump))
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return PublicKey{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return PublicKey{}, 0, ErrNoViableBump
}

// GatewayAddress derives the address of the gateway record for a program.
func GatewayAddress(programID PublicKey) (PublicKey, uint8, error) {
	return FindProgramAddress(programID, [][]byte{GatewaySeed})
}

// VerifyGatewayAddress reports whether bump reproduces addr for the program.
func VerifyGatewayAddress(programID, addr PublicKey, bump uint8) bool {
	derived, err := CreateProgramAddress(programID, [][]byte{GatewaySeed}, bump)
	if err != nil {
		return false
	}
	return derived == addr
}

func checkSeeds(seeds [][]byte) error {
	if len(seeds) > MaxSeeds {
		return fmt.Errorf("%w: %d seeds exceeds maximum of %d", ErrInvalidSeeds, len(seeds), MaxSeeds)
	}
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return fmt.Errorf("%w: seed %d is %d bytes, maximum is %d", ErrInvalidSeeds, i, len(s), MaxSeedLen)
		}
	}
	return nil
}

func isOnCurve(k PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(k[:])
	return err == nil
}
