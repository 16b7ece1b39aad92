// ABOUTME: Tests for public key parsing, encoding and address derivation
// ABOUTME: Covers hex round trips, on-curve rejection and bump reproduction

package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublicKey_RoundTrip(t *testing.T) {
	pk := FromSeed("round-trip")

	parsed, err := ParsePublicKey(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, parsed)

	parsed, err = ParsePublicKey("0x" + strings.ToUpper(pk.String()))
	require.NoError(t, err)
	assert.Equal(t, pk, parsed)
}

func TestParsePublicKey_Invalid(t *testing.T) {
	tests := []string{"", "zz", "abcd", strings.Repeat("ab", 33)}
	for _, in := range tests {
		_, err := ParsePublicKey(in)
		assert.ErrorIs(t, err, ErrInvalidPublicKey, "input %q", in)
	}
}

func TestPublicKey_JSON(t *testing.T) {
	type wrapper struct {
		Key PublicKey `json:"key"`
	}
	in := wrapper{Key: FromSeed("json")}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), in.Key.String())

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestFromEd25519(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pk, err := FromEd25519(pub)
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), pk.Bytes())

	_, err = FromEd25519(pub[:10])
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestIsOnCurve_RealKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pk, err := FromEd25519(pub)
	require.NoError(t, err)
	assert.True(t, isOnCurve(pk), "a generated ed25519 public key must be on the curve")
}

func TestFindProgramAddress_Deterministic(t *testing.T) {
	programID := FromSeed("pulsar_payment")

	addr1, bump1, err := GatewayAddress(programID)
	require.NoError(t, err)
	addr2, bump2, err := GatewayAddress(programID)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
	assert.Equal(t, bump1, bump2)
	assert.False(t, isOnCurve(addr1))
	assert.True(t, VerifyGatewayAddress(programID, addr1, bump1))
}

func TestFindProgramAddress_DifferentPrograms(t *testing.T) {
	a, _, err := GatewayAddress(FromSeed("program-a"))
	require.NoError(t, err)
	b, _, err := GatewayAddress(FromSeed("program-b"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVerifyGatewayAddress_WrongBump(t *testing.T) {
	programID := FromSeed("pulsar_payment")
	addr, bump, err := GatewayAddress(programID)
	require.NoError(t, err)

	assert.False(t, VerifyGatewayAddress(programID, addr, bump-1))
	assert.False(t, VerifyGatewayAddress(FromSeed("other"), addr, bump))
}

func TestCreateProgramAddress_SeedLimits(t *testing.T) {
	programID := FromSeed("limits")

	_, err := CreateProgramAddress(programID, [][]byte{make([]byte, MaxSeedLen+1)}, 255)
	assert.ErrorIs(t, err, ErrInvalidSeeds)

	seeds := make([][]byte, MaxSeeds+1)
	_, _, err = FindProgramAddress(programID, seeds)
	assert.ErrorIs(t, err, ErrInvalidSeeds)
}
