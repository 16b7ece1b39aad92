// ABOUTME: Shared fixtures for gateway HTTP tests
// ABOUTME: Builds gateways over the mock store and signs request envelopes with ed25519 SSH keys

package gateway

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/2389/pulsar-gateway/internal/auth"
	"github.com/2389/pulsar-gateway/internal/config"
	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

var testMint = keys.FromSeed("usdc")

// identity is a key pair that can sign request envelopes.
type identity struct {
	key    keys.PublicKey
	signer ssh.Signer
}

func newIdentity(t *testing.T) identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	key, err := keys.FromEd25519(pub)
	require.NoError(t, err)
	return identity{key: key, signer: signer}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"},
		Program:  config.ProgramConfig{Mint: testMint, AdminAPI: true},
	}
}

func newTestStore() *store.MockStore {
	return store.NewMockStore()
}

// newTestGateway builds a gateway over a fresh mock store.
func newTestGateway(t *testing.T) (*Gateway, *store.MockStore) {
	t.Helper()
	return newConfiguredGateway(t, testConfig())
}

func newConfiguredGateway(t *testing.T, cfg *config.Config) (*Gateway, *store.MockStore) {
	t.Helper()
	s := newTestStore()
	gw, err := newGateway(cfg, s, nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.verifier.Close()
		gw.clientLimiter.Close()
		gw.identityLimiter.Close()
	})
	return gw, s
}

// signedBody marshals payload into an envelope signed by each identity.
func signedBody(t *testing.T, payload any, signers ...identity) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := SignedRequest{Payload: raw, Signatures: []auth.Signature{}}
	for _, id := range signers {
		sig, err := auth.Sign(id.signer, raw)
		require.NoError(t, err)
		req.Signatures = append(req.Signatures, sig)
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return body
}

func jsonBody(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func ptr[T any](v T) *T { return &v }

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
