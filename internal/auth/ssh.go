// ABOUTME: Ed25519 SSH signatures over request payloads
// ABOUTME: Verifies timestamp|nonce|sha256(payload) signatures and rejects replays

package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/2389/pulsar-gateway/internal/dedupe"
	"github.com/2389/pulsar-gateway/internal/keys"
)

const (
	// DefaultMaxAge is the maximum age of a signature timestamp.
	DefaultMaxAge = 5 * time.Minute

	// MaxClockSkew is how far in the future a timestamp may be.
	MaxClockSkew = time.Minute

	// DefaultReplayCacheSize is the number of signatures remembered for replay
	// checks when none is configured.
	DefaultReplayCacheSize = 100000
)

var (
	ErrUnsupportedKey   = errors.New("only ssh-ed25519 keys are supported")
	ErrSignatureExpired = errors.New("signature expired")
	ErrFutureTimestamp  = errors.New("signature timestamp is in the future")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrReplay           = errors.New("signature already used")
	ErrBusy             = errors.New("too many recent signatures, retry later")
)

// Signature is one identity's signature over a request payload.
type Signature struct {
	PublicKey string `json:"public_key"` // authorized_keys format, e.g. "ssh-ed25519 AAAA..."
	Signature string `json:"signature"`  // base64 of the wire-format ssh.Signature
	Timestamp int64  `json:"timestamp"`  // Unix seconds
	Nonce     string `json:"nonce"`
}

// SignedMessage builds the bytes a signature covers.
func SignedMessage(timestamp int64, nonce string, payload []byte) []byte {
	digest := sha256.Sum256(payload)
	return []byte(fmt.Sprintf("%d|%s|%s", timestamp, nonce, hex.EncodeToString(digest[:])))
}

// Sign signs payload with signer using the current time and a random nonce.
func Sign(signer ssh.Signer, payload []byte) (Signature, error) {
	if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
		return Signature{}, ErrUnsupportedKey
	}

	ts := time.Now().Unix()
	nonce := uuid.NewString()
	sig, err := signer.Sign(rand.Reader, SignedMessage(ts, nonce, payload))
	if err != nil {
		return Signature{}, fmt.Errorf("signing payload: %w", err)
	}

	return Signature{
		PublicKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))),
		Signature: base64.StdEncoding.EncodeToString(ssh.Marshal(sig)),
		Timestamp: ts,
		Nonce:     nonce,
	}, nil
}

// Verifier checks request signatures.
type Verifier struct {
	maxAge     time.Duration
	nonceCache *dedupe.Cache
	now        func() time.Time
}

// NewVerifier creates a verifier accepting signatures up to maxAge old and
// remembering at most cacheSize of them. Zero values use DefaultMaxAge and
// DefaultReplayCacheSize. Once cacheSize signatures are inside the window,
// new ones fail with ErrBusy until older ones expire.
func NewVerifier(maxAge time.Duration, cacheSize int) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if cacheSize <= 0 {
		cacheSize = DefaultReplayCacheSize
	}
	return &Verifier{
		maxAge:     maxAge,
		nonceCache: dedupe.New(maxAge+MaxClockSkew, cacheSize),
		now:        time.Now,
	}
}

// Close releases resources used by the verifier.
func (v *Verifier) Close() {
	if v.nonceCache != nil {
		v.nonceCache.Close()
	}
}

// Verify checks every signature over payload and returns the set of keys
// that signed it. Any invalid signature fails the whole request. An empty
// sigs slice yields an empty set.
func (v *Verifier) Verify(payload []byte, sigs []Signature) (SignerSet, error) {
	set := make(SignerSet, len(sigs))
	for i := range sigs {
		key, err := v.verifyOne(payload, &sigs[i])
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		set[key] = struct{}{}
	}
	return set, nil
}

func (v *Verifier) verifyOne(payload []byte, s *Signature) (keys.PublicKey, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s.PublicKey))
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("invalid public key: %w", err)
	}
	key, err := PublicKeyFromSSH(pubkey)
	if err != nil {
		return keys.PublicKey{}, err
	}

	age := v.now().Sub(time.Unix(s.Timestamp, 0))
	if age < -MaxClockSkew {
		return keys.PublicKey{}, ErrFutureTimestamp
	}
	if age > v.maxAge {
		return keys.PublicKey{}, fmt.Errorf("%w (age: %v, max: %v)", ErrSignatureExpired, age, v.maxAge)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(s.Signature)
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return keys.PublicKey{}, fmt.Errorf("invalid signature format: %w", err)
	}
	if err := pubkey.Verify(SignedMessage(s.Timestamp, s.Nonce, payload), sig); err != nil {
		return keys.PublicKey{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	// Keyed per identity so one signer's nonce cannot block another's.
	seen, err := v.nonceCache.CheckAndMark(fmt.Sprintf("%s:%d:%s", key, s.Timestamp, s.Nonce))
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	if seen {
		return keys.PublicKey{}, ErrReplay
	}

	return key, nil
}

// PublicKeyFromSSH extracts the raw ed25519 key from an SSH public key.
func PublicKeyFromSSH(pub ssh.PublicKey) (keys.PublicKey, error) {
	if pub.Type() != ssh.KeyAlgoED25519 {
		return keys.PublicKey{}, ErrUnsupportedKey
	}
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return keys.PublicKey{}, ErrUnsupportedKey
	}
	edKey, ok := cpk.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return keys.PublicKey{}, ErrUnsupportedKey
	}
	return keys.FromEd25519(edKey)
}

// AuthorizedKey renders an identity in authorized_keys format.
func AuthorizedKey(key keys.PublicKey) (string, error) {
	pub, err := ssh.NewPublicKey(ed25519.PublicKey(key.Bytes()))
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))), nil
}
