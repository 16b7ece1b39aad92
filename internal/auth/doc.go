// Package auth verifies who authorized a gateway request.
//
// Every mutating request carries one or more signatures. Each signature is an
// ssh-ed25519 signature over "timestamp|nonce|hex(sha256(payload))", where the
// payload is the request's JSON payload object exactly as sent:
//
//	sig, err := auth.Sign(signer, payload)
//	signers, err := verifier.Verify(payload, []auth.Signature{sig})
//	signers.IsSigner(authority)
//
// Signatures older than the configured max age, more than a minute in the
// future, or already seen inside the window are rejected. A full replay
// cache refuses new signatures with ErrBusy rather than forget live ones. The resulting
// SignerSet is what the program consults when an operation requires a
// particular identity to have co-signed.
package auth
