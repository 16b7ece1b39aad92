// ABOUTME: Persistence of payment verifications for off-ledger settlement
// ABOUTME: The (payer, nonce) key makes each payment nonce redeemable once

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// GetVerification reads the verification of payer's nonce.
// Returns ErrNotFound if the nonce has not been verified.
func (t *sqlTx) GetVerification(ctx context.Context, payer keys.PublicKey, nonce uint64) (*Verification, error) {
	query := `
		SELECT event_id, verified_at
		FROM payment_verifications
		WHERE payer = ? AND nonce = ?
	`

	var verifiedAtStr string
	v := Verification{Payer: payer, Nonce: nonce}
	err := t.queryRow(ctx, query, payer.String(), formatUint(nonce)).Scan(&v.EventID, &verifiedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "querying verification")
	}

	if v.VerifiedAt, err = time.Parse(time.RFC3339, verifiedAtStr); err != nil {
		return nil, fmt.Errorf("parsing verified_at: %w", err)
	}
	return &v, nil
}

// RecordVerification inserts a verification.
// Returns ErrAlreadyExists if the nonce or the event was already verified.
func (t *sqlTx) RecordVerification(ctx context.Context, v *Verification) error {
	query := `
		INSERT INTO payment_verifications (payer, nonce, event_id, verified_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := t.exec(ctx, query,
		v.Payer.String(),
		formatUint(v.Nonce),
		v.EventID,
		v.VerifiedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyExists
		}
		return classify(err, "inserting verification")
	}

	t.store.logger.Debug("recorded verification", "payer", v.Payer, "nonce", v.Nonce, "event_id", v.EventID)
	return nil
}
