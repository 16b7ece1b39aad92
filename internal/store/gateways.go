// ABOUTME: Gateway record persistence inside a transaction
// ABOUTME: Create is insert-only so a second creation at the same address fails

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// classify maps driver errors that callers branch on to sentinel errors.
func classify(err error, action string) error {
	if isSerializationFailure(err) {
		return ErrConflict
	}
	return fmt.Errorf("%s: %w", action, err)
}

// GetGateway reads the gateway record at address, locking it for update on
// dialects that support row locks. Returns ErrNotFound if absent.
func (t *sqlTx) GetGateway(ctx context.Context, address keys.PublicKey) (*Gateway, error) {
	query := `
		SELECT address, authority, fee, bump, created_at, updated_at
		FROM gateways
		WHERE address = ?` + t.store.dialect.forUpdate

	var (
		gw                         Gateway
		addrStr, authStr, feeStr   string
		bump                       int
		createdAtStr, updatedAtStr string
	)
	err := t.queryRow(ctx, query, address.String()).Scan(
		&addrStr,
		&authStr,
		&feeStr,
		&bump,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "querying gateway")
	}

	if gw.Address, err = keys.ParsePublicKey(addrStr); err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if gw.Authority, err = keys.ParsePublicKey(authStr); err != nil {
		return nil, fmt.Errorf("parsing authority: %w", err)
	}
	if gw.Fee, err = parseUint("fee", feeStr); err != nil {
		return nil, err
	}
	if bump < 0 || bump > 255 {
		return nil, fmt.Errorf("bump %d out of range", bump)
	}
	gw.Bump = uint8(bump)

	if gw.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if gw.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &gw, nil
}

// CreateGateway inserts a new gateway record.
// Returns ErrAlreadyExists if a record is already stored at gw.Address.
func (t *sqlTx) CreateGateway(ctx context.Context, gw *Gateway) error {
	query := `
		INSERT INTO gateways (address, authority, fee, bump, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := t.exec(ctx, query,
		gw.Address.String(),
		gw.Authority.String(),
		formatUint(gw.Fee),
		int(gw.Bump),
		gw.CreatedAt.UTC().Format(time.RFC3339),
		gw.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyExists
		}
		return classify(err, "inserting gateway")
	}

	t.store.logger.Debug("created gateway", "address", gw.Address, "fee", gw.Fee)
	return nil
}

// UpdateGatewayFee overwrites the fee of an existing gateway record.
// Returns ErrNotFound if the record doesn't exist.
func (t *sqlTx) UpdateGatewayFee(ctx context.Context, address keys.PublicKey, fee uint64, updatedAt time.Time) error {
	query := `
		UPDATE gateways
		SET fee = ?, updated_at = ?
		WHERE address = ?
	`

	result, err := t.exec(ctx, query,
		formatUint(fee),
		updatedAt.UTC().Format(time.RFC3339),
		address.String(),
	)
	if err != nil {
		return classify(err, "updating gateway fee")
	}
	if err := requireOneRow(result); err != nil {
		return err
	}

	t.store.logger.Debug("updated gateway fee", "address", address, "fee", fee)
	return nil
}
