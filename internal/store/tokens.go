// ABOUTME: Token account persistence inside a transaction
// ABOUTME: Balances are read with row locks and written back by the transfer ledger

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// GetTokenAccount reads a token account, locking it for update where supported.
// Returns ErrNotFound if the account doesn't exist.
func (t *sqlTx) GetTokenAccount(ctx context.Context, address keys.PublicKey) (*TokenAccount, error) {
	query := `
		SELECT address, mint, owner, balance, frozen, created_at
		FROM token_accounts
		WHERE address = ?` + t.store.dialect.forUpdate

	var (
		acct                       TokenAccount
		addrStr, mintStr, ownerStr string
		balanceStr, createdAtStr   string
	)
	err := t.queryRow(ctx, query, address.String()).Scan(
		&addrStr,
		&mintStr,
		&ownerStr,
		&balanceStr,
		&acct.Frozen,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "querying token account")
	}

	if acct.Address, err = keys.ParsePublicKey(addrStr); err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if acct.Mint, err = keys.ParsePublicKey(mintStr); err != nil {
		return nil, fmt.Errorf("parsing mint: %w", err)
	}
	if acct.Owner, err = keys.ParsePublicKey(ownerStr); err != nil {
		return nil, fmt.Errorf("parsing owner: %w", err)
	}
	if acct.Balance, err = parseUint("balance", balanceStr); err != nil {
		return nil, err
	}
	if acct.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &acct, nil
}

// CreateTokenAccount inserts a new token account.
// Returns ErrAlreadyExists if the address is taken.
func (t *sqlTx) CreateTokenAccount(ctx context.Context, acct *TokenAccount) error {
	query := `
		INSERT INTO token_accounts (address, mint, owner, balance, frozen, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := t.exec(ctx, query,
		acct.Address.String(),
		acct.Mint.String(),
		acct.Owner.String(),
		formatUint(acct.Balance),
		acct.Frozen,
		acct.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyExists
		}
		return classify(err, "inserting token account")
	}

	t.store.logger.Debug("created token account", "address", acct.Address, "owner", acct.Owner)
	return nil
}

// SetTokenBalance overwrites the balance of an existing token account.
func (t *sqlTx) SetTokenBalance(ctx context.Context, address keys.PublicKey, balance uint64) error {
	result, err := t.exec(ctx, `UPDATE token_accounts SET balance = ? WHERE address = ?`,
		formatUint(balance),
		address.String(),
	)
	if err != nil {
		return classify(err, "updating token balance")
	}
	return requireOneRow(result)
}

// SetTokenFrozen freezes or thaws an existing token account.
func (t *sqlTx) SetTokenFrozen(ctx context.Context, address keys.PublicKey, frozen bool) error {
	result, err := t.exec(ctx, `UPDATE token_accounts SET frozen = ? WHERE address = ?`,
		frozen,
		address.String(),
	)
	if err != nil {
		return classify(err, "updating token frozen flag")
	}
	return requireOneRow(result)
}
