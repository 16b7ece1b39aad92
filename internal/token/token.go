// ABOUTME: Token ledger that moves balances between token accounts
// ABOUTME: Runs inside the caller's store transaction so transfers commit or roll back with it

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

var (
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountExists     = errors.New("token account already exists")
	ErrMintMismatch      = errors.New("token accounts hold different mints")
	ErrAccountFrozen     = errors.New("token account is frozen")
	ErrOwnerMismatch     = errors.New("authority does not own source account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("balance overflow")
)

// ProgramID identifies the token ledger when deriving associated account addresses.
var ProgramID = keys.FromSeed("pulsar_token")

// Accounts is the slice of a store transaction the ledger needs.
// store.Tx satisfies it.
type Accounts interface {
	GetTokenAccount(ctx context.Context, address keys.PublicKey) (*store.TokenAccount, error)
	CreateTokenAccount(ctx context.Context, acct *store.TokenAccount) error
	SetTokenBalance(ctx context.Context, address keys.PublicKey, balance uint64) error
	SetTokenFrozen(ctx context.Context, address keys.PublicKey, frozen bool) error
}

// TransferParams describes a single value transfer.
type TransferParams struct {
	Source      keys.PublicKey
	Destination keys.PublicKey
	Authority   keys.PublicKey // must own Source
	Amount      uint64
}

// Transferrer moves exactly Amount units from Source to Destination or
// fails without partial effect.
type Transferrer interface {
	Transfer(ctx context.Context, accounts Accounts, p TransferParams) error
}

// Ledger implements Transferrer on top of store token accounts.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger. A nil logger uses slog.Default().
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger: logger.With("component", "token"),
		now:    time.Now,
	}
}

// AssociatedAddress derives the canonical token account address for an
// owner and mint.
func AssociatedAddress(owner, mint keys.PublicKey) (keys.PublicKey, error) {
	addr, _, err := keys.FindProgramAddress(ProgramID, [][]byte{owner.Bytes(), mint.Bytes()})
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("deriving associated address: %w", err)
	}
	return addr, nil
}

func load(ctx context.Context, accounts Accounts, address keys.PublicKey) (*store.TokenAccount, error) {
	acct, err := accounts.GetTokenAccount(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Transfer validates and applies a transfer. Both balances are written
// through accounts, so the move is atomic with the caller's transaction.
func (l *Ledger) Transfer(ctx context.Context, accounts Accounts, p TransferParams) error {
	src, err := load(ctx, accounts, p.Source)
	if err != nil {
		return err
	}
	if src.Owner != p.Authority {
		return ErrOwnerMismatch
	}
	if src.Frozen {
		return fmt.Errorf("%w: %s", ErrAccountFrozen, src.Address)
	}

	if p.Source == p.Destination {
		if src.Balance < p.Amount {
			return ErrInsufficientFunds
		}
		return nil
	}

	dst, err := load(ctx, accounts, p.Destination)
	if err != nil {
		return err
	}
	if dst.Frozen {
		return fmt.Errorf("%w: %s", ErrAccountFrozen, dst.Address)
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if src.Balance < p.Amount {
		return ErrInsufficientFunds
	}
	if dst.Balance > math.MaxUint64-p.Amount {
		return ErrOverflow
	}

	if err := accounts.SetTokenBalance(ctx, src.Address, src.Balance-p.Amount); err != nil {
		return fmt.Errorf("debiting source: %w", err)
	}
	if err := accounts.SetTokenBalance(ctx, dst.Address, dst.Balance+p.Amount); err != nil {
		return fmt.Errorf("crediting destination: %w", err)
	}

	l.logger.Debug("transferred",
		"source", src.Address,
		"destination", dst.Address,
		"amount", store.FormatAmount(p.Amount),
	)
	return nil
}

// OpenAccount creates an empty token account. A zero address is replaced by
// the associated address of owner and mint.
func (l *Ledger) OpenAccount(ctx context.Context, accounts Accounts, address, mint, owner keys.PublicKey) (*store.TokenAccount, error) {
	if address.IsZero() {
		var err error
		if address, err = AssociatedAddress(owner, mint); err != nil {
			return nil, err
		}
	}

	acct := &store.TokenAccount{
		Address:   address,
		Mint:      mint,
		Owner:     owner,
		CreatedAt: l.now().UTC().Truncate(time.Second),
	}
	if err := accounts.CreateTokenAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, address)
		}
		return nil, err
	}

	l.logger.Info("opened token account", "address", address, "owner", owner, "mint", mint)
	return acct, nil
}

// MintTo credits newly issued units to an account.
func (l *Ledger) MintTo(ctx context.Context, accounts Accounts, address keys.PublicKey, amount uint64) (uint64, error) {
	acct, err := load(ctx, accounts, address)
	if err != nil {
		return 0, err
	}
	if acct.Frozen {
		return 0, fmt.Errorf("%w: %s", ErrAccountFrozen, address)
	}
	if acct.Balance > math.MaxUint64-amount {
		return 0, ErrOverflow
	}

	balance := acct.Balance + amount
	if err := accounts.SetTokenBalance(ctx, address, balance); err != nil {
		return 0, fmt.Errorf("crediting account: %w", err)
	}

	l.logger.Info("minted", "address", address, "amount", store.FormatAmount(amount))
	return balance, nil
}

// Freeze blocks transfers into and out of an account.
func (l *Ledger) Freeze(ctx context.Context, accounts Accounts, address keys.PublicKey) error {
	return l.setFrozen(ctx, accounts, address, true)
}

// Thaw reverses Freeze.
func (l *Ledger) Thaw(ctx context.Context, accounts Accounts, address keys.PublicKey) error {
	return l.setFrozen(ctx, accounts, address, false)
}

func (l *Ledger) setFrozen(ctx context.Context, accounts Accounts, address keys.PublicKey, frozen bool) error {
	if _, err := load(ctx, accounts, address); err != nil {
		return err
	}
	if err := accounts.SetTokenFrozen(ctx, address, frozen); err != nil {
		return fmt.Errorf("updating frozen flag: %w", err)
	}
	l.logger.Info("updated token account", "address", address, "frozen", frozen)
	return nil
}

var _ Transferrer = (*Ledger)(nil)
