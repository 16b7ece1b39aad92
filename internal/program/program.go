// ABOUTME: Gateway state transitions: initialize, process payment and update fee
// ABOUTME: Each operation runs in one store transaction and notifies sinks only after commit

package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/pulsar-gateway/internal/auth"
	"github.com/2389/pulsar-gateway/internal/events"
	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
	"github.com/2389/pulsar-gateway/internal/token"
)

// DefaultProgramID is the identity the gateway address is derived from when
// none is configured.
var DefaultProgramID = keys.FromSeed("pulsar_payment")

// Options configures a Program. Zero values select defaults.
type Options struct {
	ProgramID keys.PublicKey    // default DefaultProgramID
	Transfers token.Transferrer // default token.NewLedger
	Clock     Clock             // default SystemClock
	Notifier  events.Notifier   // default events.Discard
	Logger    *slog.Logger      // default slog.Default()
}

// Program executes gateway operations against a store.
type Program struct {
	store     store.Store
	programID keys.PublicKey
	address   keys.PublicKey
	bump      uint8
	transfers token.Transferrer
	clock     Clock
	notifier  events.Notifier
	logger    *slog.Logger
}

// New creates a Program and derives the gateway address.
func New(s store.Store, opts Options) (*Program, error) {
	if opts.ProgramID.IsZero() {
		opts.ProgramID = DefaultProgramID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transfers == nil {
		opts.Transfers = token.NewLedger(opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Notifier == nil {
		opts.Notifier = events.Discard
	}

	address, bump, err := keys.GatewayAddress(opts.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("deriving gateway address: %w", err)
	}

	return &Program{
		store:     s,
		programID: opts.ProgramID,
		address:   address,
		bump:      bump,
		transfers: opts.Transfers,
		clock:     opts.Clock,
		notifier:  opts.Notifier,
		logger:    opts.Logger.With("component", "program"),
	}, nil
}

// ProgramID returns the identity the gateway address is derived from.
func (p *Program) ProgramID() keys.PublicKey { return p.programID }

// Address returns the derived gateway address.
func (p *Program) Address() keys.PublicKey { return p.address }

// InitializeRequest creates the gateway record.
type InitializeRequest struct {
	Authority keys.PublicKey
	Fee       uint64
	Signers   auth.Signers
}

// Initialize creates the gateway record with the given authority and fee.
// Any fee, including zero, is accepted. A second call fails with
// ErrAlreadyInitialized and leaves the first record untouched.
func (p *Program) Initialize(ctx context.Context, req InitializeRequest) (*store.Gateway, error) {
	if err := requireSigner(req.Signers, req.Authority, "authority"); err != nil {
		return nil, err
	}

	now := p.clock.Now()
	gw := &store.Gateway{
		Address:   p.address,
		Authority: req.Authority,
		Fee:       req.Fee,
		Bump:      p.bump,
		CreatedAt: now.UTC().Truncate(time.Second),
		UpdatedAt: now.UTC().Truncate(time.Second),
	}
	ev := &store.Event{
		Kind:      store.EventGatewayInitialized,
		Gateway:   p.address,
		Actor:     req.Authority,
		NewFee:    req.Fee,
		Timestamp: now.Unix(),
	}

	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateGateway(ctx, gw); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return newError(KindAlreadyInitialized, err, "gateway already initialized at %s", p.address)
			}
			return fmt.Errorf("creating gateway: %w", err)
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("gateway initialized",
		"address", p.address,
		"authority", req.Authority,
		"fee", store.FormatAmount(req.Fee))
	p.notify(ctx, ev)
	return gw, nil
}

// PaymentRequest pays at least the gateway fee from Source to Destination.
type PaymentRequest struct {
	Payer       keys.PublicKey // must co-sign and own Source
	Source      keys.PublicKey
	Destination keys.PublicKey
	Amount      uint64
	Nonce       uint64 // advisory, duplicates are processed normally
	Signers     auth.Signers
}

// ProcessPayment validates amount against the fee, transfers it and records
// a payment_processed event. Either all of that commits or none of it does;
// an underpayment never reaches the transferrer.
func (p *Program) ProcessPayment(ctx context.Context, req PaymentRequest) (*store.Event, error) {
	if err := requireSigner(req.Signers, req.Payer, "payer"); err != nil {
		return nil, err
	}

	var ev *store.Event
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		gw, err := p.loadGateway(ctx, tx)
		if err != nil {
			return err
		}

		if req.Amount < gw.Fee {
			return newError(KindInsufficientPayment, nil, "amount %s is below fee %s",
				store.FormatAmount(req.Amount), store.FormatAmount(gw.Fee))
		}

		err = p.transfers.Transfer(ctx, tx, token.TransferParams{
			Source:      req.Source,
			Destination: req.Destination,
			Authority:   req.Payer,
			Amount:      req.Amount,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return err
			}
			return newError(KindTransferFailed, err, "transferring %s", store.FormatAmount(req.Amount))
		}

		ev = &store.Event{
			Kind:      store.EventPaymentProcessed,
			Gateway:   gw.Address,
			Actor:     req.Payer,
			Amount:    req.Amount,
			Nonce:     req.Nonce,
			Timestamp: p.clock.Now().Unix(),
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("payment processed",
		"payer", req.Payer,
		"amount", store.FormatAmount(req.Amount),
		"nonce", req.Nonce,
		"seq", ev.Seq)
	p.notify(ctx, ev)
	return ev, nil
}

// UpdateFeeRequest changes the gateway fee.
type UpdateFeeRequest struct {
	Authority keys.PublicKey // claimed caller, must co-sign
	NewFee    uint64
	Signers   auth.Signers
}

// UpdateFee overwrites the fee if the caller is the gateway authority and
// records a fee_updated event with the old and new values.
func (p *Program) UpdateFee(ctx context.Context, req UpdateFeeRequest) (*store.Gateway, error) {
	if err := requireSigner(req.Signers, req.Authority, "authority"); err != nil {
		return nil, err
	}

	var (
		gw *store.Gateway
		ev *store.Event
	)
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		gw, err = p.Authorize(ctx, tx, req.Authority, req.Signers)
		if err != nil {
			return err
		}

		now := p.clock.Now()
		if err := tx.UpdateGatewayFee(ctx, gw.Address, req.NewFee, now); err != nil {
			return fmt.Errorf("updating fee: %w", err)
		}

		ev = &store.Event{
			Kind:      store.EventFeeUpdated,
			Gateway:   gw.Address,
			Actor:     req.Authority,
			OldFee:    gw.Fee,
			NewFee:    req.NewFee,
			Timestamp: now.Unix(),
		}
		gw.Fee = req.NewFee
		gw.UpdatedAt = now.UTC().Truncate(time.Second)
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("fee updated",
		"old_fee", store.FormatAmount(ev.OldFee),
		"new_fee", store.FormatAmount(ev.NewFee))
	p.notify(ctx, ev)
	return gw, nil
}

// Authorize checks, inside tx, that authority co-signed and is the stored
// gateway authority, and returns the verified record. Operations outside the
// program that act on the gateway's behalf, such as token account
// administration, run it in their own transaction.
func (p *Program) Authorize(ctx context.Context, tx store.Tx, authority keys.PublicKey, signers auth.Signers) (*store.Gateway, error) {
	if err := requireSigner(signers, authority, "authority"); err != nil {
		return nil, err
	}
	gw, err := p.loadGateway(ctx, tx)
	if err != nil {
		return nil, err
	}
	if authority != gw.Authority {
		return nil, newError(KindUnauthorized, nil, "%s is not the gateway authority", authority)
	}
	return gw, nil
}

// Gateway loads and verifies the gateway record.
func (p *Program) Gateway(ctx context.Context) (*store.Gateway, error) {
	var gw *store.Gateway
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		gw, err = p.loadGateway(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// loadGateway reads the record at the derived address and checks that its
// stored bump reproduces that address.
func (p *Program) loadGateway(ctx context.Context, tx store.Tx) (*store.Gateway, error) {
	gw, err := tx.GetGateway(ctx, p.address)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindRecordNotFound, err, "no gateway at %s", p.address)
	}
	if err != nil {
		return nil, fmt.Errorf("loading gateway: %w", err)
	}

	if gw.Address != p.address || !keys.VerifyGatewayAddress(p.programID, gw.Address, gw.Bump) {
		return nil, newError(KindAddressMismatch, nil, "bump %d does not reproduce %s", gw.Bump, p.address)
	}
	return gw, nil
}

func (p *Program) notify(ctx context.Context, ev *store.Event) {
	if err := p.notifier.Notify(ctx, ev); err != nil {
		p.logger.Warn("event notification failed",
			"event_id", ev.ID,
			"kind", ev.Kind,
			"error", err)
	}
}

func requireSigner(signers auth.Signers, key keys.PublicKey, role string) error {
	if signers == nil || !signers.IsSigner(key) {
		return newError(KindMissingSignature, nil, "%s %s did not sign", role, key)
	}
	return nil
}
