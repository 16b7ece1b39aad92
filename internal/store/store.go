// ABOUTME: Store interface and data types for pulsar-gateway persistence
// ABOUTME: Defines the Gateway record, token accounts, events and the transactional Store contract

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/pulsar-gateway/internal/keys"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting a record whose key is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when the database aborts a transaction because a
	// concurrent transaction touched the same rows
	ErrConflict = errors.New("write conflict")
)

// Gateway is the single configuration record of the payment gateway.
type Gateway struct {
	Address   keys.PublicKey // derived from the program ID and the "gateway" seed
	Authority keys.PublicKey // only identity allowed to change Fee
	Fee       uint64         // minimum payment, 6 decimal places
	Bump      uint8          // derivation byte that reproduces Address
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenAccount holds a balance of a single mint on behalf of an owner.
type TokenAccount struct {
	Address   keys.PublicKey
	Mint      keys.PublicKey
	Owner     keys.PublicKey
	Balance   uint64
	Frozen    bool
	CreatedAt time.Time
}

// EventKind categorizes gateway events.
type EventKind string

const (
	EventGatewayInitialized EventKind = "gateway_initialized"
	EventPaymentProcessed   EventKind = "payment_processed"
	EventFeeUpdated         EventKind = "fee_updated"
)

// ValidEventKinds lists all event kinds.
var ValidEventKinds = []EventKind{
	EventGatewayInitialized,
	EventPaymentProcessed,
	EventFeeUpdated,
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	for _, v := range ValidEventKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Event is an entry in the gateway's append-only event stream.
// Fields that do not apply to a kind are zero.
type Event struct {
	Seq       int64  // assigned by AppendEvent, strictly increasing
	ID        string // UUID v4
	Kind      EventKind
	Gateway   keys.PublicKey
	Actor     keys.PublicKey // payer for payments, authority otherwise
	Amount    uint64         // payment_processed
	Nonce     uint64         // payment_processed, caller supplied and never deduplicated
	OldFee    uint64         // fee_updated
	NewFee    uint64         // fee_updated and gateway_initialized
	Timestamp int64          // seconds since the Unix epoch
}

// PaymentRecord is the externally visible shape of a processed payment.
type PaymentRecord struct {
	Payer     keys.PublicKey `json:"payer"`
	Amount    uint64         `json:"amount"`
	Nonce     uint64         `json:"nonce"`
	Timestamp int64          `json:"timestamp"`
}

// PaymentRecord projects a payment_processed event onto its public record.
func (e *Event) PaymentRecord() PaymentRecord {
	return PaymentRecord{
		Payer:     e.Actor,
		Amount:    e.Amount,
		Nonce:     e.Nonce,
		Timestamp: e.Timestamp,
	}
}

// Verification records that a payment was accepted as settlement for
// off-ledger work. A payer's nonce can be verified at most once.
type Verification struct {
	Payer      keys.PublicKey
	Nonce      uint64
	EventID    string
	VerifiedAt time.Time
}

// EventFilter specifies filtering options for listing events.
type EventFilter struct {
	Kind     *EventKind      // filter by kind
	Actor    *keys.PublicKey // filter by actor
	AfterSeq int64           // only events with Seq greater than this
	Limit    int             // max results (default 100, max 1000)
}

// Tx is the set of operations available inside a transaction. All reads
// observe the transaction's snapshot and all writes commit together.
type Tx interface {
	// Gateway record
	GetGateway(ctx context.Context, address keys.PublicKey) (*Gateway, error)
	CreateGateway(ctx context.Context, gw *Gateway) error
	UpdateGatewayFee(ctx context.Context, address keys.PublicKey, fee uint64, updatedAt time.Time) error

	// Token accounts
	GetTokenAccount(ctx context.Context, address keys.PublicKey) (*TokenAccount, error)
	CreateTokenAccount(ctx context.Context, acct *TokenAccount) error
	SetTokenBalance(ctx context.Context, address keys.PublicKey, balance uint64) error
	SetTokenFrozen(ctx context.Context, address keys.PublicKey, frozen bool) error

	// Events
	AppendEvent(ctx context.Context, ev *Event) error
	GetEventByID(ctx context.Context, id string) (*Event, error)
	GetEventBySeq(ctx context.Context, seq int64) (*Event, error)

	// Verifications. RecordVerification returns ErrAlreadyExists when the
	// payer's nonce or the event was verified before.
	GetVerification(ctx context.Context, payer keys.PublicKey, nonce uint64) (*Verification, error)
	RecordVerification(ctx context.Context, v *Verification) error
}

// Store defines the interface for gateway persistence.
type Store interface {
	// WithTx runs fn inside a single transaction. The transaction commits when
	// fn returns nil and rolls back when fn returns an error or panics.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ListEvents returns committed events in Seq order.
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// LatestEventSeq returns the highest committed Seq, or 0 if there are no events.
	LatestEventSeq(ctx context.Context) (int64, error)

	// Close releases any resources held by the store
	Close() error
}

// NormalizeEventLimit applies default (100) and cap (1000) to event limit.
func NormalizeEventLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
