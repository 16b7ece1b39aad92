// Package store provides transactional persistence for the payment gateway.
//
// # Architecture
//
// Every gateway operation runs inside Store.WithTx. The callback receives a
// Tx exposing the gateway record, token accounts and the event stream; all of
// its writes commit together or not at all.
//
//   - SQLStore: database/sql implementation with SQLite and PostgreSQL dialects
//   - MockStore: in-memory implementation for tests
//
// # Data Models
//
//   - Gateway: the single configuration record (authority, fee, bump)
//   - TokenAccount: balance of one mint held by an owner
//   - Event: append-only record of initializations, payments and fee changes
//   - Verification: a payer nonce redeemed against a payment event
//
// # Serialization
//
// SQLite runs on a single connection, so transactions execute one after the
// other. PostgreSQL runs transactions at SERIALIZABLE isolation and locks the
// rows it reads with SELECT ... FOR UPDATE; a transaction aborted by a
// concurrent writer surfaces as ErrConflict.
//
// Unsigned 64-bit amounts are stored as decimal TEXT so the full range
// survives engines with signed integer columns.
package store
