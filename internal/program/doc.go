// ABOUTME: Package documentation for the gateway program
// ABOUTME: Describes the three state-changing operations and how failures are reported

// Package program implements the payment gateway's operations on top of a
// transactional store.
//
// Program exposes three operations, each running inside one store transaction:
//
//   - Initialize creates the gateway record at its derived address. The
//     authority must sign and the record must not exist yet.
//   - ProcessPayment moves Amount from the payer's source account to a
//     destination account. Amount must be at least the current fee, and the
//     payer must sign.
//   - UpdateFee replaces the fee. Only the stored authority may do this.
//
// Domain failures are reported as *Error values carrying a Kind; storage
// failures are returned wrapped. A failed operation leaves the store
// unchanged. Events are appended in the same transaction and handed to the
// configured Notifier only after commit.
package program
