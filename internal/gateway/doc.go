// Package gateway serves the payment program over HTTP.
//
// # Overview
//
// The gateway package wires the store, the token ledger, the program and the
// event sinks together and exposes them as a JSON API. It owns the HTTP
// server lifecycle.
//
// # Signed Requests
//
// Mutating endpoints take an envelope whose payload is signed by the keys the
// operation needs:
//
//	{
//	  "payload": {"authority": "<hex>", "fee": 100000},
//	  "signatures": [{"public_key": "ssh-ed25519 ...", "signature": "...",
//	                  "timestamp": 1700000000, "nonce": "..."}]
//	}
//
// Signatures are checked before the program runs; the program then decides
// whether the verified keys include the one it requires.
//
// # HTTP API
//
//   - GET  /api/gateway              - Current gateway record
//   - POST /api/gateway/initialize   - Create the gateway (signed by the authority)
//   - POST /api/gateway/fee          - Change the fee (signed by the authority)
//   - POST /api/payments             - Pay the gateway (signed by the payer)
//   - GET  /api/payments/quote       - Current price, recipient and decimals
//   - POST /api/payments/verify      - Redeem a processed payment once per payer nonce
//   - GET  /api/events               - Page through committed events
//   - GET  /api/events/stream        - Follow events as Server-Sent Events
//   - GET  /health, /health/ready    - Liveness and readiness
//
// With program.admin_api enabled, /api/accounts manages token accounts.
// Writes there are signed by the gateway authority.
//
// POSTs are rate limited per remote address and per verified signer (429).
// When the signature replay cache is full, signed requests get 503 until
// older signatures expire.
//
// # Errors
//
// Errors are returned as {"error": "...", "code": "..."} where code is the
// program error kind, e.g. INSUFFICIENT_PAYMENT (402) or UNAUTHORIZED (403).
package gateway
