// ABOUTME: Off-ledger payment endpoints: price quotes and settlement verification
// ABOUTME: Verification redeems a payer's nonce once, which the payment program itself never enforces

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

// QuoteResponse tells a client what to pay and where.
type QuoteResponse struct {
	ProgramID  string `json:"program_id"`
	Gateway    string `json:"gateway"`
	Recipient  string `json:"recipient,omitempty"`
	Mint       string `json:"mint,omitempty"`
	Amount     uint64 `json:"amount"`
	AmountText string `json:"amount_display"`
	Decimals   int    `json:"decimals"`
}

// VerifyPaymentRequest identifies a payment by EventID or Seq and states what
// the caller expects of it. Nil expectations are not checked.
type VerifyPaymentRequest struct {
	EventID        string  `json:"event_id,omitempty" validate:"required_without=Seq,omitempty,uuid"`
	Seq            int64   `json:"seq,omitempty" validate:"required_without=EventID,omitempty,gt=0"`
	ExpectedPayer  string  `json:"expected_payer,omitempty" validate:"omitempty,len=64,hexadecimal"`
	ExpectedAmount *uint64 `json:"expected_amount,omitempty"`
	ExpectedNonce  *uint64 `json:"expected_nonce,omitempty"`
}

// VerifyPaymentResponse reports whether a payment settles the request.
type VerifyPaymentResponse struct {
	Verified      bool      `json:"verified"`
	Error         string    `json:"error,omitempty"`
	Code          string    `json:"code,omitempty"`
	EventID       string    `json:"event_id,omitempty"`
	Seq           int64     `json:"seq,omitempty"`
	Payer         string    `json:"payer,omitempty"`
	Amount        uint64    `json:"amount,omitempty"`
	AmountDisplay string    `json:"amount_display,omitempty"`
	Nonce         uint64    `json:"nonce,omitempty"`
	Timestamp     int64     `json:"timestamp,omitempty"`
	VerifiedAt    time.Time `json:"verified_at,omitzero"`
}

// Verification failure codes.
const (
	CodeNotAPayment   = "NOT_A_PAYMENT"
	CodeWrongGateway  = "WRONG_GATEWAY"
	CodePayerMismatch = "PAYER_MISMATCH"
	CodeAmountTooLow  = "AMOUNT_TOO_LOW"
	CodeNonceMismatch = "NONCE_MISMATCH"
	CodeNonceUsed     = "NONCE_USED"
	CodeEventNotFound = "EVENT_NOT_FOUND"
)

// verifyError rejects a payment that exists but does not settle the request.
type verifyError struct {
	status int
	code   string
	msg    string
	ev     *store.Event
}

func (e *verifyError) Error() string { return e.msg }

func rejectPayment(ev *store.Event, code, format string, args ...any) error {
	return &verifyError{status: http.StatusPaymentRequired, code: code, msg: fmt.Sprintf(format, args...), ev: ev}
}

// handleQuote handles GET /api/payments/quote.
func (g *Gateway) handleQuote(w http.ResponseWriter, r *http.Request) {
	gw, err := g.program.Gateway(r.Context())
	if err != nil {
		g.sendError(w, err)
		return
	}

	resp := QuoteResponse{
		ProgramID:  g.program.ProgramID().String(),
		Gateway:    gw.Address.String(),
		Amount:     gw.Fee,
		AmountText: store.FormatAmount(gw.Fee),
		Decimals:   store.Decimals,
	}
	if !g.treasury.IsZero() {
		resp.Recipient = g.treasury.String()
	}
	if !g.config.Program.Mint.IsZero() {
		resp.Mint = g.config.Program.Mint.String()
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleVerifyPayment handles POST /api/payments/verify.
func (g *Gateway) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}

	var expectedPayer keys.PublicKey
	if req.ExpectedPayer != "" {
		var err error
		if expectedPayer, err = parseKey("expected_payer", req.ExpectedPayer); err != nil {
			g.sendError(w, err)
			return
		}
	}

	var (
		ev         *store.Event
		verifiedAt time.Time
	)
	err := g.store.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		ev, err = g.lookupEvent(r.Context(), tx, req)
		if err != nil {
			return err
		}
		if err := g.checkPayment(ev, req, expectedPayer); err != nil {
			return err
		}

		verifiedAt = time.Now().UTC().Truncate(time.Second)
		err = tx.RecordVerification(r.Context(), &store.Verification{
			Payer:      ev.Actor,
			Nonce:      ev.Nonce,
			EventID:    ev.ID,
			VerifiedAt: verifiedAt,
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			return &verifyError{status: http.StatusConflict, code: CodeNonceUsed, ev: ev,
				msg: fmt.Sprintf("nonce %d of %s was already redeemed", ev.Nonce, ev.Actor)}
		}
		return err
	})

	var vErr *verifyError
	switch {
	case errors.As(err, &vErr):
		g.logger.Info("payment not verified", "code", vErr.code, "error", vErr.msg)
		resp := verifyResponse(vErr.ev)
		resp.Error, resp.Code = vErr.msg, vErr.code
		g.sendJSON(w, vErr.status, resp)
	case err != nil:
		g.sendError(w, err)
	default:
		g.logger.Info("payment verified", "event_id", ev.ID, "payer", ev.Actor, "nonce", ev.Nonce)
		resp := verifyResponse(ev)
		resp.Verified = true
		resp.VerifiedAt = verifiedAt
		g.sendJSON(w, http.StatusOK, resp)
	}
}

func (g *Gateway) lookupEvent(ctx context.Context, tx store.Tx, req VerifyPaymentRequest) (*store.Event, error) {
	var (
		ev  *store.Event
		err error
	)
	if req.EventID != "" {
		ev, err = tx.GetEventByID(ctx, req.EventID)
	} else {
		ev, err = tx.GetEventBySeq(ctx, req.Seq)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, &verifyError{status: http.StatusNotFound, code: CodeEventNotFound, msg: "payment event not found"}
	}
	if err != nil {
		return nil, err
	}
	if req.EventID != "" && req.Seq != 0 && ev.Seq != req.Seq {
		return nil, badRequest("event %s has seq %d, not %d", req.EventID, ev.Seq, req.Seq)
	}
	return ev, nil
}

// checkPayment compares a stored event against the caller's expectations.
// A zero expectedPayer matches any payer.
func (g *Gateway) checkPayment(ev *store.Event, req VerifyPaymentRequest, expectedPayer keys.PublicKey) error {
	switch {
	case ev.Kind != store.EventPaymentProcessed:
		return rejectPayment(nil, CodeNotAPayment, "event %d is %s", ev.Seq, ev.Kind)
	case ev.Gateway != g.program.Address():
		return rejectPayment(ev, CodeWrongGateway, "payment was made to %s", ev.Gateway)
	case !expectedPayer.IsZero() && ev.Actor != expectedPayer:
		return rejectPayment(ev, CodePayerMismatch, "payment was made by %s", ev.Actor)
	case req.ExpectedAmount != nil && ev.Amount < *req.ExpectedAmount:
		return rejectPayment(ev, CodeAmountTooLow, "paid %s, expected at least %s",
			store.FormatAmount(ev.Amount), store.FormatAmount(*req.ExpectedAmount))
	case req.ExpectedNonce != nil && ev.Nonce != *req.ExpectedNonce:
		return rejectPayment(ev, CodeNonceMismatch, "nonce is %d, expected %d", ev.Nonce, *req.ExpectedNonce)
	}
	return nil
}

func verifyResponse(ev *store.Event) VerifyPaymentResponse {
	if ev == nil {
		return VerifyPaymentResponse{}
	}
	return VerifyPaymentResponse{
		EventID:       ev.ID,
		Seq:           ev.Seq,
		Payer:         ev.Actor.String(),
		Amount:        ev.Amount,
		AmountDisplay: store.FormatAmount(ev.Amount),
		Nonce:         ev.Nonce,
		Timestamp:     ev.Timestamp,
	}
}
