// ABOUTME: Tests for the quote and payment verification endpoints
// ABOUTME: Covers expectation mismatches and one-time redemption of payer nonces

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pulsar-gateway/internal/store"
)

func TestQuote(t *testing.T) {
	gw, _ := newTestGateway(t)
	rec := do(t, gw.Handler(), http.MethodGet, "/api/payments/quote", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f := newFixture(t, 150_000, 0)
	rec = do(t, f.h, http.MethodGet, "/api/payments/quote", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	quote := decode[QuoteResponse](t, rec)
	assert.Equal(t, f.gw.program.ProgramID().String(), quote.ProgramID)
	assert.Equal(t, f.gw.program.Address().String(), quote.Gateway)
	assert.Equal(t, f.gw.treasury.String(), quote.Recipient)
	assert.Equal(t, testMint.String(), quote.Mint)
	assert.Equal(t, uint64(150_000), quote.Amount)
	assert.Equal(t, "0.150000", quote.AmountText)
	assert.Equal(t, store.Decimals, quote.Decimals)
}

func (f *fixture) verify(t *testing.T, req VerifyPaymentRequest) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, f.h, http.MethodPost, "/api/payments/verify", jsonBody(t, req))
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t, 100_000, 1_000_000)
	rec := f.pay(t, 250_000, 7, f.payer)
	require.Equal(t, http.StatusCreated, rec.Code)
	paid := decode[PaymentResponse](t, rec)

	rec = f.verify(t, VerifyPaymentRequest{
		EventID:        paid.EventID,
		ExpectedPayer:  f.payer.key.String(),
		ExpectedAmount: ptr(uint64(250_000)),
		ExpectedNonce:  ptr(uint64(7)),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[VerifyPaymentResponse](t, rec)
	assert.True(t, resp.Verified)
	assert.Equal(t, paid.EventID, resp.EventID)
	assert.Equal(t, f.payer.key.String(), resp.Payer)
	assert.Equal(t, uint64(250_000), resp.Amount)
	assert.Equal(t, "0.250000", resp.AmountDisplay)
	assert.Equal(t, uint64(7), resp.Nonce)
	assert.NotZero(t, resp.VerifiedAt)

	// The same payment cannot be redeemed twice.
	rec = f.verify(t, VerifyPaymentRequest{EventID: paid.EventID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp = decode[VerifyPaymentResponse](t, rec)
	assert.False(t, resp.Verified)
	assert.Equal(t, CodeNonceUsed, resp.Code)

	// Nor can a second payment reusing the nonce.
	rec = f.pay(t, 100_000, 7, f.payer)
	require.Equal(t, http.StatusCreated, rec.Code)
	again := decode[PaymentResponse](t, rec)

	rec = do(t, f.h, http.MethodGet, "/api/events?kind=payment_processed", nil)
	events := decode[EventListResponse](t, rec).Events
	require.Len(t, events, 2)
	assert.Equal(t, again.EventID, events[1].ID)

	rec = f.verify(t, VerifyPaymentRequest{Seq: events[1].Seq})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeNonceUsed, decode[VerifyPaymentResponse](t, rec).Code)
}

func TestVerifyPayment_Rejected(t *testing.T) {
	f := newFixture(t, 100_000, 1_000_000)
	rec := f.pay(t, 250_000, 7, f.payer)
	require.Equal(t, http.StatusCreated, rec.Code)
	paid := decode[PaymentResponse](t, rec)

	tests := []struct {
		name string
		req  VerifyPaymentRequest
		code string
	}{
		{"amount too low", VerifyPaymentRequest{EventID: paid.EventID, ExpectedAmount: ptr(uint64(250_001))}, CodeAmountTooLow},
		{"nonce mismatch", VerifyPaymentRequest{EventID: paid.EventID, ExpectedNonce: ptr(uint64(8))}, CodeNonceMismatch},
		{"payer mismatch", VerifyPaymentRequest{EventID: paid.EventID, ExpectedPayer: f.authority.key.String()}, CodePayerMismatch},
		{"not a payment", VerifyPaymentRequest{Seq: 1}, CodeNotAPayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.verify(t, tt.req)
			assert.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
			resp := decode[VerifyPaymentResponse](t, rec)
			assert.False(t, resp.Verified)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	// Rejections do not consume the nonce.
	rec = f.verify(t, VerifyPaymentRequest{EventID: paid.EventID, ExpectedAmount: ptr(uint64(200_000))})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVerifyPayment_BadRequests(t *testing.T) {
	f := newFixture(t, 100_000, 1_000_000)
	rec := f.pay(t, 100_000, 1, f.payer)
	require.Equal(t, http.StatusCreated, rec.Code)
	paid := decode[PaymentResponse](t, rec)

	rec = f.verify(t, VerifyPaymentRequest{Seq: 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeEventNotFound, decode[VerifyPaymentResponse](t, rec).Code)

	tests := []struct {
		name string
		body []byte
	}{
		{"neither id nor seq", []byte(`{}`)},
		{"invalid json", []byte(`{nope`)},
		{"bad event id", jsonBody(t, VerifyPaymentRequest{EventID: "not-a-uuid"})},
		{"bad payer", jsonBody(t, VerifyPaymentRequest{Seq: 2, ExpectedPayer: "xyz"})},
		{"id and seq disagree", jsonBody(t, VerifyPaymentRequest{EventID: paid.EventID, Seq: 1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.h, http.MethodPost, "/api/payments/verify", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}
