// ABOUTME: HTTP API handlers for gateway operations
// ABOUTME: Decodes signed payloads, validates them and maps operation errors to status codes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/pulsar-gateway/internal/auth"
	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/program"
	"github.com/2389/pulsar-gateway/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var validate = validator.New()

// SignedRequest is the envelope of every mutating request. Payload is
// signed exactly as sent.
type SignedRequest struct {
	Payload    json.RawMessage  `json:"payload"`
	Signatures []auth.Signature `json:"signatures"`
}

// InitializePayload creates the gateway record.
type InitializePayload struct {
	Authority string `json:"authority" validate:"required,len=64,hexadecimal"`
	Fee       uint64 `json:"fee"`
}

// PaymentPayload pays the gateway. Destination defaults to the treasury.
type PaymentPayload struct {
	Payer       string `json:"payer" validate:"required,len=64,hexadecimal"`
	Source      string `json:"source" validate:"required,len=64,hexadecimal"`
	Destination string `json:"destination,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Amount      uint64 `json:"amount"`
	Nonce       uint64 `json:"nonce"`
}

// UpdateFeePayload changes the fee.
type UpdateFeePayload struct {
	Authority string `json:"authority" validate:"required,len=64,hexadecimal"`
	NewFee    uint64 `json:"new_fee"`
}

// GatewayResponse is the JSON form of the gateway record.
type GatewayResponse struct {
	Address    string    `json:"address"`
	ProgramID  string    `json:"program_id"`
	Authority  string    `json:"authority"`
	Fee        uint64    `json:"fee"`
	FeeDisplay string    `json:"fee_display"`
	Bump       uint8     `json:"bump"`
	Treasury   string    `json:"treasury,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PaymentResponse is returned for a processed payment.
type PaymentResponse struct {
	EventID       string `json:"event_id"`
	Seq           int64  `json:"seq"`
	Payer         string `json:"payer"`
	Amount        uint64 `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Nonce         uint64 `json:"nonce"`
	Timestamp     int64  `json:"timestamp"`
}

// EventResponse is the JSON form of a stored event.
type EventResponse struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Gateway   string `json:"gateway"`
	Actor     string `json:"actor"`
	Amount    uint64 `json:"amount,omitempty"`
	Nonce     uint64 `json:"nonce,omitempty"`
	OldFee    uint64 `json:"old_fee,omitempty"`
	NewFee    uint64 `json:"new_fee,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventListResponse is a page of the event stream.
type EventListResponse struct {
	Events  []EventResponse `json:"events"`
	LastSeq int64           `json:"last_seq"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (g *Gateway) gatewayResponse(gw *store.Gateway) GatewayResponse {
	resp := GatewayResponse{
		Address:    gw.Address.String(),
		ProgramID:  g.program.ProgramID().String(),
		Authority:  gw.Authority.String(),
		Fee:        gw.Fee,
		FeeDisplay: store.FormatAmount(gw.Fee),
		Bump:       gw.Bump,
		CreatedAt:  gw.CreatedAt,
		UpdatedAt:  gw.UpdatedAt,
	}
	if !g.treasury.IsZero() {
		resp.Treasury = g.treasury.String()
	}
	return resp
}

func eventResponse(ev *store.Event) EventResponse {
	return EventResponse{
		Seq:       ev.Seq,
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		Gateway:   ev.Gateway.String(),
		Actor:     ev.Actor.String(),
		Amount:    ev.Amount,
		Nonce:     ev.Nonce,
		OldFee:    ev.OldFee,
		NewFee:    ev.NewFee,
		Timestamp: ev.Timestamp,
	}
}

// requestError is a client error detected before the program runs.
type requestError struct {
	status int
	msg    string
	code   string
}

func (e *requestError) Error() string { return e.msg }

var errRateLimited = &requestError{
	status: http.StatusTooManyRequests,
	msg:    "rate limit exceeded, retry later",
	code:   "RATE_LIMITED",
}

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("reading body: %v", err)
	}
	return unmarshalValid(body, dst)
}

func unmarshalValid(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return badRequest("invalid JSON: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return badRequest("validation failed: %v", err)
	}
	return nil
}

// decodeSigned decodes a SignedRequest, validates its payload into dst and
// verifies the signatures over it.
func (g *Gateway) decodeSigned(w http.ResponseWriter, r *http.Request, dst any) (auth.SignerSet, error) {
	var req SignedRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("reading body: %v", err)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("invalid JSON: %v", err)
	}
	if len(req.Payload) == 0 {
		return nil, badRequest("payload is required")
	}
	if err := unmarshalValid(req.Payload, dst); err != nil {
		return nil, err
	}

	signers, err := g.verifier.Verify(req.Payload, req.Signatures)
	if errors.Is(err, auth.ErrBusy) {
		g.logger.Warn("replay cache full, refusing signed request", "path", r.URL.Path)
		return nil, &requestError{status: http.StatusServiceUnavailable, msg: err.Error(), code: "BUSY"}
	}
	if err != nil {
		return nil, &requestError{status: http.StatusUnauthorized, msg: err.Error()}
	}

	for _, key := range signers.Keys() {
		if !g.identityLimiter.Allow(key.String()) {
			g.logger.Warn("identity rate limited", "signer", key, "path", r.URL.Path)
			return nil, errRateLimited
		}
	}
	g.logger.Debug("verified request", "path", r.URL.Path, "signers", signers.Keys())
	return signers, nil
}

func parseKey(field, value string) (keys.PublicKey, error) {
	k, err := keys.ParsePublicKey(value)
	if err != nil {
		return keys.PublicKey{}, badRequest("%s: %v", field, err)
	}
	return k, nil
}

// handleGetGateway returns the verified gateway record.
func (g *Gateway) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	gw, err := g.program.Gateway(r.Context())
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, g.gatewayResponse(gw))
}

// handleInitialize creates the gateway record.
func (g *Gateway) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var p InitializePayload
	signers, err := g.decodeSigned(w, r, &p)
	if err != nil {
		g.sendError(w, err)
		return
	}
	authority, err := parseKey("authority", p.Authority)
	if err != nil {
		g.sendError(w, err)
		return
	}

	gw, err := g.program.Initialize(r.Context(), program.InitializeRequest{
		Authority: authority,
		Fee:       p.Fee,
		Signers:   signers,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, g.gatewayResponse(gw))
}

// handlePayment processes a payment.
func (g *Gateway) handlePayment(w http.ResponseWriter, r *http.Request) {
	var p PaymentPayload
	signers, err := g.decodeSigned(w, r, &p)
	if err != nil {
		g.sendError(w, err)
		return
	}

	payer, err := parseKey("payer", p.Payer)
	if err != nil {
		g.sendError(w, err)
		return
	}
	source, err := parseKey("source", p.Source)
	if err != nil {
		g.sendError(w, err)
		return
	}
	destination := g.treasury
	if p.Destination != "" {
		if destination, err = parseKey("destination", p.Destination); err != nil {
			g.sendError(w, err)
			return
		}
	}
	if destination.IsZero() {
		g.sendError(w, badRequest("destination is required: no treasury configured"))
		return
	}

	ev, err := g.program.ProcessPayment(r.Context(), program.PaymentRequest{
		Payer:       payer,
		Source:      source,
		Destination: destination,
		Amount:      p.Amount,
		Nonce:       p.Nonce,
		Signers:     signers,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}

	g.sendJSON(w, http.StatusCreated, PaymentResponse{
		EventID:       ev.ID,
		Seq:           ev.Seq,
		Payer:         ev.Actor.String(),
		Amount:        ev.Amount,
		AmountDisplay: store.FormatAmount(ev.Amount),
		Nonce:         ev.Nonce,
		Timestamp:     ev.Timestamp,
	})
}

// handleUpdateFee changes the fee.
func (g *Gateway) handleUpdateFee(w http.ResponseWriter, r *http.Request) {
	var p UpdateFeePayload
	signers, err := g.decodeSigned(w, r, &p)
	if err != nil {
		g.sendError(w, err)
		return
	}
	authority, err := parseKey("authority", p.Authority)
	if err != nil {
		g.sendError(w, err)
		return
	}

	gw, err := g.program.UpdateFee(r.Context(), program.UpdateFeeRequest{
		Authority: authority,
		NewFee:    p.NewFee,
		Signers:   signers,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, g.gatewayResponse(gw))
}

// parseEventFilter reads kind, actor, after and limit query parameters.
func parseEventFilter(r *http.Request) (store.EventFilter, error) {
	var filter store.EventFilter
	q := r.URL.Query()

	if v := q.Get("kind"); v != "" {
		kind := store.EventKind(v)
		if !kind.Valid() {
			return filter, badRequest("unknown event kind %q", v)
		}
		filter.Kind = &kind
	}
	if v := q.Get("actor"); v != "" {
		actor, err := parseKey("actor", v)
		if err != nil {
			return filter, err
		}
		filter.Actor = &actor
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil || after < 0 {
			return filter, badRequest("after must be a non-negative integer")
		}
		filter.AfterSeq = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, badRequest("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// handleListEvents returns a page of committed events.
func (g *Gateway) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		g.sendError(w, err)
		return
	}

	evs, err := g.store.ListEvents(r.Context(), filter)
	if err != nil {
		g.sendError(w, err)
		return
	}

	resp := EventListResponse{Events: make([]EventResponse, 0, len(evs)), LastSeq: filter.AfterSeq}
	for _, ev := range evs {
		resp.Events = append(resp.Events, eventResponse(ev))
		resp.LastSeq = ev.Seq
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// statusForKind maps program error kinds to HTTP status codes.
var statusForKind = map[program.Kind]int{
	program.KindAlreadyInitialized:  http.StatusConflict,
	program.KindRecordNotFound:      http.StatusNotFound,
	program.KindAddressMismatch:     http.StatusInternalServerError,
	program.KindInsufficientPayment: http.StatusPaymentRequired,
	program.KindTransferFailed:      http.StatusUnprocessableEntity,
	program.KindUnauthorized:        http.StatusForbidden,
	program.KindMissingSignature:    http.StatusUnauthorized,
}

// sendError writes err as a JSON error with a status derived from its type.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		if reqErr.status == http.StatusTooManyRequests || reqErr.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		g.sendJSONError(w, reqErr.status, reqErr.msg, reqErr.code)
		return
	case errors.Is(err, store.ErrConflict):
		g.sendJSONError(w, http.StatusConflict, "concurrent update, retry the request", "CONFLICT")
		return
	}

	if kind := program.KindOf(err); kind != "" {
		status, ok := statusForKind[kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			g.logger.Error("operation failed", "kind", kind, "error", err)
		}
		g.sendJSONError(w, status, err.Error(), string(kind))
		return
	}

	g.logger.Error("request failed", "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "")
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message, code string) {
	g.sendJSON(w, status, ErrorResponse{Error: message, Code: code})
}
