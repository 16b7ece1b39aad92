// ABOUTME: HTTP client for the pulsar-gateway API
// ABOUTME: Signs request envelopes with an SSH key and decodes JSON responses and errors

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/pulsar-gateway/internal/auth"
	"github.com/2389/pulsar-gateway/internal/gateway"
	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status  int
	Code    string // program error kind, empty for transport level errors
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error (%d): %s", e.Status, e.Message)
}

// Client talks to a gateway over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	signer  ssh.Signer
}

// Option configures a Client.
type Option func(*Client)

// WithSigner sets the key used to sign mutating requests.
func WithSigner(signer ssh.Signer) Option {
	return func(c *Client) { c.signer = signer }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the public key of the configured signer.
func (c *Client) Identity() (keys.PublicKey, error) {
	if c.signer == nil {
		return keys.PublicKey{}, fmt.Errorf("no signing key configured")
	}
	return auth.PublicKeyFromSSH(c.signer.PublicKey())
}

// Initialize creates the gateway with the signer as authority.
func (c *Client) Initialize(ctx context.Context, fee uint64) (*gateway.GatewayResponse, error) {
	authority, err := c.Identity()
	if err != nil {
		return nil, err
	}
	var resp gateway.GatewayResponse
	err = c.postSigned(ctx, "/api/gateway/initialize", gateway.InitializePayload{
		Authority: authority.String(),
		Fee:       fee,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PaymentParams describes a payment made by the signer.
type PaymentParams struct {
	Source      keys.PublicKey
	Destination keys.PublicKey // zero pays the gateway treasury
	Amount      uint64
	Nonce       uint64
}

// Pay processes a payment with the signer as payer.
func (c *Client) Pay(ctx context.Context, p PaymentParams) (*gateway.PaymentResponse, error) {
	payer, err := c.Identity()
	if err != nil {
		return nil, err
	}
	payload := gateway.PaymentPayload{
		Payer:  payer.String(),
		Source: p.Source.String(),
		Amount: p.Amount,
		Nonce:  p.Nonce,
	}
	if !p.Destination.IsZero() {
		payload.Destination = p.Destination.String()
	}

	var resp gateway.PaymentResponse
	if err := c.postSigned(ctx, "/api/payments", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetFee changes the fee. The signer must be the authority.
func (c *Client) SetFee(ctx context.Context, fee uint64) (*gateway.GatewayResponse, error) {
	authority, err := c.Identity()
	if err != nil {
		return nil, err
	}
	var resp gateway.GatewayResponse
	err = c.postSigned(ctx, "/api/gateway/fee", gateway.UpdateFeePayload{
		Authority: authority.String(),
		NewFee:    fee,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Gateway fetches the gateway record.
func (c *Client) Gateway(ctx context.Context) (*gateway.GatewayResponse, error) {
	var resp gateway.GatewayResponse
	if err := c.do(ctx, http.MethodGet, "/api/gateway", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EventQuery filters Events and StreamEvents.
type EventQuery struct {
	Kind  store.EventKind
	Actor keys.PublicKey
	After int64
	Limit int
	// Replay makes StreamEvents send stored events past After before live
	// ones. Events ignores it.
	Replay bool
}

func (q EventQuery) values() url.Values {
	v := url.Values{}
	if q.Kind != "" {
		v.Set("kind", string(q.Kind))
	}
	if !q.Actor.IsZero() {
		v.Set("actor", q.Actor.String())
	}
	if q.After > 0 {
		v.Set("after", strconv.FormatInt(q.After, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Events lists committed events.
func (c *Client) Events(ctx context.Context, q EventQuery) (*gateway.EventListResponse, error) {
	path := "/api/events"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	var resp gateway.EventListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports whether the gateway is live.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	return nil
}

// OpenAccount creates a token account through the admin API, signed by the
// gateway authority. Owner may be "gateway" for the treasury; an empty mint
// uses the gateway's mint. An empty Authority is filled with the signer.
func (c *Client) OpenAccount(ctx context.Context, req gateway.OpenAccountRequest) (*gateway.AccountResponse, error) {
	if req.Authority == "" {
		authority, err := c.Identity()
		if err != nil {
			return nil, err
		}
		req.Authority = authority.String()
	}
	var resp gateway.AccountResponse
	if err := c.postSigned(ctx, "/api/accounts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Account fetches a token account through the admin API.
func (c *Client) Account(ctx context.Context, address keys.PublicKey) (*gateway.AccountResponse, error) {
	var resp gateway.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+address.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Mint credits a token account. The signer must be the gateway authority.
func (c *Client) Mint(ctx context.Context, address keys.PublicKey, amount uint64) (*gateway.AccountResponse, error) {
	authority, err := c.Identity()
	if err != nil {
		return nil, err
	}
	var resp gateway.AccountResponse
	err = c.postSigned(ctx, "/api/accounts/"+address.String()+"/mint", gateway.MintRequest{
		Authority: authority.String(),
		Address:   address.String(),
		Amount:    amount,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Freeze stops transfers out of and mints into a token account.
func (c *Client) Freeze(ctx context.Context, address keys.PublicKey) (*gateway.AccountResponse, error) {
	return c.setFrozen(ctx, address, true)
}

// Thaw reverses Freeze.
func (c *Client) Thaw(ctx context.Context, address keys.PublicKey) (*gateway.AccountResponse, error) {
	return c.setFrozen(ctx, address, false)
}

func (c *Client) setFrozen(ctx context.Context, address keys.PublicKey, frozen bool) (*gateway.AccountResponse, error) {
	authority, err := c.Identity()
	if err != nil {
		return nil, err
	}
	action := "thaw"
	if frozen {
		action = "freeze"
	}
	var resp gateway.AccountResponse
	err = c.postSigned(ctx, "/api/accounts/"+address.String()+"/"+action, gateway.FreezeRequest{
		Authority: authority.String(),
		Address:   address.String(),
		Frozen:    frozen,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Quote fetches the current price of a payment and where to send it.
func (c *Client) Quote(ctx context.Context) (*gateway.QuoteResponse, error) {
	var resp gateway.QuoteResponse
	if err := c.do(ctx, http.MethodGet, "/api/payments/quote", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyPayment redeems a processed payment against req's expectations. A
// payment that does not settle the request is reported as an *APIError whose
// Code is one of the gateway.Code constants.
func (c *Client) VerifyPayment(ctx context.Context, req gateway.VerifyPaymentRequest) (*gateway.VerifyPaymentResponse, error) {
	var resp gateway.VerifyPaymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// postSigned wraps payload in a signed envelope and posts it.
func (c *Client) postSigned(ctx context.Context, path string, payload, out any) error {
	if c.signer == nil {
		return fmt.Errorf("no signing key configured")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	sig, err := auth.Sign(c.signer, raw)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, gateway.SignedRequest{
		Payload:    raw,
		Signatures: []auth.Signature{sig},
	}, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// readError extracts an APIError from a failed response.
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{Status: resp.StatusCode}
	var errResp gateway.ErrorResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") &&
		json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Error
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
