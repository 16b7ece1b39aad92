// ABOUTME: Admin endpoints for token accounts backing payments
// ABOUTME: Writes must be signed by the gateway authority; only routed when program.admin_api is set

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/program"
	"github.com/2389/pulsar-gateway/internal/store"
	"github.com/2389/pulsar-gateway/internal/token"
)

// OpenAccountRequest creates a token account. Owner "gateway" names the
// gateway's own address, which is how the treasury is opened.
type OpenAccountRequest struct {
	Authority string `json:"authority" validate:"required,len=64,hexadecimal"`
	Address   string `json:"address,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Owner     string `json:"owner" validate:"required"`
	Mint      string `json:"mint,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// MintRequest credits Address, which must match the URL.
type MintRequest struct {
	Authority string `json:"authority" validate:"required,len=64,hexadecimal"`
	Address   string `json:"address" validate:"required,len=64,hexadecimal"`
	Amount    uint64 `json:"amount" validate:"gt=0"`
}

// FreezeRequest freezes or thaws Address. Address and Frozen must match the URL.
type FreezeRequest struct {
	Authority string `json:"authority" validate:"required,len=64,hexadecimal"`
	Address   string `json:"address" validate:"required,len=64,hexadecimal"`
	Frozen    bool   `json:"frozen"`
}

// AccountResponse is the JSON form of a token account.
type AccountResponse struct {
	Address        string    `json:"address"`
	Mint           string    `json:"mint"`
	Owner          string    `json:"owner"`
	Balance        uint64    `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	Frozen         bool      `json:"frozen"`
	CreatedAt      time.Time `json:"created_at"`
}

func accountResponse(a *store.TokenAccount) AccountResponse {
	return AccountResponse{
		Address:        a.Address.String(),
		Mint:           a.Mint.String(),
		Owner:          a.Owner.String(),
		Balance:        a.Balance,
		BalanceDisplay: store.FormatAmount(a.Balance),
		Frozen:         a.Frozen,
		CreatedAt:      a.CreatedAt,
	}
}

// adminPayload is a signed admin request naming the authority that signed it.
type adminPayload interface {
	authority() string
}

func (r *OpenAccountRequest) authority() string { return r.Authority }
func (r *MintRequest) authority() string        { return r.Authority }
func (r *FreezeRequest) authority() string      { return r.Authority }

// adminTx decodes a signed admin request into dst and runs fn in a
// transaction after checking that the gateway authority signed it.
func (g *Gateway) adminTx(w http.ResponseWriter, r *http.Request, dst adminPayload, fn func(ctx context.Context, tx store.Tx) error) error {
	signers, err := g.decodeSigned(w, r, dst)
	if err != nil {
		return err
	}
	authority, err := parseKey("authority", dst.authority())
	if err != nil {
		return err
	}

	ctx := r.Context()
	return g.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := g.program.Authorize(ctx, tx, authority, signers); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// pathAccount parses {address} and checks that the signed payload names the same account.
func pathAccount(r *http.Request, signed string) (keys.PublicKey, error) {
	address, err := parseKey("address", r.PathValue("address"))
	if err != nil {
		return keys.PublicKey{}, err
	}
	if signed != address.String() {
		return keys.PublicKey{}, badRequest("signed address %s does not match %s", signed, address)
	}
	return address, nil
}

// handleOpenAccount handles POST /api/accounts.
func (g *Gateway) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var (
		req  OpenAccountRequest
		acct *store.TokenAccount
	)
	err := g.adminTx(w, r, &req, func(ctx context.Context, tx store.Tx) error {
		var (
			owner, address keys.PublicKey
			err            error
		)
		if req.Owner == "gateway" {
			owner = g.program.Address()
		} else if owner, err = parseKey("owner", req.Owner); err != nil {
			return err
		}

		mint := g.config.Program.Mint
		if req.Mint != "" {
			if mint, err = parseKey("mint", req.Mint); err != nil {
				return err
			}
		}
		if req.Address != "" {
			if address, err = parseKey("address", req.Address); err != nil {
				return err
			}
		}

		acct, err = g.ledger.OpenAccount(ctx, tx, address, mint, owner)
		return err
	})
	if err != nil {
		g.sendAccountError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, accountResponse(acct))
}

// handleGetAccount handles GET /api/accounts/{address}.
func (g *Gateway) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	address, err := parseKey("address", r.PathValue("address"))
	if err != nil {
		g.sendError(w, err)
		return
	}

	var acct *store.TokenAccount
	err = g.store.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		acct, err = tx.GetTokenAccount(r.Context(), address)
		return err
	})
	if err != nil {
		g.sendAccountError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, accountResponse(acct))
}

// handleMint handles POST /api/accounts/{address}/mint.
func (g *Gateway) handleMint(w http.ResponseWriter, r *http.Request) {
	var (
		req  MintRequest
		acct *store.TokenAccount
	)
	err := g.adminTx(w, r, &req, func(ctx context.Context, tx store.Tx) error {
		address, err := pathAccount(r, req.Address)
		if err != nil {
			return err
		}
		if _, err := g.ledger.MintTo(ctx, tx, address, req.Amount); err != nil {
			return err
		}
		acct, err = tx.GetTokenAccount(ctx, address)
		return err
	})
	if err != nil {
		g.sendAccountError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, accountResponse(acct))
}

// handleFreeze handles POST /api/accounts/{address}/freeze and /thaw.
func (g *Gateway) handleFreeze(frozen bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			req  FreezeRequest
			acct *store.TokenAccount
		)
		err := g.adminTx(w, r, &req, func(ctx context.Context, tx store.Tx) error {
			address, err := pathAccount(r, req.Address)
			if err != nil {
				return err
			}
			if req.Frozen != frozen {
				return badRequest("signed request sets frozen=%t", req.Frozen)
			}

			if frozen {
				err = g.ledger.Freeze(ctx, tx, address)
			} else {
				err = g.ledger.Thaw(ctx, tx, address)
			}
			if err != nil {
				return err
			}
			acct, err = tx.GetTokenAccount(ctx, address)
			return err
		})
		if err != nil {
			g.sendAccountError(w, err)
			return
		}
		g.sendJSON(w, http.StatusOK, accountResponse(acct))
	}
}

// sendAccountError maps ledger errors before falling back to sendError.
func (g *Gateway) sendAccountError(w http.ResponseWriter, err error) {
	switch {
	case program.KindOf(err) != "":
		g.sendError(w, err)
	case errors.Is(err, token.ErrAccountNotFound), errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "token account not found", "")
	case errors.Is(err, token.ErrAccountExists):
		g.sendJSONError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, token.ErrAccountFrozen), errors.Is(err, token.ErrOverflow):
		g.sendJSONError(w, http.StatusUnprocessableEntity, err.Error(), "")
	default:
		g.sendError(w, err)
	}
}
