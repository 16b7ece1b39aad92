// ABOUTME: Tests for the token ledger
// ABOUTME: Covers transfers and their failure modes, account opening, minting, freezing and associated addresses

package token

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

var (
	mint  = keys.FromSeed("mint")
	alice = keys.FromSeed("alice")
	bob   = keys.FromSeed("bob")
)

type fixture struct {
	ledger *Ledger
	store  *store.MockStore
	src    keys.PublicKey
	dst    keys.PublicKey
}

func newFixture(t *testing.T, srcBalance, dstBalance uint64) *fixture {
	t.Helper()
	f := &fixture{
		ledger: NewLedger(nil),
		store:  store.NewMockStore(),
		src:    keys.FromSeed("alice-account"),
		dst:    keys.FromSeed("bob-account"),
	}
	f.store.PutTokenAccount(&store.TokenAccount{Address: f.src, Mint: mint, Owner: alice, Balance: srcBalance})
	f.store.PutTokenAccount(&store.TokenAccount{Address: f.dst, Mint: mint, Owner: bob, Balance: dstBalance})
	return f
}

func (f *fixture) transfer(t *testing.T, p TransferParams) error {
	t.Helper()
	return f.store.WithTx(context.Background(), func(tx store.Tx) error {
		return f.ledger.Transfer(context.Background(), tx, p)
	})
}

func (f *fixture) balance(t *testing.T, addr keys.PublicKey) uint64 {
	t.Helper()
	var balance uint64
	require.NoError(t, f.store.WithTx(context.Background(), func(tx store.Tx) error {
		acct, err := tx.GetTokenAccount(context.Background(), addr)
		if err != nil {
			return err
		}
		balance = acct.Balance
		return nil
	}))
	return balance
}

func TestTransfer_MovesExactAmount(t *testing.T) {
	f := newFixture(t, 5_000_000, 0)

	err := f.transfer(t, TransferParams{Source: f.src, Destination: f.dst, Authority: alice, Amount: 1_500_000})
	require.NoError(t, err)

	assert.Equal(t, uint64(3_500_000), f.balance(t, f.src))
	assert.Equal(t, uint64(1_500_000), f.balance(t, f.dst))
}

func TestTransfer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		params  func(f *fixture) TransferParams
		wantErr error
	}{
		{
			name: "insufficient funds",
			params: func(f *fixture) TransferParams {
				return TransferParams{Source: f.src, Destination: f.dst, Authority: alice, Amount: 5_000_001}
			},
			wantErr: ErrInsufficientFunds,
		},
		{
			name: "wrong owner",
			params: func(f *fixture) TransferParams {
				return TransferParams{Source: f.src, Destination: f.dst, Authority: bob, Amount: 1}
			},
			wantErr: ErrOwnerMismatch,
		},
		{
			name: "missing destination",
			params: func(f *fixture) TransferParams {
				return TransferParams{Source: f.src, Destination: keys.FromSeed("nowhere"), Authority: alice, Amount: 1}
			},
			wantErr: ErrAccountNotFound,
		},
		{
			name: "missing source",
			params: func(f *fixture) TransferParams {
				return TransferParams{Source: keys.FromSeed("nowhere"), Destination: f.dst, Authority: alice, Amount: 1}
			},
			wantErr: ErrAccountNotFound,
		},
		{
			name: "mint mismatch",
			setup: func(f *fixture) {
				f.store.PutTokenAccount(&store.TokenAccount{Address: f.dst, Mint: keys.FromSeed("other-mint"), Owner: bob})
			},
			params: func(f *fixture) TransferParams {
				return TransferParams{Source: f.src, Destination: f.dst, Authority: alice, Amount: 1}
			},
			wantErr: ErrMintMismatch,
		},
		{
			name: "frozen destination",
			setup: func(f *fixture) {
				f.store.PutTokenAccount(&store.TokenAccount{Address: f.dst, Mint: mint, Owner: bob, Frozen: true})
			},
			params: func(f *fixture) TransferParams {
				return TransferParams{Source: f.src, Destination: f.dst, Authority: alice, Amount: 1}
			},
			wantErr: ErrAccountFrozen,
		},
		{
			name: "overflow",
			setup: func(f *fixture) {
				f.store.PutTokenAccount(&store.TokenAccount{Address: f.dst, Mint: mint, Owner: bob, Balance: math.MaxUint64})
			},
			params: func(f *fixture) TransferParams {
				return TransferParams{Source: f.src, Destination: f.dst, Authority: alice, Amount: 1}
			},
			wantErr: ErrOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5_000_000, 0)
			if tt.setup != nil {
				tt.setup(f)
			}

			err := f.transfer(t, tt.params(f))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, uint64(5_000_000), f.balance(t, f.src), "source balance must be untouched")
		})
	}
}

func TestTransfer_SelfTransferIsNoop(t *testing.T) {
	f := newFixture(t, 10, 0)

	require.NoError(t, f.transfer(t, TransferParams{Source: f.src, Destination: f.src, Authority: alice, Amount: 10}))
	assert.Equal(t, uint64(10), f.balance(t, f.src))
}

func TestOpenAccountAndMint(t *testing.T) {
	l := NewLedger(nil)
	m := store.NewMockStore()
	ctx := context.Background()

	var opened *store.TokenAccount
	require.NoError(t, m.WithTx(ctx, func(tx store.Tx) error {
		var err error
		opened, err = l.OpenAccount(ctx, tx, keys.PublicKey{}, mint, alice)
		if err != nil {
			return err
		}
		balance, err := l.MintTo(ctx, tx, opened.Address, 7_000_000)
		assert.Equal(t, uint64(7_000_000), balance)
		return err
	}))

	want, err := AssociatedAddress(alice, mint)
	require.NoError(t, err)
	assert.Equal(t, want, opened.Address)

	err = m.WithTx(ctx, func(tx store.Tx) error {
		_, err := l.OpenAccount(ctx, tx, keys.PublicKey{}, mint, alice)
		return err
	})
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestFreezeThaw(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()

	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		return f.ledger.Freeze(ctx, tx, f.src)
	}))
	err := f.transfer(t, TransferParams{Source: f.src, Destination: f.dst, Authority: alice, Amount: 1})
	assert.ErrorIs(t, err, ErrAccountFrozen)

	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		return f.ledger.Thaw(ctx, tx, f.src)
	}))
	assert.NoError(t, f.transfer(t, TransferParams{Source: f.src, Destination: f.dst, Authority: alice, Amount: 1}))

	err = f.store.WithTx(ctx, func(tx store.Tx) error {
		return f.ledger.Freeze(ctx, tx, keys.FromSeed("nowhere"))
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAssociatedAddress_DistinctPerOwner(t *testing.T) {
	a, err := AssociatedAddress(alice, mint)
	require.NoError(t, err)
	b, err := AssociatedAddress(bob, mint)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
