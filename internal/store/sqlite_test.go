// ABOUTME: Tests for the SQL store on SQLite
// ABOUTME: Covers schema creation, gateway and token account persistence, events and rollback

package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// newTestStore creates a SQLite store in a temp directory.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testGateway() *Gateway {
	now := time.Now().UTC().Truncate(time.Second)
	return &Gateway{
		Address:   keys.FromSeed("gateway-address"),
		Authority: keys.FromSeed("authority"),
		Fee:       1_000_000,
		Bump:      254,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	gw := testGateway()
	err = s.WithTx(context.Background(), func(tx Tx) error {
		return tx.CreateGateway(context.Background(), gw)
	})
	require.NoError(t, err)
}

func TestSQLStore_GatewayLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := testGateway()

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateGateway(ctx, gw)
	}))

	var got *Gateway
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.GetGateway(ctx, gw.Address)
		return err
	}))
	assert.Equal(t, gw.Address, got.Address)
	assert.Equal(t, gw.Authority, got.Authority)
	assert.Equal(t, gw.Fee, got.Fee)
	assert.Equal(t, gw.Bump, got.Bump)
	assert.True(t, gw.CreatedAt.Equal(got.CreatedAt))

	later := gw.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateGatewayFee(ctx, gw.Address, 2_500_000, later)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.GetGateway(ctx, gw.Address)
		return err
	}))
	assert.Equal(t, uint64(2_500_000), got.Fee)
	assert.True(t, later.Equal(got.UpdatedAt))
	assert.Equal(t, gw.Authority, got.Authority, "authority is unchanged by fee updates")
}

func TestSQLStore_CreateGatewayTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := testGateway()

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateGateway(ctx, gw)
	}))

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateGateway(ctx, gw)
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSQLStore_GetGatewayNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.GetGateway(ctx, keys.FromSeed("missing"))
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_UpdateFeeNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateGatewayFee(ctx, keys.FromSeed("missing"), 1, time.Now())
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_MaxUint64RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := testGateway()
	gw.Fee = math.MaxUint64

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateGateway(ctx, gw)
	}))

	var got *Gateway
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.GetGateway(ctx, gw.Address)
		return err
	}))
	assert.Equal(t, uint64(math.MaxUint64), got.Fee)
}

func TestSQLStore_TokenAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := &TokenAccount{
		Address:   keys.FromSeed("acct"),
		Mint:      keys.FromSeed("mint"),
		Owner:     keys.FromSeed("owner"),
		Balance:   42,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateTokenAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.SetTokenBalance(ctx, acct.Address, 100); err != nil {
			return err
		}
		return tx.SetTokenFrozen(ctx, acct.Address, true)
	}))

	var got *TokenAccount
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.GetTokenAccount(ctx, acct.Address)
		return err
	}))
	assert.Equal(t, acct.Mint, got.Mint)
	assert.Equal(t, acct.Owner, got.Owner)
	assert.Equal(t, uint64(100), got.Balance)
	assert.True(t, got.Frozen)

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateTokenAccount(ctx, acct)
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.SetTokenBalance(ctx, keys.FromSeed("nobody"), 1)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := testGateway()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateGateway(ctx, gw); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &Event{Kind: EventGatewayInitialized, Gateway: gw.Address, Actor: gw.Authority}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.GetGateway(ctx, gw.Address)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound, "gateway write should be rolled back")

	events, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events, "event write should be rolled back")
}

func TestSQLStore_RollbackOnPanic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := testGateway()

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(tx Tx) error {
			if err := tx.CreateGateway(ctx, gw); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	})

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.GetGateway(ctx, gw.Address)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_Events(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := testGateway()
	alice := keys.FromSeed("alice")
	bob := keys.FromSeed("bob")

	var first *Event
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		first = &Event{Kind: EventGatewayInitialized, Gateway: gw.Address, Actor: gw.Authority, NewFee: 1_000_000, Timestamp: 100}
		if err := tx.AppendEvent(ctx, first); err != nil {
			return err
		}
		for i, payer := range []keys.PublicKey{alice, bob, alice} {
			ev := &Event{Kind: EventPaymentProcessed, Gateway: gw.Address, Actor: payer, Amount: 1_500_000, Nonce: uint64(i), Timestamp: int64(101 + i)}
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}))
	assert.NotEmpty(t, first.ID, "ID should be generated")
	assert.Positive(t, first.Seq)

	all, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq)
	}
	assert.Equal(t, EventGatewayInitialized, all[0].Kind)
	assert.Equal(t, uint64(1_000_000), all[0].NewFee)

	kind := EventPaymentProcessed
	payments, err := s.ListEvents(ctx, EventFilter{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, payments, 3)

	fromAlice, err := s.ListEvents(ctx, EventFilter{Actor: &alice})
	require.NoError(t, err)
	require.Len(t, fromAlice, 2)
	assert.Equal(t, PaymentRecord{Payer: alice, Amount: 1_500_000, Nonce: 2, Timestamp: 103}, fromAlice[1].PaymentRecord())

	after, err := s.ListEvents(ctx, EventFilter{AfterSeq: all[1].Seq, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, all[2].ID, after[0].ID)
}

func TestSQLStore_EventLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payer := keys.FromSeed("alice")

	latest, err := s.LatestEventSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	ev := &Event{Kind: EventPaymentProcessed, Gateway: testGateway().Address, Actor: payer, Amount: 7, Nonce: 42, Timestamp: 100}
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.AppendEvent(ctx, ev)
	}))

	latest, err = s.LatestEventSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, ev.Seq, latest)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		byID, err := tx.GetEventByID(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, ev, byID)

		bySeq, err := tx.GetEventBySeq(ctx, ev.Seq)
		require.NoError(t, err)
		assert.Equal(t, ev, bySeq)

		_, err = tx.GetEventByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = tx.GetEventBySeq(ctx, ev.Seq+1)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestSQLStore_Verifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payer := keys.FromSeed("alice")
	now := time.Now().UTC().Truncate(time.Second)

	first := &Event{Kind: EventPaymentProcessed, Gateway: testGateway().Address, Actor: payer, Amount: 7, Nonce: 42, Timestamp: 100}
	second := &Event{Kind: EventPaymentProcessed, Gateway: testGateway().Address, Actor: payer, Amount: 7, Nonce: 42, Timestamp: 101}
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.AppendEvent(ctx, first); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, second)
	}))

	record := func(ev *Event) error {
		return s.WithTx(ctx, func(tx Tx) error {
			return tx.RecordVerification(ctx, &Verification{Payer: payer, Nonce: ev.Nonce, EventID: ev.ID, VerifiedAt: now})
		})
	}

	require.NoError(t, record(first))
	assert.ErrorIs(t, record(first), ErrAlreadyExists)
	assert.ErrorIs(t, record(second), ErrAlreadyExists, "same payer and nonce on another event")

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		v, err := tx.GetVerification(ctx, payer, 42)
		require.NoError(t, err)
		assert.Equal(t, first.ID, v.EventID)
		assert.Equal(t, now, v.VerifiedAt)

		_, err = tx.GetVerification(ctx, payer, 43)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestSQLStore_AppendEventRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.AppendEvent(ctx, &Event{Kind: "bogus"})
	})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	sqlite := &SQLStore{dialect: sqliteDialect}
	pg := &SQLStore{dialect: postgresDialect}

	query := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, query, sqlite.rebind(query))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind(query))
}

func TestNormalizeEventLimit(t *testing.T) {
	assert.Equal(t, 100, NormalizeEventLimit(0))
	assert.Equal(t, 100, NormalizeEventLimit(-5))
	assert.Equal(t, 7, NormalizeEventLimit(7))
	assert.Equal(t, 1000, NormalizeEventLimit(5000))
}
