// ABOUTME: Property-based tests for gateway operations using gopter
// ABOUTME: Fee round trips, the payment threshold and the authority guard hold for arbitrary values

package program

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/2389/pulsar-gateway/internal/auth"
	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

func newPropertyProgram(transfers *recordingTransferrer) (*Program, *store.MockStore) {
	s := store.NewMockStore()
	prog, err := New(s, Options{
		Transfers: transfers,
		Clock:     ClockFunc(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	})
	if err != nil {
		panic(err)
	}
	return prog, s
}

func TestInitializeStoresExactFee(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("load returns the initial fee and authority", prop.ForAll(
		func(fee uint64, label string) bool {
			prog, _ := newPropertyProgram(&recordingTransferrer{})
			authority := keys.FromSeed(label)
			ctx := context.Background()

			if _, err := prog.Initialize(ctx, InitializeRequest{Authority: authority, Fee: fee, Signers: auth.NewSignerSet(authority)}); err != nil {
				return false
			}
			gw, err := prog.Gateway(ctx)
			return err == nil && gw.Fee == fee && gw.Authority == authority
		},
		gen.UInt64(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestPaymentThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("payments below the fee never transfer or emit", prop.ForAll(
		func(fee, amount, nonce uint64) bool {
			transfers := &recordingTransferrer{}
			prog, s := newPropertyProgram(transfers)
			ctx := context.Background()

			if _, err := prog.Initialize(ctx, InitializeRequest{Authority: authorityA, Fee: fee, Signers: auth.NewSignerSet(authorityA)}); err != nil {
				return false
			}

			ev, err := prog.ProcessPayment(ctx, PaymentRequest{
				Payer: payerB, Source: sourceB, Destination: treasury,
				Amount: amount, Nonce: nonce, Signers: auth.NewSignerSet(payerB),
			})

			kind := store.EventPaymentProcessed
			emitted, listErr := s.ListEvents(ctx, store.EventFilter{Kind: &kind})
			if listErr != nil {
				return false
			}
			calls := transfers.Calls()

			if amount < fee {
				return errors.Is(err, ErrInsufficientPayment) && len(calls) == 0 && len(emitted) == 0
			}
			return err == nil &&
				len(calls) == 1 && calls[0].Amount == amount &&
				len(emitted) == 1 &&
				ev.Actor == payerB && ev.Amount == amount && ev.Nonce == nonce
		},
		gen.UInt64Range(0, 10_000_000),
		gen.UInt64Range(0, 10_000_000),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestFeeAuthorityGuard(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("only the authority changes the fee", prop.ForAll(
		func(initial, next uint64, callerLabel string) bool {
			prog, _ := newPropertyProgram(&recordingTransferrer{})
			ctx := context.Background()
			caller := keys.FromSeed("caller:" + callerLabel)

			if _, err := prog.Initialize(ctx, InitializeRequest{Authority: authorityA, Fee: initial, Signers: auth.NewSignerSet(authorityA)}); err != nil {
				return false
			}

			_, err := prog.UpdateFee(ctx, UpdateFeeRequest{Authority: caller, NewFee: next, Signers: auth.NewSignerSet(caller)})
			if !errors.Is(err, ErrUnauthorized) {
				return false
			}
			gw, err := prog.Gateway(ctx)
			if err != nil || gw.Fee != initial {
				return false
			}

			for i := 0; i < 2; i++ {
				if _, err := prog.UpdateFee(ctx, UpdateFeeRequest{Authority: authorityA, NewFee: next, Signers: auth.NewSignerSet(authorityA)}); err != nil {
					return false
				}
			}
			gw, err = prog.Gateway(ctx)
			return err == nil && gw.Fee == next
		},
		gen.UInt64(),
		gen.UInt64(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
