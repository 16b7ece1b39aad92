// ABOUTME: Tests for event notifiers
// ABOUTME: Covers broadcaster fan-out and cleanup, Redis XADD arguments and Multi error joining

package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

func paymentEvent(nonce uint64) *store.Event {
	return &store.Event{
		Seq:       int64(nonce + 1),
		ID:        "ev",
		Kind:      store.EventPaymentProcessed,
		Gateway:   keys.FromSeed("gw"),
		Actor:     keys.FromSeed("payer"),
		Amount:    1_000_000,
		Nonce:     nonce,
		Timestamp: 1_700_000_000,
	}
}

func TestBroadcaster_KindAndAllTopics(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payments, _ := b.Subscribe(ctx, store.EventPaymentProcessed)
	fees, _ := b.Subscribe(ctx, store.EventFeeUpdated)
	all, _ := b.Subscribe(ctx, "")

	require.NoError(t, b.Notify(ctx, paymentEvent(7)))

	select {
	case ev := <-payments:
		assert.Equal(t, uint64(7), ev.Nonce)
	case <-time.After(time.Second):
		t.Fatal("payment subscriber got nothing")
	}
	select {
	case ev := <-all:
		assert.Equal(t, uint64(7), ev.Nonce)
	case <-time.After(time.Second):
		t.Fatal("all-kinds subscriber got nothing")
	}
	select {
	case ev := <-fees:
		t.Fatalf("fee subscriber got %v", ev)
	default:
	}
}

func TestBroadcaster_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "")
	for i := 0; i < subscriberBufferSize+10; i++ {
		require.NoError(t, b.Notify(context.Background(), paymentEvent(uint64(i))))
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := b.Subscribe(ctx, store.EventFeeUpdated)
	assert.Equal(t, 1, b.SubscriberCount())

	cancel()
	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-ch
	assert.False(t, open, "channel should be closed")
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(context.Background(), "")
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe(context.Background(), "")
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}

// fakeStream records XADD calls.
type fakeStream struct {
	calls []*redis.XAddArgs
	err   error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.calls = append(f.calls, a)
	return redis.NewStringResult("1700000000000-0", f.err)
}

func TestRedisStream_Notify(t *testing.T) {
	fake := &fakeStream{}
	r := newRedisStream(fake, "", 1000, nil)

	ev := paymentEvent(42)
	ev.Amount = 18446744073709551615
	require.NoError(t, r.Notify(context.Background(), ev))

	require.Len(t, fake.calls, 1)
	args := fake.calls[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "payment_processed", values["kind"])
	assert.Equal(t, "18446744073709551615", values["amount"])
	assert.Equal(t, "42", values["nonce"])
	assert.Equal(t, ev.Actor.String(), values["actor"])
}

func TestRedisStream_Unbounded(t *testing.T) {
	fake := &fakeStream{}
	r := newRedisStream(fake, "custom", 0, nil)

	require.NoError(t, r.Notify(context.Background(), paymentEvent(1)))
	assert.Equal(t, "custom", fake.calls[0].Stream)
	assert.Zero(t, fake.calls[0].MaxLen)
}

func TestRedisStream_Error(t *testing.T) {
	fake := &fakeStream{err: errors.New("connection refused")}
	r := newRedisStream(fake, "s", 0, nil)

	err := r.Notify(context.Background(), paymentEvent(1))
	assert.ErrorContains(t, err, "connection refused")
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	var delivered []string
	ok := NotifierFunc(func(_ context.Context, ev *store.Event) error {
		delivered = append(delivered, "ok")
		return nil
	})
	boom := errors.New("boom")
	failing := NotifierFunc(func(_ context.Context, ev *store.Event) error {
		delivered = append(delivered, "failing")
		return boom
	})

	m := NewMulti(nil, failing, nil, ok)
	err := m.Notify(context.Background(), paymentEvent(1))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"failing", "ok"}, delivered)
	assert.NoError(t, Discard.Notify(context.Background(), paymentEvent(1)))
}
