// ABOUTME: Mock Store implementation for testing
// ABOUTME: Stages writes on a copy of the state and swaps it in on commit, so rollbacks leave no trace

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// mockState is the full contents of a MockStore.
type mockState struct {
	gateways map[keys.PublicKey]*Gateway
	accounts map[keys.PublicKey]*TokenAccount
	events   []*Event
	nextSeq  int64
	verified map[verificationKey]*Verification
}

type verificationKey struct {
	payer keys.PublicKey
	nonce uint64
}

func (s *mockState) clone() *mockState {
	c := &mockState{
		gateways: make(map[keys.PublicKey]*Gateway, len(s.gateways)),
		accounts: make(map[keys.PublicKey]*TokenAccount, len(s.accounts)),
		events:   make([]*Event, len(s.events), len(s.events)+1),
		nextSeq:  s.nextSeq,
		verified: make(map[verificationKey]*Verification, len(s.verified)),
	}
	for k, v := range s.gateways {
		gw := *v
		c.gateways[k] = &gw
	}
	for k, v := range s.accounts {
		acct := *v
		c.accounts[k] = &acct
	}
	copy(c.events, s.events)
	for k, v := range s.verified {
		c.verified[k] = v
	}
	return c
}

// MockStore is an in-memory Store implementation for testing.
// Transactions run one at a time.
type MockStore struct {
	mu    sync.Mutex
	state *mockState

	// CommitErr, when set, is returned by the next WithTx instead of
	// committing. It is cleared after use.
	CommitErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		state: &mockState{
			gateways: make(map[keys.PublicKey]*Gateway),
			accounts: make(map[keys.PublicKey]*TokenAccount),
			verified: make(map[verificationKey]*Verification),
		},
	}
}

// WithTx runs fn against a staged copy of the state.
func (m *MockStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.state.clone()
	if err := fn(&mockTx{state: staged}); err != nil {
		return err
	}

	if m.CommitErr != nil {
		err := m.CommitErr
		m.CommitErr = nil
		return err
	}

	m.state = staged
	return nil
}

// ListEvents returns committed events matching filter, oldest first.
func (m *MockStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := NormalizeEventLimit(filter.Limit)
	var result []*Event
	for _, ev := range m.state.events {
		if ev.Seq <= filter.AfterSeq {
			continue
		}
		if filter.Kind != nil && ev.Kind != *filter.Kind {
			continue
		}
		if filter.Actor != nil && ev.Actor != *filter.Actor {
			continue
		}
		e := *ev
		result = append(result, &e)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// LatestEventSeq returns the highest committed Seq.
func (m *MockStore) LatestEventSeq(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.state.events); n > 0 {
		return m.state.events[n-1].Seq, nil
	}
	return 0, nil
}

// AppendCommitted appends events as if each had committed in its own
// transaction, without notifying anyone.
func (m *MockStore) AppendCommitted(evs ...*Event) error {
	for _, ev := range evs {
		if err := m.WithTx(context.Background(), func(tx Tx) error {
			return tx.AppendEvent(context.Background(), ev)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// PutGateway stores a gateway record directly, bypassing transactions.
func (m *MockStore) PutGateway(gw *Gateway) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := *gw
	m.state.gateways[g.Address] = &g
}

// PutTokenAccount stores a token account directly, bypassing transactions.
func (m *MockStore) PutTokenAccount(acct *TokenAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *acct
	m.state.accounts[a.Address] = &a
}

// mockTx implements Tx over a staged mockState.
type mockTx struct {
	state *mockState
}

func (t *mockTx) GetGateway(ctx context.Context, address keys.PublicKey) (*Gateway, error) {
	gw, ok := t.state.gateways[address]
	if !ok {
		return nil, ErrNotFound
	}
	result := *gw
	return &result, nil
}

func (t *mockTx) CreateGateway(ctx context.Context, gw *Gateway) error {
	if _, ok := t.state.gateways[gw.Address]; ok {
		return ErrAlreadyExists
	}
	g := *gw
	t.state.gateways[g.Address] = &g
	return nil
}

func (t *mockTx) UpdateGatewayFee(ctx context.Context, address keys.PublicKey, fee uint64, updatedAt time.Time) error {
	gw, ok := t.state.gateways[address]
	if !ok {
		return ErrNotFound
	}
	gw.Fee = fee
	gw.UpdatedAt = updatedAt
	return nil
}

func (t *mockTx) GetTokenAccount(ctx context.Context, address keys.PublicKey) (*TokenAccount, error) {
	acct, ok := t.state.accounts[address]
	if !ok {
		return nil, ErrNotFound
	}
	result := *acct
	return &result, nil
}

func (t *mockTx) CreateTokenAccount(ctx context.Context, acct *TokenAccount) error {
	if _, ok := t.state.accounts[acct.Address]; ok {
		return ErrAlreadyExists
	}
	a := *acct
	t.state.accounts[a.Address] = &a
	return nil
}

func (t *mockTx) SetTokenBalance(ctx context.Context, address keys.PublicKey, balance uint64) error {
	acct, ok := t.state.accounts[address]
	if !ok {
		return ErrNotFound
	}
	acct.Balance = balance
	return nil
}

func (t *mockTx) SetTokenFrozen(ctx context.Context, address keys.PublicKey, frozen bool) error {
	acct, ok := t.state.accounts[address]
	if !ok {
		return ErrNotFound
	}
	acct.Frozen = frozen
	return nil
}

func (t *mockTx) AppendEvent(ctx context.Context, ev *Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("invalid event kind %q", ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	for _, existing := range t.state.events {
		if existing.ID == ev.ID {
			return ErrAlreadyExists
		}
	}
	t.state.nextSeq++
	ev.Seq = t.state.nextSeq
	e := *ev
	t.state.events = append(t.state.events, &e)
	return nil
}

func (t *mockTx) GetEventByID(ctx context.Context, id string) (*Event, error) {
	for _, ev := range t.state.events {
		if ev.ID == id {
			e := *ev
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (t *mockTx) GetEventBySeq(ctx context.Context, seq int64) (*Event, error) {
	for _, ev := range t.state.events {
		if ev.Seq == seq {
			e := *ev
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (t *mockTx) GetVerification(ctx context.Context, payer keys.PublicKey, nonce uint64) (*Verification, error) {
	v, ok := t.state.verified[verificationKey{payer, nonce}]
	if !ok {
		return nil, ErrNotFound
	}
	result := *v
	return &result, nil
}

func (t *mockTx) RecordVerification(ctx context.Context, v *Verification) error {
	if _, ok := t.state.verified[verificationKey{v.Payer, v.Nonce}]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range t.state.verified {
		if existing.EventID == v.EventID {
			return ErrAlreadyExists
		}
	}
	rec := *v
	t.state.verified[verificationKey{v.Payer, v.Nonce}] = &rec
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Tx    = (*mockTx)(nil)
	_ Tx    = (*sqlTx)(nil)
)
