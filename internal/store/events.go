// ABOUTME: Gateway event stream persistence and queries
// ABOUTME: Events are appended inside the operation's transaction and listed in sequence order

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// AppendEvent persists an event and assigns its Seq.
// Generates ID if not set.
func (t *sqlTx) AppendEvent(ctx context.Context, ev *Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("invalid event kind %q", ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO gateway_events (event_id, kind, gateway, actor, amount, nonce, old_fee, new_fee, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`

	err := t.queryRow(ctx, query,
		ev.ID,
		string(ev.Kind),
		ev.Gateway.String(),
		ev.Actor.String(),
		formatUint(ev.Amount),
		formatUint(ev.Nonce),
		formatUint(ev.OldFee),
		formatUint(ev.NewFee),
		ev.Timestamp,
	).Scan(&ev.Seq)
	if err != nil {
		return classify(err, "inserting event")
	}

	t.store.logger.Debug("appended event",
		"seq", ev.Seq,
		"event_id", ev.ID,
		"kind", ev.Kind,
		"actor", ev.Actor,
	)
	return nil
}

const eventColumns = `seq, event_id, kind, gateway, actor, amount, nonce, old_fee, new_fee, ts`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev                                  Event
		kind, gatewayStr, actorStr          string
		amountStr, nonceStr, oldFee, newFee string
	)
	if err := row.Scan(
		&ev.Seq,
		&ev.ID,
		&kind,
		&gatewayStr,
		&actorStr,
		&amountStr,
		&nonceStr,
		&oldFee,
		&newFee,
		&ev.Timestamp,
	); err != nil {
		return nil, err
	}

	var err error
	ev.Kind = EventKind(kind)
	if ev.Gateway, err = keys.ParsePublicKey(gatewayStr); err != nil {
		return nil, fmt.Errorf("parsing gateway: %w", err)
	}
	if ev.Actor, err = keys.ParsePublicKey(actorStr); err != nil {
		return nil, fmt.Errorf("parsing actor: %w", err)
	}
	if ev.Amount, err = parseUint("amount", amountStr); err != nil {
		return nil, err
	}
	if ev.Nonce, err = parseUint("nonce", nonceStr); err != nil {
		return nil, err
	}
	if ev.OldFee, err = parseUint("old_fee", oldFee); err != nil {
		return nil, err
	}
	if ev.NewFee, err = parseUint("new_fee", newFee); err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEventByID reads a committed event by its UUID.
// Returns ErrNotFound if absent.
func (t *sqlTx) GetEventByID(ctx context.Context, id string) (*Event, error) {
	return t.getEvent(ctx, "event_id = ?", id)
}

// GetEventBySeq reads a committed event by its sequence number.
// Returns ErrNotFound if absent.
func (t *sqlTx) GetEventBySeq(ctx context.Context, seq int64) (*Event, error) {
	return t.getEvent(ctx, "seq = ?", seq)
}

func (t *sqlTx) getEvent(ctx context.Context, where string, arg any) (*Event, error) {
	ev, err := scanEvent(t.queryRow(ctx, `SELECT `+eventColumns+` FROM gateway_events WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "querying event")
	}
	return ev, nil
}

// ListEvents returns committed events matching filter, oldest first.
func (s *SQLStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	conditions := []string{"seq > ?"}
	args := []any{filter.AfterSeq}

	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Actor != nil {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor.String())
	}
	args = append(args, NormalizeEventLimit(filter.Limit))

	query := `
		SELECT ` + eventColumns + `
		FROM gateway_events
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY seq ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}

// LatestEventSeq returns the highest committed sequence number.
func (s *SQLStore) LatestEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM gateway_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("querying latest event: %w", err)
	}
	return seq, nil
}
