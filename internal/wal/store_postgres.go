package wal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "consentgate/pkg/domain"
)

// PostgresStore persists the WAL in an append-only table so audit continuity
// survives process restarts. Seq comes from a BIGSERIAL column, giving the
// required total order. Rows are never updated or deleted.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed WAL store. The caller owns the
// *sql.DB lifecycle (open it with the pgx stdlib driver).
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema is the table the store requires. Applied by Migrate; kept exported
// so deployments with external migration tooling can pick it up.
const Schema = `
CREATE TABLE IF NOT EXISTS wal_events (
	seq        BIGSERIAL PRIMARY KEY,
	event_id   UUID NOT NULL UNIQUE,
	ts         TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	token_id   UUID,
	session_id UUID,
	operation  TEXT NOT NULL DEFAULT '',
	tier       TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	decision   TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	count      INT NOT NULL DEFAULT 0,
	payload    JSONB
);
`

// Migrate creates the WAL table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate wal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) (Event, error) {
	if event.ID == (id.EventID{}) {
		event.ID = id.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var tokenID, sessionID any
	if !event.TokenID.IsNil() {
		tokenID = uuid.UUID(event.TokenID)
	}
	if !event.SessionID.IsNil() {
		sessionID = uuid.UUID(event.SessionID)
	}

	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO wal_events
			(event_id, ts, event_type, token_id, session_id, operation, tier, reason, decision, request_id, count, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq`,
		uuid.UUID(event.ID), event.Timestamp, string(event.Type),
		tokenID, sessionID,
		event.Operation, event.Tier, event.Reason, event.Decision,
		event.RequestID, event.Count, payload,
	)
	if err := row.Scan(&event.Seq); err != nil {
		return Event{}, fmt.Errorf("append wal event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list wal events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Recent(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return []Event{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (`+selectEvents+` ORDER BY seq DESC LIMIT $1) recent ORDER BY seq ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("recent wal events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

const selectEvents = `
	SELECT seq, event_id, ts, event_type, token_id, session_id,
	       operation, tier, reason, decision, request_id, count, payload
	FROM wal_events`

func scanEvents(rows *sql.Rows) ([]Event, error) {
	events := []Event{}
	for rows.Next() {
		var (
			event     Event
			eventID   uuid.UUID
			tokenID   sql.Null[uuid.UUID]
			sessionID sql.Null[uuid.UUID]
			eventType string
			payload   []byte
		)
		if err := rows.Scan(
			&event.Seq, &eventID, &event.Timestamp, &eventType,
			&tokenID, &sessionID,
			&event.Operation, &event.Tier, &event.Reason, &event.Decision,
			&event.RequestID, &event.Count, &payload,
		); err != nil {
			return nil, fmt.Errorf("scan wal event: %w", err)
		}
		if len(payload) > 0 {
			event.Payload = payload
		}
		event.ID = id.EventID(eventID)
		event.Type = EventType(eventType)
		if tokenID.Valid {
			event.TokenID = id.TokenID(tokenID.V)
		}
		if sessionID.Valid {
			event.SessionID = id.SessionID(sessionID.V)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wal events: %w", err)
	}
	return events, nil
}
