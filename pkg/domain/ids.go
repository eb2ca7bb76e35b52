// Package domain defines the typed identifiers shared across gate modules.
//
// IDs are distinct UUID-backed types so a TokenID can never be passed where a
// SessionID is expected. Parsing enforces the trust-boundary invariant: IDs
// must be valid, non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "consentgate/pkg/domain-errors"
)

// TokenID identifies a consent token. Never reused.
type TokenID uuid.UUID

// SessionID identifies the protected session scope a token is bound to.
type SessionID uuid.UUID

// EventID identifies a WAL event.
type EventID uuid.UUID

// NewTokenID mints a fresh token ID.
func NewTokenID() TokenID { return TokenID(uuid.New()) }

// NewSessionID mints a fresh session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewEventID mints a fresh event ID.
func NewEventID() EventID { return EventID(uuid.New()) }

func (id TokenID) String() string   { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string   { return uuid.UUID(id).String() }

func (id TokenID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text marshaling renders IDs as canonical UUID strings so they serialize
// cleanly in JSON payloads and WAL events.

func (id TokenID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *TokenID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = TokenID(parsed)
	return nil
}

func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = SessionID(parsed)
	return nil
}

func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = EventID(parsed)
	return nil
}

// ParseTokenID parses and validates a token ID from its string form.
func ParseTokenID(s string) (TokenID, error) {
	parsed, err := parseUUID(s, "token id")
	return TokenID(parsed), err
}

// ParseSessionID parses and validates a session ID from its string form.
func ParseSessionID(s string) (SessionID, error) {
	parsed, err := parseUUID(s, "session id")
	return SessionID(parsed), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", label)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s: %v", label, err)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", label)
	}
	return parsed, nil
}
