// Package wal is the append-only audit log: a totally ordered, immutable
// record of every issuance, consumption, denial, revocation, and containment
// transition. It is the sole source of truth for "what happened"; token
// status and anomaly state must be reconstructible by replaying it.
package wal

import (
	"encoding/json"
	"time"

	id "consentgate/pkg/domain"
)

// EventType labels a WAL entry. Types are stable wire values; never rename.
type EventType string

const (
	EventConsentIssued   EventType = "CONSENT_ISSUED"
	EventConsentConsumed EventType = "CONSENT_CONSUMED"
	EventConsentRevoked  EventType = "CONSENT_REVOKED"
	EventConsentExpired  EventType = "CONSENT_EXPIRED"
	EventConsentDenied   EventType = "CONSENT_DENIED"

	EventConfirmationRequired EventType = "CONFIRMATION_REQUIRED"
	EventInferenceAuthorized  EventType = "INFERENCE_AUTHORIZED"

	EventContainmentQuarantine EventType = "CONTAINMENT_QUARANTINE"
	EventContainmentLifted     EventType = "CONTAINMENT_LIFTED"
	EventCascadeRevoke         EventType = "CASCADE_REVOKE"

	EventTierViolation       EventType = "TIER_VIOLATION"
	EventBlastRadiusExceeded EventType = "BLAST_RADIUS_EXCEEDED"
)

// Event is one immutable WAL record. Seq is assigned by the store and gives
// the total order; it matches the order mutations were applied to the ledger.
type Event struct {
	ID        id.EventID   `json:"event_id"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	Type      EventType    `json:"type"`
	TokenID   id.TokenID   `json:"token_id,omitempty"`
	SessionID id.SessionID `json:"session_id,omitempty"`
	Operation string       `json:"operation,omitempty"`
	Tier      string       `json:"tier,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Decision  string       `json:"decision,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Count     int          `json:"count,omitempty"`

	// Payload carries the full record behind the event when status alone
	// is not enough to rebuild state on replay (CONSENT_ISSUED carries
	// the minted token).
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decision values recorded on events.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)
