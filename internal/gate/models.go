// Package gate implements the consent token ledger: issuance, the atomic
// authorize path, revocation, and the containment choreography around them.
// A Gate instance owns the state for one protected scope.
package gate

import (
	"time"

	"consentgate/internal/policy"
	id "consentgate/pkg/domain"
)

// Status is the lifecycle state of a consent token. The only legal
// transitions are issued -> consumed, issued -> revoked, issued -> expired;
// every non-issued status is terminal.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusConsumed Status = "consumed"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s != StatusIssued }

// Intent is the declared operation a token authorizes: what the caller wants
// to do, correlated by request and channel.
type Intent struct {
	Operation policy.Operation `json:"operation"`
	RequestID string           `json:"request_id"`
	Channel   string           `json:"channel"`
}

// Binding is the issuing context a token is tied to. Together with the
// intent it feeds the context hash; redeeming the token under any other
// context fails.
type Binding struct {
	SessionID id.SessionID     `json:"session_id"`
	Tier      policy.TrustTier `json:"tier"`
	TierRank  int              `json:"tier_rank"`
	IssuedAt  time.Time        `json:"issued_at"`
}

// Presentation is what a dispatcher hands to Authorize alongside the token
// id: the operation context it is about to execute under. It must match the
// token's bound context exactly.
type Presentation struct {
	Intent    Intent
	SessionID id.SessionID
	Tier      policy.TrustTier
}

// Token is a single-use, time-limited, context-bound credential for one
// sensitive operation. Tokens are never deleted; terminal tokens persist as
// audit records.
type Token struct {
	ID        id.TokenID       `json:"id"`
	Operation policy.Operation `json:"operation"`
	Tier      policy.TrustTier `json:"tier"`

	Intent  Intent  `json:"intent"`
	Binding Binding `json:"binding"`

	// ContextHash binds the token to {intent, binding}; recomputed and
	// compared at consumption. BundleHash pins the policy bundle that
	// issued it.
	ContextHash string `json:"context_hash"`
	BundleHash  string `json:"bundle_hash"`

	Status   Status        `json:"status"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"ttl"`

	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ExpiredAt  *time.Time `json:"expired_at,omitempty"`

	// Proof is set exactly once, at successful consumption: an opaque
	// signed receipt usable for downstream audit.
	Proof string `json:"proof,omitempty"`
}

// ExpiresAt returns the end of the token's validity window.
func (t *Token) ExpiresAt() time.Time { return t.IssuedAt.Add(t.TTL) }

// ExpiredBy reports whether the validity window has elapsed at now.
func (t *Token) ExpiredBy(now time.Time) bool { return !now.Before(t.ExpiresAt()) }

// clone returns a copy so callers outside the ledger lock cannot mutate
// ledger state through a shared pointer.
func (t *Token) clone() *Token {
	copied := *t
	return &copied
}
