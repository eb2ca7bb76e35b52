package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"consentgate/internal/gate"
	"consentgate/internal/wal"
	dErrors "consentgate/pkg/domain-errors"
)

// TokenResponse is the wire shape of a consent token. The context hash is
// exposed for audit correlation; the binding internals are not.
type TokenResponse struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	Tier        string     `json:"tier"`
	Status      string     `json:"status"`
	ContextHash string     `json:"context_hash"`
	BundleHash  string     `json:"bundle_hash"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	Proof       string     `json:"proof,omitempty"`
}

func tokenResponse(token *gate.Token) TokenResponse {
	return TokenResponse{
		ID:          token.ID.String(),
		Operation:   string(token.Operation),
		Tier:        string(token.Tier),
		Status:      string(token.Status),
		ContextHash: token.ContextHash,
		BundleHash:  token.BundleHash,
		IssuedAt:    token.IssuedAt,
		ExpiresAt:   token.ExpiresAt(),
		ConsumedAt:  token.ConsumedAt,
		RevokedAt:   token.RevokedAt,
		ExpiredAt:   token.ExpiredAt,
		Proof:       token.Proof,
	}
}

// EventResponse is the wire shape of one recent WAL event.
type EventResponse struct {
	EventID   string    `json:"event_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	TokenID   string    `json:"token_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func eventResponse(event wal.Event) EventResponse {
	resp := EventResponse{
		EventID:   event.ID.String(),
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		Type:      string(event.Type),
		Operation: event.Operation,
		Tier:      event.Tier,
		Reason:    event.Reason,
		Decision:  event.Decision,
		RequestID: event.RequestID,
	}
	if !event.TokenID.IsNil() {
		resp.TokenID = event.TokenID.String()
	}
	if !event.SessionID.IsNil() {
		resp.SessionID = event.SessionID.String()
	}
	return resp
}

// StatusResponse is the scope snapshot for the status endpoint.
type StatusResponse struct {
	Tokens           []TokenResponse `json:"tokens"`
	RecentEvents     []EventResponse `json:"recent_events"`
	AnomalyScore     float64         `json:"anomaly_score"`
	Quarantined      bool            `json:"quarantined"`
	QuarantinedUntil *time.Time      `json:"quarantined_until,omitempty"`
	QuarantineReason string          `json:"quarantine_reason,omitempty"`
	WindowRemaining  int             `json:"window_remaining"`
	WindowResetAt    time.Time       `json:"window_reset_at"`
}

func statusResponse(snapshot *gate.Snapshot) StatusResponse {
	resp := StatusResponse{
		Tokens:           make([]TokenResponse, 0, len(snapshot.Tokens)),
		RecentEvents:     make([]EventResponse, 0, len(snapshot.RecentEvents)),
		AnomalyScore:     snapshot.AnomalyScore,
		Quarantined:      snapshot.Quarantined,
		QuarantineReason: snapshot.QuarantineReason,
		WindowRemaining:  snapshot.WindowRemaining,
		WindowResetAt:    snapshot.WindowResetAt,
	}
	if !snapshot.QuarantinedUntil.IsZero() {
		until := snapshot.QuarantinedUntil
		resp.QuarantinedUntil = &until
	}
	for _, token := range snapshot.Tokens {
		resp.Tokens = append(resp.Tokens, tokenResponse(token))
	}
	for _, event := range snapshot.RecentEvents {
		resp.RecentEvents = append(resp.RecentEvents, eventResponse(event))
	}
	return resp
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors to HTTP responses so every endpoint
// reports denials the same way.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code), Message: err.Error()}
	writeJSON(w, statusFor(code), resp)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBlastRadius:
		return http.StatusTooManyRequests
	case dErrors.CodeAuditUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeInternal:
		return http.StatusInternalServerError
	case dErrors.CodeTierViolation, dErrors.CodeDoubleSpend, dErrors.CodeRevoked,
		dErrors.CodeTTLExpired, dErrors.CodeContextMismatch, dErrors.CodeBundleMismatch,
		dErrors.CodeQuarantined:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
