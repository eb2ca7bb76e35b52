package gate

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"consentgate/internal/anomaly"
	"consentgate/internal/gate/metrics"
	"consentgate/internal/gate/revocation"
	"consentgate/internal/policy"
	"consentgate/internal/ratelimit"
	"consentgate/internal/wal"
	"consentgate/pkg/clock"
	id "consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
)

var tracer trace.Tracer = otel.Tracer("consentgate/gate")

// Gate owns the consent state for one protected scope: the token ledger, the
// anomaly engine, and the blast-radius window. One mutex serializes every
// mutation and its WAL append, so audit ordering matches authorization
// ordering and the double-spend invariant holds under arbitrary
// interleaving. No operation blocks beyond the WAL append itself.
type Gate struct {
	mu sync.Mutex

	bundle *policy.Bundle
	tokens Store
	wal    wal.Store
	engine *anomaly.Engine
	window *ratelimit.Window

	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	signer  *ProofSigner
	trl     revocation.List
	mirror  *wal.Mirror
}

// Option configures a Gate.
type Option func(*Gate)

func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithProofSigner(s *ProofSigner) Option {
	return func(g *Gate) { g.signer = s }
}

// WithRevocationList attaches a shared revocation list so cascades propagate
// across gate instances.
func WithRevocationList(trl revocation.List) Option {
	return func(g *Gate) { g.trl = trl }
}

// WithMirror attaches a SIEM mirror for security-relevant WAL events.
func WithMirror(m *wal.Mirror) Option {
	return func(g *Gate) { g.mirror = m }
}

// New constructs a Gate over the given policy bundle, token store, and WAL.
func New(bundle *policy.Bundle, tokens Store, walStore wal.Store, opts ...Option) *Gate {
	g := &Gate{
		bundle: bundle,
		tokens: tokens,
		wal:    walStore,
		engine: anomaly.New(anomaly.Config{
			Weights:            bundle.Weights,
			Threshold:          bundle.Threshold,
			DecayPerTick:       bundle.DecayPerTick,
			QuarantineDuration: bundle.QuarantineDuration,
		}),
		window: ratelimit.NewWindow(bundle.WindowLength, bundle.MaxOps),
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.signer == nil {
		// Per-process ephemeral key: proofs stay verifiable for the
		// process lifetime, which is also the ledger's lifetime.
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(err)
		}
		g.signer = NewProofSigner(key, "consentgate")
	}
	return g
}

// Issue mints a consent token for the declared intent in the given context,
// or returns the active token for an identical request (idempotent
// re-issuance). Check order: quarantine, trust policy, blast radius,
// idempotency.
func (g *Gate) Issue(ctx context.Context, intent Intent, sessionID id.SessionID, tier policy.TrustTier) (*Token, error) {
	ctx, span := tracer.Start(ctx, "gate.Issue", trace.WithAttributes(
		attribute.String("operation", string(intent.Operation)),
		attribute.String("tier", string(tier)),
	))
	defer span.End()

	if !intent.Operation.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown operation %q", intent.Operation)
	}
	if intent.RequestID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request id is required")
	}
	if sessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	if g.engine.Quarantined(now) {
		return nil, g.deny(ctx, span, denyEvent{
			code:      dErrors.CodeQuarantined,
			eventType: wal.EventConsentDenied,
			intent:    intent,
			sessionID: sessionID,
			tier:      tier,
			message:   "scope is quarantined",
		})
	}

	if !g.bundle.Matrix.IsAllowed(tier, intent.Operation) {
		return nil, g.deny(ctx, span, denyEvent{
			code:      dErrors.CodeTierViolation,
			eventType: wal.EventTierViolation,
			intent:    intent,
			sessionID: sessionID,
			tier:      tier,
			message:   "operation not in tier allowlist",
		})
	}

	if !g.window.Allow(now) {
		return nil, g.deny(ctx, span, denyEvent{
			code:      dErrors.CodeBlastRadius,
			eventType: wal.EventBlastRadiusExceeded,
			intent:    intent,
			sessionID: sessionID,
			tier:      tier,
			message:   "operation budget exhausted for this window",
		})
	}

	key := IdempotencyKey(intent.Operation, tier, intent.RequestID)
	if existing, ok, err := g.tokens.LookupIdempotency(ctx, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency lookup")
	} else if ok && existing.Status == StatusIssued && !existing.ExpiredBy(now) {
		// Heartbeat/retry storm: hand back the active token unchanged.
		return existing, nil
	}

	binding := Binding{
		SessionID: sessionID,
		Tier:      tier,
		TierRank:  tier.Rank(),
		IssuedAt:  now,
	}
	hash, err := contextHash(intent, binding)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compute context hash")
	}

	token := &Token{
		ID:          id.NewTokenID(),
		Operation:   intent.Operation,
		Tier:        tier,
		Intent:      intent,
		Binding:     binding,
		ContextHash: hash,
		BundleHash:  g.bundle.Hash(),
		Status:      StatusIssued,
		IssuedAt:    now,
		TTL:         g.bundle.TTL(tier),
	}

	// WAL first: an unaudited token must never exist. The issued event
	// carries the full token so replay can rebuild the ledger.
	payload, err := json.Marshal(token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal token payload")
	}
	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventConsentIssued,
		TokenID:   token.ID,
		SessionID: sessionID,
		Operation: string(intent.Operation),
		Tier:      string(tier),
		Decision:  wal.DecisionAllow,
		RequestID: intent.RequestID,
		Payload:   payload,
	}); err != nil {
		return nil, err
	}
	if err := g.tokens.Save(ctx, token); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save token")
	}
	if err := g.tokens.BindIdempotency(ctx, key, token.ID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "bind idempotency key")
	}

	g.metrics.RecordIssued()
	g.logger.InfoContext(ctx, "consent token issued",
		"token_id", token.ID.String(),
		"operation", intent.Operation,
		"tier", tier,
		"ttl", token.TTL.String(),
	)
	return token.clone(), nil
}

// Authorize is the atomic consume path: it validates the presented context
// against the token's bound context and performs the single legal
// issued -> consumed transition. Exactly one concurrent caller can succeed
// for a given token; everyone else observes a terminal-state denial.
func (g *Gate) Authorize(ctx context.Context, tokenID id.TokenID, presented Presentation) (*Token, error) {
	ctx, span := tracer.Start(ctx, "gate.Authorize", trace.WithAttributes(
		attribute.String("token_id", tokenID.String()),
		attribute.String("operation", string(presented.Intent.Operation)),
	))
	defer span.End()
	start := time.Now()
	defer func() { g.metrics.ObserveAuthorizeLatency(time.Since(start)) }()

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	// 1. Containment overrides everything, valid context included.
	if g.engine.Quarantined(now) {
		return nil, g.deny(ctx, span, denyEvent{
			code:      dErrors.CodeQuarantined,
			eventType: wal.EventConsentDenied,
			tokenID:   tokenID,
			intent:    presented.Intent,
			sessionID: presented.SessionID,
			tier:      presented.Tier,
			message:   "scope is quarantined",
		})
	}

	token, ok, err := g.tokens.Get(ctx, tokenID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load token")
	}
	if !ok {
		return nil, g.deny(ctx, span, denyEvent{
			code:      dErrors.CodeNotFound,
			eventType: wal.EventConsentDenied,
			tokenID:   tokenID,
			intent:    presented.Intent,
			sessionID: presented.SessionID,
			tier:      presented.Tier,
			message:   "unknown token",
		})
	}

	// 2. Terminal states are never re-authorizable.
	switch token.Status {
	case StatusConsumed:
		return nil, g.denyToken(ctx, span, token, dErrors.CodeDoubleSpend, "token already consumed")
	case StatusRevoked:
		return nil, g.denyToken(ctx, span, token, dErrors.CodeRevoked, "token revoked")
	case StatusExpired:
		return nil, g.denyToken(ctx, span, token, dErrors.CodeTTLExpired, "token expired")
	}
	if g.trl != nil {
		revoked, err := g.trl.IsRevoked(ctx, token.ID)
		if err != nil {
			g.logger.WarnContext(ctx, "revocation list check failed",
				"token_id", token.ID.String(),
				"error", err.Error(),
			)
		} else if revoked {
			return nil, g.denyToken(ctx, span, token, dErrors.CodeRevoked, "token revoked by another instance")
		}
	}

	// 3. TTL: an overdue token transitions to expired before denial so the
	// terminal state sticks.
	if token.ExpiredBy(now) {
		if err := g.expire(ctx, token, now); err != nil {
			return nil, err
		}
		return nil, g.denyToken(ctx, span, token, dErrors.CodeTTLExpired, "token validity window elapsed")
	}

	// 4. Context binding: the stored hash must re-verify, and the presented
	// operation and session must equal the bound ones. This defeats
	// context laundering.
	recomputed, err := contextHash(token.Intent, token.Binding)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "recompute context hash")
	}
	if recomputed != token.ContextHash ||
		presented.Intent.Operation != token.Intent.Operation ||
		presented.SessionID != token.Binding.SessionID {
		return nil, g.denyToken(ctx, span, token, dErrors.CodeContextMismatch, "presented context does not match bound context")
	}

	// 5. A policy reload invalidates tokens minted under the old bundle.
	if token.BundleHash != g.bundle.Hash() {
		return nil, g.denyToken(ctx, span, token, dErrors.CodeBundleMismatch, "token issued under superseded policy bundle")
	}

	// 6. Consumption draws from the same budget as issuance.
	if !g.window.Allow(now) {
		return nil, g.denyToken(ctx, span, token, dErrors.CodeBlastRadius, "operation budget exhausted for this window")
	}

	// 7. Highest-risk operations additionally surface a marker for the
	// external confirmation gate. Observable, not blocking.
	if g.bundle.RequiresReconfirm(token.Operation) {
		if _, err := g.append(ctx, wal.Event{
			Timestamp: now,
			Type:      wal.EventConfirmationRequired,
			TokenID:   token.ID,
			SessionID: token.Binding.SessionID,
			Operation: string(token.Operation),
			Tier:      string(token.Tier),
			RequestID: token.Intent.RequestID,
		}); err != nil {
			return nil, err
		}
	}

	// 8. Commit: WAL first, then the terminal transition.
	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventConsentConsumed,
		TokenID:   token.ID,
		SessionID: token.Binding.SessionID,
		Operation: string(token.Operation),
		Tier:      string(token.Tier),
		Decision:  wal.DecisionAllow,
		RequestID: token.Intent.RequestID,
	}); err != nil {
		return nil, err
	}
	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventInferenceAuthorized,
		TokenID:   token.ID,
		SessionID: token.Binding.SessionID,
		Operation: string(token.Operation),
		Tier:      string(token.Tier),
		Decision:  wal.DecisionAllow,
		RequestID: token.Intent.RequestID,
	}); err != nil {
		return nil, err
	}

	consumedAt := now
	proof, err := g.signer.Sign(token, consumedAt)
	if err != nil {
		return nil, err
	}
	token.Status = StatusConsumed
	token.ConsumedAt = &consumedAt
	token.Proof = proof
	if err := g.tokens.Save(ctx, token); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save consumed token")
	}

	g.metrics.RecordConsumed()
	g.logger.InfoContext(ctx, "consent token consumed",
		"token_id", token.ID.String(),
		"operation", token.Operation,
		"tier", token.Tier,
	)
	return token.clone(), nil
}

// Revoke transitions an issued token to revoked. Idempotent: revoking a
// terminal token is a no-op that reports the token's current state.
func (g *Gate) Revoke(ctx context.Context, tokenID id.TokenID) (*Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	token, ok, err := g.tokens.Get(ctx, tokenID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load token")
	}
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown token %s", tokenID)
	}
	if token.Status.Terminal() {
		return token, nil
	}

	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventConsentRevoked,
		TokenID:   token.ID,
		SessionID: token.Binding.SessionID,
		Operation: string(token.Operation),
		Tier:      string(token.Tier),
	}); err != nil {
		return nil, err
	}

	token.Status = StatusRevoked
	token.RevokedAt = &now
	if err := g.tokens.Save(ctx, token); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save revoked token")
	}
	if g.trl != nil {
		if err := g.trl.Revoke(ctx, token.ID, token.TTL); err != nil {
			g.logger.WarnContext(ctx, "propagate revocation", "token_id", token.ID.String(), "error", err.Error())
		}
	}
	return token.clone(), nil
}

// Tick advances time-driven state: score decay, TTL sweep. Call it on a
// fixed interval; it contends on the same lock as issue/authorize, so the
// states it drives stay serialized with them.
func (g *Gate) Tick(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	g.engine.Decay()
	g.metrics.SetAnomalyScore(g.engine.Score())

	issued, err := g.tokens.Issued(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "sweep issued tokens")
	}
	for _, token := range issued {
		if token.ExpiredBy(now) {
			if err := g.expire(ctx, token, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// LiftQuarantine is the operator override: it ends containment and resets
// the anomaly score to zero.
func (g *Gate) LiftQuarantine(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventContainmentLifted,
		Reason:    "operator",
	}); err != nil {
		return err
	}
	g.engine.Lift()
	g.metrics.SetAnomalyScore(0)
	g.logger.InfoContext(ctx, "quarantine lifted by operator")
	return nil
}

// recentEventWindow bounds how much WAL history the status surface exposes.
const recentEventWindow = 50

// Snapshot is the read surface for the status endpoint.
type Snapshot struct {
	Tokens           []*Token
	RecentEvents     []wal.Event
	AnomalyScore     float64
	Quarantined      bool
	QuarantinedUntil time.Time
	QuarantineReason string
	WindowRemaining  int
	WindowResetAt    time.Time
}

// Status reports the current token set, a bounded window of recent WAL
// events, and scope state.
func (g *Gate) Status(ctx context.Context) (*Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	tokens, err := g.tokens.All(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list tokens")
	}
	recent, err := g.wal.Recent(ctx, recentEventWindow)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list recent events")
	}
	return &Snapshot{
		Tokens:           tokens,
		RecentEvents:     recent,
		AnomalyScore:     g.engine.Score(),
		Quarantined:      g.engine.Quarantined(now),
		QuarantinedUntil: g.engine.QuarantinedUntil(),
		QuarantineReason: string(g.engine.QuarantineReason()),
		WindowRemaining:  g.window.Remaining(now),
		WindowResetAt:    g.window.ResetAt(now),
	}, nil
}

// denyEvent carries everything a denial needs to be audited and weighed.
type denyEvent struct {
	code      dErrors.Code
	eventType wal.EventType
	tokenID   id.TokenID
	intent    Intent
	sessionID id.SessionID
	tier      policy.TrustTier
	message   string
}

// deny records a denial: WAL append, anomaly weight, metrics, and (when the
// weight tips the scale) the containment cascade. Returns the coded error
// for the caller. Must run under g.mu.
func (g *Gate) deny(ctx context.Context, span trace.Span, d denyEvent) error {
	now := g.clock.Now()

	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      d.eventType,
		TokenID:   d.tokenID,
		SessionID: d.sessionID,
		Operation: string(d.intent.Operation),
		Tier:      string(d.tier),
		Reason:    string(d.code),
		Decision:  wal.DecisionDeny,
		RequestID: d.intent.RequestID,
	}); err != nil {
		return err
	}

	if g.engine.Record(d.code, now) {
		if err := g.contain(ctx, d.code, now); err != nil {
			return err
		}
	}
	g.metrics.RecordDenial(string(d.code))
	g.metrics.SetAnomalyScore(g.engine.Score())
	span.SetAttributes(attribute.String("deny_reason", string(d.code)))

	g.logger.WarnContext(ctx, "authorization denied",
		"reason", d.code,
		"operation", d.intent.Operation,
		"tier", d.tier,
		"detail", d.message,
	)
	return dErrors.New(d.code, d.message)
}

func (g *Gate) denyToken(ctx context.Context, span trace.Span, token *Token, code dErrors.Code, message string) error {
	return g.deny(ctx, span, denyEvent{
		code:      code,
		eventType: wal.EventConsentDenied,
		tokenID:   token.ID,
		intent:    token.Intent,
		sessionID: token.Binding.SessionID,
		tier:      token.Tier,
		message:   message,
	})
}

// contain enters quarantine: cascade-revoke every issued token and emit the
// containment events. Must run under g.mu.
func (g *Gate) contain(ctx context.Context, reason dErrors.Code, now time.Time) error {
	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventContainmentQuarantine,
		Reason:    string(reason),
	}); err != nil {
		return err
	}

	issued, err := g.tokens.Issued(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list issued tokens for cascade")
	}
	revokedIDs := make([]id.TokenID, 0, len(issued))
	for _, token := range issued {
		token.Status = StatusRevoked
		token.RevokedAt = &now
		if err := g.tokens.Save(ctx, token); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "cascade revoke token")
		}
		revokedIDs = append(revokedIDs, token.ID)
	}

	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventCascadeRevoke,
		Reason:    string(reason),
		Count:     len(revokedIDs),
	}); err != nil {
		return err
	}

	if g.trl != nil && len(revokedIDs) > 0 {
		if err := g.trl.RevokeBatch(ctx, revokedIDs, g.bundle.QuarantineDuration); err != nil {
			g.logger.ErrorContext(ctx, "propagate cascade revoke", "error", err.Error())
		}
	}

	g.metrics.RecordQuarantine(len(revokedIDs))
	g.logger.ErrorContext(ctx, "scope quarantined",
		"reason", reason,
		"revoked", len(revokedIDs),
		"until", g.engine.QuarantinedUntil(),
	)
	return nil
}

// expire performs the issued -> expired transition. Must run under g.mu.
func (g *Gate) expire(ctx context.Context, token *Token, now time.Time) error {
	if _, err := g.append(ctx, wal.Event{
		Timestamp: now,
		Type:      wal.EventConsentExpired,
		TokenID:   token.ID,
		SessionID: token.Binding.SessionID,
		Operation: string(token.Operation),
		Tier:      string(token.Tier),
	}); err != nil {
		return err
	}
	token.Status = StatusExpired
	token.ExpiredAt = &now
	if err := g.tokens.Save(ctx, token); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "save expired token")
	}
	return nil
}

// append writes to the WAL and mirrors the event. A WAL failure is the one
// fatal condition: the gate fails closed rather than let an authorization
// decision go unaudited.
func (g *Gate) append(ctx context.Context, event wal.Event) (wal.Event, error) {
	appended, err := g.wal.Append(ctx, event)
	if err != nil {
		g.logger.ErrorContext(ctx, "wal append failed, failing closed",
			"type", event.Type,
			"error", err.Error(),
		)
		return wal.Event{}, dErrors.Wrap(err, dErrors.CodeAuditUnavailable, "audit log unavailable")
	}
	g.mirror.Publish(ctx, appended)
	return appended, nil
}
