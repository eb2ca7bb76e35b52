package gate

import (
	"context"
	"encoding/json"
	"time"

	"consentgate/internal/wal"
	dErrors "consentgate/pkg/domain-errors"
)

// Restore rebuilds the gate's derived state (token statuses, idempotency
// index, anomaly score, quarantine and rate window) by replaying the WAL
// from empty state. Call it once, at startup, before serving traffic.
//
// Score decay between events is reconstructed from event timestamps and the
// bundle's tick interval: the live decay ticker fires on that same interval,
// so elapsed wall time between two events implies a known number of decay
// ticks.
func (g *Gate) Restore(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	events, err := g.wal.List(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeAuditUnavailable, "read wal for replay")
	}

	var (
		score            float64
		quarantinedUntil time.Time
		quarantineReason dErrors.Code
		lastEventAt      time.Time
	)

	decay := func(until time.Time) {
		if lastEventAt.IsZero() || g.bundle.DecayTickInterval <= 0 {
			return
		}
		ticks := int(until.Sub(lastEventAt) / g.bundle.DecayTickInterval)
		score -= float64(ticks) * g.bundle.DecayPerTick
		if score < 0 {
			score = 0
		}
	}

	for _, event := range events {
		decay(event.Timestamp)
		lastEventAt = event.Timestamp

		switch event.Type {
		case wal.EventConsentIssued:
			var token Token
			if err := json.Unmarshal(event.Payload, &token); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "decode issued token payload")
			}
			if err := g.tokens.Save(ctx, &token); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "replay issued token")
			}
			key := IdempotencyKey(token.Operation, token.Tier, token.Intent.RequestID)
			if err := g.tokens.BindIdempotency(ctx, key, token.ID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "replay idempotency binding")
			}
			g.window.Allow(event.Timestamp)

		case wal.EventConsentConsumed:
			if err := g.replayTransition(ctx, event, StatusConsumed); err != nil {
				return err
			}
			g.window.Allow(event.Timestamp)

		case wal.EventConsentRevoked:
			if err := g.replayTransition(ctx, event, StatusRevoked); err != nil {
				return err
			}

		case wal.EventConsentExpired:
			if err := g.replayTransition(ctx, event, StatusExpired); err != nil {
				return err
			}

		case wal.EventCascadeRevoke:
			issued, err := g.tokens.Issued(ctx)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "replay cascade revoke")
			}
			for _, token := range issued {
				revokedAt := event.Timestamp
				token.Status = StatusRevoked
				token.RevokedAt = &revokedAt
				if err := g.tokens.Save(ctx, token); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "replay cascade revoke")
				}
			}

		case wal.EventContainmentQuarantine:
			quarantinedUntil = event.Timestamp.Add(g.bundle.QuarantineDuration)
			quarantineReason = dErrors.Code(event.Reason)

		case wal.EventContainmentLifted:
			quarantinedUntil = time.Time{}
			quarantineReason = ""
			score = 0

		case wal.EventConsentDenied, wal.EventTierViolation, wal.EventBlastRadiusExceeded:
			score += g.bundle.Weight(dErrors.Code(event.Reason))
		}
	}

	// Decay forward from the last event to now, then install the state.
	now := g.clock.Now()
	decay(now)
	g.engine.Restore(score, quarantinedUntil, quarantineReason)
	g.metrics.SetAnomalyScore(score)

	g.logger.InfoContext(ctx, "wal replay complete",
		"events", len(events),
		"score", score,
		"quarantined", g.engine.Quarantined(now),
	)
	return nil
}

// replayTransition applies a terminal transition recorded in the WAL to the
// rebuilt token table.
func (g *Gate) replayTransition(ctx context.Context, event wal.Event, status Status) error {
	token, ok, err := g.tokens.Get(ctx, event.TokenID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "replay transition")
	}
	if !ok {
		// A transition for a token the replayed WAL never issued means
		// the log was truncated; fail closed rather than guess.
		return dErrors.Newf(dErrors.CodeAuditUnavailable, "wal references unknown token %s", event.TokenID)
	}
	at := event.Timestamp
	token.Status = status
	switch status {
	case StatusConsumed:
		token.ConsumedAt = &at
	case StatusRevoked:
		token.RevokedAt = &at
	case StatusExpired:
		token.ExpiredAt = &at
	}
	if err := g.tokens.Save(ctx, token); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "replay transition save")
	}
	return nil
}
