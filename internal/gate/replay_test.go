package gate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentgate/internal/policy"
	id "consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
)

// rebuild stands up a fresh gate over the same WAL and replays it, as a
// process restart would.
func rebuild(t *testing.T, tg *testGate) *Gate {
	t.Helper()
	restored := New(policy.DefaultBundle(), NewInMemoryStore(), tg.wal,
		WithClock(tg.clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, restored.Restore(context.Background()))
	return restored
}

func TestRestoreRebuildsLedger(t *testing.T) {
	ctx := context.Background()
	tg := newTestGate(t, policy.DefaultBundle())
	session := id.NewSessionID()

	consumed, err := tg.gate.Issue(ctx, intent(policy.OpExec, "req-a"), session, policy.TierOwnerPaired)
	require.NoError(t, err)
	revoked, err := tg.gate.Issue(ctx, intent(policy.OpWrite, "req-b"), session, policy.TierOwnerPaired)
	require.NoError(t, err)
	expired, err := tg.gate.Issue(ctx, intent(policy.OpRead, "req-c"), session, policy.TierOwnerPaired)
	require.NoError(t, err)

	_, err = tg.gate.Authorize(ctx, consumed.ID, presentationFor(consumed))
	require.NoError(t, err)
	_, err = tg.gate.Revoke(ctx, revoked.ID)
	require.NoError(t, err)

	tg.clk.Advance(61 * time.Second)
	require.NoError(t, tg.gate.Tick(ctx))

	live, err := tg.gate.Issue(ctx, intent(policy.OpMessage, "req-d"), session, policy.TierOwnerPaired)
	require.NoError(t, err)
	_, err = tg.gate.Authorize(ctx, consumed.ID, presentationFor(consumed))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDoubleSpend))

	restored := rebuild(t, tg)

	t.Run("token statuses survive the restart", func(t *testing.T) {
		for _, tc := range []struct {
			tokenID id.TokenID
			want    Status
		}{
			{consumed.ID, StatusConsumed},
			{revoked.ID, StatusRevoked},
			{expired.ID, StatusExpired},
			{live.ID, StatusIssued},
		} {
			token, ok, err := restored.tokens.Get(ctx, tc.tokenID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.want, token.Status)
			assert.Equal(t, session, token.Binding.SessionID)
		}
	})

	t.Run("scope state matches the pre-restart gate", func(t *testing.T) {
		before, err := tg.gate.Status(ctx)
		require.NoError(t, err)
		after, err := restored.Status(ctx)
		require.NoError(t, err)

		assert.Equal(t, before.AnomalyScore, after.AnomalyScore)
		assert.Equal(t, before.Quarantined, after.Quarantined)
		assert.Equal(t, before.WindowRemaining, after.WindowRemaining)
		assert.Len(t, after.Tokens, len(before.Tokens))
	})

	t.Run("idempotency index survives the restart", func(t *testing.T) {
		again, err := restored.Issue(ctx, intent(policy.OpMessage, "req-d"), session, policy.TierOwnerPaired)
		require.NoError(t, err)
		assert.Equal(t, live.ID, again.ID)
	})

	t.Run("a restored terminal token stays terminal", func(t *testing.T) {
		_, err := restored.Authorize(ctx, consumed.ID, presentationFor(consumed))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDoubleSpend))
	})
}

func TestRestoreRebuildsQuarantine(t *testing.T) {
	ctx := context.Background()
	tg := newTestGate(t, policy.DefaultBundle())
	session := id.NewSessionID()

	spent, err := tg.gate.Issue(ctx, intent(policy.OpExec, "req-1"), session, policy.TierOwnerPaired)
	require.NoError(t, err)
	outstanding, err := tg.gate.Issue(ctx, intent(policy.OpWrite, "req-2"), session, policy.TierOwnerPaired)
	require.NoError(t, err)
	_, err = tg.gate.Authorize(ctx, spent.ID, presentationFor(spent))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _ = tg.gate.Authorize(ctx, spent.ID, presentationFor(spent))
	}

	restored := rebuild(t, tg)

	snapshot, err := restored.Status(ctx)
	require.NoError(t, err)
	assert.True(t, snapshot.Quarantined)
	assert.Equal(t, string(dErrors.CodeDoubleSpend), snapshot.QuarantineReason)
	assert.Equal(t, tg.clk.Now().Add(60*time.Second), snapshot.QuarantinedUntil)

	token, ok, err := restored.tokens.Get(ctx, outstanding.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRevoked, token.Status, "cascade revocation is replayed")

	_, err = restored.Issue(ctx, intent(policy.OpRead, "req-3"), session, policy.TierOwnerPaired)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeQuarantined))

	t.Run("an operator lift is replayed too", func(t *testing.T) {
		require.NoError(t, tg.gate.LiftQuarantine(ctx))

		relifted := rebuild(t, tg)
		snapshot, err := relifted.Status(ctx)
		require.NoError(t, err)
		assert.False(t, snapshot.Quarantined)
		assert.Zero(t, snapshot.AnomalyScore)
	})
}

func TestRestoreAppliesDecayBetweenEvents(t *testing.T) {
	ctx := context.Background()
	tg := newTestGate(t, policy.DefaultBundle())
	session := id.NewSessionID()

	// One tier violation (weight 15), then ten seconds of quiet before the
	// next event: two decay ticks at 2.0 each leave 11.
	_, err := tg.gate.Issue(ctx, intent(policy.OpWrite, "req-1"), session, policy.TierTrustedPeer)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTierViolation))

	tg.clk.Advance(10 * time.Second)
	_, err = tg.gate.Issue(ctx, intent(policy.OpRead, "req-2"), session, policy.TierTrustedPeer)
	require.NoError(t, err)

	restored := rebuild(t, tg)
	snapshot, err := restored.Status(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, snapshot.AnomalyScore, 1e-9)
}

func TestRestoreFailsClosedOnTruncatedLog(t *testing.T) {
	ctx := context.Background()
	tg := newTestGate(t, policy.DefaultBundle())
	session := id.NewSessionID()

	token, err := tg.gate.Issue(ctx, intent(policy.OpExec, "req-1"), session, policy.TierOwnerPaired)
	require.NoError(t, err)
	_, err = tg.gate.Revoke(ctx, token.ID)
	require.NoError(t, err)

	// A log that records a transition for a token it never issued cannot be
	// trusted.
	truncated := newTestGate(t, policy.DefaultBundle())
	all, err := tg.wal.List(ctx)
	require.NoError(t, err)
	for _, event := range all[1:] {
		_, err := truncated.wal.Append(ctx, event)
		require.NoError(t, err)
	}

	restored := New(policy.DefaultBundle(), NewInMemoryStore(), truncated.wal,
		WithClock(tg.clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	err = restored.Restore(ctx)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuditUnavailable))
}
