//go:build integration

package wal_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentgate/internal/wal"
	id "consentgate/pkg/domain"
	"consentgate/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	t.Cleanup(func() { pg.Close(ctx) })

	store := wal.NewPostgres(pg.DB)
	require.NoError(t, store.Migrate(ctx))

	tokenID := id.NewTokenID()
	sessionID := id.NewSessionID()

	t.Run("append assigns monotonically increasing seq", func(t *testing.T) {
		first, err := store.Append(ctx, wal.Event{
			Type:      wal.EventConsentIssued,
			TokenID:   tokenID,
			SessionID: sessionID,
			Operation: "exec",
			Tier:      "owner_paired",
			Decision:  wal.DecisionAllow,
			RequestID: "req-1",
			Payload:   json.RawMessage(`{"id":"` + tokenID.String() + `"}`),
		})
		require.NoError(t, err)
		assert.NotZero(t, first.Seq)
		assert.False(t, first.ID.IsNil())

		second, err := store.Append(ctx, wal.Event{
			Type:      wal.EventConsentConsumed,
			TokenID:   tokenID,
			SessionID: sessionID,
			Decision:  wal.DecisionAllow,
		})
		require.NoError(t, err)
		assert.Greater(t, second.Seq, first.Seq)
	})

	t.Run("list returns everything in seq order with fields intact", func(t *testing.T) {
		events, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, events, 2)

		assert.Equal(t, wal.EventConsentIssued, events[0].Type)
		assert.Equal(t, tokenID, events[0].TokenID)
		assert.Equal(t, sessionID, events[0].SessionID)
		assert.Equal(t, "exec", events[0].Operation)
		assert.Equal(t, "owner_paired", events[0].Tier)
		assert.Equal(t, "req-1", events[0].RequestID)
		assert.JSONEq(t, `{"id":"`+tokenID.String()+`"}`, string(events[0].Payload))
		assert.Equal(t, wal.EventConsentConsumed, events[1].Type)
		assert.Less(t, events[0].Seq, events[1].Seq)
	})

	t.Run("recent returns the tail in seq order", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := store.Append(ctx, wal.Event{Type: wal.EventConsentDenied, Decision: wal.DecisionDeny})
			require.NoError(t, err)
		}

		recent, err := store.Recent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Less(t, recent[0].Seq, recent[1].Seq)
		assert.Equal(t, wal.EventConsentDenied, recent[1].Type)
	})

	t.Run("events without a token id round trip as nil", func(t *testing.T) {
		appended, err := store.Append(ctx, wal.Event{
			Type:   wal.EventContainmentQuarantine,
			Reason: "DOUBLE_SPEND",
		})
		require.NoError(t, err)

		events, err := store.List(ctx)
		require.NoError(t, err)
		last := events[len(events)-1]
		assert.Equal(t, appended.Seq, last.Seq)
		assert.True(t, last.TokenID.IsNil())
		assert.Equal(t, "DOUBLE_SPEND", last.Reason)
	})

	t.Run("timestamps survive with timezone normalization", func(t *testing.T) {
		at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		appended, err := store.Append(ctx, wal.Event{
			Type:      wal.EventConsentExpired,
			Timestamp: at,
		})
		require.NoError(t, err)

		events, err := store.List(ctx)
		require.NoError(t, err)
		last := events[len(events)-1]
		assert.Equal(t, appended.Seq, last.Seq)
		assert.True(t, at.Equal(last.Timestamp))
	})
}
