package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentgate/internal/gate"
	"consentgate/internal/policy"
	"consentgate/internal/wal"
	"consentgate/pkg/clock"
	id "consentgate/pkg/domain"
)

type testServer struct {
	router  chi.Router
	clk     *clock.Manual
	session id.SessionID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewManual(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	service := gate.New(policy.DefaultBundle(), gate.NewInMemoryStore(), wal.NewInMemoryStore(),
		gate.WithClock(clk),
		gate.WithLogger(logger),
	)

	router := chi.NewRouter()
	New(service, logger, nil).Register(router)
	return &testServer{router: router, clk: clk, session: id.NewSessionID()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) issue(t *testing.T, operation, requestID string) TokenResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/gate/tokens", IssueRequest{
		Operation: operation,
		RequestID: requestID,
		Channel:   "cli",
		SessionID: ts.session.String(),
		Tier:      string(policy.TierOwnerPaired),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleIssue(t *testing.T) {
	t.Run("mints a token", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.issue(t, "exec", "req-1")

		assert.NotEmpty(t, token.ID)
		assert.Equal(t, "exec", token.Operation)
		assert.Equal(t, "issued", token.Status)
		assert.NotEmpty(t, token.ContextHash)
		assert.Equal(t, token.IssuedAt.Add(60*time.Second), token.ExpiresAt)
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/gate/tokens", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects an unknown tier", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/gate/tokens", IssueRequest{
			Operation: "exec",
			RequestID: "req-1",
			SessionID: ts.session.String(),
			Tier:      "superuser",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", decodeError(t, rec).Error)
	})

	t.Run("reports a tier violation as forbidden", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/gate/tokens", IssueRequest{
			Operation: "write",
			RequestID: "req-1",
			SessionID: ts.session.String(),
			Tier:      string(policy.TierTrustedPeer),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "TIER_VIOLATION", decodeError(t, rec).Error)
	})
}

func TestHandleAuthorize(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issue(t, "exec", "req-1")

	authorize := AuthorizeRequest{
		TokenID:   token.ID,
		Operation: "exec",
		RequestID: "req-1",
		Channel:   "cli",
		SessionID: ts.session.String(),
		Tier:      string(policy.TierOwnerPaired),
	}

	rec := ts.do(t, http.MethodPost, "/gate/authorize", authorize)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var consumed TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &consumed))
	assert.Equal(t, "consumed", consumed.Status)
	assert.NotEmpty(t, consumed.Proof)
	require.NotNil(t, consumed.ConsumedAt)

	t.Run("a second presentation is refused", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/gate/authorize", authorize)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "DOUBLE_SPEND", decodeError(t, rec).Error)
	})

	t.Run("a garbage token id is a bad request", func(t *testing.T) {
		bad := authorize
		bad.TokenID = "not-a-uuid"
		rec := ts.do(t, http.MethodPost, "/gate/authorize", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("an unknown token is not found", func(t *testing.T) {
		missing := authorize
		missing.TokenID = id.NewTokenID().String()
		rec := ts.do(t, http.MethodPost, "/gate/authorize", missing)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Error)
	})
}

func TestHandleRevoke(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issue(t, "exec", "req-1")

	rec := ts.do(t, http.MethodPost, "/gate/tokens/"+token.ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var revoked TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	assert.Equal(t, "revoked", revoked.Status)

	t.Run("unknown token", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/gate/tokens/"+id.NewTokenID().String()+"/revoke", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.issue(t, "exec", "req-1")
	ts.issue(t, "read", "req-2")

	rec := ts.do(t, http.MethodGet, "/gate/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Len(t, status.Tokens, 2)
	assert.Len(t, status.RecentEvents, 2, "one issuance event per token")
	assert.Equal(t, "CONSENT_ISSUED", status.RecentEvents[0].Type)
	assert.False(t, status.Quarantined)
	assert.Zero(t, status.AnomalyScore)
	assert.Equal(t, 10, status.WindowRemaining)
}

func TestHandleLiftQuarantine(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/gate/quarantine/lift", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
