// Package handler exposes the consent gate over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consentgate/internal/gate"
	"consentgate/internal/platform/metrics"
	"consentgate/internal/platform/middleware"
	"consentgate/internal/policy"
	id "consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
)

// Service is the gate surface the transport layer depends on.
type Service interface {
	Issue(ctx context.Context, intent gate.Intent, sessionID id.SessionID, tier policy.TrustTier) (*gate.Token, error)
	Authorize(ctx context.Context, tokenID id.TokenID, presented gate.Presentation) (*gate.Token, error)
	Revoke(ctx context.Context, tokenID id.TokenID) (*gate.Token, error)
	Status(ctx context.Context) (*gate.Snapshot, error)
	LiftQuarantine(ctx context.Context) error
}

// Handler handles the gate endpoints.
type Handler struct {
	gate    Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a gate Handler.
func New(service Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{gate: service, logger: logger, metrics: m}
}

// Register registers the gate routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	gateRouter := chi.NewRouter()
	gateRouter.Use(middleware.Recovery(h.logger))
	gateRouter.Use(middleware.RequestID)
	gateRouter.Use(middleware.Logger(h.logger))
	gateRouter.Use(middleware.Timeout(10 * time.Second))
	gateRouter.Use(middleware.ContentTypeJSON)
	gateRouter.Use(middleware.Latency(h.metrics))

	gateRouter.Post("/gate/tokens", h.handleIssue)
	gateRouter.Post("/gate/authorize", h.handleAuthorize)
	gateRouter.Post("/gate/tokens/{tokenID}/revoke", h.handleRevoke)
	gateRouter.Get("/gate/status", h.handleStatus)
	gateRouter.Post("/gate/quarantine/lift", h.handleLiftQuarantine)

	r.Mount("/", gateRouter)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	sanitize(&req)

	tier := policy.TrustTier(req.Tier)
	if !tier.IsValid() {
		writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown trust tier %q", req.Tier))
		return
	}
	sessionID, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.gate.Issue(ctx, gate.Intent{
		Operation: policy.Operation(req.Operation),
		RequestID: req.RequestID,
		Channel:   req.Channel,
	}, sessionID, tier)
	if err != nil {
		h.logIfInternal(ctx, "issue failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse(token))
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	sanitize(&req)

	tokenID, err := id.ParseTokenID(req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.gate.Authorize(ctx, tokenID, gate.Presentation{
		Intent: gate.Intent{
			Operation: policy.Operation(req.Operation),
			RequestID: req.RequestID,
			Channel:   req.Channel,
		},
		SessionID: sessionID,
		Tier:      policy.TrustTier(req.Tier),
	})
	if err != nil {
		h.logIfInternal(ctx, "authorize failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(token))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tokenID, err := id.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.gate.Revoke(ctx, tokenID)
	if err != nil {
		h.logIfInternal(ctx, "revoke failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(token))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.gate.Status(r.Context())
	if err != nil {
		h.logIfInternal(r.Context(), "status failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(snapshot))
}

func (h *Handler) handleLiftQuarantine(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.LiftQuarantine(r.Context()); err != nil {
		h.logIfInternal(r.Context(), "lift quarantine failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// logIfInternal logs unexpected failures; denials are already logged by the
// gate with their full context.
func (h *Handler) logIfInternal(ctx context.Context, msg string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeAuditUnavailable {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
}
