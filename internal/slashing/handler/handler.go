// Package handler exposes slashing and governance proposals over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"credence/internal/bond/models"
	"credence/internal/governance"
	"credence/internal/platform/middleware"
	"credence/internal/transport/http/shared"
	"credence/pkg/amount"
	dErrors "credence/pkg/domain-errors"
)

// Service is the slashing surface the handler depends on.
type Service interface {
	Slash(ctx context.Context, caller, identity string, amt amount.Amount, reason string) (*models.IdentityBond, error)
	Unslash(ctx context.Context, caller, identity string, amt amount.Amount, reason string) (*models.IdentityBond, error)
	ProposeSlash(ctx context.Context, proposer, identity string, amt amount.Amount, reason string) (*governance.Proposal, error)
	Vote(ctx context.Context, voter string, proposalID uint64, approve bool) (*governance.Proposal, error)
	ExecuteProposal(ctx context.Context, executor string, proposalID uint64) (*models.IdentityBond, error)
	Proposal(ctx context.Context, proposalID uint64) (*governance.Proposal, error)
	History(ctx context.Context, identity string) ([]models.SlashRecord, error)
	Governors() []string
}

type Handler struct {
	logger   *slog.Logger
	slashing Service
}

func New(slashing Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, slashing: slashing}
}

// Register mounts the slashing routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/bonds/{identity}/slash", h.handleSlash)
	r.Post("/bonds/{identity}/unslash", h.handleUnslash)
	r.Get("/bonds/{identity}/slashes", h.handleHistory)
	r.Get("/slash/governors", h.handleGovernors)
	r.Post("/slash/proposals", h.handlePropose)
	r.Get("/slash/proposals/{id}", h.handleGetProposal)
	r.Post("/slash/proposals/{id}/votes", h.handleVote)
	r.Post("/slash/proposals/{id}/execute", h.handleExecute)
}

type slashRequest struct {
	Caller string        `json:"caller"`
	Amount amount.Amount `json:"amount"`
	Reason string        `json:"reason"`
}

func (h *Handler) handleSlash(w http.ResponseWriter, r *http.Request) {
	var req slashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.slashing.Slash(r.Context(), req.Caller, chi.URLParam(r, "identity"), req.Amount, req.Reason)
	if err != nil {
		h.writeError(r.Context(), w, err, "slash")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleUnslash(w http.ResponseWriter, r *http.Request) {
	var req slashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.slashing.Unslash(r.Context(), req.Caller, chi.URLParam(r, "identity"), req.Amount, req.Reason)
	if err != nil {
		h.writeError(r.Context(), w, err, "unslash")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.slashing.History(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		h.writeError(r.Context(), w, err, "slash history")
		return
	}
	if records == nil {
		records = []models.SlashRecord{}
	}
	shared.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGovernors(w http.ResponseWriter, r *http.Request) {
	shared.WriteJSON(w, http.StatusOK, map[string][]string{"governors": h.slashing.Governors()})
}

type proposeRequest struct {
	Proposer string        `json:"proposer"`
	Identity string        `json:"identity"`
	Amount   amount.Amount `json:"amount"`
	Reason   string        `json:"reason"`
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	proposal, err := h.slashing.ProposeSlash(r.Context(), req.Proposer, req.Identity, req.Amount, req.Reason)
	if err != nil {
		h.writeError(r.Context(), w, err, "propose slash")
		return
	}
	shared.WriteJSON(w, http.StatusCreated, proposal)
}

func (h *Handler) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	proposal, err := h.slashing.Proposal(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err, "get proposal")
		return
	}
	shared.WriteJSON(w, http.StatusOK, proposal)
}

func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req struct {
		Voter   string `json:"voter"`
		Approve bool   `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	proposal, err := h.slashing.Vote(r.Context(), req.Voter, id, req.Approve)
	if err != nil {
		h.writeError(r.Context(), w, err, "vote")
		return
	}
	shared.WriteJSON(w, http.StatusOK, proposal)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req struct {
		Executor string `json:"executor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.slashing.ExecuteProposal(r.Context(), req.Executor, id)
	if err != nil {
		h.writeError(r.Context(), w, err, "execute proposal")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func proposalID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid proposal id")
	}
	return id, nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeInvariantViolation {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, op+" failed"))
		return
	}
	shared.WriteError(w, err)
}
