// Package handler exposes the bond ledger over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"credence/internal/bond/models"
	"credence/internal/bond/service"
	"credence/internal/platform/middleware"
	"credence/internal/transport/http/shared"
	"credence/pkg/amount"
	dErrors "credence/pkg/domain-errors"
)

// Service is the bond operation surface the handler depends on.
type Service interface {
	CreateBond(ctx context.Context, params service.CreateBondParams) (*models.IdentityBond, error)
	TopUp(ctx context.Context, identity string, amt amount.Amount, nonce uint64) (*models.IdentityBond, error)
	ExtendDuration(ctx context.Context, identity string, additional uint64) (*models.IdentityBond, error)
	Get(ctx context.Context, identity string) (*models.IdentityBond, models.Tier, error)
	Nonce(ctx context.Context, identity string) (uint64, error)
	Withdraw(ctx context.Context, identity string, amt amount.Amount) (*models.IdentityBond, error)
	WithdrawEarly(ctx context.Context, identity string, amt amount.Amount) (*models.IdentityBond, error)
	RequestWithdrawal(ctx context.Context, identity string) (*models.IdentityBond, error)
	CancelWithdrawal(ctx context.Context, identity, caller string) (*models.IdentityBond, error)
	EmergencyWithdraw(ctx context.Context, params service.EmergencyWithdrawParams) (*models.EmergencyRecord, error)
	EmergencyRecord(ctx context.Context, id uint64) (*models.EmergencyRecord, error)
	LatestEmergencyRecordID(ctx context.Context) (uint64, error)
	SetEmergencyEnabled(ctx context.Context, caller string, enabled bool) error
	RenewIfRolling(ctx context.Context, identity string) (*models.IdentityBond, error)
	ValidateBatch(ctx context.Context, entries []models.BatchEntry) error
	CommitBatch(ctx context.Context, entries []models.BatchEntry) (*models.BatchResult, error)
}

type Handler struct {
	logger *slog.Logger
	bonds  Service
}

func New(bonds Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, bonds: bonds}
}

// Register mounts the bond routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/bonds", h.handleCreate)
	r.Post("/bonds/batch", h.handleCommitBatch)
	r.Post("/bonds/batch/validate", h.handleValidateBatch)
	r.Get("/bonds/{identity}", h.handleGet)
	r.Get("/bonds/{identity}/nonce", h.handleNonce)
	r.Post("/bonds/{identity}/top-up", h.handleTopUp)
	r.Post("/bonds/{identity}/extend", h.handleExtend)
	r.Post("/bonds/{identity}/renew", h.handleRenew)
	r.Post("/bonds/{identity}/withdraw", h.handleWithdraw)
	r.Post("/bonds/{identity}/withdraw/early", h.handleWithdrawEarly)
	r.Post("/bonds/{identity}/withdraw/request", h.handleRequestWithdrawal)
	r.Post("/bonds/{identity}/withdraw/cancel", h.handleCancelWithdrawal)
	r.Post("/bonds/{identity}/withdraw/emergency", h.handleEmergencyWithdraw)
	r.Post("/emergency-mode", h.handleEmergencyMode)
	r.Get("/emergency-records/latest", h.handleLatestEmergencyRecord)
	r.Get("/emergency-records/{id}", h.handleEmergencyRecord)
}

type createBondRequest struct {
	Identity            string        `json:"identity"`
	Amount              amount.Amount `json:"amount"`
	DurationSeconds     uint64        `json:"duration_seconds"`
	IsRolling           bool          `json:"is_rolling"`
	NoticePeriodSeconds uint64        `json:"notice_period_seconds"`
	Nonce               uint64        `json:"nonce"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createBondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.bonds.CreateBond(ctx, service.CreateBondParams{
		Identity:     req.Identity,
		Amount:       req.Amount,
		Duration:     req.DurationSeconds,
		IsRolling:    req.IsRolling,
		NoticePeriod: req.NoticePeriodSeconds,
		Nonce:        req.Nonce,
	})
	if err != nil {
		h.writeError(ctx, w, err, "create bond")
		return
	}
	shared.WriteJSON(w, http.StatusCreated, bond)
}

type bondResponse struct {
	Bond *models.IdentityBond `json:"bond"`
	Tier models.Tier          `json:"tier"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	bond, tier, err := h.bonds.Get(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		h.writeError(r.Context(), w, err, "get bond")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bondResponse{Bond: bond, Tier: tier})
}

func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := h.bonds.Nonce(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		h.writeError(r.Context(), w, err, "get nonce")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

type amountRequest struct {
	Amount amount.Amount `json:"amount"`
	Nonce  uint64        `json:"nonce"`
}

func (h *Handler) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.bonds.TopUp(r.Context(), chi.URLParam(r, "identity"), req.Amount, req.Nonce)
	if err != nil {
		h.writeError(r.Context(), w, err, "top up bond")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdditionalSeconds uint64 `json:"additional_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.bonds.ExtendDuration(r.Context(), chi.URLParam(r, "identity"), req.AdditionalSeconds)
	if err != nil {
		h.writeError(r.Context(), w, err, "extend bond")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	bond, err := h.bonds.RenewIfRolling(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		h.writeError(r.Context(), w, err, "renew bond")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.bonds.Withdraw(r.Context(), chi.URLParam(r, "identity"), req.Amount)
	if err != nil {
		h.writeError(r.Context(), w, err, "withdraw")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleWithdrawEarly(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.bonds.WithdrawEarly(r.Context(), chi.URLParam(r, "identity"), req.Amount)
	if err != nil {
		h.writeError(r.Context(), w, err, "early withdraw")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	bond, err := h.bonds.RequestWithdrawal(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		h.writeError(r.Context(), w, err, "request withdrawal")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

func (h *Handler) handleCancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bond, err := h.bonds.CancelWithdrawal(r.Context(), chi.URLParam(r, "identity"), req.Caller)
	if err != nil {
		h.writeError(r.Context(), w, err, "cancel withdrawal")
		return
	}
	shared.WriteJSON(w, http.StatusOK, bond)
}

type emergencyWithdrawRequest struct {
	Amount     amount.Amount `json:"amount"`
	Admin      string        `json:"admin"`
	Governance string        `json:"governance"`
	Reason     string        `json:"reason"`
}

func (h *Handler) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req emergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.bonds.EmergencyWithdraw(r.Context(), service.EmergencyWithdrawParams{
		Identity:   chi.URLParam(r, "identity"),
		Amount:     req.Amount,
		Admin:      req.Admin,
		Governance: req.Governance,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(r.Context(), w, err, "emergency withdraw")
		return
	}
	shared.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleEmergencyMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.bonds.SetEmergencyEnabled(r.Context(), req.Caller, req.Enabled); err != nil {
		h.writeError(r.Context(), w, err, "toggle emergency mode")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEmergencyRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "record id must be a non-negative integer"))
		return
	}

	record, recordErr := h.bonds.EmergencyRecord(r.Context(), id)
	if recordErr != nil {
		h.writeError(r.Context(), w, recordErr, "get emergency record")
		return
	}
	shared.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleLatestEmergencyRecord(w http.ResponseWriter, r *http.Request) {
	id, err := h.bonds.LatestEmergencyRecordID(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err, "get latest emergency record id")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]uint64{"latest_record_id": id})
}

type batchRequest struct {
	Entries []models.BatchEntry `json:"entries"`
}

func (h *Handler) handleValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.bonds.ValidateBatch(r.Context(), req.Entries); err != nil {
		h.writeError(r.Context(), w, err, "validate batch")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) handleCommitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.bonds.CommitBatch(r.Context(), req.Entries)
	if err != nil {
		h.writeError(r.Context(), w, err, "commit batch")
		return
	}
	shared.WriteJSON(w, http.StatusCreated, result)
}

// writeError logs internal failures and keeps their details off the wire.
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
