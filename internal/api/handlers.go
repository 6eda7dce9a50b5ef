/**
 * @description
 * This file contains the HTTP handlers for the billing service. Handlers
 * parse requests, call the application service and translate service errors
 * into status codes: 401 for missing identity, 403 for role mismatch, 400
 * for validation and gateway failures (with the raw gateway diagnostics
 * attached), 409 for claim conflicts.
 *
 * @dependencies
 * - encoding/json, errors, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, custom errors.
 * - pkg/paychangu: Gateway error type carrying raw diagnostics.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/expertcoachinghub/billing-service/internal/app"
	"github.com/expertcoachinghub/billing-service/internal/domain"
	"github.com/expertcoachinghub/billing-service/internal/store"
	"github.com/expertcoachinghub/billing-service/pkg/paychangu"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type errorResponse struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req app.InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := h.service.InitiatePayment(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, userID, "initiate_payment", err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req app.CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	withdrawal, err := h.service.SubmitWithdrawal(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, userID, "submit_withdrawal", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, withdrawal)
}

func (h *Handler) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	withdrawals, err := h.service.ListWithdrawals(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		h.respondServiceError(w, userID, "list_withdrawals", err)
		return
	}
	if withdrawals == nil {
		withdrawals = []domain.WithdrawalRequest{}
	}

	respondWithJSON(w, http.StatusOK, withdrawals)
}

func (h *Handler) handleProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req app.ProcessWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	withdrawal, err := h.service.ProcessWithdrawal(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, userID, "process_withdrawal", err)
		return
	}

	respondWithJSON(w, http.StatusOK, withdrawal)
}

// handleRunRenewals triggers one renewal batch. The optional limit query
// parameter is capped server-side at the configured batch ceiling.
func (h *Handler) handleRunRenewals(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer", nil)
			return
		}
		limit = parsed
	}

	summary, err := h.service.RunRenewalBatch(r.Context(), limit)
	if err != nil {
		if errors.Is(err, app.ErrRunInProgress) {
			h.writeError(w, http.StatusConflict, err.Error(), nil)
			return
		}
		h.logger.Error("renewal run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// respondServiceError maps service-layer errors onto HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, userID, endpoint string, err error) {
	var apiErr *paychangu.APIError
	switch {
	case errors.Is(err, app.ErrForbidden):
		h.logger.Warn("request rejected", "endpoint", endpoint, "user_id", userID, "reason", "role_mismatch")
		h.writeError(w, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, app.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &apiErr):
		// Gateway failure: surface the raw diagnostics so the UI can show
		// an actionable message.
		h.writeError(w, http.StatusBadRequest, "payment gateway rejected the request", apiErr.RawBody)
	case errors.Is(err, store.ErrProfileNotFound):
		h.writeError(w, http.StatusUnauthorized, "unknown user", nil)
	case errors.Is(err, store.ErrWithdrawalNotFound):
		h.writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, store.ErrWithdrawalNotPending):
		h.writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		h.logger.Error("request failed", "endpoint", endpoint, "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, message string, details []byte) {
	resp := errorResponse{Error: message}
	if len(details) > 0 && json.Valid(details) {
		resp.Details = details
	}
	respondWithJSON(w, code, resp)
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
