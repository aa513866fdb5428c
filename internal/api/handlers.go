/**
 * @description
 * This file contains the HTTP handlers for the activation and wallet
 * endpoints. Handlers parse incoming requests, call the application
 * services, and map service errors onto HTTP statuses. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/app"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
)

// Handlers holds the application services the HTTP layer exposes.
type Handlers struct {
	service *app.Service
	ledger  *app.Ledger
	sync    *app.SyncCoordinator
	repo    store.Repository
}

func NewHandlers(service *app.Service, ledger *app.Ledger, sync *app.SyncCoordinator, repo store.Repository) *Handlers {
	return &Handlers{service: service, ledger: ledger, sync: sync, repo: repo}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// HealthHandler reports liveness.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

// RequestActivationHandler accepts an activation/renewal request.
func (h *Handlers) RequestActivationHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	activation, err := h.service.RequestActivation(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrAlreadyProcessed) && activation != nil {
			// Idempotent replay: return the original result.
			h.writeJSON(w, http.StatusOK, activation)
			return
		}
		status, msg := mapActivationError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=request_activation outcome=failed correlation_id=%s err=%v", req.CorrelationID, err)
		}
		h.writeError(w, status, msg)
		return
	}

	h.writeJSON(w, http.StatusAccepted, activation)
}

// GetActivationHandler returns one billing activation.
func (h *Handlers) GetActivationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	activation, err := h.repo.GetBillingActivation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrActivationNotFound) {
			h.writeError(w, http.StatusNotFound, "Activation not found.")
			return
		}
		log.Printf("level=error component=api endpoint=get_activation outcome=failed activation_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve activation.")
		return
	}
	h.writeJSON(w, http.StatusOK, activation)
}

// ListActivationsHandler returns the filterable activation projection.
func (h *Handlers) ListActivationsHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.ActivationListFilter{}
	var err error
	filter.Limit, err = parseOptionalPositiveInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	filter.Offset, err = parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("user_id")); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid user_id")
			return
		}
		filter.RadiusUserID = &userID
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.ActivationStatus(raw)
		filter.Status = &status
	}

	activations, err := h.repo.ListBillingActivations(r.Context(), filter)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_activations outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve activations.")
		return
	}
	h.writeJSON(w, http.StatusOK, activations)
}

// activationAttemptsResponse pairs the RADIUS half with its attempt log.
type activationAttemptsResponse struct {
	RadiusActivation *domain.RadiusActivation  `json:"radius_activation"`
	Attempts         []domain.SasActivationLog `json:"attempts"`
}

// ListActivationAttemptsHandler returns the propagation attempt log of one
// RADIUS activation.
func (h *Handlers) ListActivationAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	activation, err := h.repo.GetRadiusActivation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrActivationNotFound) {
			h.writeError(w, http.StatusNotFound, "Activation not found.")
			return
		}
		log.Printf("level=error component=api endpoint=list_attempts outcome=failed activation_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve activation.")
		return
	}

	attempts, err := h.repo.ListSasActivationLogs(r.Context(), id)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_attempts outcome=failed activation_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve attempts.")
		return
	}

	h.writeJSON(w, http.StatusOK, activationAttemptsResponse{RadiusActivation: activation, Attempts: attempts})
}

// ListActivationAuditHandler returns the audit trail of one activation.
func (h *Handlers) ListActivationAuditHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 100)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	entries, err := h.repo.ListAuditLogs(r.Context(), "billing_activation", id, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_activation_audit outcome=failed activation_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve audit trail.")
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

type reverseTransactionPayload struct {
	Reason string `json:"reason"`
}

// ReverseTransactionHandler posts the explicit compensating transaction for
// an earlier ledger posting.
func (h *Handlers) ReverseTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	var payload reverseTransactionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if strings.TrimSpace(payload.Reason) == "" {
		h.writeError(w, http.StatusBadRequest, "A reason is required to reverse a transaction.")
		return
	}

	reversal, err := h.service.ReverseActivationTransaction(r.Context(), id, payload.Reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, "Transaction not found.")
		case errors.Is(err, store.ErrTransactionReversed):
			h.writeError(w, http.StatusConflict, "Transaction was already reversed.")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusUnprocessableEntity, "Insufficient funds to reverse this transaction.")
		default:
			log.Printf("level=error component=api endpoint=reverse_transaction outcome=failed transaction_id=%s err=%v", id, err)
			h.writeError(w, http.StatusInternalServerError, "Could not reverse transaction.")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, reversal)
}

// GetWalletHandler returns one wallet snapshot.
func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWallet(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found.")
			return
		}
		log.Printf("level=error component=api endpoint=get_wallet outcome=failed wallet_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve wallet.")
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// ListWalletTransactionsHandler returns a wallet's ledger, newest first.
func (h *Handlers) ListWalletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 30)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	transactions, err := h.ledger.ListTransactions(r.Context(), id, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_wallet_transactions outcome=failed wallet_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve transactions.")
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// ListUserHistoryHandler returns a subscriber's change history.
func (h *Handlers) ListUserHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 100)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	history, err := h.repo.ListRadiusUserHistory(r.Context(), id, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_user_history outcome=failed user_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve history.")
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid id.")
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalPositiveInt(raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return value, nil
}

// mapActivationError translates orchestrator errors onto HTTP statuses.
func mapActivationError(err error) (int, string) {
	switch {
	case app.IsValidationError(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrAlreadyProcessed):
		return http.StatusConflict, "This correlation id was already processed."
	case errors.Is(err, app.ErrAlreadyProcessing):
		return http.StatusConflict, "An activation is already in flight for this user."
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "Radius user not found."
	case errors.Is(err, store.ErrProfileNotFound):
		return http.StatusNotFound, "Billing profile not found."
	case errors.Is(err, store.ErrWalletNotFound):
		return http.StatusNotFound, "Wallet not found."
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrDailyLimitExceeded),
		errors.Is(err, store.ErrFillLimitExceeded):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, store.ErrWalletSuspended):
		return http.StatusUnprocessableEntity, "Wallet is suspended."
	case errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict, "The wallet was modified concurrently; please retry."
	default:
		return http.StatusInternalServerError, "Could not process activation."
	}
}
