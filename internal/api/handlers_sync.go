/**
 * @description
 * HTTP handlers for bulk synchronization runs: starting, cancelling,
 * resuming, and reading progress.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/app"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
)

type startSyncPayload struct {
	IntegrationID uuid.UUID `json:"integration_id"`
}

type startSyncResponse struct {
	SyncID uuid.UUID `json:"sync_id"`
	Status string    `json:"status"`
}

// StartSyncHandler starts a new bulk synchronization run.
func (h *Handlers) StartSyncHandler(w http.ResponseWriter, r *http.Request) {
	var payload startSyncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if payload.IntegrationID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "integration_id is required.")
		return
	}

	syncID, err := h.sync.StartSync(r.Context(), payload.IntegrationID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSyncAlreadyRunning):
			h.writeError(w, http.StatusConflict, "A sync is already running for this integration.")
		case errors.Is(err, app.ErrUnknownIntegration):
			h.writeError(w, http.StatusNotFound, "Integration not found.")
		case errors.Is(err, app.ErrSyncNotSyncable):
			h.writeError(w, http.StatusBadRequest, "This integration has no external system to sync.")
		default:
			log.Printf("level=error component=api endpoint=start_sync outcome=failed integration_id=%s err=%v", payload.IntegrationID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not start sync.")
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, startSyncResponse{SyncID: syncID, Status: "running"})
}

// GetSyncHandler returns one run with its per-phase progress.
func (h *Handlers) GetSyncHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	progress, err := h.sync.GetProgress(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSyncNotFound) {
			h.writeError(w, http.StatusNotFound, "Sync run not found.")
			return
		}
		log.Printf("level=error component=api endpoint=get_sync outcome=failed sync_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve sync run.")
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

// ListSyncRunsHandler returns recent runs, optionally for one integration.
func (h *Handlers) ListSyncRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	var integrationID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("integration_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid integration_id")
			return
		}
		integrationID = &id
	}

	runs, err := h.sync.ListRuns(r.Context(), integrationID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_sync_runs outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve sync runs.")
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

// CancelSyncHandler requests cooperative cancellation of a running sync.
func (h *Handlers) CancelSyncHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.sync.CancelSync(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSyncNotFound) {
			h.writeError(w, http.StatusNotFound, "No running sync with this id.")
			return
		}
		log.Printf("level=error component=api endpoint=cancel_sync outcome=failed sync_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Could not cancel sync.")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

// ResumeSyncHandler restarts the phase loop of a still-running sync whose
// driving instance went away.
func (h *Handlers) ResumeSyncHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.sync.ResumeSync(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrSyncNotFound):
			h.writeError(w, http.StatusNotFound, "Sync run not found.")
		case errors.Is(err, app.ErrSyncNotResumable):
			h.writeError(w, http.StatusConflict, "Sync run is terminal and cannot be resumed.")
		default:
			log.Printf("level=error component=api endpoint=resume_sync outcome=failed sync_id=%s err=%v", id, err)
			h.writeError(w, http.StatusInternalServerError, "Could not resume sync.")
		}
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}
