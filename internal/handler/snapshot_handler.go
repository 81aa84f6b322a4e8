package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"context-sync-server/internal/service"
	"context-sync-server/internal/store"
	"context-sync-server/pkg/response"
)

type SnapshotHandler struct {
	snapshotService *service.SnapshotService
	syncService     *service.SyncService
	states          *store.Store
}

func NewSnapshotHandler(snapshotService *service.SnapshotService, syncService *service.SyncService, states *store.Store) *SnapshotHandler {
	return &SnapshotHandler{
		snapshotService: snapshotService,
		syncService:     syncService,
		states:          states,
	}
}

// Create snapshots the current state of a context.
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	stateID := mux.Vars(r)["id"]

	state, ok := h.states.Get(stateID)
	if !ok {
		response.NotFound(w, "no state for context "+stateID)
		return
	}

	snapshot, err := h.snapshotService.CreateSnapshot(r.Context(), state)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, snapshot)
}

func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	stateID := mux.Vars(r)["id"]
	response.Success(w, h.snapshotService.SnapshotsForState(r.Context(), stateID))
}

// Restore rebuilds the state from one snapshot, installs it and
// announces it to peers.
func (h *SnapshotHandler) Restore(w http.ResponseWriter, r *http.Request) {
	snapshotID := mux.Vars(r)["id"]

	state, err := h.snapshotService.RestoreSnapshot(r.Context(), snapshotID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	applied, err := h.syncService.ApplyRecovered(r.Context(), state)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, applied)
}

func (h *SnapshotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	snapshotID := mux.Vars(r)["id"]

	removed := h.snapshotService.DeleteSnapshot(r.Context(), snapshotID)
	response.Success(w, map[string]bool{"removed": removed})
}

type recoverRequest struct {
	Strategy string     `json:"strategy"`
	Version  *uint64    `json:"version,omitempty"`
	Cutoff   *time.Time `json:"cutoff,omitempty"`
}

// Recover runs strategy-driven recovery for a context's state.
func (h *SnapshotHandler) Recover(w http.ResponseWriter, r *http.Request) {
	stateID := mux.Vars(r)["id"]

	req := recoverRequest{Strategy: "latest"}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
	}

	var strategy service.RecoveryStrategy
	switch req.Strategy {
	case "", "latest":
		strategy = service.LatestVersion()
	case "version":
		if req.Version == nil {
			response.BadRequest(w, "strategy \"version\" requires a version")
			return
		}
		strategy = service.SpecificVersion(*req.Version)
	case "time":
		if req.Cutoff == nil {
			response.BadRequest(w, "strategy \"time\" requires a cutoff")
			return
		}
		strategy = service.TimeBound(*req.Cutoff)
	default:
		response.BadRequest(w, "unknown recovery strategy "+req.Strategy)
		return
	}

	state, err := h.snapshotService.RecoverWithStrategy(r.Context(), stateID, strategy)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	applied, err := h.syncService.ApplyRecovered(r.Context(), state)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, applied)
}
