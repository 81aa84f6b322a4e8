package handler

import (
	"net/http"
	"strconv"

	"context-sync-server/internal/service"
	"context-sync-server/internal/websocket"
	"context-sync-server/pkg/response"
)

type SyncHandler struct {
	syncService *service.SyncService
	peers       *websocket.Manager
}

func NewSyncHandler(syncService *service.SyncService, peers *websocket.Manager) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		peers:       peers,
	}
}

// TriggerSync runs one sync pass on demand.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncService.Sync(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, err := h.syncService.State()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"node_id":         h.syncService.NodeID(),
		"state":           state,
		"peers":           h.syncService.Peers(),
		"connected_peers": h.peers.PeerIDs(),
	})
}

// Changes returns the change log entries newer than since_version.
func (h *SyncHandler) Changes(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since_version"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.BadRequest(w, "invalid since_version")
			return
		}
		since = parsed
	}

	changes, err := h.syncService.ChangesSince(since)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, changes)
}
