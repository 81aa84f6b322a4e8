package handler

import (
	"net/http"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"context-sync-server/internal/websocket"
	"context-sync-server/pkg/token"
)

// WebSocketHandler accepts inbound peer connections. Peers authenticate
// with a token signed by the shared cluster secret.
type WebSocketHandler struct {
	manager    *websocket.Manager
	peerSecret string
	upgrader   ws.Upgrader
	logger     *zap.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, peerSecret string, readBufferSize, writeBufferSize int, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:    manager,
		peerSecret: peerSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = r.Header.Get("Authorization")
		if len(raw) > 7 && raw[:7] == "Bearer " {
			raw = raw[7:]
		}
	}

	if raw == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := token.ValidateToken(raw, h.peerSecret)
	if err != nil {
		h.logger.Warn("peer token validation failed", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	peer := websocket.NewPeer(uuid.New().String(), claims.NodeID, conn, h.manager)
	h.manager.Register <- peer

	go peer.WritePump()
	go peer.ReadPump()

	h.logger.Info("accepted peer connection", zap.String("node_id", claims.NodeID))
}
