package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Peer is one websocket connection to another node.
type Peer struct {
	ID      string
	NodeID  string
	Conn    *websocket.Conn
	Manager *Manager
	Send    chan []byte
}

func NewPeer(id, nodeID string, conn *websocket.Conn, manager *Manager) *Peer {
	return &Peer{
		ID:      id,
		NodeID:  nodeID,
		Conn:    conn,
		Manager: manager,
		Send:    make(chan []byte, 256),
	}
}

func (p *Peer) ReadPump() {
	defer func() {
		p.Manager.Unregister <- p
		p.Conn.Close()
	}()

	p.Conn.SetReadLimit(p.Manager.maxMessageSize)
	p.Conn.SetReadDeadline(time.Now().Add(p.Manager.pongWait))
	p.Conn.SetPongHandler(func(string) error {
		p.Conn.SetReadDeadline(time.Now().Add(p.Manager.pongWait))
		return nil
	})

	for {
		_, message, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.Manager.logger.Warn("peer connection error",
					zap.String("node_id", p.NodeID),
					zap.Error(err),
				)
			}
			break
		}

		p.Manager.Inbound <- &PeerMessage{
			Peer: p,
			Data: message,
		}
	}
}

func (p *Peer) WritePump() {
	ticker := time.NewTicker(p.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			p.Conn.SetWriteDeadline(time.Now().Add(p.Manager.writeWait))
			if !ok {
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			p.Conn.SetWriteDeadline(time.Now().Add(p.Manager.writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
