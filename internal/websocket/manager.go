package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
)

type PeerMessage struct {
	Peer *Peer
	Data []byte
}

// MessageSink receives decoded frames; in production it is the sync
// coordinator's inbox.
type MessageSink interface {
	Submit(ctx context.Context, msg domain.SyncMessage) error
}

// Manager owns all peer connections, one per remote node, and fans sync
// messages out to them.
type Manager struct {
	peers   map[string]*Peer
	peersMu sync.RWMutex

	Register   chan *Peer
	Unregister chan *Peer
	Inbound    chan *PeerMessage

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64

	sink   MessageSink
	logger *zap.Logger
}

func NewManager(writeWait, pongWait, pingPeriod time.Duration, maxMessageSize int64, logger *zap.Logger) *Manager {
	if maxMessageSize <= 0 {
		maxMessageSize = 512 * 1024
	}
	return &Manager{
		peers:          make(map[string]*Peer),
		Register:       make(chan *Peer, 16),
		Unregister:     make(chan *Peer, 16),
		Inbound:        make(chan *PeerMessage, 64),
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		maxMessageSize: maxMessageSize,
		logger:         logger,
	}
}

func (m *Manager) SetSink(sink MessageSink) {
	m.sink = sink
}

func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case peer := <-m.Register:
			m.registerPeer(peer)

		case peer := <-m.Unregister:
			m.unregisterPeer(peer)

		case pm := <-m.Inbound:
			m.processInbound(ctx, pm)
		}
	}
}

// registerPeer keeps at most one connection per node; a reconnect
// replaces the previous one.
func (m *Manager) registerPeer(peer *Peer) {
	m.peersMu.Lock()
	defer m.peersMu.Unlock()

	if old, ok := m.peers[peer.NodeID]; ok && old.ID != peer.ID {
		close(old.Send)
		old.Conn.Close()
	}
	m.peers[peer.NodeID] = peer

	m.logger.Info("peer connected",
		zap.String("node_id", peer.NodeID),
		zap.String("connection_id", peer.ID),
	)
}

func (m *Manager) unregisterPeer(peer *Peer) {
	m.peersMu.Lock()
	defer m.peersMu.Unlock()

	current, ok := m.peers[peer.NodeID]
	if !ok || current.ID != peer.ID {
		return
	}
	delete(m.peers, peer.NodeID)
	close(peer.Send)

	m.logger.Info("peer disconnected", zap.String("node_id", peer.NodeID))
}

func (m *Manager) processInbound(ctx context.Context, pm *PeerMessage) {
	msg, err := Decode(pm.Data)
	if err != nil {
		m.logger.Warn("dropping malformed peer frame",
			zap.String("node_id", pm.Peer.NodeID),
			zap.Error(err),
		)
		return
	}

	if m.sink == nil {
		return
	}
	if err := m.sink.Submit(ctx, msg); err != nil {
		m.logger.Warn("failed to submit peer message",
			zap.String("node_id", pm.Peer.NodeID),
			zap.String("op", string(msg.Op)),
			zap.Error(err),
		)
	}
}

// Broadcast sends the message to every connected peer except its source.
// Peers with a full send buffer are disconnected inline rather than
// handed to the Run loop, which may itself be blocked submitting inbound
// messages to the caller.
func (m *Manager) Broadcast(msg domain.SyncMessage) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	var stalled []*Peer

	m.peersMu.RLock()
	for nodeID, peer := range m.peers {
		if nodeID == msg.Source {
			continue
		}
		select {
		case peer.Send <- data:
		default:
			stalled = append(stalled, peer)
		}
	}
	m.peersMu.RUnlock()

	if len(stalled) == 0 {
		return nil
	}

	m.peersMu.Lock()
	for _, peer := range stalled {
		current, ok := m.peers[peer.NodeID]
		if !ok || current.ID != peer.ID {
			continue
		}
		delete(m.peers, peer.NodeID)
		close(peer.Send)
		m.logger.Warn("peer send buffer full, disconnecting",
			zap.String("node_id", peer.NodeID),
		)
	}
	m.peersMu.Unlock()

	return fmt.Errorf("failed to deliver to %d peer(s)", len(stalled))
}

// Connect dials a remote node and starts its pumps. Used for the peers
// this node initiates toward, typically from discovery.
func (m *Manager) Connect(ctx context.Context, nodeID, url, token string) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial peer %s: %w", nodeID, err)
	}

	peer := NewPeer(uuid.New().String(), nodeID, conn, m)
	m.Register <- peer

	go peer.WritePump()
	go peer.ReadPump()
	return nil
}

func (m *Manager) PeerIDs() []string {
	m.peersMu.RLock()
	defer m.peersMu.RUnlock()

	ids := make([]string, 0, len(m.peers))
	for nodeID := range m.peers {
		ids = append(ids, nodeID)
	}
	return ids
}

func (m *Manager) PeerCount() int {
	m.peersMu.RLock()
	defer m.peersMu.RUnlock()
	return len(m.peers)
}
