package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
	"context-sync-server/internal/repository"
	"context-sync-server/internal/store"
	"context-sync-server/internal/telemetry"
)

// PeerTransport delivers sync messages to every connected peer.
type PeerTransport interface {
	Broadcast(msg domain.SyncMessage) error
}

// ContextLister is what the coordinator needs from the context manager
// when it persists the engine state.
type ContextLister interface {
	ListContexts() []domain.Context
}

// SyncService is the coordinator: it consumes the message inbox on a
// single goroutine, detects conflicts against per-peer version
// bookkeeping, and runs periodic sync passes. Every mutating operation
// requires Init to have succeeded first.
type SyncService struct {
	nodeID      string
	states      *store.Store
	log         *ChangeLog
	broadcaster *Broadcaster
	conflicts   *ConflictService
	persistence repository.Persistence
	transport   PeerTransport
	contexts    ContextLister
	logger      *zap.Logger

	resolution   domain.ResolutionStrategy
	cleanupAfter time.Duration

	inbox     chan domain.SyncMessage
	closeOnce sync.Once

	peersMu sync.RWMutex
	peers   map[string]*domain.PeerInfo

	stateMu sync.Mutex
	state   domain.SyncState

	initialized atomic.Bool
}

func NewSyncService(
	nodeID string,
	states *store.Store,
	log *ChangeLog,
	broadcaster *Broadcaster,
	conflicts *ConflictService,
	persistence repository.Persistence,
	transport PeerTransport,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		nodeID:      nodeID,
		states:      states,
		log:         log,
		broadcaster: broadcaster,
		conflicts:   conflicts,
		persistence: persistence,
		transport:   transport,
		logger:      logger,
		resolution:  domain.ResolutionKeepLatest,
		inbox:       make(chan domain.SyncMessage, 256),
		peers:       make(map[string]*domain.PeerInfo),
	}
}

// SetContexts wires the context manager in after construction; the two
// services reference each other.
func (s *SyncService) SetContexts(contexts ContextLister) {
	s.contexts = contexts
}

func (s *SyncService) SetResolutionStrategy(strategy domain.ResolutionStrategy) {
	s.resolution = strategy
}

// SetCleanupAge enables age-based change log cleanup after each sync
// pass. Zero disables it.
func (s *SyncService) SetCleanupAge(age time.Duration) {
	s.cleanupAfter = age
}

func (s *SyncService) NodeID() string {
	return s.nodeID
}

// Init loads the persisted engine state. A missing or unreadable state
// is replaced by a fresh default; Init never refuses to start over
// storage trouble, it logs and moves on.
func (s *SyncService) Init(ctx context.Context) error {
	if s.initialized.Load() {
		return nil
	}

	persisted, err := s.persistence.LoadState(ctx)
	if err != nil {
		s.logger.Warn("failed to load persisted state, starting fresh", zap.Error(err))
		persisted = nil
	}

	if persisted == nil {
		fresh := &repository.PersistedState{
			ID:       uuid.New().String(),
			LastSync: time.Now(),
		}
		if err := s.persistence.SaveState(ctx, fresh); err != nil {
			s.logger.Warn("failed to persist initial state", zap.Error(err))
		}
	} else {
		s.stateMu.Lock()
		s.state.LastSync = persisted.LastSync
		s.state.LastVersion = persisted.LastVersion
		s.stateMu.Unlock()

		for _, change := range persisted.Changes {
			if err := s.log.Apply(change); err != nil {
				s.logger.Error("failed to replay persisted change",
					zap.String("change_id", change.ID),
					zap.Error(err),
				)
			}
		}
	}

	changes, err := s.persistence.LoadChanges(ctx)
	if err != nil {
		s.logger.Warn("failed to load change history", zap.Error(err))
	} else {
		for _, change := range changes {
			if err := s.log.Apply(change); err != nil {
				s.logger.Error("failed to replay change",
					zap.String("change_id", change.ID),
					zap.Error(err),
				)
			}
		}
	}

	s.initialized.Store(true)
	s.logger.Info("sync coordinator initialized",
		zap.String("node_id", s.nodeID),
		zap.Uint64("log_version", s.log.CurrentVersion()),
	)
	return nil
}

func (s *SyncService) ensureInitialized() error {
	if !s.initialized.Load() {
		return domain.ErrNotInitialized
	}
	return nil
}

// Run consumes the inbox until the context is cancelled or Close is
// called. Handler errors are logged, never fatal to the loop.
func (s *SyncService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			if err := s.handleMessage(ctx, msg); err != nil {
				s.logger.Error("sync message handling failed",
					zap.String("op", string(msg.Op)),
					zap.String("source", msg.Source),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *SyncService) Close() {
	s.closeOnce.Do(func() {
		close(s.inbox)
	})
}

// Submit queues an inbound message for the coordinator loop.
func (s *SyncService) Submit(ctx context.Context, msg domain.SyncMessage) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	select {
	case s.inbox <- msg:
		return nil
	case <-ctx.Done():
		return &domain.SyncError{Op: "submit", Err: ctx.Err()}
	}
}

func (s *SyncService) handleMessage(ctx context.Context, msg domain.SyncMessage) error {
	if msg.Source == s.nodeID {
		// Own broadcast echoed back by a peer.
		return nil
	}
	s.touchPeer(msg.Source)
	telemetry.MessagesTotal.WithLabelValues(string(msg.Op)).Inc()

	switch msg.Op {
	case domain.OpStateUpdate:
		if msg.State == nil {
			return fmt.Errorf("%w: state_update without state", domain.ErrInvalidState)
		}
		return s.handleStateUpdate(ctx, *msg.State, msg.Source)

	case domain.OpSnapshotCreate:
		if msg.Snapshot == nil {
			return fmt.Errorf("%w: snapshot_create without snapshot", domain.ErrInvalidState)
		}
		return s.forward(domain.NewSnapshotCreate(s.nodeID, *msg.Snapshot))

	case domain.OpSnapshotDelete:
		if msg.SnapshotID == "" {
			return fmt.Errorf("%w: snapshot_delete without snapshot id", domain.ErrInvalidState)
		}
		return s.forward(domain.NewSnapshotDelete(s.nodeID, msg.SnapshotID))

	case domain.OpConflict:
		if msg.Conflict == nil {
			return fmt.Errorf("%w: conflict without conflict info", domain.ErrInvalidState)
		}
		return s.handleConflict(ctx, *msg.Conflict)

	default:
		return fmt.Errorf("%w: unknown sync operation %q", domain.ErrInvalidState, msg.Op)
	}
}

// handleStateUpdate applies an update from a peer, or raises a conflict
// when the update does not advance past what this node already holds.
func (s *SyncService) handleStateUpdate(ctx context.Context, state domain.ContextState, source string) error {
	tracked := s.peerVersion(source)
	local, hasLocal := s.states.Get(state.ID)

	if tracked >= state.Version || (hasLocal && local.Version >= state.Version) {
		conflict := domain.ConflictInfo{
			StateID:            state.ID,
			ResolutionStrategy: s.resolution,
		}
		if hasLocal {
			conflict.ConflictingVersions = append(conflict.ConflictingVersions, local)
		}
		conflict.ConflictingVersions = append(conflict.ConflictingVersions, state)

		telemetry.ConflictsDetected.Inc()
		s.logger.Warn("conflicting state update",
			zap.String("state_id", state.ID),
			zap.String("source", source),
			zap.Uint64("incoming_version", state.Version),
			zap.Uint64("tracked_version", tracked),
		)

		if _, err := s.log.RecordPayload(state.ID, domain.OperationConflict, source, conflict); err != nil {
			s.logger.Error("failed to record conflict", zap.String("state_id", state.ID), zap.Error(err))
		}
		return s.forward(domain.NewConflict(s.nodeID, conflict))
	}

	applied := s.states.ApplyRemote(state)
	s.advancePeer(source, state.Version)
	return s.forward(domain.NewStateUpdate(s.nodeID, applied))
}

func (s *SyncService) handleConflict(_ context.Context, conflict domain.ConflictInfo) error {
	resolved, err := s.conflicts.Resolve(conflict)
	if err != nil {
		return err
	}

	applied := s.states.ApplyRemote(resolved)
	telemetry.ConflictsResolved.Inc()
	s.logger.Info("applied conflict resolution",
		zap.String("state_id", conflict.StateID),
		zap.Uint64("version", applied.Version),
	)
	return s.forward(domain.NewStateUpdate(s.nodeID, applied))
}

func (s *SyncService) forward(msg domain.SyncMessage) error {
	if s.transport == nil {
		return nil
	}
	if err := s.transport.Broadcast(msg); err != nil {
		return &domain.SyncError{Op: string(msg.Op), Err: err}
	}
	return nil
}

// RecordChange logs a local context mutation, persists it and pushes the
// resulting state to peers.
func (s *SyncService) RecordChange(ctx context.Context, c *domain.Context, op domain.StateOperation) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	change, err := s.log.Record(c, op, s.nodeID)
	if err != nil {
		return err
	}
	telemetry.ChangesTotal.WithLabelValues(string(op)).Inc()

	if err := s.persistence.SaveChange(ctx, &change); err != nil {
		s.logger.Error("failed to persist change",
			zap.String("change_id", change.ID),
			zap.Error(err),
		)
	}

	state, ok := s.states.Get(c.ID)
	if !ok {
		// Deleted contexts have no live state; the tombstone travels
		// through the change log instead.
		return nil
	}
	return s.forward(domain.NewStateUpdate(s.nodeID, state))
}

// ApplyRecovered installs a restored state and announces it to peers.
func (s *SyncService) ApplyRecovered(_ context.Context, state domain.ContextState) (domain.ContextState, error) {
	if err := s.ensureInitialized(); err != nil {
		return domain.ContextState{}, err
	}

	applied := s.states.ApplyRemote(state)
	return applied, s.forward(domain.NewStateUpdate(s.nodeID, applied))
}

// SubscribeChanges registers a change feed subscriber.
func (s *SyncService) SubscribeChanges() (string, <-chan domain.StateChange, error) {
	if err := s.ensureInitialized(); err != nil {
		return "", nil, err
	}
	id, ch := s.broadcaster.Subscribe()
	return id, ch, nil
}

func (s *SyncService) UnsubscribeChanges(id string) error {
	return s.broadcaster.Unsubscribe(id)
}

// Sync runs one pass: re-applies outstanding changes, persists the
// engine state and advances the bookkeeping. Only one pass may run at a
// time.
func (s *SyncService) Sync(ctx context.Context) (*domain.SyncResult, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	s.stateMu.Lock()
	if s.state.IsSyncing {
		s.stateMu.Unlock()
		return nil, domain.ErrSyncInProgress
	}
	s.state.IsSyncing = true
	from := s.state.LastVersion
	s.stateMu.Unlock()

	result := &domain.SyncResult{Success: true}
	changes := s.log.ChangesSince(from)
	for _, change := range changes {
		if err := s.log.Apply(change); err != nil {
			s.logger.Error("failed to apply change during sync",
				zap.String("change_id", change.ID),
				zap.Error(err),
			)
			result.Failed++
			result.Success = false
			continue
		}
		s.states.MarkSynchronized(change.ContextID)
		result.Applied++
	}

	current := s.log.CurrentVersion()
	now := time.Now()

	persisted := &repository.PersistedState{
		ID:          uuid.New().String(),
		Changes:     changes,
		LastVersion: current,
		LastSync:    now,
	}
	if s.contexts != nil {
		persisted.Contexts = s.contexts.ListContexts()
	}

	var lastError string
	if err := s.persistence.SaveState(ctx, persisted); err != nil {
		s.logger.Error("failed to persist engine state", zap.Error(err))
		result.Failed++
		result.Success = false
		lastError = err.Error()
	}

	s.stateMu.Lock()
	s.state.SyncCount++
	s.state.LastSync = now
	s.state.LastVersion = current
	s.state.ErrorCount += uint64(result.Failed)
	s.state.LastError = lastError
	s.state.IsSyncing = false
	s.stateMu.Unlock()

	result.Version = current

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	telemetry.SyncPasses.WithLabelValues(outcome).Inc()

	if s.cleanupAfter > 0 {
		if removed := s.log.CleanupBefore(now.Add(-s.cleanupAfter)); removed > 0 {
			s.logger.Debug("cleaned up old changes", zap.Int("removed", removed))
		}
	}

	s.logger.Info("sync pass finished",
		zap.Bool("success", result.Success),
		zap.Int("applied", result.Applied),
		zap.Int("failed", result.Failed),
		zap.Uint64("version", current),
	)
	return result, nil
}

// State reports the coordinator bookkeeping.
func (s *SyncService) State() (domain.SyncState, error) {
	if err := s.ensureInitialized(); err != nil {
		return domain.SyncState{}, err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state, nil
}

// ChangesSince exposes the change log for the changes endpoint.
func (s *SyncService) ChangesSince(version uint64) ([]domain.StateChange, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	return s.log.ChangesSince(version), nil
}

func (s *SyncService) touchPeer(peerID string) {
	if peerID == "" {
		return
	}

	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	if p, ok := s.peers[peerID]; ok {
		p.LastSeen = time.Now()
		return
	}
	s.peers[peerID] = &domain.PeerInfo{LastSeen: time.Now()}
}

func (s *SyncService) peerVersion(peerID string) uint64 {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()

	if p, ok := s.peers[peerID]; ok {
		return p.StateVersion
	}
	return 0
}

// advancePeer moves the tracked version forward to an accepted update's
// version. It never moves backwards.
func (s *SyncService) advancePeer(peerID string, version uint64) {
	if peerID == "" {
		return
	}

	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	p, ok := s.peers[peerID]
	if !ok {
		p = &domain.PeerInfo{}
		s.peers[peerID] = p
	}
	if version > p.StateVersion {
		p.StateVersion = version
	}
	p.LastSeen = time.Now()
}

// ResetPeer clears the tracked version for a peer that rejoined from
// scratch.
func (s *SyncService) ResetPeer(peerID string) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	if p, ok := s.peers[peerID]; ok {
		p.StateVersion = 0
		p.LastSeen = time.Now()
	}
}

func (s *SyncService) Peers() map[string]domain.PeerInfo {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()

	out := make(map[string]domain.PeerInfo, len(s.peers))
	for id, p := range s.peers {
		out[id] = *p
	}
	return out
}
