package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"context-sync-server/internal/domain"
)

var (
	bucketState     = []byte("state")
	bucketChanges   = []byte("changes")
	bucketSnapshots = []byte("snapshots")

	keyCurrentState = []byte("current")
)

// BoltPersistence stores the engine state in a single bbolt file. Every
// write happens inside one transaction, so a crash never leaves a
// half-written record.
type BoltPersistence struct {
	db *bbolt.DB
}

func NewBoltPersistence(path string) (*BoltPersistence, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketState, bucketChanges, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltPersistence{db: db}, nil
}

func (p *BoltPersistence) LoadState(_ context.Context) (*PersistedState, error) {
	var state *PersistedState
	err := p.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketState).Get(keyCurrentState)
		if raw == nil {
			return nil
		}
		state = &PersistedState{}
		if err := json.Unmarshal(raw, state); err != nil {
			return fmt.Errorf("decode persisted state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (p *BoltPersistence) SaveState(_ context.Context, state *PersistedState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode persisted state: %w", err)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).Put(keyCurrentState, raw)
	})
}

func (p *BoltPersistence) SaveChange(_ context.Context, change *domain.StateChange) error {
	raw, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChanges).Put([]byte(change.ID), raw)
	})
}

func (p *BoltPersistence) LoadChanges(_ context.Context) ([]domain.StateChange, error) {
	var changes []domain.StateChange
	err := p.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChanges).ForEach(func(_, v []byte) error {
			var change domain.StateChange
			if err := json.Unmarshal(v, &change); err != nil {
				return fmt.Errorf("decode change: %w", err)
			}
			changes = append(changes, change)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Version < changes[j].Version
	})
	return changes, nil
}

func (p *BoltPersistence) SaveSnapshot(_ context.Context, snapshot *domain.ContextSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(snapshot.ID), raw)
	})
}

func (p *BoltPersistence) GetSnapshot(_ context.Context, id string) (*domain.ContextSnapshot, error) {
	var snapshot *domain.ContextSnapshot
	err := p.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
		}
		snapshot = &domain.ContextSnapshot{}
		if err := json.Unmarshal(raw, snapshot); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (p *BoltPersistence) DeleteSnapshot(_ context.Context, id string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
		}
		return b.Delete([]byte(id))
	})
}

func (p *BoltPersistence) ListSnapshots(_ context.Context, stateID string) ([]domain.ContextSnapshot, error) {
	var snapshots []domain.ContextSnapshot
	err := p.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			var snapshot domain.ContextSnapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			if stateID == "" || snapshot.StateID == stateID {
				snapshots = append(snapshots, snapshot)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

func (p *BoltPersistence) Close() error {
	return p.db.Close()
}
