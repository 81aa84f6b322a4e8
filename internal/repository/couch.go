package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-kivik/kivik/v4"

	"context-sync-server/internal/domain"
)

const (
	couchKindState    = "state"
	couchKindChange   = "change"
	couchKindSnapshot = "snapshot"

	couchStateDocID = "state:current"
)

// CouchPersistence keeps the engine state in CouchDB, one document per
// record. The "kind" field on every document drives the Find selectors.
type CouchPersistence struct {
	client *kivik.Client
	dbName string
}

func NewCouchPersistence(client *kivik.Client, dbName string) *CouchPersistence {
	return &CouchPersistence{
		client: client,
		dbName: dbName,
	}
}

func (r *CouchPersistence) LoadState(ctx context.Context) (*PersistedState, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, couchStateDocID)

	var state PersistedState
	if err := row.ScanDoc(&state); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}

	return &state, nil
}

func (r *CouchPersistence) SaveState(ctx context.Context, state *PersistedState) error {
	db := r.client.DB(r.dbName)

	doc, err := toDoc(state, couchKindState)
	if err != nil {
		return err
	}

	var existing map[string]interface{}
	row := db.Get(ctx, couchStateDocID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	}

	if _, err := db.Put(ctx, couchStateDocID, doc); err != nil {
		return fmt.Errorf("failed to save persisted state: %w", err)
	}

	return nil
}

func (r *CouchPersistence) SaveChange(ctx context.Context, change *domain.StateChange) error {
	db := r.client.DB(r.dbName)

	doc, err := toDoc(change, couchKindChange)
	if err != nil {
		return err
	}

	docID := fmt.Sprintf("change:%s", change.ID)
	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save change: %w", err)
	}

	return nil
}

func (r *CouchPersistence) LoadChanges(ctx context.Context) ([]domain.StateChange, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"kind": couchKindChange,
		},
		"sort": []map[string]interface{}{
			{"version": "asc"},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load changes: %w", err)
	}
	defer rows.Close()

	var changes []domain.StateChange
	for rows.Next() {
		var change domain.StateChange
		if err := rows.ScanDoc(&change); err != nil {
			continue
		}
		changes = append(changes, change)
	}

	return changes, nil
}

func (r *CouchPersistence) SaveSnapshot(ctx context.Context, snapshot *domain.ContextSnapshot) error {
	db := r.client.DB(r.dbName)

	doc, err := toDoc(snapshot, couchKindSnapshot)
	if err != nil {
		return err
	}

	docID := fmt.Sprintf("snapshot:%s", snapshot.ID)
	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

func (r *CouchPersistence) GetSnapshot(ctx context.Context, id string) (*domain.ContextSnapshot, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("snapshot:%s", id)
	row := db.Get(ctx, docID)

	var snapshot domain.ContextSnapshot
	if err := row.ScanDoc(&snapshot); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return &snapshot, nil
}

func (r *CouchPersistence) DeleteSnapshot(ctx context.Context, id string) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("snapshot:%s", id)
	row := db.Get(ctx, docID)

	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
		}
		return fmt.Errorf("failed to fetch snapshot for delete: %w", err)
	}

	rev, _ := existing["_rev"].(string)
	if _, err := db.Delete(ctx, docID, rev); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return nil
}

func (r *CouchPersistence) ListSnapshots(ctx context.Context, stateID string) ([]domain.ContextSnapshot, error) {
	db := r.client.DB(r.dbName)

	selector := map[string]interface{}{
		"kind": couchKindSnapshot,
	}
	if stateID != "" {
		selector["state_id"] = stateID
	}

	rows := db.Find(ctx, map[string]interface{}{"selector": selector})
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.ContextSnapshot
	for rows.Next() {
		var snapshot domain.ContextSnapshot
		if err := rows.ScanDoc(&snapshot); err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func (r *CouchPersistence) Close() error {
	return r.client.Close()
}

func toDoc(v interface{}, kind string) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	doc["kind"] = kind
	return doc, nil
}
