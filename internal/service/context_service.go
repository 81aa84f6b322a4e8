package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
	"context-sync-server/internal/store"
)

// ContextService is the façade applications talk to: named contexts with
// hierarchy, type-keyed validation policies, and propagation of every
// mutation through the sync coordinator.
type ContextService struct {
	contextsMu sync.RWMutex
	contexts   map[string]*domain.Context

	hierarchyMu sync.RWMutex
	hierarchy   map[string][]string

	validationsMu sync.RWMutex
	validations   map[string]domain.ContextValidation
	schemas       map[string]*jsonschema.Schema

	states      *store.Store
	syncService *SyncService
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewContextService(states *store.Store, syncService *SyncService, logger *zap.Logger) *ContextService {
	return &ContextService{
		contexts:    make(map[string]*domain.Context),
		hierarchy:   make(map[string][]string),
		validations: make(map[string]domain.ContextValidation),
		schemas:     make(map[string]*jsonschema.Schema),
		states:      states,
		syncService: syncService,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Create stores a new context. A dangling parent is rejected. The
// returned context is valid even when the trailing sync propagation
// fails; that failure comes back as a SyncError.
func (s *ContextService) Create(ctx context.Context, req *domain.CreateContextRequest) (*domain.Context, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}

	now := time.Now()
	c := &domain.Context{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Data:      req.Data,
		Metadata:  req.Metadata,
		ParentID:  req.ParentID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: req.ExpiresAt,
	}

	if err := s.applyValidations(c); err != nil {
		return nil, err
	}

	// The parent check and the child link stay under the contexts lock,
	// so a concurrent delete of the parent cannot slip between them.
	s.contextsMu.Lock()
	if req.ParentID != nil {
		if _, ok := s.contexts[*req.ParentID]; !ok {
			s.contextsMu.Unlock()
			return nil, fmt.Errorf("%w: parent %s", domain.ErrNotFound, *req.ParentID)
		}
	}
	s.contexts[c.ID] = c
	if req.ParentID != nil {
		s.hierarchyMu.Lock()
		s.hierarchy[*req.ParentID] = append(s.hierarchy[*req.ParentID], c.ID)
		s.hierarchyMu.Unlock()
	}
	s.contextsMu.Unlock()

	s.states.Apply(c.ID, c.Data, c.Metadata)

	s.logger.Info("created context",
		zap.String("context_id", c.ID),
		zap.String("name", c.Name),
	)

	cp := *c
	if err := s.syncService.RecordChange(ctx, c, domain.OperationCreate); err != nil {
		return &cp, err
	}
	return &cp, nil
}

func (s *ContextService) Get(_ context.Context, id string) (*domain.Context, error) {
	s.contextsMu.RLock()
	defer s.contextsMu.RUnlock()

	c, ok := s.contexts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

// Update replaces the payload. The context version stays put; the
// per-state version in the store is what advances.
func (s *ContextService) Update(ctx context.Context, id string, req *domain.UpdateContextRequest) (*domain.Context, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}

	s.contextsMu.Lock()
	c, ok := s.contexts[id]
	if !ok {
		s.contextsMu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	candidate := *c
	candidate.Data = req.Data
	if req.Metadata != nil {
		candidate.Metadata = req.Metadata
	}
	candidate.UpdatedAt = time.Now()

	if err := s.applyValidations(&candidate); err != nil {
		s.contextsMu.Unlock()
		return nil, err
	}

	*c = candidate
	s.contextsMu.Unlock()

	s.states.Apply(id, candidate.Data, candidate.Metadata)

	cp := candidate
	if err := s.syncService.RecordChange(ctx, &candidate, domain.OperationUpdate); err != nil {
		return &cp, err
	}
	return &cp, nil
}

// Delete removes the context and, recursively, every descendant.
func (s *ContextService) Delete(ctx context.Context, id string) error {
	s.contextsMu.RLock()
	_, ok := s.contexts[id]
	s.contextsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	for _, victim := range s.subtree(id) {
		s.contextsMu.Lock()
		c, ok := s.contexts[victim]
		if ok {
			delete(s.contexts, victim)
		}
		s.contextsMu.Unlock()
		if !ok {
			continue
		}

		s.detach(victim)
		s.states.Delete(victim)

		if err := s.syncService.RecordChange(ctx, c, domain.OperationDelete); err != nil {
			s.logger.Error("failed to propagate delete",
				zap.String("context_id", victim),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("deleted context", zap.String("context_id", id))
	return nil
}

// Children lists the direct children of an existing context.
func (s *ContextService) Children(_ context.Context, parentID string) ([]domain.Context, error) {
	s.contextsMu.RLock()
	_, ok := s.contexts[parentID]
	s.contextsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, parentID)
	}

	s.hierarchyMu.RLock()
	ids := append([]string(nil), s.hierarchy[parentID]...)
	s.hierarchyMu.RUnlock()

	children := make([]domain.Context, 0, len(ids))
	s.contextsMu.RLock()
	for _, id := range ids {
		if c, ok := s.contexts[id]; ok {
			children = append(children, *c)
		}
	}
	s.contextsMu.RUnlock()
	return children, nil
}

// RegisterValidation installs the policy applied to all contexts of the
// given type from now on. Existing contexts are not revalidated.
func (s *ContextService) RegisterValidation(contextType string, v domain.ContextValidation) error {
	if contextType == "" {
		return &domain.ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if err := s.validate.Struct(&v); err != nil {
		return &domain.ValidationError{Reason: err.Error()}
	}

	var schema *jsonschema.Schema
	if len(v.Schema) > 0 {
		compiled, err := jsonschema.CompileString(contextType+".schema.json", string(v.Schema))
		if err != nil {
			return &domain.ValidationError{Field: "schema", Reason: err.Error()}
		}
		schema = compiled
	}

	s.validationsMu.Lock()
	s.validations[contextType] = v
	if schema != nil {
		s.schemas[contextType] = schema
	} else {
		delete(s.schemas, contextType)
	}
	s.validationsMu.Unlock()

	s.logger.Info("registered validation policy", zap.String("context_type", contextType))
	return nil
}

// ListContexts satisfies the coordinator's ContextLister.
func (s *ContextService) ListContexts() []domain.Context {
	s.contextsMu.RLock()
	defer s.contextsMu.RUnlock()

	out := make([]domain.Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, *c)
	}
	return out
}

func (s *ContextService) Len() int {
	s.contextsMu.RLock()
	defer s.contextsMu.RUnlock()
	return len(s.contexts)
}

// subtree returns id plus all descendants, parents before children.
func (s *ContextService) subtree(id string) []string {
	s.hierarchyMu.RLock()
	defer s.hierarchyMu.RUnlock()

	out := []string{id}
	for i := 0; i < len(out); i++ {
		out = append(out, s.hierarchy[out[i]]...)
	}
	return out
}

func (s *ContextService) detach(id string) {
	s.hierarchyMu.Lock()
	defer s.hierarchyMu.Unlock()

	delete(s.hierarchy, id)
	for parent, children := range s.hierarchy {
		for i, child := range children {
			if child == id {
				s.hierarchy[parent] = append(children[:i], children[i+1:]...)
				break
			}
		}
	}
}

func (s *ContextService) applyValidations(c *domain.Context) error {
	s.validationsMu.RLock()
	policy, ok := s.validations[c.Type()]
	schema := s.schemas[c.Type()]
	s.validationsMu.RUnlock()
	if !ok {
		return nil
	}

	if schema != nil {
		var doc interface{}
		if err := json.Unmarshal(c.Data, &doc); err != nil {
			return &domain.ValidationError{Field: "data", Reason: "data must be valid JSON"}
		}
		if err := schema.Validate(doc); err != nil {
			return &domain.ValidationError{Field: "data", Reason: err.Error()}
		}
	}

	for _, rule := range policy.Rules {
		switch rule {
		case domain.RuleRequiredFields:
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(c.Data, &fields); err != nil {
				return &domain.ValidationError{Reason: "data must be a JSON object"}
			}
			for _, required := range policy.RequiredFields {
				if _, ok := fields[required]; !ok {
					return &domain.ValidationError{Field: required, Reason: "required field missing"}
				}
			}

		case domain.RuleExpirationCheck:
			if c.Expired(time.Now()) {
				return &domain.ValidationError{Field: "expires_at", Reason: "context already expired"}
			}

		default:
			s.logger.Warn("unknown validation rule",
				zap.String("context_type", c.Type()),
				zap.String("rule", rule),
			)
		}
	}
	return nil
}
