package domain

import (
	"encoding/json"
	"time"
)

// Context is a named, versioned unit of shared state. Version counts
// creations only; per-mutation versions live on ContextState.
type Context struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ParentID  *string           `json:"parent_id,omitempty"`
	Version   uint64            `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Type resolves the context type used to look up validation policies.
func (c *Context) Type() string {
	if t, ok := c.Metadata["type"]; ok && t != "" {
		return t
	}
	return c.Name
}

func (c *Context) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

type CreateContextRequest struct {
	Name      string            `json:"name" validate:"required"`
	Data      json.RawMessage   `json:"data" validate:"required"`
	Metadata  map[string]string `json:"metadata"`
	ParentID  *string           `json:"parent_id"`
	ExpiresAt *time.Time        `json:"expires_at"`
}

type UpdateContextRequest struct {
	Data     json.RawMessage   `json:"data" validate:"required"`
	Metadata map[string]string `json:"metadata"`
}

const (
	RuleRequiredFields  = "required_fields"
	RuleExpirationCheck = "expiration_check"
)

// ContextValidation is the policy applied to every create and update of
// contexts of a given type. Schema, when present, is a JSON Schema the
// context data must conform to before the custom rules run.
type ContextValidation struct {
	Schema         json.RawMessage `json:"schema,omitempty"`
	RequiredFields []string        `json:"required_fields"`
	Rules          []string        `json:"rules" validate:"dive,oneof=required_fields expiration_check"`
}
