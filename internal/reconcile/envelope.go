package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/theatresync/internal/domain"
)

// Envelope is the wire shape of one push notification.
type Envelope struct {
	EntityKind domain.EntityKind `json:"entity_kind"`
	Action     domain.Action     `json:"action"`
	EntityID   string            `json:"entity_id,omitempty"`
	EntityIDs  []string          `json:"entity_ids,omitempty"`
	ScopeID    string            `json:"scope_id,omitempty"`
	Seq        int64             `json:"seq,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// MalformedError reports an envelope that cannot be applied. The event is
// dropped; processing of the stream continues.
type MalformedError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return "malformed event: " + e.Reason
}

// Unwrap exposes the cause.
func (e *MalformedError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedError{Reason: reason, Err: err}
}

// Change is the typed form of an envelope for one entity kind. Exactly the
// fields relevant to Action are set.
type Change[T domain.Entity] struct {
	Action domain.Action
	// ID names the entity for create, update and delete.
	ID string
	// Entity is the full post-change entity for create and update.
	Entity T
	// Scope and Members describe a reorder. Members is in position order
	// and nil when the envelope carries ids only.
	Scope   string
	Members []T
	// Order lists member ids in position order for a reorder.
	Order []string
}

// decodeChange turns env into a Change for kind T.
func decodeChange[T domain.Entity](env Envelope) (Change[T], error) {
	c := Change[T]{Action: env.Action, ID: env.EntityID, Scope: env.ScopeID}

	switch env.Action {
	case domain.ActionCreate, domain.ActionUpdate:
		if len(env.Payload) == 0 {
			return c, malformed(string(env.Action)+" without payload", nil)
		}
		if err := json.Unmarshal(env.Payload, &c.Entity); err != nil {
			return c, malformed("decode payload", err)
		}
		if c.Entity.EntityID() == "" {
			return c, malformed("payload has no id", nil)
		}
		if c.ID != "" && c.ID != c.Entity.EntityID() {
			return c, malformed(fmt.Sprintf("entity_id %s does not match payload id %s", c.ID, c.Entity.EntityID()), nil)
		}
		c.ID = c.Entity.EntityID()

	case domain.ActionDelete:
		if c.ID == "" {
			return c, malformed("delete without entity_id", nil)
		}

	case domain.ActionReorder:
		if len(env.Payload) > 0 && string(env.Payload) != "null" {
			if err := json.Unmarshal(env.Payload, &c.Members); err != nil {
				return c, malformed("decode reorder payload", err)
			}
			for _, m := range c.Members {
				c.Order = append(c.Order, m.EntityID())
			}
		} else {
			c.Order = append(c.Order, env.EntityIDs...)
		}
		seen := make(map[string]bool, len(c.Order))
		for _, id := range c.Order {
			if id == "" || seen[id] {
				return c, malformed(fmt.Sprintf("reorder lists %q more than once or empty", id), nil)
			}
			seen[id] = true
		}

	default:
		return c, malformed(fmt.Sprintf("unknown action %q", env.Action), nil)
	}
	return c, nil
}
