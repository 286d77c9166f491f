// Package persistence holds the identity type shared by every store and
// engine, plus the sentinel errors they report.
package persistence

import (
	"strings"

	"github.com/wilhg/persist/pkg/errmodel"
)

// Separator splits entity type from entity id in the canonical form.
const Separator = "|"

// ID identifies one durable entity: the pair (entity type, entity id).
// IDs are comparable values and may be used as map keys.
type ID struct {
	entityType string
	entityID   string
}

// Of validates and builds an ID.
func Of(entityType, entityID string) (ID, error) {
	switch {
	case entityType == "":
		return ID{}, invalid("entity type must not be empty", entityType, entityID)
	case entityID == "":
		return ID{}, invalid("entity id must not be empty", entityType, entityID)
	case strings.Contains(entityType, Separator):
		return ID{}, invalid("entity type must not contain "+Separator, entityType, entityID)
	}
	return ID{entityType: entityType, entityID: entityID}, nil
}

// MustOf is like Of but panics on invalid input.
func MustOf(entityType, entityID string) ID {
	id, err := Of(entityType, entityID)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse reads the canonical "type|id" form. Only the first separator splits,
// so the entity id may itself contain "|".
func Parse(s string) (ID, error) {
	entityType, entityID, ok := strings.Cut(s, Separator)
	if !ok {
		return ID{}, errmodel.Validation(errmodel.CodeInvalidIdentity, "invalid persistence id", map[string]any{"value": s})
	}
	return Of(entityType, entityID)
}

func (id ID) EntityType() string { return id.entityType }
func (id ID) EntityID() string   { return id.entityID }

// String returns the canonical form accepted by Parse.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.entityType + Separator + id.entityID
}

func (id ID) Equal(other ID) bool { return id == other }

// IsZero reports whether id was never constructed.
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func invalid(msg, entityType, entityID string) error {
	return errmodel.Validation(errmodel.CodeInvalidIdentity, msg, map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
	})
}
