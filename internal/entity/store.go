package entity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the requested entity or alias does not exist.
var ErrNotFound = errors.New("entity not found")

// AliasConflictError reports an attempt to bind an alias that already points
// to a different entity. It is never resolved silently: the resolver surfaces
// it as an ambiguous outcome so a human can adjudicate, and the store's
// atomic create path uses it to signal a lost duplicate-creation race.
type AliasConflictError struct {
	// Alias is the normalized alias in conflict.
	Alias string

	// ExistingID is the entity that already holds the alias.
	ExistingID string

	// AttemptedID is the entity the caller tried to bind the alias to.
	// Empty when the conflict arose during entity creation.
	AttemptedID string
}

func (e *AliasConflictError) Error() string {
	if e.AttemptedID == "" {
		return fmt.Sprintf("alias %q already registered to entity %s", e.Alias, e.ExistingID)
	}
	return fmt.Sprintf("alias %q already registered to entity %s, cannot bind to %s",
		e.Alias, e.ExistingID, e.AttemptedID)
}

// Store persists canonical entities, their embedded alias index, and mention
// history.
//
// List must reflect a consistent snapshot for the duration of one resolution
// call. Create must atomically create the entity and register its first
// alias; when the alias already belongs to another entity the store returns
// an [*AliasConflictError] naming the holder — this is the seam that makes
// concurrent duplicate creation detectable rather than silent.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves an entity by ID.
	// Returns [ErrNotFound] when no entity with that ID exists.
	Get(ctx context.Context, id string) (*CanonicalEntity, error)

	// List returns all entities of the given kind. Results order is not
	// guaranteed.
	List(ctx context.Context, kind Kind) ([]*CanonicalEntity, error)

	// LookupAlias returns the ID of the entity holding the normalized
	// alias. Returns [ErrNotFound] when the alias is unknown.
	LookupAlias(ctx context.Context, alias string) (string, error)

	// Create atomically creates a new entity and registers firstAlias for
	// it, with FirstSeen = LastSeen = now and OccurrenceCount = 1.
	// Returns [*AliasConflictError] when firstAlias already belongs to
	// another entity (the duplicate-creation race seam).
	Create(ctx context.Context, displayName, firstAlias string, kind Kind, attributes map[string]string) (*CanonicalEntity, error)

	// RegisterAlias binds alias to the entity. Registering the same
	// (entity, alias) pair again is a no-op. Returns [*AliasConflictError]
	// when the alias belongs to a different entity and [ErrNotFound] when
	// the entity does not exist.
	RegisterAlias(ctx context.Context, entityID, alias string) error

	// Touch records an accepted resolution: LastSeen advances to seen
	// (never backwards) and OccurrenceCount increments by one.
	// Returns [ErrNotFound] when the entity does not exist.
	Touch(ctx context.Context, entityID string, seen time.Time) error

	// RecordMention appends a mention history record.
	RecordMention(ctx context.Context, m Mention) error

	// Mentions returns the entity's mention history, newest first.
	Mentions(ctx context.Context, entityID string) ([]Mention, error)

	// Ping verifies the store's backing resource is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
