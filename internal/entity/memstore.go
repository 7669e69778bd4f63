package entity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for tests and one-off runs; data is lost on exit.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]*CanonicalEntity
	aliases  map[string]string // normalized alias -> entity ID
	mentions map[string][]Mention
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[string]*CanonicalEntity),
		aliases:  make(map[string]string),
		mentions: make(map[string][]Mention),
	}
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (*CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntity(e), nil
}

// List implements [Store.List]. The returned slice is a snapshot; mutating it
// does not affect the store.
func (s *MemStore) List(ctx context.Context, kind Kind) ([]*CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*CanonicalEntity, 0, len(s.entities))
	for _, e := range s.entities {
		if e.Kind != kind {
			continue
		}
		result = append(result, copyEntity(e))
	}
	return result, nil
}

// LookupAlias implements [Store.LookupAlias].
func (s *MemStore) LookupAlias(ctx context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.aliases[alias]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// Create implements [Store.Create]. The check-and-insert runs under the write
// lock, so two concurrent creations of the same alias serialise: one wins,
// the other receives the conflict naming the winner.
func (s *MemStore) Create(ctx context.Context, displayName, firstAlias string, kind Kind, attributes map[string]string) (*CanonicalEntity, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, fmt.Errorf("entity: generate id: %w", err)
	}

	now := time.Now().UTC()
	e := &CanonicalEntity{
		ID:              id,
		Kind:            kind,
		DisplayName:     displayName,
		Aliases:         []string{firstAlias},
		Attributes:      maps.Clone(attributes),
		FirstSeen:       now,
		LastSeen:        now,
		OccurrenceCount: 1,
	}
	if err := Validate(e); err != nil {
		return nil, fmt.Errorf("entity: create: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, exists := s.aliases[firstAlias]; exists {
		return nil, &AliasConflictError{Alias: firstAlias, ExistingID: holder}
	}

	s.entities[id] = e
	s.aliases[firstAlias] = id
	return copyEntity(e), nil
}

// RegisterAlias implements [Store.RegisterAlias].
func (s *MemStore) RegisterAlias(ctx context.Context, entityID, alias string) error {
	if alias == "" {
		return fmt.Errorf("entity: register alias: alias must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return ErrNotFound
	}

	if holder, exists := s.aliases[alias]; exists {
		if holder == entityID {
			return nil // idempotent
		}
		return &AliasConflictError{Alias: alias, ExistingID: holder, AttemptedID: entityID}
	}

	s.aliases[alias] = entityID
	e.Aliases = append(e.Aliases, alias)
	return nil
}

// Touch implements [Store.Touch].
func (s *MemStore) Touch(ctx context.Context, entityID string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return ErrNotFound
	}
	if seen.After(e.LastSeen) {
		e.LastSeen = seen
	}
	e.OccurrenceCount++
	return nil
}

// RecordMention implements [Store.RecordMention].
func (s *MemStore) RecordMention(ctx context.Context, m Mention) error {
	if m.EntityID == "" {
		return fmt.Errorf("entity: record mention: entity id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[m.EntityID]; !ok {
		return ErrNotFound
	}
	s.mentions[m.EntityID] = append(s.mentions[m.EntityID], m)
	return nil
}

// Mentions implements [Store.Mentions].
func (s *MemStore) Mentions(ctx context.Context, entityID string) ([]Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, ErrNotFound
	}

	stored := s.mentions[entityID]
	result := make([]Mention, len(stored))
	for i, m := range stored {
		result[len(stored)-1-i] = m // newest first
	}
	return result, nil
}

// Ping implements [Store.Ping]. The in-memory store is always reachable.
func (s *MemStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements [Store.Close]. It is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// GenerateID produces a random 16-byte hex string using crypto/rand.
// The resulting string is 32 hex characters and is statistically unique.
func GenerateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// copyEntity returns a deep copy so callers can never mutate store state
// through a returned pointer.
func copyEntity(e *CanonicalEntity) *CanonicalEntity {
	cp := *e
	cp.Aliases = slices.Clone(e.Aliases)
	cp.Attributes = maps.Clone(e.Attributes)
	return &cp
}
