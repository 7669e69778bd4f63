// Package postgres implements entity.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crewdex/crewdex/internal/entity"
)

// Schema is the SQL DDL for the crewdex tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id               TEXT PRIMARY KEY,
    kind             TEXT NOT NULL,
    display_name     TEXT NOT NULL,
    attributes       JSONB NOT NULL DEFAULT '{}',
    first_seen       TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_seen        TIMESTAMPTZ NOT NULL DEFAULT now(),
    occurrence_count BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);

CREATE TABLE IF NOT EXISTS aliases (
    alias     TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL REFERENCES entities(id)
);
CREATE INDEX IF NOT EXISTS idx_aliases_entity ON aliases(entity_id);

CREATE TABLE IF NOT EXISTS mentions (
    id            TEXT PRIMARY KEY,
    transcript_id TEXT NOT NULL DEFAULT '',
    entity_id     TEXT NOT NULL REFERENCES entities(id),
    raw_text      TEXT NOT NULL,
    kind          TEXT NOT NULL,
    context       TEXT NOT NULL DEFAULT '',
    confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
    at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id, at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store is a [entity.Store] backed by a PostgreSQL database. The alias table's
// primary key enforces alias uniqueness; concurrent creations of the same
// alias resolve at the database, not in application code.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ entity.Store = (*Store)(nil)

// NewStore creates a new [Store] that uses the given database connection or
// pool. The caller is responsible for calling [Store.Migrate] to ensure the
// schema exists before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// crewdex tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Get implements [entity.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (*entity.CanonicalEntity, error) {
	const query = `
		SELECT id, kind, display_name, attributes, first_seen, last_seen, occurrence_count
		FROM entities
		WHERE id = $1`

	e, err := scanEntity(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get %q: %w", id, err)
	}
	if err := s.loadAliases(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List implements [entity.Store.List].
func (s *Store) List(ctx context.Context, kind entity.Kind) ([]*entity.CanonicalEntity, error) {
	const query = `
		SELECT id, kind, display_name, attributes, first_seen, last_seen, occurrence_count
		FROM entities
		WHERE kind = $1
		ORDER BY display_name`

	rows, err := s.db.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	var out []*entity.CanonicalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}

	for _, e := range out {
		if err := s.loadAliases(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LookupAlias implements [entity.Store.LookupAlias].
func (s *Store) LookupAlias(ctx context.Context, alias string) (string, error) {
	const query = `SELECT entity_id FROM aliases WHERE alias = $1`

	var id string
	err := s.db.QueryRow(ctx, query, alias).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", entity.ErrNotFound
		}
		return "", fmt.Errorf("postgres: lookup alias %q: %w", alias, err)
	}
	return id, nil
}

// Create implements [entity.Store.Create]. The entity and alias rows are
// inserted in one transaction; a unique violation on the alias rolls back the
// entity insert, and the winning entity's ID is looked up for the conflict
// error.
func (s *Store) Create(ctx context.Context, displayName, firstAlias string, kind entity.Kind, attributes map[string]string) (*entity.CanonicalEntity, error) {
	if err := entity.Validate(&entity.CanonicalEntity{
		Kind:        kind,
		DisplayName: displayName,
		Aliases:     []string{firstAlias},
	}); err != nil {
		return nil, fmt.Errorf("postgres: create: %w", err)
	}

	id, err := entity.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("postgres: generate id: %w", err)
	}
	attrJSON, err := json.Marshal(emptyMap(attributes))
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal attributes: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: create: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertEntity = `
		INSERT INTO entities (id, kind, display_name, attributes)
		VALUES ($1, $2, $3, $4)
		RETURNING first_seen, last_seen`

	var firstSeen, lastSeen time.Time
	if err := tx.QueryRow(ctx, insertEntity, id, string(kind), displayName, attrJSON).Scan(&firstSeen, &lastSeen); err != nil {
		return nil, fmt.Errorf("postgres: create entity: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO aliases (alias, entity_id) VALUES ($1, $2)`, firstAlias, id); err != nil {
		if isUniqueViolation(err) {
			return nil, s.aliasConflict(ctx, firstAlias, "")
		}
		return nil, fmt.Errorf("postgres: create alias: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: create: commit: %w", err)
	}

	return &entity.CanonicalEntity{
		ID:              id,
		Kind:            kind,
		DisplayName:     displayName,
		Aliases:         []string{firstAlias},
		Attributes:      attributes,
		FirstSeen:       firstSeen,
		LastSeen:        lastSeen,
		OccurrenceCount: 1,
	}, nil
}

// RegisterAlias implements [entity.Store.RegisterAlias].
func (s *Store) RegisterAlias(ctx context.Context, entityID, alias string) error {
	if alias == "" {
		return fmt.Errorf("postgres: register alias: alias must not be empty")
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT true FROM entities WHERE id = $1`, entityID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.ErrNotFound
		}
		return fmt.Errorf("postgres: register alias: entity check: %w", err)
	}

	if _, err := s.db.Exec(ctx, `INSERT INTO aliases (alias, entity_id) VALUES ($1, $2)`, alias, entityID); err != nil {
		if isUniqueViolation(err) {
			holder, lookupErr := s.LookupAlias(ctx, alias)
			if lookupErr != nil {
				return fmt.Errorf("postgres: register alias: holder lookup: %w", lookupErr)
			}
			if holder == entityID {
				return nil // idempotent
			}
			return &entity.AliasConflictError{Alias: alias, ExistingID: holder, AttemptedID: entityID}
		}
		return fmt.Errorf("postgres: register alias: %w", err)
	}
	return nil
}

// Touch implements [entity.Store.Touch].
func (s *Store) Touch(ctx context.Context, entityID string, seen time.Time) error {
	const query = `
		UPDATE entities
		SET last_seen = GREATEST(last_seen, $2), occurrence_count = occurrence_count + 1
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, entityID, seen.UTC())
	if err != nil {
		return fmt.Errorf("postgres: touch %q: %w", entityID, err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// RecordMention implements [entity.Store.RecordMention].
func (s *Store) RecordMention(ctx context.Context, m entity.Mention) error {
	if m.EntityID == "" {
		return fmt.Errorf("postgres: record mention: entity id must not be empty")
	}

	const query = `
		INSERT INTO mentions (id, transcript_id, entity_id, raw_text, kind, context, confidence, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		m.ID, m.TranscriptID, m.EntityID, m.RawText, string(m.Kind), m.Context, m.Confidence, m.At.UTC())
	if err != nil {
		return fmt.Errorf("postgres: record mention: %w", err)
	}
	return nil
}

// Mentions implements [entity.Store.Mentions].
func (s *Store) Mentions(ctx context.Context, entityID string) ([]entity.Mention, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT true FROM entities WHERE id = $1`, entityID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: mentions: entity check: %w", err)
	}

	const query = `
		SELECT id, transcript_id, entity_id, raw_text, kind, context, confidence, at
		FROM mentions
		WHERE entity_id = $1
		ORDER BY at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: mentions: %w", err)
	}
	defer rows.Close()

	var out []entity.Mention
	for rows.Next() {
		var m entity.Mention
		var kind string
		if err := rows.Scan(&m.ID, &m.TranscriptID, &m.EntityID, &m.RawText, &kind, &m.Context, &m.Confidence, &m.At); err != nil {
			return nil, fmt.Errorf("postgres: mentions scan: %w", err)
		}
		m.Kind = entity.Kind(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: mentions: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection is alive. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close implements [entity.Store.Close]. The underlying pool is owned by the
// caller that opened it, so Close is a no-op here.
func (s *Store) Close() error { return nil }

// aliasConflict builds the conflict error for alias, resolving the current
// holder. attemptedID is empty for create-time conflicts.
func (s *Store) aliasConflict(ctx context.Context, alias, attemptedID string) error {
	holder, err := s.LookupAlias(ctx, alias)
	if err != nil {
		return fmt.Errorf("postgres: alias conflict on %q: holder lookup: %w", alias, err)
	}
	return &entity.AliasConflictError{Alias: alias, ExistingID: holder, AttemptedID: attemptedID}
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*entity.CanonicalEntity, error) {
	var e entity.CanonicalEntity
	var kind string
	var attrJSON []byte

	if err := row.Scan(&e.ID, &kind, &e.DisplayName, &attrJSON, &e.FirstSeen, &e.LastSeen, &e.OccurrenceCount); err != nil {
		return nil, err
	}
	e.Kind = entity.Kind(kind)
	if err := json.Unmarshal(attrJSON, &e.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return &e, nil
}

func (s *Store) loadAliases(ctx context.Context, e *entity.CanonicalEntity) error {
	rows, err := s.db.Query(ctx, `SELECT alias FROM aliases WHERE entity_id = $1 ORDER BY alias`, e.ID)
	if err != nil {
		return fmt.Errorf("postgres: load aliases for %q: %w", e.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return fmt.Errorf("postgres: alias scan: %w", err)
		}
		e.Aliases = append(e.Aliases, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: load aliases for %q: %w", e.ID, err)
	}
	return nil
}

// emptyMap returns m if non-nil, otherwise an empty non-nil map. This ensures
// JSON marshalling produces "{}" instead of "null".
func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// isUniqueViolation checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
