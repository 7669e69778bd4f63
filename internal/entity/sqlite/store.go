// Package sqlite implements entity.Store on an embedded SQLite database.
//
// SQLite supports one concurrent writer, so the store keeps a single open
// connection (SetMaxOpenConns(1)): every write serialises through it, which
// is the single-writer discipline for cross-transcript concurrency. WAL mode
// lets readers proceed without blocking the writer, and the busy timeout
// makes callers wait instead of surfacing SQLITE_BUSY under load.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/crewdex/crewdex/internal/entity"
)

// Schema is the SQL DDL for the crewdex tables. Timestamps are stored as
// Unix nanoseconds; attributes as a JSON object.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id               TEXT PRIMARY KEY,
    kind             TEXT NOT NULL,
    display_name     TEXT NOT NULL,
    attributes       TEXT NOT NULL DEFAULT '{}',
    first_seen       INTEGER NOT NULL,
    last_seen        INTEGER NOT NULL,
    occurrence_count INTEGER NOT NULL DEFAULT 1
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
    confidence    REAL NOT NULL DEFAULT 0,
    at            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id, at DESC);
`

// Store is a [entity.Store] backed by an embedded SQLite database file.
type Store struct {
	db *sql.DB
}

// Compile-time interface check.
var _ entity.Store = (*Store)(nil)

// Open opens (creating if necessary) the SQLite database at path, configures
// the connection for single-writer use, and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// One connection: writes serialise, check-then-insert is race-free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get implements [entity.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (*entity.CanonicalEntity, error) {
	const query = `
		SELECT id, kind, display_name, attributes, first_seen, last_seen, occurrence_count
		FROM entities WHERE id = ?`

	e, err := scanEntity(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get %q: %w", id, err)
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
		FROM entities WHERE kind = ? ORDER BY display_name`

	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []*entity.CanonicalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
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
	const query = `SELECT entity_id FROM aliases WHERE alias = ?`

	var id string
	err := s.db.QueryRowContext(ctx, query, alias).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", entity.ErrNotFound
		}
		return "", fmt.Errorf("sqlite: lookup alias %q: %w", alias, err)
	}
	return id, nil
}

// Create implements [entity.Store.Create]. The alias check and both inserts
// run in one transaction on the single connection, so concurrent creations of
// the same alias cannot interleave.
func (s *Store) Create(ctx context.Context, displayName, firstAlias string, kind entity.Kind, attributes map[string]string) (*entity.CanonicalEntity, error) {
	if err := entity.Validate(&entity.CanonicalEntity{
		Kind:        kind,
		DisplayName: displayName,
		Aliases:     []string{firstAlias},
	}); err != nil {
		return nil, fmt.Errorf("sqlite: create: %w", err)
	}

	id, err := entity.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("sqlite: generate id: %w", err)
	}
	attrJSON, err := json.Marshal(emptyMap(attributes))
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal attributes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create: begin: %w", err)
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRowContext(ctx, `SELECT entity_id FROM aliases WHERE alias = ?`, firstAlias).Scan(&holder)
	switch {
	case err == nil:
		return nil, &entity.AliasConflictError{Alias: firstAlias, ExistingID: holder}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("sqlite: create: alias check: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, kind, display_name, attributes, first_seen, last_seen, occurrence_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		id, string(kind), displayName, string(attrJSON), now.UnixNano(), now.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("sqlite: create entity: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO aliases (alias, entity_id) VALUES (?, ?)`, firstAlias, id); err != nil {
		return nil, fmt.Errorf("sqlite: create alias: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: create: commit: %w", err)
	}

	return &entity.CanonicalEntity{
		ID:              id,
		Kind:            kind,
		DisplayName:     displayName,
		Aliases:         []string{firstAlias},
		Attributes:      attributes,
		FirstSeen:       now,
		LastSeen:        now,
		OccurrenceCount: 1,
	}, nil
}

// RegisterAlias implements [entity.Store.RegisterAlias].
func (s *Store) RegisterAlias(ctx context.Context, entityID, alias string) error {
	if alias == "" {
		return fmt.Errorf("sqlite: register alias: alias must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: register alias: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, entityID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.ErrNotFound
		}
		return fmt.Errorf("sqlite: register alias: entity check: %w", err)
	}

	var holder string
	err = tx.QueryRowContext(ctx, `SELECT entity_id FROM aliases WHERE alias = ?`, alias).Scan(&holder)
	switch {
	case err == nil:
		if holder == entityID {
			return nil // idempotent
		}
		return &entity.AliasConflictError{Alias: alias, ExistingID: holder, AttemptedID: entityID}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("sqlite: register alias: holder check: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO aliases (alias, entity_id) VALUES (?, ?)`, alias, entityID); err != nil {
		return fmt.Errorf("sqlite: register alias: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: register alias: commit: %w", err)
	}
	return nil
}

// Touch implements [entity.Store.Touch].
func (s *Store) Touch(ctx context.Context, entityID string, seen time.Time) error {
	const query = `
		UPDATE entities
		SET last_seen = MAX(last_seen, ?), occurrence_count = occurrence_count + 1
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, seen.UTC().UnixNano(), entityID)
	if err != nil {
		return fmt.Errorf("sqlite: touch %q: %w", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: touch %q: %w", entityID, err)
	}
	if n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// RecordMention implements [entity.Store.RecordMention].
func (s *Store) RecordMention(ctx context.Context, m entity.Mention) error {
	if m.EntityID == "" {
		return fmt.Errorf("sqlite: record mention: entity id must not be empty")
	}

	const query = `
		INSERT INTO mentions (id, transcript_id, entity_id, raw_text, kind, context, confidence, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.TranscriptID, m.EntityID, m.RawText, string(m.Kind), m.Context, m.Confidence, m.At.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: record mention: %w", err)
	}
	return nil
}

// Mentions implements [entity.Store.Mentions].
func (s *Store) Mentions(ctx context.Context, entityID string) ([]entity.Mention, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, entityID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: mentions: entity check: %w", err)
	}

	const query = `
		SELECT id, transcript_id, entity_id, raw_text, kind, context, confidence, at
		FROM mentions WHERE entity_id = ? ORDER BY at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: mentions: %w", err)
	}
	defer rows.Close()

	var out []entity.Mention
	for rows.Next() {
		var m entity.Mention
		var kind string
		var at int64
		if err := rows.Scan(&m.ID, &m.TranscriptID, &m.EntityID, &m.RawText, &kind, &m.Context, &m.Confidence, &at); err != nil {
			return nil, fmt.Errorf("sqlite: mentions scan: %w", err)
		}
		m.Kind = entity.Kind(kind)
		m.At = time.Unix(0, at).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: mentions: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection is alive. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [entity.Store.Close].
func (s *Store) Close() error {
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*entity.CanonicalEntity, error) {
	var e entity.CanonicalEntity
	var kind, attrJSON string
	var firstSeen, lastSeen int64

	if err := row.Scan(&e.ID, &kind, &e.DisplayName, &attrJSON, &firstSeen, &lastSeen, &e.OccurrenceCount); err != nil {
		return nil, err
	}
	e.Kind = entity.Kind(kind)
	e.FirstSeen = time.Unix(0, firstSeen).UTC()
	e.LastSeen = time.Unix(0, lastSeen).UTC()
	if err := json.Unmarshal([]byte(attrJSON), &e.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return &e, nil
}

func (s *Store) loadAliases(ctx context.Context, e *entity.CanonicalEntity) error {
	rows, err := s.db.QueryContext(ctx, `SELECT alias FROM aliases WHERE entity_id = ? ORDER BY alias`, e.ID)
	if err != nil {
		return fmt.Errorf("sqlite: load aliases for %q: %w", e.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return fmt.Errorf("sqlite: alias scan: %w", err)
		}
		e.Aliases = append(e.Aliases, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: load aliases for %q: %w", e.ID, err)
	}
	return nil
}

// emptyMap returns m if non-nil, otherwise an empty non-nil map, so JSON
// marshalling produces "{}" instead of "null".
func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
