// Package resolve implements the resolution state machine that maps raw
// mention text to canonical entities.
//
// A call moves through fixed states: normalize the raw text, try the exact
// alias index, fall back to fuzzy scoring over the candidate set, then
// decide. Accepted matches mutate the store exactly once (alias
// registration, occurrence bump, mention record); ambiguous and no-match
// outcomes leave the store untouched and defer to the caller's policy.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/normalize"
	"github.com/crewdex/crewdex/internal/observe"
	"github.com/crewdex/crewdex/internal/score"
)

// DefaultMargin is the score gap below the best candidate within which a
// runner-up makes the decision ambiguous.
const DefaultMargin = 0.05

// ErrStoreInconsistency is returned when the alias index references an
// entity that does not exist in the store. This indicates external
// corruption and is never repaired silently.
var ErrStoreInconsistency = errors.New("resolve: alias index references missing entity")

// ErrUnresolvableText is returned by [Resolver.Create] and
// [Resolver.RegisterAlias] when the raw text normalizes to nothing, leaving
// no alias to ground the entity on. Callers distinguish it from store
// failures: bad input is flagged for review, store errors abort.
var ErrUnresolvableText = errors.New("resolve: text normalizes to nothing")

// Outcome classifies a resolution decision.
type Outcome string

const (
	// OutcomeMatched means the mention resolved to exactly one entity.
	OutcomeMatched Outcome = "matched"
	// OutcomeAmbiguous means two or more entities scored too close to call.
	OutcomeAmbiguous Outcome = "ambiguous"
	// OutcomeNoMatch means no entity scored above the acceptance threshold.
	OutcomeNoMatch Outcome = "no_match"
)

// Candidate is one mention to resolve.
type Candidate struct {
	// RawText is the mention exactly as extracted from the transcript.
	RawText string

	// TranscriptID identifies the report the mention came from; recorded on
	// the mention history entry.
	TranscriptID string

	// ContextHints carries optional disambiguating context (site, project).
	// Hints participate in tie-breaking only, never in primary matching.
	ContextHints []string
}

// Result is the decision for one resolution call.
type Result struct {
	Outcome Outcome

	// EntityID is set for matched outcomes.
	EntityID string

	// Confidence is the best candidate's score: 1.0 for exact alias hits,
	// the winning similarity score for fuzzy matches, and the best
	// candidate's score for ambiguous outcomes.
	Confidence float64

	// CandidateIDs lists the contenders of an ambiguous outcome,
	// best-score-first.
	CandidateIDs []string

	// NormalizedText is the normalizer output the decision was made on.
	NormalizedText string
}

// Resolver runs the resolution state machine against a store.
type Resolver struct {
	store      entity.Store
	scorer     *score.Scorer
	normalizer *normalize.Normalizer
	margin     float64
	metrics    *observe.Metrics
}

// Option configures a [Resolver].
type Option func(*Resolver) error

// WithScorer replaces the default similarity scorer.
func WithScorer(s *score.Scorer) Option {
	return func(r *Resolver) error {
		if s == nil {
			return fmt.Errorf("resolve: scorer must not be nil")
		}
		r.scorer = s
		return nil
	}
}

// WithNormalizer replaces the default normalizer, typically to carry a
// configured abbreviation table.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(r *Resolver) error {
		if n == nil {
			return fmt.Errorf("resolve: normalizer must not be nil")
		}
		r.normalizer = n
		return nil
	}
}

// WithMargin sets the ambiguity margin.
func WithMargin(margin float64) Option {
	return func(r *Resolver) error {
		if margin < 0 || margin > 1 {
			return fmt.Errorf("resolve: margin must be in [0, 1], got %g", margin)
		}
		r.margin = margin
		return nil
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) error {
		if m == nil {
			return fmt.Errorf("resolve: metrics must not be nil")
		}
		r.metrics = m
		return nil
	}
}

// New creates a [Resolver] over the given store.
func New(store entity.Store, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("resolve: store must not be nil")
	}

	scorer, err := score.New()
	if err != nil {
		return nil, fmt.Errorf("resolve: default scorer: %w", err)
	}

	r := &Resolver{
		store:      store,
		scorer:     scorer,
		normalizer: normalize.New(nil),
		margin:     DefaultMargin,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Resolve maps one mention to a canonical entity of the given kind. Matched
// outcomes mutate the store (alias registration on fuzzy matches, occurrence
// bump, mention record); ambiguous and no-match outcomes do not. Against an
// unchanged store, Resolve is deterministic.
func (r *Resolver) Resolve(ctx context.Context, c Candidate, kind entity.Kind) (Result, error) {
	normalized := r.normalizer.Normalize(c.RawText)
	if normalized == "" {
		// Nothing resolvable; the scorer is never invoked.
		r.metrics.RecordResolution(ctx, string(kind), string(OutcomeNoMatch), "scored", 0)
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	// Fast path: exact alias hit is certainty, provided the holder is of
	// the requested kind.
	entityID, err := r.store.LookupAlias(ctx, normalized)
	switch {
	case err == nil:
		holder, err := r.store.Get(ctx, entityID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return Result{}, fmt.Errorf("%w: alias %q -> entity %q", ErrStoreInconsistency, normalized, entityID)
			}
			return Result{}, fmt.Errorf("resolve: entity lookup: %w", err)
		}
		if holder.Kind != kind {
			// The alias belongs to an entity of another kind. A person
			// alias never satisfies a vendor resolution (or vice versa);
			// the mention continues to fuzzy scoring within its own kind.
			observe.Logger(ctx).Debug("alias hit skipped, kind mismatch",
				"raw", c.RawText, "normalized", normalized,
				"holder_id", entityID, "holder_kind", string(holder.Kind),
				"requested_kind", string(kind))
			break
		}
		if err := r.accept(ctx, c, entityID, kind, 1.0); err != nil {
			return Result{}, err
		}
		r.metrics.RecordResolution(ctx, string(kind), string(OutcomeMatched), "alias", 1.0)
		observe.Logger(ctx).Debug("resolved via alias index",
			"raw", c.RawText, "normalized", normalized, "entity_id", entityID)
		return Result{
			Outcome:        OutcomeMatched,
			EntityID:       entityID,
			Confidence:     1.0,
			NormalizedText: normalized,
		}, nil
	case !errors.Is(err, entity.ErrNotFound):
		return Result{}, fmt.Errorf("resolve: alias lookup: %w", err)
	}

	// Slow path: score against every entity of the requested kind.
	entities, err := r.store.List(ctx, kind)
	if err != nil {
		return Result{}, fmt.Errorf("resolve: list entities: %w", err)
	}

	start := time.Now()
	scored := r.scorer.Candidates(normalized, entities)
	r.metrics.RecordScorerDuration(ctx, float64(time.Since(start).Microseconds())/1000)

	if len(scored) == 0 {
		r.metrics.RecordResolution(ctx, string(kind), string(OutcomeNoMatch), "scored", 0)
		return Result{Outcome: OutcomeNoMatch, NormalizedText: normalized}, nil
	}

	best := scored[0].Score
	contenders := []score.Candidate{scored[0]}
	for _, sc := range scored[1:] {
		if sc.Score >= best-r.margin {
			contenders = append(contenders, sc)
		}
	}

	if len(contenders) > 1 {
		ids := make([]string, len(contenders))
		for i, sc := range contenders {
			ids[i] = sc.Entity.ID
		}
		r.metrics.RecordResolution(ctx, string(kind), string(OutcomeAmbiguous), "scored", 0)
		observe.Logger(ctx).Debug("resolution ambiguous",
			"raw", c.RawText, "normalized", normalized, "candidates", len(ids), "best", best)
		return Result{
			Outcome:        OutcomeAmbiguous,
			Confidence:     best,
			CandidateIDs:   ids,
			NormalizedText: normalized,
		}, nil
	}

	winner := contenders[0].Entity.ID

	// The mention becomes a registered alias of the winner so the next
	// occurrence takes the fast path. A conflict here means another caller
	// registered the same alias for a different entity between our lookup
	// and now; that is genuine ambiguity, never silently overwritten.
	if err := r.store.RegisterAlias(ctx, winner, normalized); err != nil {
		var conflict *entity.AliasConflictError
		if errors.As(err, &conflict) {
			r.metrics.RecordResolution(ctx, string(kind), string(OutcomeAmbiguous), "scored", 0)
			return Result{
				Outcome:        OutcomeAmbiguous,
				Confidence:     best,
				CandidateIDs:   []string{conflict.ExistingID, winner},
				NormalizedText: normalized,
			}, nil
		}
		return Result{}, fmt.Errorf("resolve: register alias: %w", err)
	}

	if err := r.accept(ctx, c, winner, kind, best); err != nil {
		return Result{}, err
	}
	r.metrics.RecordResolution(ctx, string(kind), string(OutcomeMatched), "scored", best)
	observe.Logger(ctx).Debug("resolved via scoring",
		"raw", c.RawText, "normalized", normalized, "entity_id", winner, "score", best)
	return Result{
		Outcome:        OutcomeMatched,
		EntityID:       winner,
		Confidence:     best,
		NormalizedText: normalized,
	}, nil
}

// Create is the no-match path: it creates a new canonical entity for the
// mention, with the original casing as display name and the normalized text
// as the grounding alias. A concurrent-creation conflict is reconciled by
// resolving to the already-existing entity, never ignored.
func (r *Resolver) Create(ctx context.Context, c Candidate, kind entity.Kind, attributes map[string]string) (Result, error) {
	displayName := strings.TrimSpace(c.RawText)
	normalized := r.normalizer.Normalize(c.RawText)
	if normalized == "" {
		return Result{}, fmt.Errorf("%w: create %q", ErrUnresolvableText, c.RawText)
	}

	created, err := r.store.Create(ctx, displayName, normalized, kind, attributes)
	if err != nil {
		var conflict *entity.AliasConflictError
		if errors.As(err, &conflict) {
			holder, gerr := r.store.Get(ctx, conflict.ExistingID)
			if gerr != nil {
				if errors.Is(gerr, entity.ErrNotFound) {
					return Result{}, fmt.Errorf("%w: alias %q -> entity %q", ErrStoreInconsistency, normalized, conflict.ExistingID)
				}
				return Result{}, fmt.Errorf("resolve: entity lookup: %w", gerr)
			}
			if holder.Kind != kind {
				// The alias is taken by an entity of another kind. That is
				// a collision, not a duplicate-creation race; never merge
				// across kinds. The conflict propagates for the caller to
				// queue.
				return Result{}, fmt.Errorf("resolve: create: %w", err)
			}
			// Lost a duplicate-creation race: the alias already names an
			// entity of this kind, so this mention belongs to it.
			if err := r.accept(ctx, c, conflict.ExistingID, kind, 1.0); err != nil {
				return Result{}, err
			}
			r.metrics.RecordResolution(ctx, string(kind), string(OutcomeMatched), "alias", 1.0)
			observe.Logger(ctx).Debug("creation race reconciled to existing entity",
				"raw", c.RawText, "normalized", normalized, "entity_id", conflict.ExistingID)
			return Result{
				Outcome:        OutcomeMatched,
				EntityID:       conflict.ExistingID,
				Confidence:     1.0,
				NormalizedText: normalized,
			}, nil
		}
		return Result{}, fmt.Errorf("resolve: create: %w", err)
	}

	if err := r.recordMention(ctx, c, created.ID, kind, 1.0, created.FirstSeen); err != nil {
		return Result{}, err
	}
	r.metrics.RecordEntityCreated(ctx, string(kind))
	observe.Logger(ctx).Info("entity created",
		"display_name", displayName, "kind", string(kind), "entity_id", created.ID)
	return Result{
		Outcome:        OutcomeMatched,
		EntityID:       created.ID,
		Confidence:     1.0,
		NormalizedText: normalized,
	}, nil
}

// RegisterAlias binds an authoritative alias (e.g. from a seed roster) to an
// existing entity. The alias passes through the same normalizer as mention
// text so the stored form matches what Resolve looks up. Registering an alias
// the entity already holds is a no-op; a conflict with another entity is
// returned as a *entity.AliasConflictError.
func (r *Resolver) RegisterAlias(ctx context.Context, entityID, alias string) error {
	normalized := r.normalizer.Normalize(alias)
	if normalized == "" {
		return fmt.Errorf("%w: register alias %q", ErrUnresolvableText, alias)
	}
	if err := r.store.RegisterAlias(ctx, entityID, normalized); err != nil {
		return fmt.Errorf("resolve: register alias: %w", err)
	}
	return nil
}

// accept applies the single store mutation of an accepted resolution:
// occurrence bump plus mention record.
func (r *Resolver) accept(ctx context.Context, c Candidate, entityID string, kind entity.Kind, confidence float64) error {
	now := time.Now().UTC()
	if err := r.store.Touch(ctx, entityID, now); err != nil {
		return fmt.Errorf("resolve: touch: %w", err)
	}
	return r.recordMention(ctx, c, entityID, kind, confidence, now)
}

func (r *Resolver) recordMention(ctx context.Context, c Candidate, entityID string, kind entity.Kind, confidence float64, at time.Time) error {
	m := entity.Mention{
		ID:           uuid.NewString(),
		TranscriptID: c.TranscriptID,
		EntityID:     entityID,
		RawText:      c.RawText,
		Kind:         kind,
		Context:      strings.Join(c.ContextHints, " "),
		Confidence:   confidence,
		At:           at,
	}
	if err := r.store.RecordMention(ctx, m); err != nil {
		return fmt.Errorf("resolve: record mention: %w", err)
	}
	return nil
}
