package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/observe"
)

// TieBreak attempts to force a decision over an ambiguous result, in order:
// context-hint agreement (a candidate attribute value containing a hint),
// higher occurrence count, more recent last-seen timestamp. A forced winner
// is accepted like a regular match (alias registration, occurrence bump,
// mention record). When every criterion still ties, the original ambiguous
// result is returned with forced == false and the decision stays manual.
func (r *Resolver) TieBreak(ctx context.Context, c Candidate, kind entity.Kind, result Result) (Result, bool, error) {
	if result.Outcome != OutcomeAmbiguous || len(result.CandidateIDs) < 2 {
		return result, false, nil
	}

	candidates := make([]*entity.CanonicalEntity, 0, len(result.CandidateIDs))
	for _, id := range result.CandidateIDs {
		e, err := r.store.Get(ctx, id)
		if err != nil {
			return result, false, fmt.Errorf("resolve: tie-break candidate %q: %w", id, err)
		}
		candidates = append(candidates, e)
	}

	winner := pickByHints(candidates, c.ContextHints)
	if winner == nil {
		winner = pickByOccurrence(candidates)
	}
	if winner == nil {
		winner = pickByRecency(candidates)
	}
	if winner == nil {
		return result, false, nil
	}

	if result.NormalizedText != "" {
		if err := r.store.RegisterAlias(ctx, winner.ID, result.NormalizedText); err != nil {
			// A conflict means the alias already belongs to another of the
			// contenders; the forced decision stands, the alias stays put.
			var conflict *entity.AliasConflictError
			if !errors.As(err, &conflict) {
				return result, false, fmt.Errorf("resolve: tie-break register alias: %w", err)
			}
		}
	}
	if err := r.accept(ctx, c, winner.ID, kind, result.Confidence); err != nil {
		return result, false, err
	}
	r.metrics.RecordResolution(ctx, string(kind), string(OutcomeMatched), "scored", result.Confidence)
	observe.Logger(ctx).Debug("ambiguity forced",
		"raw", c.RawText, "entity_id", winner.ID, "contenders", len(candidates))

	return Result{
		Outcome:        OutcomeMatched,
		EntityID:       winner.ID,
		Confidence:     result.Confidence,
		NormalizedText: result.NormalizedText,
	}, true, nil
}

// pickByHints returns the sole candidate whose attribute values contain one
// of the hints (case-insensitive substring), or nil when zero or several do.
func pickByHints(candidates []*entity.CanonicalEntity, hints []string) *entity.CanonicalEntity {
	if len(hints) == 0 {
		return nil
	}

	var winner *entity.CanonicalEntity
	for _, e := range candidates {
		if !attributesMatchHint(e.Attributes, hints) {
			continue
		}
		if winner != nil {
			return nil // several agree, no help
		}
		winner = e
	}
	return winner
}

func attributesMatchHint(attrs map[string]string, hints []string) bool {
	for _, v := range attrs {
		lv := strings.ToLower(v)
		for _, h := range hints {
			if h == "" {
				continue
			}
			if strings.Contains(lv, strings.ToLower(h)) {
				return true
			}
		}
	}
	return false
}

// pickByOccurrence returns the candidate with the strictly highest
// occurrence count, or nil on a tie.
func pickByOccurrence(candidates []*entity.CanonicalEntity) *entity.CanonicalEntity {
	winner := candidates[0]
	tied := false
	for _, e := range candidates[1:] {
		switch {
		case e.OccurrenceCount > winner.OccurrenceCount:
			winner, tied = e, false
		case e.OccurrenceCount == winner.OccurrenceCount:
			tied = true
		}
	}
	if tied {
		return nil
	}
	return winner
}

// pickByRecency returns the candidate with the strictly most recent
// last-seen timestamp, or nil on a tie.
func pickByRecency(candidates []*entity.CanonicalEntity) *entity.CanonicalEntity {
	winner := candidates[0]
	tied := false
	for _, e := range candidates[1:] {
		switch {
		case e.LastSeen.After(winner.LastSeen):
			winner, tied = e, false
		case e.LastSeen.Equal(winner.LastSeen):
			tied = true
		}
	}
	if tied {
		return nil
	}
	return winner
}
