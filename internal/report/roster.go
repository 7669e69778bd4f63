package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/observe"
	"github.com/crewdex/crewdex/internal/resolve"
)

// RosterSummary aggregates one roster import.
type RosterSummary struct {
	// Created counts entries that produced a new entity.
	Created int

	// Merged counts entries that resolved to an existing entity and had
	// their aliases folded in.
	Merged int

	// ReviewItems holds entries that could not be imported cleanly:
	// ambiguous names and alias conflicts.
	ReviewItems []ReviewItem
}

// ImportRoster resolves every entry of a seed roster file through the
// resolver, so seeded entities obey the same creation path as
// transcript-derived ones: unknown names are created, known names get the
// roster's extra aliases merged in, and ambiguous names or conflicting
// aliases land in the review queue instead of silently overwriting state.
func ImportRoster(ctx context.Context, resolver *resolve.Resolver, path string) (*RosterSummary, error) {
	if resolver == nil {
		return nil, errors.New("report: resolver must not be nil")
	}

	roster, err := entity.LoadRosterFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: import roster: %w", err)
	}

	transcriptID := "roster:" + path
	summary := &RosterSummary{}
	for _, e := range roster.Entries {
		cand := resolve.Candidate{
			RawText:      e.Name,
			TranscriptID: transcriptID,
			ContextHints: contextHints(roster.Roster.Site),
		}

		res, err := resolver.Resolve(ctx, cand, e.Kind)
		if err != nil {
			return nil, fmt.Errorf("report: import roster %q: resolve %q: %w", path, e.Name, err)
		}

		switch res.Outcome {
		case resolve.OutcomeMatched:
			summary.Merged++

		case resolve.OutcomeNoMatch:
			created, err := resolver.Create(ctx, cand, e.Kind, e.Attributes)
			if err != nil {
				return nil, fmt.Errorf("report: import roster %q: create %q: %w", path, e.Name, err)
			}
			res = created
			summary.Created++

		case resolve.OutcomeAmbiguous:
			// A roster entry must not guess between near-equal
			// entities; a human decides.
			summary.ReviewItems = append(summary.ReviewItems, ReviewItem{
				ID:           uuid.NewString(),
				TranscriptID: transcriptID,
				RawText:      e.Name,
				Kind:         e.Kind,
				Reason:       ReasonAmbiguous,
				CandidateIDs: res.CandidateIDs,
				CreatedAt:    time.Now().UTC(),
			})
			continue
		}

		for _, alias := range e.Aliases {
			err := resolver.RegisterAlias(ctx, res.EntityID, alias)
			if err == nil {
				continue
			}
			var conflict *entity.AliasConflictError
			if errors.As(err, &conflict) {
				summary.ReviewItems = append(summary.ReviewItems, ReviewItem{
					ID:           uuid.NewString(),
					TranscriptID: transcriptID,
					RawText:      alias,
					Kind:         e.Kind,
					Reason:       ReasonAliasConflict,
					CandidateIDs: []string{conflict.ExistingID, res.EntityID},
					CreatedAt:    time.Now().UTC(),
				})
				continue
			}
			return nil, fmt.Errorf("report: import roster %q: alias %q: %w", path, alias, err)
		}
	}

	observe.Logger(ctx).Info("roster imported",
		"path", path,
		"entries", len(roster.Entries),
		"created", summary.Created,
		"merged", summary.Merged,
		"review_items", len(summary.ReviewItems))
	return summary, nil
}
