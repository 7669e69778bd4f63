// Package report implements the daily-report processing pipeline: mention
// extraction, entity resolution, outcome policy, and the manual review queue.
package report

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/resolve"
)

// DailyReport is one site report to process. Text is the free-form report
// body the extractor runs over.
type DailyReport struct {
	// ID identifies the report; it becomes the TranscriptID on every
	// mention recorded from it.
	ID string `yaml:"id" json:"id"`

	// Site names the site or project the report covers.
	Site string `yaml:"site" json:"site"`

	// ReportedAt is when the report was filed.
	ReportedAt time.Time `yaml:"reported_at" json:"reported_at"`

	// Text is the raw report body.
	Text string `yaml:"text" json:"text"`
}

// ReviewReason classifies why a mention landed in the manual review queue.
type ReviewReason string

const (
	// ReasonAmbiguous marks a mention with multiple near-equal candidates.
	ReasonAmbiguous ReviewReason = "ambiguous"

	// ReasonNoMatch marks a mention that matched nothing and was not
	// auto-created.
	ReasonNoMatch ReviewReason = "no_match"

	// ReasonAliasConflict marks a roster alias already bound to a
	// different entity.
	ReasonAliasConflict ReviewReason = "alias_conflict"

	// ReasonExtractError marks a transcript whose extraction failed; the
	// whole report needs a manual pass.
	ReasonExtractError ReviewReason = "extract_error"
)

// ReviewItem is one entry in the manual review queue.
type ReviewItem struct {
	ID           string       `yaml:"id" json:"id"`
	TranscriptID string       `yaml:"transcript_id" json:"transcript_id"`
	RawText      string       `yaml:"raw_text" json:"raw_text"`
	Kind         entity.Kind  `yaml:"kind,omitempty" json:"kind,omitempty"`
	Reason       ReviewReason `yaml:"reason" json:"reason"`

	// CandidateIDs lists the contending entities for ambiguous items,
	// best first.
	CandidateIDs []string `yaml:"candidate_ids,omitempty" json:"candidate_ids,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// MentionResult pairs one extracted mention with its resolution decision.
type MentionResult struct {
	Text   string         `yaml:"text" json:"text"`
	Kind   entity.Kind    `yaml:"kind" json:"kind"`
	Result resolve.Result `yaml:"result" json:"result"`
}

// ReportResult summarizes the processing of a single report.
type ReportResult struct {
	ReportID string `yaml:"report_id" json:"report_id"`
	Site     string `yaml:"site" json:"site"`

	// Extracted is the number of verified mentions the extractor returned.
	Extracted int `yaml:"extracted" json:"extracted"`

	// Mentions holds the per-mention decisions in transcript order. It is
	// truncated when a store inconsistency aborts the report.
	Mentions []MentionResult `yaml:"mentions" json:"mentions"`

	// Err records the failure that aborted this report, if any.
	Err string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Summary aggregates the outcome of one Process batch.
type Summary struct {
	// Per-outcome counts across all reports. Matched includes forced
	// tie-break decisions and auto-created entities.
	Matched   int `yaml:"matched" json:"matched"`
	Ambiguous int `yaml:"ambiguous" json:"ambiguous"`
	NoMatch   int `yaml:"no_match" json:"no_match"`

	// Created counts entities auto-created during the batch.
	Created int `yaml:"created" json:"created"`

	// Failed counts reports aborted by a store-level failure; the
	// per-report error text is in Reports.
	Failed int `yaml:"failed" json:"failed"`

	Reports     []ReportResult `yaml:"reports" json:"reports"`
	ReviewItems []ReviewItem   `yaml:"review_items" json:"review_items"`
}

// reviewQueue is the on-disk YAML shape of the review queue.
type reviewQueue struct {
	GeneratedAt time.Time    `yaml:"generated_at"`
	Items       []ReviewItem `yaml:"items"`
}

// WriteReviewQueue serializes the batch's review items to path as YAML.
// An empty queue still writes a file so downstream tooling sees the batch ran.
func (s *Summary) WriteReviewQueue(path string) error {
	q := reviewQueue{
		GeneratedAt: time.Now().UTC(),
		Items:       s.ReviewItems,
	}
	if q.Items == nil {
		q.Items = []ReviewItem{}
	}

	data, err := yaml.Marshal(q)
	if err != nil {
		return fmt.Errorf("report: marshal review queue: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write review queue: %w", err)
	}
	return nil
}
