package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/extract"
	"github.com/crewdex/crewdex/internal/observe"
	"github.com/crewdex/crewdex/internal/resolve"
)

// DefaultConcurrency bounds how many reports are processed at once when no
// override is configured.
const DefaultConcurrency = 4

// Extractor produces verified mentions from a report body. Implemented by
// [extract.Extractor] and by test fakes.
type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]extract.Mention, error)
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline) error

// WithAutoCreate controls whether no-match mentions create new entities.
// Disabled, they land in the review queue instead. Default: enabled.
func WithAutoCreate(enabled bool) Option {
	return func(p *Pipeline) error {
		p.autoCreate = enabled
		return nil
	}
}

// WithForceDecision controls whether ambiguous mentions go through
// tie-breaking before falling back to the review queue. Default: disabled.
func WithForceDecision(enabled bool) Option {
	return func(p *Pipeline) error {
		p.forceDecision = enabled
		return nil
	}
}

// WithConcurrency bounds how many reports are processed concurrently.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("report: concurrency must be at least 1, got %d", n)
		}
		p.concurrency = n
		return nil
	}
}

// WithKindFilter restricts processing to mentions of one kind; others are
// skipped entirely. The zero value processes every kind.
func WithKindFilter(kind entity.Kind) Option {
	return func(p *Pipeline) error {
		if kind != "" && !kind.IsValid() {
			return fmt.Errorf("report: unknown entity kind %q", kind)
		}
		p.kindFilter = kind
		return nil
	}
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) error {
		if m == nil {
			return errors.New("report: metrics must not be nil")
		}
		p.metrics = m
		return nil
	}
}

// Pipeline drives extraction and resolution over batches of daily reports.
// Mentions within a report are resolved sequentially (later mentions may
// depend on entities created by earlier ones); reports run concurrently under
// a bounded worker pool. Safe for concurrent use.
type Pipeline struct {
	mu       sync.RWMutex
	resolver *resolve.Resolver

	extractor     Extractor
	autoCreate    bool
	forceDecision bool
	concurrency   int
	kindFilter    entity.Kind
	metrics       *observe.Metrics
}

// NewPipeline builds a [Pipeline] over the given resolver and extractor.
func NewPipeline(resolver *resolve.Resolver, extractor Extractor, opts ...Option) (*Pipeline, error) {
	if resolver == nil {
		return nil, errors.New("report: resolver must not be nil")
	}
	if extractor == nil {
		return nil, errors.New("report: extractor must not be nil")
	}
	p := &Pipeline{
		resolver:    resolver,
		extractor:   extractor,
		autoCreate:  true,
		concurrency: DefaultConcurrency,
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// UpdateResolver swaps the resolver used for subsequent reports. In-flight
// reports keep the resolver they started with, so threshold changes apply on
// report boundaries.
func (p *Pipeline) UpdateResolver(r *resolve.Resolver) error {
	if r == nil {
		return errors.New("report: resolver must not be nil")
	}
	p.mu.Lock()
	p.resolver = r
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) currentResolver() *resolve.Resolver {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resolver
}

// reportOutcome carries one worker's contribution to the batch summary.
// Workers build these independently; Process merges them after the pool
// drains, so no locking happens on the hot path.
type reportOutcome struct {
	result  ReportResult
	matched int
	ambig   int
	noMatch int
	created int
	failed  int
	review  []ReviewItem
}

// Process runs the batch. Classification outcomes (ambiguous, no-match,
// extraction failures) never fail the batch; they surface as review items.
// Only context cancellation returns an error. Store inconsistencies abort
// the affected report's remaining mentions and are reported per-report in
// the summary.
func (p *Pipeline) Process(ctx context.Context, reports []DailyReport) (*Summary, error) {
	outcomes := make([]reportOutcome, len(reports))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range reports {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.processReport(gctx, reports[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("report: process batch: %w", err)
	}

	s := &Summary{Reports: make([]ReportResult, 0, len(reports))}
	for _, o := range outcomes {
		s.Reports = append(s.Reports, o.result)
		s.Matched += o.matched
		s.Ambiguous += o.ambig
		s.NoMatch += o.noMatch
		s.Created += o.created
		s.Failed += o.failed
		s.ReviewItems = append(s.ReviewItems, o.review...)
	}
	observe.Logger(ctx).Info("batch processed",
		"reports", len(reports),
		"matched", s.Matched,
		"ambiguous", s.Ambiguous,
		"no_match", s.NoMatch,
		"created", s.Created,
		"review_items", len(s.ReviewItems))
	return s, nil
}

// processReport extracts and resolves one report. Mentions run in transcript
// order; a store-level failure aborts the remaining mentions of this report
// only.
func (p *Pipeline) processReport(ctx context.Context, rep DailyReport) reportOutcome {
	ctx, span := observe.StartSpan(ctx, "report.process",
		trace.WithAttributes(
			attribute.String("report.id", rep.ID),
			attribute.String("report.site", rep.Site),
		))
	defer span.End()

	o := reportOutcome{result: ReportResult{ReportID: rep.ID, Site: rep.Site}}
	resolver := p.currentResolver()

	mentions, err := p.extractor.Extract(ctx, rep.Text)
	if err != nil {
		observe.Logger(ctx).Error("mention extraction failed",
			"report_id", rep.ID, "error", err)
		o.result.Err = err.Error()
		o.addReview(ctx, ReviewItem{
			TranscriptID: rep.ID,
			Reason:       ReasonExtractError,
		}, p.metrics)
		return o
	}
	o.result.Extracted = len(mentions)

	for _, m := range mentions {
		if p.kindFilter != "" && m.Kind != p.kindFilter {
			continue
		}
		cand := resolve.Candidate{
			RawText:      m.Text,
			TranscriptID: rep.ID,
			ContextHints: contextHints(m.Context, rep.Site),
		}

		res, err := resolver.Resolve(ctx, cand, m.Kind)
		if err != nil {
			o.result.Err = err.Error()
			o.failed = 1
			observe.Logger(ctx).Error("resolution failed, aborting report",
				"report_id", rep.ID, "raw", m.Text, "error", err)
			return o
		}

		switch res.Outcome {
		case resolve.OutcomeMatched:
			o.matched++

		case resolve.OutcomeNoMatch:
			if !p.autoCreate {
				o.noMatch++
				o.addReview(ctx, ReviewItem{
					TranscriptID: rep.ID,
					RawText:      m.Text,
					Kind:         m.Kind,
					Reason:       ReasonNoMatch,
				}, p.metrics)
				break
			}
			created, err := resolver.Create(ctx, cand, m.Kind, nil)
			if errors.Is(err, resolve.ErrUnresolvableText) {
				// Bad input, not a store problem; flag it rather than
				// failing the report.
				o.noMatch++
				o.addReview(ctx, ReviewItem{
					TranscriptID: rep.ID,
					RawText:      m.Text,
					Kind:         m.Kind,
					Reason:       ReasonNoMatch,
				}, p.metrics)
				break
			}
			var conflict *entity.AliasConflictError
			if errors.As(err, &conflict) {
				// An entity of another kind already holds this alias;
				// a human decides whether the names coincide.
				o.noMatch++
				o.addReview(ctx, ReviewItem{
					TranscriptID: rep.ID,
					RawText:      m.Text,
					Kind:         m.Kind,
					Reason:       ReasonAliasConflict,
					CandidateIDs: []string{conflict.ExistingID},
				}, p.metrics)
				break
			}
			if err != nil {
				o.result.Err = err.Error()
				o.failed = 1
				observe.Logger(ctx).Error("entity creation failed, aborting report",
					"report_id", rep.ID, "raw", m.Text, "error", err)
				return o
			}
			res = created
			o.matched++
			o.created++

		case resolve.OutcomeAmbiguous:
			forced := false
			if p.forceDecision {
				var err error
				res, forced, err = resolver.TieBreak(ctx, cand, m.Kind, res)
				if err != nil {
					o.result.Err = err.Error()
					o.failed = 1
					observe.Logger(ctx).Error("tie-break failed, aborting report",
						"report_id", rep.ID, "raw", m.Text, "error", err)
					return o
				}
			}
			if forced {
				o.matched++
				break
			}
			o.ambig++
			o.addReview(ctx, ReviewItem{
				TranscriptID: rep.ID,
				RawText:      m.Text,
				Kind:         m.Kind,
				Reason:       ReasonAmbiguous,
				CandidateIDs: res.CandidateIDs,
			}, p.metrics)
		}

		o.result.Mentions = append(o.result.Mentions, MentionResult{
			Text:   m.Text,
			Kind:   m.Kind,
			Result: res,
		})
	}
	return o
}

// addReview stamps identity and timestamp on a review item and records it.
func (o *reportOutcome) addReview(ctx context.Context, item ReviewItem, m *observe.Metrics) {
	item.ID = uuid.NewString()
	item.CreatedAt = time.Now().UTC()
	o.review = append(o.review, item)
	m.RecordReviewItem(ctx, string(item.Reason))
}

// contextHints filters empty hint values.
func contextHints(hints ...string) []string {
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
