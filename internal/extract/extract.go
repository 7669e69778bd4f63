// Package extract implements LLM-based mention extraction from daily report
// transcripts.
//
// The [Extractor] sends the raw transcript text to an [llm.Provider] with a
// system prompt that instructs the model to list every person and vendor name
// mentioned, as strict JSON. The response is parsed with a markdown-fence
// stripper, then passed through a verification pass that drops any mention
// whose text does not actually occur in the transcript, so hallucinated
// names never reach the resolver.
//
// Requests flow through a circuit breaker and a rate limiter. A fallback
// provider chain (primary, then registered fallbacks) is tried in order; when
// every provider fails the joined errors are returned.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/observe"
	"github.com/crewdex/crewdex/internal/resilience"
	"github.com/crewdex/crewdex/pkg/provider/llm"
)

const defaultTemperature = 0.1

// ErrCircuitOpen reports that the extraction circuit breaker rejected the
// request without contacting any provider.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// systemPrompt instructs the model to extract person and vendor mentions as
// strict JSON. The construction-report register (crew names, suppliers,
// subcontractors) is baked into the prompt.
const systemPrompt = `You are an information extraction assistant for construction site daily reports.

Your task: list every mention of a person (crew member, foreman, inspector) and every mention of a vendor (supplier, subcontractor, rental company) in the report text.

Rules:
- Extract the mention text EXACTLY as it appears in the report, including misspellings.
- Classify each mention as "person" or "vendor".
- Include a short context snippet (the surrounding phrase) for each mention.
- Do NOT invent names that are not present in the text.
- Do NOT extract site names, street addresses, or equipment models.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "mentions": [
    {"text": "<mention as written>", "kind": "person", "context": "<surrounding phrase>"}
  ]
}

If the report contains no person or vendor mentions, return an empty mentions array.`

// Mention is a single extracted name occurrence, classified by kind and
// carrying the surrounding phrase as resolution context.
type Mention struct {
	// Text is the mention exactly as written in the transcript.
	Text string `json:"text"`

	// Kind classifies the mention as person or vendor.
	Kind entity.Kind `json:"kind"`

	// Context is a short snippet surrounding the mention.
	Context string `json:"context"`
}

// llmResponse is the expected JSON structure returned by the LLM.
type llmResponse struct {
	Mentions []struct {
		Text    string `json:"text"`
		Kind    string `json:"kind"`
		Context string `json:"context"`
	} `json:"mentions"`
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor) error

// WithFallback registers an additional provider tried when the primary fails
// or its circuit breaker is open. Fallbacks are tried in registration order.
func WithFallback(name string, provider llm.Provider) Option {
	return func(e *Extractor) error {
		if provider == nil {
			return errors.New("extract: fallback provider must not be nil")
		}
		e.chain.AddFallback(name, provider)
		return nil
	}
}

// WithRateLimit caps extraction at the given number of requests per minute
// across all callers. Zero or negative disables the limiter.
func WithRateLimit(perMinute int) Option {
	return func(e *Extractor) error {
		if perMinute <= 0 {
			e.limiter = nil
			return nil
		}
		e.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
		return nil
	}
}

// WithTemperature sets the LLM sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(e *Extractor) error {
		if temp < 0 {
			return fmt.Errorf("extract: temperature must not be negative, got %v", temp)
		}
		e.temperature = temp
		return nil
	}
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) error {
		if m == nil {
			return errors.New("extract: metrics must not be nil")
		}
		e.metrics = m
		return nil
	}
}

// Extractor extracts person and vendor mentions from report text using a
// chain of LLM providers. It is safe for concurrent use.
type Extractor struct {
	chain        *resilience.LLMFallback
	limiter      *rate.Limiter
	temperature  float64
	providerName string
	metrics      *observe.Metrics
}

// New returns an [Extractor] backed by the given primary provider. breaker
// tunes the per-provider circuit breakers; zero values use the defaults.
func New(primary llm.Provider, primaryName string, breaker resilience.CircuitBreakerConfig, opts ...Option) (*Extractor, error) {
	if primary == nil {
		return nil, errors.New("extract: primary provider must not be nil")
	}
	if primaryName == "" {
		primaryName = "primary"
	}
	e := &Extractor{
		chain: resilience.NewLLMFallback(primary, primaryName, resilience.FallbackConfig{
			CircuitBreaker: breaker,
		}),
		temperature:  defaultTemperature,
		providerName: primaryName,
		metrics:      observe.DefaultMetrics(),
	}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Extract prompts the provider chain with the transcript and returns the
// verified mentions. An unparseable response degrades to zero mentions with a
// wrapped error so the caller can flag the transcript for review without
// failing the batch.
func (e *Extractor) Extract(ctx context.Context, transcript string) ([]Mention, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("extract: rate limit wait: %w", err)
		}
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  e.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: transcript},
		},
	}

	resp, err := e.chain.Complete(ctx, req)
	if err != nil {
		e.metrics.RecordExtractRequest(ctx, e.providerName, "error")
		return nil, fmt.Errorf("extract: complete: %w", err)
	}

	mentions, parseErr := parseResponse(resp.Content)
	if parseErr != nil {
		e.metrics.RecordExtractRequest(ctx, e.providerName, "parse_error")
		return nil, fmt.Errorf("extract: %w", parseErr)
	}
	e.metrics.RecordExtractRequest(ctx, e.providerName, "ok")

	verified := verifyMentions(ctx, mentions, transcript)
	observe.Logger(ctx).Debug("extracted mentions",
		"total", len(mentions), "verified", len(verified))
	return verified, nil
}

// parseResponse unmarshals the LLM output after stripping markdown fences.
func parseResponse(content string) ([]Mention, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	mentions := make([]Mention, 0, len(r.Mentions))
	for _, m := range r.Mentions {
		kind := entity.Kind(m.Kind)
		if strings.TrimSpace(m.Text) == "" || !kind.IsValid() {
			continue
		}
		mentions = append(mentions, Mention{
			Text:    m.Text,
			Kind:    kind,
			Context: m.Context,
		})
	}
	return mentions, nil
}

// verifyMentions drops any mention whose text does not occur in the
// transcript (case-insensitive). The model is told to quote verbatim;
// anything it invented is discarded here.
func verifyMentions(ctx context.Context, mentions []Mention, transcript string) []Mention {
	lower := strings.ToLower(transcript)
	verified := make([]Mention, 0, len(mentions))
	for _, m := range mentions {
		if !strings.Contains(lower, strings.ToLower(m.Text)) {
			observe.Logger(ctx).Warn("dropping hallucinated mention",
				"text", m.Text, "kind", string(m.Kind))
			continue
		}
		verified = append(verified, m)
	}
	return verified
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
