// Package score computes similarity between a normalized candidate string and
// canonical entity names.
//
// The combined score is the maximum of three independent signals — normalized
// Levenshtein edit similarity, token overlap, and damped phonetic similarity —
// so either strong character-level OR strong token-level evidence is
// sufficient on its own. This permissive-OR policy is deliberate: in
// crew/vendor deduplication a missed match creates a duplicate entity whose
// history silently forks, which is costlier than a false positive that a
// reviewer can reject.
//
// All inputs are expected to be pre-normalized (see internal/normalize);
// Score does not lower-case or trim.
package score

import (
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/normalize"
)

// Default tuning values. Operators override these through the resolver
// configuration; they are calibration starting points, not ground truth.
const (
	DefaultThreshold      = 0.8
	DefaultPhoneticWeight = 0.9
)

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer) error

// WithThreshold sets the minimum combined score for a candidate to survive
// [Scorer.Candidates] filtering. Must be in (0, 1]. Default: 0.8.
func WithThreshold(threshold float64) Option {
	return func(s *Scorer) error {
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("score: threshold %v out of range (0, 1]", threshold)
		}
		s.threshold = threshold
		return nil
	}
}

// WithPhoneticWeight damps the phonetic signal by the given factor so that a
// phonetic collision between short tokens cannot reach certainty on its own.
// Must be in [0, 1]; 0 disables the phonetic signal entirely. Default: 0.9.
func WithPhoneticWeight(weight float64) Option {
	return func(s *Scorer) error {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("score: phonetic weight %v out of range [0, 1]", weight)
		}
		s.phoneticWeight = weight
		return nil
	}
}

// Scorer computes combined similarity scores. It is read-only after
// construction and safe for concurrent use.
type Scorer struct {
	threshold      float64
	phoneticWeight float64
}

// New returns a [Scorer] configured with the supplied options.
func New(opts ...Option) (*Scorer, error) {
	s := &Scorer{
		threshold:      DefaultThreshold,
		phoneticWeight: DefaultPhoneticWeight,
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Threshold returns the configured acceptance threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score computes the combined similarity between a normalized candidate and a
// normalized canonical name. The result is in [0, 1]: identical strings score
// 1.0, and an empty string on either side scores 0.0.
func (s *Scorer) Score(candidate, canonical string) float64 {
	if candidate == "" || canonical == "" {
		return 0
	}
	if candidate == canonical {
		return 1
	}

	best := editSimilarity(candidate, canonical)
	if t := tokenOverlap(candidate, canonical); t > best {
		best = t
	}
	if s.phoneticWeight > 0 {
		if p := phoneticSimilarity(candidate, canonical) * s.phoneticWeight; p > best {
			best = p
		}
	}
	return best
}

// Candidate pairs an entity with its best similarity score against one input.
type Candidate struct {
	Entity *entity.CanonicalEntity
	Score  float64
}

// Candidates scores candidate against every entity in entities, taking the
// best score per entity across its normalized display name and all registered
// aliases. Entities scoring below the threshold are discarded; survivors are
// returned best-first (ties broken by entity ID for determinism).
func (s *Scorer) Candidates(candidate string, entities []*entity.CanonicalEntity) []Candidate {
	var out []Candidate
	for _, e := range entities {
		if e == nil {
			continue
		}
		best := s.Score(candidate, normalizeName(e.DisplayName))
		for _, alias := range e.Aliases {
			if sc := s.Score(candidate, alias); sc > best {
				best = sc
			}
		}
		if best >= s.threshold {
			out = append(out, Candidate{Entity: e, Score: best})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	return out
}

// nameNormalizer folds display names the same way aliases were folded at
// registration time. Abbreviation expansion is irrelevant here because both
// sides already passed through the configured normalizer before storage or
// scoring.
var nameNormalizer = normalize.New(nil)

func normalizeName(displayName string) string {
	return nameNormalizer.Normalize(displayName)
}

// editSimilarity is Levenshtein distance normalized by the longer string's
// length, inverted to a similarity. For multi-word names the space-stripped
// variant is also tried so that a transcription that splits one word
// ("glass burner" for "glassburn") is not penalised for the extra space.
func editSimilarity(a, b string) float64 {
	best := normalizedLevenshtein(a, b)
	if strings.ContainsRune(a, ' ') || strings.ContainsRune(b, ' ') {
		ca := strings.ReplaceAll(a, " ", "")
		cb := strings.ReplaceAll(b, " ", "")
		if s := normalizedLevenshtein(ca, cb); s > best {
			best = s
		}
	}
	return best
}

func normalizedLevenshtein(a, b string) float64 {
	longer := max(len([]rune(a)), len([]rune(b)))
	if longer == 0 {
		return 0
	}
	dist := matchr.Levenshtein(a, b)
	return 1 - float64(dist)/float64(longer)
}

// tokenOverlap is the overlap coefficient |A∩B| / min(|A|,|B|) over
// whitespace tokens. Unlike plain Jaccard it rewards containment, which is
// the point of the token signal: "russell" must be able to match
// "scott russell" even though the union-based ratio would cap at 0.5.
func tokenOverlap(a, b string) float64 {
	ta := normalize.Tokens(a)
	tb := normalize.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	shared := 0
	seen := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(min(len(set), len(seen)))
}

// phoneticSimilarity compares the Double Metaphone primary codes of the
// space-stripped strings with Jaro-Winkler, catching sound-alike
// transcription errors that differ too much character-wise.
func phoneticSimilarity(a, b string) float64 {
	ca := strings.ReplaceAll(a, " ", "")
	cb := strings.ReplaceAll(b, " ", "")
	pa, _ := matchr.DoubleMetaphone(ca)
	pb, _ := matchr.DoubleMetaphone(cb)
	if pa == "" || pb == "" {
		return 0
	}
	return matchr.JaroWinkler(pa, pb, false)
}
