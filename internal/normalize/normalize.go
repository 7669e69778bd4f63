// Package normalize canonicalises raw name strings before alias lookup and
// fuzzy scoring.
//
// Normalisation is deterministic and pure: lower-casing, accent folding,
// whitespace collapsing, transcription-noise punctuation removal, and
// whole-token abbreviation expansion. Punctuation that is semantically
// load-bearing — hyphens in compound surnames ("Smith-Jones") and apostrophes
// inside words ("O'Brien") — survives; the same characters at token edges are
// treated as noise and stripped.
//
// Abbreviation expansion runs after case and punctuation canonicalisation so
// that configured expansions match regardless of how the speech-to-text layer
// rendered the abbreviation. Expansion is exact and whole-token; it takes
// priority over any fuzzy matching downstream.
package normalize

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripAccents removes combining marks so "José" and "Jose" normalise to the
// same string (NFD decompose, drop marks, NFC recompose).
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// expansion is one configured abbreviation rule, pre-tokenised for matching.
type expansion struct {
	from []string // abbreviation tokens
	to   []string // replacement tokens
}

// Normalizer canonicalises raw text. It is read-only after construction and
// safe for concurrent use.
type Normalizer struct {
	// expansions sorted by abbreviation token count, longest first, so
	// multi-token abbreviations win over their prefixes.
	expansions []expansion
}

// New returns a [Normalizer] with the given abbreviation table. Keys and
// values are themselves normalised (minus expansion) at construction time, so
// config files may spell them in any case. Empty keys and identity mappings
// are dropped.
func New(abbreviations map[string]string) *Normalizer {
	n := &Normalizer{}
	for k, v := range abbreviations {
		from := strings.Fields(canonicalise(k))
		to := strings.Fields(canonicalise(v))
		if len(from) == 0 || len(to) == 0 {
			continue
		}
		if tokensEqual(from, to) {
			continue
		}
		n.expansions = append(n.expansions, expansion{from: from, to: to})
	}
	sort.SliceStable(n.expansions, func(i, j int) bool {
		if len(n.expansions[i].from) != len(n.expansions[j].from) {
			return len(n.expansions[i].from) > len(n.expansions[j].from)
		}
		// Deterministic order for equal lengths regardless of map iteration.
		return strings.Join(n.expansions[i].from, " ") < strings.Join(n.expansions[j].from, " ")
	})
	return n
}

// Normalize canonicalises raw. Malformed input (empty, pure whitespace, pure
// punctuation) normalises to the empty string; Normalize never fails.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s). In
// particular an abbreviation whose expansion begins with the abbreviation
// itself ("abc" → "abc supply company") is not re-expanded.
func (n *Normalizer) Normalize(raw string) string {
	tokens := strings.Fields(canonicalise(raw))
	if len(tokens) == 0 {
		return ""
	}
	if len(n.expansions) > 0 {
		tokens = n.expand(tokens)
	}
	return strings.Join(tokens, " ")
}

// expand applies the abbreviation table over the token sequence in a single
// left-to-right pass. At each position a rule whose expansion already matches
// is skipped over rather than re-applied, which keeps Normalize idempotent.
func (n *Normalizer) expand(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		replaced := false
		for _, e := range n.expansions {
			if matchAt(tokens, i, e.to) {
				// Already expanded; consume the expansion unchanged.
				out = append(out, e.to...)
				i += len(e.to)
				replaced = true
				break
			}
			if matchAt(tokens, i, e.from) {
				out = append(out, e.to...)
				i += len(e.from)
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, tokens[i])
			i++
		}
	}
	return out
}

// Tokens splits a normalized string into its whitespace-separated tokens.
// The result is nil for the empty string.
func Tokens(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// canonicalise performs the character-level pass: lower-case, fold accents,
// map noise punctuation to spaces, trim token-edge hyphens and apostrophes.
// Abbreviation expansion is layered on top by [Normalizer.Normalize].
func canonicalise(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	folded, _, err := transform.String(stripAccents, lowered)
	if err != nil {
		// The chain cannot fail on valid UTF-8; fall back to the unfolded
		// string for anything else rather than dropping input.
		folded = lowered
	}

	var sb strings.Builder
	sb.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == '-' || r == '\'':
			// Keep for now; edge occurrences are trimmed per token below.
			sb.WriteRune(r)
		default:
			// Periods, commas, quotes, parentheses and every other symbol
			// are transcription noise. Map to a space so "glass,burner"
			// splits rather than fuses.
			sb.WriteRune(' ')
		}
	}

	fields := strings.Fields(sb.String())
	out := fields[:0]
	for _, tok := range fields {
		tok = strings.Trim(tok, "-'")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return strings.Join(out, " ")
}

// matchAt reports whether want occurs in tokens starting at index i.
func matchAt(tokens []string, i int, want []string) bool {
	if i+len(want) > len(tokens) {
		return false
	}
	return tokensEqual(tokens[i:i+len(want)], want)
}

// tokensEqual reports whether two token slices are elementwise equal.
func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
