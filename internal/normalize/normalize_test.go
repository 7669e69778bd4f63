package normalize_test

import (
	"testing"

	"github.com/crewdex/crewdex/internal/normalize"
)

func TestNormalize_Basic(t *testing.T) {
	t.Parallel()
	n := normalize.New(nil)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Scott Russell", "scott russell"},
		{"trim and collapse", "  Scott   Russell ", "scott russell"},
		{"strip periods and commas", "Russell, Scott T.", "russell scott t"},
		{"strip quotes and parens", `Bob "The Wall" (Johnson)`, "bob the wall johnson"},
		{"accent folding", "José Martínez", "jose martinez"},
		{"empty", "", ""},
		{"whitespace only", "   \t ", ""},
		{"punctuation only", "... , !!", ""},
		{"digits survive", "Crew 2 North", "crew 2 north"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := n.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_LoadBearingPunctuation(t *testing.T) {
	t.Parallel()
	n := normalize.New(nil)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"compound surname keeps hyphen", "Anne Smith-Jones", "anne smith-jones"},
		{"apostrophe inside word", "Liam O'Brien", "liam o'brien"},
		{"leading hyphen stripped", "- Dave", "dave"},
		{"trailing hyphen stripped", "Dave -", "dave"},
		{"dangling apostrophe stripped", "Dave '", "dave"},
		{"hyphen-only token dropped", "Dave - Smith", "dave smith"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := n.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_AbbreviationExpansion(t *testing.T) {
	t.Parallel()
	n := normalize.New(map[string]string{
		"abc":      "abc supply company",
		"j&j":      "johnson and johnson",
		"Big Co":   "big construction company",
		"abc rent": "abc rentals",
	})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single token", "ABC", "abc supply company"},
		{"case-insensitive key", "aBc", "abc supply company"},
		{"inside a sentence", "delivery from ABC today", "delivery from abc supply company today"},
		{"multi-token key", "big co", "big construction company"},
		{"longest key wins", "abc rent", "abc rentals"},
		{"no partial-token match", "abcd", "abcd"},
		{"expansion not re-expanded", "abc supply company", "abc supply company"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := n.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	n := normalize.New(map[string]string{
		"abc": "abc supply company",
		"hd":  "home depot",
	})

	inputs := []string{
		"ABC",
		"José O'Brien-Smith, Jr.",
		"delivery from hd and ABC",
		"abc supply company",
		"",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()
	if got := normalize.Tokens("scott russell"); len(got) != 2 || got[0] != "scott" || got[1] != "russell" {
		t.Errorf("Tokens(\"scott russell\") = %v", got)
	}
	if got := normalize.Tokens(""); got != nil {
		t.Errorf("Tokens(\"\") = %v, want nil", got)
	}
}
