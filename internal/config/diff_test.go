package config_test

import (
	"slices"
	"testing"

	"github.com/crewdex/crewdex/internal/config"
)

func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		LogLevel: config.LogInfo,
		Resolver: config.ResolverConfig{MatchThreshold: 0.8},
		Abbreviations: map[string]string{
			"abc": "abc supply company",
		},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got fields %v", d.Fields)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{LogLevel: config.LogInfo}
	new := &config.Config{LogLevel: config.LogDebug}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if !slices.Contains(d.Fields, "log_level") {
		t.Errorf("expected fields to contain log_level, got %v", d.Fields)
	}
}

func TestDiff_ThresholdChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Resolver: config.ResolverConfig{MatchThreshold: 0.8}}
	new := &config.Config{Resolver: config.ResolverConfig{MatchThreshold: 0.9}}

	d := config.Diff(old, new)
	if !d.ResolverChanged {
		t.Error("expected ResolverChanged=true")
	}
	if !slices.Contains(d.Fields, "resolver.match_threshold") {
		t.Errorf("expected fields to contain resolver.match_threshold, got %v", d.Fields)
	}
}

func TestDiff_DefaultEqualsExplicit(t *testing.T) {
	t.Parallel()
	// Writing out the default value is not a change: the diff compares
	// effective values, not raw fields.
	old := &config.Config{Resolver: config.ResolverConfig{}}
	new := &config.Config{Resolver: config.ResolverConfig{
		MatchThreshold:  config.DefaultMatchThreshold,
		AmbiguityMargin: floatPtr(config.DefaultAmbiguityMargin),
		PhoneticWeight:  floatPtr(config.DefaultPhoneticWeight),
		AutoCreate:      boolPtr(true),
	}}

	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("expected empty diff for default-equivalent configs, got fields %v", d.Fields)
	}
}

func TestDiff_AutoCreateChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Resolver: config.ResolverConfig{AutoCreate: boolPtr(false)}}

	d := config.Diff(old, new)
	if !d.ResolverChanged {
		t.Error("expected ResolverChanged=true")
	}
	if !slices.Contains(d.Fields, "resolver.auto_create") {
		t.Errorf("expected fields to contain resolver.auto_create, got %v", d.Fields)
	}
}

func TestDiff_ForceDecisionChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Resolver: config.ResolverConfig{ForceDecision: true}}

	d := config.Diff(old, new)
	if !d.ResolverChanged {
		t.Error("expected ResolverChanged=true")
	}
	if !slices.Contains(d.Fields, "resolver.force_decision") {
		t.Errorf("expected fields to contain resolver.force_decision, got %v", d.Fields)
	}
}

func TestDiff_AbbreviationsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Abbreviations: map[string]string{"abc": "abc supply company"}}
	new := &config.Config{Abbreviations: map[string]string{
		"abc": "abc supply company",
		"hd":  "home depot",
	}}

	d := config.Diff(old, new)
	if !d.AbbreviationsChanged {
		t.Error("expected AbbreviationsChanged=true")
	}
	if !slices.Contains(d.Fields, "abbreviations") {
		t.Errorf("expected fields to contain abbreviations, got %v", d.Fields)
	}
}

func TestDiff_NilAndEmptyAbbreviationsEqual(t *testing.T) {
	t.Parallel()
	old := &config.Config{Abbreviations: nil}
	new := &config.Config{Abbreviations: map[string]string{}}

	d := config.Diff(old, new)
	if d.AbbreviationsChanged {
		t.Error("nil and empty abbreviation maps should compare equal")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		LogLevel: config.LogInfo,
		Resolver: config.ResolverConfig{MatchThreshold: 0.8},
	}
	new := &config.Config{
		LogLevel: config.LogWarn,
		Resolver: config.ResolverConfig{
			MatchThreshold:  0.85,
			AmbiguityMargin: floatPtr(0.1),
		},
		Abbreviations: map[string]string{"abc": "abc supply company"},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.ResolverChanged {
		t.Error("expected ResolverChanged=true")
	}
	if !d.AbbreviationsChanged {
		t.Error("expected AbbreviationsChanged=true")
	}
	want := []string{"log_level", "resolver.match_threshold", "resolver.ambiguity_margin", "abbreviations"}
	for _, f := range want {
		if !slices.Contains(d.Fields, f) {
			t.Errorf("expected fields to contain %q, got %v", f, d.Fields)
		}
	}
}
