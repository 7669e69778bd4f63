package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; store, extractor,
// and ops changes require a restart and are ignored here.
type ConfigDiff struct {
	ResolverChanged      bool
	AbbreviationsChanged bool
	LogLevelChanged      bool
	NewLogLevel          LogLevel

	// Fields lists the dotted paths of all changed hot-reloadable fields,
	// for logging.
	Fields []string
}

// Empty reports whether the diff contains no hot-reloadable changes.
func (d ConfigDiff) Empty() bool {
	return len(d.Fields) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
		d.Fields = append(d.Fields, "log_level")
	}

	if old.Resolver.Threshold() != new.Resolver.Threshold() {
		d.ResolverChanged = true
		d.Fields = append(d.Fields, "resolver.match_threshold")
	}
	if old.Resolver.Margin() != new.Resolver.Margin() {
		d.ResolverChanged = true
		d.Fields = append(d.Fields, "resolver.ambiguity_margin")
	}
	if old.Resolver.Phonetic() != new.Resolver.Phonetic() {
		d.ResolverChanged = true
		d.Fields = append(d.Fields, "resolver.phonetic_weight")
	}
	if old.Resolver.AutoCreateEnabled() != new.Resolver.AutoCreateEnabled() {
		d.ResolverChanged = true
		d.Fields = append(d.Fields, "resolver.auto_create")
	}
	if old.Resolver.ForceDecision != new.Resolver.ForceDecision {
		d.ResolverChanged = true
		d.Fields = append(d.Fields, "resolver.force_decision")
	}

	if !maps.Equal(old.Abbreviations, new.Abbreviations) {
		d.AbbreviationsChanged = true
		d.Fields = append(d.Fields, "abbreviations")
	}

	return d
}
