package entity

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RosterFile is the top-level structure of a crewdex seed roster YAML file.
// Rosters carry the crew members and vendors already known before any
// transcripts are processed; they are imported through the resolver so seeded
// entities obey the same creation invariants as transcript-derived ones.
//
// Example:
//
//	roster:
//	  name: "North Yard crew"
//	  site: "north-yard"
//	entries:
//	  - name: "Owen Glassburn"
//	    kind: person
//	    aliases: ["owen", "glassy"]
//	    attributes:
//	      role: foreman
type RosterFile struct {
	Roster  RosterMeta    `yaml:"roster"`
	Entries []RosterEntry `yaml:"entries"`
}

// RosterMeta holds top-level metadata for a roster.
type RosterMeta struct {
	// Name is the roster's display name.
	Name string `yaml:"name"`

	// Site identifies the site or project the roster belongs to.
	Site string `yaml:"site"`
}

// RosterEntry declares one known person or vendor.
type RosterEntry struct {
	// Name is the entry's display name, original casing preserved.
	Name string `yaml:"name"`

	// Kind classifies the entry as person or vendor.
	Kind Kind `yaml:"kind"`

	// Aliases are additional known spellings or nicknames. They are
	// normalized during import; the display name itself need not be listed.
	Aliases []string `yaml:"aliases,omitempty"`

	// Attributes holds kind-specific metadata.
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// Validate checks a roster entry for required fields.
func (e RosterEntry) Validate() error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if !e.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("kind %q is not a recognised entity kind", e.Kind))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// LoadRosterFile reads and parses a roster YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadRosterFile(path string) (*RosterFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open roster file %q: %w", path, err)
	}
	defer f.Close()

	rf, err := LoadRosterFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("entity: parse roster file %q: %w", path, err)
	}
	return rf, nil
}

// LoadRosterFromReader parses roster YAML from an [io.Reader] and validates
// every entry. The reader is consumed entirely; the caller is responsible for
// closing it.
func LoadRosterFromReader(r io.Reader) (*RosterFile, error) {
	var rf RosterFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("entity: decode roster yaml: %w", err)
	}

	var errs []error
	for i, e := range rf.Entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entry[%d] (%q): %w", i, e.Name, err))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("entity: invalid roster: %w", errors.Join(errs...))
	}
	return &rf, nil
}
