// Package entity defines canonical entities, their alias index, and the Store
// interface the resolver mutates.
//
// A canonical entity is the single authoritative record that a set of name
// variants collapses to: one crew member or one vendor, with every spelling,
// nickname, and abbreviation that has ever referred to it registered as an
// alias. The store keeps the alias index embedded so that alias registration
// and entity creation can be atomic — that atomicity is what turns concurrent
// duplicate-creation races into detectable [AliasConflictError] values
// instead of silent forked histories.
//
// Entities are created only through the resolver's no-match path (roster
// import included) and are never deleted by the engine; marking a vendor
// inactive is a business-rule concern outside this core.
//
// All store implementations are safe for concurrent use.
package entity

import "time"

// Kind classifies a canonical entity.
type Kind string

const (
	// KindPerson is a crew member or other named individual.
	KindPerson Kind = "person"

	// KindVendor is a supplier, subcontractor, or rental company.
	KindVendor Kind = "vendor"
)

// IsValid reports whether k is a recognised entity kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindPerson, KindVendor:
		return true
	}
	return false
}

// CanonicalEntity is the authoritative record for one person or vendor.
type CanonicalEntity struct {
	// ID is a stable opaque identifier, assigned once at creation and never
	// reused.
	ID string `yaml:"id" json:"id"`

	// Kind classifies the entity as person or vendor.
	Kind Kind `yaml:"kind" json:"kind"`

	// DisplayName is the preferred full name or company name, with the
	// original casing preserved for display.
	DisplayName string `yaml:"display_name" json:"display_name"`

	// Aliases is the set of normalized strings known to refer to this
	// entity. Membership is unique and never contains the empty string;
	// every entity carries at least its own normalized display name.
	Aliases []string `yaml:"aliases" json:"aliases"`

	// Attributes holds kind-specific metadata (role or employment status
	// for a person, trade or type for a vendor). Opaque to the resolution
	// engine; the tie-breaker consults values when context hints are given.
	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`

	// FirstSeen and LastSeen bound the entity's activity window.
	FirstSeen time.Time `yaml:"first_seen" json:"first_seen"`
	LastSeen  time.Time `yaml:"last_seen" json:"last_seen"`

	// OccurrenceCount is the number of accepted resolutions that targeted
	// this entity. Monotonically non-decreasing; incremented exactly once
	// per accepted resolution. Used as a tie-break and confidence signal.
	OccurrenceCount int64 `yaml:"occurrence_count" json:"occurrence_count"`
}

// HasAlias reports whether the entity already carries the normalized alias.
func (e *CanonicalEntity) HasAlias(alias string) bool {
	for _, a := range e.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// Mention is one historical name occurrence resolved to an entity. The
// per-entity mention list forms the running work/delivery history.
type Mention struct {
	// ID is a unique identifier for this mention record.
	ID string `yaml:"id" json:"id"`

	// TranscriptID identifies the voice report the mention came from.
	TranscriptID string `yaml:"transcript_id" json:"transcript_id"`

	// EntityID is the canonical entity the mention resolved to.
	EntityID string `yaml:"entity_id" json:"entity_id"`

	// RawText is the name exactly as extracted from the transcript.
	RawText string `yaml:"raw_text" json:"raw_text"`

	// Kind is the entity kind the mention was resolved under.
	Kind Kind `yaml:"kind" json:"kind"`

	// Context is free-text surrounding context from the transcript
	// (e.g., "poured the slab on building two").
	Context string `yaml:"context,omitempty" json:"context,omitempty"`

	// Confidence is the resolution confidence this mention was accepted at.
	Confidence float64 `yaml:"confidence" json:"confidence"`

	// At is when the mention was resolved.
	At time.Time `yaml:"at" json:"at"`
}
