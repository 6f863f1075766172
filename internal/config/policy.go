package config

import "fmt"

// Policy controls which optional work ingestion performs.
type Policy struct {
	// StoreTimestamp backfills each record's time when its block is finalized.
	StoreTimestamp bool `yaml:"store_timestamp" json:"store_timestamp"`

	// StoreContentBefore snapshots the live content onto the previous record
	// before each edit. Only honoured while StoreContentAfter is off.
	StoreContentBefore bool `yaml:"store_content_before" json:"store_content_before"`

	// StoreContentAfter snapshots the live content onto the new record after
	// each comment operation.
	StoreContentAfter bool `yaml:"store_content_after" json:"store_content_after"`

	// LowMemory drops all content snapshots regardless of the flags above.
	LowMemory bool `yaml:"low_memory" json:"low_memory"`
}

// DefaultPolicy enables every capture. With both content flags on, only the
// after snapshot is taken.
func DefaultPolicy() Policy {
	return Policy{
		StoreTimestamp:     true,
		StoreContentBefore: true,
		StoreContentAfter:  true,
	}
}

// MinimalPolicy retains neither time nor content.
func MinimalPolicy() Policy {
	return Policy{LowMemory: true}
}

// BeforeOnlyPolicy keeps timestamps and the content each edit replaced.
func BeforeOnlyPolicy() Policy {
	return Policy{
		StoreTimestamp:     true,
		StoreContentBefore: true,
	}
}

// Preset names accepted by PolicyPreset.
const (
	PresetDefault    = "default"
	PresetMinimal    = "minimal"
	PresetBeforeOnly = "before-only"
)

// PolicyPreset returns the named preset policy.
func PolicyPreset(name string) (Policy, error) {
	switch name {
	case PresetDefault:
		return DefaultPolicy(), nil
	case PresetMinimal:
		return MinimalPolicy(), nil
	case PresetBeforeOnly:
		return BeforeOnlyPolicy(), nil
	}
	return Policy{}, fmt.Errorf("unknown policy preset %q: must be one of %s, %s, %s",
		name, PresetDefault, PresetMinimal, PresetBeforeOnly)
}

// RetainsContent reports whether records carry content snapshots at all.
func (p Policy) RetainsContent() bool {
	return !p.LowMemory
}

// CaptureBefore reports whether a pre-operation event attaches the live
// content to the previous record.
func (p Policy) CaptureBefore() bool {
	return p.RetainsContent() && p.StoreContentBefore && !p.StoreContentAfter
}

// CaptureAfter reports whether a post-operation event attaches the live
// content to the new record.
func (p Policy) CaptureAfter() bool {
	return p.RetainsContent() && p.StoreContentAfter
}

// Minimal reports whether queries must fall back to the sequence-ordered
// listing because neither time nor content is retained.
func (p Policy) Minimal() bool {
	return !p.StoreTimestamp && !p.RetainsContent()
}
