package modtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PropertyChange describes a change to a single property key, with its
// previous and new values. A nil OldValue means the key was added; a nil
// NewValue means it was removed.
type PropertyChange struct {
	// Key is the full dotted property key (e.g., "modtest.server.port")
	Key string

	// OldValue is the previous effective value of the property
	OldValue any

	// NewValue is the new effective value of the property
	NewValue any

	// Source identifies what produced this change
	// (e.g., "programmatic", "file:testdata/app.yaml")
	Source string
}

// PropertyDiff captures the differences between two property states.
// The refresh orchestrator hands it to refresh subscribers so they can
// apply targeted updates instead of reinitializing.
type PropertyDiff struct {
	// Changed maps property keys to their change information.
	Changed map[string]PropertyChange

	// Added maps property keys that did not previously exist to their
	// new values.
	Added map[string]any

	// Removed maps property keys that no longer exist to their previous
	// values.
	Removed map[string]any

	// Timestamp indicates when this diff was generated.
	Timestamp time.Time

	// DiffID uniquely identifies this diff for correlation in logs and
	// emitted events.
	DiffID string
}

// NewPropertyDiff creates an empty diff with a fresh identifier.
func NewPropertyDiff() *PropertyDiff {
	return &PropertyDiff{
		Changed:   make(map[string]PropertyChange),
		Added:     make(map[string]any),
		Removed:   make(map[string]any),
		Timestamp: time.Now(),
		DiffID:    generateDiffID(),
	}
}

// DiffProperties computes the diff between two flattened property maps.
func DiffProperties(before, after map[string]any, source string) *PropertyDiff {
	diff := NewPropertyDiff()

	for key, newValue := range after {
		oldValue, existed := before[key]
		switch {
		case !existed:
			diff.Added[key] = newValue
			diff.Changed[key] = PropertyChange{Key: key, NewValue: newValue, Source: source}
		case !valuesEqual(oldValue, newValue):
			diff.Changed[key] = PropertyChange{Key: key, OldValue: oldValue, NewValue: newValue, Source: source}
		}
	}

	for key, oldValue := range before {
		if _, exists := after[key]; !exists {
			diff.Removed[key] = oldValue
			diff.Changed[key] = PropertyChange{Key: key, OldValue: oldValue, Source: source}
		}
	}

	return diff
}

// HasChanges returns true if the diff contains any changes.
func (d *PropertyDiff) HasChanges() bool {
	return len(d.Changed) > 0 || len(d.Added) > 0 || len(d.Removed) > 0
}

// IsEmpty returns true if the diff contains no changes.
func (d *PropertyDiff) IsEmpty() bool {
	return !d.HasChanges()
}

// Changes returns the individual property changes sorted by key, the
// order refresh subscribers receive them in.
func (d *PropertyDiff) Changes() []PropertyChange {
	keys := make([]string, 0, len(d.Changed))
	for key := range d.Changed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changes := make([]PropertyChange, 0, len(keys))
	for _, key := range keys {
		changes = append(changes, d.Changed[key])
	}
	return changes
}

// AffectedKeys returns the sorted set of keys touched by this diff.
func (d *PropertyDiff) AffectedKeys() []string {
	keys := make([]string, 0, len(d.Changed))
	for key := range d.Changed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// generateDiffID creates a time-ordered unique identifier for a diff
// using UUIDv7, falling back to v4 if v7 generation fails.
func generateDiffID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
