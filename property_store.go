package modtest

import (
	"sort"
	"strings"
	"sync"
)

// PropertyStore holds the layered properties backing a test context's
// configuration. Three layers stack lowest to highest precedence:
//
//	sources:  values loaded from property source files
//	class:    values declared when building the context (WithProperty)
//	override: per-test values applied through SetProperty
//
// Lookups resolve through the layers top down; Snapshot flattens them
// into the single map the config feeders consume.
type PropertyStore struct {
	mu        sync.RWMutex
	sources   map[string]any
	class     map[string]any
	overrides map[string]any
}

// NewPropertyStore creates an empty PropertyStore.
func NewPropertyStore() *PropertyStore {
	return &PropertyStore{
		sources:   make(map[string]any),
		class:     make(map[string]any),
		overrides: make(map[string]any),
	}
}

// MergeSources merges file-sourced values into the lowest layer. Later
// merges win over earlier ones within the layer.
func (s *PropertyStore) MergeSources(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range values {
		s.sources[key] = value
	}
}

// ReplaceSources swaps the entire source layer, returning the diff of
// effective values. Used when a watched source file changes on disk.
func (s *PropertyStore) ReplaceSources(values map[string]any, source string) *PropertyDiff {
	s.mu.Lock()
	before := s.snapshotLocked()
	s.sources = make(map[string]any, len(values))
	for key, value := range values {
		s.sources[key] = value
	}
	after := s.snapshotLocked()
	s.mu.Unlock()

	return DiffProperties(before, after, source)
}

// SetClass sets a context-level property, the layer WithProperty feeds.
func (s *PropertyStore) SetClass(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.class[key] = value
}

// SetOverride applies a per-test property override and returns the
// resulting change of effective value.
func (s *PropertyStore) SetOverride(key string, value any) PropertyChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, _ := s.getLocked(key)
	s.overrides[key] = value
	return PropertyChange{Key: key, OldValue: old, NewValue: value, Source: "programmatic"}
}

// ClearOverride removes a per-test override, restoring the underlying
// layered value, and returns the resulting change.
func (s *PropertyStore) ClearOverride(key string) PropertyChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, _ := s.getLocked(key)
	delete(s.overrides, key)
	restored, _ := s.getLocked(key)
	return PropertyChange{Key: key, OldValue: old, NewValue: restored, Source: "programmatic"}
}

// ClearOverrides drops every per-test override and returns the diff of
// effective values.
func (s *PropertyStore) ClearOverrides() *PropertyDiff {
	s.mu.Lock()
	before := s.snapshotLocked()
	s.overrides = make(map[string]any)
	after := s.snapshotLocked()
	s.mu.Unlock()

	return DiffProperties(before, after, "programmatic")
}

// Override returns the current override-layer value for key, if any,
// ignoring the lower layers.
func (s *PropertyStore) Override(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, exists := s.overrides[key]
	return value, exists
}

// Get returns the effective value for key.
func (s *PropertyStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(key)
}

func (s *PropertyStore) getLocked(key string) (any, bool) {
	if value, exists := s.overrides[key]; exists {
		return value, true
	}
	if value, exists := s.class[key]; exists {
		return value, true
	}
	if value, exists := s.sources[key]; exists {
		return value, true
	}
	return nil, false
}

// Snapshot returns a copy of the effective flattened properties.
func (s *PropertyStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *PropertyStore) snapshotLocked() map[string]any {
	out := make(map[string]any, len(s.sources)+len(s.class)+len(s.overrides))
	for key, value := range s.sources {
		out[key] = value
	}
	for key, value := range s.class {
		out[key] = value
	}
	for key, value := range s.overrides {
		out[key] = value
	}
	return out
}

// Keys returns every effective property key in sorted order.
func (s *PropertyStore) Keys() []string {
	snapshot := s.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SectionsAffected maps changed keys onto the registered section names
// they fall under, so a refresh only re-feeds intersecting sections.
// A key affects a section when it equals the section name or extends it
// with a dot.
func SectionsAffected(sections []string, keys []string) []string {
	affected := make(map[string]bool)
	for _, section := range sections {
		prefix := section + "."
		for _, key := range keys {
			if key == section || strings.HasPrefix(key, prefix) {
				affected[section] = true
				break
			}
		}
	}

	out := make([]string, 0, len(affected))
	for section := range affected {
		out = append(out, section)
	}
	sort.Strings(out)
	return out
}
