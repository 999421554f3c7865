package modtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffProperties(t *testing.T) {
	before := map[string]any{
		"app.name":    "orders",
		"app.port":    8080,
		"app.dropped": true,
	}
	after := map[string]any{
		"app.name":  "orders",
		"app.port":  9090,
		"app.added": "fresh",
	}

	diff := DiffProperties(before, after, "file:app.yaml")

	require.True(t, diff.HasChanges())
	assert.Equal(t, map[string]any{"app.added": "fresh"}, diff.Added)
	assert.Equal(t, map[string]any{"app.dropped": true}, diff.Removed)

	change, ok := diff.Changed["app.port"]
	require.True(t, ok)
	assert.Equal(t, 8080, change.OldValue)
	assert.Equal(t, 9090, change.NewValue)
	assert.Equal(t, "file:app.yaml", change.Source)

	assert.NotContains(t, diff.Changed, "app.name", "unchanged values stay out of the diff")
	assert.Equal(t, []string{"app.added", "app.dropped", "app.port"}, diff.AffectedKeys())
}

func TestDiffPropertiesChangesSorted(t *testing.T) {
	diff := DiffProperties(
		map[string]any{"z": 1, "a": 1},
		map[string]any{"z": 2, "a": 2, "m": 3},
		"test",
	)

	changes := diff.Changes()
	require.Len(t, changes, 3)
	assert.Equal(t, "a", changes[0].Key)
	assert.Equal(t, "m", changes[1].Key)
	assert.Equal(t, "z", changes[2].Key)
}

func TestDiffPropertiesEquivalentValues(t *testing.T) {
	// Values from different parsers arrive as different numeric types;
	// they compare by rendered value, not by type.
	diff := DiffProperties(
		map[string]any{"port": 8080},
		map[string]any{"port": int64(8080)},
		"test",
	)
	assert.True(t, diff.IsEmpty())
}

func TestNewPropertyDiffEmpty(t *testing.T) {
	diff := NewPropertyDiff()
	assert.True(t, diff.IsEmpty())
	assert.False(t, diff.HasChanges())
	assert.NotEmpty(t, diff.DiffID)
	assert.Empty(t, diff.Changes())
}
