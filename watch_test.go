package modtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// propertyEquals returns a poll condition for require.Eventually that
// reads the effective value of key.
func propertyEquals(tc *TestContext, key string, want any) func() bool {
	return func() bool {
		value, ok := tc.Property(key)
		return ok && value == want
	}
}

func TestSourceWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "application.yaml")
	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  prefix: Hello\n"), 0o600))

	probe := &refreshProbe{}
	recorder := NewEventRecorder("rec")
	tc := New(t,
		WithModules(&probeModule{probe: probe}),
		WithPropertySource(path),
		WithSourceWatch(),
		WithObservers(recorder.OnEvent),
	)

	value, ok := tc.Property("greeter.prefix")
	require.True(t, ok)
	require.Equal(t, "Hello", value)

	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  prefix: Servus\n"), 0o600))

	require.Eventually(t, propertyEquals(tc, "greeter.prefix", "Servus"),
		10*time.Second, 50*time.Millisecond, "watcher should pick up the rewritten file")

	// The reload drove a refresh cycle carrying the change.
	require.Eventually(t, func() bool {
		for _, change := range probe.lastCycle() {
			if change.Key == "greeter.prefix" && change.NewValue == "Servus" {
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond, "subscribers should see the reloaded value")

	reloaded := recorder.EventsOfType(EventTypeSourceReloaded)
	require.NotEmpty(t, reloaded)
	var payload SourceLoadedEvent
	require.NoError(t, reloaded[len(reloaded)-1].DataAs(&payload))
	assert.True(t, payload.Reloaded)
	assert.Contains(t, payload.Files, path)
}

func TestSourceWatchSurvivesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "application.yaml")
	replacement := filepath.Join(dir, "application.yaml.next")
	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  prefix: Hello\n"), 0o600))

	tc := New(t, WithPropertySource(path), WithSourceWatch())

	require.NoError(t, os.WriteFile(replacement, []byte("greeter:\n  prefix: Moin\n"), 0o600))
	require.NoError(t, os.Rename(replacement, path))

	require.Eventually(t, propertyEquals(tc, "greeter.prefix", "Moin"),
		10*time.Second, 50*time.Millisecond, "rename-over should reload the source")

	// A second replace proves the dropped inode watch was re-armed.
	require.NoError(t, os.WriteFile(replacement, []byte("greeter:\n  prefix: Hoi\n"), 0o600))
	require.NoError(t, os.Rename(replacement, path))

	require.Eventually(t, propertyEquals(tc, "greeter.prefix", "Hoi"),
		10*time.Second, 50*time.Millisecond, "watch should survive repeated replaces")
}

func TestSourceWatchSkipsUnparseableReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "application.yaml")
	replacement := filepath.Join(dir, "application.yaml.next")
	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  prefix: Hello\n"), 0o600))

	tc := New(t, WithPropertySource(path), WithSourceWatch())

	require.NoError(t, os.WriteFile(replacement, []byte("greeter:\n  prefix: [unclosed\n"), 0o600))
	require.NoError(t, os.Rename(replacement, path))

	require.Never(t, func() bool {
		value, ok := tc.Property("greeter.prefix")
		return !ok || value != "Hello"
	}, 1500*time.Millisecond, 100*time.Millisecond, "unparseable content should not disturb the store")

	require.NoError(t, os.WriteFile(replacement, []byte("greeter:\n  prefix: Fixed\n"), 0o600))
	require.NoError(t, os.Rename(replacement, path))

	require.Eventually(t, propertyEquals(tc, "greeter.prefix", "Fixed"),
		10*time.Second, 50*time.Millisecond, "a later valid replace should land")
}

func TestSourceWatchOverridePinsValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "application.yaml")
	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  prefix: Hello\napp:\n  motd: welcome\n"), 0o600))

	tc := New(t, WithPropertySource(path), WithSourceWatch())
	require.NoError(t, tc.SetProperty(t, "greeter.prefix", "Pinned"))

	require.NoError(t, os.WriteFile(path, []byte("greeter:\n  prefix: Servus\napp:\n  motd: changed\n"), 0o600))

	require.Eventually(t, propertyEquals(tc, "app.motd", "changed"),
		10*time.Second, 50*time.Millisecond, "unpinned keys should follow the file")

	value, ok := tc.Property("greeter.prefix")
	require.True(t, ok)
	assert.Equal(t, "Pinned", value, "overrides outrank reloaded file values")
}
