// Package testutil provides isolation helpers for the harness's own
// tests.
package testutil

import (
	"os"
	"testing"
)

// trackedEnv lists the environment variables the harness reads. Tests
// that assert on server mode or environment resolution must not see
// values leaking in from the outer environment or from earlier tests.
var trackedEnv = []string{
	"MODTEST_ENVIRONMENTS",
	"MODTEST_SERVER_EXECUTABLE",
	"MODTEST_SERVER_PORT",
	"MODTEST_SERVER_URL",
}

// Isolate clears the harness's environment variables for the duration
// of the test and restores the previous values afterwards. Call it
// before t.Setenv; cleanups run LIFO, so the restore happens last.
func Isolate(t *testing.T) {
	t.Helper()

	snapshot := make(map[string]*string, len(trackedEnv))
	for _, key := range trackedEnv {
		if value, ok := os.LookupEnv(key); ok {
			v := value
			snapshot[key] = &v
		} else {
			snapshot[key] = nil
		}
		_ = os.Unsetenv(key)
	}

	t.Cleanup(func() {
		for key, value := range snapshot {
			if value == nil {
				_ = os.Unsetenv(key)
			} else {
				_ = os.Setenv(key, *value)
			}
		}
	})
}
