package modtest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modtest/internal/testutil"
)

func TestHealthWatchReportsFailingEndpoint(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	recorder := NewEventRecorder("rec")
	New(t,
		WithProperty("modtest.server.url", backend.URL),
		WithProperty("modtest.server.healthSchedule", "@every 1s"),
		WithObservers(recorder.OnEvent),
	)

	require.Eventually(t, func() bool {
		return len(recorder.EventsOfType(EventTypeServerUnhealthy)) > 0
	}, 10*time.Second, 100*time.Millisecond, "probe should report the failing endpoint")

	events := recorder.EventsOfType(EventTypeServerUnhealthy)
	var payload ServerEvent
	require.NoError(t, events[0].DataAs(&payload))
	assert.Equal(t, backend.URL+"/healthz", payload.URL)
	assert.Contains(t, payload.Error, "500")
}

func TestHealthWatchReportsUnreachableEndpoint(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := backend.URL
	backend.Close()

	recorder := NewEventRecorder("rec")
	New(t,
		WithProperty("modtest.server.url", url),
		WithProperty("modtest.server.healthSchedule", "@every 1s"),
		WithObservers(recorder.OnEvent),
	)

	require.Eventually(t, func() bool {
		return len(recorder.EventsOfType(EventTypeServerUnhealthy)) > 0
	}, 10*time.Second, 100*time.Millisecond, "probe should report the unreachable endpoint")

	events := recorder.EventsOfType(EventTypeServerUnhealthy)
	var payload ServerEvent
	require.NoError(t, events[0].DataAs(&payload))
	assert.NotEmpty(t, payload.Error)
}

func TestHealthWatchInvalidSchedule(t *testing.T) {
	_, err := Build(t,
		WithProperty("modtest.server.url", "http://127.0.0.1:1"),
		WithProperty("modtest.server.healthSchedule", "not a schedule"),
	)

	require.ErrorIs(t, err, ErrHealthScheduleInvalid)
	assert.Contains(t, err.Error(), "not a schedule")
}

func TestHealthWatchRequiresServer(t *testing.T) {
	testutil.Isolate(t)

	_, err := Build(t, WithProperty("modtest.server.healthSchedule", "@every 1s"))

	require.ErrorIs(t, err, ErrServerNotConfigured)
}
