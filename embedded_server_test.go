package modtest

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modtest/internal/testutil"
)

// httpGetBody fails the test unless GET url answers with wantStatus,
// and returns the response body.
func httpGetBody(t *testing.T, url string, wantStatus int) string {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "GET %s returned body %q", url, body)
	return string(body)
}

func TestEmbeddedServerServesModuleRoutes(t *testing.T) {
	testutil.Isolate(t)

	module := &greeterModule{}
	recorder := NewEventRecorder("rec")

	tc := New(t,
		WithModules(module),
		WithServer(),
		WithObservers(recorder.OnEvent),
	)

	baseURL := tc.ServerURL()
	require.True(t, strings.HasPrefix(baseURL, "http://127.0.0.1:"), "unexpected server url %q", baseURL)

	body := httpGetBody(t, baseURL+"/healthz", http.StatusOK)
	assert.JSONEq(t, `{"status":"UP"}`, body)

	body = httpGetBody(t, baseURL+"/greet/Ada", http.StatusOK)
	assert.Equal(t, "Hello, Ada", body)

	url, ok := tc.Property("modtest.server.url")
	require.True(t, ok)
	assert.Equal(t, baseURL, url)

	address, ok := tc.Property("modtest.server.address")
	require.True(t, ok)
	assert.Equal(t, strings.TrimPrefix(baseURL, "http://"), address)

	ready := recorder.EventsOfType(EventTypeServerReady)
	require.Len(t, ready, 1)
	var payload ServerEvent
	require.NoError(t, ready[0].DataAs(&payload))
	assert.Equal(t, baseURL, payload.URL)
}

func TestEmbeddedServerRouteSeesPropertyOverride(t *testing.T) {
	testutil.Isolate(t)

	module := &greeterModule{}
	tc := New(t, WithModules(module), WithServer())

	require.NoError(t, tc.SetProperty(t, "greeter.prefix", "Howdy"))

	body := httpGetBody(t, tc.ServerURL()+"/greet/Bob", http.StatusOK)
	assert.Equal(t, "Howdy, Bob", body)
}

func TestEmbeddedServerCustomHealthPath(t *testing.T) {
	testutil.Isolate(t)

	tc := New(t,
		WithServer(),
		WithProperty("modtest.server.healthPath", "status/health"),
	)

	body := httpGetBody(t, tc.ServerURL()+"/status/health", http.StatusOK)
	assert.JSONEq(t, `{"status":"UP"}`, body)

	resp, err := http.Get(tc.ServerURL() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmbeddedServerStopsOnClose(t *testing.T) {
	testutil.Isolate(t)

	recorder := NewEventRecorder("rec")
	tc, err := Build(nil,
		WithLogger(NewTestLogger(t)),
		WithServer(),
		WithObservers(recorder.OnEvent),
	)
	require.NoError(t, err)
	defer func() { _ = tc.Close() }()

	baseURL := tc.ServerURL()
	httpGetBody(t, baseURL+"/healthz", http.StatusOK)

	require.NoError(t, tc.Close())

	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err == nil {
		resp.Body.Close()
	}
	require.Error(t, err, "server should be unreachable after Close")

	stopped := recorder.EventsOfType(EventTypeServerStopped)
	require.Len(t, stopped, 1)
	var payload ServerEvent
	require.NoError(t, stopped[0].DataAs(&payload))
	assert.Equal(t, baseURL, payload.URL)
}

func TestServerURLWithoutServer(t *testing.T) {
	testutil.Isolate(t)

	tc := New(t)

	assert.Empty(t, tc.ServerURL())
	_, ok := tc.Property("modtest.server.url")
	assert.False(t, ok)
}
