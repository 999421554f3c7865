package modtest

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

// healthWatch probes the test server's health endpoint on a cron
// schedule and emits EventTypeServerUnhealthy when a probe fails.
// Schedules use standard cron syntax including descriptors, so
// "@every 2s" is the common choice for tests.
type healthWatch struct {
	tc     *TestContext
	cron   *cron.Cron
	target string
	client *http.Client
}

func newHealthWatch(tc *TestContext, server serverHandle, cfg *ServerConfig) (*healthWatch, error) {
	watch := &healthWatch{
		tc:     tc,
		cron:   cron.New(),
		target: cfg.healthEndpoint(server.URL()),
		client: &http.Client{Timeout: 2 * time.Second},
	}

	if _, err := watch.cron.AddFunc(cfg.HealthSchedule, watch.probe); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrHealthScheduleInvalid, cfg.HealthSchedule, err)
	}
	return watch, nil
}

func (w *healthWatch) start() {
	w.cron.Start()
}

// stop halts the schedule and waits for an in-flight probe to finish.
func (w *healthWatch) stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *healthWatch) probe() {
	resp, err := w.client.Get(w.target)
	if err != nil {
		w.report(err.Error())
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		w.report(fmt.Sprintf("health endpoint returned %d", resp.StatusCode))
		return
	}
	w.tc.logger.Debug("Health probe passed", "target", w.target)
}

func (w *healthWatch) report(problem string) {
	w.tc.logger.Warn("Health probe failed", "target", w.target, "problem", problem)
	w.tc.emitEvent(EventTypeServerUnhealthy, ServerEvent{URL: w.target, Error: problem})
}
