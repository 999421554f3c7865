package modtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Static errors for test assertions.
var (
	errStoreUnavailable = errors.New("store unavailable")
	errRefreshRejected  = errors.New("refresh rejected")
)

// greeter is the interface the fixtures register and substitute.
type greeter interface {
	Greet(name string) string
}

// realGreeter is the production implementation the greeterModule wires.
type realGreeter struct {
	mu     sync.Mutex
	prefix string
}

func (g *realGreeter) Greet(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prefix + ", " + name
}

func (g *realGreeter) setPrefix(prefix string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefix = prefix
}

// fakeGreeter is the double tests substitute for the real greeter.
type fakeGreeter struct {
	mu    sync.Mutex
	reply string
	calls []string
}

func (g *fakeGreeter) Greet(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, name)
	return g.reply
}

func (g *fakeGreeter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type greeterConfig struct {
	Prefix  string        `yaml:"prefix"`
	Timeout time.Duration `yaml:"timeout"`
}

// greeterModule is the standard fixture: it registers a config section,
// provides the greeter service, refreshes its prefix on property
// changes, and mounts a route on the test server.
type greeterModule struct {
	cfg     *greeterConfig
	svc     *realGreeter
	started bool
	stopped bool
}

func (m *greeterModule) Name() string { return "greeter" }

func (m *greeterModule) RegisterConfig(app Application) error {
	m.cfg = &greeterConfig{Prefix: "Hello"}
	app.RegisterConfigSection("greeter", NewStdConfigProvider(m.cfg))
	return nil
}

func (m *greeterModule) Init(Application) error {
	m.svc = &realGreeter{prefix: m.cfg.Prefix}
	return nil
}

func (m *greeterModule) ProvidesServices() []ServiceProvider {
	return []ServiceProvider{
		{Name: "greeter.service", Description: "Greeting service", Instance: m.svc},
	}
}

func (m *greeterModule) RequiresServices() []ServiceDependency { return nil }

func (m *greeterModule) Start(context.Context) error {
	m.started = true
	return nil
}

func (m *greeterModule) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func (m *greeterModule) Refresh(_ context.Context, _ []PropertyChange) error {
	m.svc.setPrefix(m.cfg.Prefix)
	return nil
}

func (m *greeterModule) CanRefresh() bool { return true }

func (m *greeterModule) RefreshTimeout() time.Duration { return 0 }

func (m *greeterModule) Routes(r chi.Router) {
	r.Get("/greet/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		_, _ = fmt.Fprint(w, m.svc.Greet(name))
	})
}

// consumerModule depends on the greeter by interface and keeps the
// injected instance, exercising injection and re-injection.
type consumerModule struct {
	greeter greeter
}

func (m *consumerModule) Name() string { return "consumer" }

func (m *consumerModule) Init(Application) error { return nil }

func (m *consumerModule) ProvidesServices() []ServiceProvider { return nil }

func (m *consumerModule) RequiresServices() []ServiceDependency {
	return []ServiceDependency{
		{
			Name:               "greeter.service",
			Required:           true,
			MatchByInterface:   true,
			SatisfiesInterface: InterfaceType[greeter](),
		},
	}
}

func (m *consumerModule) InjectServices(services map[string]any) error {
	for _, service := range services {
		if g, ok := service.(greeter); ok {
			m.greeter = g
		}
	}
	if m.greeter == nil {
		return errStoreUnavailable
	}
	return nil
}

// refreshProbe is a Refreshable service that records every cycle it
// receives.
type refreshProbe struct {
	mu         sync.Mutex
	cycles     [][]PropertyChange
	refuse     bool
	failWith   error
	maxRefresh time.Duration
}

func (p *refreshProbe) Refresh(_ context.Context, changes []PropertyChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	copied := make([]PropertyChange, len(changes))
	copy(copied, changes)
	p.cycles = append(p.cycles, copied)
	return nil
}

func (p *refreshProbe) CanRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.refuse
}

func (p *refreshProbe) RefreshTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxRefresh
}

func (p *refreshProbe) cycleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cycles)
}

func (p *refreshProbe) lastCycle() []PropertyChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cycles) == 0 {
		return nil
	}
	return p.cycles[len(p.cycles)-1]
}

// probeModule registers a refreshProbe as a service.
type probeModule struct {
	probe *refreshProbe
}

func (m *probeModule) Name() string { return "probe" }

func (m *probeModule) Init(app Application) error {
	if m.probe == nil {
		m.probe = &refreshProbe{}
	}
	return app.RegisterService("probe.service", m.probe)
}
