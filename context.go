package modtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// TestContext is a fully wired application under test: modules
// initialized, mocks substituted, properties layered, and, when
// configured, a test server running. Contexts are built through New or
// Build and torn down through Close.
//
// TestContext implements Subject; every lifecycle action emits a
// CloudEvent that registered observers receive synchronously.
type TestContext struct {
	tb     testing.TB
	app    *StdApplication
	logger Logger
	runID  string

	environments []string

	store   *PropertyStore
	sources []*resolvedSource

	mocks        *MockRegistry
	orchestrator *RefreshOrchestrator

	serverCfg     *ServerConfig
	serverEnabled bool
	server        serverHandle
	health        *healthWatch

	watcher *sourceWatcher

	observerMu sync.RWMutex
	observers  map[string]*observerRegistration

	mu           sync.Mutex
	startPending bool
	closed       bool

	rebuildPerTest bool
}

// observerRegistration pairs an observer with its subscription filter.
type observerRegistration struct {
	observer     Observer
	eventTypes   []string
	registeredAt time.Time
}

func (reg *observerRegistration) wants(eventType string) bool {
	if len(reg.eventTypes) == 0 {
		return true
	}
	return slices.Contains(reg.eventTypes, eventType)
}

// App returns the application under test.
func (tc *TestContext) App() *StdApplication {
	return tc.app
}

// Logger returns the context logger.
func (tc *TestContext) Logger() Logger {
	return tc.logger
}

// RunID returns the unique identifier of this context instance, also
// attached to every emitted event.
func (tc *TestContext) RunID() string {
	return tc.runID
}

// Environments returns the active environment names.
func (tc *TestContext) Environments() []string {
	return slices.Clone(tc.environments)
}

// SvcRegistry returns the live service registry. Mock substitution
// writes into this registry, so lookups always see the current mocks.
func (tc *TestContext) SvcRegistry() ServiceRegistry {
	return tc.app.SvcRegistry()
}

// Mocks returns the context's mock registry.
func (tc *TestContext) Mocks() *MockRegistry {
	return tc.mocks
}

// GetService resolves a service into target, which must be a non-nil
// pointer to an interface or a compatible concrete type.
func (tc *TestContext) GetService(name string, target any) error {
	return tc.app.GetService(name, target)
}

// RequireService resolves a service into target and fails the test when
// it cannot.
func (tc *TestContext) RequireService(tb testing.TB, name string, target any) {
	tb.Helper()
	if err := tc.app.GetService(name, target); err != nil {
		tb.Fatalf("resolving service '%s': %v", name, err)
	}
}

// Property returns the effective value of a property key, resolved
// through the override, context, and source layers.
func (tc *TestContext) Property(key string) (any, bool) {
	return tc.store.Get(key)
}

// Properties returns a snapshot of every effective property.
func (tc *TestContext) Properties() map[string]any {
	return tc.store.Snapshot()
}

// SetProperty applies a property override, re-feeds the affected config
// sections, and notifies refresh subscribers before returning. When tb
// is non-nil the override is reverted automatically when the test
// finishes; a nil tb leaves the override in place until Close. On
// refresh failure the override is rolled back.
func (tc *TestContext) SetProperty(tb testing.TB, key string, value any) error {
	if key == "" {
		return ErrPropertyKeyEmpty
	}
	return tc.applyOverrides(tb, map[string]any{key: value})
}

// SetProperties applies several overrides atomically: one refresh cycle
// covers all of them, and one cleanup reverts all of them.
func (tc *TestContext) SetProperties(tb testing.TB, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	for key := range values {
		if key == "" {
			return ErrPropertyKeyEmpty
		}
	}
	return tc.applyOverrides(tb, values)
}

// overrideMemento remembers the override layer's state for a key so a
// revert restores any enclosing test's override instead of dropping to
// the layered value.
type overrideMemento struct {
	key     string
	value   any
	existed bool
}

func (tc *TestContext) applyOverrides(tb testing.TB, values map[string]any) error {
	if err := tc.ensureOpen(); err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	saved := make([]overrideMemento, 0, len(keys))
	diff := NewPropertyDiff()
	for _, key := range keys {
		previous, existed := tc.store.Override(key)
		saved = append(saved, overrideMemento{key: key, value: previous, existed: existed})
		recordChange(diff, tc.store.SetOverride(key, values[key]))
	}

	if err := tc.orchestrator.Refresh(context.Background(), RefreshTriggerProperty, diff); err != nil {
		tc.restoreOverrides(saved)
		return err
	}

	for _, key := range keys {
		if change, ok := diff.Changed[key]; ok {
			tc.emitEvent(EventTypePropertyChanged, PropertyChangedEvent{
				Key:      change.Key,
				OldValue: change.OldValue,
				NewValue: change.NewValue,
				Source:   change.Source,
			})
		}
	}

	if tb != nil {
		tb.Cleanup(func() { tc.restoreOverrides(saved) })
	}
	return nil
}

// recordChange adds a single effective change to the diff, skipping
// overrides that left the value as-is.
func recordChange(diff *PropertyDiff, change PropertyChange) {
	if valuesEqual(change.OldValue, change.NewValue) {
		return
	}
	diff.Changed[change.Key] = change
	if change.OldValue == nil {
		diff.Added[change.Key] = change.NewValue
	}
	if change.NewValue == nil {
		diff.Removed[change.Key] = change.OldValue
	}
}

// restoreOverrides puts the override layer back to a remembered state
// and runs a refresh cycle for whatever effectively changed.
func (tc *TestContext) restoreOverrides(saved []overrideMemento) {
	if tc.isClosed() {
		return
	}

	diff := NewPropertyDiff()
	for _, memento := range saved {
		var change PropertyChange
		if memento.existed {
			change = tc.store.SetOverride(memento.key, memento.value)
		} else {
			change = tc.store.ClearOverride(memento.key)
		}
		recordChange(diff, change)
	}

	if err := tc.orchestrator.Refresh(context.Background(), RefreshTriggerProperty, diff); err != nil {
		tc.logger.Error("Reverting property overrides failed", "error", err)
	}
}

// Refresh re-feeds every config section and notifies every refresh
// subscriber, regardless of whether any property changed.
func (tc *TestContext) Refresh(ctx context.Context) error {
	if err := tc.ensureOpen(); err != nil {
		return err
	}
	return tc.orchestrator.ForceRefresh(ctx, RefreshTriggerManual)
}

// ResetMocks re-runs every mock factory, reinstalls the fresh mocks,
// re-injects them into modules, and notifies refresh subscribers. Call
// between tests sharing a context; the suite integration does this
// automatically.
func (tc *TestContext) ResetMocks(ctx context.Context) error {
	if err := tc.ensureOpen(); err != nil {
		return err
	}
	if tc.mocks.Len() == 0 {
		return nil
	}

	if err := tc.mocks.Reset(tc); err != nil {
		return err
	}
	if err := tc.app.reinjectServices(); err != nil {
		return err
	}

	tc.emitEvent(EventTypeMockReset, MockEvent{Services: tc.mocks.Names()})
	return tc.orchestrator.ForceRefresh(ctx, RefreshTriggerMockReset)
}

// SwapMock replaces the live instance for a single service within one
// test. When tb is non-nil the previous instance is restored when the
// test finishes. Swapped instances are visible to interface-based
// lookups immediately and to modules through re-injection.
func (tc *TestContext) SwapMock(tb testing.TB, name string, instance any) error {
	if err := tc.ensureOpen(); err != nil {
		return err
	}

	previous, err := tc.mocks.Swap(tc, name, instance)
	if err != nil {
		return err
	}
	if err := tc.app.reinjectServices(); err != nil {
		return err
	}
	tc.emitEvent(EventTypeMockInstalled, MockEvent{ServiceName: name})

	if tb != nil && previous != nil {
		tb.Cleanup(func() {
			if tc.isClosed() {
				return
			}
			if _, err := tc.mocks.Swap(tc, name, previous); err != nil {
				tc.logger.Error("Restoring swapped service failed", "service", name, "error", err)
				return
			}
			if err := tc.app.reinjectServices(); err != nil {
				tc.logger.Error("Re-injecting services after swap restore failed", "error", err)
			}
		})
	}
	return nil
}

// ServerURL returns the base URL of the context's test server, or the
// empty string when no server is configured.
func (tc *TestContext) ServerURL() string {
	if tc.server == nil {
		return ""
	}
	return tc.server.URL()
}

// Start starts the server and modules of a context built WithoutStart.
// No-op when the context already started.
func (tc *TestContext) Start(ctx context.Context) error {
	if err := tc.ensureOpen(); err != nil {
		return err
	}

	tc.mu.Lock()
	pending := tc.startPending
	tc.startPending = false
	tc.mu.Unlock()

	if !pending {
		return nil
	}
	return tc.startServerAndModules(ctx)
}

// Close tears the context down: watchers stop, modules stop in reverse
// registration order, the server shuts down. Contexts built through New
// close themselves when the test finishes. Idempotent.
func (tc *TestContext) Close() error {
	return tc.teardown()
}

// RegisterObserver implements Subject.
func (tc *TestContext) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}

	tc.observerMu.Lock()
	defer tc.observerMu.Unlock()
	tc.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   slices.Clone(eventTypes),
		registeredAt: time.Now(),
	}
	return nil
}

// UnregisterObserver implements Subject.
func (tc *TestContext) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrObserverNil
	}

	tc.observerMu.Lock()
	defer tc.observerMu.Unlock()
	delete(tc.observers, observer.ObserverID())
	return nil
}

// NotifyObservers implements Subject. Delivery is synchronous in
// observer ID order; a failing observer is logged and does not stop
// delivery to the others.
func (tc *TestContext) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	tc.observerMu.RLock()
	ids := make([]string, 0, len(tc.observers))
	for id := range tc.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	registrations := make([]*observerRegistration, 0, len(ids))
	for _, id := range ids {
		registrations = append(registrations, tc.observers[id])
	}
	tc.observerMu.RUnlock()

	for _, registration := range registrations {
		if !registration.wants(event.Type()) {
			continue
		}
		if err := registration.observer.OnEvent(ctx, event); err != nil {
			tc.logger.Error("Observer failed handling event",
				"observer", registration.observer.ObserverID(),
				"eventType", event.Type(),
				"error", err)
		}
	}
	return nil
}

// GetObservers implements Subject.
func (tc *TestContext) GetObservers() []ObserverInfo {
	tc.observerMu.RLock()
	defer tc.observerMu.RUnlock()

	infos := make([]ObserverInfo, 0, len(tc.observers))
	for id, registration := range tc.observers {
		infos = append(infos, ObserverInfo{
			ID:           id,
			EventTypes:   slices.Clone(registration.eventTypes),
			RegisteredAt: registration.registeredAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// emitEvent publishes a harness lifecycle event, tagged with the run ID.
func (tc *TestContext) emitEvent(eventType string, data any) {
	event := NewCloudEvent(eventType, "modtest-context", data, map[string]interface{}{"runid": tc.runID})
	if err := tc.NotifyObservers(context.Background(), event); err != nil {
		tc.logger.Debug("Failed to publish event", "eventType", eventType, "error", err)
	}
}

// initialize drives the build sequence after construction: module init,
// mock substitution, refresh wiring, server startup, module start, and
// source watching.
func (tc *TestContext) initialize(sourceWatch bool) error {
	ctx := context.Background()

	if err := tc.app.Init(); err != nil {
		return tc.failBuild(fmt.Errorf("initializing application: %w", err))
	}

	if tc.mocks.Len() > 0 {
		if err := tc.mocks.Install(tc); err != nil {
			return tc.failBuild(err)
		}
		if err := tc.app.reinjectServices(); err != nil {
			return tc.failBuild(err)
		}
		for _, name := range tc.mocks.Names() {
			tc.emitEvent(EventTypeMockInstalled, MockEvent{ServiceName: name})
		}
	}

	if err := tc.subscribeRefreshables(); err != nil {
		return tc.failBuild(err)
	}

	for _, source := range tc.sources {
		tc.emitEvent(EventTypeSourceLoaded, SourceLoadedEvent{
			Path:     source.path,
			Files:    source.files,
			KeyCount: len(source.values),
		})
	}

	tc.emitEvent(EventTypeContextBuilt, ContextEvent{RunID: tc.runID, Environments: tc.environments})

	tc.mu.Lock()
	pending := tc.startPending
	tc.mu.Unlock()
	if !pending {
		if err := tc.startServerAndModules(ctx); err != nil {
			return tc.failBuild(err)
		}
	}

	if sourceWatch && len(tc.sources) > 0 {
		watcher, err := newSourceWatcher(tc)
		if err != nil {
			return tc.failBuild(err)
		}
		tc.watcher = watcher
	}

	return nil
}

func (tc *TestContext) failBuild(err error) error {
	tc.emitEvent(EventTypeContextFailed, ContextEvent{RunID: tc.runID, Error: err.Error()})
	return err
}

func (tc *TestContext) startServerAndModules(ctx context.Context) error {
	if err := tc.startServer(ctx); err != nil {
		return err
	}
	if err := tc.app.Start(); err != nil {
		return fmt.Errorf("starting modules: %w", err)
	}
	tc.emitEvent(EventTypeContextStarted, ContextEvent{RunID: tc.runID, Environments: tc.environments})
	return nil
}

// startServer starts whichever server the configuration calls for: an
// external URL is used as-is, an executable is spawned and awaited, and
// otherwise WithServer gets the in-process server.
func (tc *TestContext) startServer(ctx context.Context) error {
	if tc.server != nil {
		return nil
	}

	cfg := tc.serverCfg
	switch {
	case cfg.URL != "":
		tc.server = newUnmanagedServer(cfg.URL)
	case cfg.Executable != "":
		tc.emitEvent(EventTypeServerStarting, ServerEvent{Executable: cfg.Executable})
		server, err := startExternalServer(ctx, cfg, tc.logger)
		if err != nil {
			return err
		}
		tc.server = server
	case tc.serverEnabled:
		server, err := startEmbeddedServer(tc.app, cfg, tc.logger)
		if err != nil {
			return err
		}
		tc.server = server
	default:
		if cfg.HealthSchedule != "" {
			return fmt.Errorf("%w: healthSchedule %q needs a server", ErrServerNotConfigured, cfg.HealthSchedule)
		}
		return nil
	}

	tc.exportServerProperties(ctx)

	ready := ServerEvent{Address: tc.server.Address(), URL: tc.server.URL(), Executable: cfg.Executable}
	if external, ok := tc.server.(*externalServer); ok {
		ready.PID = external.PID()
	}
	tc.emitEvent(EventTypeServerReady, ready)

	if cfg.HealthSchedule != "" {
		health, err := newHealthWatch(tc, tc.server, cfg)
		if err != nil {
			return err
		}
		tc.health = health
		health.start()
	}
	return nil
}

// exportServerProperties publishes the live server address into the
// property layers so config sections and tests can resolve it.
func (tc *TestContext) exportServerProperties(ctx context.Context) {
	tc.store.SetClass("modtest.server.url", tc.server.URL())
	tc.store.SetClass("modtest.server.address", tc.server.Address())
	if _, err := tc.app.RefreshSections(ctx, []string{"modtest.server.url", "modtest.server.address"}); err != nil {
		tc.logger.Error("Publishing server address failed", "error", err)
	}
}

// subscribeRefreshables registers every Refreshable module and service
// with the refresh orchestrator: modules in registration order, then
// services in name order. A service that IS a registered module is
// skipped so it refreshes once.
func (tc *TestContext) subscribeRefreshables() error {
	modules := tc.app.Modules()
	for _, module := range modules {
		refreshable, ok := module.(Refreshable)
		if !ok {
			continue
		}
		if err := tc.orchestrator.Subscribe(module.Name(), refreshable); err != nil {
			return err
		}
	}

	registry := tc.app.SvcRegistry()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		refreshable, ok := registry[name].(Refreshable)
		if !ok {
			continue
		}
		isModule := false
		for _, module := range modules {
			if sameInstance(module, registry[name]) {
				isModule = true
				break
			}
		}
		if isModule {
			continue
		}
		if err := tc.orchestrator.Subscribe(name, refreshable); err != nil {
			if errors.Is(err, ErrRefreshSubscriberExists) {
				continue
			}
			return err
		}
	}
	return nil
}

// sameInstance reports whether two values are the same pointer.
func sameInstance(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Pointer && vb.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	return false
}

// reloadSources rebuilds the merged source layer from every loaded
// source in declaration order and swaps it into the store, returning the
// diff of effective values.
func (tc *TestContext) reloadSources(label string) (*PropertyDiff, error) {
	merged := make(map[string]any)
	for _, source := range tc.sources {
		values, err := source.reload()
		if err != nil {
			return nil, err
		}
		source.values = values
		for key, value := range values {
			merged[key] = value
		}
	}
	return tc.store.ReplaceSources(merged, label), nil
}

func (tc *TestContext) isClosed() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.closed
}

func (tc *TestContext) ensureOpen() error {
	if tc.isClosed() {
		return ErrContextClosed
	}
	return nil
}

// teardown unwinds the context in reverse build order.
func (tc *TestContext) teardown() error {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return nil
	}
	tc.closed = true
	tc.mu.Unlock()

	var errs []error

	if tc.watcher != nil {
		tc.watcher.stop()
	}
	if tc.health != nil {
		tc.health.stop()
	}

	if err := tc.app.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping modules: %w", err))
	}

	if tc.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tc.serverCfg.ShutdownTimeout)
		err := tc.server.Stop(ctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("stopping server: %w", err))
		}
		tc.emitEvent(EventTypeServerStopped, ServerEvent{Address: tc.server.Address(), URL: tc.server.URL()})
	}

	tc.emitEvent(EventTypeContextStopped, ContextEvent{RunID: tc.runID})

	return errors.Join(errs...)
}
