package modtest

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/modtest/feeders"
)

// Option represents a functional option for configuring a test context.
type Option func(*ContextBuilder) error

// ObserverFunc is a functional observer registered with the context.
type ObserverFunc func(ctx context.Context, event cloudevents.Event) error

// PropertyProvider supplies a late-bound property map consulted once at
// context build, after file sources and before explicit WithProperty
// values.
type PropertyProvider func() map[string]any

// mockDeclaration is a pending substitution collected by options and
// applied at build.
type mockDeclaration struct {
	name    string
	iface   reflect.Type
	factory MockFactory
}

// ContextBuilder constructs test contexts step by step. Most tests use
// New, which applies options and builds in one call.
type ContextBuilder struct {
	app            *StdApplication
	logger         Logger
	configProvider ConfigProvider
	modules        []Module
	environments   []string
	mocks          []mockDeclaration
	classProps     map[string]any
	sources        []PropertySource
	providers      []PropertyProvider
	observers      []ObserverFunc
	serverEnabled  bool
	sourceWatch    bool
	startTimeout   time.Duration
	stopTimeout    time.Duration
	skipStart      bool
	rebuildPerTest bool
}

// NewContextBuilder creates an empty builder.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{
		classProps: make(map[string]any),
	}
}

// New builds a test context and fails the test on any build error. The
// context is torn down automatically through tb.Cleanup.
func New(tb testing.TB, opts ...Option) *TestContext {
	tb.Helper()

	tc, err := Build(tb, opts...)
	if err != nil {
		tb.Fatalf("building test context: %v", err)
	}
	return tc
}

// Build builds a test context, returning the error instead of failing
// the test. tb may be nil for integrations without a testing.TB, in
// which case the caller owns teardown via Close.
func Build(tb testing.TB, opts ...Option) (*TestContext, error) {
	builder := NewContextBuilder()
	for _, opt := range opts {
		if err := opt(builder); err != nil {
			return nil, err
		}
	}
	return builder.Build(tb)
}

// WithApplication supplies a pre-configured application instead of the
// default empty one. Modules already registered on it are kept.
func WithApplication(app *StdApplication) Option {
	return func(b *ContextBuilder) error {
		if app == nil {
			return ErrApplicationNil
		}
		b.app = app
		return nil
	}
}

// WithLogger sets the context logger. Defaults to a TestLogger writing
// through the test's t.Logf.
func WithLogger(logger Logger) Option {
	return func(b *ContextBuilder) error {
		if logger == nil {
			return ErrLoggerNotSet
		}
		b.logger = logger
		return nil
	}
}

// WithConfigProvider sets the application-level config provider.
func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *ContextBuilder) error {
		if provider == nil {
			return ErrConfigProviderNil
		}
		b.configProvider = provider
		return nil
	}
}

// WithModules registers modules with the context's application, in
// order.
func WithModules(modules ...Module) Option {
	return func(b *ContextBuilder) error {
		b.modules = append(b.modules, modules...)
		return nil
	}
}

// WithEnvironments activates named environments for the context. Each
// active environment loads `<source>-<env>.<ext>` property variants, and
// the names are exposed through TestContext.Environments. The
// MODTEST_ENVIRONMENTS variable (comma-separated) prepends environments
// from outside the build.
func WithEnvironments(names ...string) Option {
	return func(b *ContextBuilder) error {
		b.environments = append(b.environments, names...)
		return nil
	}
}

// WithMock substitutes the service registered under name with the
// factory's product. The factory runs at build and again on every
// ResetMocks. Declaring the same service twice fails the build.
func WithMock(name string, factory MockFactory) Option {
	return func(b *ContextBuilder) error {
		b.mocks = append(b.mocks, mockDeclaration{name: name, factory: factory})
		return nil
	}
}

// WithMockFor substitutes whichever registered service implements the
// interface T. The target resolves when the context is built; the
// factory product must itself implement T.
func WithMockFor[T any](factory MockFactory) Option {
	iface := reflect.TypeOf((*T)(nil)).Elem()
	return func(b *ContextBuilder) error {
		b.mocks = append(b.mocks, mockDeclaration{iface: iface, factory: factory})
		return nil
	}
}

// WithProperty sets a context-level property, above file sources and
// below per-test SetProperty overrides.
func WithProperty(key string, value any) Option {
	return func(b *ContextBuilder) error {
		if key == "" {
			return ErrPropertyKeyEmpty
		}
		b.classProps[key] = value
		return nil
	}
}

// WithPropertySource loads a property file into the context. Relative
// paths resolve against the test's working directory, then the module
// root. Missing files fail the build.
func WithPropertySource(path string) Option {
	return func(b *ContextBuilder) error {
		b.sources = append(b.sources, PropertySource{Path: path})
		return nil
	}
}

// WithPropertySources loads several property files in order; later
// files override earlier ones.
func WithPropertySources(paths ...string) Option {
	return func(b *ContextBuilder) error {
		for _, path := range paths {
			b.sources = append(b.sources, PropertySource{Path: path})
		}
		return nil
	}
}

// WithOptionalPropertySource loads a property file if it exists and
// silently skips it otherwise.
func WithOptionalPropertySource(path string) Option {
	return func(b *ContextBuilder) error {
		b.sources = append(b.sources, PropertySource{Path: path, Optional: true})
		return nil
	}
}

// WithPropertyProvider registers a provider whose map is merged into the
// context-level property layer at build.
func WithPropertyProvider(provider PropertyProvider) Option {
	return func(b *ContextBuilder) error {
		if provider == nil {
			return fmt.Errorf("%w: property provider is nil", ErrConfigProviderNil)
		}
		b.providers = append(b.providers, provider)
		return nil
	}
}

// WithServer enables the context's test server. Without further
// configuration an in-process HTTP server runs; the modtest.server.*
// properties switch to a spawned executable or an external URL.
func WithServer() Option {
	return func(b *ContextBuilder) error {
		b.serverEnabled = true
		return nil
	}
}

// WithSourceWatch watches the context's property source files and fires
// a refresh when one changes on disk.
func WithSourceWatch() Option {
	return func(b *ContextBuilder) error {
		b.sourceWatch = true
		return nil
	}
}

// WithObservers registers functional observers for every event the
// context emits.
func WithObservers(observers ...ObserverFunc) Option {
	return func(b *ContextBuilder) error {
		b.observers = append(b.observers, observers...)
		return nil
	}
}

// WithStartTimeout bounds server readiness waits when no
// modtest.server.startupTimeout property is set.
func WithStartTimeout(timeout time.Duration) Option {
	return func(b *ContextBuilder) error {
		b.startTimeout = timeout
		return nil
	}
}

// WithStopTimeout bounds module and server shutdown during teardown.
func WithStopTimeout(timeout time.Duration) Option {
	return func(b *ContextBuilder) error {
		b.stopTimeout = timeout
		return nil
	}
}

// WithoutStart builds and initializes the context but does not start
// modules or servers. The test drives Start itself.
func WithoutStart() Option {
	return func(b *ContextBuilder) error {
		b.skipStart = true
		return nil
	}
}

// WithRebuildPerTest makes the suite integration build a fresh context
// for every test method instead of resetting mocks on a shared one.
func WithRebuildPerTest() Option {
	return func(b *ContextBuilder) error {
		b.rebuildPerTest = true
		return nil
	}
}

// environmentsEnvVar supplies environments from outside the build, the
// way CI activates profiles without code changes.
const environmentsEnvVar = "MODTEST_ENVIRONMENTS"

// Build assembles the test context: load property layers, build and
// initialize the application, substitute mocks, start servers and
// modules, and wire refresh plus teardown.
func (b *ContextBuilder) Build(tb testing.TB) (*TestContext, error) {
	logger := b.logger
	if logger == nil {
		if tb != nil {
			logger = NewTestLogger(tb)
		} else {
			logger = noopLogger{}
		}
	}

	environments := activeEnvironments(b.environments)

	store := NewPropertyStore()
	sources := make([]*resolvedSource, 0, len(b.sources))
	for _, source := range b.sources {
		resolved, err := loadSource(source, environments)
		if err != nil {
			return nil, err
		}
		if !resolved.missing {
			store.MergeSources(resolved.values)
			sources = append(sources, resolved)
		}
	}

	for _, provider := range b.providers {
		for key, value := range provider() {
			store.SetClass(key, value)
		}
	}
	for key, value := range b.classProps {
		store.SetClass(key, value)
	}

	app := b.app
	if app == nil {
		provider := b.configProvider
		if provider == nil {
			provider = NewStdConfigProvider(&struct{}{})
		}
		app = NewStdApplication(provider, logger)
	} else {
		app.SetLogger(logger)
	}
	if b.stopTimeout > 0 {
		app.SetStopTimeout(b.stopTimeout)
	}

	app.SetConfigFeeders([]feeders.Feeder{
		feeders.NewEnvFeeder(),
		feeders.NewMapProviderFeeder(store.Snapshot),
	})

	for _, module := range b.modules {
		if err := app.RegisterModule(module); err != nil {
			return nil, err
		}
	}

	serverCfg := newServerConfig(b.startTimeout)
	app.RegisterConfigSection(serverSection, NewStdConfigProvider(serverCfg))

	tc := &TestContext{
		tb:             tb,
		app:            app,
		logger:         logger,
		runID:          generateEventID(),
		environments:   environments,
		store:          store,
		sources:        sources,
		mocks:          NewMockRegistry(logger),
		orchestrator:   NewRefreshOrchestrator(logger),
		observers:      make(map[string]*observerRegistration),
		serverCfg:      serverCfg,
		serverEnabled:  b.serverEnabled,
		startPending:   b.skipStart,
		rebuildPerTest: b.rebuildPerTest,
	}

	for _, declaration := range b.mocks {
		var err error
		if declaration.iface != nil {
			err = tc.mocks.DeclareForInterface(declaration.iface, declaration.factory)
		} else {
			err = tc.mocks.DeclareNamed(declaration.name, declaration.factory)
		}
		if err != nil {
			return nil, err
		}
	}

	for i, observer := range b.observers {
		fn := NewFunctionalObserver(fmt.Sprintf("builder-observer-%d", i), observer)
		if err := tc.RegisterObserver(fn); err != nil {
			return nil, err
		}
	}

	tc.orchestrator.SetEventSubject(tc)
	tc.orchestrator.SetRebindHook(app.RefreshSections)

	if err := tc.initialize(b.sourceWatch); err != nil {
		if closeErr := tc.teardown(); closeErr != nil {
			logger.Error("Tearing down failed context build", "error", closeErr)
		}
		return nil, err
	}

	if tb != nil {
		tb.Cleanup(func() {
			if err := tc.Close(); err != nil {
				logger.Error("Test context teardown failed", "error", err)
			}
		})
	}

	return tc, nil
}

// activeEnvironments merges MODTEST_ENVIRONMENTS with the declared
// environment names, de-duplicated, external ones first.
func activeEnvironments(declared []string) []string {
	merged := make([]string, 0, len(declared)+2)
	seen := make(map[string]bool)

	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		merged = append(merged, name)
	}

	if external := os.Getenv(environmentsEnvVar); external != "" {
		for _, name := range strings.Split(external, ",") {
			add(name)
		}
	}
	for _, name := range declared {
		add(name)
	}

	return merged
}
