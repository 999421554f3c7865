// Package modtest provides test-harness support for modular
// dependency-injection applications. It builds an isolated application
// context per test suite, substitutes registered services with
// test-supplied doubles, injects property overrides at class or method
// granularity with observer-based refresh, and manages an in-process or
// externally-started test server around the suite lifecycle.
//
// Basic usage:
//
//	func TestUserService(t *testing.T) {
//		tc := modtest.New(t,
//			modtest.WithEnvironments("test"),
//			modtest.WithPropertySource("testdata/application.yaml"),
//			modtest.WithModules(&usersModule{}),
//			modtest.WithMock("userStore", func(*modtest.TestContext) any {
//				return &fakeStore{}
//			}),
//		)
//
//		var store UserStore
//		tc.RequireService(t, "userStore", &store) // resolves the fake
//	}
//
// The context is torn down automatically through t.Cleanup.
package modtest

import (
	"context"
	"reflect"
)

// Module represents a registrable component in the application under test.
// Modules encapsulate the production wiring the harness exercises: they
// register configuration sections, provide services, and participate in
// the start/stop lifecycle.
//
// Modules are initialized in registration order. Test contexts are small
// enough that explicit ordering replaces dependency-graph resolution;
// register providers before their consumers.
type Module interface {
	// Name returns the unique identifier for this module. It is used for
	// registration tracking, logging, and refresh subscription.
	Name() string

	// Init initializes the module with the application context. It is
	// called after all configuration sections have been registered and
	// fed, so the module's config struct is fully populated.
	Init(app Application) error
}

// Configurable is an interface for modules that register configuration.
// RegisterConfig runs before any module's Init, and the registered
// sections are fed from the context's property store before Init runs.
type Configurable interface {
	RegisterConfig(app Application) error
}

// Startable is an interface for modules that need to be started after
// initialization. Start is called in registration order once the whole
// context is built.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is an interface for modules that need to be stopped during
// context teardown. Stop is called in reverse registration order.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// ServiceAware is an interface for modules that provide or consume
// services through the registry.
type ServiceAware interface {
	// ProvidesServices returns services registered after the module's
	// Init completes, making them available to later modules and to the
	// test body.
	ProvidesServices() []ServiceProvider

	// RequiresServices declares services injected before Init runs.
	RequiresServices() []ServiceDependency
}

// ServiceInjector is an optional companion to ServiceAware. Modules
// implementing it receive their resolved required services just before
// Init.
type ServiceInjector interface {
	InjectServices(services map[string]any) error
}

// ServiceProvider declares a service a module contributes to the registry.
type ServiceProvider struct {
	Name        string
	Description string
	Instance    any
}

// ServiceDependency declares a service a module requires.
// Resolution is by name unless MatchByInterface is set, in which case the
// first registered service implementing SatisfiesInterface is used.
type ServiceDependency struct {
	Name               string
	Required           bool
	MatchByInterface   bool
	SatisfiesInterface reflect.Type
}
