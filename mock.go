package modtest

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// MockFactory produces a mock instance for a test context. Factories
// run when the context is built and again on every ResetMocks, so each
// test can start from a fresh mock.
type MockFactory func(tc *TestContext) any

// mockEntry tracks one declared substitution through its lifecycle.
type mockEntry struct {
	// serviceName is the registry name being substituted. Empty until
	// an interface-matched declaration resolves at install time.
	serviceName string

	// declared describes the declaration for diagnostics, either the
	// service name or the interface type.
	declared string

	// iface is the interface the mock must satisfy; nil for by-name
	// declarations.
	iface reflect.Type

	factory MockFactory

	// current is the live mock instance, replaced on every reset.
	current any

	// original is the service the registry held before substitution.
	original any
}

// MockRegistry holds declared mock substitutions and applies them to a
// service registry. Substitution happens after module initialization,
// so mocks replace whatever the modules registered.
type MockRegistry struct {
	mu      sync.RWMutex
	entries []*mockEntry
	logger  Logger
}

// NewMockRegistry creates an empty MockRegistry.
func NewMockRegistry(logger Logger) *MockRegistry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MockRegistry{logger: logger}
}

// DeclareNamed registers a substitution for the service registered
// under name. Declaring the same name twice fails fast rather than
// silently keeping one of the two mocks.
func (r *MockRegistry) DeclareNamed(name string, factory MockFactory) error {
	if factory == nil {
		return fmt.Errorf("%w: service '%s'", ErrMockFactoryNil, name)
	}
	if name == "" {
		return fmt.Errorf("%w: empty service name", ErrMockTargetUnresolvable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.serviceName == name {
			return fmt.Errorf("%w: '%s'", ErrMockAlreadyDeclared, name)
		}
	}

	r.entries = append(r.entries, &mockEntry{
		serviceName: name,
		declared:    name,
		factory:     factory,
	})
	return nil
}

// DeclareForInterface registers a substitution for whichever service
// implements iface. The target service is resolved when the context is
// built; declaring the same interface twice fails fast.
func (r *MockRegistry) DeclareForInterface(iface reflect.Type, factory MockFactory) error {
	if factory == nil {
		return fmt.Errorf("%w: interface %v", ErrMockFactoryNil, iface)
	}
	if iface == nil || iface.Kind() != reflect.Interface {
		return fmt.Errorf("%w: %v is not an interface", ErrMockTargetUnresolvable, iface)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.iface == iface {
			return fmt.Errorf("%w: interface %v", ErrMockAlreadyDeclared, iface)
		}
	}

	r.entries = append(r.entries, &mockEntry{
		declared: iface.String(),
		iface:    iface,
		factory:  factory,
	})
	return nil
}

// Install resolves every declaration against the registry, runs the
// factories, and writes the mocks over the original services. Called
// once after module initialization.
func (r *MockRegistry) Install(tc *TestContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	registry := tc.SvcRegistry()

	// Resolve interface declarations to service names first so duplicate
	// or unresolvable targets fail before any substitution happens.
	for _, entry := range r.entries {
		if entry.iface != nil && entry.serviceName == "" {
			name, _, found := queryByInterface(registry, entry.iface)
			if !found {
				return fmt.Errorf("%w: no service implements %s", ErrMockTargetUnresolvable, entry.declared)
			}
			entry.serviceName = name
		}
	}

	// Two interface declarations may resolve to the same service; that
	// is the duplicate-declaration case in disguise.
	seen := make(map[string]string, len(r.entries))
	for _, entry := range r.entries {
		if prior, dup := seen[entry.serviceName]; dup {
			return fmt.Errorf("%w: '%s' targeted by both %s and %s",
				ErrMockAlreadyDeclared, entry.serviceName, prior, entry.declared)
		}
		seen[entry.serviceName] = entry.declared
	}

	for _, entry := range r.entries {
		original, exists := registry[entry.serviceName]
		if !exists && entry.iface == nil {
			return fmt.Errorf("%w: '%s'", ErrMockTargetUnresolvable, entry.serviceName)
		}
		entry.original = original

		if err := r.applyLocked(entry, tc); err != nil {
			return err
		}
	}

	return nil
}

// Reset re-runs every factory and reinstalls the fresh mocks, giving
// each test an isolated mock state.
func (r *MockRegistry) Reset(tc *TestContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if err := r.applyLocked(entry, tc); err != nil {
			return err
		}
	}
	return nil
}

// Swap replaces the live instance for name with instance, returning the
// value it replaced. Declared mocks keep their interface checks;
// swapping an undeclared name replaces the raw registry entry.
func (r *MockRegistry) Swap(tc *TestContext, name string, instance any) (any, error) {
	if instance == nil {
		return nil, fmt.Errorf("%w: swap for '%s'", ErrServiceNil, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registry := tc.SvcRegistry()

	for _, entry := range r.entries {
		if entry.serviceName != name {
			continue
		}
		if entry.iface != nil && !implementsInterface(instance, entry.iface) {
			return nil, fmt.Errorf("%w: %T does not implement %s",
				ErrMockInterfaceUnsatisfied, instance, entry.declared)
		}
		previous := entry.current
		entry.current = instance
		registry[name] = instance
		r.logger.Debug("Mock swapped", "service", name, "mockType", fmt.Sprintf("%T", instance))
		return previous, nil
	}

	previous, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("%w: '%s'", ErrServiceNotFound, name)
	}
	registry[name] = instance
	r.logger.Debug("Service swapped", "service", name, "type", fmt.Sprintf("%T", instance))
	return previous, nil
}

// applyLocked runs one entry's factory and writes the result into the
// service registry.
func (r *MockRegistry) applyLocked(entry *mockEntry, tc *TestContext) error {
	instance := entry.factory(tc)
	if instance == nil {
		return fmt.Errorf("%w: %s", ErrMockFactoryReturnedNil, entry.declared)
	}

	if entry.iface != nil && !implementsInterface(instance, entry.iface) {
		return fmt.Errorf("%w: %T does not implement %s",
			ErrMockInterfaceUnsatisfied, instance, entry.declared)
	}

	entry.current = instance
	tc.SvcRegistry()[entry.serviceName] = instance

	r.logger.Debug("Mock installed", "service", entry.serviceName, "mockType", fmt.Sprintf("%T", instance))
	return nil
}

// Current returns the live mock instance substituted for name.
func (r *MockRegistry) Current(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.serviceName == name {
			return entry.current, entry.current != nil
		}
	}
	return nil, false
}

// Names returns the sorted service names with installed mocks.
func (r *MockRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.serviceName != "" {
			names = append(names, entry.serviceName)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of declared mocks.
func (r *MockRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// MockOf resolves the current mock (or any service) implementing the
// interface T. The lookup runs against the live registry on every call,
// so the returned value reflects the latest ResetMocks.
func MockOf[T any](tc *TestContext) (T, error) {
	var zero T
	iface := reflect.TypeOf((*T)(nil)).Elem()
	if iface.Kind() != reflect.Interface {
		return zero, fmt.Errorf("%w: %v is not an interface", ErrMockTargetUnresolvable, iface)
	}

	_, instance, found := queryByInterface(tc.SvcRegistry(), iface)
	if !found {
		return zero, fmt.Errorf("%w: no service implements %v", ErrServiceNotFound, iface)
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: service %T does not implement %v", ErrServiceIncompatible, instance, iface)
	}
	return typed, nil
}

// NamedMock resolves the service registered under name as type T.
func NamedMock[T any](tc *TestContext, name string) (T, error) {
	var zero T

	instance, exists := tc.SvcRegistry()[name]
	if !exists {
		return zero, fmt.Errorf("%w: '%s'", ErrServiceNotFound, name)
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: service '%s' of type %T is not %v",
			ErrServiceIncompatible, name, instance, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}
