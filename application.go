package modtest

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/modtest/feeders"
)

// DefaultStopTimeout bounds module shutdown during context teardown.
const DefaultStopTimeout = 10 * time.Second

// Application is the minimal container the harness builds test contexts
// around: a service registry with interface-based lookup, named config
// sections fed from the property layers, and a start/stop lifecycle.
type Application interface {
	ConfigProvider() ConfigProvider
	SvcRegistry() ServiceRegistry
	RegisterModule(module Module) error
	RegisterConfigSection(section string, cp ConfigProvider)
	ConfigSections() map[string]ConfigProvider
	GetConfigSection(section string) (ConfigProvider, error)
	RegisterService(name string, service any) error
	GetService(name string, target any) error
	Init() error
	Start() error
	Stop() error
	Logger() Logger
}

// StdApplication is the standard Application implementation.
type StdApplication struct {
	cfgProvider   ConfigProvider
	cfgSections   map[string]ConfigProvider
	sectionOrder  []string
	svcRegistry   ServiceRegistry
	modules       []Module
	moduleNames   map[string]bool
	configFeeders []feeders.Feeder
	logger        Logger
	stopTimeout   time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewStdApplication creates a new application instance.
func NewStdApplication(cp ConfigProvider, logger Logger) *StdApplication {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StdApplication{
		cfgProvider:   cp,
		cfgSections:   make(map[string]ConfigProvider),
		svcRegistry:   make(ServiceRegistry),
		moduleNames:   make(map[string]bool),
		configFeeders: []feeders.Feeder{feeders.NewEnvFeeder()},
		logger:        logger,
		stopTimeout:   DefaultStopTimeout,
	}
}

// ConfigProvider retrieves the application-level config provider.
func (app *StdApplication) ConfigProvider() ConfigProvider {
	return app.cfgProvider
}

// SvcRegistry retrieves the service registry.
func (app *StdApplication) SvcRegistry() ServiceRegistry {
	return app.svcRegistry
}

// SetConfigFeeders replaces the feeders used to populate config sections.
func (app *StdApplication) SetConfigFeeders(configFeeders []feeders.Feeder) {
	app.configFeeders = configFeeders
}

// SetStopTimeout bounds how long Stop waits for modules to shut down.
func (app *StdApplication) SetStopTimeout(timeout time.Duration) {
	if timeout > 0 {
		app.stopTimeout = timeout
	}
}

// RegisterModule adds a module. Modules are initialized, started, and
// provided to consumers in registration order, so providers must be
// registered before their consumers.
func (app *StdApplication) RegisterModule(module Module) error {
	if module == nil {
		return ErrModuleNil
	}
	if module.Name() == "" {
		return ErrModuleNameEmpty
	}
	if app.moduleNames[module.Name()] {
		return fmt.Errorf("%w: '%s'", ErrDuplicateModuleName, module.Name())
	}

	app.moduleNames[module.Name()] = true
	app.modules = append(app.modules, module)
	return nil
}

// Modules returns the registered modules in registration order.
func (app *StdApplication) Modules() []Module {
	out := make([]Module, len(app.modules))
	copy(out, app.modules)
	return out
}

// RegisterConfigSection registers a configuration section. The section
// name doubles as the property key prefix the section is fed from.
func (app *StdApplication) RegisterConfigSection(section string, cp ConfigProvider) {
	if _, exists := app.cfgSections[section]; !exists {
		app.sectionOrder = append(app.sectionOrder, section)
	}
	app.cfgSections[section] = cp
}

// ConfigSections retrieves all registered configuration sections.
func (app *StdApplication) ConfigSections() map[string]ConfigProvider {
	return app.cfgSections
}

// SectionNames returns registered section names in registration order.
func (app *StdApplication) SectionNames() []string {
	out := make([]string, len(app.sectionOrder))
	copy(out, app.sectionOrder)
	return out
}

// GetConfigSection retrieves a configuration section.
func (app *StdApplication) GetConfigSection(section string) (ConfigProvider, error) {
	cp, exists := app.cfgSections[section]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConfigSectionNotFound, section)
	}
	return cp, nil
}

// RegisterService adds a service to the registry.
func (app *StdApplication) RegisterService(name string, service any) error {
	if service == nil {
		return fmt.Errorf("%w: '%s'", ErrServiceNil, name)
	}
	if _, exists := app.svcRegistry[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, name)
	}

	app.svcRegistry[name] = service
	app.logger.Debug("Registered service", "name", name, "type", reflect.TypeOf(service))
	return nil
}

// GetService retrieves a service and assigns it into target, which must
// be a non-nil pointer. Resolution reads the live registry, so a lookup
// after mock substitution yields the substituted instance.
func (app *StdApplication) GetService(name string, target any) error {
	service, exists := app.svcRegistry[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	return assignService(name, service, target)
}

// Init registers and feeds module configuration, injects required
// services, and initializes modules in registration order. Modules must
// confine side effects to Start; after Init the harness still substitutes
// mocks before anything runs.
func (app *StdApplication) Init() error {
	for _, module := range app.modules {
		configurable, ok := module.(Configurable)
		if !ok {
			app.logger.Debug("Module does not implement Configurable, skipping", "module", module.Name())
			continue
		}
		if err := configurable.RegisterConfig(app); err != nil {
			return fmt.Errorf("failed to register config for module %s: %w", module.Name(), err)
		}
		app.logger.Debug("Registered module config", "module", module.Name())
	}

	if err := app.loadConfig(); err != nil {
		return fmt.Errorf("failed to load app config: %w", err)
	}

	for _, module := range app.modules {
		if _, ok := module.(ServiceAware); ok {
			if err := app.injectServices(module); err != nil {
				return fmt.Errorf("failed to inject services for module '%s': %w", module.Name(), err)
			}
		}

		if err := module.Init(app); err != nil {
			return fmt.Errorf("failed to initialize module '%s': %w", module.Name(), err)
		}

		if serviceAware, ok := module.(ServiceAware); ok {
			for _, svc := range serviceAware.ProvidesServices() {
				if err := app.RegisterService(svc.Name, svc.Instance); err != nil {
					return fmt.Errorf("module '%s' failed to register service: %w", module.Name(), err)
				}
			}
		}

		app.logger.Info("Initialized module", "module", module.Name(), "type", fmt.Sprintf("%T", module))
	}

	return nil
}

// loadConfig feeds the application-level config and every registered
// section from the configured feeders.
func (app *StdApplication) loadConfig() error {
	if app.cfgProvider != nil && app.cfgProvider.GetConfig() != nil {
		for _, feeder := range app.configFeeders {
			if err := feeder.Feed(app.cfgProvider.GetConfig()); err != nil {
				return fmt.Errorf("feeding application config: %w", err)
			}
		}
	}

	for _, section := range app.sectionOrder {
		provider := app.cfgSections[section]
		if provider == nil {
			return fmt.Errorf("%w: section '%s'", ErrConfigProviderNil, section)
		}
		if err := feedSection(app.configFeeders, section, provider.GetConfig()); err != nil {
			return err
		}
	}

	return nil
}

// RefreshSections re-feeds the config sections whose names intersect the
// changed property keys and returns the section names re-fed. Empty keys
// re-feed every section. The refresh orchestrator uses this as its
// rebind hook.
func (app *StdApplication) RefreshSections(_ context.Context, keys []string) ([]string, error) {
	affected := SectionsAffected(app.sectionOrder, keys)
	if len(keys) == 0 {
		affected = app.SectionNames()
	}

	for _, section := range affected {
		provider := app.cfgSections[section]
		if provider == nil {
			return nil, fmt.Errorf("%w: section '%s'", ErrConfigProviderNil, section)
		}
		if err := feedSection(app.configFeeders, section, provider.GetConfig()); err != nil {
			return nil, err
		}
		app.logger.Debug("Re-fed config section", "section", section)
	}

	return affected, nil
}

// injectServices resolves a module's required services and hands them to
// the module if it accepts injection.
func (app *StdApplication) injectServices(module Module) error {
	serviceAware := module.(ServiceAware)
	requiredServices := make(map[string]any)

	for _, dep := range serviceAware.RequiresServices() {
		var service any
		var serviceFound bool
		var serviceName string

		if dep.MatchByInterface && dep.SatisfiesInterface != nil && dep.SatisfiesInterface.Kind() == reflect.Interface {
			serviceName, service, serviceFound = queryByInterface(app.svcRegistry, dep.SatisfiesInterface)
			if serviceFound {
				app.logger.Debug("Found service by interface match",
					"interface", dep.SatisfiesInterface,
					"service", serviceName,
					"module", module.Name())
			}
		} else if dep.Name != "" {
			service, serviceFound = app.svcRegistry[dep.Name]
			serviceName = dep.Name
		}

		if serviceFound {
			if err := checkServiceCompatibility(service, dep); err != nil {
				return fmt.Errorf("failed to inject service '%s': %w", serviceName, err)
			}
			requiredServices[serviceName] = service
		} else if dep.Required {
			if dep.MatchByInterface {
				return fmt.Errorf("%w: no service found implementing interface %v for %s",
					ErrRequiredServiceNotFound, dep.SatisfiesInterface, module.Name())
			}
			return fmt.Errorf("%w: %s for %s", ErrRequiredServiceNotFound, dep.Name, module.Name())
		}
	}

	if injector, ok := module.(ServiceInjector); ok {
		if err := injector.InjectServices(requiredServices); err != nil {
			return fmt.Errorf("failed to inject services into module '%s': %w", module.Name(), err)
		}
	}

	return nil
}

// reinjectServices re-resolves and re-injects required services for
// every injectable module. Runs after mock substitution so modules hold
// the mocks, not the services they were initialized with.
func (app *StdApplication) reinjectServices() error {
	for _, module := range app.modules {
		if _, ok := module.(ServiceAware); !ok {
			continue
		}
		if _, ok := module.(ServiceInjector); !ok {
			continue
		}
		if err := app.injectServices(module); err != nil {
			return err
		}
	}
	return nil
}

// checkServiceCompatibility checks a resolved service against the
// dependency's interface requirement.
func checkServiceCompatibility(service any, dep ServiceDependency) error {
	if service == nil {
		return fmt.Errorf("%w: %s", ErrServiceNil, dep.Name)
	}

	if dep.SatisfiesInterface != nil && dep.SatisfiesInterface.Kind() == reflect.Interface {
		if !implementsInterface(service, dep.SatisfiesInterface) {
			return fmt.Errorf("%w: service '%s' of type %s doesn't satisfy required interface %s",
				ErrServiceWrongInterface, dep.Name, reflect.TypeOf(service), dep.SatisfiesInterface)
		}
	}

	return nil
}

// Start starts modules in registration order.
func (app *StdApplication) Start() error {
	app.mu.Lock()
	if app.started {
		app.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	app.ctx = ctx
	app.cancel = cancel
	app.started = true
	app.mu.Unlock()

	for _, module := range app.modules {
		startable, ok := module.(Startable)
		if !ok {
			app.logger.Debug("Module does not implement Startable, skipping", "module", module.Name())
			continue
		}
		app.logger.Info("Starting module", "module", module.Name())
		if err := startable.Start(ctx); err != nil {
			return fmt.Errorf("failed to start module %s: %w", module.Name(), err)
		}
	}

	return nil
}

// Stop stops modules in reverse registration order, bounded by the stop
// timeout. All modules get a stop attempt; the last error wins.
func (app *StdApplication) Stop() error {
	app.mu.Lock()
	if !app.started {
		app.mu.Unlock()
		return nil
	}
	app.started = false
	cancel := app.cancel
	app.mu.Unlock()

	ctx, timeoutCancel := context.WithTimeout(context.Background(), app.stopTimeout)
	defer timeoutCancel()

	modules := app.Modules()
	slices.Reverse(modules)

	var lastErr error
	for _, module := range modules {
		stoppable, ok := module.(Stoppable)
		if !ok {
			app.logger.Debug("Module does not implement Stoppable, skipping", "module", module.Name())
			continue
		}
		app.logger.Info("Stopping module", "module", module.Name())
		if err := stoppable.Stop(ctx); err != nil {
			app.logger.Error("Error stopping module", "module", module.Name(), "error", err)
			lastErr = err
		}
	}

	if cancel != nil {
		cancel()
	}

	return lastErr
}

// IsStarted reports whether Start has run without a matching Stop.
func (app *StdApplication) IsStarted() bool {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.started
}

// Context returns the application's run context, valid between Start and
// Stop.
func (app *StdApplication) Context() context.Context {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.ctx == nil {
		return context.Background()
	}
	return app.ctx
}

// Logger returns the application logger.
func (app *StdApplication) Logger() Logger {
	return app.logger
}

// SetLogger replaces the application logger.
func (app *StdApplication) SetLogger(logger Logger) {
	if logger != nil {
		app.logger = logger
	}
}
