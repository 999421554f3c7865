package modtest

import (
	"fmt"
	"reflect"
	"sort"
)

// ServiceRegistry holds the services owned by an application context,
// keyed by service name.
type ServiceRegistry map[string]any

// AppRegistry is implemented by anything exposing a service registry.
type AppRegistry interface {
	SvcRegistry() ServiceRegistry
}

// RegisterService adds a typed service to the registry, overwriting any
// existing entry with the same name.
func RegisterService[T any](app AppRegistry, name string, service *T) {
	app.SvcRegistry()[name] = service
}

// GetService retrieves a typed service by name.
func GetService[T any](app AppRegistry, name string) (*T, bool) {
	registry := app.SvcRegistry()
	if registry == nil {
		return nil, false
	}

	svc, exists := registry[name].(*T)
	if !exists {
		return nil, exists
	}
	return svc, exists
}

// assignService assigns a resolved service into target using the same
// matching rules the container applies during injection:
//
//  1. target is an interface the service implements
//  2. target is a struct with a settable embedded interface field the
//     service implements
//  3. direct assignment, or pointer dereference when the service is a
//     pointer to the target type
func assignService(name string, service any, target any) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return ErrTargetNotPointer
	}

	if !targetValue.Elem().IsValid() {
		return ErrTargetValueInvalid
	}

	serviceType := reflect.TypeOf(service)
	targetType := targetValue.Elem().Type()

	if targetType.Kind() == reflect.Interface && serviceType.Implements(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	}

	if targetType.Kind() == reflect.Struct {
		for i := 0; i < targetType.NumField(); i++ {
			field := targetType.Field(i)
			if field.Type.Kind() == reflect.Interface && serviceType.Implements(field.Type) {
				fieldValue := targetValue.Elem().Field(i)
				if fieldValue.CanSet() {
					fieldValue.Set(reflect.ValueOf(service))
					return nil
				}
			}
		}
	}

	if serviceType.AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	} else if serviceType.Kind() == reflect.Ptr && serviceType.Elem().AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service).Elem())
		return nil
	}

	return fmt.Errorf("%w: service '%s' of type %s cannot be assigned to %s",
		ErrServiceIncompatible, name, serviceType, targetType)
}

// queryByInterface returns the name of the first registered service whose
// type implements iface. Names are scanned in sorted order so resolution
// is deterministic across runs.
func queryByInterface(registry ServiceRegistry, iface reflect.Type) (string, any, bool) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return "", nil, false
	}

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := registry[name]
		if svc == nil {
			continue
		}
		svcType := reflect.TypeOf(svc)
		if svcType.Implements(iface) ||
			(svcType.Kind() == reflect.Ptr && svcType.Elem().Implements(iface)) {
			return name, svc, true
		}
	}
	return "", nil, false
}

// implementsInterface reports whether instance (or a pointer to it)
// satisfies iface.
func implementsInterface(instance any, iface reflect.Type) bool {
	if instance == nil || iface == nil || iface.Kind() != reflect.Interface {
		return false
	}
	t := reflect.TypeOf(instance)
	return t.Implements(iface) || (t.Kind() == reflect.Ptr && t.Elem().Implements(iface))
}

// InterfaceType returns the reflect.Type of the interface T. It is a
// convenience for building ServiceDependency values:
//
//	modtest.ServiceDependency{
//		MatchByInterface:   true,
//		SatisfiesInterface: modtest.InterfaceType[UserStore](),
//	}
func InterfaceType[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
