package modtest

import (
	"errors"
)

// Harness errors
var (
	// Builder errors
	ErrLoggerNotSet        = errors.New("logger not set")
	ErrApplicationNil      = errors.New("application is nil")
	ErrContextClosed       = errors.New("test context already closed")
	ErrModuleNil           = errors.New("module cannot be nil")
	ErrModuleNameEmpty     = errors.New("module name cannot be empty")
	ErrDuplicateModuleName = errors.New("module already registered")

	// Configuration errors
	ErrConfigSectionNotFound  = errors.New("config section not found")
	ErrConfigProviderNil      = errors.New("config provider is nil")
	ErrConfigNil              = errors.New("config is nil")
	ErrPropertyKeyEmpty       = errors.New("property key cannot be empty")
	ErrPropertySourceNotFound = errors.New("property source not found")
	ErrPropertySourceFormat   = errors.New("unsupported property source format")

	// Service registry errors
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")
	ErrServiceNil               = errors.New("service is nil")
	ErrRequiredServiceNotFound  = errors.New("required service not found")
	ErrServiceWrongInterface    = errors.New("service does not satisfy required interface")

	// Service injection errors
	ErrTargetNotPointer    = errors.New("target must be a non-nil pointer")
	ErrTargetValueInvalid  = errors.New("target value is invalid")
	ErrServiceIncompatible = errors.New("service cannot be assigned to target")

	// Mock substitution errors
	ErrMockAlreadyDeclared      = errors.New("mock already declared for service")
	ErrMockTargetUnresolvable   = errors.New("mock target does not resolve to a registered service")
	ErrMockFactoryNil           = errors.New("mock factory cannot be nil")
	ErrMockFactoryReturnedNil   = errors.New("mock factory returned nil")
	ErrMockInterfaceUnsatisfied = errors.New("mock does not satisfy declared interface")

	// Refresh errors
	ErrRefreshInProgress          = errors.New("refresh already in progress")
	ErrRefreshSubscriberExists    = errors.New("refresh subscriber already registered")
	ErrRefreshSubscriberMissing   = errors.New("refresh subscriber not registered")
	ErrRefreshSubscriberNil       = errors.New("refresh subscriber cannot be nil")
	ErrRefreshSubscriberNameEmpty = errors.New("refresh subscriber name cannot be empty")

	// Server errors
	ErrServerNotConfigured   = errors.New("no test server configured")
	ErrServerExecutableEmpty = errors.New("server executable path is empty")
	ErrServerNotReady        = errors.New("server did not become ready")
	ErrHealthScheduleInvalid = errors.New("invalid health watch schedule")

	// Observer errors
	ErrObserverNil = errors.New("observer cannot be nil")
)
