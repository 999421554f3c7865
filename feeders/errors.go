package feeders

import (
	"errors"
	"fmt"
)

// Static error definitions for feeders to comply with linting rules

// Structure errors shared by the reflection-based feeders
var (
	ErrInvalidStructureType = errors.New("expected pointer to struct")
	ErrFieldCannotBeSet     = errors.New("field cannot be set")
	ErrUnsupportedFieldType = errors.New("unsupported field type")
)

// DotEnv feeder errors
var (
	ErrDotEnvInvalidLineFormat = errors.New("invalid .env line format")
)

// Map feeder errors
var (
	ErrMapValueConversion = errors.New("cannot convert property value to field type")
)

// Helper functions to create wrapped errors with context
func wrapInvalidStructureError(got interface{}) error {
	return fmt.Errorf("%w, got %T", ErrInvalidStructureType, got)
}

func wrapUnsupportedFieldTypeError(fieldPath, typeName string) error {
	return fmt.Errorf("%w: field %s has type %s", ErrUnsupportedFieldType, fieldPath, typeName)
}

func wrapFieldCannotBeSetError(fieldPath string) error {
	return fmt.Errorf("%w: %s", ErrFieldCannotBeSet, fieldPath)
}

func wrapMapConversionError(key string, value interface{}, fieldType string) error {
	return fmt.Errorf("%w: key '%s' value %T to %s", ErrMapValueConversion, key, value, fieldType)
}
