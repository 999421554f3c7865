package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
)

// EnvFeeder reads environment variables into struct fields carrying an
// `env` tag. Tag names are upper-cased before lookup, so `env:"port"`
// reads PORT.
type EnvFeeder struct {
	fieldTracker FieldTracker
}

// NewEnvFeeder creates a new EnvFeeder.
func NewEnvFeeder() *EnvFeeder {
	return &EnvFeeder{}
}

// SetFieldTracker sets the field tracker for recording field populations.
func (f *EnvFeeder) SetFieldTracker(tracker FieldTracker) {
	f.fieldTracker = tracker
}

// Feed reads environment variables and populates the provided structure.
func (f *EnvFeeder) Feed(structure interface{}) error {
	inputType := reflect.TypeOf(structure)
	if inputType == nil || inputType.Kind() != reflect.Ptr || inputType.Elem().Kind() != reflect.Struct {
		return wrapInvalidStructureError(structure)
	}

	return f.processStructFields(reflect.ValueOf(structure).Elem(), "")
}

func (f *EnvFeeder) processStructFields(rv reflect.Value, prefix string) error {
	structType := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := structType.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := fieldType.Name
		if prefix != "" {
			fieldPath = prefix + "." + fieldPath
		}

		envTag, hasTag := fieldType.Tag.Lookup("env")
		if !hasTag || envTag == "" || envTag == "-" {
			if field.Kind() == reflect.Struct {
				if err := f.processStructFields(field, fieldPath); err != nil {
					return err
				}
			} else if field.Kind() == reflect.Ptr && !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				if err := f.processStructFields(field.Elem(), fieldPath); err != nil {
					return err
				}
			}
			continue
		}

		envName := strings.ToUpper(envTag)
		envValue, exists := os.LookupEnv(envName)
		if !exists || envValue == "" {
			continue
		}

		if err := f.setFieldValue(field, fieldType, envValue, fieldPath, envName); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}

	return nil
}

func (f *EnvFeeder) setFieldValue(field reflect.Value, fieldType reflect.StructField, value, fieldPath, envName string) error {
	convertedValue, err := convertString(value, field.Type())
	if err != nil {
		return err
	}

	if !field.CanSet() {
		return wrapFieldCannotBeSetError(fieldPath)
	}

	field.Set(reflect.ValueOf(convertedValue))

	if f.fieldTracker != nil {
		f.fieldTracker.RecordFieldPopulation(FieldPopulation{
			FieldPath:  fieldPath,
			FieldName:  fieldType.Name,
			FieldType:  field.Type().String(),
			FeederType: "EnvFeeder",
			SourceType: "env",
			SourceKey:  envName,
			Value:      convertedValue,
			SearchKeys: []string{envName},
			FoundKey:   envName,
		})
	}

	return nil
}
