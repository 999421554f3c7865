package feeders

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// DotEnvFeeder reads a .env file and populates struct fields carrying an
// `env` tag. Parsed values never leak into the process environment;
// variables already set in the OS environment take precedence over the
// file.
type DotEnvFeeder struct {
	Path         string
	fieldTracker FieldTracker
	envVars      map[string]string
}

// NewDotEnvFeeder creates a new DotEnvFeeder that reads from the
// specified .env file.
func NewDotEnvFeeder(filePath string) *DotEnvFeeder {
	return &DotEnvFeeder{
		Path:    filePath,
		envVars: make(map[string]string),
	}
}

// SetFieldTracker sets the field tracker for recording field populations.
func (f *DotEnvFeeder) SetFieldTracker(tracker FieldTracker) {
	f.fieldTracker = tracker
}

// Feed parses the .env file and populates the provided structure.
func (f *DotEnvFeeder) Feed(structure interface{}) error {
	if err := f.parseDotEnvFile(); err != nil {
		return fmt.Errorf("failed to parse .env file: %w", err)
	}

	structValue := reflect.ValueOf(structure)
	if structValue.Kind() != reflect.Ptr || structValue.Elem().Kind() != reflect.Struct {
		return wrapInvalidStructureError(structure)
	}

	return f.processStructFields(structValue.Elem(), "")
}

// parseDotEnvFile parses the .env file into the envVars map.
func (f *DotEnvFeeder) parseDotEnvFile() error {
	f.envVars = make(map[string]string)

	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := f.parseEnvLine(line, lineNum); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

func (f *DotEnvFeeder) parseEnvLine(line string, lineNum int) error {
	idx := strings.Index(line, "=")
	if idx == -1 {
		return fmt.Errorf("%w at line %d: %s", ErrDotEnvInvalidLineFormat, lineNum, line)
	}

	key := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])

	// Remove surrounding quotes if present
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}

	f.envVars[key] = value
	return nil
}

// lookup returns the effective value for key, with the OS environment
// taking precedence over the parsed file.
func (f *DotEnvFeeder) lookup(key string) (string, string, bool) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value, "env", true
	}
	if value, exists := f.envVars[key]; exists {
		return value, "dot_env_file", true
	}
	return "", "", false
}

func (f *DotEnvFeeder) processStructFields(rv reflect.Value, prefix string) error {
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

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			if field.Kind() == reflect.Struct {
				if err := f.processStructFields(field, fieldPath); err != nil {
					return err
				}
			}
			continue
		}

		envKey := strings.ToUpper(envTag)
		value, sourceType, exists := f.lookup(envKey)
		if !exists {
			continue
		}

		convertedValue, err := convertString(value, field.Type())
		if err != nil {
			return fmt.Errorf("failed to convert value '%s' for field %s: %w", value, fieldPath, err)
		}
		field.Set(reflect.ValueOf(convertedValue))

		if f.fieldTracker != nil {
			f.fieldTracker.RecordFieldPopulation(FieldPopulation{
				FieldPath:  fieldPath,
				FieldName:  fieldType.Name,
				FieldType:  field.Type().String(),
				FeederType: "DotEnvFeeder",
				SourceType: sourceType,
				SourceKey:  envKey,
				Value:      convertedValue,
				SearchKeys: []string{envKey},
				FoundKey:   envKey,
			})
		}
	}

	return nil
}
