// Package feeders provides configuration feeders that populate config
// structs from environment variables, property maps, and YAML, JSON,
// TOML, and .env files.
package feeders

import "fmt"

// Feeder populates a configuration structure from some source.
type Feeder interface {
	Feed(structure interface{}) error
}

// ComplexFeeder additionally supports feeding a single named section,
// scoping the source to keys under that section.
type ComplexFeeder interface {
	Feeder
	FeedKey(key string, target interface{}) error
}

// feedFileKey extracts a single top-level key from a file-backed feeder
// and decodes it into target by remarshalling the subtree.
func feedFileKey(
	feeder Feeder,
	key string,
	target interface{},
	marshalFunc func(interface{}) ([]byte, error),
	unmarshalFunc func([]byte, interface{}) error,
	fileType string,
) error {
	var allData map[string]interface{}

	if err := feeder.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read %s: %w", fileType, err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	valueBytes, err := marshalFunc(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", fileType, err)
	}

	if err = unmarshalFunc(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", fileType, err)
	}

	return nil
}
