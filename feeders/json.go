package feeders

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONFeeder reads JSON files.
type JSONFeeder struct {
	Path string
}

// NewJSONFeeder creates a new JSONFeeder that reads from the specified
// JSON file.
func NewJSONFeeder(filePath string) *JSONFeeder {
	return &JSONFeeder{Path: filePath}
}

// Feed reads the JSON file and populates the provided structure.
func (j *JSONFeeder) Feed(structure interface{}) error {
	data, err := os.ReadFile(j.Path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}

	if err := json.Unmarshal(data, structure); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// FeedKey reads the JSON file and extracts a specific top-level key.
func (j *JSONFeeder) FeedKey(key string, target interface{}) error {
	return feedFileKey(j, key, target, json.Marshal, json.Unmarshal, "JSON file")
}
