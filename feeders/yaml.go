package feeders

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads YAML files.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified
// YAML file.
func NewYamlFeeder(filePath string) *YamlFeeder {
	return &YamlFeeder{Path: filePath}
}

// Feed reads the YAML file and populates the provided structure.
func (y *YamlFeeder) Feed(structure interface{}) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}

	if err := yaml.Unmarshal(data, structure); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return nil
}

// FeedKey reads the YAML file and extracts a specific top-level key.
func (y *YamlFeeder) FeedKey(key string, target interface{}) error {
	return feedFileKey(y, key, target, yaml.Marshal, yaml.Unmarshal, "YAML file")
}
