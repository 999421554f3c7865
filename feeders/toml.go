package feeders

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads TOML files.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified
// TOML file.
func NewTomlFeeder(filePath string) *TomlFeeder {
	return &TomlFeeder{Path: filePath}
}

// Feed reads the TOML file and populates the provided structure.
func (t *TomlFeeder) Feed(structure interface{}) error {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return fmt.Errorf("failed to read TOML file: %w", err)
	}

	if err := toml.Unmarshal(data, structure); err != nil {
		return fmt.Errorf("failed to unmarshal TOML: %w", err)
	}

	return nil
}

// FeedKey reads the TOML file and extracts a specific top-level key.
// The key must name a TOML table; scalar top-level keys cannot be
// remarshalled on their own.
func (t *TomlFeeder) FeedKey(key string, target interface{}) error {
	return feedFileKey(t, key, target, tomlMarshal, toml.Unmarshal, "TOML file")
}

func tomlMarshal(v interface{}) ([]byte, error) {
	data, err := toml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("toml marshal: %w", err)
	}
	return data, nil
}
