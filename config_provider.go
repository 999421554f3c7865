package modtest

import (
	"fmt"

	"github.com/GoCodeAlone/modtest/feeders"
)

// ConfigProvider supplies configuration for a registered section.
type ConfigProvider interface {
	// GetConfig returns the configuration object, typically a pointer
	// to a struct carrying `yaml`/`json`/`toml`/`env` tags.
	GetConfig() any
}

// StdConfigProvider wraps a plain config struct as a ConfigProvider.
type StdConfigProvider struct {
	cfg any
}

// GetConfig returns the wrapped configuration object.
func (s *StdConfigProvider) GetConfig() any {
	return s.cfg
}

// NewStdConfigProvider wraps cfg as a ConfigProvider.
func NewStdConfigProvider(cfg any) *StdConfigProvider {
	return &StdConfigProvider{cfg: cfg}
}

// feedSection runs every configured feeder against a single section's
// config struct. Plain feeders see the whole structure; complex feeders
// are scoped to the section name so dotted property keys land in the
// right struct.
func feedSection(feeds []feeders.Feeder, section string, cfg any) error {
	if cfg == nil {
		return fmt.Errorf("%w: section '%s'", ErrConfigNil, section)
	}

	for _, feeder := range feeds {
		if complexFeeder, ok := feeder.(feeders.ComplexFeeder); ok {
			if err := complexFeeder.FeedKey(section, cfg); err != nil {
				return fmt.Errorf("feeding section '%s': %w", section, err)
			}
			continue
		}
		if err := feeder.Feed(cfg); err != nil {
			return fmt.Errorf("feeding section '%s': %w", section, err)
		}
	}
	return nil
}
