package modtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modtest/feeders"
)

func TestStdConfigProviderReturnsWrappedConfig(t *testing.T) {
	cfg := &greeterConfig{Prefix: "Hello"}
	provider := NewStdConfigProvider(cfg)

	assert.Same(t, cfg, provider.GetConfig())
}

func TestFeedSectionScopesComplexFeeders(t *testing.T) {
	cfg := &greeterConfig{}
	feeds := []feeders.Feeder{
		feeders.NewMapFeeder(map[string]any{
			"greeter.prefix":  "Servus",
			"greeter.timeout": "3s",
			"other.prefix":    "untouched",
		}),
	}

	require.NoError(t, feedSection(feeds, "greeter", cfg))
	assert.Equal(t, "Servus", cfg.Prefix)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestFeedSectionRunsPlainFeeders(t *testing.T) {
	type sectionConfig struct {
		Prefix string `env:"GREETCFG_PREFIX"`
	}
	t.Setenv("GREETCFG_PREFIX", "FromEnv")

	cfg := &sectionConfig{}
	require.NoError(t, feedSection([]feeders.Feeder{feeders.NewEnvFeeder()}, "greeter", cfg))
	assert.Equal(t, "FromEnv", cfg.Prefix)
}

func TestFeedSectionNilConfig(t *testing.T) {
	err := feedSection(nil, "greeter", nil)

	require.ErrorIs(t, err, ErrConfigNil)
	assert.Contains(t, err.Error(), "greeter")
}

func TestFeedSectionWrapsFeederErrors(t *testing.T) {
	cfg := &greeterConfig{}
	feeds := []feeders.Feeder{
		feeders.NewMapFeeder(map[string]any{"greeter.timeout": "never"}),
	}

	err := feedSection(feeds, "greeter", cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "feeding section 'greeter'")
}
