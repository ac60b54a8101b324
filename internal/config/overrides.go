package config

import (
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// LoadWithOverrides loads configuration for a start directory with an
// optional overrides map applied on top of every other source.
//
// Overrides are expected to use the same (nested) shape as the TOML
// config file, for example:
//
//	overrides := map[string]any{
//	  "verify": map[string]any{"timeout": "5m"},
//	  "source-registry": map[string]any{"uri": "registry.example.com"},
//	}
//
// Precedence: defaults → filesystem config → env → overrides.
func LoadWithOverrides(startDir string, overrides map[string]any) (*Config, error) {
	return loadWithConfigPathAndOverrides(Discover(startDir), overrides)
}

// LoadFromFileWithOverrides is LoadWithOverrides against a specific
// config file, skipping discovery.
func LoadFromFileWithOverrides(configPath string, overrides map[string]any) (*Config, error) {
	return loadWithConfigPathAndOverrides(configPath, overrides)
}

func loadWithConfigPathAndOverrides(configPath string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}
	if err := loadConfigFile(k, configPath); err != nil {
		return nil, err
	}
	if err := loadEnv(k); err != nil {
		return nil, err
	}
	if err := loadOverrides(k, overrides); err != nil {
		return nil, err
	}

	return decodeConfig(k, configPath)
}

func loadOverrides(k *koanf.Koanf, overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	return k.Load(confmap.Provider(overrides, ""), nil)
}
