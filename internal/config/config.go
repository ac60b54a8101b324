// Package config provides configuration loading and discovery for
// stevedore.
//
// Configuration is loaded from multiple sources with the following
// priority (highest to lowest):
//  1. CLI flags
//  2. Environment variables (STEVEDORE_* prefix)
//  3. Config file (closest .stevedore.toml or stevedore.toml)
//  4. Built-in defaults
//
// Config file discovery walks up the filesystem from the working
// directory until a config file is found. The closest config wins
// (no merging).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/wharflab/stevedore/internal/platform"
)

// ConfigFileNames defines the config file names to search for, in priority order.
var ConfigFileNames = []string{".stevedore.toml", "stevedore.toml"}

// EnvPrefix is the prefix for environment variables.
const EnvPrefix = "STEVEDORE_"

// Config represents the complete stevedore configuration.
type Config struct {
	// SourceRegistry pins where parent images are pulled from.
	SourceRegistry RegistryConfig `json:"source-registry" koanf:"source-registry"`

	// Platforms maps logical platform names to manifest architectures.
	Platforms []PlatformConfig `json:"platforms" koanf:"platforms"`

	// Verify configures publish verification polling.
	Verify VerifyConfig `json:"verify" koanf:"verify"`

	// ConfigFile is the path to the config file that was loaded (if any).
	// This is metadata, not loaded from config.
	ConfigFile string `json:"-" koanf:"-"`
}

// RegistryConfig identifies a registry and how to talk to it.
//
// Example TOML configuration:
//
//	[source-registry]
//	uri = "registry.example.com"
//	insecure = false
type RegistryConfig struct {
	// URI is the registry host, with or without a scheme.
	URI string `json:"uri,omitempty" koanf:"uri"`

	// Insecure allows plain HTTP and unverified TLS.
	Insecure bool `json:"insecure,omitempty" koanf:"insecure"`
}

// Host returns the registry host[:port] with any URL scheme and
// trailing slash removed, suitable as the registry component of an
// image reference.
func (r RegistryConfig) Host() string {
	host := r.URI
	for _, scheme := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(host, scheme); ok {
			host = rest
			break
		}
	}
	return strings.TrimSuffix(host, "/")
}

// PlatformConfig pairs a logical platform name with the architecture
// string image manifests carry.
//
// Example TOML configuration:
//
//	[[platforms]]
//	platform = "x86_64"
//	architecture = "amd64"
type PlatformConfig struct {
	Platform     string `json:"platform" koanf:"platform"`
	Architecture string `json:"architecture" koanf:"architecture"`
}

// VerifyConfig configures how long to poll a distribution registry for
// published digests.
//
// Example TOML configuration:
//
//	[verify]
//	timeout = "20m"
//	retry-delay = "30s"
//	prefer-schema1 = false
type VerifyConfig struct {
	// Timeout is the wall-clock polling budget. Parsed with
	// time.ParseDuration at runtime.
	Timeout string `json:"timeout,omitempty" koanf:"timeout"`

	// RetryDelay is the pause between polling attempts.
	RetryDelay string `json:"retry-delay,omitempty" koanf:"retry-delay"`

	// PreferSchema1 declares that the downstream registry serves
	// schema 1 manifests, dropping the schema 2 digest expectation.
	PreferSchema1 bool `json:"prefer-schema1,omitempty" koanf:"prefer-schema1"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Platforms: []PlatformConfig{
			{Platform: "x86_64", Architecture: "amd64"},
			{Platform: "aarch64", Architecture: "arm64"},
			{Platform: "ppc64le", Architecture: "ppc64le"},
			{Platform: "s390x", Architecture: "s390x"},
		},
		Verify: VerifyConfig{
			Timeout:    "20m",
			RetryDelay: "30s",
		},
	}
}

// Mapping converts the configured platform table into a lookup mapping.
func (c *Config) Mapping() platform.Mapping {
	descriptors := make([]platform.Descriptor, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		descriptors = append(descriptors, platform.Descriptor{
			Platform:     p.Platform,
			Architecture: p.Architecture,
		})
	}
	return platform.NewMapping(descriptors)
}

// Load loads configuration discovered from a start directory.
// It discovers the closest config file, loads it, and applies
// environment variable overrides.
func Load(startDir string) (*Config, error) {
	return loadWithConfigPath(Discover(startDir))
}

// LoadFromFile loads configuration from a specific config file path.
// Unlike Load, it does not perform config discovery.
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithConfigPath(configPath)
}

// loadWithConfigPath is an internal helper that loads config with an optional config file path.
func loadWithConfigPath(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	// 2. Load config file if provided
	if err := loadConfigFile(k, configPath); err != nil {
		return nil, err
	}

	// 3. Load environment variables (STEVEDORE_* prefix)
	// STEVEDORE_VERIFY_RETRY_DELAY -> verify.retry-delay
	if err := loadEnv(k); err != nil {
		return nil, err
	}

	return decodeConfig(k, configPath)
}

func decodeConfig(k *koanf.Koanf, configPath string) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = configPath
	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	return k.Load(structs.Provider(Default(), "koanf"), nil)
}

func loadConfigFile(k *koanf.Koanf, configPath string) error {
	if configPath == "" {
		return nil
	}
	return k.Load(file.Provider(configPath), toml.Parser())
}

func loadEnv(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKeyTransform,
	}), nil)
}

// knownHyphenatedKeys maps dot-separated patterns to their hyphenated
// equivalents, repairing the nesting split that underscores in key
// names would otherwise produce.
var knownHyphenatedKeys = map[string]string{
	"source.registry": "source-registry",
	"retry.delay":     "retry-delay",
	"prefer.schema1":  "prefer-schema1",
}

var allowedEnvTopLevelKeys = map[string]struct{}{
	"source-registry": {},
	"verify":          {},
}

// envKeyTransform converts environment variable names to config keys.
// STEVEDORE_VERIFY_TIMEOUT -> verify.timeout
// STEVEDORE_SOURCE_REGISTRY_URI -> source-registry.uri
func envKeyTransform(k, v string) (string, any) {
	s := strings.TrimPrefix(k, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", ".")
	for pattern, replacement := range knownHyphenatedKeys {
		s = strings.ReplaceAll(s, pattern, replacement)
	}

	topLevel := s
	if before, _, ok := strings.Cut(s, "."); ok {
		topLevel = before
	}
	if _, ok := allowedEnvTopLevelKeys[topLevel]; !ok {
		return "", nil
	}

	return s, v
}

// Discover finds the closest config file at or above a start directory.
// It walks up the directory tree, checking for config files at each
// level. Returns empty string if no config file is found.
func Discover(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}

	for {
		// Check each config file name in priority order
		for _, name := range ConfigFileNames {
			configPath := filepath.Join(dir, name)
			if fileExists(configPath) {
				return configPath
			}
		}

		// Move up to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return ""
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
