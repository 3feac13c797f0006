package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the environment variables read by Load.
const envPrefix = "RECALLD_"

// Load builds the configuration from a YAML file and the environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (RECALLD_ENGINE_PROVIDER, RECALLD_LOGGING_LEVEL, ...)
//  2. YAML config file (path; a missing file is not an error)
//  3. Defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	RECALLD_ENGINE_PROVIDER     -> engine.provider
//	RECALLD_ENGINE_VECTOR_SIZE  -> engine.vector_size
//	RECALLD_LOGGING_LEVEL       -> logging.level
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Fall through to env + defaults.
		default:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	// Section and field split on the first underscore only, so compound
	// field names (vector_size, chunk_overlap) survive the mapping.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
