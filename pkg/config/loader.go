package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges and validates the configuration.
//
// Steps performed:
//  1. Read remedy.yaml (missing file means pure defaults)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Strict-decode the YAML (unknown fields are rejected)
//  4. Merge user values over built-in defaults
//  5. Validate with field-path error messages
func Initialize(path string) (*Config, error) {
	log := slog.With("config_file", path)
	log.Info("Initializing configuration")

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("Configuration file not found, using defaults")
	case err != nil:
		return nil, NewLoadError(path, err)
	default:
		user, err := parse(data)
		if err != nil {
			return nil, NewLoadError(path, err)
		}
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"packs_dir", cfg.Packs.Dir,
		"tenant_count", len(cfg.Tenants),
		"embedding_provider", cfg.Embedding.Provider)
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	// ExpandEnv passes the original bytes through on template errors so
	// plain YAML keeps working.
	data = ExpandEnv(data)

	var cfg Config
	if len(bytes.TrimSpace(data)) == 0 {
		return &cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
