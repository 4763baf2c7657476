package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/rubric/internal/logging"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix scopes environment overrides so unrelated variables in the
	// process environment never leak into the config tree.
	envPrefix = "RUBRIC_"
)

// LoadFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RUBRIC_LOGGING_LEVEL, RUBRIC_STORE_DRIVER, etc.)
//  2. YAML config file
//  3. Defaults
//
// Environment variables are uppercased with underscore separators. The
// transformer splits on the first underscore after the prefix, so the
// section name must be a single word:
//
//	RUBRIC_LOGGING_LEVEL      -> logging.level
//	RUBRIC_STORE_ASYNC_BUFFER -> store.async_buffer
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := LoadBytes(content)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadBytes parses YAML config content, applies environment overrides and
// defaults, and validates the result.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// RUBRIC_LOGGING_LEVEL -> logging.level
		// RUBRIC_STORE_ASYNC_BUFFER -> store.async_buffer
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	defaults := logging.NewDefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Format
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = defaults.Fields
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}

	for name, ec := range cfg.Environments {
		if ec.Workflow != "" && ec.WorkflowWeight == 0 {
			ec.WorkflowWeight = 1
			cfg.Environments[name] = ec
		}
	}
}
