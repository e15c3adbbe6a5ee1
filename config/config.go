// Package config provides YAML-based configuration for backends and stores,
// with environment variable expansion and referential validation.
package config

import (
	"errors"
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Config declares named backends and the stores scoped onto them. Stores
// reference backends by name; several stores may share one backend.
type Config struct {
	Backends map[string]BackendConfig `yaml:"backends"`
	Stores   map[string]StoreConfig   `yaml:"stores"`
}

// BackendConfig selects a backend type and carries its type-specific
// options verbatim; the registry decodes them when the backend is built.
type BackendConfig struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// StoreConfig scopes a store onto a named backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	RootPath string `yaml:"root_path"`
}

// Validate checks structural completeness and that every store references a
// declared backend.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backends, validation.Required),
	); err != nil {
		return err
	}
	for name, backend := range c.Backends {
		if err := backend.Validate(); err != nil {
			return fmt.Errorf("backend %q: %w", name, err)
		}
	}
	for name, store := range c.Stores {
		if err := store.Validate(); err != nil {
			return fmt.Errorf("store %q: %w", name, err)
		}
		if _, ok := c.Backends[store.Backend]; !ok {
			return fmt.Errorf("store %q references unknown backend %q", name, store.Backend)
		}
	}
	return nil
}

// Validate validates the backend declaration.
func (c *BackendConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Type, validation.Required),
	)
}

// Validate validates the store declaration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required),
	)
}

// Load loads configuration from a YAML file with environment variable
// expansion. Targets implementing Validator are validated after decoding.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// LoadWithEnvFile loads a .env file into the process environment before
// loading the config, so ${VAR} references in the YAML resolve from it. A
// missing .env file is not an error.
func LoadWithEnvFile[T any](filename, envFile string, target *T) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	return Load(filename, target)
}

// MustLoad loads configuration and panics on failure.
func MustLoad[T any](filename string, target *T) {
	if err := Load(filename, target); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
}
