// Package config loads gpucep run configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gpucep/internal/engine"
)

// DefaultRedisPrefix namespaces pub/sub channels when redis.prefix is unset.
const DefaultRedisPrefix = "gpucep"

// Config represents a gpucep.yml file.
//
// Fields left out of the file keep their Default values; an explicit zero
// (for example max_recursion_depth: 0) is kept as zero.
type Config struct {
	Processors        int           `yaml:"processors" validate:"min=1,max=1024"`
	MaxRecursionDepth int           `yaml:"max_recursion_depth" validate:"min=0,max=64"`
	DispatchTimeout   time.Duration `yaml:"dispatch_timeout" validate:"gt=0"`
	MaxLineageEvents  int           `yaml:"max_lineage_events" validate:"min=0"`
	Database          string        `yaml:"database,omitempty"`
	Redis             *RedisConfig  `yaml:"redis,omitempty"`
}

// RedisConfig enables the Redis result publisher.
type RedisConfig struct {
	Addr   string `yaml:"addr" validate:"required,hostname_port"`
	Prefix string `yaml:"prefix,omitempty" validate:"omitempty,printascii"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Processors:        min(runtime.NumCPU(), 1024),
		MaxRecursionDepth: engine.DefaultMaxRecursionDepth,
		DispatchTimeout:   engine.DefaultDispatchTimeout,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and fills in the Redis prefix.
func (c *Config) Validate() error {
	if c.Redis != nil && c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}
	return nil
}

// describe turns validator errors into one line per field.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldName(fe.Namespace())
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s), got %v", field, fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %q, got %v", field, fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldName maps "Config.Redis.Addr" to the YAML path "redis.addr".
func fieldName(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load reads and validates a YAML config file over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config bytes over Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// EngineOptions translates the configuration into engine options.
func (c *Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithMaxRecursionDepth(c.MaxRecursionDepth),
		engine.WithDispatchTimeout(c.DispatchTimeout),
		engine.WithMaxLineageEvents(c.MaxLineageEvents),
	}
}
