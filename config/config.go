// Package config provides environment-driven configuration for the two
// pipeline services. Both are 12-factor processes: no flags are required,
// every knob is an environment variable, and missing required values fail
// fast before any stream subscription opens.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig provides utilities for loading configuration from environment variables
type EnvConfig struct {
	prefix string // Optional prefix for all environment variables
}

// NewEnvConfig creates a new environment configuration loader
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{
		prefix: prefix,
	}
}

// GetString retrieves a string value from environment with optional default
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a comma-separated string slice from environment
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// buildKey builds the full environment variable key with optional prefix
func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// PipelineConfig contains the settings both services share.
type PipelineConfig struct {
	DatabaseURL        string
	SubstreamsEndpoint string
	Network            string
	Blocklist          []string
	LogLevel           string
	LogFormat          string
}

// LoadPipelineConfig loads the shared settings. DATABASE_URL and
// SUBSTREAMS_ENDPOINT are required; a missing value panics so the process
// dies before opening any subscription.
func LoadPipelineConfig() PipelineConfig {
	env := NewEnvConfig("")
	return PipelineConfig{
		DatabaseURL:        env.MustGetString("DATABASE_URL"),
		SubstreamsEndpoint: env.MustGetString("SUBSTREAMS_ENDPOINT"),
		Network:            env.GetString("NETWORK", "geo"),
		Blocklist:          env.GetStringSlice("DAO_BLOCKLIST", nil),
		LogLevel:           env.GetString("LOG_LEVEL", "info"),
		LogFormat:          env.GetString("LOG_FORMAT", "text"),
	}
}

// ResolverConfig contains the Content Resolver's settings.
type ResolverConfig struct {
	PipelineConfig
	IPFSGateway  string
	RedisURL     string // optional: enables the cross-replica fetch lock
	Concurrency  int
	FetchTimeout time.Duration
}

// LoadResolverConfig loads the resolver settings. IPFS_GATEWAY is required.
func LoadResolverConfig() ResolverConfig {
	env := NewEnvConfig("")
	return ResolverConfig{
		PipelineConfig: LoadPipelineConfig(),
		IPFSGateway:    env.MustGetString("IPFS_GATEWAY"),
		RedisURL:       env.GetString("REDIS_URL", ""),
		Concurrency:    env.GetInt("RESOLVER_CONCURRENCY", 20),
		FetchTimeout:   env.GetDuration("IPFS_FETCH_TIMEOUT", 30*time.Second),
	}
}

// IndexerConfig contains the Indexer's settings.
type IndexerConfig struct {
	PipelineConfig
	MaxConnections int
}

// LoadIndexerConfig loads the indexer settings.
func LoadIndexerConfig() IndexerConfig {
	return IndexerConfig{
		PipelineConfig: LoadPipelineConfig(),
		MaxConnections: NewEnvConfig("").GetInt("DATABASE_MAX_CONNECTIONS", 20),
	}
}

// Validator provides configuration validation utilities
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]string, 0),
	}
}

// RequireString validates that a string field is not empty
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireURL validates that a string is a valid URL
func (v *Validator) RequireURL(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		v.errors = append(v.errors, fmt.Sprintf("%s must be a valid URL (http:// or https://)", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []string {
	return v.errors
}

// ErrorString returns all validation errors as a single string
func (v *Validator) ErrorString() string {
	if len(v.errors) == 0 {
		return ""
	}
	return strings.Join(v.errors, "; ")
}

// Validate runs validation and returns error if invalid
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}

// Validate checks the resolver config beyond required-var presence.
func (c ResolverConfig) Validate() error {
	v := NewValidator()
	v.RequireURL("IPFS_GATEWAY", c.IPFSGateway)
	v.RequireString("NETWORK", c.Network)
	v.RequirePositiveInt("RESOLVER_CONCURRENCY", c.Concurrency)
	v.RequireOneOf("LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"})
	return v.Validate()
}

// Validate checks the indexer config beyond required-var presence.
func (c IndexerConfig) Validate() error {
	v := NewValidator()
	v.RequireString("NETWORK", c.Network)
	v.RequirePositiveInt("DATABASE_MAX_CONNECTIONS", c.MaxConnections)
	v.RequireOneOf("LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"})
	return v.Validate()
}
