// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Supported provider adapters.
const (
	ProviderTypeOpenAI    = "openai"
	ProviderTypeAnthropic = "anthropic"
)

// Stream modes for the dispatcher.
const (
	StreamModeEager    = "eager"
	StreamModeBuffered = "buffered"
)

// Analysis registry drivers.
const (
	RegistryDriverMemory = "memory"
	RegistryDriverRedis  = "redis"
)

// providerEntry is the on-disk shape of a resilience.providers item.
type providerEntry struct {
	Name      string        `mapstructure:"name"`
	Type      string        `mapstructure:"type"`
	Priority  int32         `mapstructure:"priority"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	ProxyURL  string        `mapstructure:"proxy_url"`
	MaxTokens int32         `mapstructure:"max_tokens"`
	RPMLimit  int32         `mapstructure:"rpm_limit"`
	TPMLimit  int32         `mapstructure:"tpm_limit"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with RELAYLANE_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// The provider list can only be set from the config file; api keys for
// individual providers are read from the environment variable named by
// api_key_env when api_key is empty.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RELAYLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "RELAYLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "RELAYLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "RELAYLANE_DATA_REDIS_PASSWORD")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var entries []providerEntry
	if err := v.UnmarshalKey("resilience.providers", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse resilience.providers: %w", err)
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
			Grpc: &Server_GRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: durationpb.New(v.GetDuration("server.grpc.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				Db:           v.GetInt32("data.redis.db"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			Registry: &Data_Registry{
				Driver:    v.GetString("data.registry.driver"),
				KeyPrefix: v.GetString("data.registry.key_prefix"),
				Ttl:       durationpb.New(v.GetDuration("data.registry.ttl")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Resilience: &Resilience{
			Breaker: &Breaker{
				FailureThreshold:    v.GetInt32("resilience.breaker.failure_threshold"),
				RecoveryTimeout:     durationpb.New(v.GetDuration("resilience.breaker.recovery_timeout")),
				HalfOpenMaxAttempts: v.GetInt32("resilience.breaker.half_open_max_attempts"),
				ResetTimeout:        durationpb.New(v.GetDuration("resilience.breaker.reset_timeout")),
			},
			Dispatcher: &Dispatcher{
				FallbackEnabled: v.GetBool("resilience.dispatcher.fallback_enabled"),
				StreamMode:      strings.ToLower(v.GetString("resilience.dispatcher.stream_mode")),
				ProviderTimeout: durationpb.New(v.GetDuration("resilience.dispatcher.provider_timeout")),
			},
			Orchestrator: &Orchestrator{
				MaxConcurrentAnalyses: v.GetInt32("resilience.orchestrator.max_concurrent_analyses"),
				MaxParallelTasks:      v.GetInt32("resilience.orchestrator.max_parallel_tasks"),
				TaskTimeout:           durationpb.New(v.GetDuration("resilience.orchestrator.task_timeout")),
				Retention:             durationpb.New(v.GetDuration("resilience.orchestrator.retention")),
				SweepInterval:         durationpb.New(v.GetDuration("resilience.orchestrator.sweep_interval")),
			},
		},
	}

	for _, e := range entries {
		p := &Provider{
			Name:      e.Name,
			Type:      strings.ToLower(e.Type),
			Priority:  e.Priority,
			BaseUrl:   e.BaseURL,
			Model:     e.Model,
			ApiKey:    e.APIKey,
			ApiKeyEnv: e.APIKeyEnv,
			ProxyUrl:  e.ProxyURL,
			MaxTokens: e.MaxTokens,
			RpmLimit:  e.RPMLimit,
			TpmLimit:  e.TPMLimit,
		}
		if e.Timeout > 0 {
			p.Timeout = durationpb.New(e.Timeout)
		}
		bc.Resilience.Providers = append(bc.Resilience.Providers, p)
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 10*time.Minute)

	// Data defaults
	// data.database.source is optional, the audit trail is disabled without it
	v.SetDefault("data.database.driver", "mysql")

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.registry.driver", RegistryDriverMemory)
	v.SetDefault("data.registry.key_prefix", "analysis")
	v.SetDefault("data.registry.ttl", 24*time.Hour)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Resilience defaults
	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.recovery_timeout", 60*time.Second)
	v.SetDefault("resilience.breaker.half_open_max_attempts", 3)
	v.SetDefault("resilience.breaker.reset_timeout", 300*time.Second)

	v.SetDefault("resilience.dispatcher.fallback_enabled", true)
	v.SetDefault("resilience.dispatcher.stream_mode", StreamModeEager)
	v.SetDefault("resilience.dispatcher.provider_timeout", 60*time.Second)

	v.SetDefault("resilience.orchestrator.max_concurrent_analyses", 10)
	v.SetDefault("resilience.orchestrator.max_parallel_tasks", 0)
	v.SetDefault("resilience.orchestrator.task_timeout", 120*time.Second)
	v.SetDefault("resilience.orchestrator.retention", 24*time.Hour)
	v.SetDefault("resilience.orchestrator.sweep_interval", 10*time.Minute)
}

// Validate checks that all configuration fields are present and valid.
// It returns an error listing every invalid field.
func Validate(bc *Bootstrap) error {
	var invalid []string

	if bc.Data != nil && bc.Data.Registry != nil {
		switch bc.Data.Registry.Driver {
		case RegistryDriverMemory, RegistryDriverRedis:
		default:
			invalid = append(invalid, fmt.Sprintf("data.registry.driver (%q)", bc.Data.Registry.Driver))
		}
	}

	r := bc.Resilience
	if r == nil || r.Breaker == nil || r.Dispatcher == nil || r.Orchestrator == nil {
		return fmt.Errorf("invalid configuration fields: resilience")
	}

	if r.Breaker.FailureThreshold < 1 {
		invalid = append(invalid, "resilience.breaker.failure_threshold (must be >= 1)")
	}
	if r.Breaker.HalfOpenMaxAttempts < 1 {
		invalid = append(invalid, "resilience.breaker.half_open_max_attempts (must be >= 1)")
	}
	if r.Breaker.RecoveryTimeout.AsDuration() < 0 {
		invalid = append(invalid, "resilience.breaker.recovery_timeout (must not be negative)")
	}

	switch r.Dispatcher.StreamMode {
	case StreamModeEager, StreamModeBuffered:
	default:
		invalid = append(invalid, fmt.Sprintf("resilience.dispatcher.stream_mode (%q)", r.Dispatcher.StreamMode))
	}

	if r.Orchestrator.MaxConcurrentAnalyses < 1 {
		invalid = append(invalid, "resilience.orchestrator.max_concurrent_analyses (must be >= 1)")
	}
	if r.Orchestrator.MaxParallelTasks < 0 {
		invalid = append(invalid, "resilience.orchestrator.max_parallel_tasks (must not be negative)")
	}
	if r.Orchestrator.TaskTimeout.AsDuration() <= 0 {
		invalid = append(invalid, "resilience.orchestrator.task_timeout (must be positive)")
	}

	seen := make(map[string]bool, len(r.Providers))
	for i, p := range r.Providers {
		if p.Name == "" {
			invalid = append(invalid, fmt.Sprintf("resilience.providers[%d].name", i))
			continue
		}
		if seen[p.Name] {
			invalid = append(invalid, fmt.Sprintf("resilience.providers[%d].name (duplicate %q)", i, p.Name))
		}
		seen[p.Name] = true

		switch p.Type {
		case ProviderTypeOpenAI, ProviderTypeAnthropic:
		default:
			invalid = append(invalid, fmt.Sprintf("resilience.providers[%d].type (%q)", i, p.Type))
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration fields: %s", strings.Join(invalid, ", "))
	}

	return nil
}
