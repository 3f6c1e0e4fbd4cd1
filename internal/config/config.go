package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScraperConfig struct {
	UserAgent string `yaml:"userAgent"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

type RobotsConfig struct {
	Respect   bool   `yaml:"respect"`
	UserAgent string `yaml:"userAgent"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

type RodConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// BusConfig selects the Event Bus backend and, for the Redis backend,
// how many message-group shards to use.
type BusConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "redis"
	ShardCount int    `yaml:"shardCount"`
}

// CacheConfig controls the cache layer's two backends and eviction
// knobs.
type CacheConfig struct {
	Backend            string `yaml:"backend"` // "memory" or "redis"
	ExtractionTTLHours int    `yaml:"extractionTTLHours"`
	ContentTTLHours    int    `yaml:"contentTTLHours"`
	InMemoryCapacity   int    `yaml:"inMemoryCapacity"`
}

// SchedulerConfig controls the Monitor Scheduler's tick interval.
type SchedulerConfig struct {
	TickIntervalMinutes int `yaml:"tickIntervalMinutes"`
}

// ProgressConfig controls the Progress Stream's backend and per-job
// TTL.
type ProgressConfig struct {
	Backend  string `yaml:"backend"` // "memory" or "redis"
	TTLHours int    `yaml:"ttlHours"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// JobTTLConfig holds a job retention period in days. It is decoded from
// the config file but nothing reads it.
type JobTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
}

// RetentionConfig is decoded from the config file but nothing reads
// it: no code in this service deletes old jobs or extractions.
type RetentionConfig struct {
	Enabled                bool         `yaml:"enabled"`
	CleanupIntervalMinutes int          `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig `yaml:"jobs"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rod       RodConfig       `yaml:"rod"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Bus       BusConfig       `yaml:"bus"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Progress  ProgressConfig  `yaml:"progress"`
	LLM       LLMConfig       `yaml:"llm"`
	Retention RetentionConfig `yaml:"retention"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return &cfg
}

// Validate performs basic sanity checks on the loaded configuration.
// It focuses on LLM defaults so that obviously misconfigured providers
// fail fast at startup rather than during the first request.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	provider := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if provider == "" {
		return errors.New("llm.defaultProvider must be set to 'openai', 'anthropic', or 'google'")
	}

	switch provider {
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" || cfg.LLM.OpenAI.Model == "" {
			return errors.New("openai llm provider is not fully configured")
		}
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" || cfg.LLM.Anthropic.Model == "" {
			return errors.New("anthropic llm provider is not fully configured")
		}
	case "google":
		if cfg.LLM.Google.APIKey == "" || cfg.LLM.Google.Model == "" {
			return errors.New("google llm provider is not fully configured")
		}
	default:
		return fmt.Errorf("unsupported llm.defaultProvider: %s", provider)
	}

	switch cfg.Bus.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unsupported bus.backend: %s", cfg.Bus.Backend)
	}

	switch cfg.Cache.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache.backend: %s", cfg.Cache.Backend)
	}

	return nil
}
