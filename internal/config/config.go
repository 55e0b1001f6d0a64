package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full concordd configuration, loaded from YAML with
// CONCORD_* environment overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Backends  BackendsConfig  `mapstructure:"backends"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Pools     PoolsConfig     `mapstructure:"pools"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ConsensusConfig struct {
	DefaultMaxRounds int `mapstructure:"default_max_rounds"`
	// Judge selects the convergence policy: "exact" or "levenshtein".
	Judge          string  `mapstructure:"judge"`
	JudgeThreshold float64 `mapstructure:"judge_threshold"`
}

type BackendsConfig struct {
	Ollama OllamaConfig         `mapstructure:"ollama"`
	OpenAI OpenAIConfig         `mapstructure:"openai"`
	// RateLimits maps a model identifier to its token-bucket settings.
	RateLimits map[string]RateLimit `mapstructure:"rate_limits"`
}

type OllamaConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	// Models routed to the OpenAI-compatible backend instead of Ollama.
	Models []string `mapstructure:"models"`
}

type RateLimit struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type RedisConfig struct {
	// Addr empty disables the run store.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

type AuditConfig struct {
	// Driver "sqlite3" or "postgres"; empty disables the SQL audit store.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type PoolsConfig struct {
	// File points at the model-pool preset YAML; empty disables presets.
	File string `mapstructure:"file"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads the config file named by CONCORD_CONFIG (default
// config/concord.yaml). A missing file is fine: defaults plus environment
// overrides apply.
func Load() (*Config, error) {
	path := os.Getenv("CONCORD_CONFIG")
	if path == "" {
		path = "config/concord.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CONCORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default: AutomaticEnv only surfaces CONCORD_*
	// overrides for keys viper already knows about.
	v.SetDefault("server.port", 8080)
	v.SetDefault("consensus.default_max_rounds", 3)
	v.SetDefault("consensus.judge", "exact")
	v.SetDefault("consensus.judge_threshold", 1.0)
	v.SetDefault("backends.ollama.base_url", "http://localhost:11434")
	v.SetDefault("backends.ollama.timeout_seconds", 120)
	v.SetDefault("backends.openai.api_key", "")
	v.SetDefault("backends.openai.base_url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.ttl_hours", 24)
	v.SetDefault("audit.driver", "")
	v.SetDefault("audit.dsn", "")
	v.SetDefault("pools.file", "")
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
