// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"research-client/internal/domain/model"
)

// MinTokenSkew is the smallest safety margin subtracted from a credential's expiry.
const MinTokenSkew = 60 * time.Second

type RuntimeConfig struct {
	Dev bool
}

type RemoteConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	TokenLifetime   time.Duration `yaml:"token_lifetime"` // assumed when the service declares none
	TokenSkew       time.Duration `yaml:"token_skew"`
	Timeout         time.Duration `yaml:"timeout"`
	Model           string        `yaml:"model"`
	Environment     string        `yaml:"environment"`
	MaxIterations   int           `yaml:"max_iterations"`
	Interaction     string        `yaml:"interaction"`      // default executor for research jobs
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent short requests
}

type JobsConfig struct {
	Live             bool          `yaml:"live"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxPollAttempts  int           `yaml:"max_poll_attempts"`
	DemoDelay        time.Duration `yaml:"demo_delay"`
	StreamReconnects int           `yaml:"stream_reconnects"`
}

type ChatConfig struct {
	HistoryLimit int           `yaml:"history_limit"` // at most model.DefaultHistoryLimit
	PromptTurns  int           `yaml:"prompt_turns"`
	DemoDelay    time.Duration `yaml:"demo_delay"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string `yaml:"url"` // empty keeps jobs in memory
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"` // prepended to every key, e.g. "staging:"
}

type HTTPConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Chat     ChatConfig     `yaml:"chat"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
	Telegram TelegramConfig `yaml:"telegram"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes raw YAML, fills defaults and validates the result.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := strings.TrimSpace(os.Getenv("RESEARCH_API_KEY")); v != "" {
		cfg.Remote.APIKey = v
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Remote.TokenLifetime <= 0 {
		cfg.Remote.TokenLifetime = time.Hour
	}
	if cfg.Remote.TokenSkew < MinTokenSkew {
		cfg.Remote.TokenSkew = MinTokenSkew
	}
	if cfg.Remote.Timeout <= 0 {
		cfg.Remote.Timeout = 30 * time.Second
	}
	if cfg.Remote.MaxIterations <= 0 {
		cfg.Remote.MaxIterations = 25
	}
	if cfg.Remote.Interaction == "" {
		cfg.Remote.Interaction = "research_agent"
	}
	if cfg.Remote.ConcurrentLimit <= 0 {
		cfg.Remote.ConcurrentLimit = 8
	}
	if cfg.Remote.Environment == "" {
		cfg.Remote.Environment = "production"
	}
	cfg.Remote.BaseURL = strings.TrimRight(cfg.Remote.BaseURL, "/")

	if cfg.Jobs.PollInterval <= 0 {
		cfg.Jobs.PollInterval = 5 * time.Second
	}
	if cfg.Jobs.MaxPollAttempts <= 0 {
		cfg.Jobs.MaxPollAttempts = 120
	}
	if cfg.Jobs.DemoDelay <= 0 {
		cfg.Jobs.DemoDelay = 8 * time.Second
	}
	switch {
	case cfg.Jobs.StreamReconnects == 0:
		cfg.Jobs.StreamReconnects = 2
	case cfg.Jobs.StreamReconnects < 0: // -1 disables reconnects
		cfg.Jobs.StreamReconnects = 0
	}

	if cfg.Chat.HistoryLimit <= 0 || cfg.Chat.HistoryLimit > model.DefaultHistoryLimit {
		cfg.Chat.HistoryLimit = model.DefaultHistoryLimit
	}
	if cfg.Chat.PromptTurns <= 0 {
		cfg.Chat.PromptTurns = 10
	}
	if cfg.Chat.DemoDelay <= 0 {
		cfg.Chat.DemoDelay = 1500 * time.Millisecond
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
}

func (cfg *Config) validate() error {
	if !cfg.Jobs.Live {
		return nil
	}
	if cfg.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required when jobs.live is set")
	}
	if cfg.Remote.APIKey == "" {
		return errors.New("remote.api_key (or RESEARCH_API_KEY) is required when jobs.live is set")
	}
	return nil
}
