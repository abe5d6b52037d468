// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Cycle modes for TASK_CYCLE_MODE.
const (
	CycleModeStore  = "store"
	CycleModeWeekly = "weekly"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/court.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HostServiceIDs may publish events on behalf of other users.
	HostServiceIDs []string `env:"HOST_SERVICE_IDS" envSeparator:","`

	EventBus    EventBusConfig
	LLM         LLMConfig
	Agent       AgentConfig
	Tasks       TasksConfig
	RateLimit   RateLimitConfig
	Maintenance MaintenanceConfig
}

// EventBusConfig controls duplicate suppression.
type EventBusConfig struct {
	Capacity int           `env:"EVENTBUS_CAPACITY" envDefault:"500"`
	Window   time.Duration `env:"EVENTBUS_WINDOW" envDefault:"2s"`
}

// LLMConfig points at an OpenAI-compatible completion endpoint. An empty
// BaseURLs disables the agents.
type LLMConfig struct {
	BaseURLs    string        `env:"LLM_BASE_URLS"`
	Model       string        `env:"LLM_MODEL"`
	APIKey      string        `env:"LLM_API_KEY"`
	Timeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	MaxFailures int           `env:"LLM_MAX_FAILURES" envDefault:"3"`
	Cooldown    time.Duration `env:"LLM_COOLDOWN" envDefault:"30s"`
}

// AgentConfig tunes the orchestrator.
type AgentConfig struct {
	ContextMessages       int `env:"AGENT_CONTEXT_MESSAGES" envDefault:"12"`
	HighActivityThreshold int `env:"AGENT_HIGH_ACTIVITY_THRESHOLD" envDefault:"8"`
}

// TasksConfig selects how the current cycle is resolved.
type TasksConfig struct {
	CycleMode string `env:"TASK_CYCLE_MODE" envDefault:"store"`
}

// RateLimitConfig throttles write requests per user on the HTTP API.
type RateLimitConfig struct {
	RequestsPerWindow int           `env:"API_RATE_LIMIT_REQUESTS" envDefault:"60"`
	WindowDuration    time.Duration `env:"API_RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// MaintenanceConfig controls the stale state sweeper.
type MaintenanceConfig struct {
	Interval time.Duration `env:"MAINTENANCE_INTERVAL" envDefault:"10m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Tasks.CycleMode = strings.ToLower(strings.TrimSpace(cfg.Tasks.CycleMode))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.EventBus.Capacity <= 0 {
		return fmt.Errorf("EVENTBUS_CAPACITY must be > 0")
	}
	if c.EventBus.Window <= 0 {
		return fmt.Errorf("EVENTBUS_WINDOW must be > 0")
	}
	if c.Agent.ContextMessages <= 0 {
		return fmt.Errorf("AGENT_CONTEXT_MESSAGES must be > 0")
	}
	if c.Agent.HighActivityThreshold <= 0 {
		return fmt.Errorf("AGENT_HIGH_ACTIVITY_THRESHOLD must be > 0")
	}
	if c.Tasks.CycleMode != CycleModeStore && c.Tasks.CycleMode != CycleModeWeekly {
		return fmt.Errorf("TASK_CYCLE_MODE must be %q or %q", CycleModeStore, CycleModeWeekly)
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("API_RATE_LIMIT_REQUESTS and API_RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("MAINTENANCE_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// CompletionEnabled reports whether a completion endpoint is configured.
func (c *Config) CompletionEnabled() bool {
	return strings.TrimSpace(c.LLM.BaseURLs) != ""
}
