// Package config loads and watches the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root daemon configuration.
type Config struct {
	Listen    string        `yaml:"listen"`     // gateway bind address
	AuthToken string        `yaml:"auth_token"` // optional shared secret for client connects
	DataDir   string        `yaml:"data_dir"`
	Queue     QueueConfig   `yaml:"queue"`
	Agent     AgentConfig   `yaml:"agent"`
	LLM       LLMConfig     `yaml:"llm"`
	STT       FamilyConfig  `yaml:"stt"`
	TTS       FamilyConfig  `yaml:"tts"`
	Assets    AssetsConfig  `yaml:"assets"`
	Store     StoreConfig   `yaml:"store"`
	Tracing   TracingConfig `yaml:"tracing"`
	MCP       []MCPServer   `yaml:"mcp"`
}

// QueueConfig bounds the request queue.
type QueueConfig struct {
	Cap int `yaml:"cap"` // 0 = unbounded
}

// AgentConfig tunes the reasoning loop.
type AgentConfig struct {
	MaxIterations      int    `yaml:"max_iterations"`
	TurnTimeoutSec     int    `yaml:"turn_timeout_sec"`
	WallClockSec       int    `yaml:"wall_clock_sec"`
	SystemInstructions string `yaml:"system_instructions"`
	ShellDelegate      bool   `yaml:"shell_delegate"`
	RateLimitPerMin    int    `yaml:"rate_limit_per_min"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "openai", "dashscope", any compatible
	APIKey      string  `yaml:"api_key"`
	APIBase     string  `yaml:"api_base"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// FamilyConfig configures one backend family (stt or tts).
type FamilyConfig struct {
	Preferred string                       `yaml:"preferred"`
	Backends  map[string]map[string]string `yaml:"backends"` // id -> backend-specific keys
}

// AssetsConfig selects the model asset source.
type AssetsConfig struct {
	Source    string `yaml:"source"` // "http" or "s3"
	BaseURL   string `yaml:"base_url"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// StoreConfig configures request history persistence.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite file, default <data_dir>/history.db
}

// TracingConfig configures span collection and OTLP export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP collector, e.g. "localhost:4317"
	Insecure bool   `yaml:"insecure"`
	Service  string `yaml:"service"`
}

// MCPServer describes one MCP server whose tools become delegates.
type MCPServer struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Listen:  "127.0.0.1:8721",
		DataDir: filepath.Join(home, ".voxd"),
		Agent: AgentConfig{
			MaxIterations:  8,
			TurnTimeoutSec: 60,
		},
		STT: FamilyConfig{Preferred: "whisper_api"},
		TTS: FamilyConfig{Preferred: "openai"},
		Tracing: TracingConfig{
			Service: "voxd",
		},
	}
}

// Load reads path, applies defaults, and expands ${ENV_VAR} references in
// credential fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.AuthToken = os.ExpandEnv(cfg.AuthToken)
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.Assets.AccessKey = os.ExpandEnv(cfg.Assets.AccessKey)
	cfg.Assets.SecretKey = os.ExpandEnv(cfg.Assets.SecretKey)
	for _, backends := range []map[string]map[string]string{cfg.STT.Backends, cfg.TTS.Backends} {
		for _, kv := range backends {
			for k, v := range kv {
				kv[k] = os.ExpandEnv(v)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be >= 1, got %d", c.Agent.MaxIterations)
	}
	if c.Queue.Cap < 0 {
		return fmt.Errorf("queue.cap must be >= 0, got %d", c.Queue.Cap)
	}
	switch c.Assets.Source {
	case "", "http", "s3":
	default:
		return fmt.Errorf("assets.source must be http or s3, got %q", c.Assets.Source)
	}
	return nil
}

// StorePath returns the history database path, defaulting into DataDir.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "history.db")
}
