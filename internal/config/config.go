package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config holds application configuration
type Config struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OllamaBaseURL string `yaml:"ollama_base_url"`

	DatabasePath string `yaml:"database_path"`
	ListenAddr   string `yaml:"listen_addr"`

	// ContextWindow is the number of recent messages used as evidence for
	// reference resolution. ConfidenceThreshold is the accept/reject gate
	// for a proposed binding. Both are tunables, not fixed constants.
	ContextWindow       int     `yaml:"context_window"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	Debug               bool          `yaml:"debug"`
}

// Default returns the built-in configuration values.
func Default() Config {
	return Config{
		Provider:            ProviderOpenAI,
		Model:               "gpt-4o-mini",
		OpenAIBaseURL:       "https://api.openai.com/v1",
		OllamaBaseURL:       "http://localhost:11434",
		DatabasePath:        "contextchat.db",
		ListenAddr:          ":8080",
		ContextWindow:       10,
		ConfidenceThreshold: 0.5,
		CollaboratorTimeout: 60 * time.Second,
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.ContextWindow <= 0 {
		return cfg, fmt.Errorf("context_window must be positive, got %d", cfg.ContextWindow)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return cfg, fmt.Errorf("confidence_threshold must be in [0,1], got %g", cfg.ConfidenceThreshold)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Provider = getEnv("CONTEXTCHAT_PROVIDER", c.Provider)
	c.Model = getEnv("CONTEXTCHAT_MODEL", c.Model)
	c.OpenAIBaseURL = getEnv("CONTEXTCHAT_OPENAI_URL", c.OpenAIBaseURL)
	c.OllamaBaseURL = getEnv("CONTEXTCHAT_OLLAMA_URL", c.OllamaBaseURL)
	c.DatabasePath = getEnv("CONTEXTCHAT_DB", c.DatabasePath)
	c.ListenAddr = getEnv("CONTEXTCHAT_LISTEN", c.ListenAddr)
	c.ContextWindow = getIntEnv("CONTEXTCHAT_WINDOW", c.ContextWindow)
	c.ConfidenceThreshold = getFloatEnv("CONTEXTCHAT_THRESHOLD", c.ConfidenceThreshold)
	if v := os.Getenv("CONTEXTCHAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CollaboratorTimeout = d
		}
	}
	c.Debug = getBoolEnv("CONTEXTCHAT_DEBUG", c.Debug)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "TRUE"
}
