// Package config holds the service configuration: storage paths, rule catalog
// location, LLM provider settings, and the monthly budget. Values come from
// defaults, an optional YAML file, then environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"intakeflow/internal/llm"
	"intakeflow/internal/usage"
)

// Config holds all intakeflow configuration.
type Config struct {
	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Rule engine settings
	Rules RulesConfig `yaml:"rules"`

	// LLM provider settings
	LLM LLMConfig `yaml:"llm"`

	// Budget and pricing
	Budget BudgetConfig `yaml:"budget"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RulesConfig configures the rule engine.
type RulesConfig struct {
	// CatalogPath points at the JSON rule catalog.
	CatalogPath string `yaml:"catalog_path"`
	// CountiesPath optionally overrides the embedded county table.
	CountiesPath string `yaml:"counties_path"`
	// WatchCatalog reloads the catalog when the file changes.
	WatchCatalog bool `yaml:"watch_catalog"`
}

// LLMConfig configures the chat-completion backend.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // gemini, anthropic
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// BudgetConfig configures spend accounting.
type BudgetConfig struct {
	// MonthlyCeilingUSD caps AI spend per calendar month. Zero disables it.
	MonthlyCeilingUSD float64 `yaml:"monthly_ceiling_usd"`
	// Prices overrides the built-in per-model price table.
	Prices usage.PriceTable `yaml:"prices"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: "data/intakeflow.db",
		},
		Rules: RulesConfig{
			CatalogPath:  "rules/catalog.json",
			WatchCatalog: false,
		},
		LLM: LLMConfig{
			Provider:   "gemini",
			Model:      "gemini-2.5-flash",
			Timeout:    "120s",
			MaxRetries: 2,
		},
		Budget: BudgetConfig{
			MonthlyCeilingUSD: 250.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if path := os.Getenv("INTAKEFLOW_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if path := os.Getenv("INTAKEFLOW_CATALOG"); path != "" {
		c.Rules.CatalogPath = path
	}
	if level := os.Getenv("INTAKEFLOW_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// LLMWrapperConfig builds the provider-wrapper settings from the budget and
// retry configuration.
func (c *Config) LLMWrapperConfig() llm.Config {
	prices := c.Budget.Prices
	if prices == nil {
		prices = usage.DefaultPrices()
	}
	return llm.Config{
		MonthlyCeilingUSD: c.Budget.MonthlyCeilingUSD,
		MaxRetries:        c.LLM.MaxRetries,
		Prices:            prices,
	}
}
