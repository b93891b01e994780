package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultTemperature       = 0.7
	DefaultMaxIterations     = 4
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 18768
	DefaultDecayRate         = 0.9
	DefaultDecaySweep        = "0 0 3 * * *"
	DefaultContextMaxTokens  = 4096
	DefaultHistoryLimit      = 50
	DefaultFilterKeep        = 11
	DefaultEnrichMaxTokens   = 1024
	DefaultEnrichTimeoutSecs = 30
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
	Context  ContextConfig  `json:"context"`
	Prompt   PromptConfig   `json:"prompt"`
	Enrich   EnrichConfig   `json:"enrich"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
}

// AgentConfig drives the final persona generation.
type AgentConfig struct {
	Workspace     string  `json:"workspace"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"maxTokens"`
	Temperature   float64 `json:"temperature"`
	MaxIterations int     `json:"maxIterations"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type MemoryConfig struct {
	DBPath    string  `json:"dbPath,omitempty"`
	DecayRate float64 `json:"decayRate"`
	// DecaySweep is a seconds-resolution cron expression; empty disables the sweep.
	DecaySweep string `json:"decaySweep"`
	ImportPath string `json:"importPath,omitempty"`
}

type ContextConfig struct {
	MaxTokens    int `json:"maxTokens"`
	HistoryLimit int `json:"historyLimit"`
	FilterKeep   int `json:"filterKeep"`
}

type PromptConfig struct {
	MultiPass         bool   `json:"multiPass"`
	EnforceGuidelines bool   `json:"enforceGuidelines"`
	TriggersDir       string `json:"triggersDir,omitempty"`
}

// EnrichConfig selects the OpenAI-compatible model used for relevance
// filtering, summaries, guideline passes and tone analysis. Unset fields
// fall back to the main provider and agent model.
type EnrichConfig struct {
	Model           string          `json:"model,omitempty"`
	MaxTokens       int             `json:"maxTokens,omitempty"`
	ReasoningEffort string          `json:"reasoningEffort,omitempty"`
	TimeoutSeconds  int             `json:"timeoutSeconds,omitempty"`
	Provider        *ProviderConfig `json:"provider,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// APIToken guards the admin API when set.
	APIToken string `json:"apiToken,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:     filepath.Join(home, ".rex", "workspace"),
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			Temperature:   DefaultTemperature,
			MaxIterations: DefaultMaxIterations,
		},
		Provider: ProviderConfig{},
		Memory: MemoryConfig{
			DecayRate:  DefaultDecayRate,
			DecaySweep: DefaultDecaySweep,
		},
		Context: ContextConfig{
			MaxTokens:    DefaultContextMaxTokens,
			HistoryLimit: DefaultHistoryLimit,
			FilterKeep:   DefaultFilterKeep,
		},
		Enrich: EnrichConfig{
			MaxTokens:      DefaultEnrichMaxTokens,
			TimeoutSeconds: DefaultEnrichTimeoutSecs,
		},
		Channels: ChannelsConfig{
			WebUI: WebUIConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".rex")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// MemoryDBPath returns the configured database path or the default under
// the config dir.
func (c *Config) MemoryDBPath() string {
	if c.Memory.DBPath != "" {
		return c.Memory.DBPath
	}
	return filepath.Join(ConfigDir(), "rex.db")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("REX_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("REX_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("REX_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if token := os.Getenv("REX_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if dbPath := os.Getenv("REX_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if rate := os.Getenv("REX_MEMORY_DECAY_RATE"); rate != "" {
		if parsed, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.Memory.DecayRate = parsed
		}
	}
	if maxTokens := os.Getenv("REX_CONTEXT_MAX_TOKENS"); maxTokens != "" {
		if parsed, err := strconv.Atoi(maxTokens); err == nil {
			cfg.Context.MaxTokens = parsed
		}
	}
	if multi := os.Getenv("REX_PROMPT_MULTI_PASS"); multi != "" {
		if parsed, err := strconv.ParseBool(multi); err == nil {
			cfg.Prompt.MultiPass = parsed
		}
	}
	if enforce := os.Getenv("REX_PROMPT_ENFORCE_GUIDELINES"); enforce != "" {
		if parsed, err := strconv.ParseBool(enforce); err == nil {
			cfg.Prompt.EnforceGuidelines = parsed
		}
	}
	if key := os.Getenv("REX_ENRICH_API_KEY"); key != "" {
		if cfg.Enrich.Provider == nil {
			cfg.Enrich.Provider = &ProviderConfig{}
		}
		cfg.Enrich.Provider.APIKey = key
	}
	if url := os.Getenv("REX_ENRICH_BASE_URL"); url != "" {
		if cfg.Enrich.Provider == nil {
			cfg.Enrich.Provider = &ProviderConfig{}
		}
		cfg.Enrich.Provider.BaseURL = url
	}
	if model := os.Getenv("REX_ENRICH_MODEL"); model != "" {
		cfg.Enrich.Model = model
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Memory.DecayRate <= 0 || cfg.Memory.DecayRate > 1 {
		cfg.Memory.DecayRate = DefaultDecayRate
	}
	if cfg.Context.MaxTokens <= 0 {
		cfg.Context.MaxTokens = DefaultContextMaxTokens
	}
	if cfg.Context.HistoryLimit <= 0 {
		cfg.Context.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Context.FilterKeep <= 0 {
		cfg.Context.FilterKeep = DefaultFilterKeep
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
