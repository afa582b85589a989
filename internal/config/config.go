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
	DefaultMaxToolIterations = 20
	DefaultBufSize           = 100
	DefaultDebounceSeconds   = 15
	DefaultMaxBatch          = 20
	DefaultTimezone          = "Asia/Jakarta"
	DefaultDailyDigestAt     = "21:00"
	DefaultKnowledgeAt       = "03:30"
	DefaultLogLevel          = "info"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Oracle   OracleConfig   `json:"oracle"`
	Buffer   BufferConfig   `json:"buffer"`
	Compile  CompileConfig  `json:"compile"`
	Channels ChannelsConfig `json:"channels"`
	Store    StoreConfig    `json:"store"`
	Log      LogConfig      `json:"log"`
}

type AgentConfig struct {
	Workspace         string `json:"workspace"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	MaxToolIterations int    `json:"maxToolIterations"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// OracleConfig configures the classification/compilation model. It may
// point at a cheaper model than the reply agent.
type OracleConfig struct {
	Model     string          `json:"model,omitempty"`
	MaxTokens int             `json:"maxTokens,omitempty"`
	Provider  *ProviderConfig `json:"provider,omitempty"`
}

type BufferConfig struct {
	DebounceSeconds int `json:"debounceSeconds,omitempty"`
	MaxBatch        int `json:"maxBatch,omitempty"`
}

type CompileConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	DailyDigestAt string `json:"dailyDigestAt,omitempty"` // HH:MM local
	KnowledgeAt   string `json:"knowledgeAt,omitempty"`   // HH:MM local
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	StorePath string   `json:"storePath,omitempty"`
	JID       string   `json:"jid,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".ingat", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Provider: ProviderConfig{},
		Buffer: BufferConfig{
			DebounceSeconds: DefaultDebounceSeconds,
			MaxBatch:        DefaultMaxBatch,
		},
		Compile: CompileConfig{
			Timezone:      DefaultTimezone,
			DailyDigestAt: DefaultDailyDigestAt,
			KnowledgeAt:   DefaultKnowledgeAt,
		},
		Channels: ChannelsConfig{},
		Log:      LogConfig{Level: DefaultLogLevel},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".ingat")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
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
	if key := os.Getenv("INGAT_API_KEY"); key != "" {
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
	if url := os.Getenv("INGAT_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("INGAT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if model := os.Getenv("INGAT_ORACLE_MODEL"); model != "" {
		cfg.Oracle.Model = model
	}
	if key := os.Getenv("INGAT_ORACLE_API_KEY"); key != "" {
		if cfg.Oracle.Provider == nil {
			cfg.Oracle.Provider = &ProviderConfig{}
		}
		cfg.Oracle.Provider.APIKey = key
	}
	if url := os.Getenv("INGAT_ORACLE_BASE_URL"); url != "" {
		if cfg.Oracle.Provider == nil {
			cfg.Oracle.Provider = &ProviderConfig{}
		}
		cfg.Oracle.Provider.BaseURL = url
	}
	if dbPath := os.Getenv("INGAT_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if tz := os.Getenv("INGAT_TIMEZONE"); tz != "" {
		cfg.Compile.Timezone = tz
	}
	if v := os.Getenv("INGAT_DEBOUNCE_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Buffer.DebounceSeconds = parsed
		}
	}
	if v := os.Getenv("INGAT_MAX_BATCH"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Buffer.MaxBatch = parsed
		}
	}
	if lvl := os.Getenv("INGAT_LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Buffer.DebounceSeconds <= 0 {
		cfg.Buffer.DebounceSeconds = DefaultDebounceSeconds
	}
	if cfg.Buffer.MaxBatch <= 0 {
		cfg.Buffer.MaxBatch = DefaultMaxBatch
	}
	if cfg.Compile.Timezone == "" {
		cfg.Compile.Timezone = DefaultTimezone
	}
	if cfg.Compile.DailyDigestAt == "" {
		cfg.Compile.DailyDigestAt = DefaultDailyDigestAt
	}
	if cfg.Compile.KnowledgeAt == "" {
		cfg.Compile.KnowledgeAt = DefaultKnowledgeAt
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
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
