package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultAgentName          = "Aster"
	DefaultModel              = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens          = 8192
	DefaultTemperature        = 0.7
	DefaultBufSize            = 100
	DefaultBacklogLimit       = 10
	DefaultSimilarityFloor    = 0.6
	DefaultRetrievalLimit     = 3
	DefaultSummaryTrigger     = 9
	DefaultSummaryKeep        = 5
	DefaultPaintTimeoutMs     = 120_000
	DefaultEmbeddingTimeoutMs = 10_000
	DefaultDocRetentionDays   = 90
	DefaultCompactSchedule    = "0 0 3 * * *"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Gate      GateConfig      `json:"gate"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Summary   SummaryConfig   `json:"summary"`
	Paint     PaintConfig     `json:"paint"`
	Memory    MemoryConfig    `json:"memory"`
}

type AgentConfig struct {
	Name        string  `json:"name"`
	Workspace   string  `json:"workspace"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GateConfig struct {
	BacklogLimit int `json:"backlogLimit"`
}

// RetrievalConfig tunes the augmentation step. SimilarityFloor is a
// minimum similarity, not a maximum distance: candidates below it are
// excluded.
type RetrievalConfig struct {
	Enabled         bool            `json:"enabled"`
	SimilarityFloor float64         `json:"similarityFloor"`
	Limit           int             `json:"limit"`
	Embedding       EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type SummaryConfig struct {
	Trigger int `json:"trigger"` // turn count above which the summarizer fires
	Keep    int `json:"keep"`    // recent default-region turns preserved
}

type PaintConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type MemoryConfig struct {
	DBPath           string `json:"dbPath,omitempty"`
	DocRetentionDays int    `json:"docRetentionDays,omitempty"`
	CompactSchedule  string `json:"compactSchedule,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Name:        DefaultAgentName,
			Workspace:   filepath.Join(home, ".aster", "workspace"),
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Gate: GateConfig{
			BacklogLimit: DefaultBacklogLimit,
		},
		Retrieval: RetrievalConfig{
			Enabled:         true,
			SimilarityFloor: DefaultSimilarityFloor,
			Limit:           DefaultRetrievalLimit,
		},
		Summary: SummaryConfig{
			Trigger: DefaultSummaryTrigger,
			Keep:    DefaultSummaryKeep,
		},
		Paint: PaintConfig{
			TimeoutMs: DefaultPaintTimeoutMs,
		},
		Memory: MemoryConfig{
			DocRetentionDays: DefaultDocRetentionDays,
			CompactSchedule:  DefaultCompactSchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aster")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("ASTER_API_KEY"); key != "" {
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
	if url := os.Getenv("ASTER_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if name := os.Getenv("ASTER_AGENT_NAME"); name != "" {
		cfg.Agent.Name = name
	}
	if token := os.Getenv("ASTER_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if endpoint := os.Getenv("ASTER_PAINT_ENDPOINT"); endpoint != "" {
		cfg.Paint.Endpoint = endpoint
		cfg.Paint.Enabled = true
	}
	if dbPath := os.Getenv("ASTER_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if limit := os.Getenv("ASTER_BACKLOG_LIMIT"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil {
			cfg.Gate.BacklogLimit = parsed
		}
	}
	if floor := os.Getenv("ASTER_SIMILARITY_FLOOR"); floor != "" {
		if parsed, err := strconv.ParseFloat(floor, 64); err == nil {
			cfg.Retrieval.SimilarityFloor = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = DefaultAgentName
	}
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Gate.BacklogLimit <= 0 {
		cfg.Gate.BacklogLimit = DefaultBacklogLimit
	}
	if cfg.Retrieval.SimilarityFloor <= 0 {
		cfg.Retrieval.SimilarityFloor = DefaultSimilarityFloor
	}
	if cfg.Retrieval.Limit <= 0 {
		cfg.Retrieval.Limit = DefaultRetrievalLimit
	}
	if cfg.Retrieval.Embedding.TimeoutMs <= 0 {
		cfg.Retrieval.Embedding.TimeoutMs = DefaultEmbeddingTimeoutMs
	}
	if cfg.Summary.Trigger <= 0 {
		cfg.Summary.Trigger = DefaultSummaryTrigger
	}
	if cfg.Summary.Keep <= 0 {
		cfg.Summary.Keep = DefaultSummaryKeep
	}
	if cfg.Paint.TimeoutMs <= 0 {
		cfg.Paint.TimeoutMs = DefaultPaintTimeoutMs
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(ConfigDir(), "data", "aster.db")
	}
	if cfg.Memory.DocRetentionDays <= 0 {
		cfg.Memory.DocRetentionDays = DefaultDocRetentionDays
	}
	if cfg.Memory.CompactSchedule == "" {
		cfg.Memory.CompactSchedule = DefaultCompactSchedule
	}
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
