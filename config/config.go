// Package config loads the YAML configuration file and applies defaults and
// environment overrides.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-recall/history"
	"github.com/becomeliminal/nim-recall/memory"
)

// Config is the whole application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	DataDir   string          `yaml:"data_dir"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Memory    MemoryConfig    `yaml:"memory"`
	Window    WindowConfig    `yaml:"window"`
	Server    ServerConfig    `yaml:"server"`
}

// LLMConfig selects the chat model. The same model extracts memories and
// writes summaries.
type LLMConfig struct {
	Provider     string `yaml:"provider"` // anthropic | openai
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	MaxTokens    int64  `yaml:"max_tokens"`
	SystemPrompt string `yaml:"system_prompt"`
}

// EmbeddingConfig selects the Embedding Port.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // mock | openai | onnx
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`

	// CacheSize is the embedding cache budget in bytes. Zero disables it.
	CacheSize int64 `yaml:"cache_size"`

	ONNXModel     string `yaml:"onnx_model"`
	ONNXTokenizer string `yaml:"onnx_tokenizer"`
	ONNXLibrary   string `yaml:"onnx_library"`
}

// RerankConfig configures the optional Rerank Port.
type RerankConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// MemoryConfig tunes the long-term memory.
type MemoryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Store          string  `yaml:"store"` // scan | chromem
	MinSimilarity  float64 `yaml:"min_similarity"`
	RecallLimit    int     `yaml:"recall_limit"`
	OverFetch      int     `yaml:"over_fetch"`
	MergeThreshold float64 `yaml:"merge_threshold"`
	MergeMode      string  `yaml:"merge_mode"`
	SaverTurns     int     `yaml:"saver_turns"`
}

// WindowConfig sizes the sliding window.
type WindowConfig struct {
	Size   int `yaml:"size"`
	Buffer int `yaml:"buffer"`

	// SummaryInputTokens caps the transcript handed to the summarizer.
	SummaryInputTokens int `yaml:"summary_input_tokens"`
}

// ServerConfig configures `serve`.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	GRPCHealthAddr    string   `yaml:"grpc_health_addr"`
	MessagesPerSecond float64  `yaml:"messages_per_second"`
	Burst             int      `yaml:"burst"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

// Providers and store kinds.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
	ProviderONNX      = "onnx"

	StoreScan    = "scan"
	StoreChromem = "chromem"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	mem := memory.DefaultConfig()
	return &Config{
		LogLevel: "info",
		DataDir:  defaultDataDir(),
		LLM: LLMConfig{
			Provider:  ProviderAnthropic,
			MaxTokens: 4096,
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderMock,
			Dimensions: 384,
			CacheSize:  64 << 20,
		},
		Memory: MemoryConfig{
			Enabled:        mem.Enabled,
			Store:          StoreScan,
			MinSimilarity:  mem.MinSimilarity,
			RecallLimit:    mem.RecallLimit,
			OverFetch:      mem.OverFetch,
			MergeThreshold: mem.MergeThreshold,
			MergeMode:      string(mem.MergeMode),
			SaverTurns:     mem.SaverTurns,
		},
		Window: WindowConfig{
			Size:               history.DefaultWindowSize,
			Buffer:             history.DefaultBufferSize,
			SummaryInputTokens: history.DefaultMaxInputTokens,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			MessagesPerSecond: 1,
			Burst:             5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nim-recall"
	}
	return filepath.Join(home, ".nim-recall")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills secrets from the environment when the file leaves them
// empty.
func (c *Config) applyEnv(getenv func(string) string) {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.APIKey = getenv("ANTHROPIC_API_KEY")
		case ProviderOpenAI:
			c.LLM.APIKey = getenv("OPENAI_API_KEY")
		}
	}
	if c.Embedding.APIKey == "" && c.Embedding.Provider == ProviderOpenAI {
		c.Embedding.APIKey = getenv("OPENAI_API_KEY")
	}
	if c.Rerank.APIKey == "" {
		c.Rerank.APIKey = getenv("NIM_RECALL_RERANK_API_KEY")
	}
	if v := getenv("NIM_RECALL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("NIM_RECALL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// Validate checks value ranges and provider names.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return goerr.New("unknown llm provider", goerr.V("provider", c.LLM.Provider))
	}
	switch c.Embedding.Provider {
	case ProviderMock, ProviderOpenAI, ProviderONNX:
	default:
		return goerr.New("unknown embedding provider", goerr.V("provider", c.Embedding.Provider))
	}
	if c.Embedding.Provider == ProviderONNX && (c.Embedding.ONNXModel == "" || c.Embedding.ONNXTokenizer == "") {
		return goerr.New("onnx embedding requires onnx_model and onnx_tokenizer")
	}
	if c.Embedding.Dimensions < 0 {
		return goerr.New("embedding dimensions must not be negative", goerr.V("dimensions", c.Embedding.Dimensions))
	}
	if c.Rerank.Enabled && c.Rerank.BaseURL == "" {
		return goerr.New("rerank requires base_url")
	}

	switch c.Memory.Store {
	case StoreScan, StoreChromem:
	default:
		return goerr.New("unknown memory store", goerr.V("store", c.Memory.Store))
	}
	switch memory.MergeMode(c.Memory.MergeMode) {
	case memory.MergeReplace, memory.MergeConcatenate:
	default:
		return goerr.New("unknown merge mode", goerr.V("merge_mode", c.Memory.MergeMode))
	}
	if c.Memory.MergeThreshold <= 0 || c.Memory.MergeThreshold > 1 {
		return goerr.New("merge_threshold must be in (0, 1]", goerr.V("merge_threshold", c.Memory.MergeThreshold))
	}
	if c.Memory.MinSimilarity < 0 || c.Memory.MinSimilarity > 1 {
		return goerr.New("min_similarity must be in [0, 1]", goerr.V("min_similarity", c.Memory.MinSimilarity))
	}
	if c.Memory.RecallLimit <= 0 {
		return goerr.New("recall_limit must be positive", goerr.V("recall_limit", c.Memory.RecallLimit))
	}

	if err := c.HistoryConfig().Validate(); err != nil {
		return goerr.Wrap(err, "invalid window")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return goerr.New("data_dir is required")
	}
	return nil
}

// MemoryManagerConfig converts the memory section.
func (c *Config) MemoryManagerConfig() *memory.Config {
	return &memory.Config{
		Enabled:        c.Memory.Enabled,
		MinSimilarity:  c.Memory.MinSimilarity,
		RecallLimit:    c.Memory.RecallLimit,
		OverFetch:      c.Memory.OverFetch,
		MergeThreshold: c.Memory.MergeThreshold,
		MergeMode:      memory.MergeMode(c.Memory.MergeMode),
		SaverTurns:     c.Memory.SaverTurns,
	}
}

// HistoryConfig converts the window section.
func (c *Config) HistoryConfig() history.Config {
	return history.Config{WindowSize: c.Window.Size, BufferSize: c.Window.Buffer}
}

// MemoryPath is the memory store snapshot file.
func (c *Config) MemoryPath() string {
	return filepath.Join(c.DataDir, "memories.json")
}

// SessionsDir holds conversation snapshots.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// HistoryFile is the readline history file.
func (c *Config) HistoryFile() string {
	return filepath.Join(c.DataDir, "history")
}
