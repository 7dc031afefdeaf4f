package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig lists the corpus files loaded at startup and on reindex.
type SourceConfig struct {
	Paths []string `yaml:"paths"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
	MaxChars          int    `yaml:"max_chars"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type       string        `yaml:"type"`
	Collection string        `yaml:"collection"`
	Qdrant     *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig configures the OpenAI-compatible completion collaborator shared
// by the query expander and the answer generator.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// ExpanderConfig selects the query expansion strategy.
type ExpanderConfig struct {
	Type          string `yaml:"type"`
	MaxExpansions int    `yaml:"max_expansions"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
}

// RerankerConfig selects the cross-encoder scorer.
type RerankerConfig struct {
	Type        string              `yaml:"type"`
	TimeoutSecs int                 `yaml:"timeout_secs"`
	HTTP        *HTTPRerankerConfig `yaml:"http,omitempty"`
}

// HTTPRerankerConfig points at a Cohere/Jina compatible rerank endpoint.
type HTTPRerankerConfig struct {
	URL       string `yaml:"url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// GeneratorConfig selects and configures answer synthesis.
type GeneratorConfig struct {
	Type            string `yaml:"type"`
	ContextPassages int    `yaml:"context_passages"`
	MaxSentences    int    `yaml:"max_sentences"`
	TimeoutSecs     int    `yaml:"timeout_secs"`
}

// RetrievalConfig bounds the candidate set.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// TrainingConfig configures the embedding adaptor learning loop.
type TrainingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Schedule          string  `yaml:"schedule"`
	FeedbackThreshold int     `yaml:"feedback_threshold"`
	Epochs            int     `yaml:"epochs"`
	Rank              int     `yaml:"rank"`
	LearningRate      float64 `yaml:"learning_rate"`
	Seed              int64   `yaml:"seed"`
}

// SessionConfig configures the query session cache.
type SessionConfig struct {
	RetentionHours int `yaml:"retention_hours"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Source      SourceConfig      `yaml:"source"`
	DataDir     string            `yaml:"data_dir"`
	Log         LogConfig         `yaml:"log"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         *LLMConfig        `yaml:"llm,omitempty"`
	Expander    ExpanderConfig    `yaml:"expander"`
	Reranker    RerankerConfig    `yaml:"reranker"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Training    TrainingConfig    `yaml:"training"`
	Sessions    SessionConfig     `yaml:"sessions"`
	Server      ServerConfig      `yaml:"server"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/faqrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/faqrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "faqrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Source:      SourceConfig{Paths: []string{"data/faqs.pdf"}},
		DataDir:     "./data/state",
		Log:         LogConfig{Level: "info", Format: "console", Output: "stderr"},
		Embedder:    EmbedderConfig{Type: "tfidf"},
		Chunker:     ChunkerConfig{Type: "sentence", SentencesPerChunk: 5, OverlapSentences: 1, MaxChars: 1200},
		VectorStore: VectorStoreConfig{Type: "sqlite", Collection: "faq_documents"},
		Expander:    ExpanderConfig{Type: "none", MaxExpansions: 3, TimeoutSecs: 10},
		Reranker:    RerankerConfig{Type: "lexical", TimeoutSecs: 5},
		Generator:   GeneratorConfig{Type: "extractive", ContextPassages: 3, MaxSentences: 3, TimeoutSecs: 30},
		Retrieval:   RetrievalConfig{TopK: 10},
		Training: TrainingConfig{
			Enabled:           true,
			Schedule:          "@every 1h",
			FeedbackThreshold: 10,
			Epochs:            50,
			Rank:              8,
			LearningRate:      0.05,
			Seed:              42,
		},
		Server: ServerConfig{Addr: ":5000"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "faq_documents"
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Expander.MaxExpansions <= 0 || cfg.Expander.MaxExpansions > 3 {
		cfg.Expander.MaxExpansions = 3
	}
	if cfg.Training.Epochs <= 0 {
		cfg.Training.Epochs = 50
	}
	if cfg.Training.Rank <= 0 {
		cfg.Training.Rank = 8
	}
	if cfg.Training.LearningRate <= 0 {
		cfg.Training.LearningRate = 0.05
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.LLM != nil {
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.LLM.APIKeyEnv == "" {
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.LLM.Model == "" {
			cfg.LLM.Model = "gpt-4o-mini"
		}
		if cfg.LLM.MaxTokens == 0 {
			cfg.LLM.MaxTokens = 512
		}
		if cfg.LLM.TimeoutSecs == 0 {
			cfg.LLM.TimeoutSecs = 30
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
		cfg.VectorStore.Qdrant.TimeoutSecs = 15
	}
}
