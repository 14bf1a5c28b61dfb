package recipegraph

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zxcasde/RecipeGraphRAG/recommend"
)

// Config holds all configuration for the RecipeGraphRAG engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.recipegraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. Options: "home" (default) uses ~/.recipegraph/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Fusion parameters. Weights apply to per-batch min-max normalized
	// scores; BonusBoth is the additive agreement boost for candidates
	// found by both retrieval paths.
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightGraph  float64 `json:"weight_graph" yaml:"weight_graph"`
	BonusBoth    float64 `json:"bonus_both" yaml:"bonus_both"`
	TopN         int     `json:"top_n" yaml:"top_n"`

	// RetrievalTimeout bounds each retrieval path independently. A path
	// that misses the deadline is dropped and fusion proceeds with the
	// other path's results.
	RetrievalTimeout time.Duration `json:"retrieval_timeout" yaml:"retrieval_timeout"`

	// Preference model tuning.
	PreferenceClamp float64 `json:"preference_clamp" yaml:"preference_clamp"` // adjustment clamped to [-clamp, +clamp]
	RecencyDecay    float64 `json:"recency_decay" yaml:"recency_decay"`       // per-event multiplicative decay of older weights
	DecaySchedule   string  `json:"decay_schedule" yaml:"decay_schedule"`     // cron spec for the periodic weight decay sweep
	DecayFactor     float64 `json:"decay_factor" yaml:"decay_factor"`         // multiplier applied by each sweep

	// Scenarios overrides the built-in scenario table when non-empty.
	Scenarios []recommend.Scenario `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	// Embedding dimensions (must match the embedding model).
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, deepseek, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.recipegraph/recipegraph.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "recipegraph",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "qwen2.5:7b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "bge-m3",
			BaseURL:  "http://localhost:11434",
		},
		WeightVector:     0.4,
		WeightGraph:      0.6,
		BonusBoth:        0.1,
		TopN:             5,
		RetrievalTimeout: 10 * time.Second,
		PreferenceClamp:  0.5,
		RecencyDecay:     0.95,
		DecaySchedule:    "0 3 * * *",
		DecayFactor:      0.9,
		EmbeddingDim:     1024,
	}
}

// LoadConfig reads a YAML config file and overlays it on DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.WeightVector < 0 || c.WeightGraph < 0 {
		return fmt.Errorf("%w: fusion weights must be non-negative", ErrInvalidConfig)
	}
	if c.BonusBoth < 0 {
		return fmt.Errorf("%w: bonus_both must be non-negative", ErrInvalidConfig)
	}
	if c.RecencyDecay <= 0 || c.RecencyDecay > 1 {
		return fmt.Errorf("%w: recency_decay must be in (0, 1]", ErrInvalidConfig)
	}
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		return fmt.Errorf("%w: decay_factor must be in (0, 1]", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "recipegraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".recipegraph", name+".db")
	}
}
