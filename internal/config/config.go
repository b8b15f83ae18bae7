package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all hippocampus configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	LLM           LLMConfig           `mapstructure:"llm" yaml:"llm"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding" yaml:"embedding"`
	Scoring       ScoringConfig       `mapstructure:"scoring" yaml:"scoring"`
	Assembly      AssemblyConfig      `mapstructure:"assembly" yaml:"assembly"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation" yaml:"consolidation"`
	Graph         GraphConfig         `mapstructure:"graph" yaml:"graph"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler" yaml:"scheduler"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind" yaml:"bind"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // empty: ~/.hippocampus/hippocampus.db
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

type LLMConfig struct {
	Provider     string `mapstructure:"provider" yaml:"provider"` // "none", "anthropic", "ollama"
	Model        string `mapstructure:"model" yaml:"model"`
	OllamaURL    string `mapstructure:"ollama_url" yaml:"ollama_url"`
	OllamaModel  string `mapstructure:"ollama_model" yaml:"ollama_model"`
	AnthropicKey string `mapstructure:"anthropic_key" yaml:"anthropic_key"`
}

type EmbeddingConfig struct {
	Provider     string        `mapstructure:"provider" yaml:"provider"` // "auto", "ollama", "tfidf", "none"
	OllamaURL    string        `mapstructure:"ollama_url" yaml:"ollama_url"`
	Model        string        `mapstructure:"model" yaml:"model"`
	Dimensions   int           `mapstructure:"dimensions" yaml:"dimensions"`
	TFIDFTerms   int           `mapstructure:"tfidf_terms" yaml:"tfidf_terms"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	CacheSize    int           `mapstructure:"cache_size" yaml:"cache_size"`
}

// ScoringConfig holds the fact-level signal weights and spread parameters.
type ScoringConfig struct {
	SemanticWeight     float64 `mapstructure:"semantic_weight" yaml:"semantic_weight"`
	CooccurrenceWeight float64 `mapstructure:"cooccurrence_weight" yaml:"cooccurrence_weight"`
	ActivationWeight   float64 `mapstructure:"activation_weight" yaml:"activation_weight"`
	KeywordWeight      float64 `mapstructure:"keyword_weight" yaml:"keyword_weight"`
	SpreadHops         int     `mapstructure:"spread_hops" yaml:"spread_hops"`
	SpreadThreshold    float64 `mapstructure:"spread_threshold" yaml:"spread_threshold"`
	Audit              bool    `mapstructure:"audit" yaml:"audit"`
}

// AssemblyConfig bounds the foreground context-assembly path.
type AssemblyConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxFacts      int           `mapstructure:"max_facts" yaml:"max_facts"`
	ProfileGate   float64       `mapstructure:"profile_gate" yaml:"profile_gate"`
	FactGate      float64       `mapstructure:"fact_gate" yaml:"fact_gate"`
	AccessQueue   int           `mapstructure:"access_queue" yaml:"access_queue"`
	DefaultLevel  int           `mapstructure:"default_level" yaml:"default_level"`
	DefaultBudget int           `mapstructure:"default_budget" yaml:"default_budget"`
}

type ConsolidationConfig struct {
	ApproveThreshold   float64 `mapstructure:"approve_threshold" yaml:"approve_threshold"`
	RejectFloor        float64 `mapstructure:"reject_floor" yaml:"reject_floor"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold" yaml:"duplicate_threshold"`
	CorroborationBonus float64 `mapstructure:"corroboration_bonus" yaml:"corroboration_bonus"`
	CorroborationMax   float64 `mapstructure:"corroboration_max" yaml:"corroboration_max"`
	BatchSize          int     `mapstructure:"batch_size" yaml:"batch_size"`
	LLMClassify        bool    `mapstructure:"llm_classify" yaml:"llm_classify"`
	SummaryFacts       int     `mapstructure:"summary_facts" yaml:"summary_facts"`
}

type GraphConfig struct {
	LearningRate     float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	DecayRate        float64 `mapstructure:"decay_rate" yaml:"decay_rate"`
	LongDecayRatio   float64 `mapstructure:"long_decay_ratio" yaml:"long_decay_ratio"`
	PruneFloor       float64 `mapstructure:"prune_floor" yaml:"prune_floor"`
	PromoteThreshold int     `mapstructure:"promote_threshold" yaml:"promote_threshold"`
	MaxConcepts      int     `mapstructure:"max_concepts" yaml:"max_concepts"`
}

// SchedulerConfig sets each background job's interval. A zero interval
// disables that job.
type SchedulerConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	ConsolidateInterval time.Duration `mapstructure:"consolidate_interval" yaml:"consolidate_interval"`
	PromoteInterval     time.Duration `mapstructure:"promote_interval" yaml:"promote_interval"`
	DecayInterval       time.Duration `mapstructure:"decay_interval" yaml:"decay_interval"`
	SummaryInterval     time.Duration `mapstructure:"summary_interval" yaml:"summary_interval"`
	JobTimeout          time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
	FactHalfLife        time.Duration `mapstructure:"fact_half_life" yaml:"fact_half_life"`
	FactWeightFloor     float64       `mapstructure:"fact_weight_floor" yaml:"fact_weight_floor"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			Provider:    "none",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
		},
		Embedding: EmbeddingConfig{
			Provider:     "auto",
			OllamaURL:    "http://localhost:11434",
			Model:        "nomic-embed-text",
			Dimensions:   768,
			TFIDFTerms:   512,
			QueryTimeout: 25 * time.Millisecond,
			CacheSize:    512,
		},
		Scoring: ScoringConfig{
			SemanticWeight:     0.5,
			CooccurrenceWeight: 0.3,
			ActivationWeight:   0.2,
			KeywordWeight:      0.1,
			SpreadHops:         2,
			SpreadThreshold:    0.1,
		},
		Assembly: AssemblyConfig{
			Timeout:       40 * time.Millisecond,
			Concurrency:   4,
			MaxFacts:      20,
			ProfileGate:   3.5,
			FactGate:      7.0,
			AccessQueue:   256,
			DefaultLevel:  2,
			DefaultBudget: 0,
		},
		Consolidation: ConsolidationConfig{
			ApproveThreshold:   0.7,
			RejectFloor:        0.3,
			DuplicateThreshold: 0.85,
			CorroborationBonus: 0.05,
			CorroborationMax:   0.1,
			BatchSize:          25,
			SummaryFacts:       12,
		},
		Graph: GraphConfig{
			LearningRate:     0.1,
			DecayRate:        0.05,
			LongDecayRatio:   0.25,
			PruneFloor:       0.05,
			PromoteThreshold: 5,
			MaxConcepts:      8,
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			ConsolidateInterval: 300 * time.Second,
			PromoteInterval:     300 * time.Second,
			DecayInterval:       24 * time.Hour,
			SummaryInterval:     time.Hour,
			JobTimeout:          2 * time.Minute,
			FactHalfLife:        90 * 24 * time.Hour,
			FactWeightFloor:     0.1,
		},
	}
}

// DefaultPath returns ~/.hippocampus/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".hippocampus", "config.yaml"), nil
}

// Load layers the defaults, the YAML file at path (if it exists) and
// HIPPO_-prefixed environment variables, in that order.
// Example: HIPPO_SERVER_PORT=9000.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HIPPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seed every key from the defaults so env overrides resolve even when
	// the file omits them.
	base, err := Marshal(Default())
	if err != nil {
		return Config{}, err
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return Config{}, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		path = expandPath(path)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Database.Path = expandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders a config as YAML.
func Marshal(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Validate checks thresholds and enums.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.LLM.Provider {
	case "none", "", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	switch c.Embedding.Provider {
	case "auto", "ollama", "tfidf", "none":
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Consolidation.RejectFloor > c.Consolidation.ApproveThreshold {
		return fmt.Errorf("consolidation.reject_floor (%.2f) exceeds approve_threshold (%.2f)",
			c.Consolidation.RejectFloor, c.Consolidation.ApproveThreshold)
	}
	if c.Assembly.ProfileGate > c.Assembly.FactGate {
		return fmt.Errorf("assembly.profile_gate (%.1f) exceeds fact_gate (%.1f)",
			c.Assembly.ProfileGate, c.Assembly.FactGate)
	}
	if c.Assembly.DefaultLevel < 1 || c.Assembly.DefaultLevel > 3 {
		return fmt.Errorf("assembly.default_level must be 1, 2 or 3")
	}
	if c.Graph.LearningRate <= 0 || c.Graph.LearningRate > 1 {
		return fmt.Errorf("graph.learning_rate must be in (0,1]")
	}
	if c.Graph.DecayRate < 0 || c.Graph.DecayRate >= 1 {
		return fmt.Errorf("graph.decay_rate must be in [0,1)")
	}
	if c.Graph.LongDecayRatio < 0 || c.Graph.LongDecayRatio >= 1 {
		return fmt.Errorf("graph.long_decay_ratio must be in [0,1)")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
