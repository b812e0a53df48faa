// Package config loads and holds all application configuration: concurrency
// lanes, selector gating thresholds, agent cache/prompt versions, and
// provider credentials. Configuration is read from an optional YAML file,
// a .env file, and the environment, in that precedence order (environment
// wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         App         `mapstructure:"app"`
	Concurrency Concurrency `mapstructure:"concurrency"`
	Selector    Selector    `mapstructure:"selector"`
	Agent       Agent       `mapstructure:"agent"`
	Cache       Cache       `mapstructure:"cache"`
	Database    Database    `mapstructure:"database"`
	LLM         LLM         `mapstructure:"llm"`
	Embedding   Embedding   `mapstructure:"embedding"`
}

// App holds general process configuration.
type App struct {
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// Lane mirrors one row of the lane table: a concurrency cap and an
// optional minimum spacing between admitted starts.
type Lane struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	MinSpacingMS  int `mapstructure:"min_spacing_ms"`
}

// Concurrency holds the named-lane configuration consumed by internal/limiter.
type Concurrency struct {
	LLM                 Lane `mapstructure:"llm"`
	Embed               Lane `mapstructure:"embed"`
	SourceBibliographic Lane `mapstructure:"source_bibliographic"`
	SourceFulltext      Lane `mapstructure:"source_fulltext"`
	EmbedBatchSize      int  `mapstructure:"embed_batch_size"`
}

// TemporalRerank holds the opt-in recency reranking weights.
type TemporalRerank struct {
	Enabled       bool          `mapstructure:"enabled"`
	WeightSim     float64       `mapstructure:"weight_similarity"`
	WeightYear    float64       `mapstructure:"weight_year"`
	RecencyWindow time.Duration `mapstructure:"recency_window"`
}

// Selector holds the corpus-selection gating configuration.
type Selector struct {
	SimilarityThreshold  float64        `mapstructure:"similarity_threshold"`
	MaxCandidatesToEmbed int            `mapstructure:"max_candidates_to_embed"`
	MaxSelectedPapers    int            `mapstructure:"max_selected_papers"`
	KeywordQueries       []string       `mapstructure:"keyword_queries"`
	TemporalRerank       TemporalRerank `mapstructure:"temporal_rerank"`
}

// Agent holds the AgentRunner's prompt/schema versioning and degradation caps.
type Agent struct {
	PromptVersion         string `mapstructure:"prompt_version"`
	SchemaVersion         string `mapstructure:"schema_version"`
	MaxSectionsPerPaper   int    `mapstructure:"max_sections_per_paper"`
	MaxSectionChars       int    `mapstructure:"max_section_chars"`
	MaxEntitiesPerPaper   int    `mapstructure:"max_entities_per_paper"`
	MaxEntitiesPerSection int    `mapstructure:"max_entities_per_section"`
	MaxEdgesPerPaper      int    `mapstructure:"max_edges_per_paper"`
	MinimalModeCap        int    `mapstructure:"minimal_mode_cap"`
}

// Cache holds the filesystem cache root and retry defaults.
type Cache struct {
	RootDir        string        `mapstructure:"root_dir"`
	RetryTries     int           `mapstructure:"retry_tries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// Database holds the repository connection configuration.
type Database struct {
	ConnectionString string `mapstructure:"connection_string"`
	MaxConnections   int    `mapstructure:"max_connections"`
	IdleConnections  int    `mapstructure:"idle_connections"`
}

// LLM holds the generative model provider configuration.
type LLM struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Embedding holds the embedding provider configuration.
type Embedding struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int32  `mapstructure:"dimensions"`
}

var globalConfig *Config

// Load reads configuration from defaults, configFile (or the default search
// path), and the environment, in that order of increasing precedence, and
// returns the unmarshalled Config. A .env file, if present, is loaded into
// the environment first without overriding variables that are already set.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".briefkg")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	postProcess(cfg)

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration, loading it with defaults if
// Load has not yet been called.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return cfg
	}
	return globalConfig
}

// Reset clears the cached global configuration, for test isolation.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".briefkg-cache")

	viper.SetDefault("concurrency.llm.max_concurrent", 2)
	viper.SetDefault("concurrency.llm.min_spacing_ms", 0)
	viper.SetDefault("concurrency.embed.max_concurrent", 4)
	viper.SetDefault("concurrency.embed.min_spacing_ms", 0)
	viper.SetDefault("concurrency.source_bibliographic.max_concurrent", 1)
	viper.SetDefault("concurrency.source_bibliographic.min_spacing_ms", 1000)
	viper.SetDefault("concurrency.source_fulltext.max_concurrent", 3)
	viper.SetDefault("concurrency.source_fulltext.min_spacing_ms", 0)
	viper.SetDefault("concurrency.embed_batch_size", 32)

	viper.SetDefault("selector.similarity_threshold", 0.7)
	viper.SetDefault("selector.max_candidates_to_embed", 500)
	viper.SetDefault("selector.max_selected_papers", 100)
	viper.SetDefault("selector.temporal_rerank.enabled", false)
	viper.SetDefault("selector.temporal_rerank.weight_similarity", 0.7)
	viper.SetDefault("selector.temporal_rerank.weight_year", 0.3)
	viper.SetDefault("selector.temporal_rerank.recency_window", "43800h") // ~5 years

	viper.SetDefault("agent.prompt_version", "v1")
	viper.SetDefault("agent.schema_version", "v1")
	viper.SetDefault("agent.max_sections_per_paper", 12)
	viper.SetDefault("agent.max_section_chars", 1200)
	viper.SetDefault("agent.max_entities_per_paper", 10)
	viper.SetDefault("agent.max_entities_per_section", 4)
	viper.SetDefault("agent.max_edges_per_paper", 12)
	viper.SetDefault("agent.minimal_mode_cap", 8)

	viper.SetDefault("cache.root_dir", ".cache")
	viper.SetDefault("cache.retry_tries", 6)
	viper.SetDefault("cache.retry_base_delay", "500ms")
	viper.SetDefault("cache.retry_max_delay", "8s")

	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.idle_connections", 5)

	viper.SetDefault("llm.model", "gemini-flash-lite-latest")
	viper.SetDefault("embedding.model", "gemini-embedding-001")
	viper.SetDefault("embedding.dimensions", 3072)
}

// bindEnvironmentVariables wires the exact env var names the repository
// contract names onto their mapstructure keys, in addition to the
// automatic prefix binding viper performs for every other key.
func bindEnvironmentVariables() {
	bindEnvKeys("concurrency.llm.max_concurrent", []string{"LLM_CONCURRENCY"})
	bindEnvKeys("concurrency.embed.max_concurrent", []string{"EMBED_CONCURRENCY"})
	bindEnvKeys("concurrency.embed_batch_size", []string{"EMBED_BATCH_SIZE"})
	bindEnvKeys("selector.similarity_threshold", []string{"SEMANTIC_THRESHOLD"})
	bindEnvKeys("selector.max_candidates_to_embed", []string{"MAX_CANDIDATES_TO_EMBED"})
	bindEnvKeys("selector.max_selected_papers", []string{"MAX_SELECTED_PAPERS"})
	bindEnvKeys("database.connection_string", []string{"DATABASE_URL"})
	bindEnvKeys("llm.api_key", []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY"})
	bindEnvKeys("embedding.api_key", []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY"})
}

func bindEnvKeys(viperKey string, envKeys []string) {
	args := append([]string{viperKey}, envKeys...)
	_ = viper.BindEnv(args...)
}

// ForceReingest reads the FORCE_REINGEST override directly, since it gates
// PipelineOrchestrator mode selection rather than a nested config field.
func ForceReingest() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("FORCE_REINGEST")))
	return v == "1" || v == "true" || v == "yes"
}

func postProcess(cfg *Config) {
	if cfg.App.DataDir != "" {
		cfg.App.DataDir = expandPath(cfg.App.DataDir)
	}
	if cfg.Cache.RootDir != "" {
		cfg.Cache.RootDir = expandPath(cfg.Cache.RootDir)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
