// Package config loads and validates runtime settings at startup.
// Fail-fast: an invalid value aborts the command with an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Embedding providers understood by the encoder package.
const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
)

// Config holds all runtime configuration for the matching service.
type Config struct {
	HTTPPort       string
	GRPCPort       string
	DatabaseURL    string
	RedisURL       string // empty disables the cycle lock and event publishing
	StorageTimeout time.Duration

	Embedding   Embedding
	Text        TextThresholds
	LLM         LLM
	Credentials Credentials
	Ranking     Ranking
	Retention   Retention
	Scrape      Scrape
}

// Embedding configures the vector encoder.
type Embedding struct {
	Provider   string
	ModelName  string
	Dimension  int
	BatchSize  int
	UseGPU     bool // forwarded to providers that can honour it
	MaxRetries int
	Workers    int
	Timeout    time.Duration
	BaseURL    string
	APIKeys    []string
}

// TextThresholds are the minimum lengths a field must exceed before it is
// included in encoder input, per field class.
type TextThresholds struct {
	Narrative  int // experience, projects
	Credential int // certifications
	Category   int // industries
}

// LLM configures the chat-completion relay.
type LLM struct {
	BaseURL string
	Model   string
	APIKeys []string
}

// Credentials configures the rotation pools.
type Credentials struct {
	Cooldown time.Duration
}

// Ranking configures candidate retrieval for recommendations.
type Ranking struct {
	CandidateMultiplier int
	CandidateFloor      int
	MinScoreDefault     float64 // 0.0–1.0
}

// Retention configures the stale job sweep.
type Retention struct {
	Days int
}

// Scrape configures the ingest cycle and the Adzuna source.
type Scrape struct {
	Schedule      string
	Location      string
	PerTerm       int
	MaxTerms      int
	ExcludeTerms  []string
	AdzunaAppID   string
	AdzunaAppKey  string
	AdzunaCountry string
}

var defaults = map[string]any{
	"HTTP_PORT":             "8083",
	"GRPC_PORT":             "9093",
	"STORAGE_TIMEOUT":       "10s",
	"EMBEDDING_PROVIDER":    ProviderHashing,
	"EMBEDDING_MODEL_NAME":  "all-MiniLM-L6-v2",
	"EMBEDDING_DIMENSION":   384,
	"EMBEDDING_BATCH_SIZE":  32,
	"EMBEDDING_USE_GPU":     false,
	"EMBEDDING_MAX_RETRIES": 3,
	"EMBEDDING_WORKERS":     4,
	"EMBEDDING_TIMEOUT":     "30s",
	"MIN_LEN_NARRATIVE":     10,
	"MIN_LEN_CREDENTIAL":    5,
	"MIN_LEN_CATEGORY":      3,
	"LLM_BASE_URL":          "https://api.groq.com/openai/v1",
	"LLM_MODEL":             "meta-llama/llama-4-scout-17b-16e-instruct",
	"CREDENTIAL_COOLDOWN":   "60s",
	"CANDIDATE_MULTIPLIER":  10,
	"CANDIDATE_FLOOR":       200,
	"MIN_SCORE_DEFAULT":     0.6,
	"RETENTION_DAYS":        7,
	"SCRAPE_SCHEDULE":       "@every 12h",
	"SCRAPE_LOCATION":       "India",
	"SCRAPE_PER_TERM":       15,
	"SCRAPE_MAX_TERMS":      30,
	"ADZUNA_COUNTRY":        "in",
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing default ".env" is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Load reads settings from v (flags and environment) and returns a validated
// Config. A nil v reads the environment only.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	cfg := &Config{
		HTTPPort:       v.GetString("HTTP_PORT"),
		GRPCPort:       v.GetString("GRPC_PORT"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		RedisURL:       v.GetString("REDIS_URL"),
		StorageTimeout: v.GetDuration("STORAGE_TIMEOUT"),
		Embedding: Embedding{
			Provider:   strings.ToLower(strings.TrimSpace(v.GetString("EMBEDDING_PROVIDER"))),
			ModelName:  v.GetString("EMBEDDING_MODEL_NAME"),
			Dimension:  v.GetInt("EMBEDDING_DIMENSION"),
			BatchSize:  v.GetInt("EMBEDDING_BATCH_SIZE"),
			UseGPU:     v.GetBool("EMBEDDING_USE_GPU"),
			MaxRetries: v.GetInt("EMBEDDING_MAX_RETRIES"),
			Workers:    v.GetInt("EMBEDDING_WORKERS"),
			Timeout:    v.GetDuration("EMBEDDING_TIMEOUT"),
			BaseURL:    v.GetString("EMBEDDING_BASE_URL"),
			APIKeys:    SplitList(v.GetString("EMBEDDING_API_KEYS")),
		},
		Text: TextThresholds{
			Narrative:  v.GetInt("MIN_LEN_NARRATIVE"),
			Credential: v.GetInt("MIN_LEN_CREDENTIAL"),
			Category:   v.GetInt("MIN_LEN_CATEGORY"),
		},
		LLM: LLM{
			BaseURL: v.GetString("LLM_BASE_URL"),
			Model:   v.GetString("LLM_MODEL"),
			APIKeys: SplitList(v.GetString("LLM_API_KEYS")),
		},
		Credentials: Credentials{
			Cooldown: v.GetDuration("CREDENTIAL_COOLDOWN"),
		},
		Ranking: Ranking{
			CandidateMultiplier: v.GetInt("CANDIDATE_MULTIPLIER"),
			CandidateFloor:      v.GetInt("CANDIDATE_FLOOR"),
			MinScoreDefault:     v.GetFloat64("MIN_SCORE_DEFAULT"),
		},
		Retention: Retention{
			Days: v.GetInt("RETENTION_DAYS"),
		},
		Scrape: Scrape{
			Schedule:      v.GetString("SCRAPE_SCHEDULE"),
			Location:      v.GetString("SCRAPE_LOCATION"),
			PerTerm:       v.GetInt("SCRAPE_PER_TERM"),
			MaxTerms:      v.GetInt("SCRAPE_MAX_TERMS"),
			ExcludeTerms:  SplitList(v.GetString("SCRAPE_EXCLUDE_TERMS")),
			AdzunaAppID:   v.GetString("ADZUNA_APP_ID"),
			AdzunaAppKey:  v.GetString("ADZUNA_APP_KEY"),
			AdzunaCountry: v.GetString("ADZUNA_COUNTRY"),
		},
	}

	// A single key is accepted when no pool is configured.
	if len(cfg.LLM.APIKeys) == 0 {
		cfg.LLM.APIKeys = SplitList(v.GetString("LLM_API_KEY"))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireDatabase reports an error when no DATABASE_URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Embedding.Provider {
	case ProviderHashing:
	case ProviderOpenAI:
		// Self-hosted OpenAI-compatible servers may run without a key.
		if c.Embedding.BaseURL == "" && len(c.Embedding.APIKeys) == 0 {
			return fmt.Errorf("EMBEDDING_API_KEYS or EMBEDDING_BASE_URL is required for provider %q", c.Embedding.Provider)
		}
	case ProviderGemini:
		if len(c.Embedding.APIKeys) == 0 {
			return fmt.Errorf("EMBEDDING_API_KEYS is required for provider %q", c.Embedding.Provider)
		}
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of hashing, openai, gemini, got %q", c.Embedding.Provider)
	}

	positive := []struct {
		name string
		val  int
	}{
		{"EMBEDDING_DIMENSION", c.Embedding.Dimension},
		{"EMBEDDING_BATCH_SIZE", c.Embedding.BatchSize},
		{"EMBEDDING_WORKERS", c.Embedding.Workers},
		{"CANDIDATE_MULTIPLIER", c.Ranking.CandidateMultiplier},
		{"CANDIDATE_FLOOR", c.Ranking.CandidateFloor},
		{"RETENTION_DAYS", c.Retention.Days},
		{"SCRAPE_PER_TERM", c.Scrape.PerTerm},
		{"SCRAPE_MAX_TERMS", c.Scrape.MaxTerms},
	}
	for _, p := range positive {
		if p.val < 1 {
			return fmt.Errorf("%s must be a positive integer, got %d", p.name, p.val)
		}
	}

	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("EMBEDDING_MAX_RETRIES must not be negative, got %d", c.Embedding.MaxRetries)
	}
	if c.Text.Narrative < 0 || c.Text.Credential < 0 || c.Text.Category < 0 {
		return fmt.Errorf("MIN_LEN_* thresholds must not be negative")
	}
	if c.Ranking.MinScoreDefault < 0 || c.Ranking.MinScoreDefault > 1 {
		return fmt.Errorf("MIN_SCORE_DEFAULT must be within [0, 1], got %v", c.Ranking.MinScoreDefault)
	}
	if c.Credentials.Cooldown <= 0 {
		return fmt.Errorf("CREDENTIAL_COOLDOWN must be positive, got %s", c.Credentials.Cooldown)
	}
	if c.Embedding.Timeout <= 0 || c.StorageTimeout <= 0 {
		return fmt.Errorf("EMBEDDING_TIMEOUT and STORAGE_TIMEOUT must be positive")
	}
	return nil
}

// SplitList splits a comma-separated value, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
