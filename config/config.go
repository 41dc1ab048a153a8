// Package config provides application configuration for MemFuse.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects the turn pipeline depth.
type Mode string

const (
	// ModeSimple stores raw events and retrieves by similarity only.
	ModeSimple Mode = "simple"
	// ModeFull runs extraction, disambiguation, intent classification and
	// fused-score retrieval on every turn.
	ModeFull Mode = "full"
)

// Config holds all application configuration.
type Config struct {
	Mode Mode

	// Providers.
	OpenAIKey       string
	AnthropicKey    string
	EmbedModel      string
	CompleteModel   string
	ProviderTimeout time.Duration

	// Storage.
	DBPath    string
	VectorDir string // empty means in-memory vector index

	// FactsDBPath points at the read-only business database used for entity
	// linking. Empty disables linking against external records.
	FactsDBPath string
	// FactsSeed populates the business database with sample rows on start.
	FactsSeed bool

	// HTTP harness.
	Port string

	Extraction     ExtractionConfig
	Retrieval      RetrievalConfig
	Consolidation  ConsolidationConfig
	Disambiguation DisambiguationConfig
}

// ExtractionConfig controls entity linking thresholds.
type ExtractionConfig struct {
	// AcceptThreshold auto-resolves a candidate link at or above this confidence.
	AcceptThreshold float64
	// ConsiderThreshold is the floor below which candidates are discarded.
	ConsiderThreshold float64
	// ClosenessMargin marks the top two candidates ambiguous when their
	// confidences differ by less than this.
	ClosenessMargin float64
}

// RetrievalConfig controls fused scoring and result sizing.
type RetrievalConfig struct {
	// Weights for the fused score. They should sum to 1.
	SimilarityWeight float64
	ImportanceWeight float64
	RecencyWeight    float64
	// SummaryThreshold short-circuits to a session summary when its
	// similarity meets or exceeds this value.
	SummaryThreshold float64
	// TopK is the number of memories returned per query.
	TopK int
	// RecencyHorizon is the age at which recency decays to its floor.
	RecencyHorizon time.Duration
}

// ConsolidationConfig controls cross-session merging.
type ConsolidationConfig struct {
	// MergeThreshold is the minimum pairwise similarity for two memories
	// to be merged.
	MergeThreshold float64
	// ImportanceBoost is added to a merged memory's importance, capped at 1.
	ImportanceBoost float64
	// SessionWindow is how many recent sessions a summary covers.
	SessionWindow int
}

// DisambiguationConfig controls pending clarification state.
type DisambiguationConfig struct {
	// TTL is how long a pending clarification stays answerable.
	TTL time.Duration
	// MaxCandidates is the number of options offered to the user.
	MaxCandidates int
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	return &Config{
		Mode:            ModeFull,
		EmbedModel:      "text-embedding-3-small",
		ProviderTimeout: 30 * time.Second,
		DBPath:          "./data/memfuse.db",
		Port:            "8080",
		Extraction: ExtractionConfig{
			AcceptThreshold:   0.75,
			ConsiderThreshold: 0.40,
			ClosenessMargin:   0.05,
		},
		Retrieval: RetrievalConfig{
			SimilarityWeight: 0.6,
			ImportanceWeight: 0.25,
			RecencyWeight:    0.15,
			SummaryThreshold: 0.7,
			TopK:             10,
			RecencyHorizon:   365 * 24 * time.Hour,
		},
		Consolidation: ConsolidationConfig{
			MergeThreshold:  0.83,
			ImportanceBoost: 0.1,
			SessionWindow:   5,
		},
		Disambiguation: DisambiguationConfig{
			TTL:           10 * time.Minute,
			MaxCandidates: 3,
		},
	}
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first if present; real environment variables
// take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Mode:            Mode(getEnv("MEMFUSE_MODE", string(ModeFull))),
		OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
		EmbedModel:      getEnv("MEMFUSE_EMBED_MODEL", "text-embedding-3-small"),
		CompleteModel:   getEnv("MEMFUSE_COMPLETE_MODEL", ""),
		ProviderTimeout: getEnvDuration("MEMFUSE_PROVIDER_TIMEOUT", 30*time.Second),
		DBPath:          getEnv("MEMFUSE_DB_PATH", "./data/memfuse.db"),
		VectorDir:       getEnv("MEMFUSE_VECTOR_DIR", ""),
		FactsDBPath:     getEnv("MEMFUSE_FACTS_DB_PATH", ""),
		FactsSeed:       getEnvBool("MEMFUSE_FACTS_SEED", false),
		Port:            getEnv("PORT", "8080"),
		Extraction: ExtractionConfig{
			AcceptThreshold:   getEnvFloat("MEMFUSE_ACCEPT_THRESHOLD", 0.75),
			ConsiderThreshold: getEnvFloat("MEMFUSE_CONSIDER_THRESHOLD", 0.40),
			ClosenessMargin:   getEnvFloat("MEMFUSE_CLOSENESS_MARGIN", 0.05),
		},
		Retrieval: RetrievalConfig{
			SimilarityWeight: getEnvFloat("MEMFUSE_WEIGHT_SIMILARITY", 0.6),
			ImportanceWeight: getEnvFloat("MEMFUSE_WEIGHT_IMPORTANCE", 0.25),
			RecencyWeight:    getEnvFloat("MEMFUSE_WEIGHT_RECENCY", 0.15),
			SummaryThreshold: getEnvFloat("MEMFUSE_SUMMARY_THRESHOLD", 0.7),
			TopK:             getEnvInt("MEMFUSE_RETRIEVAL_TOP_K", 10),
			RecencyHorizon:   getEnvDuration("MEMFUSE_RECENCY_HORIZON", 365*24*time.Hour),
		},
		Consolidation: ConsolidationConfig{
			MergeThreshold:  getEnvFloat("MEMFUSE_MERGE_THRESHOLD", 0.83),
			ImportanceBoost: getEnvFloat("MEMFUSE_IMPORTANCE_BOOST", 0.1),
			SessionWindow:   getEnvInt("MEMFUSE_SESSION_WINDOW", 5),
		},
		Disambiguation: DisambiguationConfig{
			TTL:           getEnvDuration("MEMFUSE_DISAMBIGUATION_TTL", 10*time.Minute),
			MaxCandidates: getEnvInt("MEMFUSE_DISAMBIGUATION_CANDIDATES", 3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Mode != ModeSimple && c.Mode != ModeFull {
		return fmt.Errorf("MEMFUSE_MODE must be %q or %q, got %q", ModeSimple, ModeFull, c.Mode)
	}
	if c.DBPath == "" {
		return fmt.Errorf("MEMFUSE_DB_PATH cannot be empty")
	}
	e := c.Extraction
	if e.ConsiderThreshold <= 0 || e.AcceptThreshold <= e.ConsiderThreshold || e.AcceptThreshold > 1 {
		return fmt.Errorf("extraction thresholds out of range: accept=%.2f consider=%.2f", e.AcceptThreshold, e.ConsiderThreshold)
	}
	r := c.Retrieval
	sum := r.SimilarityWeight + r.ImportanceWeight + r.RecencyWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("retrieval weights must sum to 1, got %.3f", sum)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("MEMFUSE_RETRIEVAL_TOP_K must be > 0")
	}
	if c.Consolidation.MergeThreshold <= 0 || c.Consolidation.MergeThreshold > 1 {
		return fmt.Errorf("MEMFUSE_MERGE_THRESHOLD must be in (0, 1]")
	}
	if c.Disambiguation.MaxCandidates <= 0 {
		return fmt.Errorf("MEMFUSE_DISAMBIGUATION_CANDIDATES must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
