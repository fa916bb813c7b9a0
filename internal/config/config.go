// Package config loads the orchestrator's configuration from the process
// environment (optionally seeded by a local .env file), following the
// teacher's convention of env-var-first configuration with explicit
// defaults applied after parsing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EngineConfig describes one OpenAI-compatible inference engine.
type EngineConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// EmbeddingConfig describes the local sentence embedder endpoint.
type EmbeddingConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
}

// SandboxConfig describes the code-execution sandbox collaborator.
type SandboxConfig struct {
	BaseURL string
	Timeout time.Duration
}

// LibraryConfig describes the document-ingestion peer service.
type LibraryConfig struct {
	BaseURL string
}

// SurpriseConfig holds the memory-worker's surprise-gating weights. These
// are deliberately config-settable: spec.md flags (0.6, 0.4) and the 0.7
// threshold as "initial estimates", not fixed constants.
type SurpriseConfig struct {
	Alpha             float64 // weight on normalized perplexity
	Threshold         float64 // minimum surprise score to retain
	PerplexityDivisor float64 // log(p+1)/divisor normalization
}

// ArchiveConfig controls the cold-archive lifecycle worker.
type ArchiveConfig struct {
	Enabled bool
	Keep    int
	Days    int
	Hour    int
	Minute  int
}

// Config is the orchestrator's complete runtime configuration, populated by
// Load from the environment variables listed in the specification.
type Config struct {
	Host string
	Port int

	// PublicURL is the address other services (notably the sandbox's
	// ask_llm callback) use to reach this process, since Host alone may be
	// a bind address like "0.0.0.0" that isn't itself dialable.
	PublicURL string

	DataPath string

	RedisURL string

	Fast EngineConfig
	Deep EngineConfig

	Embedding EmbeddingConfig
	Sandbox   SandboxConfig
	Library   LibraryConfig

	StreamKey       string
	StreamMaxLen    int64
	LastIDKey       string
	StartFromLatest bool

	Surprise SurpriseConfig
	Archive  ArchiveConfig

	MetricsSampleInterval time.Duration

	MaxTokens          int
	MaxAgentSteps      int
	AgentHardCap       int
	LLMTimeout         time.Duration
	ToolTimeout        time.Duration
	SandboxTimeout     time.Duration
	AskLLMRecursionCap int

	LogPath  string
	LogLevel string

	OTLPEndpoint string
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	return def
}

func getenvDuration(key string, defSeconds int) time.Duration {
	return time.Duration(getenvInt(key, defSeconds)) * time.Second
}

// Load reads configuration from the environment. It calls godotenv.Overload
// first so a repository-local .env deterministically controls development
// defaults, exactly as the teacher's loader does.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Host:     getenv("HOST", "0.0.0.0"),
		Port:     getenvInt("PORT", 8080),
		DataPath: getenv("DATA_PATH", "./data"),
		RedisURL: getenv("KV_URL", "redis://localhost:6379/0"),

		Fast: EngineConfig{
			BaseURL: getenv("FAST_ENGINE_URL", ""),
			Model:   getenv("FAST_MODEL", "fast-model"),
		},
		Deep: EngineConfig{
			BaseURL: getenv("DEEP_ENGINE_URL", ""),
			Model:   getenv("DEEP_MODEL", "deep-model"),
		},

		Embedding: EmbeddingConfig{
			BaseURL:    getenv("EMBED_BASE_URL", "http://localhost:8002"),
			Model:      getenv("EMBED_MODEL", "local-embedder"),
			Dimensions: getenvInt("EMBED_DIM", 384),
		},
		Sandbox: SandboxConfig{
			BaseURL: getenv("SANDBOX_URL", "http://localhost:8003"),
			Timeout: getenvDuration("SANDBOX_TIMEOUT_SEC", 10),
		},
		Library: LibraryConfig{
			BaseURL: getenv("LIBRARY_URL", ""),
		},

		StreamKey:       getenv("STREAM_KEY", "archive:input:stream"),
		StreamMaxLen:    getenvInt64("STREAM_MAXLEN", 1000),
		LastIDKey:       getenv("LAST_ID_KEY", "memory:last_id"),
		StartFromLatest: getenvBool("START_FROM_LATEST", false),

		Surprise: SurpriseConfig{
			Alpha:             getenvFloat("SURPRISE_ALPHA", 0.6),
			Threshold:         getenvFloat("SURPRISE_THRESHOLD", 0.7),
			PerplexityDivisor: getenvFloat("PERPLEXITY_NORM_DIVISOR", 5.0),
		},
		Archive: ArchiveConfig{
			Enabled: getenvBool("ARCHIVE_ENABLED", true),
			Keep:    getenvInt("ARCHIVE_KEEP", 1000),
			Days:    getenvInt("ARCHIVE_DAYS", 30),
			Hour:    getenvInt("ARCHIVE_HOUR", 3),
			Minute:  getenvInt("ARCHIVE_MINUTE", 0),
		},

		MetricsSampleInterval: getenvDuration("METRICS_SAMPLE_SEC", 30),

		MaxTokens:          getenvInt("MAX_TOKENS", 1024),
		MaxAgentSteps:      getenvInt("MAX_AGENT_STEPS", 10),
		AgentHardCap:       getenvInt("AGENT_HARD_CAP", 50),
		LLMTimeout:         getenvDuration("LLM_TIMEOUT_SEC", 60),
		ToolTimeout:        getenvDuration("TOOL_TIMEOUT_SEC", 30),
		SandboxTimeout:     getenvDuration("SANDBOX_TIMEOUT_SEC", 10),
		AskLLMRecursionCap: getenvInt("ASK_LLM_RECURSION_CAP", 50),

		LogPath:  getenv("LOG_PATH", ""),
		LogLevel: getenv("LOG_LEVEL", "info"),

		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	cfg.PublicURL = getenv("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port))

	if cfg.Fast.APIKey = getenv("FAST_ENGINE_API_KEY", ""); cfg.Fast.APIKey == "" {
		cfg.Fast.APIKey = getenv("OPENAI_API_KEY", "")
	}
	cfg.Deep.APIKey = getenv("DEEP_ENGINE_API_KEY", cfg.Fast.APIKey)
	cfg.Embedding.APIKey = getenv("EMBED_API_KEY", "")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Fast.BaseURL == "" {
		return fmt.Errorf("config: FAST_ENGINE_URL is required")
	}
	if c.Surprise.Alpha < 0 || c.Surprise.Alpha > 1 {
		return fmt.Errorf("config: SURPRISE_ALPHA must be in [0,1], got %v", c.Surprise.Alpha)
	}
	if c.Surprise.Threshold < 0 || c.Surprise.Threshold > 1 {
		return fmt.Errorf("config: SURPRISE_THRESHOLD must be in [0,1], got %v", c.Surprise.Threshold)
	}
	if c.MaxAgentSteps > c.AgentHardCap {
		return fmt.Errorf("config: MAX_AGENT_STEPS (%d) cannot exceed AGENT_HARD_CAP (%d)", c.MaxAgentSteps, c.AgentHardCap)
	}
	return nil
}

// HasDeepEngine reports whether a deep engine endpoint was configured. When
// false, routing treats the deep engine as permanently degraded (the
// "Goblin bypass" tolerance called out in spec.md).
func (c Config) HasDeepEngine() bool {
	return c.Deep.BaseURL != ""
}
