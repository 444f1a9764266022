// Package config centralizes environment configuration. Call Load once at
// process start, after godotenv has had its chance to populate the
// environment from .env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultMaxConcurrentJobs = 7
	// Hard ceiling regardless of env; the portal and the LLM quota cannot
	// sustain more in-flight bills than this.
	MaxConcurrentJobsCeiling = 10

	DefaultJobTimeoutSec      = 3600
	DefaultDownloadTimeoutSec = 60
	DefaultPollInterval       = 5 * time.Second
	DefaultNavigationTimeout  = 30 * time.Second
	DefaultLLMSoftTimeout     = 120 * time.Second
	DefaultLLMHardTimeout     = 300 * time.Second

	// URL substring that marks a committee-report publication and therefore
	// a fiscal-note checkpoint.
	DefaultCommitteeReportURLPattern = "CommReports"
)

type Config struct {
	PortalHost string
	BillsRoot  string

	// Redis host:port for job liveness keys.
	KVAddress string

	// OpenAI-compatible chat completions endpoint; empty selects Gemini.
	LLMEndpoint   string
	LLMAPIKey     string
	GeminiAPIKey  string
	EmbedEndpoint string
	EmbedAPIKey   string
	EmbedModel    string

	MaxConcurrentJobs int
	JobTimeout        time.Duration
	DownloadTimeout   time.Duration
	NavigationTimeout time.Duration
	PollInterval      time.Duration

	CommitteeReportURLPattern string

	// Optional extras: Postgres archive and prompt overrides.
	DatabaseURL string
	PromptsDir  string

	// HTTP API listen port.
	Port string
}

// Load reads configuration from the environment, applying defaults and
// clamping MAX_CONCURRENT_JOBS to the hard ceiling.
func Load() Config {
	cfg := Config{
		PortalHost:                envStr("PORTAL_HOST", "www.capitol.hawaii.gov"),
		BillsRoot:                 envStr("BILLS_ROOT", "bills"),
		KVAddress:                 envStr("KV_ADDRESS", "localhost:6379"),
		LLMEndpoint:               os.Getenv("LLM_ENDPOINT"),
		LLMAPIKey:                 os.Getenv("LLM_API_KEY"),
		GeminiAPIKey:              os.Getenv("GEMINI_API_KEY"),
		EmbedEndpoint:             os.Getenv("EMBED_ENDPOINT"),
		EmbedAPIKey:               envStr("EMBED_API_KEY", os.Getenv("GEMINI_API_KEY")),
		EmbedModel:                envStr("EMBED_MODEL", "text-embedding-004"),
		MaxConcurrentJobs:         envInt("MAX_CONCURRENT_JOBS", DefaultMaxConcurrentJobs),
		JobTimeout:                time.Duration(envInt("JOB_TIMEOUT_SEC", DefaultJobTimeoutSec)) * time.Second,
		DownloadTimeout:           time.Duration(envInt("DOWNLOAD_TIMEOUT_SEC", DefaultDownloadTimeoutSec)) * time.Second,
		NavigationTimeout:         DefaultNavigationTimeout,
		PollInterval:              DefaultPollInterval,
		CommitteeReportURLPattern: envStr("COMMITTEE_REPORT_URL_PATTERN", DefaultCommitteeReportURLPattern),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		PromptsDir:                os.Getenv("PROMPTS_DIR"),
		Port:                      envStr("PORT", "8080"),
	}

	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.MaxConcurrentJobs > MaxConcurrentJobsCeiling {
		fmt.Printf("⚠️  MAX_CONCURRENT_JOBS=%d exceeds ceiling, clamping to %d\n",
			cfg.MaxConcurrentJobs, MaxConcurrentJobsCeiling)
		cfg.MaxConcurrentJobs = MaxConcurrentJobsCeiling
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("⚠️  %s=%q is not an integer, using default %d\n", key, v, fallback)
		return fallback
	}
	return n
}
