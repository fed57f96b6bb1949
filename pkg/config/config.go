// Package config holds typed runtime configuration loaded from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the foldy server.
type Config struct {
	HTTP     *HTTPConfig
	Redis    *RedisConfig
	Jobs     *JobsConfig
	Reaper   *ReaperConfig
	Reasoner *ReasonerConfig
	Archive  *ArchiveConfig
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Host string
	Port string

	// CORSOrigins is the allowlist of origins for cross-origin requests.
	// Empty means no CORS headers are emitted.
	CORSOrigins []string
}

// RedisConfig contains shared key/value store connection settings.
// All cross-instance state lives in the single logical database the
// client connects to; key isolation is by prefix, never by DB index
// (cluster mode has no SELECT).
type RedisConfig struct {
	Addr     string
	Password string

	DialTimeout time.Duration
	ReadTimeout time.Duration

	// KeyPrefix is the application prefix every key starts with.
	KeyPrefix string
}

// JobsConfig controls job state, meta, and event queue behavior.
type JobsConfig struct {
	// StateTTL is the time-to-live applied to job state and meta hashes,
	// refreshed on every write.
	StateTTL time.Duration

	// EventsTTL is the time-to-live on per-job event lists.
	EventsTTL time.Duration

	// MaxEventsPerJob bounds the event list; oldest events are trimmed
	// when the bound is exceeded.
	MaxEventsPerJob int

	// StructuresDir is where generated structure files are written.
	StructuresDir string
}

// ReaperConfig controls the background sweep of stale job state.
type ReaperConfig struct {
	// Interval is how often the reaper loop runs.
	Interval time.Duration

	// StaleTerminalThreshold is the minimum age of a terminal job state
	// before the reaper removes it.
	StaleTerminalThreshold time.Duration

	// OrphanMetaThreshold is the minimum age of a meta hash whose state
	// hash no longer exists before the reaper removes it.
	OrphanMetaThreshold time.Duration

	// DryRun reports orphan structure files without deleting them.
	DryRun bool
}

// ReasonerConfig contains settings for the external reasoning engine.
type ReasonerConfig struct {
	BaseURL string

	// ReadTimeout bounds a single streaming read; ConnectTimeout bounds
	// the initial dial. InterruptTimeout bounds the fire-and-forget
	// interrupt call.
	ReadTimeout      time.Duration
	ConnectTimeout   time.Duration
	InterruptTimeout time.Duration

	// UseMock substitutes the deterministic file-backed generator for the
	// live reasoner.
	UseMock bool

	// Mock pacing: DelayMode is "random" (uniform MockDelayMin..MockDelayMax
	// between messages) or "real" (per-message delays from the data file).
	MockDelayMin  time.Duration
	MockDelayMax  time.Duration
	MockDelayMode string
	MockDataFile  string
}

// ArchiveConfig configures the optional durable mirror of terminal jobs.
type ArchiveConfig struct {
	// DatabaseURL is a Postgres DSN. Empty disables the archive.
	DatabaseURL string
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host: "",
			Port: "8080",
		},
		Redis: &RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
			KeyPrefix:   "foldy",
		},
		Jobs: &JobsConfig{
			StateTTL:        24 * time.Hour,
			EventsTTL:       24 * time.Hour,
			MaxEventsPerJob: 1000,
			StructuresDir:   "./data/structures",
		},
		Reaper: &ReaperConfig{
			Interval:               10 * time.Minute,
			StaleTerminalThreshold: 72 * time.Hour,
			OrphanMetaThreshold:    48 * time.Hour,
		},
		Reasoner: &ReasonerConfig{
			BaseURL:          "http://localhost:9090",
			ReadTimeout:      300 * time.Second,
			ConnectTimeout:   30 * time.Second,
			InterruptTimeout: 10 * time.Second,
			MockDelayMin:     150 * time.Millisecond,
			MockDelayMax:     600 * time.Millisecond,
			MockDelayMode:    "random",
		},
		Archive: &ArchiveConfig{},
	}
}

// Load builds the configuration from defaults overridden by environment
// variables. It returns an error only for values that cannot be parsed;
// missing variables keep their defaults.
func Load() (*Config, error) {
	cfg := Default()

	cfg.HTTP.Host = getEnv("HTTP_HOST", cfg.HTTP.Host)
	cfg.HTTP.Port = getEnv("HTTP_PORT", cfg.HTTP.Port)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	var err error
	if cfg.Redis.DialTimeout, err = getSeconds("REDIS_DIAL_TIMEOUT_SECONDS", cfg.Redis.DialTimeout); err != nil {
		return nil, err
	}
	if cfg.Redis.ReadTimeout, err = getSeconds("REDIS_READ_TIMEOUT_SECONDS", cfg.Redis.ReadTimeout); err != nil {
		return nil, err
	}
	if cfg.Jobs.StateTTL, err = getSeconds("JOB_STATE_TTL_SECONDS", cfg.Jobs.StateTTL); err != nil {
		return nil, err
	}
	if cfg.Jobs.EventsTTL, err = getSeconds("JOB_EVENTS_TTL_SECONDS", cfg.Jobs.EventsTTL); err != nil {
		return nil, err
	}
	if cfg.Jobs.MaxEventsPerJob, err = getInt("MAX_EVENTS_PER_JOB", cfg.Jobs.MaxEventsPerJob); err != nil {
		return nil, err
	}
	cfg.Jobs.StructuresDir = getEnv("STRUCTURES_DIR", cfg.Jobs.StructuresDir)

	if cfg.Reaper.Interval, err = getSeconds("REAPER_INTERVAL_SECONDS", cfg.Reaper.Interval); err != nil {
		return nil, err
	}
	if cfg.Reaper.StaleTerminalThreshold, err = getSeconds("STALE_TERMINAL_THRESHOLD_SECONDS", cfg.Reaper.StaleTerminalThreshold); err != nil {
		return nil, err
	}
	if cfg.Reaper.OrphanMetaThreshold, err = getSeconds("ORPHAN_META_THRESHOLD_SECONDS", cfg.Reaper.OrphanMetaThreshold); err != nil {
		return nil, err
	}
	if cfg.Reaper.DryRun, err = getBool("REAPER_DRY_RUN", cfg.Reaper.DryRun); err != nil {
		return nil, err
	}

	cfg.Reasoner.BaseURL = getEnv("REASONER_BASE_URL", cfg.Reasoner.BaseURL)
	if cfg.Reasoner.ReadTimeout, err = getSeconds("REASONER_TIMEOUT_SECONDS", cfg.Reasoner.ReadTimeout); err != nil {
		return nil, err
	}
	if cfg.Reasoner.ConnectTimeout, err = getSeconds("REASONER_CONNECT_TIMEOUT_SECONDS", cfg.Reasoner.ConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.Reasoner.InterruptTimeout, err = getSeconds("REASONER_INTERRUPT_TIMEOUT_SECONDS", cfg.Reasoner.InterruptTimeout); err != nil {
		return nil, err
	}
	if cfg.Reasoner.UseMock, err = getBool("USE_MOCK_REASONER", cfg.Reasoner.UseMock); err != nil {
		return nil, err
	}
	if cfg.Reasoner.MockDelayMin, err = getMillis("MOCK_DELAY_MIN_MS", cfg.Reasoner.MockDelayMin); err != nil {
		return nil, err
	}
	if cfg.Reasoner.MockDelayMax, err = getMillis("MOCK_DELAY_MAX_MS", cfg.Reasoner.MockDelayMax); err != nil {
		return nil, err
	}
	cfg.Reasoner.MockDelayMode = getEnv("MOCK_DELAY_MODE", cfg.Reasoner.MockDelayMode)
	if cfg.Reasoner.MockDelayMode != "random" && cfg.Reasoner.MockDelayMode != "real" {
		return nil, fmt.Errorf("MOCK_DELAY_MODE must be \"random\" or \"real\", got %q", cfg.Reasoner.MockDelayMode)
	}
	cfg.Reasoner.MockDataFile = getEnv("MOCK_DATA_FILE", cfg.Reasoner.MockDataFile)

	cfg.Archive.DatabaseURL = getEnv("ARCHIVE_DATABASE_URL", cfg.Archive.DatabaseURL)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getSeconds(key string, fallback time.Duration) (time.Duration, error) {
	n, err := getInt(key, int(fallback/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func getMillis(key string, fallback time.Duration) (time.Duration, error) {
	n, err := getInt(key, int(fallback/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
