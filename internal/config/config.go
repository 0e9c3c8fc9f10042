// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProxyModeOff       = "off"
	ProxyModePerWorker = "per_worker"
)

// Config carries every runtime setting for the ingest service.
type Config struct {
	DBPath   string
	SpoolDir string

	Workers int
	Quality string

	PollInterval time.Duration
	JobPause     time.Duration
	ReapAfter    time.Duration
	ReapInterval time.Duration

	RetryMax        int
	RetryBaseDelay  time.Duration
	RetryMultiplier float64
	RateLimitDelay  time.Duration

	RefreshDone  bool
	CleanupAfter time.Duration

	CookiesPath string
	ProxyMode   string
	Proxies     []string

	B2KeyID      string
	B2AppKey     string
	B2BucketID   string
	B2BucketName string
	B2APIURL     string
}

// Load reads settings from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
// Unparseable or out-of-range values fall back to their defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DBPath:          env("YTI_DB_PATH", "data/ingest.db"),
		SpoolDir:        env("YTI_SPOOL_DIR", "data/spool"),
		Workers:         envInt("YTI_WORKERS", 2),
		Quality:         normalizeQuality(os.Getenv("YTI_QUALITY")),
		PollInterval:    envDuration("YTI_POLL_INTERVAL", 10*time.Second),
		JobPause:        envDuration("YTI_JOB_PAUSE", time.Second),
		ReapAfter:       envDuration("YTI_REAP_AFTER", 30*time.Minute),
		ReapInterval:    envDuration("YTI_REAP_INTERVAL", 2*time.Minute),
		RetryMax:        envInt("YTI_RETRY_MAX", 3),
		RetryBaseDelay:  envDuration("YTI_RETRY_BASE_DELAY", 2*time.Second),
		RetryMultiplier: envFloat("YTI_RETRY_MULTIPLIER", 2),
		RateLimitDelay:  envDuration("YTI_RATE_LIMIT_DELAY", 30*time.Second),
		RefreshDone:     envBool("YTI_REFRESH_DONE", false),
		CleanupAfter:    envDuration("YTI_CLEANUP_AFTER", 168*time.Hour),
		CookiesPath:     strings.TrimSpace(os.Getenv("YTI_COOKIES")),
		ProxyMode:       normalizeProxyMode(os.Getenv("YTI_PROXY_MODE")),
		Proxies:         splitProxies(os.Getenv("YTI_PROXIES")),
		B2KeyID:         strings.TrimSpace(os.Getenv("B2_KEY_ID")),
		B2AppKey:        strings.TrimSpace(os.Getenv("B2_APP_KEY")),
		B2BucketID:      strings.TrimSpace(os.Getenv("B2_BUCKET_ID")),
		B2BucketName:    strings.TrimSpace(os.Getenv("B2_BUCKET_NAME")),
		B2APIURL:        strings.TrimSpace(os.Getenv("B2_API_URL")),
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.JobPause < 0 {
		cfg.JobPause = time.Second
	}
	if cfg.ReapAfter <= 0 {
		cfg.ReapAfter = 30 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 2 * time.Minute
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.RetryMultiplier < 1 {
		cfg.RetryMultiplier = 2
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 30 * time.Second
	}
	if cfg.CleanupAfter <= 0 {
		cfg.CleanupAfter = 168 * time.Hour
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ProxyMode == ProxyModePerWorker {
		if len(c.Proxies) == 0 {
			return fmt.Errorf("proxy mode %q requires at least one proxy", ProxyModePerWorker)
		}
		if c.Workers > len(c.Proxies) {
			return fmt.Errorf("proxy mode %q requires at least %d proxies for %d workers", ProxyModePerWorker, c.Workers, c.Workers)
		}
	}
	return nil
}

// B2Configured reports whether all required upload credentials are set.
func (c Config) B2Configured() bool {
	return c.B2KeyID != "" && c.B2AppKey != "" && c.B2BucketID != "" && c.B2BucketName != ""
}

// ProxyForWorker returns the proxy assigned to a worker, or "" when proxy
// mode is off or the worker has no slot. Worker ids are 1-based.
func (c Config) ProxyForWorker(workerID int) string {
	if c.ProxyMode != ProxyModePerWorker {
		return ""
	}
	if workerID <= 0 || workerID > len(c.Proxies) {
		return ""
	}
	return c.Proxies[workerID-1]
}

func normalizeQuality(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1080p":
		return "1080p"
	case "720p":
		return "720p"
	default:
		return "best"
	}
}

func normalizeProxyMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ProxyModePerWorker:
		return ProxyModePerWorker
	default:
		return ProxyModeOff
	}
}

func splitProxies(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
