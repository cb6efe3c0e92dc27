// ABOUTME: Environment-derived configuration for addressd
// ABOUTME: Parses and validates all tunables for ingestion and serving

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default G-NAF package manifest on data.gov.au.
const defaultPackageURL = "https://data.gov.au/api/3/action/package_show?id=19432f89-dc3a-4ef3-b943-5326ef1dbecc"

// Config holds every environment-derived tunable the service honors.
type Config struct {
	// Index engine
	IndexPath string // directory holding the bleve index
	IndexName string

	// Paging
	DefaultPageSize int
	MaxPageSize     int
	MaxPageNumber   int

	// Bulk indexing
	BulkBackoffInitial   time.Duration
	BulkBackoffIncrement time.Duration
	BulkBackoffMax       time.Duration
	BulkMaxRetries       int // 0 = unlimited
	BulkTimeout          time.Duration

	// Ingestion
	PackageURL    string
	CacheDir      string // downloaded archive + manifest cache root
	ChunkSize     int    // chunk size in bytes; 0 = dynamic from resource monitor
	EnableGeo     bool
	CoveredStates []string // empty = all

	// Search cache
	CacheEnabled    bool
	CacheMaxEntries int
	CacheTTL        time.Duration

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerSuccessThreshold int

	// Dynamic resources
	DynamicResources  bool
	TargetUtilization float64 // fraction of free memory the pipeline may use

	// Logging
	LogLevel  string
	LogPretty bool
}

// FromEnv builds a Config from the process environment, applying defaults
// for anything unset. Returns an error for unparseable values rather than
// silently falling back.
func FromEnv() (*Config, error) {
	var errs []string

	cfg := &Config{
		IndexPath: envStr("ADDRESSD_INDEX_PATH", "addressd.bleve"),
		IndexName: envStr("ADDRESSD_INDEX_NAME", "addresses"),

		DefaultPageSize: envInt("ADDRESSD_PAGE_SIZE", 8, &errs),
		MaxPageSize:     envInt("ADDRESSD_MAX_PAGE_SIZE", 20, &errs),
		MaxPageNumber:   envInt("ADDRESSD_MAX_PAGE_NUMBER", 1000, &errs),

		BulkBackoffInitial:   envDuration("ADDRESSD_BULK_BACKOFF_INITIAL", time.Second, &errs),
		BulkBackoffIncrement: envDuration("ADDRESSD_BULK_BACKOFF_INCREMENT", time.Second, &errs),
		BulkBackoffMax:       envDuration("ADDRESSD_BULK_BACKOFF_MAX", 10*time.Second, &errs),
		BulkMaxRetries:       envInt("ADDRESSD_BULK_MAX_RETRIES", 5, &errs),
		BulkTimeout:          envDuration("ADDRESSD_BULK_TIMEOUT", 30*time.Second, &errs),

		PackageURL: envStr("ADDRESSD_PACKAGE_URL", defaultPackageURL),
		CacheDir:   envStr("ADDRESSD_CACHE_DIR", defaultCacheDir()),
		ChunkSize:  envInt("ADDRESSD_CHUNK_SIZE", 0, &errs),
		EnableGeo:  envBool("ADDRESSD_ENABLE_GEO", false, &errs),

		CacheEnabled:    envBool("ADDRESSD_CACHE_ENABLED", true, &errs),
		CacheMaxEntries: envInt("ADDRESSD_CACHE_MAX_ENTRIES", 100, &errs),
		CacheTTL:        envDuration("ADDRESSD_CACHE_TTL", 10*time.Minute, &errs),

		BreakerFailureThreshold: envInt("ADDRESSD_BREAKER_FAILURE_THRESHOLD", 5, &errs),
		BreakerResetTimeout:     envDuration("ADDRESSD_BREAKER_RESET_TIMEOUT", 30*time.Second, &errs),
		BreakerSuccessThreshold: envInt("ADDRESSD_BREAKER_SUCCESS_THRESHOLD", 3, &errs),

		DynamicResources:  envBool("ADDRESSD_DYNAMIC_RESOURCES", true, &errs),
		TargetUtilization: envFloat("ADDRESSD_TARGET_UTILIZATION", 0.75, &errs),

		LogLevel:  envStr("ADDRESSD_LOG_LEVEL", "info"),
		LogPretty: envBool("ADDRESSD_LOG_PRETTY", false, &errs),
	}

	if raw := os.Getenv("ADDRESSD_COVERED_STATES"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				cfg.CoveredStates = append(cfg.CoveredStates, s)
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, cfg.Validate()
}

// Validate rejects values outside their usable ranges.
func (c *Config) Validate() error {
	switch {
	case c.DefaultPageSize < 1 || c.DefaultPageSize > c.MaxPageSize:
		return fmt.Errorf("config: default page size %d outside [1,%d]", c.DefaultPageSize, c.MaxPageSize)
	case c.MaxPageSize < 1:
		return fmt.Errorf("config: max page size must be positive, got %d", c.MaxPageSize)
	case c.MaxPageNumber < 1:
		return fmt.Errorf("config: max page number must be positive, got %d", c.MaxPageNumber)
	case c.BulkMaxRetries < 0:
		return fmt.Errorf("config: bulk max retries must be >= 0, got %d", c.BulkMaxRetries)
	case c.TargetUtilization <= 0 || c.TargetUtilization >= 1:
		return fmt.Errorf("config: target utilization must be in (0,1), got %v", c.TargetUtilization)
	case c.BreakerFailureThreshold < 1 || c.BreakerSuccessThreshold < 1:
		return fmt.Errorf("config: breaker thresholds must be positive")
	}
	return nil
}

// CoversState reports whether the allowlist permits loading the given
// state abbreviation. An empty allowlist covers everything.
func (c *Config) CoversState(abbr string) bool {
	if len(c.CoveredStates) == 0 {
		return true
	}
	for _, s := range c.CoveredStates {
		if strings.EqualFold(s, abbr) {
			return true
		}
	}
	return false
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return "addressd-cache"
	}
	return filepath.Join(base, "addressd")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func envBool(key string, def bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return b
}

func envFloat(key string, def float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return f
}

func envDuration(key string, def time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}
