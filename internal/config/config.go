// Package config provides environment-driven configuration for the
// collection services. Load reads the environment exactly once; the
// resulting Config value is immutable and passed into constructors.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upstream API paging constants. The page size doubles as the exhaustion
// signal: a page with fewer rows than this is the last page of a window.
const (
	MaxResultsPerRequest = 1000
	MaxRequestsPerDay    = 150
)

// EarliestEventDate is the oldest date the upstream catalog covers.
const EarliestEventDate = "1638-01-01"

// apiKeyPattern matches the env vars holding upstream credentials,
// e.g. SEISMIC_API_KEY1, SEISMIC_API_KEY_BACKUP.
var apiKeyPattern = regexp.MustCompile(`^SEISMIC_API_KEY\w*$`)

// Config holds everything the orchestrator and its collaborators need.
type Config struct {
	// Upstream API settings.
	APIURL     string
	APIHost    string
	APIKeys    map[string]string
	DataType   string
	PageSize   int
	DailyQuota int

	// Planner settings.
	RequestTolerance   int
	UpdateRequestCount int
	UpdateWindowDays   int

	// Fetch engine settings.
	BatchSize      int
	RetryBudget    int
	RequestTimeout time.Duration
	MaxBackoff     time.Duration
	RateLimit      float64
	RateBurst      int
	UseProxies     bool

	// Object store settings.
	S3Endpoint      string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string

	// Collection floor.
	EarliestDate string

	// Server settings.
	ListenAddr string
}

// Load reads configuration from the environment, honoring a .env file if
// one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIURL:     getEnv("SEISMIC_API_URL", "https://everyearthquake.p.rapidapi.com/earthquakesByDate"),
		APIHost:    getEnv("SEISMIC_API_HOST", ""),
		APIKeys:    discoverAPIKeys(os.Environ()),
		DataType:   getEnv("SEISMIC_DATA_TYPE", "earthquake"),
		PageSize:   getEnvInt("SEISMIC_PAGE_SIZE", MaxResultsPerRequest),
		DailyQuota: getEnvInt("SEISMIC_DAILY_QUOTA", MaxRequestsPerDay),

		RequestTolerance:   getEnvInt("SEISMIC_REQUEST_TOLERANCE", 0),
		UpdateRequestCount: getEnvInt("SEISMIC_UPDATE_REQUESTS", 1),
		UpdateWindowDays:   getEnvInt("SEISMIC_UPDATE_WINDOW_DAYS", 7),

		BatchSize:      getEnvInt("SEISMIC_BATCH_SIZE", 4),
		RetryBudget:    getEnvInt("SEISMIC_RETRY_BUDGET", 2),
		RequestTimeout: getEnvDuration("SEISMIC_REQUEST_TIMEOUT", 5*time.Second),
		MaxBackoff:     getEnvDuration("SEISMIC_MAX_BACKOFF", 30*time.Second),
		RateLimit:      getEnvFloat("SEISMIC_RATE_LIMIT", 5.0),
		RateBurst:      getEnvInt("SEISMIC_RATE_BURST", 2),
		UseProxies:     getEnvBool("SEISMIC_USE_PROXIES", false),

		S3Endpoint:      getEnv("SEISMIC_S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("SEISMIC_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("SEISMIC_S3_SECRET_ACCESS_KEY", ""),
		Region:          getEnv("SEISMIC_S3_REGION", ""),
		Bucket:          getEnv("SEISMIC_BUCKET", "seismic-data"),

		EarliestDate: getEnv("SEISMIC_EARLIEST_DATE", EarliestEventDate),

		ListenAddr: getEnv("SEISMIC_LISTEN_ADDR", ":8000"),
	}

	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	return cfg, nil
}

// KeyNames returns the credential names in a stable order.
func (c *Config) KeyNames() []string {
	names := make([]string, 0, len(c.APIKeys))
	for name := range c.APIKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// discoverAPIKeys extracts credentials from environ entries whose names
// match the SEISMIC_API_KEY* pattern.
func discoverAPIKeys(environ []string) map[string]string {
	keys := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if apiKeyPattern.MatchString(name) {
			keys[name] = value
		}
	}
	return keys
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
