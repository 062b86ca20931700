package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"incarceration-bot/common/config"
)

// Config incarceration-bot service configuration
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// Roster reconciliation knobs
	Roster struct {
		// last_seen is only rewritten when older than this
		StaleThreshold time.Duration
		// rows per multi-row INSERT / UPDATE statement
		InsertBatchSize int
		UpdateBatchSize int
		// above this many rows for a jail the persistence layer pre-filters
		// existing identity keys instead of using one upsert statement
		LargeTableThreshold int
		// minimum shared name tokens for a partial watch-list match
		FuzzyMinSharedTokens int
		// transient statement retries before row-by-row fallback
		MaxRetries int
	}

	// Scheduling and scraping
	Scheduler struct {
		PollInterval time.Duration
		JailWorkers  int
	}

	Scraper struct {
		DetailConcurrency int
		RPS               float64
		FetchTimeout      time.Duration
		MugshotCacheSize  int
		UserAgent         string
		PageSize          int
	}

	// Background inmate-table release pass
	Release struct {
		BatchSize int
		RowDelay  time.Duration
		QueueSize int
	}

	Notify struct {
		PushBaseURL        string
		PushAPIToken       string
		EventStream        string
		EventStreamEnabled bool
		EventStreamMaxLen  int64
		MQTTEnabled        bool
		MQTTTopicPrefix    string
	}

	MetricsAddr string
	AutoMigrate bool

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "incarceration_bot")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "incarceration-bot")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Roster.StaleThreshold = time.Duration(getEnvInt("STALE_THRESHOLD_HOURS", 1)) * time.Hour
	cfg.Roster.InsertBatchSize = getEnvInt("INSERT_BATCH_SIZE", 100)
	cfg.Roster.UpdateBatchSize = getEnvInt("UPDATE_BATCH_SIZE", 100)
	cfg.Roster.LargeTableThreshold = getEnvInt("LARGE_TABLE_THRESHOLD", 100000)
	cfg.Roster.FuzzyMinSharedTokens = getEnvInt("FUZZY_MIN_SHARED_TOKENS", 2)
	cfg.Roster.MaxRetries = getEnvInt("PERSIST_MAX_RETRIES", 3)

	cfg.Scheduler.PollInterval = time.Duration(getEnvInt("POLL_INTERVAL_MINUTES", 240)) * time.Minute
	cfg.Scheduler.JailWorkers = getEnvInt("JAIL_WORKERS", 1)

	cfg.Scraper.DetailConcurrency = getEnvInt("DETAIL_CONCURRENCY", 5)
	cfg.Scraper.RPS = getEnvFloat("SCRAPE_RPS", 5)
	cfg.Scraper.FetchTimeout = time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 20)) * time.Second
	cfg.Scraper.MugshotCacheSize = getEnvInt("MUGSHOT_CACHE_SIZE", 2048)
	cfg.Scraper.UserAgent = getEnv("SCRAPER_USER_AGENT", "incarceration-bot/1.0")
	cfg.Scraper.PageSize = getEnvInt("SCRAPER_PAGE_SIZE", 100)

	cfg.Release.BatchSize = getEnvInt("RELEASE_BATCH_SIZE", 5)
	cfg.Release.RowDelay = time.Duration(getEnvInt("RELEASE_ROW_DELAY_MS", 200)) * time.Millisecond
	cfg.Release.QueueSize = getEnvInt("RELEASE_QUEUE_SIZE", 64)

	cfg.Notify.PushBaseURL = getEnv("PUSH_BASE_URL", "")
	cfg.Notify.PushAPIToken = getEnv("PUSH_API_TOKEN", "")
	cfg.Notify.EventStream = getEnv("EVENT_STREAM", "roster:events")
	cfg.Notify.EventStreamEnabled = getEnvBool("EVENT_STREAM_ENABLED", true)
	cfg.Notify.EventStreamMaxLen = int64(getEnvInt("EVENT_STREAM_MAX_LEN", 10000))
	cfg.Notify.MQTTEnabled = getEnvBool("MQTT_ENABLED", false)
	cfg.Notify.MQTTTopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "incarceration-bot/alerts")

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9102")
	cfg.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", false)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Roster.StaleThreshold < 0 {
		return fmt.Errorf("STALE_THRESHOLD_HOURS must not be negative")
	}
	if c.Roster.InsertBatchSize <= 0 || c.Roster.UpdateBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive (insert=%d, update=%d)",
			c.Roster.InsertBatchSize, c.Roster.UpdateBatchSize)
	}
	if c.Roster.FuzzyMinSharedTokens < 1 {
		return fmt.Errorf("FUZZY_MIN_SHARED_TOKENS must be at least 1")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MINUTES must be positive")
	}
	if c.Scheduler.JailWorkers < 1 {
		return fmt.Errorf("JAIL_WORKERS must be at least 1")
	}
	if c.Scraper.DetailConcurrency < 1 {
		return fmt.Errorf("DETAIL_CONCURRENCY must be at least 1")
	}
	if c.Release.BatchSize < 1 {
		return fmt.Errorf("RELEASE_BATCH_SIZE must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}
