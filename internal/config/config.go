package config

import (
	"os"
	"strconv"
	"time"
)

// Config 应用配置
type Config struct {
	Environment string
	Port        string
	DBPath      string

	// Remote sink
	SinkBaseURL  string
	DeviceSecret string // optional HMAC secret for device tokens

	// Geofencing
	MaxRegions            int     // platform region cap, injected (20 on the stricter OS, 100 on the other)
	DisplacementTriggerM  float64 // minimum movement before re-optimization
	TuningPath            string  // selector tuning YAML, optional
	PollingInterval       time.Duration
	ProfileRefreshEvery   time.Duration
	SyncFlushInterval     time.Duration
	SyncBatchSize         int
	SyncRequestTimeout    time.Duration
	CatalogRequestTimeout time.Duration
}

// Load 加载配置
func Load() *Config {
	cfg := &Config{
		Environment:           getEnv("ENVIRONMENT", "development"),
		Port:                  getEnv("PORT", ":8080"),
		DBPath:                getEnv("DB_PATH", "./data/tracker/tracker.db"),
		SinkBaseURL:           getEnv("SINK_BASE_URL", "http://localhost:8080"),
		DeviceSecret:          os.Getenv("DEVICE_SECRET"),
		MaxRegions:            getEnvInt("MAX_REGIONS", 20),
		DisplacementTriggerM:  1000,
		TuningPath:            os.Getenv("TUNING_PATH"),
		PollingInterval:       getEnvDuration("POLLING_INTERVAL", 30*time.Second),
		ProfileRefreshEvery:   5 * time.Minute,
		SyncFlushInterval:     30 * time.Second,
		SyncBatchSize:         50,
		SyncRequestTimeout:    30 * time.Second,
		CatalogRequestTimeout: 15 * time.Second,
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
