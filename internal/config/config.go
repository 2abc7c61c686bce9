package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liamashdown/walletsentinel/internal/secrets"
	"github.com/liamashdown/walletsentinel/internal/thresholds"
	"github.com/sirupsen/logrus"
)

// CacheConfig sizes one analyzer result cache
type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Database
	DatabaseDriver      string // mysql, postgres
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration
	AutoMigrate         bool

	// Detection policy overrides; unset env vars keep the defaults
	Thresholds thresholds.Overrides

	// Result caches
	FundingCache  CacheConfig
	ClusterCache  CacheConfig
	BaselineCache CacheConfig

	// Detection cycle
	AnalysisConcurrency int
	PollIntervalSec     int
	CohortLookbackHours int
	CohortMaxWallets    int
	VolumeHistoryDays   int

	// Known high-risk funding sources
	SanctionedSources []string
	MixerSources      []string

	// Alerts
	AlertMode         string // log, none
	AlertRPS          float64
	AlertBurst        int
	AlertCooldownMins int

	// Health/metrics
	HealthPort int
}

// Load reads configuration from a .env file (if present) and environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dsn, err := secrets.GetSecret("DATABASE_DSN", "walletsentinel:walletsentinel@tcp(mysql:3306)/walletsentinel?parseTime=true")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "production"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:      getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseDSN:         dsn,
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime: time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		AutoMigrate:         getEnvBool("DATABASE_AUTO_MIGRATE", false),
		Thresholds:          loadOverrides(),
		FundingCache:        loadCache("FUNDING", 5*time.Minute, 1000),
		ClusterCache:        loadCache("CLUSTER", 10*time.Minute, 1000),
		BaselineCache:       loadCache("BASELINE", time.Hour, 500),
		AnalysisConcurrency: getEnvInt("ANALYSIS_CONCURRENCY", 8),
		PollIntervalSec:     getEnvInt("POLL_INTERVAL_SEC", 300),
		CohortLookbackHours: getEnvInt("COHORT_LOOKBACK_HOURS", 72),
		CohortMaxWallets:    getEnvInt("COHORT_MAX_WALLETS", 5000),
		VolumeHistoryDays:   getEnvInt("VOLUME_HISTORY_DAYS", 90),
		SanctionedSources:   parseCSV(getEnv("SANCTIONED_SOURCES", "")),
		MixerSources:        parseCSV(getEnv("MIXER_SOURCES", "")),
		AlertMode:           getEnv("ALERT_MODE", "log"),
		AlertRPS:            getEnvFloat("ALERT_RPS", 1.0),
		AlertBurst:          getEnvInt("ALERT_BURST", 5),
		AlertCooldownMins:   getEnvInt("ALERT_COOLDOWN_MINS", 60),
		HealthPort:          getEnvInt("HEALTH_PORT", 8080),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}

	switch strings.ToLower(c.DatabaseDriver) {
	case "mysql", "postgres", "postgresql":
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be mysql or postgres)", c.DatabaseDriver)
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if _, err := thresholds.NewManager(c.Thresholds); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}

	for name, cc := range map[string]CacheConfig{
		"FUNDING":  c.FundingCache,
		"CLUSTER":  c.ClusterCache,
		"BASELINE": c.BaselineCache,
	} {
		if cc.TTL <= 0 || cc.MaxSize <= 0 {
			return fmt.Errorf("%s cache TTL and size must be positive", name)
		}
	}

	if c.AnalysisConcurrency < 1 {
		return fmt.Errorf("ANALYSIS_CONCURRENCY must be at least 1")
	}
	if c.PollIntervalSec < 1 {
		return fmt.Errorf("POLL_INTERVAL_SEC must be at least 1")
	}
	if c.CohortLookbackHours < 1 {
		return fmt.Errorf("COHORT_LOOKBACK_HOURS must be at least 1")
	}
	if c.VolumeHistoryDays < 1 {
		return fmt.Errorf("VOLUME_HISTORY_DAYS must be at least 1")
	}

	switch c.AlertMode {
	case "log", "none":
	default:
		return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, none)", c.AlertMode)
	}
	if c.AlertRPS <= 0 || c.AlertBurst < 1 {
		return fmt.Errorf("ALERT_RPS must be positive and ALERT_BURST at least 1")
	}

	return nil
}

// ParsedLogLevel returns the configured logrus level, defaulting to info
func (c *Config) ParsedLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func loadCache(prefix string, ttl time.Duration, size int) CacheConfig {
	return CacheConfig{
		TTL:     time.Duration(getEnvInt(prefix+"_CACHE_TTL_SEC", int(ttl/time.Second))) * time.Second,
		MaxSize: getEnvInt(prefix+"_CACHE_MAX_SIZE", size),
	}
}

func loadOverrides() thresholds.Overrides {
	return thresholds.Overrides{
		Funding: thresholds.FundingOverrides{
			FlashTimingSeconds:        envInt64Ptr("FUNDING_FLASH_TIMING_SECONDS"),
			VeryFastTimingSeconds:     envInt64Ptr("FUNDING_VERY_FAST_TIMING_SECONDS"),
			FastTimingSeconds:         envInt64Ptr("FUNDING_FAST_TIMING_SECONDS"),
			ModerateTimingSeconds:     envInt64Ptr("FUNDING_MODERATE_TIMING_SECONDS"),
			FlashTimingScore:          envFloatPtr("FUNDING_FLASH_TIMING_SCORE"),
			VeryFastTimingScore:       envFloatPtr("FUNDING_VERY_FAST_TIMING_SCORE"),
			FastTimingScore:           envFloatPtr("FUNDING_FAST_TIMING_SCORE"),
			ModerateTimingScore:       envFloatPtr("FUNDING_MODERATE_TIMING_SCORE"),
			SanctionedSourceScore:     envFloatPtr("FUNDING_SANCTIONED_SOURCE_SCORE"),
			MixerSourceScore:          envFloatPtr("FUNDING_MIXER_SOURCE_SCORE"),
			LargeDepositUSD:           envFloatPtr("FUNDING_LARGE_DEPOSIT_USD"),
			LargeDepositScore:         envFloatPtr("FUNDING_LARGE_DEPOSIT_SCORE"),
			QuickDepositWindowSeconds: envInt64Ptr("FUNDING_QUICK_DEPOSIT_WINDOW_SECONDS"),
			QuickDepositMinCount:      envIntPtr("FUNDING_QUICK_DEPOSIT_MIN_COUNT"),
			QuickDepositScore:         envFloatPtr("FUNDING_QUICK_DEPOSIT_SCORE"),
			QuickThreshold:            envFloatPtr("FUNDING_QUICK_THRESHOLD"),
			ImmediateThreshold:        envFloatPtr("FUNDING_IMMEDIATE_THRESHOLD"),
			SuspiciousThreshold:       envFloatPtr("FUNDING_SUSPICIOUS_THRESHOLD"),
		},
		Clustering: thresholds.ClusteringOverrides{
			MinClusterSize:                envIntPtr("CLUSTER_MIN_SIZE"),
			TemporalWindowHours:           envFloatPtr("CLUSTER_TEMPORAL_WINDOW_HOURS"),
			MinConfidence:                 envFloatPtr("CLUSTER_MIN_CONFIDENCE"),
			FundingSimilarityThreshold:    envFloatPtr("CLUSTER_FUNDING_SIMILARITY_THRESHOLD"),
			TradingSimilarityThreshold:    envFloatPtr("CLUSTER_TRADING_SIMILARITY_THRESHOLD"),
			MinSharedMarkets:              envIntPtr("CLUSTER_MIN_SHARED_MARKETS"),
			SharedFundingSourcePoints:     envFloatPtr("CLUSTER_SHARED_FUNDING_SOURCE_POINTS"),
			TemporalProximityPoints:       envFloatPtr("CLUSTER_TEMPORAL_PROXIMITY_POINTS"),
			TradingPatternPoints:          envFloatPtr("CLUSTER_TRADING_PATTERN_POINTS"),
			SharedMarketPoints:            envFloatPtr("CLUSTER_SHARED_MARKET_POINTS"),
			MediumCoordinationThreshold:   envFloatPtr("CLUSTER_MEDIUM_COORDINATION_THRESHOLD"),
			HighCoordinationThreshold:     envFloatPtr("CLUSTER_HIGH_COORDINATION_THRESHOLD"),
			CriticalCoordinationThreshold: envFloatPtr("CLUSTER_CRITICAL_COORDINATION_THRESHOLD"),
		},
		Volume: thresholds.VolumeOverrides{
			VeryNewMaxDays:          envFloatPtr("VOLUME_VERY_NEW_MAX_DAYS"),
			NewMaxDays:              envFloatPtr("VOLUME_NEW_MAX_DAYS"),
			YoungMaxDays:            envFloatPtr("VOLUME_YOUNG_MAX_DAYS"),
			EstablishedMaxDays:      envFloatPtr("VOLUME_ESTABLISHED_MAX_DAYS"),
			HourlyLookback:          envIntPtr("VOLUME_HOURLY_LOOKBACK"),
			FourHourLookback:        envIntPtr("VOLUME_FOUR_HOUR_LOOKBACK"),
			DailyLookback:           envIntPtr("VOLUME_DAILY_LOOKBACK"),
			WeeklyLookback:          envIntPtr("VOLUME_WEEKLY_LOOKBACK"),
			MonthlyLookback:         envIntPtr("VOLUME_MONTHLY_LOOKBACK"),
			MinDataPoints:           envIntPtr("VOLUME_MIN_DATA_POINTS"),
			AnomalyStdDevMultiplier: envFloatPtr("VOLUME_ANOMALY_STDDEV_MULTIPLIER"),
			SummaryTopN:             envIntPtr("VOLUME_SUMMARY_TOP_N"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// envIntPtr and friends return nil for unset or unparsable values
func envIntPtr(key string) *int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &intVal
}

func envInt64Ptr(key string) *int64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	return &intVal
}

func envFloatPtr(key string) *float64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &floatVal
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
