package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the shortfab application.
// Values are loaded from environment variables; see printUsage() in
// cmd/shortfab for the full list. The kill switch and automation flags are
// deliberately NOT here: they live in the database so a dashboard can flip
// them at runtime, and the control loop re-reads them every tick.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	DailyBudgetEUR float64 `json:"daily_budget_eur"`
	MaxDailyVideos int     `json:"max_daily_videos"`

	// OptimizerSchedule is a cron expression gating when the optimizer is
	// considered; the cooldown must also have elapsed.
	OptimizerSchedule      string        `json:"optimizer_schedule"`
	OptimizerCooldown      time.Duration `json:"-"`
	OptimizerCooldownStr   string        `json:"optimizer_cooldown"`
	OptimizerMinSamples    int           `json:"optimizer_min_samples"`
	OptimizerMaxAdjustment float64       `json:"optimizer_max_adjustment"`
	WeightFloor            float64       `json:"weight_floor"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	PipelineWorkers         int           `json:"pipeline_workers"`
	PipelineDrainTimeout    time.Duration `json:"-"`
	PipelineDrainTimeoutStr string        `json:"pipeline_drain_timeout"`
	EventBusBufferSize      int           `json:"eventbus_buffer_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the longest legitimate stage runtime,
	// or in-flight jobs get requeued while still being worked on.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
	MaxRetries         int `json:"max_retries"`

	// LeaderLockKey: all instances sharing the same database must use the
	// same key.
	LeaderEnabled bool  `json:"leader_enabled"`
	LeaderLockKey int64 `json:"leader_lock_key"`

	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		TickIntervalStr:            os.Getenv("TICK_INTERVAL"),
		OptimizerSchedule:          os.Getenv("OPTIMIZER_SCHEDULE"),
		OptimizerCooldownStr:       os.Getenv("OPTIMIZER_COOLDOWN"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		PipelineDrainTimeoutStr:    os.Getenv("PIPELINE_DRAIN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		MetricsPort:                os.Getenv("METRICS_PORT"),
		ReconcileEnabled:           os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:       os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:      os.Getenv("RECONCILE_THRESHOLD"),
		LeaderEnabled:              os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	cfg.DailyBudgetEUR = loadFloat("DAILY_BUDGET_EUR", 3.0)
	cfg.MaxDailyVideos = loadInt("MAX_DAILY_VIDEOS", 3)
	cfg.OptimizerMinSamples = loadInt("OPTIMIZER_MIN_SAMPLES", 3)
	cfg.OptimizerMaxAdjustment = loadFloat("OPTIMIZER_MAX_ADJUSTMENT", 0.2)
	cfg.WeightFloor = loadFloat("WEIGHT_FLOOR", 0.1)
	cfg.DBMaxOpenConns = loadInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = loadInt("DB_MAX_IDLE_CONNS", 5)
	cfg.PipelineWorkers = loadInt("PIPELINE_WORKERS", 1)
	cfg.EventBusBufferSize = loadInt("EVENTBUS_BUFFER_SIZE", 100)
	cfg.ReconcileBatchSize = loadInt("RECONCILE_BATCH_SIZE", 100)
	cfg.MaxRetries = loadInt("MAX_RETRIES", 3)

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := strconv.ParseInt(lockKeyStr, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 614203", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 614203
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.OptimizerSchedule == "" {
		cfg.OptimizerSchedule = "0 3 * * *"
	}
	if cfg.OptimizerCooldownStr == "" {
		cfg.OptimizerCooldownStr = "24h"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.PipelineDrainTimeoutStr == "" {
		cfg.PipelineDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "15m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.OptimizerCooldownStr); err == nil {
		cfg.OptimizerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.PipelineDrainTimeoutStr); err == nil {
		cfg.PipelineDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// loadInt reads a positive integer env var, falling back to def on absence
// or garbage.
func loadInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

// loadFloat reads a positive float env var, falling back to def on absence
// or garbage.
func loadFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		log.Printf("config: invalid %s %q (must be a positive number), using default %g", key, s, def)
		return def
	}
	return f
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string  `json:"database_url"`
		RedisAddr               string  `json:"redis_addr,omitempty"`
		HTTPAddr                string  `json:"http_addr"`
		TickInterval            string  `json:"tick_interval"`
		DailyBudgetEUR          float64 `json:"daily_budget_eur"`
		MaxDailyVideos          int     `json:"max_daily_videos"`
		OptimizerSchedule       string  `json:"optimizer_schedule"`
		OptimizerCooldown       string  `json:"optimizer_cooldown"`
		OptimizerMinSamples     int     `json:"optimizer_min_samples"`
		OptimizerMaxAdjustment  float64 `json:"optimizer_max_adjustment"`
		WeightFloor             float64 `json:"weight_floor"`
		DBOpTimeout             string  `json:"db_op_timeout"`
		DBMaxOpenConns          int     `json:"db_max_open_conns"`
		DBMaxIdleConns          int     `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string  `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string  `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string  `json:"http_shutdown_timeout"`
		PipelineWorkers         int     `json:"pipeline_workers"`
		PipelineDrainTimeout    string  `json:"pipeline_drain_timeout"`
		EventBusBufferSize      int     `json:"eventbus_buffer_size"`
		MetricsEnabled          bool    `json:"metrics_enabled"`
		MetricsPath             string  `json:"metrics_path"`
		MetricsPort             string  `json:"metrics_port"`
		ReconcileEnabled        bool    `json:"reconcile_enabled"`
		ReconcileInterval       string  `json:"reconcile_interval"`
		ReconcileThreshold      string  `json:"reconcile_threshold"`
		ReconcileBatchSize      int     `json:"reconcile_batch_size"`
		MaxRetries              int     `json:"max_retries"`
		LeaderEnabled           bool    `json:"leader_enabled"`
		LeaderLockKey           int64   `json:"leader_lock_key"`
		LeaderRetryInterval     string  `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string  `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		TickInterval:            c.TickIntervalStr,
		DailyBudgetEUR:          c.DailyBudgetEUR,
		MaxDailyVideos:          c.MaxDailyVideos,
		OptimizerSchedule:       c.OptimizerSchedule,
		OptimizerCooldown:       c.OptimizerCooldownStr,
		OptimizerMinSamples:     c.OptimizerMinSamples,
		OptimizerMaxAdjustment:  c.OptimizerMaxAdjustment,
		WeightFloor:             c.WeightFloor,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		PipelineWorkers:         c.PipelineWorkers,
		PipelineDrainTimeout:    c.PipelineDrainTimeoutStr,
		EventBusBufferSize:      c.EventBusBufferSize,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		MaxRetries:              c.MaxRetries,
		LeaderEnabled:           c.LeaderEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
