// Package config loads engine configuration from YAML files and
// environment variables, and owns global logger initialization.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Evolution  EvolutionConfig  `mapstructure:"evolution"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Fitness    FitnessConfig    `mapstructure:"fitness"`
	Protection ProtectionConfig `mapstructure:"protection"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	Mode        string `mapstructure:"mode"` // "paper" (in-memory store, mock capital) or "live"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the metrics cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// NATSConfig contains NATS messaging settings for event publication
type NATSConfig struct {
	URL          string `mapstructure:"url"`
	Enabled      bool   `mapstructure:"enabled"`
	EventSubject string `mapstructure:"event_subject"`
}

// ExchangeConfig contains exchange settings for the capital source
type ExchangeConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	SecretKey   string  `mapstructure:"secret_key"`
	Testnet     bool    `mapstructure:"testnet"`
	RateLimit   float64 `mapstructure:"rate_limit"` // requests per second
	PaperEquity float64 `mapstructure:"paper_equity"`
}

// EvolutionConfig contains scheduler and candidate-generation settings
type EvolutionConfig struct {
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	RefreshWindow   time.Duration `mapstructure:"refresh_window"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	MinImprovement  float64       `mapstructure:"min_improvement"`
	MinConfidence   float64       `mapstructure:"min_confidence"`
	UrgentBelow     float64       `mapstructure:"urgent_below"`
	RoutineBelow    float64       `mapstructure:"routine_below"`
	Seed            int64         `mapstructure:"seed"` // 0 = time-based
}

// LifecycleConfig contains tier promotion/retirement settings
type LifecycleConfig struct {
	RetirementScore    float64       `mapstructure:"retirement_score"`
	RequireRealizedPnL bool          `mapstructure:"require_realized_pnl"`
	CheckInterval      time.Duration `mapstructure:"check_interval"`
}

// FitnessConfig contains the target-goal vector
type FitnessConfig struct {
	TargetScore        float64       `mapstructure:"target_score"`
	TargetWinRate      float64       `mapstructure:"target_win_rate"`
	TargetReturn       float64       `mapstructure:"target_return"`
	TargetHoldTime     time.Duration `mapstructure:"target_hold_time"`
	TargetTradeCount   int           `mapstructure:"target_trade_count"`
	TargetProfitFactor float64       `mapstructure:"target_profit_factor"`
	TargetMaxDrawdown  float64       `mapstructure:"target_max_drawdown"`
	TargetSharpe       float64       `mapstructure:"target_sharpe"`
}

// ProtectionConfig contains automatic protection thresholds (display-score scale)
type ProtectionConfig struct {
	ProtectedScore float64 `mapstructure:"protected_score"`
	EliteScore     float64 `mapstructure:"elite_score"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains Prometheus settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// AlertsConfig contains alerting settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("EVOFUNK")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "EvoFunk")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.mode", "paper")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "evofunk")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 60)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.event_subject", "evofunk.evolution.events")

	// Exchange defaults
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.rate_limit", 5.0)
	v.SetDefault("exchange.paper_equity", 10000.0)

	// Evolution defaults
	v.SetDefault("evolution.check_interval", "300s")
	v.SetDefault("evolution.metrics_interval", "60s")
	v.SetDefault("evolution.cooldown", "6h")
	v.SetDefault("evolution.refresh_window", "168h")
	v.SetDefault("evolution.max_concurrent", 3)
	v.SetDefault("evolution.min_improvement", 0.02)
	v.SetDefault("evolution.min_confidence", 0.5)
	v.SetDefault("evolution.urgent_below", 0.35)
	v.SetDefault("evolution.routine_below", 0.65)
	v.SetDefault("evolution.seed", 0)

	// Lifecycle defaults
	v.SetDefault("lifecycle.retirement_score", 35.0)
	v.SetDefault("lifecycle.require_realized_pnl", true)
	v.SetDefault("lifecycle.check_interval", "60s")

	// Fitness goal defaults
	v.SetDefault("fitness.target_score", 70.0)
	v.SetDefault("fitness.target_win_rate", 0.6)
	v.SetDefault("fitness.target_return", 0.1)
	v.SetDefault("fitness.target_hold_time", "4h")
	v.SetDefault("fitness.target_trade_count", 30)
	v.SetDefault("fitness.target_profit_factor", 1.5)
	v.SetDefault("fitness.target_max_drawdown", 0.1)
	v.SetDefault("fitness.target_sharpe", 1.0)

	// Protection defaults
	v.SetDefault("protection.protected_score", 50.0)
	v.SetDefault("protection.elite_score", 60.0)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8082)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9101)
	v.SetDefault("monitoring.enable_metrics", true)

	// Alert defaults
	v.SetDefault("alerts.telegram_enabled", false)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.App.Mode != "paper" && c.App.Mode != "live" {
		return fmt.Errorf("app.mode must be \"paper\" or \"live\", got %q", c.App.Mode)
	}
	if c.Evolution.MaxConcurrent < 1 {
		return fmt.Errorf("evolution.max_concurrent must be at least 1, got %d", c.Evolution.MaxConcurrent)
	}
	if c.Evolution.MinImprovement < 0 {
		return fmt.Errorf("evolution.min_improvement cannot be negative")
	}
	if c.Evolution.MinConfidence < 0 || c.Evolution.MinConfidence > 1 {
		return fmt.Errorf("evolution.min_confidence must be in [0,1], got %v", c.Evolution.MinConfidence)
	}
	if c.Evolution.UrgentBelow >= c.Evolution.RoutineBelow {
		return fmt.Errorf("evolution.urgent_below (%v) must be below evolution.routine_below (%v)",
			c.Evolution.UrgentBelow, c.Evolution.RoutineBelow)
	}
	if c.Protection.ProtectedScore > c.Protection.EliteScore {
		return fmt.Errorf("protection.protected_score (%v) cannot exceed protection.elite_score (%v)",
			c.Protection.ProtectedScore, c.Protection.EliteScore)
	}
	if c.App.Mode == "live" && c.Database.Host == "" {
		return fmt.Errorf("database.host is required in live mode")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
