package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level engine configuration. It is loaded once at
// startup and treated as immutable for the lifetime of the process.
type Config struct {
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	EngineConfig       EngineConfig       `json:"engine"`
	RiskConfig         RiskConfig         `json:"risk"`
	TrailingConfig     TrailingConfig     `json:"trailing"`
	MonitorConfig      MonitorConfig      `json:"monitor"`
	RequestConfig      RequestConfig      `json:"request"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	NotificationConfig NotificationConfig `json:"notification"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// ExchangeConfig holds exchange adapter configuration
type ExchangeConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TestNet   bool   `json:"testnet"`
	DryRun    bool   `json:"dry_run"` // Use the mock adapter instead of a live exchange
}

// EngineConfig holds execution engine policy settings
type EngineConfig struct {
	Symbols                   []string `json:"symbols"`                      // Symbols the engine trades
	FeeRate                   float64  `json:"fee_rate"`                     // Taker fee rate per fill, e.g. 0.0005
	HaltOnInsufficientBalance bool     `json:"halt_on_insufficient_balance"` // Treat insufficient balance as an engine-wide halt
	SignalSource              string   `json:"signal_source"`                // "crossover" or "" (signals via API only)
}

// RiskConfig holds pre-trade risk evaluation settings.
// All percentage values are in (0, 100].
type RiskConfig struct {
	MaxPositionSizePercent float64 `json:"max_position_size_percent"` // Percent of balance risked per trade
	MaxDailyLossPercent    float64 `json:"max_daily_loss_percent"`    // Daily realized loss cap, percent of balance
	MaxOpenPositions       int     `json:"max_open_positions"`        // Maximum concurrent positions
	AllowedLeverage        []int   `json:"allowed_leverage"`          // Whitelist of leverage multipliers
	MinAccountBalance      float64 `json:"min_account_balance"`       // Minimum balance required to open trades
}

// TrailingConfig holds trailing stop configuration
type TrailingConfig struct {
	Enabled           bool    `json:"enabled"`
	TrailingPercent   float64 `json:"trailing_percent"`   // Distance from the best price seen
	ActivationPercent float64 `json:"activation_percent"` // Profit % required before trailing starts
}

// MonitorConfig holds position monitor loop configuration
type MonitorConfig struct {
	Interval      time.Duration `json:"interval"`       // Tick interval
	PauseInterval time.Duration `json:"pause_interval"` // Probe interval while paused for maintenance
}

// RequestConfig holds resilient request layer configuration
type RequestConfig struct {
	MaxAttempts       int           `json:"max_attempts"`        // Retry budget for transient errors
	BaseDelay         time.Duration `json:"base_delay"`          // First backoff delay, doubles per attempt
	RateLimitCooldown time.Duration `json:"rate_limit_cooldown"` // Wait before the single rate-limit retry
	MinInterval       time.Duration `json:"min_interval"`        // Minimum spacing between exchange calls
	QueueSize         int           `json:"queue_size"`          // Pending call queue depth
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for position state snapshots
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NotificationConfig holds outbound alert configuration
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig holds Telegram notifier configuration
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// DiscordConfig holds Discord webhook notifier configuration
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// ServerConfig holds control API server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// AuthConfig holds operator authentication configuration
type AuthConfig struct {
	Enabled       bool          `json:"enabled"`
	JWTSecret     string        `json:"jwt_secret"`
	OperatorKey   string        `json:"operator_key"` // Pre-shared key exchanged for a JWT
	TokenDuration time.Duration `json:"token_duration"`
}

// VaultConfig holds HashiCorp Vault configuration for exchange credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // Human-readable console output instead of JSON
}

// DefaultConfig returns a config with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		EngineConfig: EngineConfig{
			Symbols:                   []string{"BTCUSDT"},
			FeeRate:                   0.0005,
			HaltOnInsufficientBalance: true,
		},
		RiskConfig: RiskConfig{
			MaxPositionSizePercent: 2.0,
			MaxDailyLossPercent:    5.0,
			MaxOpenPositions:       3,
			AllowedLeverage:        []int{1, 2, 3, 5, 10},
			MinAccountBalance:      100.0,
		},
		TrailingConfig: TrailingConfig{
			Enabled:           true,
			TrailingPercent:   1.5,
			ActivationPercent: 2.0,
		},
		MonitorConfig: MonitorConfig{
			Interval:      5 * time.Second,
			PauseInterval: 30 * time.Second,
		},
		RequestConfig: RequestConfig{
			MaxAttempts:       3,
			BaseDelay:         time.Second,
			RateLimitCooldown: 60 * time.Second,
			MinInterval:       200 * time.Millisecond,
			QueueSize:         256,
		},
		DatabaseConfig: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			SSLMode: "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		AuthConfig: AuthConfig{
			TokenDuration: 12 * time.Hour,
		},
		LoggingConfig: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config.json (if present) and applies environment overrides.
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile reads the given config file and applies environment overrides.
func LoadFile(filename string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(filename); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// values take precedence over the config file.
func applyEnvOverrides(cfg *Config) {
	// Exchange
	cfg.ExchangeConfig.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", cfg.ExchangeConfig.SecretKey)
	cfg.ExchangeConfig.TestNet = getEnvBoolOrDefault("EXCHANGE_TESTNET", cfg.ExchangeConfig.TestNet)
	cfg.ExchangeConfig.DryRun = getEnvBoolOrDefault("EXCHANGE_DRY_RUN", cfg.ExchangeConfig.DryRun)

	// Engine
	cfg.EngineConfig.FeeRate = getEnvFloatOrDefault("ENGINE_FEE_RATE", cfg.EngineConfig.FeeRate)
	cfg.EngineConfig.HaltOnInsufficientBalance = getEnvBoolOrDefault("ENGINE_HALT_ON_INSUFFICIENT_BALANCE", cfg.EngineConfig.HaltOnInsufficientBalance)
	cfg.EngineConfig.SignalSource = getEnvOrDefault("ENGINE_SIGNAL_SOURCE", cfg.EngineConfig.SignalSource)

	// Risk
	cfg.RiskConfig.MaxPositionSizePercent = getEnvFloatOrDefault("RISK_MAX_POSITION_SIZE_PERCENT", cfg.RiskConfig.MaxPositionSizePercent)
	cfg.RiskConfig.MaxDailyLossPercent = getEnvFloatOrDefault("RISK_MAX_DAILY_LOSS_PERCENT", cfg.RiskConfig.MaxDailyLossPercent)
	cfg.RiskConfig.MaxOpenPositions = getEnvIntOrDefault("RISK_MAX_OPEN_POSITIONS", cfg.RiskConfig.MaxOpenPositions)
	cfg.RiskConfig.MinAccountBalance = getEnvFloatOrDefault("RISK_MIN_ACCOUNT_BALANCE", cfg.RiskConfig.MinAccountBalance)

	// Monitor
	cfg.MonitorConfig.Interval = getEnvDurationOrDefault("MONITOR_INTERVAL", cfg.MonitorConfig.Interval)
	cfg.MonitorConfig.PauseInterval = getEnvDurationOrDefault("MONITOR_PAUSE_INTERVAL", cfg.MonitorConfig.PauseInterval)

	// Request layer
	cfg.RequestConfig.MaxAttempts = getEnvIntOrDefault("REQUEST_MAX_ATTEMPTS", cfg.RequestConfig.MaxAttempts)
	cfg.RequestConfig.BaseDelay = getEnvDurationOrDefault("REQUEST_BASE_DELAY", cfg.RequestConfig.BaseDelay)
	cfg.RequestConfig.RateLimitCooldown = getEnvDurationOrDefault("REQUEST_RATE_LIMIT_COOLDOWN", cfg.RequestConfig.RateLimitCooldown)
	cfg.RequestConfig.MinInterval = getEnvDurationOrDefault("REQUEST_MIN_INTERVAL", cfg.RequestConfig.MinInterval)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Notifications
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.NotificationConfig.Discord.Enabled)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Server
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Auth
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.OperatorKey = getEnvOrDefault("AUTH_OPERATOR_KEY", cfg.AuthConfig.OperatorKey)
	cfg.AuthConfig.TokenDuration = getEnvDurationOrDefault("AUTH_TOKEN_DURATION", cfg.AuthConfig.TokenDuration)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Console = getEnvBoolOrDefault("LOG_CONSOLE", cfg.LoggingConfig.Console)
}

// Validate checks invariants that must hold before the engine starts.
func (c *Config) Validate() error {
	r := c.RiskConfig
	if r.MaxPositionSizePercent <= 0 || r.MaxPositionSizePercent > 100 {
		return fmt.Errorf("risk.max_position_size_percent must be in (0, 100], got %.2f", r.MaxPositionSizePercent)
	}
	if r.MaxDailyLossPercent <= 0 || r.MaxDailyLossPercent > 100 {
		return fmt.Errorf("risk.max_daily_loss_percent must be in (0, 100], got %.2f", r.MaxDailyLossPercent)
	}
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be positive, got %d", r.MaxOpenPositions)
	}
	if len(r.AllowedLeverage) == 0 {
		return fmt.Errorf("risk.allowed_leverage must not be empty")
	}
	if c.MonitorConfig.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.RequestConfig.MaxAttempts <= 0 {
		return fmt.Errorf("request.max_attempts must be positive")
	}
	if c.RequestConfig.MinInterval < 0 {
		return fmt.Errorf("request.min_interval must not be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
