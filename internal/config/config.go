package config

import (
	"fmt"
	"time"

	"prima/internal/logger"
	"prima/internal/model"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ApprovalMode selects how approve-then-act intents are sequenced.
type ApprovalMode string

const (
	// ApprovalAwait waits for the allowance transaction to confirm before submitting the action.
	ApprovalAwait ApprovalMode = "await"
	// ApprovalPipeline submits both back to back and relies on sender nonce ordering.
	ApprovalPipeline ApprovalMode = "pipeline"
)

type Config struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	GinMode     string   `env:"GIN_MODE" envDefault:"debug"`
	CORSOrigins []string `env:"PRIMA_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`

	JWTSecret  string        `env:"JWT_SECRET"`
	SessionTTL time.Duration `env:"PRIMA_SESSION_TTL" envDefault:"24h"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"prima"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	RPCURL          string   `env:"PRIMA_RPC_URL" envDefault:"ws://127.0.0.1:8545"`
	ChainID         int64    `env:"PRIMA_CHAIN_ID" envDefault:"31337"`
	PrimaAddress    string   `env:"PRIMA_ADDRESS"`
	TokenAddress    string   `env:"PRIMA_TOKEN_ADDRESS"`
	InvoiceAddress  string   `env:"PRIMA_INVOICE_ADDRESS"`
	SignerKeys      []string `env:"PRIMA_SIGNER_KEYS" envSeparator:","`
	GasLimit        uint64   `env:"PRIMA_GAS_LIMIT" envDefault:"0"`
	ApprovalMode    string   `env:"PRIMA_APPROVAL_MODE" envDefault:"await"`
	WatchBlocks     bool     `env:"PRIMA_WATCH_BLOCKS" envDefault:"true"`
	HydrationLimit  int      `env:"PRIMA_HYDRATION_CONCURRENCY" envDefault:"8"`
	LedgerReadRPS   float64  `env:"PRIMA_LEDGER_READ_RPS" envDefault:"20"`
	LedgerReadBurst int      `env:"PRIMA_LEDGER_READ_BURST" envDefault:"40"`

	LedgerCallTimeout time.Duration `env:"PRIMA_LEDGER_CALL_TIMEOUT" envDefault:"15s"`
	ConfirmTimeout    time.Duration `env:"PRIMA_CONFIRM_TIMEOUT" envDefault:"5m"`
	ConfirmPoll       time.Duration `env:"PRIMA_CONFIRM_POLL" envDefault:"2s"`
	ViewIdleTTL       time.Duration `env:"PRIMA_VIEW_IDLE_TTL" envDefault:"15m"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"console"`
	LogTimeFormat string `env:"LOG_TIME_FORMAT" envDefault:"2006-01-02T15:04:05Z07:00"`
	LogOutput     string `env:"LOG_OUTPUT" envDefault:"stdout"`
}

// Load reads configs/.env when present, then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{"configs/.env"}
	}
	// a missing .env file is normal outside development
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"PRIMA_ADDRESS":         c.PrimaAddress,
		"PRIMA_TOKEN_ADDRESS":   c.TokenAddress,
		"PRIMA_INVOICE_ADDRESS": c.InvoiceAddress,
	} {
		if _, err := model.ParseIdentity(addr); err != nil {
			return fmt.Errorf("%s must be a contract address, got %q", name, addr)
		}
	}
	switch ApprovalMode(c.ApprovalMode) {
	case ApprovalAwait, ApprovalPipeline:
	default:
		return fmt.Errorf("PRIMA_APPROVAL_MODE must be %q or %q", ApprovalAwait, ApprovalPipeline)
	}
	if c.HydrationLimit <= 0 {
		return fmt.Errorf("PRIMA_HYDRATION_CONCURRENCY must be positive")
	}
	if c.GinMode == "release" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in release mode")
	}
	return nil
}

// DSN builds the Postgres connection string for gorm.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

// Secret returns the JWT signing secret, falling back to a development value.
func (c *Config) Secret() []byte {
	if c.JWTSecret == "" {
		return []byte("default_super_secret_key")
	}
	return []byte(c.JWTSecret)
}

func (c *Config) Mode() ApprovalMode { return ApprovalMode(c.ApprovalMode) }

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}
