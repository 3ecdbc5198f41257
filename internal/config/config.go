package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	Safe      SafeConfig
	Chain     ChainConfig
	TxService TxServiceConfig
	Reconcile ReconcileConfig
	DB        DBConfig
	Server    ServerConfig
	Alert     AlertConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type SafeConfig struct {
	Address common.Address
	Version string
}

type ChainConfig struct {
	RPCURL       string
	ChainID      uint64
	RateLimitRPS float64
	RateBurst    int
}

type TxServiceConfig struct {
	// URLOverride replaces the well-known service endpoint for the chain.
	URLOverride string
}

type ReconcileConfig struct {
	Interval time.Duration
}

type DBConfig struct {
	// URL empty means audit persistence is disabled.
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type ServerConfig struct {
	MetricsPort int
}

type AlertConfig struct {
	WebhookURL string
	Cooldown   time.Duration
}

type TracingConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Safe: SafeConfig{
			Address: common.HexToAddress(getEnv("SAFE_ADDRESS", "")),
			Version: getEnv("SAFE_VERSION", "1.3.0"),
		},
		Chain: ChainConfig{
			RPCURL:       getEnv("ETH_RPC_URL", "http://localhost:8545"),
			ChainID:      uint64(getEnvInt("CHAIN_ID", 1)),
			RateLimitRPS: getEnvFloat("RPC_RATE_LIMIT_RPS", 10),
			RateBurst:    getEnvInt("RPC_RATE_BURST", 20),
		},
		TxService: TxServiceConfig{
			URLOverride: getEnv("TRANSACTION_SERVICE_URL", ""),
		},
		Reconcile: ReconcileConfig{
			Interval: time.Duration(getEnvInt("RECONCILE_INTERVAL_SEC", 30)) * time.Second,
		},
		DB: DBConfig{
			URL:             getEnv("DB_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			MigrationsDir:   getEnv("DB_MIGRATIONS_DIR", "internal/store/postgres/migrations"),
		},
		Server: ServerConfig{
			MetricsPort: getEnvInt("METRICS_PORT", 8080),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:   time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
		Tracing: TracingConfig{
			OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
			Insecure:     getEnv("OTLP_INSECURE", "true") == "true",
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Safe.Address == (common.Address{}) {
		return fmt.Errorf("SAFE_ADDRESS is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL is required")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL_SEC must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
