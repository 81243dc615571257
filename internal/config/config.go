package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Storage backends for ledger documents
const (
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StorageMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig   `envconfig:"SERVER"`
	Database  DatabaseConfig `envconfig:"DB"`
	Redis     RedisConfig    `envconfig:"REDIS"`
	Auth      AuthConfig     `envconfig:"AUTH"`
	Ledger    LedgerConfig   `envconfig:"LEDGER"`
	LogFormat string         `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port         int           `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	RateLimit    int           `envconfig:"RATE_LIMIT" default:"120" validate:"min=1"` // requests per minute per IP
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	Production   bool          `envconfig:"PRODUCTION" default:"false"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"5432"`
	Username string `envconfig:"USERNAME" default:"postgres"`
	Password string `envconfig:"PASSWORD" default:"password"`
	DBName   string `envconfig:"NAME" default:"groupledger"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
}

// RedisConfig holds the Redis connection used for locks, jobs and the redis store
type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
	Prefix   string `envconfig:"PREFIX" default:"groupledger"`
}

// AuthConfig holds the adapter authentication configuration
type AuthConfig struct {
	JWTSecret        string        `envconfig:"JWT_SECRET" validate:"required"`
	ClientID         string        `envconfig:"CLIENT_ID" validate:"required"`
	ClientSecretHash string        `envconfig:"CLIENT_SECRET_HASH" validate:"required"` // bcrypt hash
	TokenTTL         time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
}

// LedgerConfig holds the ledger bot configuration
type LedgerConfig struct {
	Owner     string   `envconfig:"OWNER" validate:"required"`
	Operators []string `envconfig:"OPERATORS"`
	Storage   string   `envconfig:"STORAGE" default:"postgres" validate:"oneof=postgres redis memory"`
	// DistributedLock serialises group writes through Redis. Turning it off
	// is only safe for a lone server process; the worker refuses to start.
	DistributedLock bool   `envconfig:"DISTRIBUTED_LOCK" default:"true"`
	ReportDir       string `envconfig:"REPORT_DIR" default:"reports"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
