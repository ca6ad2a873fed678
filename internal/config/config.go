package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"necto/internal/scorer"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	NATS        NATSConfig        `json:"nats" yaml:"nats"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Marketplace MarketplaceConfig `json:"marketplace" yaml:"marketplace"`
	Ledger      LedgerConfig      `json:"ledger" yaml:"ledger"`
	Routing     RoutingConfig     `json:"routing" yaml:"routing"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	SSLMode  string `json:"sslMode" yaml:"sslMode"`
}

// ConnString builds a lib/pq connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL string `json:"url" yaml:"url"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MarketplaceConfig represents the provider network gateway configuration
type MarketplaceConfig struct {
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
	APIKey  string `json:"apiKey" yaml:"apiKey"`
}

// LedgerConfig represents the chain gateway configuration
type LedgerConfig struct {
	BaseURL       string `json:"baseUrl" yaml:"baseUrl"`
	APIKey        string `json:"apiKey" yaml:"apiKey"`
	AgentAddress  string `json:"agentAddress" yaml:"agentAddress"`
	EscrowAddress string `json:"escrowAddress" yaml:"escrowAddress"`
}

// RoutingConfig represents routing engine configuration
type RoutingConfig struct {
	Weights      scorer.Weights `json:"weights" yaml:"weights"`
	PollInterval time.Duration  `json:"pollInterval" yaml:"pollInterval"`
	BidTimeout   time.Duration  `json:"bidTimeout" yaml:"bidTimeout"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvInt("DB_PORT", 5432),
			Database: getEnv("DB_NAME", "necto"),
			Username: getEnv("DB_USER", "necto"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Marketplace: MarketplaceConfig{
			BaseURL: getEnv("MARKETPLACE_URL", "https://api.marketplace.example/v1"),
			APIKey:  getEnv("MARKETPLACE_API_KEY", ""),
		},
		Ledger: LedgerConfig{
			BaseURL:       getEnv("LEDGER_URL", ""),
			APIKey:        getEnv("LEDGER_API_KEY", ""),
			AgentAddress:  getEnv("LEDGER_AGENT_ADDRESS", ""),
			EscrowAddress: getEnv("LEDGER_ESCROW_ADDRESS", ""),
		},
		Routing: RoutingConfig{
			Weights:      scorer.DefaultWeights(),
			PollInterval: getEnvDuration("ROUTING_POLL_INTERVAL", 10*time.Second),
			BidTimeout:   getEnvDuration("ROUTING_BID_TIMEOUT", 5*time.Minute),
		},
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Weights fail fast at load, not during scoring.
	if err := config.Routing.Weights.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFile overlays values from a YAML config file.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as duration with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
