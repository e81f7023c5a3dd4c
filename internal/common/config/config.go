// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Database DatabaseConfig `mapstructure:"database"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Service  ServiceConfig  `mapstructure:"service"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	Topics         []string `mapstructure:"topics"`
	StartRetries   int      `mapstructure:"start_retries"`
	StartBackoffMS int      `mapstructure:"start_backoff"` // milliseconds
}

// StartBackoff returns the delay between broker connection attempts.
func (k KafkaConfig) StartBackoff() time.Duration {
	return time.Duration(k.StartBackoffMS) * time.Millisecond
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ConsumerConfig holds the ingestion consumer settings.
type ConsumerConfig struct {
	StoreTimeoutMS int  `mapstructure:"store_timeout"` // milliseconds, per persistence attempt
	MaxRetries     int  `mapstructure:"max_retries"`   // persistence retries before the poison decision
	BaseBackoffMS  int  `mapstructure:"base_backoff"`  // milliseconds
	MaxBackoffMS   int  `mapstructure:"max_backoff"`   // milliseconds
	ToleratePoison bool `mapstructure:"tolerate_poison"`
}

func (c ConsumerConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

func (c ConsumerConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMS) * time.Millisecond
}

func (c ConsumerConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// ServiceConfig holds the notification facade settings.
type ServiceConfig struct {
	StoreTimeoutMS   int `mapstructure:"store_timeout"`    // milliseconds
	UnreadCacheTTLMS int `mapstructure:"unread_cache_ttl"` // milliseconds
}

func (s ServiceConfig) StoreTimeout() time.Duration {
	return time.Duration(s.StoreTimeoutMS) * time.Millisecond
}

func (s ServiceConfig) UnreadCacheTTL() time.Duration {
	return time.Duration(s.UnreadCacheTTLMS) * time.Millisecond
}

// MetricsConfig holds the operational HTTP endpoint settings.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
