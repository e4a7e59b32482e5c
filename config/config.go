// Package config loads process configuration for the delivery engine.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const Version = "1.0.0"

// Config is the top-level process configuration, assembled from nested
// per-concern structs and loaded via Load.
type Config struct {
	Environment string
	LogLevel    string
	Version     string

	Database  DatabaseConfig
	Engine    EngineConfig
	SMTP      SMTPConfig
	Gmail     GmailConfig
	Tracking  TrackingConfig
	Tracing   TracingConfig
	SecretKey string
}

// DatabaseConfig holds the Postgres connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// EngineConfig tunes the Campaign Executor, Queue Processor, and Scheduler.
type EngineConfig struct {
	// Circuit breaker
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration

	// Pacing
	SendPace time.Duration

	// Scheduler tick intervals
	QueueDrainInterval    time.Duration
	DispatchTickInterval  time.Duration
	SchedulerMaxPerTick   int
	DecryptedConfigTTL    time.Duration
}

// DefaultEngineConfig returns the spec-mandated defaults: 5 consecutive
// failures open the breaker for 5 minutes, recipients are paced ~300ms
// apart, the queue drains once a day, and scheduled/recurring/sequence
// dispatch is evaluated once a minute.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  5 * time.Minute,
		SendPace:                300 * time.Millisecond,
		QueueDrainInterval:      24 * time.Hour,
		DispatchTickInterval:    1 * time.Minute,
		SchedulerMaxPerTick:     100,
		DecryptedConfigTTL:      2 * time.Minute,
	}
}

// SMTPConfig holds process-level SMTP settings loaded from the environment.
// The provider factory does not read it: smtp Providers take host and
// credentials only from each SenderAccount's decrypted config.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// GmailConfig holds process-level Gmail OAuth2 settings loaded from the
// environment. The provider factory does not read it: gmail Providers take
// their client credentials from each SenderAccount's decrypted config.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// TrackingConfig carries the tracking-link rewriting base URL and toggles.
type TrackingConfig struct {
	BaseURL     string
	OpenTrack   bool
	ClickTrack  bool
}

// TracingConfig mirrors the ambient OpenCensus exporter wiring.
type TracingConfig struct {
	Enabled              bool
	ServiceName          string
	SamplingProbability  float64
	TraceExporter        string // jaeger | zipkin | stackdriver | none
	MetricsExporter      string // comma-separated: prometheus,stackdriver
	JaegerEndpoint       string
	ZipkinEndpoint       string
	StackdriverProjectID string
	PrometheusPort       int
}

// Load reads configuration from the environment (and an optional .env file
// during local development), layering viper defaults under real env vars.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional; local dev convenience only

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "sender_engine")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.use_tls", true)

	v.SetDefault("tracking.base_url", "http://localhost:8080")
	v.SetDefault("tracking.open_track", true)
	v.SetDefault("tracking.click_track", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "sender-engine")
	v.SetDefault("tracing.sampling_probability", 0.1)
	v.SetDefault("tracing.trace_exporter", "none")
	v.SetDefault("tracing.metrics_exporter", "none")
	v.SetDefault("tracing.prometheus_port", 0)

	secretKey := v.GetString("secret_key")
	if secretKey == "" {
		return nil, fmt.Errorf("config: SECRET_KEY is required (used to decrypt sender account config)")
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),
		Version:     Version,
		SecretKey:   secretKey,
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Engine: DefaultEngineConfig(),
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			UseTLS:   v.GetBool("smtp.use_tls"),
		},
		Gmail: GmailConfig{
			ClientID:     v.GetString("gmail.client_id"),
			ClientSecret: v.GetString("gmail.client_secret"),
			TokenURL:     v.GetString("gmail.token_url"),
		},
		Tracking: TrackingConfig{
			BaseURL:    v.GetString("tracking.base_url"),
			OpenTrack:  v.GetBool("tracking.open_track"),
			ClickTrack: v.GetBool("tracking.click_track"),
		},
		Tracing: TracingConfig{
			Enabled:              v.GetBool("tracing.enabled"),
			ServiceName:          v.GetString("tracing.service_name"),
			SamplingProbability:  v.GetFloat64("tracing.sampling_probability"),
			TraceExporter:        v.GetString("tracing.trace_exporter"),
			MetricsExporter:      v.GetString("tracing.metrics_exporter"),
			JaegerEndpoint:       v.GetString("tracing.jaeger_endpoint"),
			ZipkinEndpoint:       v.GetString("tracing.zipkin_endpoint"),
			StackdriverProjectID: v.GetString("tracing.stackdriver_project_id"),
			PrometheusPort:       v.GetInt("tracing.prometheus_port"),
		},
	}

	if envThreshold := v.GetInt("circuit_breaker_threshold"); envThreshold > 0 {
		cfg.Engine.CircuitBreakerThreshold = envThreshold
	}
	if envCooldown := v.GetDuration("circuit_breaker_cooldown"); envCooldown > 0 {
		cfg.Engine.CircuitBreakerCooldown = envCooldown
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
