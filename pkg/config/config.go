package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	AdminPort   int    `mapstructure:"admin_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// SecurityConfig covers the threat engine and its collaborators. Analyzer
// sections are free-form settings maps handed to the matching component's
// UpdateConfig, which owns decoding and validation.
type SecurityConfig struct {
	AdminJWTSecret string `mapstructure:"admin_jwt_secret"`
	FailClosed     bool   `mapstructure:"fail_closed"`

	Detector   DetectorConfig         `mapstructure:"detector"`
	Behavior   map[string]interface{} `mapstructure:"behavior"`
	Reputation map[string]interface{} `mapstructure:"reputation"`
	Response   map[string]interface{} `mapstructure:"response"`

	DenylistIPs         []string                 `mapstructure:"denylist_ips"`
	ReputationProviders []map[string]interface{} `mapstructure:"reputation_providers"`

	Siem      SiemConfig      `mapstructure:"siem"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type DetectorConfig struct {
	Enabled             bool               `mapstructure:"enabled"`
	ThreatThreshold     float64            `mapstructure:"threat_threshold"`
	ConfidenceThreshold float64            `mapstructure:"confidence_threshold"`
	AutoResponseEnabled bool               `mapstructure:"auto_response_enabled"`
	AnalyzerWeights     map[string]float64 `mapstructure:"analyzer_weights"`
	MaxAnalysisTimeMs   int64              `mapstructure:"max_analysis_time_ms"`
}

type SiemConfig struct {
	QueueCapacity   int          `mapstructure:"queue_capacity"`
	BatchSize       int          `mapstructure:"batch_size"`
	FlushIntervalMs int          `mapstructure:"flush_interval_ms"`
	RetryAttempts   int          `mapstructure:"retry_attempts"`
	RetryDelayMs    int          `mapstructure:"retry_delay_ms"`
	PersistMinScore float64      `mapstructure:"persist_min_score"`
	Sinks           []SinkConfig `mapstructure:"sinks"`
}

type SinkConfig struct {
	Type     string                 `mapstructure:"type"`
	Settings map[string]interface{} `mapstructure:"settings"`
	Filters  []FilterConfig         `mapstructure:"filters"`
}

type FilterConfig struct {
	Field    string `mapstructure:"field"`
	Operator string `mapstructure:"operator"`
	Value    string `mapstructure:"value"`
}

type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Requests      int  `mapstructure:"requests"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

// Load reads config.yaml from the given path (falling back to ./config and
// the working directory) and overlays environment variables, with dots
// replaced by underscores (server.admin_port -> SERVER_ADMIN_PORT).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_port", 8081)
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("security.detector.enabled", true)
	v.SetDefault("security.detector.threat_threshold", 0.6)
	v.SetDefault("security.detector.confidence_threshold", 0.7)
	v.SetDefault("security.detector.auto_response_enabled", true)
	v.SetDefault("security.detector.max_analysis_time_ms", 5000)

	v.SetDefault("security.siem.queue_capacity", 1000)
	v.SetDefault("security.siem.batch_size", 50)
	v.SetDefault("security.siem.flush_interval_ms", 5000)
	v.SetDefault("security.siem.retry_attempts", 3)
	v.SetDefault("security.siem.retry_delay_ms", 100)
	v.SetDefault("security.siem.persist_min_score", 0.3)

	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests", 100)
	v.SetDefault("security.rate_limit.window_seconds", 60)
}
