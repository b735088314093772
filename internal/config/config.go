package config

import (
	"time"

	"github.com/sentra-io/devicetrust/internal/client"
)

type Config struct {
	Env         string       `yaml:"env" env:"APP_ENV"`
	Port        int          `yaml:"port" env:"PORT"`
	DatabaseURL string       `yaml:"database_url" env:"DATABASE_URL"`
	Logger      LoggerConfig `yaml:"logger"`

	Redis client.RedisConfig `yaml:"redis"`

	Kafka       KafkaConfig       `yaml:"kafka"`
	Security    SecurityConfig    `yaml:"security"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Admin       AdminConfig       `yaml:"admin"`
	HTTPLimits  HTTPLimitConfig   `yaml:"http_limits"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format"`
}

// KafkaConfig drives the async security-event shipper. Disabled means events
// are persisted to the store only.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic         string        `yaml:"topic"`
	BatchSize     int           `yaml:"batch_size"`
	FlushEvery    time.Duration `yaml:"flush_every"`
	QueueCapacity int           `yaml:"queue_capacity"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	TLS           bool          `yaml:"tls"`
	SASLPlain     bool          `yaml:"sasl_plain"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
}

// SecurityConfig tunes the risk engine thresholds and block durations.
// Zero values fall back to the engine defaults.
type SecurityConfig struct {
	HourlyAttemptLimit int           `yaml:"hourly_attempt_limit"`
	DailyAttemptLimit  int           `yaml:"daily_attempt_limit"`
	CompareSampleSize  int           `yaml:"compare_sample_size"`
	StoreTimeout       time.Duration `yaml:"store_timeout"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`

	ShortBlockDuration    time.Duration `yaml:"short_block_duration"`
	LongBlockDuration     time.Duration `yaml:"long_block_duration"`
	CriticalBlockDuration time.Duration `yaml:"critical_block_duration"`
}

type FingerprintConfig struct {
	TrustedProxyIPHeaders []string `yaml:"trusted_proxy_ip_headers"`
	TrustedProxyCIDRs     []string `yaml:"trusted_proxy_cidrs"`
	// ExtraVPNRanges extends the built-in datacenter CIDR list used for
	// VPN/proxy detection.
	ExtraVPNRanges []string `yaml:"extra_vpn_ranges"`
}

type AdminConfig struct {
	JWTSigningKey string `yaml:"jwt_signing_key" env:"ADMIN_JWT_SIGNING_KEY"`
}

// HTTPLimitConfig bounds raw request rates at the edge, before any
// fingerprint evaluation happens.
type HTTPLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}
