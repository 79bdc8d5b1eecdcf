package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Audit     AuditSettings     `mapstructure:"audit"`
	Alerts    AlertSettings     `mapstructure:"alerts"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	CORS      CORSSettings      `mapstructure:"cors"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the shared session-state store.
type RedisSettings struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	DB         int           `mapstructure:"db"`
	Password   string        `mapstructure:"password"`
	TLSEnabled bool          `mapstructure:"tls_enabled"`
	OpTimeout  time.Duration `mapstructure:"op_timeout"`
}

// KafkaSettings configures the security event bus producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// JWTSettings configures token lifetimes and the secret source.
type JWTSettings struct {
	SecretEnvVar    string        `mapstructure:"secret_env_var"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// AuditSettings configures the append-only audit log.
type AuditSettings struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	VerifyOnRead  bool   `mapstructure:"verify_on_read"`
}

// AlertSettings configures the sliding-window threshold detectors.
type AlertSettings struct {
	BruteForceThreshold int           `mapstructure:"brute_force_threshold"`
	BruteForceWindow    time.Duration `mapstructure:"brute_force_window"`
	MultiIPThreshold    int           `mapstructure:"multi_ip_threshold"`
	IPTrackTTL          time.Duration `mapstructure:"ip_track_ttl"`
	RateLimitThreshold  int           `mapstructure:"rate_limit_threshold"`
	RateLimitWindow     time.Duration `mapstructure:"rate_limit_window"`
	DedupTTL            time.Duration `mapstructure:"dedup_ttl"`
	AdminIPLookback     time.Duration `mapstructure:"admin_ip_lookback"`
}

// RateLimitSettings caps refresh attempts per client IP.
type RateLimitSettings struct {
	RefreshMaxAttempts int           `mapstructure:"refresh_max_attempts"`
	WindowDuration     time.Duration `mapstructure:"window_duration"`
}

// CORSSettings lists the origins allowed to call the API from browsers.
type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CRMSEC")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.op_timeout",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.secret_env_var",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"audit.dir",
		"audit.retention_days",
		"audit.verify_on_read",
		"alerts.brute_force_threshold",
		"alerts.brute_force_window",
		"alerts.multi_ip_threshold",
		"alerts.ip_track_ttl",
		"alerts.rate_limit_threshold",
		"alerts.rate_limit_window",
		"alerts.dedup_ttl",
		"alerts.admin_ip_lookback",
		"rate_limit.refresh_max_attempts",
		"rate_limit.window_duration",
		"cors.allowed_origins",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crm-session-security")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "crm")
	v.SetDefault("postgres.password", "crm_password")
	v.SetDefault("postgres.database", "crm")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.op_timeout", "2s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "crm-security")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.secret_env_var", "CRMSEC_JWT_SECRET")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("audit.dir", "./logs/audit")
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.verify_on_read", false)

	v.SetDefault("alerts.brute_force_threshold", 5)
	v.SetDefault("alerts.brute_force_window", "5m")
	v.SetDefault("alerts.multi_ip_threshold", 3)
	v.SetDefault("alerts.ip_track_ttl", "1h")
	v.SetDefault("alerts.rate_limit_threshold", 10)
	v.SetDefault("alerts.rate_limit_window", "1h")
	v.SetDefault("alerts.dedup_ttl", "5m")
	v.SetDefault("alerts.admin_ip_lookback", "168h")

	v.SetDefault("rate_limit.refresh_max_attempts", 30)
	v.SetDefault("rate_limit.window_duration", "1m")

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "crm-session-security")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "CRMSEC_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
