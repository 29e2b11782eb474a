package config

import (
	"fmt"
	"strconv"
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
	Cookie    CookieSettings    `mapstructure:"cookie"`
	OTP       OTPSettings       `mapstructure:"otp"`
	Credits   CreditSettings    `mapstructure:"credits"`
	Google    GoogleSettings    `mapstructure:"google"`
	Stripe    StripeSettings    `mapstructure:"stripe"`
	SMTP      SMTPSettings      `mapstructure:"smtp"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Admin     AdminSettings     `mapstructure:"admin"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IsProduction reports whether the service runs with production hardening (secure cookies, release mode).
func (s AppSettings) IsProduction() bool {
	return s.Env == "production"
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
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	OTPPrefix       string `mapstructure:"otp_prefix"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type JWTSettings struct {
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// CookieSettings configures the refresh-token cookie.
type CookieSettings struct {
	RefreshName string `mapstructure:"refresh_name"`
	Domain      string `mapstructure:"domain"`
	Path        string `mapstructure:"path"`
}

// OTPSettings configures one-time verification codes.
type OTPSettings struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
}

// CreditSettings configures free-tier quotas and the purchasable plan catalogue.
//
// Plans is a semicolon separated list of id:generations:edits[:stripe_price_id]
// entries, e.g. "starter:50:100:price_123;pro:500:1000:price_456".
type CreditSettings struct {
	FreeGenerations int           `mapstructure:"free_generations"`
	FreeEdits       int           `mapstructure:"free_edits"`
	UnlimitedLimit  int           `mapstructure:"unlimited_limit"`
	PlanDuration    time.Duration `mapstructure:"plan_duration"`
	Plans           string        `mapstructure:"plans"`
}

// PlanCatalog parses Plans into individual plan definitions.
func (s CreditSettings) PlanCatalog() ([]PlanSettings, error) {
	var plans []PlanSettings
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(s.Plans, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("config: malformed credits plan %q", entry)
		}
		id := strings.TrimSpace(parts[0])
		if id == "" {
			return nil, fmt.Errorf("config: credits plan id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("config: duplicate credits plan %q", id)
		}
		seen[id] = struct{}{}

		generations, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || generations < 0 {
			return nil, fmt.Errorf("config: credits plan %q has invalid generations limit", id)
		}
		edits, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || edits < 0 {
			return nil, fmt.Errorf("config: credits plan %q has invalid edits limit", id)
		}

		plan := PlanSettings{ID: id, GenerationsLimit: generations, EditsLimit: edits}
		if len(parts) == 4 {
			plan.StripePriceID = strings.TrimSpace(parts[3])
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// PlanSettings describes one purchasable plan.
type PlanSettings struct {
	ID               string
	GenerationsLimit int
	EditsLimit       int
	StripePriceID    string
}

type GoogleSettings struct {
	ClientID string `mapstructure:"client_id"`
}

type StripeSettings struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type SMTPSettings struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromName    string `mapstructure:"from_name"`
	FromAddress string `mapstructure:"from_address"`
	Encryption  string `mapstructure:"encryption"`
}

// Enabled reports whether outbound e-mail is configured.
func (s SMTPSettings) Enabled() bool {
	return strings.TrimSpace(s.Host) != "" && strings.TrimSpace(s.FromAddress) != ""
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts    int           `mapstructure:"login_max_attempts"`
	RegisterMaxAttempts int           `mapstructure:"register_max_attempts"`
	OTPMaxAttempts      int           `mapstructure:"otp_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type AdminSettings struct {
	APIKey string `mapstructure:"api_key"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("GS")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
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
		"postgres.auto_migrate",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.otp_prefix",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.access_secret",
		"jwt.refresh_secret",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"cookie.refresh_name",
		"cookie.domain",
		"cookie.path",
		"otp.ttl",
		"otp.max_attempts",
		"otp.resend_cooldown",
		"credits.free_generations",
		"credits.free_edits",
		"credits.unlimited_limit",
		"credits.plan_duration",
		"credits.plans",
		"google.client_id",
		"stripe.secret_key",
		"stripe.webhook_secret",
		"stripe.success_url",
		"stripe.cancel_url",
		"smtp.host",
		"smtp.port",
		"smtp.username",
		"smtp.password",
		"smtp.from_name",
		"smtp.from_address",
		"smtp.encryption",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.register_max_attempts",
		"rate_limit.otp_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"admin.api_key",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot safely run with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.AccessSecret) == "" || strings.TrimSpace(c.JWT.RefreshSecret) == "" {
		return fmt.Errorf("config: jwt.access_secret and jwt.refresh_secret are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("config: jwt access and refresh secrets must differ")
	}
	if c.Credits.FreeGenerations < 0 || c.Credits.FreeEdits < 0 {
		return fmt.Errorf("config: free-tier limits must not be negative")
	}
	if _, err := c.Credits.PlanCatalog(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "genstudio-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "genstudio")
	v.SetDefault("postgres.password", "genstudio_password")
	v.SetDefault("postgres.database", "genstudio")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.otp_prefix", "gs:otp")
	v.SetDefault("redis.rate_limit_prefix", "gs:rate-limit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "genstudio")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.issuer", "genstudio-auth")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("cookie.refresh_name", "refreshToken")
	v.SetDefault("cookie.path", "/")

	v.SetDefault("otp.ttl", "10m")
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.resend_cooldown", "60s")

	v.SetDefault("credits.free_generations", 3)
	v.SetDefault("credits.free_edits", 7)
	v.SetDefault("credits.unlimited_limit", 1_000_000_000)
	v.SetDefault("credits.plan_duration", "720h")
	v.SetDefault("credits.plans", "starter:50:100;pro:500:1000")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from_name", "GenStudio")
	v.SetDefault("smtp.encryption", "starttls")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "genstudio-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.register_max_attempts", 5)
	v.SetDefault("rate_limit.otp_max_attempts", 10)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "GS_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
