package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Mellat       MellatConfig
	SnappPay     SnappPayConfig
	Anipo        AnipoConfig
	Refund       RefundConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"INFINITY_APP_ENV" required:"true"`
	Port          string `envconfig:"INFINITY_APP_PORT" required:"true"`
	LogLevel      string `envconfig:"INFINITY_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"INFINITY_LOG_WARN_STACK" default:"false"`
	PublicBaseURL string `envconfig:"INFINITY_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	// PaymentResultURL is the storefront page the customer's browser is sent
	// to after a gateway callback. Empty keeps callbacks on JSON responses.
	PaymentResultURL string `envconfig:"INFINITY_PAYMENT_RESULT_URL"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// CallbackURL is the absolute URL gateways redirect back to after payment.
func (a AppConfig) CallbackURL() string {
	return strings.TrimRight(a.PublicBaseURL, "/") + "/api/orders/payment-callback"
}

type ServiceConfig struct {
	Kind string `envconfig:"INFINITY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"INFINITY_DB_DSN"`
	Driver string `envconfig:"INFINITY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"INFINITY_DB_HOST"`
	LegacyPort     int    `envconfig:"INFINITY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"INFINITY_DB_USER"`
	LegacyPassword string `envconfig:"INFINITY_DB_PASSWORD"`
	LegacyName     string `envconfig:"INFINITY_DB_NAME"`
	LegacySSLMode  string `envconfig:"INFINITY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INFINITY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INFINITY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INFINITY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INFINITY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"INFINITY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"INFINITY_REDIS_ADDR"`
	Password     string        `envconfig:"INFINITY_REDIS_PASSWORD"`
	DB           int           `envconfig:"INFINITY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INFINITY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INFINITY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INFINITY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INFINITY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INFINITY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"INFINITY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"INFINITY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"INFINITY_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTTLHours   int    `envconfig:"INFINITY_JWT_REFRESH_TTL_HOURS" default:"720"`
}

// RefreshTokenTTL returns the lifetime of refresh sessions stored in Redis.
func (c JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTTLHours) * time.Hour
}

// RateLimitConfig throttles the public payment callback and the
// authenticated API surface per source IP.
type RateLimitConfig struct {
	CallbackWindow  time.Duration `envconfig:"INFINITY_RATE_LIMIT_CALLBACK_WINDOW" default:"1m"`
	CallbackIPLimit int           `envconfig:"INFINITY_RATE_LIMIT_CALLBACK_IP_LIMIT" default:"60"`
	APIWindow       time.Duration `envconfig:"INFINITY_RATE_LIMIT_API_WINDOW" default:"1m"`
	APIIPLimit      int           `envconfig:"INFINITY_RATE_LIMIT_API_IP_LIMIT" default:"300"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"INFINITY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"INFINITY_AUTO_MIGRATE" default:"false"`
}

// MellatConfig configures the Mellat bank redirect gateway. Amounts are
// converted to IRR at the adapter boundary; everything else in the system
// stays in Toman.
type MellatConfig struct {
	Enabled     bool          `envconfig:"INFINITY_MELLAT_ENABLED" default:"true"`
	TerminalID  int64         `envconfig:"INFINITY_MELLAT_TERMINAL_ID"`
	Username    string        `envconfig:"INFINITY_MELLAT_USERNAME"`
	Password    string        `envconfig:"INFINITY_MELLAT_PASSWORD"`
	ServiceURL  string        `envconfig:"INFINITY_MELLAT_SERVICE_URL" default:"https://bpm.shaparak.ir/pgwchannel/services/pgw"`
	RedirectURL string        `envconfig:"INFINITY_MELLAT_REDIRECT_URL" default:"https://bpm.shaparak.ir/pgwchannel/startpay.mellat"`
	Timeout     time.Duration `envconfig:"INFINITY_MELLAT_TIMEOUT" default:"15s"`
}

type SnappPayConfig struct {
	Enabled      bool          `envconfig:"INFINITY_SNAPPPAY_ENABLED" default:"true"`
	BaseURL      string        `envconfig:"INFINITY_SNAPPPAY_BASE_URL"`
	ClientID     string        `envconfig:"INFINITY_SNAPPPAY_CLIENT_ID"`
	ClientSecret string        `envconfig:"INFINITY_SNAPPPAY_CLIENT_SECRET"`
	Username     string        `envconfig:"INFINITY_SNAPPPAY_USERNAME"`
	Password     string        `envconfig:"INFINITY_SNAPPPAY_PASSWORD"`
	Timeout      time.Duration `envconfig:"INFINITY_SNAPPPAY_TIMEOUT" default:"15s"`
	TokenTTL     time.Duration `envconfig:"INFINITY_SNAPPPAY_TOKEN_TTL" default:"25m"`
}

type AnipoConfig struct {
	BaseURL string        `envconfig:"INFINITY_ANIPO_BASE_URL"`
	Keyword string        `envconfig:"INFINITY_ANIPO_KEYWORD"`
	Timeout time.Duration `envconfig:"INFINITY_ANIPO_TIMEOUT" default:"10s"`
}

type RefundConfig struct {
	SettleMaxAttempts int           `envconfig:"INFINITY_REFUND_SETTLE_MAX_ATTEMPTS" default:"5"`
	SettleBackoff     time.Duration `envconfig:"INFINITY_REFUND_SETTLE_BACKOFF" default:"2s"`
	PollInterval      time.Duration `envconfig:"INFINITY_REFUND_POLL_INTERVAL" default:"1m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"INFINITY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"INFINITY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"INFINITY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic         string `envconfig:"INFINITY_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription  string `envconfig:"INFINITY_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	DomainTopic         string `envconfig:"INFINITY_PUBSUB_DOMAIN_TOPIC"`
	DomainSubscription  string `envconfig:"INFINITY_PUBSUB_DOMAIN_SUBSCRIPTION"`
	MediaSubscription   string `envconfig:"INFINITY_PUBSUB_MEDIA_SUBSCRIPTION"`
	BillingSubscription string `envconfig:"INFINITY_PUBSUB_BILLING_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"INFINITY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"INFINITY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"INFINITY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
