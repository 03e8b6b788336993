package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Checkout     CheckoutConfig
	Payments     PaymentsConfig
	Monnify      MonnifyConfig
	Square       SquareConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.App.TrustedProxyPrefixes(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(cfg.Monnify, cfg.Square); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	// PublicBaseURL is where the storefront frontend lives; gateways redirect shoppers back here.
	PublicBaseURL  string   `envconfig:"STOREFRONT_PUBLIC_BASE_URL" default:"http://localhost:3000"`
	AllowedOrigins []string `envconfig:"STOREFRONT_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// TrustedProxies lists the load balancer addresses (CIDR or bare IP)
	// whose X-Forwarded-For is believed. Empty means forwarding headers are ignored.
	TrustedProxies []string `envconfig:"STOREFRONT_TRUSTED_PROXIES"`
}

// TrustedProxyPrefixes parses TrustedProxies.
func (a AppConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(a.TrustedProxies))
	for _, raw := range a.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("STOREFRONT_TRUSTED_PROXIES: %w", err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("STOREFRONT_TRUSTED_PROXIES: %w", err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
	LogQueries         bool          `envconfig:"STOREFRONT_DB_LOG_QUERIES" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"STOREFRONT_REDIS_KEY_PREFIX" default:"storefront"`
}

// JWTConfig verifies bearer tokens issued by the customer session service.
type JWTConfig struct {
	Secret            string        `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
	Audience          string        `envconfig:"STOREFRONT_JWT_AUDIENCE"`
	Leeway            time.Duration `envconfig:"STOREFRONT_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

// PricingConfig holds the shipping table and tax settings the pricing engine quotes against.
// Amounts are in minor currency units.
type PricingConfig struct {
	Currency              string           `envconfig:"STOREFRONT_CURRENCY" default:"NGN"`
	ShippingFees          map[string]int64 `envconfig:"STOREFRONT_SHIPPING_FEES" required:"true"`
	FreeShippingThreshold int64            `envconfig:"STOREFRONT_FREE_SHIPPING_THRESHOLD" default:"0"`
	TaxRatePercent        string           `envconfig:"STOREFRONT_TAX_RATE_PERCENT" default:"0"`
	TaxIncludesShipping   bool             `envconfig:"STOREFRONT_TAX_INCLUDES_SHIPPING" default:"false"`
}

// TaxRate parses the configured percentage. Load has already validated it.
func (p PricingConfig) TaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.TaxRatePercent))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (p PricingConfig) validate() error {
	if len(p.ShippingFees) == 0 {
		return fmt.Errorf("%s must list at least one location", EnvShippingFees)
	}
	for location, fee := range p.ShippingFees {
		if fee < 0 {
			return fmt.Errorf("%s: negative fee for %q", EnvShippingFees, location)
		}
	}
	if p.FreeShippingThreshold < 0 {
		return fmt.Errorf("%s must be >= 0", EnvFreeShippingThreshold)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(p.TaxRatePercent))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvTaxRatePercent, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be between 0 and 100", EnvTaxRatePercent)
	}
	return nil
}

type CheckoutConfig struct {
	ReservationTTL    time.Duration `envconfig:"STOREFRONT_RESERVATION_TTL" default:"30m"`
	MaxLines          int           `envconfig:"STOREFRONT_CHECKOUT_MAX_LINES" default:"50"`
	IdempotencyKeyTTL time.Duration `envconfig:"STOREFRONT_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`

	// Fixed-window limits on checkout creation. A zero limit disables that scope.
	RateLimitWindow   time.Duration `envconfig:"STOREFRONT_CHECKOUT_RATE_WINDOW" default:"10m"`
	RateLimitPerIP    int           `envconfig:"STOREFRONT_CHECKOUT_RATE_PER_IP" default:"30"`
	RateLimitPerEmail int           `envconfig:"STOREFRONT_CHECKOUT_RATE_PER_EMAIL" default:"10"`
}

type PaymentsConfig struct {
	Provider       string        `envconfig:"STOREFRONT_PAYMENT_PROVIDER" default:"monnify"`
	SessionTimeout time.Duration `envconfig:"STOREFRONT_GATEWAY_SESSION_TIMEOUT" default:"15s"`
	RedirectPath   string        `envconfig:"STOREFRONT_PAYMENT_REDIRECT_PATH" default:"/orders/confirmation"`
}

func (p PaymentsConfig) validate(m MonnifyConfig, s SquareConfig) error {
	switch strings.ToLower(strings.TrimSpace(p.Provider)) {
	case ProviderMonnify:
		if m.APIKey == "" || m.SecretKey == "" || m.ContractCode == "" {
			return fmt.Errorf("monnify provider requires %s, %s and %s", EnvMonnifyAPIKey, EnvMonnifySecretKey, EnvMonnifyContractCode)
		}
	case ProviderSquare:
		if s.AccessToken == "" || s.LocationID == "" || s.WebhookSignatureKey == "" {
			return fmt.Errorf("square provider requires %s, %s and %s", EnvSquareAccessToken, EnvSquareLocationID, EnvSquareWebhookKey)
		}
	default:
		return fmt.Errorf("%s: unsupported provider %q", EnvPaymentProvider, p.Provider)
	}
	if p.SessionTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewaySessionTimeout)
	}
	return nil
}

// ProviderName returns the normalized provider key.
func (p PaymentsConfig) ProviderName() string {
	return strings.ToLower(strings.TrimSpace(p.Provider))
}

type MonnifyConfig struct {
	BaseURL      string        `envconfig:"STOREFRONT_MONNIFY_BASE_URL" default:"https://sandbox.monnify.com"`
	APIKey       string        `envconfig:"STOREFRONT_MONNIFY_API_KEY"`
	SecretKey    string        `envconfig:"STOREFRONT_MONNIFY_SECRET_KEY"`
	ContractCode string        `envconfig:"STOREFRONT_MONNIFY_CONTRACT_CODE"`
	CountryCode  string        `envconfig:"STOREFRONT_MONNIFY_PHONE_COUNTRY_CODE" default:"234"`
	HTTPTimeout  time.Duration `envconfig:"STOREFRONT_MONNIFY_HTTP_TIMEOUT" default:"10s"`
	MaxRetries   uint64        `envconfig:"STOREFRONT_MONNIFY_MAX_RETRIES" default:"2"`
}

type SquareConfig struct {
	AccessToken         string `envconfig:"STOREFRONT_SQUARE_ACCESS_TOKEN"`
	Env                 string `envconfig:"STOREFRONT_SQUARE_ENV" default:"sandbox"`
	LocationID          string `envconfig:"STOREFRONT_SQUARE_LOCATION_ID"`
	WebhookSignatureKey string `envconfig:"STOREFRONT_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL          string `envconfig:"STOREFRONT_SQUARE_WEBHOOK_URL"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"STOREFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
	PubSubEmulatorHost     string `envconfig:"STOREFRONT_PUBSUB_EMULATOR_HOST"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"STOREFRONT_PUBSUB_NOTIFICATION_TOPIC" default:"storefront-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// MetricsAddr serves /metrics and /health/ready for the publisher. Empty disables it.
	MetricsAddr string `envconfig:"STOREFRONT_OUTBOX_METRICS_ADDR" default:":9091"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"1m"`
	LockTTL         time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"50s"`
	ExpiryBatchSize int           `envconfig:"STOREFRONT_CRON_EXPIRY_BATCH_SIZE" default:"200"`

	OutboxRetention    time.Duration `envconfig:"STOREFRONT_CRON_OUTBOX_RETENTION" default:"720h"`
	RetentionBatchSize int           `envconfig:"STOREFRONT_CRON_RETENTION_BATCH_SIZE" default:"500"`
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
