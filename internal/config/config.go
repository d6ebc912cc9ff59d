package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe      StripeConfig
	Checkout    CheckoutConfig
	FX          FXConfig
	Fulfillment FulfillmentConfig
	Email       EmailConfig
	Slack       SlackConfig
	RateLimit   RateLimitConfig
	Invoice     InvoiceConfig

	InternalAPIToken  string
	PricingConfigPath string
	SeedUserEmail     string
}

// ObservabilityConfig drives logging, tracing and metrics export. OTLP
// export is on by default only when an endpoint is configured.
type ObservabilityConfig struct {
	LogLevel     string
	LogFormat    string
	OtelEnabled  bool
	OtelEndpoint string
	OtelProtocol string
	OtelSampling float64
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	APIBase          string
	Timeout          time.Duration
}

type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
}

type FXConfig struct {
	SourceURL    string
	TTL          time.Duration
	FetchTimeout time.Duration
}

type FulfillmentConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SlackConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// InvoiceConfig is the seller block printed on every invoice.
type InvoiceConfig struct {
	SellerName    string
	SellerAddress string
	SellerTaxID   string
	SellerEmail   string
}

type RateLimitConfig struct {
	Enabled         bool
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CheckoutRate    float64
	CheckoutBurst   int
	CheckoutLockTTL time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:       getenv("APP_SERVICE", "copydesk"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", getenv("DEPLOYMENT_ENV", "development")),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		Observability: loadObservability(),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "copydesk"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: getenvSeconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
			APIBase:          strings.TrimRight(getenv("STRIPE_API_BASE", "https://api.stripe.com"), "/"),
			Timeout:          getenvSeconds("GATEWAY_TIMEOUT_SECONDS", 10),
		},
		Checkout: CheckoutConfig{
			SuccessURL: getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/orders/success"),
			CancelURL:  getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/orders/cancel"),
		},
		FX: FXConfig{
			SourceURL:    strings.TrimRight(getenv("FX_SOURCE_URL", "https://api.nbp.pl/api/exchangerates/rates/a"), "/"),
			TTL:          time.Duration(getenvInt("FX_RATE_TTL_MINUTES", 60)) * time.Minute,
			FetchTimeout: getenvSeconds("FX_FETCH_TIMEOUT_SECONDS", 5),
		},
		Fulfillment: FulfillmentConfig{
			URL:     strings.TrimSpace(getenv("FULFILLMENT_URL", "")),
			Token:   strings.TrimSpace(getenv("FULFILLMENT_TOKEN", "")),
			Timeout: getenvSeconds("FULFILLMENT_TIMEOUT_SECONDS", 5),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "billing@copydesk.local"),
		},
		Slack: SlackConfig{
			WebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			Timeout:    getenvSeconds("SLACK_TIMEOUT_SECONDS", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:       strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword:   getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:         getenvInt("RATE_LIMIT_REDIS_DB", 0),
			CheckoutRate:    getenvFloat("RATE_LIMIT_CHECKOUT_RATE", 0.5),
			CheckoutBurst:   getenvInt("RATE_LIMIT_CHECKOUT_BURST", 5),
			CheckoutLockTTL: getenvSeconds("RATE_LIMIT_CHECKOUT_LOCK_SECONDS", 30),
		},
		Invoice: InvoiceConfig{
			SellerName:    getenv("INVOICE_SELLER_NAME", "Copydesk sp. z o.o."),
			SellerAddress: getenv("INVOICE_SELLER_ADDRESS", ""),
			SellerTaxID:   getenv("INVOICE_SELLER_TAX_ID", ""),
			SellerEmail:   getenv("INVOICE_SELLER_EMAIL", "billing@copydesk.local"),
		},

		InternalAPIToken:  strings.TrimSpace(getenv("INTERNAL_API_TOKEN", "")),
		PricingConfigPath: strings.TrimSpace(getenv("PRICING_CONFIG_PATH", "")),
		SeedUserEmail:     strings.TrimSpace(getenv("SEED_USER_EMAIL", "")),
	}
}

func loadObservability() ObservabilityConfig {
	endpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "")))
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return ObservabilityConfig{
		LogLevel:     strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:    strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:  getenvBool("OTEL_ENABLED", endpoint != ""),
		OtelEndpoint: endpoint,
		OtelProtocol: strings.ToLower(strings.TrimSpace(protocol)),
		OtelSampling: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvSeconds(key string, def int) time.Duration {
	return time.Duration(getenvInt(key, def)) * time.Second
}
