package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 15 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultDatastoreDriver      = DriverFirestore
	defaultPayHereCurrency      = "LKR"
	defaultPayHereCountry       = "Sri Lanka"
	defaultPayHereSandboxURL    = "https://sandbox.payhere.lk/pay/checkout"
	defaultPayHereLiveURL       = "https://www.payhere.lk/pay/checkout"
	defaultBranchSearchRadius   = 500000
	defaultStrandedGracePeriod  = 30 * time.Minute
	defaultStrandedSweepBatch   = 50
	defaultMailDriver           = "log"
	defaultMailFromName         = "Solar Shop"
	defaultSMTPPort             = 587
	defaultEventsDriver         = "none"
	defaultEventsTopic          = "order-events"
	defaultIdempotencyDriver    = DriverFirestore
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Storage and messaging driver names shared across config groups.
const (
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
	DriverRedis     = "redis"
	DriverPubSub    = "pubsub"
	DriverKafka     = "kafka"
	DriverNone      = "none"
	DriverSMTP      = "smtp"
	DriverLog       = "log"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Datastore   DatastoreConfig
	PayHere     PayHereConfig
	URLs        URLConfig
	Orders      OrderConfig
	Mail        MailConfig
	Events      EventsConfig
	Redis       RedisConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CheckRevoked    bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// DatastoreConfig selects the repository backend. The memory driver is seeded from a YAML file.
type DatastoreConfig struct {
	Driver   string
	SeedFile string
}

// PayHereConfig holds hosted-checkout merchant credentials.
type PayHereConfig struct {
	MerchantID     string
	MerchantSecret string
	Sandbox        bool
	Currency       string
	DefaultCountry string
	CheckoutURL    string
}

// URLConfig lists the public base URLs used to build gateway callbacks and email links.
type URLConfig struct {
	Frontend string
	Backend  string
}

// OrderConfig tunes order intake and the stranded order sweep.
type OrderConfig struct {
	BranchSearchRadiusMeters float64
	StrandedGracePeriod      time.Duration
	StrandedSweepBatch       int
}

// MailConfig configures transactional email delivery.
type MailConfig struct {
	Driver          string
	From            string
	FromName        string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	TemplatesBucket string
	TemplatesPrefix string
}

// EventsConfig selects the order event publisher.
type EventsConfig struct {
	Driver          string
	PubSubProjectID string
	Topic           string
	KafkaBrokers    []string
}

// RedisConfig configures the optional Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Driver           string
	Header           string
	Required         bool
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory, e.g. "PayHere.MerchantSecret".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	e, err := collectEnv(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     e.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    e.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     e.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: e.dur("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			LogLevel:        e.str("API_LOG_LEVEL", "info"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.raw("API_FIREBASE_PROJECT_ID"),
			CredentialsFile: e.raw("API_FIREBASE_CREDENTIALS_FILE"),
			CheckRevoked:    e.flag("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.raw("API_FIRESTORE_PROJECT_ID"),
			EmulatorHost: e.raw("API_FIRESTORE_EMULATOR_HOST"),
		},
		Datastore: DatastoreConfig{
			Driver:   e.lower("API_DATASTORE_DRIVER", defaultDatastoreDriver),
			SeedFile: e.raw("API_DATASTORE_SEED_FILE"),
		},
		PayHere: PayHereConfig{
			MerchantID:     e.raw("API_PAYHERE_MERCHANT_ID"),
			MerchantSecret: e.raw("API_PAYHERE_MERCHANT_SECRET"),
			Sandbox:        e.flag("API_PAYHERE_SANDBOX", true),
			Currency:       strings.ToUpper(e.str("API_PAYHERE_CURRENCY", defaultPayHereCurrency)),
			DefaultCountry: e.str("API_PAYHERE_DEFAULT_COUNTRY", defaultPayHereCountry),
			CheckoutURL:    e.raw("API_PAYHERE_CHECKOUT_URL"),
		},
		URLs: URLConfig{
			Frontend: strings.TrimRight(e.raw("API_FRONTEND_URL"), "/"),
			Backend:  strings.TrimRight(e.raw("API_BACKEND_URL"), "/"),
		},
		Orders: OrderConfig{
			BranchSearchRadiusMeters: e.float("API_ORDERS_BRANCH_RADIUS_METERS", defaultBranchSearchRadius),
			StrandedGracePeriod:      e.dur("API_ORDERS_STRANDED_GRACE", defaultStrandedGracePeriod),
			StrandedSweepBatch:       e.integer("API_ORDERS_STRANDED_BATCH", defaultStrandedSweepBatch),
		},
		Mail: MailConfig{
			Driver:          e.lower("API_MAIL_DRIVER", defaultMailDriver),
			From:            e.raw("API_MAIL_FROM"),
			FromName:        e.str("API_MAIL_FROM_NAME", defaultMailFromName),
			SMTPHost:        e.raw("API_MAIL_SMTP_HOST"),
			SMTPPort:        e.integer("API_MAIL_SMTP_PORT", defaultSMTPPort),
			SMTPUsername:    e.raw("API_MAIL_SMTP_USERNAME"),
			SMTPPassword:    e.raw("API_MAIL_SMTP_PASSWORD"),
			TemplatesBucket: e.raw("API_MAIL_TEMPLATES_BUCKET"),
			TemplatesPrefix: e.str("API_MAIL_TEMPLATES_PREFIX", "mail/"),
		},
		Events: EventsConfig{
			Driver:          e.lower("API_EVENTS_DRIVER", defaultEventsDriver),
			PubSubProjectID: e.raw("API_EVENTS_PUBSUB_PROJECT_ID"),
			Topic:           e.str("API_EVENTS_TOPIC", defaultEventsTopic),
			KafkaBrokers:    e.list("API_EVENTS_KAFKA_BROKERS"),
		},
		Redis: RedisConfig{
			Addr:     e.raw("API_REDIS_ADDR"),
			Password: e.raw("API_REDIS_PASSWORD"),
			DB:       e.integer("API_REDIS_DB", 0),
		},
		Security: SecurityConfig{
			Environment: e.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:   e.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  e.raw("API_SECURITY_OIDC_AUDIENCE"),
				Audiences: e.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   e.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Driver:           e.lower("API_IDEMPOTENCY_DRIVER", defaultIdempotencyDriver),
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			Required:         e.flag("API_IDEMPOTENCY_REQUIRED", false),
			TTL:              e.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	applyDefaults(&cfg)

	resolved, err := resolveSecretFields(ctx, options.secret, []secretField{
		{"PayHere.MerchantSecret", &cfg.PayHere.MerchantSecret},
		{"Mail.SMTPPassword", &cfg.Mail.SMTPPassword},
		{"Redis.Password", &cfg.Redis.Password},
	})
	if err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PayHere.CheckoutURL == "" {
		if cfg.PayHere.Sandbox {
			cfg.PayHere.CheckoutURL = defaultPayHereSandboxURL
		} else {
			cfg.PayHere.CheckoutURL = defaultPayHereLiveURL
		}
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}
}

func validateConfig(cfg Config) error {
	var missing []string
	add := func(field string) { missing = append(missing, field) }

	if cfg.Server.Port == "" {
		add("Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		add("Firebase.ProjectID")
	}
	switch cfg.Datastore.Driver {
	case DriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			add("Firestore.ProjectID")
		}
	case DriverMemory:
	default:
		add("Datastore.Driver")
	}
	if strings.TrimSpace(cfg.PayHere.MerchantID) == "" {
		add("PayHere.MerchantID")
	}
	if len(cfg.PayHere.Currency) != 3 {
		add("PayHere.Currency")
	}
	if !absoluteURL(cfg.URLs.Frontend) {
		add("URLs.Frontend")
	}
	if !absoluteURL(cfg.URLs.Backend) {
		add("URLs.Backend")
	}
	if cfg.Orders.BranchSearchRadiusMeters <= 0 {
		add("Orders.BranchSearchRadiusMeters")
	}
	if cfg.Orders.StrandedGracePeriod <= 0 {
		add("Orders.StrandedGracePeriod")
	}
	if cfg.Orders.StrandedSweepBatch <= 0 {
		add("Orders.StrandedSweepBatch")
	}
	switch cfg.Mail.Driver {
	case DriverSMTP:
		if cfg.Mail.SMTPHost == "" {
			add("Mail.SMTPHost")
		}
		if cfg.Mail.From == "" {
			add("Mail.From")
		}
	case DriverLog:
	default:
		add("Mail.Driver")
	}
	switch cfg.Events.Driver {
	case DriverPubSub:
		if cfg.Events.Topic == "" {
			add("Events.Topic")
		}
	case DriverKafka:
		if cfg.Events.Topic == "" {
			add("Events.Topic")
		}
		if len(cfg.Events.KafkaBrokers) == 0 {
			add("Events.KafkaBrokers")
		}
	case DriverNone:
	default:
		add("Events.Driver")
	}
	switch cfg.Idempotency.Driver {
	case DriverRedis:
		if cfg.Redis.Addr == "" {
			add("Redis.Addr")
		}
	case DriverFirestore:
		if cfg.Datastore.Driver != DriverFirestore {
			add("Idempotency.Driver")
		}
	case DriverMemory:
	default:
		add("Idempotency.Driver")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		add("Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		add("Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func absoluteURL(raw string) bool {
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
