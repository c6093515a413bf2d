package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solarshop/api/internal/mail"
	"github.com/solarshop/api/internal/platform/auth"
	"github.com/solarshop/api/internal/platform/config"
	"github.com/solarshop/api/internal/platform/events"
	pfirestore "github.com/solarshop/api/internal/platform/firestore"
	"github.com/solarshop/api/internal/platform/idempotency"
	"github.com/solarshop/api/internal/platform/secrets"
	"github.com/solarshop/api/internal/repositories"
	firestoreRepo "github.com/solarshop/api/internal/repositories/firestore"
	"github.com/solarshop/api/internal/repositories/memory"
	"github.com/solarshop/api/internal/services"
)

const (
	idempotencyCollection = "idempotency_keys"
	// secretProbeRef is resolved by the readiness check. It need not exist: NotFound proves
	// Secret Manager answered.
	secretProbeRef = "secret://system-healthz"
)

func newRegistry(cfg config.Config, provider *pfirestore.Provider, health repositories.HealthRepository) (repositories.Registry, error) {
	if cfg.Datastore.Driver != config.DriverMemory {
		return firestoreRepo.NewRegistry(provider, health)
	}
	store := memory.NewStore()
	if cfg.Datastore.SeedFile != "" {
		if err := store.LoadSeedFile(cfg.Datastore.SeedFile); err != nil {
			return nil, fmt.Errorf("seed memory datastore: %w", err)
		}
	}
	return store.Registry(health), nil
}

func newIdempotencyStore(cfg config.Config, provider *pfirestore.Provider, client *redis.Client) (idempotency.Store, error) {
	switch cfg.Idempotency.Driver {
	case config.DriverRedis:
		if client == nil {
			return nil, errors.New("idempotency: redis driver needs API_REDIS_ADDR")
		}
		return idempotency.NewRedisStore(client)
	case config.DriverFirestore:
		return idempotency.NewFirestoreStore(provider, idempotencyCollection)
	}
	return idempotency.NewMemoryStore(), nil
}

// newEventPublisher returns the configured order event sink and a function releasing its
// transport. "none" still logs each event.
func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, func(), error) {
	switch cfg.Events.Driver {
	case config.DriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSubProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.Events.Topic))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func() {
			_ = publisher.Close()
			closeQuietly(logger, "pubsub", client.Close)
		}, nil

	case config.DriverKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic, logger)
		if err != nil {
			return nil, nil, err
		}
		return publisher, func() { closeQuietly(logger, "kafka", publisher.Close) }, nil
	}
	return events.NewLogPublisher(logger), func() {}, nil
}

// newMailer renders with the embedded templates, overlaid by a Cloud Storage prefix when
// API_MAIL_TEMPLATES_BUCKET is set, and sends through SMTP or the log.
func newMailer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*mail.Mailer, func(), error) {
	var (
		source  mail.TemplateSource = mail.EmbeddedSource()
		release                     = func() {}
	)
	fail := func(err error) (*mail.Mailer, func(), error) {
		release()
		return nil, nil, err
	}

	if bucket := cfg.Mail.TemplatesBucket; bucket != "" {
		client, err := cloudstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("storage client: %w", err)
		}
		release = func() { closeQuietly(logger, "storage", client.Close) }
		overrides, err := mail.NewBucketTemplateSource(client, bucket, cfg.Mail.TemplatesPrefix)
		if err != nil {
			return fail(err)
		}
		source = mail.LayeredSource{overrides, mail.EmbeddedSource()}
	}

	renderer, err := mail.NewRenderer(ctx, source)
	if err != nil {
		return fail(fmt.Errorf("mail templates: %w", err))
	}

	var sender mail.Sender = mail.NewLogSender(logger)
	if cfg.Mail.Driver == config.DriverSMTP {
		smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
		})
		if err != nil {
			return fail(err)
		}
		sender = smtp
	}

	from := cfg.Mail.From
	if from == "" {
		from = "no-reply@localhost"
	}
	mailer, err := mail.NewMailer(mail.MailerDeps{Renderer: renderer, Sender: sender, From: from, FromName: cfg.Mail.FromName})
	if err != nil {
		return fail(err)
	}
	return mailer, release, nil
}

// newHealthRepository probes Firestore as a hard dependency. Redis and Secret Manager only
// degrade readiness.
func newHealthRepository(provider *pfirestore.Provider, client *redis.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: provider.Ping})
	}
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Optional: true,
			Check:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretProbeRef)
				if status.Code(errors.Unwrap(err)) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("no dependencies to probe")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// buildOIDCMiddleware guards /internal with Google-signed tokens, as sent by Cloud Scheduler.
func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if oidc.JWKSURL == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if oidc.Audience == "" || len(oidc.Issuers) == 0 {
		logger.Warn("oidc audience or issuers unset, internal routes will reject every token",
			zap.String("audience", oidc.Audience), zap.Strings("issuers", oidc.Issuers))
	}
	validator := auth.NewOIDCValidator(auth.NewJWKSCache(oidc.JWKSURL, auth.WithJWKSLogger(logger)), logger)
	return validator.RequireOIDC(oidc.Audience, oidc.Issuers)
}

// newSecretFetcher is built from raw environment values because it has to exist before
// config.Load can resolve secret references.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{
		secrets.WithLogger(logger),
		secrets.WithEnvironment(firstSet(get("API_SECURITY_ENVIRONMENT"), "local")),
		secrets.WithFallbackFile(firstSet(get("API_SECRET_FALLBACK_FILE"), ".secrets.local")),
	}
	if project := firstSet(get("API_SECRET_DEFAULT_PROJECT_ID"), get("API_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if projects := parseKeyValueList(get("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if ttl, err := time.ParseDuration(get("API_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if path := get("API_FIREBASE_CREDENTIALS_FILE"); path != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(path)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must hold a value after secret resolution.
// SMTP and Redis passwords are only required when those integrations are switched on.
func requiredSecretNames(env map[string]string) []string {
	names := []string{"PayHere.MerchantSecret"}
	smtp := strings.EqualFold(strings.TrimSpace(env["API_MAIL_DRIVER"]), config.DriverSMTP)
	if smtp && strings.TrimSpace(env["API_MAIL_SMTP_USERNAME"]) != "" {
		names = append(names, "Mail.SMTPPassword")
	}
	if strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		names = append(names, "Redis.Password")
	}
	return names
}

// parseKeyValueList reads "prod=solar-prod,staging=solar-stg". Keys are lowercased and
// malformed items are skipped.
func parseKeyValueList(raw string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(item, "=")
		key, value = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
