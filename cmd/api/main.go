package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/solarshop/api/internal/di"
	"github.com/solarshop/api/internal/handlers"
	"github.com/solarshop/api/internal/payments"
	"github.com/solarshop/api/internal/platform/auth"
	"github.com/solarshop/api/internal/platform/config"
	pfirestore "github.com/solarshop/api/internal/platform/firestore"
	"github.com/solarshop/api/internal/platform/idempotency"
	"github.com/solarshop/api/internal/platform/observability"
	"github.com/solarshop/api/internal/platform/requestctx"
	"github.com/solarshop/api/internal/services"
)

func main() {
	startedAt := time.Now().UTC()

	env, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read environment: %v\n", err)
		os.Exit(1)
	}
	root, err := observability.NewLogger(env["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = root.Sync() }()

	logger := root.Named("api")
	ctx := requestctx.WithLogger(context.Background(), logger)

	// Secrets must be readable before config, since config values may be secret:// references.
	fetcher, err := newSecretFetcher(ctx, logger.Named("secrets"), env)
	if err != nil {
		logger.Fatal("secret fetcher", zap.Error(err))
	}
	defer closeQuietly(logger, "secret fetcher", fetcher.Close)

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	var missing *config.MissingSecretsError
	switch {
	case errors.As(err, &missing):
		logger.Fatal("required secrets did not resolve", zap.Strings("secrets", missing.RedactedNames()))
	case err != nil:
		logger.Fatal("load configuration", zap.Error(err))
	}
	build := buildInfoFromEnv(env, cfg, startedAt)

	var provider *pfirestore.Provider
	if cfg.Datastore.Driver == config.DriverFirestore {
		var opts []pfirestore.ProviderOption
		if path := cfg.Firebase.CredentialsFile; path != "" {
			opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
		}
		provider = pfirestore.NewProvider(cfg.Firestore, opts...)
		// Dial eagerly so a bad project or credential fails the deploy, not the first order.
		if _, err := provider.Client(ctx); err != nil {
			logger.Fatal("firestore client", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer closeQuietly(logger, "redis", redisClient.Close)
	}

	health, err := newHealthRepository(provider, redisClient, fetcher)
	if err != nil {
		logger.Warn("readiness checks disabled", zap.Error(err))
	}
	registry, err := newRegistry(cfg, provider, health)
	if err != nil {
		logger.Fatal("repositories", zap.Error(err))
	}

	idemStore, err := newIdempotencyStore(cfg, provider, redisClient)
	if err != nil {
		logger.Fatal("idempotency store", zap.Error(err))
	}
	idemLogger := logger.Named("idempotency")
	stopPurge := startIdempotencyPurge(idemStore, cfg.Idempotency, idemLogger)
	defer stopPurge()

	publisher, closePublisher, err := newEventPublisher(ctx, cfg, logger.Named("events"))
	if err != nil {
		logger.Fatal("event publisher", zap.Error(err))
	}
	defer closePublisher()

	mailer, closeMailer, err := newMailer(ctx, cfg, logger.Named("mail"))
	if err != nil {
		logger.Fatal("mailer", zap.Error(err))
	}
	defer closeMailer()

	metrics, err := observability.NewPaymentMetrics(nil)
	if err != nil {
		logger.Warn("payment metrics unavailable", zap.Error(err))
	}

	gateway, err := payments.NewPayHere(payments.PayHereConfig{
		MerchantID:     cfg.PayHere.MerchantID,
		MerchantSecret: cfg.PayHere.MerchantSecret,
		Sandbox:        cfg.PayHere.Sandbox,
		Currency:       cfg.PayHere.Currency,
		Country:        cfg.PayHere.DefaultCountry,
		CheckoutURL:    cfg.PayHere.CheckoutURL,
		FrontendURL:    cfg.URLs.Frontend,
		BackendURL:     cfg.URLs.Backend,
	})
	if err != nil {
		logger.Fatal("payhere gateway", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Gateway: gateway,
		Mailer:  mailer,
		Events:  publisher,
		Metrics: metrics,
		Build:   build,
		Clock:   time.Now,
		Logger:  observability.NewEventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("close repositories", zap.Error(err))
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("firebase verifier", zap.Error(err))
	}

	replayGuard := idempotency.Middleware(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithRequired(cfg.Idempotency.Required),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idemLogger),
	)
	router := newRouter(cfg, container, build, routerDeps{
		logger:        logger.Named("http"),
		authn:         auth.NewAuthenticator(verifier),
		oidc:          buildOIDCMiddleware(logger.Named("auth"), cfg),
		idempotencyMW: replayGuard,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	logger.Info("starting solar shop api",
		zap.String("addr", server.Addr),
		zap.String("environment", build.Environment),
		zap.String("datastore", cfg.Datastore.Driver),
		zap.String("mail", cfg.Mail.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.Bool("payhere_sandbox", cfg.PayHere.Sandbox),
	)
	if err := serve(server, cfg.Server.ShutdownTimeout, logger.Named("http")); err != nil {
		logger.Error("http server", zap.Error(err))
	}
}

type routerDeps struct {
	logger        *zap.Logger
	authn         *auth.Authenticator
	oidc          func(http.Handler) http.Handler
	idempotencyMW func(http.Handler) http.Handler
}

func newRouter(cfg config.Config, container *di.Container, build services.BuildInfo, deps routerDeps) http.Handler {
	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(build)}
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}

	orders := handlers.NewOrderHandlers(deps.authn, container.Services.Orders,
		handlers.WithOrderIdempotency(deps.idempotencyMW))
	payhere := handlers.NewPayHereHandlers(container.Services.Payments)
	internal := handlers.NewInternalHandlers(container.Services.Orders)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.LoggerMiddleware(deps.logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(deps.logger),
			observability.AccessLogMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithPayHereRoutes(payhere.Routes),
		handlers.WithInternalRoutes(internal.Routes),
	}
	if deps.oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(deps.oidc))
	}
	return handlers.NewRouter(opts...)
}

// serve runs server until SIGINT or SIGTERM, then drains in-flight requests for at most
// drain.
func serve(server *http.Server, drain time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
		close(failed)
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down, draining requests", zap.Duration("timeout", drain))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// startIdempotencyPurge deletes expired idempotency records every cfg.CleanupInterval until
// the returned stop function is called.
func startIdempotencyPurge(store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				runCtx, cancelRun := context.WithTimeout(ctx, time.Minute)
				removed, err := store.Purge(runCtx, now.UTC(), cfg.CleanupBatchSize)
				cancelRun()
				switch {
				case err != nil:
					logger.Error("purge expired keys", zap.Error(err))
				case removed > 0:
					logger.Info("purged expired keys", zap.Int("count", removed))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	pick := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     pick(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   pick(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: pick(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if cfg.Firebase.ProjectID != "" {
		return cfg.Firebase.ProjectID
	}
	return cfg.Firestore.ProjectID
}

func closeQuietly(logger *zap.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close "+what, zap.Error(err))
	}
}
