package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solarshop/api/internal/payments"
	"github.com/solarshop/api/internal/platform/config"
	"github.com/solarshop/api/internal/platform/observability"
	"github.com/solarshop/api/internal/repositories"
	"github.com/solarshop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// Infrastructure carries the collaborators built outside the repository registry.
// Mailer, Events and Metrics are optional.
type Infrastructure struct {
	Gateway *payments.PayHere
	Mailer  services.OrderMailer
	Events  services.OrderEventPublisher
	Metrics *observability.PaymentMetrics
	Build   services.BuildInfo
	Clock   func() time.Time
	Logger  observability.EventLogger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests and local runs can supply the in-memory one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Users:               reg.Users(),
		Products:            reg.Products(),
		Branches:            reg.Branches(),
		Orders:              reg.Orders(),
		Gateway:             infra.Gateway,
		Mailer:              infra.Mailer,
		Events:              infra.Events,
		Metrics:             infra.Metrics,
		FrontendURL:         cfg.URLs.Frontend,
		Currency:            cfg.PayHere.Currency,
		BranchSearchRadius:  cfg.Orders.BranchSearchRadiusMeters,
		StrandedGracePeriod: cfg.Orders.StrandedGracePeriod,
		StrandedSweepBatch:  cfg.Orders.StrandedSweepBatch,
		Clock:               clock,
		Logger:              infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Users:       reg.Users(),
		Products:    reg.Products(),
		Branches:    reg.Branches(),
		Orders:      reg.Orders(),
		Verifier:    infra.Gateway,
		Mailer:      infra.Mailer,
		Events:      infra.Events,
		Metrics:     infra.Metrics,
		FrontendURL: cfg.URLs.Frontend,
		Clock:       clock,
		Logger:      infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health: healthRepo,
			Build:  build,
			Clock:  clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
