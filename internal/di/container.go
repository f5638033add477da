package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/config"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout services.CheckoutService
	Payments services.PaymentService
	Orders   services.OrderService
	Returns  services.ReturnService
	Shipping services.ShippingCalculator
	Counters services.CounterService
	System   services.SystemService
}

// Infrastructure carries the externally constructed dependencies the services
// need beyond the repository registry.
type Infrastructure struct {
	Gateway  gateway.Provider
	Events   services.OrderEventPublisher
	Signer   services.UploadURLSigner
	Archiver services.PhotoArchiver
	Build    services.BuildInfo
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub infrastructure.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Gateway == nil {
		return nil, errors.New("payment gateway provider is required")
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

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	shippingSvc, err := services.NewShippingCalculator(services.ShippingCalculatorDeps{
		Settings: reg.Settings(),
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping calculator: %w", err)
	}
	svc.Shipping = shippingSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     reg.Orders(),
		History:    reg.OrderHistory(),
		Products:   reg.Products(),
		Counters:   reg.Counters(),
		Shipping:   shippingSvc,
		UnitOfWork: reg,
		Clock:      time.Now,
		Events:     infra.Events,
		Logger:     infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:          reg.Orders(),
		History:         reg.OrderHistory(),
		Gateway:         infra.Gateway,
		CallbackBaseURL: cfg.Gateway.CallbackBaseURL,
		UnitOfWork:      reg,
		Clock:           time.Now,
		Events:          infra.Events,
		Logger:          infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		History:    reg.OrderHistory(),
		Returns:    reg.Returns(),
		Gateway:    infra.Gateway,
		UnitOfWork: reg,
		Clock:      time.Now,
		Events:     infra.Events,
		Logger:     infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:        reg.Orders(),
		Returns:       reg.Returns(),
		History:       reg.OrderHistory(),
		Gateway:       infra.Gateway,
		Signer:        infra.Signer,
		PhotoBucket:   cfg.Storage.ReturnPhotosBucket,
		Archiver:      infra.Archiver,
		ArchiveBucket: cfg.Storage.ExportsBucket,
		UnitOfWork:    reg,
		Clock:         time.Now,
		Events:        infra.Events,
		Logger:        infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Counters: reg.Counters(),
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = time.Now().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
