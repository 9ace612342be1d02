package container

import (
	"context"
	"fmt"
	"log"
	"time"

	"payment-service/internal/clients/course"
	"payment-service/internal/clients/order"
	"payment-service/internal/config"
	"payment-service/internal/domains/payment/handler"
	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/provider"
	"payment-service/internal/domains/payment/provider/paypal"
	"payment-service/internal/domains/payment/provider/razorpay"
	"payment-service/internal/domains/payment/provider/stripe"
	"payment-service/internal/domains/payment/repository"
	"payment-service/internal/domains/payment/service"
	"payment-service/internal/infrastructure/bus"
	"payment-service/internal/infrastructure/cache"
	"payment-service/internal/infrastructure/database"
	"payment-service/internal/infrastructure/exchange"
	"payment-service/pkg/idempotency"
)

// ========================================
// CONTAINER
// ========================================

// Container is the root of the dependency graph, built once per process.
type Container struct {
	// Infrastructure, shared across domains
	Config *config.Config
	DB     *database.PostgresDB
	Redis  *cache.RedisClient
	Bus    *bus.Connection

	// Data access
	PaymentRepo repository.PaymentRepository
	RefundRepo  repository.RefundRepository
	CacheRepo   repository.PaymentCacheRepository

	// Outbound
	Publisher    bus.Publisher
	Registry     *provider.Registry
	OrderClient  order.Client
	CourseClient course.Client
	Rates        exchange.RateProvider

	// Business logic
	PaymentService    service.PaymentService
	IdempotencyEngine *idempotency.Engine

	// HTTP
	PaymentHandler *handler.PaymentHandler
	WebhookHandler *handler.WebhookHandler
}

// NewContainer initializes the dependency graph bottom-up: config, then
// infrastructure, then repositories, services and handlers.
func NewContainer() (*Container, error) {
	c := &Container{}

	// Step 1: Configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.Config = cfg

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Step 2: PostgreSQL
	db := database.NewPostgresDB(cfg.DBConfig())
	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db

	// Step 3: Redis
	redisClient := cache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if err := redisClient.EnableKeyspaceNotifications(ctx); err != nil {
		// Managed Redis often forbids CONFIG SET; the sweeper still expires
		// payments, only with a delay
		log.Printf("[REDIS] Could not enable keyspace notifications: %v", err)
	}
	c.Redis = redisClient

	// Step 4: RabbitMQ
	busConn := bus.NewConnection(cfg.RabbitMQ.URL)
	if err := busConn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	c.Bus = busConn
	c.Publisher = bus.NewPublisher(busConn)

	// Step 5: Provider adapters
	paypalAdapter, err := paypal.New(&paypal.Config{
		ClientID:  cfg.PayPal.ClientID,
		Secret:    cfg.PayPal.Secret,
		APIBase:   cfg.PayPal.APIBase,
		WebhookID: cfg.PayPal.WebhookID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize paypal adapter: %w", err)
	}
	c.Registry = provider.NewRegistry(
		stripe.New(&stripe.Config{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}),
		paypalAdapter,
		razorpay.New(&razorpay.Config{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
		}),
	)

	// Step 6: Repositories and outbound clients
	c.PaymentRepo = repository.NewPaymentRepository(db.Pool)
	c.RefundRepo = repository.NewRefundRepository(db.Pool)
	c.CacheRepo = repository.NewPaymentCacheRepository(redisClient.Client)
	c.OrderClient = order.NewClient(cfg.Services.OrderBaseURL)
	c.CourseClient = course.NewClient(cfg.Services.CourseBaseURL)
	c.Rates = exchange.NewFrankfurterClient(cfg.Exchange.BaseURL)

	// Step 7: Services
	c.PaymentService = service.NewPaymentService(
		c.PaymentRepo,
		c.RefundRepo,
		c.CacheRepo,
		c.Registry,
		c.OrderClient,
		c.CourseClient,
		c.Rates,
		c.Publisher,
	)
	c.IdempotencyEngine = idempotency.NewEngine(
		idempotency.NewRedisStore(redisClient.Client),
		idempotency.Options{
			LockPrefix:   model.CacheKeyLockPrefix,
			ResultPrefix: model.CacheKeyResultPrefix,
			LockTTL:      model.IdempotencyLockTTL,
			ResultTTL:    model.IdempotencyResultTTL,
		},
	)

	// Step 8: Handlers
	c.PaymentHandler = handler.NewPaymentHandler(c.PaymentService, c.IdempotencyEngine)
	c.WebhookHandler = handler.NewWebhookHandler(c.Registry, c.Publisher)

	return c, nil
}

// Cleanup releases infrastructure resources in reverse order.
func (c *Container) Cleanup() {
	if c.Bus != nil {
		if err := c.Bus.Close(); err != nil {
			log.Printf("[CLEANUP] RabbitMQ close failed: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Printf("[CLEANUP] Redis close failed: %v", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
