package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"payment-service/internal/domains/payment/job"
	"payment-service/internal/domains/payment/model"
	"payment-service/internal/infrastructure/bus"
	"payment-service/pkg/container"
	"payment-service/pkg/logger"
)

// providerEventsQueue is the durable queue this worker drains.
const providerEventsQueue = "payment-service.provider-events"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Initialize container
	c, err := container.NewContainer()
	if err != nil {
		log.Fatalf("[Container] Failed to initialize: %v", err)
	}
	defer c.Cleanup()

	logger.Init(c.Config.App.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Asynq: periodic maintenance tasks
	handlers := initializeHandlers(c)
	srv := setupAsynqServer(c, handlers)
	scheduler := setupScheduler(c)

	// Primary timeout path: react to expired payments:timeout:* keys
	listener := job.NewTimeoutListener(c.Redis.Client, c.PaymentService)
	listener.Start(ctx)

	// Webhook pipeline: drain verified provider events from the bus
	consumer := job.NewProviderEventConsumer(c.PaymentService, c.CacheRepo)
	busConsumer := bus.NewConsumer(c.Bus, providerEventsQueue, model.TopicProviderEvents, consumer.HandleEnvelope)
	busConsumer.Start(ctx)

	log.Println("[Worker] All consumers started")

	// Wait for shutdown signal
	waitForShutdown(cancel, srv, scheduler)
}

func waitForShutdown(cancel context.CancelFunc, srv *asynqServer, scheduler *asynqScheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("[Shutdown] Gracefully stopping...")
	cancel()
	scheduler.Shutdown()
	srv.Shutdown()
	log.Println("[Shutdown] Stopped")
}
