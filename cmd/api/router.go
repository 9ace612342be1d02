package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"payment-service/internal/shared/middleware"
	"payment-service/pkg/container"
)

func SetupRouter(c *container.Container) *gin.Engine {
	router := gin.New()

	// Global middlewares
	router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
	)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheckHandler(c))

		setupPaymentRoutes(v1, c)
	}

	// Webhooks live outside the versioned API; providers are configured
	// with these exact paths
	webhooks := router.Group("/api/webhooks")
	{
		webhooks.POST("/:provider", c.WebhookHandler.Handle)
	}

	return router
}

// ========================================
// PAYMENT ROUTES
// ========================================
func setupPaymentRoutes(v1 *gin.RouterGroup, c *container.Container) {
	payments := v1.Group("/payments")
	{
		payments.POST("", c.PaymentHandler.CreatePayment)
		payments.POST("/resolve", c.PaymentHandler.ResolvePayment)
		payments.POST("/cancel", c.PaymentHandler.CancelPayment)
		payments.GET("/:payment_id", c.PaymentHandler.GetPaymentStatus)
		payments.POST("/:payment_id/refund", c.PaymentHandler.RefundPayment)
	}
}

// ========================================
// HEALTH CHECK
// ========================================
func healthCheckHandler(c *container.Container) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true

		if err := c.DB.HealthCheck(checkCtx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}

		if err := c.Redis.HealthCheck(checkCtx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}

		if err := c.Bus.HealthCheck(checkCtx); err != nil {
			checks["rabbitmq"] = err.Error()
			healthy = false
		} else {
			checks["rabbitmq"] = "ok"
		}

		// Provider reachability is informational; a degraded provider must
		// not take the whole service out of rotation
		providers := gin.H{}
		for _, adapter := range c.Registry.All() {
			providers[string(adapter.Name())] = adapter.IsAvailable(checkCtx)
		}
		checks["providers"] = providers

		status := http.StatusOK
		overall := "up"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		ctx.JSON(status, gin.H{
			"status":  overall,
			"version": c.Config.App.Version,
			"checks":  checks,
		})
	}
}
