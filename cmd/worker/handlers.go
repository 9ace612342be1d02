package main

import (
	"github.com/hibiken/asynq"

	"payment-service/internal/domains/payment/job"
	"payment-service/pkg/container"
)

// HandlerRegistry holds all job handlers
type HandlerRegistry struct {
	sweepExpired *job.SweepExpiredHandler
}

// initializeHandlers creates all job handlers with their dependencies
func initializeHandlers(c *container.Container) *HandlerRegistry {
	return &HandlerRegistry{
		sweepExpired: job.NewSweepExpiredHandler(c.PaymentService),
	}
}

// RegisterHandlers registers all handlers with the mux
func (h *HandlerRegistry) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(job.TypeSweepExpiredPayments, h.sweepExpired.ProcessTask)
}
