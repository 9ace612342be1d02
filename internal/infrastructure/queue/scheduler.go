package queue

import (
	"time"

	"github.com/hibiken/asynq"

	"payment-service/internal/domains/payment/job"
	"payment-service/internal/domains/payment/model"
	"payment-service/pkg/logger"
)

// QueuePayments is the asynq queue payment maintenance tasks run on.
const QueuePayments = "payments"

type Scheduler struct {
	scheduler *asynq.Scheduler
}

func NewScheduler(redisAddress string) *Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddress},
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
		},
	)

	return &Scheduler{scheduler: scheduler}
}

// RegisterPaymentJobs registers all periodic payment maintenance jobs.
func (s *Scheduler) RegisterPaymentJobs() error {
	return s.registerSweepExpiredPaymentsJob()
}

// ================================================
// JOB: Sweep expired payments (every minute)
// ================================================
func (s *Scheduler) registerSweepExpiredPaymentsJob() error {
	task, err := job.NewSweepExpiredTask()
	if err != nil {
		return err
	}

	_, err = s.scheduler.Register(
		"@every 1m",
		task,
		asynq.Queue(QueuePayments),
		asynq.MaxRetry(1),
		asynq.Timeout(model.SweepInterval),
	)
	if err != nil {
		logger.Error("Failed to register SweepExpiredPayments job", err)
		return err
	}

	logger.Info("Registered SweepExpiredPayments: every minute", map[string]interface{}{})
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Run()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
