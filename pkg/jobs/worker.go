package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/config"
	"github.com/aurelia-health/scribe-engine/pkg/services"
)

// Processor runs the pipeline for one encounter. Satisfied by
// services.Pipeline; an interface so worker behavior is testable without a
// database.
type Processor interface {
	Process(ctx context.Context, encounterID uuid.UUID) (services.StepOutcome, error)
}

// ShouldRetry decides whether a job outcome warrants another delivery.
// Pure: the retry policy independent of any queue mechanics. maxRetries is
// the number of redeliveries after the first attempt.
func ShouldRetry(outcome services.StepOutcome, attempt, maxRetries int) bool {
	return outcome == services.OutcomeRetry && attempt < maxRetries
}

// WorkerPool consumes pipeline jobs from a RedisQueue and interprets the
// pipeline's outcome: completed and fatal jobs are dropped, retryable
// failures are rescheduled with a fixed delay until the budget runs out.
type WorkerPool struct {
	queue     *RedisQueue
	processor Processor
	cfg       *config.PipelineConfig
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool.
func NewWorkerPool(queue *RedisQueue, processor Processor, cfg *config.PipelineConfig, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		queue:     queue,
		processor: processor,
		cfg:       cfg,
		logger:    logger.Named("jobs"),
	}
}

// Start launches the worker goroutines plus the retry promoter. Workers run
// until ctx is cancelled; call Wait to block for drain on shutdown.
func (w *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}

	w.wg.Add(1)
	go w.runPromoter(ctx)

	w.logger.Info("worker pool started",
		zap.Int("workers", w.cfg.Workers),
		zap.Int("max_retries", w.cfg.MaxRetries),
		zap.Duration("retry_delay", w.cfg.RetryDelay))
}

// Wait blocks until all workers have exited.
func (w *WorkerPool) Wait() {
	w.wg.Wait()
}

func (w *WorkerPool) runWorker(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := w.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		default:
		}

		job, raw, err := w.queue.pop(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopping")
				return
			}
			logger.Error("failed to pop job", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if w.handle(ctx, logger, *job) {
			w.ack(logger, raw)
		}
	}
}

// ack uses a detached context: a shutdown signal arriving after a job
// settled must not strand the payload on the processing list, or the next
// startup redelivers work that already finished.
func (w *WorkerPool) ack(logger *zap.Logger, raw string) {
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.ack(ackCtx, raw); err != nil {
		// Redelivered on the next reclaim; the pipeline tolerates it.
		logger.Error("failed to ack job", zap.Error(err))
	}
}

// handle runs the pipeline for one job and reports whether the job is
// settled and safe to ack. The only unsettled case is a retry that could
// not be parked in the delayed set: leaving it unacked keeps the payload
// on the processing list for the next startup's reclaim.
func (w *WorkerPool) handle(ctx context.Context, logger *zap.Logger, job Job) bool {
	logger = logger.With(
		zap.String("encounter_id", job.EncounterID.String()),
		zap.Int("attempt", job.Attempt))
	logger.Info("processing job")

	outcome, err := w.processor.Process(ctx, job.EncounterID)

	switch outcome {
	case services.OutcomeCompleted:
		logger.Info("job completed")

	case services.OutcomeNotFound:
		logger.Warn("job dropped, encounter not found")

	case services.OutcomeFatal:
		logger.Error("job failed permanently", zap.Error(err))

	case services.OutcomeRetry:
		if !ShouldRetry(outcome, job.Attempt, w.cfg.MaxRetries) {
			logger.Error("retry budget exhausted, encounter remains failed", zap.Error(err))
			return true
		}
		next := Job{EncounterID: job.EncounterID, Attempt: job.Attempt + 1}
		if schedErr := w.queue.scheduleRetry(ctx, next, w.cfg.RetryDelay); schedErr != nil {
			logger.Error("failed to schedule retry, leaving job for reclaim", zap.Error(schedErr))
			return false
		}
		logger.Warn("job scheduled for retry",
			zap.Int("next_attempt", next.Attempt),
			zap.Duration("delay", w.cfg.RetryDelay),
			zap.Error(err))

	default:
		logger.Error("unknown job outcome", zap.String("outcome", string(outcome)), zap.Error(err))
	}
	return true
}

// runPromoter periodically moves due retries onto the ready list.
func (w *WorkerPool) runPromoter(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			promoted, err := w.queue.promoteDue(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("failed to promote delayed jobs", zap.Error(err))
				continue
			}
			if promoted > 0 {
				w.logger.Debug("promoted delayed jobs", zap.Int("count", promoted))
			}
		}
	}
}
