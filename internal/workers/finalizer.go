package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/services"
)

type MessageQueue interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]models.QueueMessage, error)
	Delete(ctx context.Context, id string) error
}

type RetryCounter interface {
	Increment(ctx context.Context, id string) (int, error)
	Clear(ctx context.Context, id string) error
}

// Processor charges and completes one reservation.
type Processor interface {
	ProcessReservation(ctx context.Context, id string) error
	SaveManualReview(ctx context.Context, reservationID, detail string)
}

type FinalizerConfig struct {
	Wait       time.Duration
	BatchSize  int
	MaxRetries int
}

// Finalizer drains the finalize queue. A message stays on the queue until its
// reservation is processed, so a crash mid-way redelivers it after the
// visibility timeout.
type Finalizer struct {
	queue     MessageQueue
	retries   RetryCounter
	processor Processor
	cfg       FinalizerConfig
	log       *logger.Logger
}

func NewFinalizer(queue MessageQueue, retries RetryCounter, processor Processor, cfg FinalizerConfig, log *logger.Logger) *Finalizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Finalizer{
		queue:     queue,
		retries:   retries,
		processor: processor,
		cfg:       cfg,
		log:       log,
	}
}

func (f *Finalizer) Run(ctx context.Context) error {
	msgs, err := f.queue.Receive(ctx, f.cfg.BatchSize, f.cfg.Wait)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return nil
		}
		f.handle(ctx, msg)
	}
	return nil
}

func (f *Finalizer) handle(ctx context.Context, msg models.QueueMessage) {
	var body models.FinalizeMessage
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.ReservationID == "" {
		f.log.Warn("FINALIZER", fmt.Sprintf("Dropping malformed message %s: %q", msg.ID, msg.Body))
		f.delete(ctx, msg.ID)
		return
	}
	id := body.ReservationID

	err := f.processor.ProcessReservation(ctx, id)
	if err == nil || errors.Is(err, services.ErrReservationNotFound) {
		if err != nil {
			f.log.Warn("FINALIZER", fmt.Sprintf("Reservation %s no longer exists, dropping message", id))
		}
		f.delete(ctx, msg.ID)
		f.clear(ctx, id)
		return
	}

	attempts, incErr := f.retries.Increment(ctx, id)
	if incErr != nil {
		// Fall back to the queue's own delivery count.
		f.log.Warn("FINALIZER", fmt.Sprintf("Failed to count retry of reservation %s: %v", id, incErr))
		attempts = msg.ReceiveCount
	}
	if attempts < f.cfg.MaxRetries {
		f.log.LogWorker("finalizer", fmt.Sprintf("Reservation %s failed (attempt %d/%d): %v", id, attempts, f.cfg.MaxRetries, err))
		return
	}

	f.log.Error("FINALIZER", fmt.Sprintf("Reservation %s needs manual review after %d attempts: %v", id, attempts, err))
	f.processor.SaveManualReview(ctx, id, fmt.Sprintf("finalization failed %d times: %v", attempts, err))
	f.delete(ctx, msg.ID)
	f.clear(ctx, id)
}

func (f *Finalizer) delete(ctx context.Context, msgID string) {
	if err := f.queue.Delete(ctx, msgID); err != nil {
		f.log.Warn("FINALIZER", fmt.Sprintf("Failed to delete message %s: %v", msgID, err))
	}
}

func (f *Finalizer) clear(ctx context.Context, id string) {
	if err := f.retries.Clear(ctx, id); err != nil {
		f.log.Warn("FINALIZER", fmt.Sprintf("Failed to clear retry count of reservation %s: %v", id, err))
	}
}
