package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"ChunkVault/config"
	"ChunkVault/internal/mq"
	"ChunkVault/internal/task"
)

type dlqMessage struct {
	TaskID   uint64    `json:"task_id"`
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// CleanupWorker consumes deferred blob-deletion tasks from RabbitMQ with
// bounded retries and a DLQ for what never succeeds.
type CleanupWorker struct {
	client    *mq.Client
	processor *task.CleanupProcessor
	cfg       *config.Provider
	logger    zerolog.Logger
}

// NewCleanupWorker wires a worker.
func NewCleanupWorker(client *mq.Client, processor *task.CleanupProcessor, cfg *config.Provider, logger zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{
		client:    client,
		processor: processor,
		cfg:       cfg,
		logger:    logger.With().Str("component", "cleanup_worker").Logger(),
	}
}

// Run consumes the cleanup queue until the context is cancelled.
func (w *CleanupWorker) Run(ctx context.Context) error {
	if err := w.client.DeclareTopology(); err != nil {
		return err
	}

	cfg := w.cfg.Snapshot()
	prefetch := cfg.RabbitMQPrefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := w.client.Channel.Qos(prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := w.client.Channel.Consume(
		mq.QueueCleanup,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	concurrency := cfg.CleanupWorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("cleanup worker: delivery channel closed")
			}
			sem <- struct{}{}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				w.handle(ctx, d)
			}(delivery)
		}
	}
}

func (w *CleanupWorker) handle(ctx context.Context, delivery amqp.Delivery) {
	var msg mq.CleanupMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Warn().Err(err).Msg("invalid cleanup message")
		_ = delivery.Ack(false)
		return
	}

	err := w.processor.Process(ctx, msg.TaskID)
	if err == nil {
		_ = delivery.Ack(false)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		_ = delivery.Nack(false, true)
		return
	}

	if rerr := w.scheduleRetry(ctx, msg, err); rerr != nil {
		w.logger.Warn().Err(rerr).Uint64("task_id", msg.TaskID).Msg("retry schedule failed")
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

func (w *CleanupWorker) scheduleRetry(ctx context.Context, msg mq.CleanupMessage, procErr error) error {
	cfg := w.cfg.Snapshot()
	maxRetry := cfg.CleanupRetryMax
	if maxRetry < 0 {
		maxRetry = 0
	}
	nextAttempt := msg.Attempt + 1
	if maxRetry == 0 || nextAttempt > maxRetry {
		return w.markDead(ctx, msg, procErr)
	}

	delay := pickRetryDelay(nextAttempt, cfg.CleanupRetryDelays)
	msg.Attempt = nextAttempt
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.client.PublishRetry(ctx, body, delay)
}

func (w *CleanupWorker) markDead(ctx context.Context, msg mq.CleanupMessage, procErr error) error {
	if err := w.processor.MarkDead(ctx, msg.TaskID, procErr); err != nil {
		return err
	}
	dlq := dlqMessage{
		TaskID:   msg.TaskID,
		Attempt:  msg.Attempt,
		Error:    procErr.Error(),
		FailedAt: time.Now(),
	}
	body, err := json.Marshal(dlq)
	if err != nil {
		return err
	}
	if err := w.client.PublishDLQ(ctx, body); err != nil {
		w.logger.Warn().Err(err).Uint64("task_id", msg.TaskID).Msg("dlq publish failed")
	}
	return nil
}

func pickRetryDelay(attempt int, delays []time.Duration) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[index]
}
