package mq

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"ChunkVault/internal/upload"
	"ChunkVault/model"
)

// TaskStore persists cleanup tasks before their queue message goes out, so
// orphaned blobs survive a lost message.
type TaskStore interface {
	Create(ctx context.Context, task *model.CleanupTask) error
}

// CleanupMessage is the queue payload; the task row carries the object list.
type CleanupMessage struct {
	TaskID  uint64 `json:"task_id"`
	Attempt int    `json:"attempt"`
}

// Publisher implements upload.EventPublisher on a RabbitMQ client.
type Publisher struct {
	client *Client
	tasks  TaskStore
	logger zerolog.Logger
}

// NewPublisher wires an event publisher.
func NewPublisher(client *Client, tasks TaskStore, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		tasks:  tasks,
		logger: logger.With().Str("component", "mq_publisher").Logger(),
	}
}

// PublishUploadCompleted emits the completion event for downstream
// consumers (indexing, notifications).
func (p *Publisher) PublishUploadCompleted(ctx context.Context, evt upload.UploadCompletedEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.PublishEvent(ctx, RoutingCompleted, body)
}

// EnqueueCleanup records a deferred blob deletion and queues it for the
// cleanup worker.
func (p *Publisher) EnqueueCleanup(ctx context.Context, bucket string, objects []string, source string) error {
	task := &model.CleanupTask{
		BucketName:  bucket,
		ObjectNames: strings.Join(objects, "\n"),
		Source:      source,
		Status:      model.CleanupPending,
	}
	if err := p.tasks.Create(ctx, task); err != nil {
		return err
	}

	body, err := json.Marshal(CleanupMessage{TaskID: task.ID})
	if err != nil {
		return err
	}
	if err := p.client.PublishCleanup(ctx, body); err != nil {
		// The row survives; the startup requeue pass picks it up.
		p.logger.Warn().Err(err).Uint64("task_id", task.ID).Msg("cleanup publish failed")
		return err
	}
	return nil
}
