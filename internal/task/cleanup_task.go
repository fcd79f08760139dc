package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ChunkVault/internal/storage"
	"ChunkVault/model"
)

// TaskStore is the slice of the cleanup task store the processor needs.
type TaskStore interface {
	Find(ctx context.Context, id uint64) (*model.CleanupTask, error)
	Update(ctx context.Context, task *model.CleanupTask) error
}

// CleanupProcessor executes one deferred blob deletion task.
type CleanupProcessor struct {
	tasks  TaskStore
	blobs  storage.Store
	logger zerolog.Logger
}

// NewCleanupProcessor wires a processor.
func NewCleanupProcessor(tasks TaskStore, blobs storage.Store, logger zerolog.Logger) *CleanupProcessor {
	return &CleanupProcessor{
		tasks:  tasks,
		blobs:  blobs,
		logger: logger.With().Str("component", "cleanup_task").Logger(),
	}
}

// Process deletes the task's objects. Objects already gone count as
// success; re-running a done task is a no-op.
func (p *CleanupProcessor) Process(ctx context.Context, taskID uint64) error {
	task, err := p.tasks.Find(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load cleanup task: %w", err)
	}
	if task.Status == model.CleanupDone {
		return nil
	}

	task.Status = model.CleanupRunning
	task.Attempts++
	if err := p.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update cleanup task: %w", err)
	}

	objects := splitObjectNames(task.ObjectNames)
	if err := p.blobs.RemoveObjects(ctx, task.BucketName, objects); err != nil {
		task.Status = model.CleanupPending
		task.LastErr = err.Error()
		if uerr := p.tasks.Update(ctx, task); uerr != nil {
			p.logger.Warn().Err(uerr).Uint64("task_id", task.ID).Msg("record cleanup error")
		}
		return fmt.Errorf("remove objects: %w", err)
	}

	task.Status = model.CleanupDone
	task.LastErr = ""
	if err := p.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("finish cleanup task: %w", err)
	}
	p.logger.Info().Uint64("task_id", task.ID).Int("objects", len(objects)).Msg("cleanup task done")
	return nil
}

// MarkDead parks a task that exhausted its retries.
func (p *CleanupProcessor) MarkDead(ctx context.Context, taskID uint64, cause error) error {
	t, err := p.tasks.Find(ctx, taskID)
	if err != nil {
		return err
	}
	t.Status = model.CleanupDead
	if cause != nil {
		t.LastErr = cause.Error()
	}
	return p.tasks.Update(ctx, t)
}

func splitObjectNames(raw string) []string {
	parts := strings.Split(raw, "\n")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
