package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ChunkVault/internal/upload"
	"ChunkVault/model"
)

// CleanupStore persists deferred blob deletions so a lost queue message
// never loses track of orphaned objects.
type CleanupStore struct {
	db *gorm.DB
}

// NewCleanupStore builds a cleanup task store.
func NewCleanupStore(db *gorm.DB) *CleanupStore {
	return &CleanupStore{db: db}
}

// Create inserts a pending cleanup task.
func (s *CleanupStore) Create(ctx context.Context, task *model.CleanupTask) error {
	return s.db.WithContext(ctx).Create(task).Error
}

// Find loads a task by id.
func (s *CleanupStore) Find(ctx context.Context, id uint64) (*model.CleanupTask, error) {
	var task model.CleanupTask
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upload.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Update writes task progress.
func (s *CleanupStore) Update(ctx context.Context, task *model.CleanupTask) error {
	return s.db.WithContext(ctx).Save(task).Error
}

// ListPending returns tasks never delivered or stuck, for startup requeue.
func (s *CleanupStore) ListPending(ctx context.Context, limit int) ([]*model.CleanupTask, error) {
	var tasks []*model.CleanupTask
	err := s.db.WithContext(ctx).
		Where("status IN ?", []int{model.CleanupPending, model.CleanupRunning}).
		Order("id asc").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
