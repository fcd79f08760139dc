package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ChunkVault/internal/upload"
	"ChunkVault/model"
)

// ChunkStore is the gorm-backed upload.ChunkStore.
type ChunkStore struct {
	db *gorm.DB
}

// NewChunkStore builds a chunk store.
func NewChunkStore(db *gorm.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// Upsert writes a chunk record keyed on (upload_id, chunk_index). Concurrent
// submissions of the same chunk number collapse onto one row instead of
// corrupting the table.
func (s *ChunkStore) Upsert(ctx context.Context, chunk *model.FileChunk) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "upload_id"},
				{Name: "chunk_index"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"chunk_size",
				"chunk_path",
				"chunk_hash",
				"status",
				"retry_count",
				"uploaded_at",
				"updated_at",
			}),
		}).
		Create(chunk).Error
}

// RecordRetry inserts a PENDING row for a failed chunk write, or bumps the
// retry count of an existing one. A row a concurrent duplicate already moved
// to COMPLETED keeps its status and retry count.
func (s *ChunkStore) RecordRetry(ctx context.Context, chunk *model.FileChunk) error {
	chunk.Status = model.ChunkPending
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "upload_id"},
				{Name: "chunk_index"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"retry_count": gorm.Expr("IF(status = ?, retry_count, ?)", model.ChunkCompleted, chunk.RetryCount),
				"updated_at":  gorm.Expr("IF(status = ?, updated_at, NOW())", model.ChunkCompleted),
			}),
		}).
		Create(chunk).Error
}

// Find loads one chunk record.
func (s *ChunkStore) Find(ctx context.Context, uploadID string, chunkIndex int) (*model.FileChunk, error) {
	var chunk model.FileChunk
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND chunk_index = ?", uploadID, chunkIndex).
		First(&chunk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upload.ErrNotFound
		}
		return nil, err
	}
	return &chunk, nil
}

// ListCompleted returns COMPLETED chunks ordered by chunk index; this order
// is what the merge composes.
func (s *ChunkStore) ListCompleted(ctx context.Context, uploadID string) ([]*model.FileChunk, error) {
	var chunks []*model.FileChunk
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND status = ?", uploadID, model.ChunkCompleted).
		Order("chunk_index asc").
		Find(&chunks).Error
	return chunks, err
}

// CountCompleted is the authoritative progress count.
func (s *ChunkStore) CountCompleted(ctx context.Context, uploadID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.FileChunk{}).
		Where("upload_id = ? AND status = ?", uploadID, model.ChunkCompleted).
		Count(&count).Error
	return int(count), err
}

// DeleteBySession removes every chunk record of a session.
func (s *ChunkStore) DeleteBySession(ctx context.Context, uploadID string) error {
	return s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Delete(&model.FileChunk{}).Error
}
