package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ChunkVault/internal/upload"
	"ChunkVault/model"
)

// RecordStore is the gorm-backed store for user-visible file records. It
// also answers quota queries, since used storage is the sum of a user's
// record sizes.
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore builds a record store.
func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Create inserts a file record.
func (s *RecordStore) Create(ctx context.Context, record *model.FileRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// FindByID loads a record, enforcing nothing; ownership checks live in the
// service layer.
func (s *RecordStore) FindByID(ctx context.Context, id uint64) (*model.FileRecord, error) {
	var record model.FileRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upload.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Delete removes a record row.
func (s *RecordStore) Delete(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Delete(&model.FileRecord{}, id).Error
}

// UsedStorage sums the active record sizes for an owner.
func (s *RecordStore) UsedStorage(ctx context.Context, userID uint64) (int64, error) {
	var used *int64
	err := s.db.WithContext(ctx).
		Model(&model.FileRecord{}).
		Where("user_id = ?", userID).
		Select("SUM(size)").
		Scan(&used).Error
	if err != nil {
		return 0, err
	}
	if used == nil {
		return 0, nil
	}
	return *used, nil
}
