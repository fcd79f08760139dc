package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"ChunkVault/internal/upload"
	"ChunkVault/model"
	"ChunkVault/utils"
)

const fileObjectCacheTTL = 5 * time.Minute

// FileStore is the gorm-backed upload.FileStore with redis cache-aside on
// lookups. The cache is optional; a nil cache degrades to plain queries.
type FileStore struct {
	db    *gorm.DB
	cache utils.Cache
}

// NewFileStore builds a file-object store.
func NewFileStore(db *gorm.DB, cache utils.Cache) *FileStore {
	return &FileStore{db: db, cache: cache}
}

func fileObjectKey(id uint64) string {
	return utils.BuildCacheKey("file_object", id)
}

func fileObjectHashKey(hash string) string {
	return utils.BuildCacheKey("file_object", "hash", hash)
}

func (s *FileStore) cacheObject(ctx context.Context, obj *model.FileObject) {
	if s.cache == nil || obj == nil {
		return
	}
	_ = s.cache.Set(ctx, fileObjectKey(obj.ID), obj, fileObjectCacheTTL)
	if obj.Hash != "" {
		_ = s.cache.Set(ctx, fileObjectHashKey(obj.Hash), obj.ID, fileObjectCacheTTL)
	}
}

func (s *FileStore) invalidate(ctx context.Context, obj *model.FileObject) {
	if s.cache == nil || obj == nil {
		return
	}
	_ = s.cache.Delete(ctx, fileObjectKey(obj.ID))
	if obj.Hash != "" {
		_ = s.cache.Delete(ctx, fileObjectHashKey(obj.Hash))
	}
}

// Create inserts a file object; a duplicate hash maps to upload.ErrConflict
// so the merge can converge on the winner.
func (s *FileStore) Create(ctx context.Context, obj *model.FileObject) error {
	if err := s.db.WithContext(ctx).Create(obj).Error; err != nil {
		if isDuplicateKeyError(err) {
			return upload.ErrConflict
		}
		return err
	}
	s.cacheObject(ctx, obj)
	return nil
}

// FindByHash is the dedup lookup.
func (s *FileStore) FindByHash(ctx context.Context, hash string) (*model.FileObject, error) {
	if s.cache != nil {
		var id uint64
		if err := s.cache.Get(ctx, fileObjectHashKey(hash), &id); err == nil {
			if obj, err := s.FindByID(ctx, id); err == nil {
				return obj, nil
			}
			// Cached id pointing at a gone row is stale data.
			_ = s.cache.Delete(ctx, fileObjectHashKey(hash))
		}
	}

	var obj model.FileObject
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&obj).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upload.ErrNotFound
		}
		return nil, err
	}
	s.cacheObject(ctx, &obj)
	return &obj, nil
}

// FindByID loads a file object by primary key.
func (s *FileStore) FindByID(ctx context.Context, id uint64) (*model.FileObject, error) {
	if s.cache != nil {
		var cached model.FileObject
		if err := s.cache.Get(ctx, fileObjectKey(id), &cached); err == nil && cached.ID != 0 {
			return &cached, nil
		}
	}

	var obj model.FileObject
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&obj).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upload.ErrNotFound
		}
		return nil, err
	}
	s.cacheObject(ctx, &obj)
	return &obj, nil
}

// IncRef bumps the reference count with a single atomic statement; a
// read-modify-write here would lose updates under concurrent merges.
func (s *FileStore) IncRef(ctx context.Context, id uint64) error {
	err := s.db.WithContext(ctx).
		Model(&model.FileObject{}).
		Where("id = ?", id).
		UpdateColumn("ref_count", gorm.Expr("ref_count + 1")).Error
	if err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, fileObjectKey(id))
	}
	return nil
}

// DecRef decrements the reference count, clamped at zero, and returns the
// remaining count.
func (s *FileStore) DecRef(ctx context.Context, id uint64) (int, error) {
	err := s.db.WithContext(ctx).
		Model(&model.FileObject{}).
		Where("id = ? AND ref_count > 0", id).
		UpdateColumn("ref_count", gorm.Expr("ref_count - 1")).Error
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, fileObjectKey(id))
	}

	var obj model.FileObject
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&obj).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, upload.ErrNotFound
		}
		return 0, err
	}
	return obj.RefCount, nil
}

// Delete removes the row. Callers delete the blob first and only at
// refcount zero.
func (s *FileStore) Delete(ctx context.Context, id uint64) error {
	obj, err := s.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&model.FileObject{}, id).Error; err != nil {
		return err
	}
	s.invalidate(ctx, obj)
	return nil
}
