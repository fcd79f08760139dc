package filerecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ChunkVault/internal/storage"
	"ChunkVault/internal/upload"
	"ChunkVault/model"
)

// ErrRecordNotFound covers missing records and wrong owners alike.
var ErrRecordNotFound = errors.New("file record not found")

// RecordStore is the record persistence contract.
type RecordStore interface {
	Create(ctx context.Context, record *model.FileRecord) error
	FindByID(ctx context.Context, id uint64) (*model.FileRecord, error)
	Delete(ctx context.Context, id uint64) error
	UsedStorage(ctx context.Context, userID uint64) (int64, error)
}

// BindResult is the outcome of a hash probe.
type BindResult struct {
	Instant      bool   `json:"instant"`
	NeedUpload   bool   `json:"need_upload"`
	Reason       string `json:"reason,omitempty"`
	FileRecordID uint64 `json:"file_record_id,omitempty"`
}

// Service manages user-visible file records over the content-addressed
// store: hash-probe instant uploads, reference release and downloads.
type Service struct {
	files   upload.FileStore
	records RecordStore
	blobs   storage.Store
	events  upload.EventPublisher
	logger  zerolog.Logger
}

// NewService wires a file record service.
func NewService(files upload.FileStore, records RecordStore, blobs storage.Store, events upload.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		files:   files,
		records: records,
		blobs:   blobs,
		events:  events,
		logger:  logger.With().Str("component", "filerecord").Logger(),
	}
}

// BindByHash handles hash-based instant upload: when the content already
// exists, the caller gets a record bound to it without uploading a byte.
func (s *Service) BindByHash(ctx context.Context, userID uint64, hash, fileName string, declaredSize int64) (*BindResult, error) {
	obj, err := s.files.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return &BindResult{NeedUpload: true, Reason: "hash_not_found"}, nil
		}
		return nil, err
	}
	if declaredSize > 0 && obj.Size > 0 && declaredSize != obj.Size {
		return &BindResult{NeedUpload: true, Reason: "size_mismatch"}, nil
	}

	// The row may outlive its blob; never hand out a dangling reference.
	available, err := s.blobs.ObjectExists(ctx, obj.BucketName, obj.ObjectName)
	if err != nil {
		return nil, fmt.Errorf("check object: %w", err)
	}
	if !available {
		return &BindResult{NeedUpload: true, Reason: "object_missing"}, nil
	}

	if err := s.files.IncRef(ctx, obj.ID); err != nil {
		return nil, fmt.Errorf("increment refcount: %w", err)
	}
	record := &model.FileRecord{
		UserID:   userID,
		Name:     fileName,
		ObjectID: obj.ID,
		Size:     obj.Size,
	}
	if err := s.records.Create(ctx, record); err != nil {
		if _, derr := s.files.DecRef(ctx, obj.ID); derr != nil {
			s.logger.Warn().Err(derr).Uint64("object_id", obj.ID).Msg("refcount rollback failed")
		}
		return nil, fmt.Errorf("create record: %w", err)
	}
	return &BindResult{Instant: true, FileRecordID: record.ID}, nil
}

// Release drops one reference. When the last reference goes, the blob and
// the file-object row are deleted together, after confirming no new
// reference appeared in between.
func (s *Service) Release(ctx context.Context, userID uint64, recordID uint64) error {
	record, err := s.get(ctx, userID, recordID)
	if err != nil {
		return err
	}
	if err := s.records.Delete(ctx, record.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	remain, err := s.files.DecRef(ctx, record.ObjectID)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("decrement refcount: %w", err)
	}
	if remain > 0 {
		return nil
	}

	// Recheck before physical deletion: a dedup hit may have re-referenced
	// the content while we were releasing.
	obj, err := s.files.FindByID(ctx, record.ObjectID)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return nil
		}
		return err
	}
	if obj.RefCount > 0 {
		return nil
	}

	if err := s.blobs.RemoveObject(ctx, obj.BucketName, obj.ObjectName); err != nil {
		s.logger.Warn().Err(err).Str("object", obj.ObjectName).Msg("blob removal failed, enqueueing")
		if s.events != nil {
			_ = s.events.EnqueueCleanup(ctx, obj.BucketName, []string{obj.ObjectName}, "release")
		}
	}
	if err := s.files.Delete(ctx, obj.ID); err != nil {
		return fmt.Errorf("delete file object: %w", err)
	}
	s.logger.Info().Str("hash", obj.Hash).Msg("unreferenced file object deleted")
	return nil
}

// DownloadURL returns a presigned URL for a record's content.
func (s *Service) DownloadURL(ctx context.Context, userID uint64, recordID uint64, expiry time.Duration) (string, error) {
	record, err := s.get(ctx, userID, recordID)
	if err != nil {
		return "", err
	}
	obj, err := s.files.FindByID(ctx, record.ObjectID)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignedGetObject(ctx, obj.BucketName, obj.ObjectName, expiry)
}

func (s *Service) get(ctx context.Context, userID uint64, recordID uint64) (*model.FileRecord, error) {
	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if record.UserID != userID {
		return nil, ErrRecordNotFound
	}
	return record, nil
}
