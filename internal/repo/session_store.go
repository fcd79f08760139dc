package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"ChunkVault/internal/upload"
	"ChunkVault/model"
)

// SessionStore is the gorm-backed upload.SessionStore.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore builds a session store.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a live session; a unique-constraint hit on
// (user_id, file_key, active) maps to upload.ErrConflict so the caller can
// fetch the winner.
func (s *SessionStore) Create(ctx context.Context, session *model.UploadSession) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if isDuplicateKeyError(err) {
			return upload.ErrConflict
		}
		return err
	}
	return nil
}

// FindLive returns the one non-terminal session for (user, file key).
func (s *SessionStore) FindLive(ctx context.Context, userID uint64, fileKey string) (*model.UploadSession, error) {
	var session model.UploadSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_key = ? AND active IS NOT NULL", userID, fileKey).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upload.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// FindByUploadID loads a session by its public id.
func (s *SessionStore) FindByUploadID(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	var session model.UploadSession
	err := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upload.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// UpdateProgress writes the recomputed chunk count. Terminal sessions are
// never touched: the status guard keeps a late chunk from reviving them.
func (s *SessionStore) UpdateProgress(ctx context.Context, uploadID string, uploadedChunks, status int) error {
	return s.db.WithContext(ctx).
		Model(&model.UploadSession{}).
		Where("upload_id = ? AND status IN ?", uploadID, []int{model.SessionInit, model.SessionUploading}).
		Updates(map[string]interface{}{
			"uploaded_chunks": uploadedChunks,
			"status":          status,
		}).Error
}

// MarkTerminal moves a live session into a terminal status and frees its
// active slot so the file key can be uploaded again.
func (s *SessionStore) MarkTerminal(ctx context.Context, uploadID string, status int) error {
	return s.db.WithContext(ctx).
		Model(&model.UploadSession{}).
		Where("upload_id = ? AND status IN ?", uploadID, []int{model.SessionInit, model.SessionUploading}).
		Updates(map[string]interface{}{
			"status": status,
			"active": nil,
		}).Error
}

// Complete finalizes a merged session. Only a live session completes: a
// cancel or expiry that won the race keeps its terminal status and the
// zero-row update surfaces as ErrConflict.
func (s *SessionStore) Complete(ctx context.Context, uploadID string, fileObjectID uint64, fileHash string) error {
	res := s.db.WithContext(ctx).
		Model(&model.UploadSession{}).
		Where("upload_id = ? AND status IN ?", uploadID, []int{model.SessionInit, model.SessionUploading}).
		Updates(map[string]interface{}{
			"status":         model.SessionCompleted,
			"active":         nil,
			"file_object_id": fileObjectID,
			"file_hash":      fileHash,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return upload.ErrConflict
	}
	return nil
}

// ListExpired returns live sessions past their expiry.
func (s *SessionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.UploadSession, error) {
	var sessions []*model.UploadSession
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []int{model.SessionInit, model.SessionUploading}, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
