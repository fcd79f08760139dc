package model

import "time"

// Upload session statuses. INIT and UPLOADING are the only mutable states.
const (
	SessionInit = iota
	SessionUploading
	SessionCompleted
	SessionFailed
	SessionCancelled
	SessionExpired
)

type UploadSession struct {
	ID uint64 `gorm:"primaryKey"`

	UploadID string `gorm:"column:upload_id;size:36;uniqueIndex;not null"`

	UserID uint64 `gorm:"column:user_id;not null;uniqueIndex:idx_user_file_active"`

	// FileKey is the client-supplied file identifier used for idempotent
	// resume: retried requests for the same logical upload land on the
	// same live session.
	FileKey string `gorm:"column:file_key;size:128;not null;uniqueIndex:idx_user_file_active"`

	FileName    string `gorm:"column:file_name;size:255;not null"`
	FileSize    int64  `gorm:"column:file_size;not null"`
	ContentType string `gorm:"column:content_type;size:128"`

	ChunkSize      int64 `gorm:"column:chunk_size;not null"`
	TotalChunks    int   `gorm:"column:total_chunks;not null"`
	UploadedChunks int   `gorm:"column:uploaded_chunks;not null;default:0"`

	BucketName string `gorm:"column:bucket_name;size:64;not null"`

	// FileObjectID and FileHash are filled by the merge step on completion.
	FileObjectID *uint64 `gorm:"column:file_object_id"`
	FileHash     string  `gorm:"column:file_hash;size:64"`

	Status int `gorm:"column:status;not null;default:0"`

	// Active is set while the session is live and NULLed on any terminal
	// transition, so the unique index (user_id, file_key, active) allows at
	// most one live session per (owner, file key) while finished sessions
	// pile up freely. NULLs never collide in a MySQL unique index.
	Active *bool `gorm:"column:active;uniqueIndex:idx_user_file_active"`

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

// TableName returns the database table name.
func (UploadSession) TableName() string {
	return "upload_session"
}

// IsTerminal reports whether the session can no longer accept chunks.
func (s *UploadSession) IsTerminal() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionExpired:
		return true
	}
	return false
}

// IsExpired reports whether the session is past its absolute expiry.
func (s *UploadSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
