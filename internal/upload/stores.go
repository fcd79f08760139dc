package upload

import (
	"context"
	"time"

	"ChunkVault/model"
)

// SessionStore is the transactional session metadata contract.
type SessionStore interface {
	// Create inserts a new live session. Returns ErrConflict when another
	// live session for the same (user, file key) already committed.
	Create(ctx context.Context, session *model.UploadSession) error

	// FindLive returns the non-terminal session for (user, file key), or
	// ErrNotFound.
	FindLive(ctx context.Context, userID uint64, fileKey string) (*model.UploadSession, error)

	FindByUploadID(ctx context.Context, uploadID string) (*model.UploadSession, error)

	// UpdateProgress writes the recomputed uploaded-chunk count and status.
	UpdateProgress(ctx context.Context, uploadID string, uploadedChunks, status int) error

	// MarkTerminal moves the session into a terminal status and clears its
	// active flag so a new session for the same file key may be created.
	MarkTerminal(ctx context.Context, uploadID string, status int) error

	// Complete marks a live session COMPLETED and records the merge result.
	// Returns ErrConflict when the session already reached a terminal status.
	Complete(ctx context.Context, uploadID string, fileObjectID uint64, fileHash string) error

	// ListExpired returns live sessions whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.UploadSession, error)
}

// ChunkStore is the chunk metadata contract.
type ChunkStore interface {
	// Upsert writes a chunk record idempotently on (upload_id, chunk_index).
	Upsert(ctx context.Context, chunk *model.FileChunk) error

	// RecordRetry persists the retry count of a failed chunk write. A row a
	// concurrent duplicate already moved to COMPLETED is left untouched:
	// the status transition never goes backwards.
	RecordRetry(ctx context.Context, chunk *model.FileChunk) error

	// Find returns ErrNotFound when the chunk was never recorded.
	Find(ctx context.Context, uploadID string, chunkIndex int) (*model.FileChunk, error)

	// ListCompleted returns COMPLETED chunks ordered by chunk index.
	ListCompleted(ctx context.Context, uploadID string) ([]*model.FileChunk, error)

	// CountCompleted is the authoritative progress count; the session
	// counter is recomputed from it, never incremented blindly.
	CountCompleted(ctx context.Context, uploadID string) (int, error)

	DeleteBySession(ctx context.Context, uploadID string) error
}

// FileStore is the content-addressable file metadata contract.
type FileStore interface {
	// Create inserts a new file object. Returns ErrConflict when a row
	// with the same hash raced in first.
	Create(ctx context.Context, obj *model.FileObject) error

	FindByHash(ctx context.Context, hash string) (*model.FileObject, error)

	FindByID(ctx context.Context, id uint64) (*model.FileObject, error)

	// IncRef atomically increments the reference count in the store.
	IncRef(ctx context.Context, id uint64) error

	// DecRef atomically decrements the reference count, clamped at zero,
	// and returns the remaining count.
	DecRef(ctx context.Context, id uint64) (int, error)

	Delete(ctx context.Context, id uint64) error
}

// RecordStore creates the uploader's user-visible file record, and undoes
// it when session finalization loses a race against cancellation.
type RecordStore interface {
	Create(ctx context.Context, record *model.FileRecord) error
	Delete(ctx context.Context, id uint64) error
}

// QuotaOracle reports how much storage an owner already consumes.
type QuotaOracle interface {
	UsedStorage(ctx context.Context, userID uint64) (int64, error)
}

// EventPublisher pushes completion events and deferred cleanup work out of
// the request path. Both calls are best effort for callers.
type EventPublisher interface {
	PublishUploadCompleted(ctx context.Context, evt UploadCompletedEvent) error
	EnqueueCleanup(ctx context.Context, bucket string, objects []string, source string) error
}

// UploadCompletedEvent is emitted after a successful merge.
type UploadCompletedEvent struct {
	UploadID     string    `json:"upload_id"`
	UserID       uint64    `json:"user_id"`
	FileName     string    `json:"file_name"`
	FileHash     string    `json:"file_hash"`
	FileSize     int64     `json:"file_size"`
	FileObjectID uint64    `json:"file_object_id"`
	Deduplicated bool      `json:"deduplicated"`
	CompletedAt  time.Time `json:"completed_at"`
}
