package model

import "time"

// Chunk statuses.
const (
	ChunkPending = iota
	ChunkCompleted
)

type FileChunk struct {
	ID uint64 `gorm:"primaryKey"`

	UploadID string `gorm:"column:upload_id;size:36;not null;uniqueIndex:idx_upload_chunk"`

	// ChunkIndex is 1-based and bounded by the session's total_chunks.
	ChunkIndex int    `gorm:"column:chunk_index;not null;uniqueIndex:idx_upload_chunk"`
	ChunkSize  int64  `gorm:"column:chunk_size;not null"`
	ChunkPath  string `gorm:"column:chunk_path;size:512;not null"`
	BucketName string `gorm:"column:bucket_name;size:64;not null"`

	// ChunkHash is only recorded under the per-chunk dedup strategy.
	ChunkHash string `gorm:"column:chunk_hash;size:64"`

	Status     int `gorm:"column:status;not null;default:0"`
	RetryCount int `gorm:"column:retry_count;not null;default:0"`

	UploadedAt *time.Time `gorm:"column:uploaded_at"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the database table name.
func (FileChunk) TableName() string {
	return "file_chunk"
}
