package model

import "time"

// Cleanup task statuses.
const (
	CleanupPending = iota
	CleanupRunning
	CleanupDone
	CleanupDead
)

// CleanupTask records a deferred blob deletion: temporary chunk or merge
// objects whose inline deletion failed. The worker drains these from the
// queue with bounded retries; Dead tasks need operator attention.
type CleanupTask struct {
	ID uint64 `gorm:"primaryKey"`

	BucketName string `gorm:"column:bucket_name;size:64;not null"`

	// ObjectNames is a newline-joined list of object keys to delete.
	ObjectNames string `gorm:"column:object_names;type:text;not null"`

	Source string `gorm:"column:source;size:32;not null"`

	Status   int    `gorm:"column:status;not null;default:0;index"`
	Attempts int    `gorm:"column:attempts;not null;default:0"`
	LastErr  string `gorm:"column:last_err;size:512"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the database table name.
func (CleanupTask) TableName() string {
	return "cleanup_task"
}
