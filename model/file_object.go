package model

import "time"

// FileObject is the content-addressable storage record: one row per distinct
// content hash, shared by every file record with identical bytes. RefCount
// tracks how many records point here; at zero the blob and the row go away.
type FileObject struct {
	ID uint64 `gorm:"primaryKey"`

	Hash string `gorm:"column:hash;size:64;uniqueIndex;not null"`

	BucketName string `gorm:"column:bucket_name;size:64;not null"`
	ObjectName string `gorm:"column:object_name;size:512;not null"`

	ContentType string `gorm:"column:content_type;size:128"`
	Size        int64  `gorm:"column:size;not null"`

	RefCount int `gorm:"column:ref_count;not null;default:1"`

	CreatedAt time.Time
}

// TableName returns the database table name.
func (FileObject) TableName() string {
	return "file_object"
}
