package model

import "time"

// FileRecord is a user-visible file bound to exactly one FileObject. Many
// records may share one object; this is where deduplicated uploads fan in.
type FileRecord struct {
	ID uint64 `gorm:"primaryKey"`

	UserID uint64 `gorm:"column:user_id;not null;index"`

	Name string `gorm:"column:name;size:255;not null"`

	ObjectID uint64 `gorm:"column:object_id;not null;index"`

	Size int64 `gorm:"column:size;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the database table name.
func (FileRecord) TableName() string {
	return "file_record"
}
