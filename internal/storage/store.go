package storage

import (
	"context"
	"io"
	"time"
)

// PutOptions describes upload options for object storage.
type PutOptions struct {
	ContentType string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	ObjectName  string
	Size        int64
	ContentType string
}

// CopySource describes a source object for server-side copy or composition.
type CopySource struct {
	Bucket string
	Object string
}

// CopyDest describes a destination object for server-side copy or composition.
type CopyDest struct {
	Bucket string
	Object string
}

// Store abstracts object storage operations. The upload core only ever talks
// to this interface so merge and ingest logic never depend on a concrete
// storage product.
type Store interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts PutOptions) error
	GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, ObjectInfo, error)
	GetObjectRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, object string) (ObjectInfo, error)
	ObjectExists(ctx context.Context, bucket, object string) (bool, error)
	RemoveObject(ctx context.Context, bucket, object string) error
	RemoveObjects(ctx context.Context, bucket string, objects []string) error
	ComposeObject(ctx context.Context, dest CopyDest, sources ...CopySource) error
	CopyObject(ctx context.Context, dest CopyDest, source CopySource) error
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}
