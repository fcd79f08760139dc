package upload

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

// IngestChunkRequest is one chunk submission from the controller boundary.
// The session is created (or resumed) implicitly from the declared fields.
type IngestChunkRequest struct {
	OwnerID     uint64
	FileKey     string
	FileName    string
	FileSize    int64
	ContentType string
	ChunkNumber int
	TotalChunks int
	Reader      io.Reader
	ChunkSize   int64
}

// Uploader is the core-facing contract consumed by the transport layer.
type Uploader struct {
	manager *SessionManager
	engine  *ChunkIngestEngine
	chunks  ChunkStore
	logger  zerolog.Logger
}

// NewUploader wires the upload facade.
func NewUploader(manager *SessionManager, engine *ChunkIngestEngine, chunks ChunkStore, logger zerolog.Logger) *Uploader {
	return &Uploader{
		manager: manager,
		engine:  engine,
		chunks:  chunks,
		logger:  logger.With().Str("component", "uploader").Logger(),
	}
}

// IngestChunk resolves the session for the declared file and ingests one
// chunk; when the chunk completes the session the merged file is returned.
func (u *Uploader) IngestChunk(ctx context.Context, req IngestChunkRequest) (*IngestResult, error) {
	session, err := u.manager.CreateOrResume(ctx, CreateRequest{
		UserID:      req.OwnerID,
		FileKey:     req.FileKey,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		return nil, err
	}
	return u.engine.Ingest(ctx, session, req.ChunkNumber, req.Reader, req.ChunkSize)
}

// Cancel aborts an in-progress upload. It is the only way to abort early;
// client disconnects never cancel implicitly.
func (u *Uploader) Cancel(ctx context.Context, ownerID uint64, uploadID string) error {
	session, err := u.manager.Get(ctx, ownerID, uploadID)
	if err != nil {
		return err
	}
	return u.manager.Cancel(ctx, session)
}

// GetProgress reports the current chunk count for a session.
func (u *Uploader) GetProgress(ctx context.Context, ownerID uint64, uploadID string) (*Progress, error) {
	session, err := u.manager.Get(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	completed, err := u.chunks.CountCompleted(ctx, session.UploadID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		UploadID:       session.UploadID,
		UploadedChunks: completed,
		TotalChunks:    session.TotalChunks,
		Status:         session.Status,
	}, nil
}

// ResumeInfo lists uploaded and still-pending chunk numbers so a client can
// resume an interrupted upload without resending what it already sent.
func (u *Uploader) ResumeInfo(ctx context.Context, ownerID uint64, uploadID string) (*ResumeInfo, error) {
	session, err := u.manager.Get(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	completed, err := u.chunks.ListCompleted(ctx, session.UploadID)
	if err != nil {
		return nil, err
	}

	uploaded := make([]int, 0, len(completed))
	have := make(map[int]bool, len(completed))
	for _, c := range completed {
		uploaded = append(uploaded, c.ChunkIndex)
		have[c.ChunkIndex] = true
	}
	pending := make([]int, 0, session.TotalChunks-len(uploaded))
	for i := 1; i <= session.TotalChunks; i++ {
		if !have[i] {
			pending = append(pending, i)
		}
	}
	return &ResumeInfo{
		UploadID:      session.UploadID,
		UploadedChunk: uploaded,
		PendingChunk:  pending,
		TotalChunks:   session.TotalChunks,
		ChunkSize:     session.ChunkSize,
	}, nil
}
