package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"ChunkVault/config"
	"ChunkVault/internal/storage"
	"ChunkVault/model"
)

// ChunkIngestEngine accepts one chunk at a time: blob write with bounded
// retries, idempotent status recording, and completion detection.
type ChunkIngestEngine struct {
	sessions  SessionStore
	chunks    ChunkStore
	blobs     storage.Store
	admission *Admission
	merger    *MergeEngine
	cfg       *config.Provider
	now       func() time.Time
	logger    zerolog.Logger
}

// NewChunkIngestEngine wires an ingest engine.
func NewChunkIngestEngine(
	sessions SessionStore,
	chunks ChunkStore,
	blobs storage.Store,
	admission *Admission,
	merger *MergeEngine,
	cfg *config.Provider,
	now func() time.Time,
	logger zerolog.Logger,
) *ChunkIngestEngine {
	if now == nil {
		now = time.Now
	}
	return &ChunkIngestEngine{
		sessions:  sessions,
		chunks:    chunks,
		blobs:     blobs,
		admission: admission,
		merger:    merger,
		cfg:       cfg,
		now:       now,
		logger:    logger.With().Str("component", "chunk_ingest").Logger(),
	}
}

// ChunkObjectName builds the deterministic temporary key for a chunk.
func ChunkObjectName(uploadID string, chunkIndex int) string {
	return fmt.Sprintf("chunks/%s/%d", uploadID, chunkIndex)
}

// Ingest stores one chunk. Chunks for distinct numbers of one session may
// run fully in parallel; resubmission of a COMPLETED chunk short-circuits
// without a blob write.
func (e *ChunkIngestEngine) Ingest(
	ctx context.Context,
	session *model.UploadSession,
	chunkIndex int,
	reader io.Reader,
	declaredSize int64,
) (*IngestResult, error) {
	if chunkIndex < 1 || chunkIndex > session.TotalChunks {
		return nil, ErrChunkNumberInvalid
	}
	switch session.Status {
	case model.SessionExpired, model.SessionCancelled:
		return nil, ErrSessionExpired
	case model.SessionCompleted, model.SessionFailed:
		return nil, ErrChunkUploadIncomplete
	}

	if existing, err := e.chunks.Find(ctx, session.UploadID, chunkIndex); err == nil && existing.Status == model.ChunkCompleted {
		progress, perr := e.progress(ctx, session)
		if perr != nil {
			return nil, perr
		}
		return &IngestResult{Status: StatusAlreadyCompleted, Progress: progress}, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find chunk: %w", err)
	}

	// Fail fast instead of queuing when the global bound is reached; the
	// caller retries with backoff.
	if !e.admission.TryAcquire() {
		return nil, ErrConcurrentUploadLimit
	}
	defer e.admission.Release()

	cfg := e.cfg.Snapshot()
	objectPath := ChunkObjectName(session.UploadID, chunkIndex)

	chunkHash, attempts, err := e.writeBlob(ctx, cfg, session, objectPath, reader, declaredSize)
	if err != nil {
		e.recordFailure(ctx, session, chunkIndex, objectPath, declaredSize, attempts)
		e.logger.Warn().Err(err).
			Str("upload_id", session.UploadID).
			Int("chunk_index", chunkIndex).
			Int("attempts", attempts).
			Msg("chunk write failed after retries")
		return nil, fmt.Errorf("%w: %v", ErrChunkUploadFailed, err)
	}

	uploadedAt := e.now()
	chunk := &model.FileChunk{
		UploadID:   session.UploadID,
		ChunkIndex: chunkIndex,
		ChunkSize:  declaredSize,
		ChunkPath:  objectPath,
		BucketName: session.BucketName,
		ChunkHash:  chunkHash,
		Status:     model.ChunkCompleted,
		RetryCount: attempts - 1,
		UploadedAt: &uploadedAt,
	}
	// Idempotent on (upload_id, chunk_index): a concurrent duplicate of the
	// same chunk number lands on one row, and the status transition is the
	// source of truth.
	if err := e.chunks.Upsert(ctx, chunk); err != nil {
		return nil, fmt.Errorf("record chunk: %w", err)
	}

	// Recompute from the authoritative count; chunk completions arrive out
	// of order and concurrently, so a blind increment would drift.
	completed, err := e.chunks.CountCompleted(ctx, session.UploadID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if err := e.sessions.UpdateProgress(ctx, session.UploadID, completed, model.SessionUploading); err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}
	session.UploadedChunks = completed
	session.Status = model.SessionUploading

	if completed == session.TotalChunks {
		file, err := e.merger.Merge(ctx, session)
		if err != nil {
			return nil, err
		}
		return &IngestResult{
			Status: StatusCompleted,
			Progress: Progress{
				UploadID:       session.UploadID,
				UploadedChunks: completed,
				TotalChunks:    session.TotalChunks,
				Status:         model.SessionCompleted,
			},
			File: file,
		}, nil
	}

	return &IngestResult{
		Status: StatusProgress,
		Progress: Progress{
			UploadID:       session.UploadID,
			UploadedChunks: completed,
			TotalChunks:    session.TotalChunks,
			Status:         model.SessionUploading,
		},
	}, nil
}

// writeBlob uploads the chunk payload, retrying transient blob-store
// failures with a fixed delay. Retries need a rewindable reader; a plain
// stream gets a single attempt.
func (e *ChunkIngestEngine) writeBlob(
	ctx context.Context,
	cfg *config.Config,
	session *model.UploadSession,
	objectPath string,
	reader io.Reader,
	declaredSize int64,
) (hash string, attempts int, err error) {
	maxAttempts := cfg.ChunkRetryMax
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	seeker, rewindable := reader.(io.Seeker)

	for attempts = 1; attempts <= maxAttempts; attempts++ {
		if attempts > 1 {
			if !rewindable {
				return "", attempts - 1, err
			}
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return "", attempts - 1, serr
			}
			select {
			case <-time.After(cfg.ChunkRetryDelay):
			case <-ctx.Done():
				return "", attempts - 1, ctx.Err()
			}
		}

		var src io.Reader = reader
		var pipe *HashingPipe
		if cfg.DedupStrategy == config.StrategyChunk {
			pipe = NewHashingPipe(reader)
			src = pipe
		}

		err = e.blobs.PutObject(ctx, session.BucketName, objectPath, src, declaredSize, storage.PutOptions{})
		if err == nil {
			if pipe != nil {
				hash = pipe.Sum()
			}
			return hash, attempts, nil
		}
	}
	return "", maxAttempts, err
}

// recordFailure keeps the retry count on the chunk row without completing
// it. RecordRetry never touches a row a concurrent duplicate of the same
// chunk number already completed.
func (e *ChunkIngestEngine) recordFailure(ctx context.Context, session *model.UploadSession, chunkIndex int, objectPath string, declaredSize int64, attempts int) {
	chunk := &model.FileChunk{
		UploadID:   session.UploadID,
		ChunkIndex: chunkIndex,
		ChunkSize:  declaredSize,
		ChunkPath:  objectPath,
		BucketName: session.BucketName,
		Status:     model.ChunkPending,
		RetryCount: attempts,
	}
	if err := e.chunks.RecordRetry(ctx, chunk); err != nil {
		e.logger.Warn().Err(err).Str("upload_id", session.UploadID).Msg("record chunk failure")
	}
}

func (e *ChunkIngestEngine) progress(ctx context.Context, session *model.UploadSession) (Progress, error) {
	completed, err := e.chunks.CountCompleted(ctx, session.UploadID)
	if err != nil {
		return Progress{}, fmt.Errorf("count chunks: %w", err)
	}
	return Progress{
		UploadID:       session.UploadID,
		UploadedChunks: completed,
		TotalChunks:    session.TotalChunks,
		Status:         session.Status,
	}, nil
}
