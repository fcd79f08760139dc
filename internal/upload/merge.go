package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ChunkVault/config"
	"ChunkVault/internal/storage"
	"ChunkVault/model"
)

// MergeEngine composes a completed session's chunks into one object,
// hashes the content, deduplicates it against existing file objects and
// finalizes the session.
type MergeEngine struct {
	sessions SessionStore
	chunks   ChunkStore
	files    FileStore
	records  RecordStore
	blobs    storage.Store
	events   EventPublisher
	cfg      *config.Provider
	now      func() time.Time
	logger   zerolog.Logger

	// Serializes merges per upload id: two chunks finishing simultaneously
	// can both observe a full session and trigger the merge.
	mu      sync.Mutex
	merging map[string]*uploadLock
}

// uploadLock is a keyed mutex entry. waiters counts holders plus blocked
// acquirers; the map entry stays until the count reaches zero, so late
// acquirers always contend on the same mutex.
type uploadLock struct {
	mu      sync.Mutex
	waiters int
}

// NewMergeEngine wires a merge engine.
func NewMergeEngine(
	sessions SessionStore,
	chunks ChunkStore,
	files FileStore,
	records RecordStore,
	blobs storage.Store,
	events EventPublisher,
	cfg *config.Provider,
	now func() time.Time,
	logger zerolog.Logger,
) *MergeEngine {
	if now == nil {
		now = time.Now
	}
	return &MergeEngine{
		sessions: sessions,
		chunks:   chunks,
		files:    files,
		records:  records,
		blobs:    blobs,
		events:   events,
		cfg:      cfg,
		now:      now,
		logger:   logger.With().Str("component", "merge_engine").Logger(),
		merging:  make(map[string]*uploadLock),
	}
}

func (e *MergeEngine) lockUpload(uploadID string) func() {
	e.mu.Lock()
	lock, ok := e.merging[uploadID]
	if !ok {
		lock = &uploadLock{}
		e.merging[uploadID] = lock
	}
	lock.waiters++
	e.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.mu.Lock()
		lock.waiters--
		if lock.waiters == 0 {
			delete(e.merging, uploadID)
		}
		e.mu.Unlock()
	}
}

// MergedObjectName is the temporary key a session's chunks compose into.
func MergedObjectName(uploadID string) string {
	return fmt.Sprintf("merged/%s", uploadID)
}

// FileObjectName is the permanent content-addressed key.
func FileObjectName(hash string) string {
	return fmt.Sprintf("files/%s", hash)
}

// Merge finalizes a session whose chunks are all present. Calling it again
// on an already-COMPLETED session returns the same file without composing a
// second object. Any failure marks the session FAILED; chunks are left in
// place so a deliberate retry can re-verify and re-compose.
func (e *MergeEngine) Merge(ctx context.Context, session *model.UploadSession) (*MergeResult, error) {
	unlock := e.lockUpload(session.UploadID)
	defer unlock()

	// Re-read under the lock: a concurrent merge may have finished first.
	if fresh, err := e.sessions.FindByUploadID(ctx, session.UploadID); err == nil {
		session = fresh
	}
	if session.Status == model.SessionCompleted {
		return e.completedResult(ctx, session)
	}

	// Re-verify: admission is concurrent and this count is the authority.
	completed, err := e.chunks.CountCompleted(ctx, session.UploadID)
	if err != nil {
		return nil, e.fail(ctx, session, fmt.Errorf("count chunks: %w", err))
	}
	if completed != session.TotalChunks {
		return nil, e.fail(ctx, session, fmt.Errorf("%d of %d chunks completed", completed, session.TotalChunks))
	}

	chunks, err := e.chunks.ListCompleted(ctx, session.UploadID)
	if err != nil {
		return nil, e.fail(ctx, session, fmt.Errorf("list chunks: %w", err))
	}

	// Chunk order reconstructs the original byte stream regardless of
	// upload arrival order; ListCompleted returns ascending chunk index.
	sources := make([]storage.CopySource, 0, len(chunks))
	chunkObjects := make([]string, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, storage.CopySource{Bucket: c.BucketName, Object: c.ChunkPath})
		chunkObjects = append(chunkObjects, c.ChunkPath)
	}

	tempObject := MergedObjectName(session.UploadID)
	dest := storage.CopyDest{Bucket: session.BucketName, Object: tempObject}
	if err := e.blobs.ComposeObject(ctx, dest, sources...); err != nil {
		return nil, e.fail(ctx, session, fmt.Errorf("compose: %w", err))
	}

	hash, size, err := e.hashObject(ctx, session.BucketName, tempObject)
	if err != nil {
		return nil, e.fail(ctx, session, fmt.Errorf("hash merged object: %w", err))
	}
	if session.FileSize > 0 && size != session.FileSize {
		e.logger.Warn().
			Str("upload_id", session.UploadID).
			Int64("declared", session.FileSize).
			Int64("actual", size).
			Msg("merged size differs from declared size")
	}

	obj, dedup, err := e.resolveObject(ctx, session, tempObject, hash, size)
	if err != nil {
		return nil, e.fail(ctx, session, err)
	}

	record := &model.FileRecord{
		UserID:   session.UserID,
		Name:     session.FileName,
		ObjectID: obj.ID,
		Size:     size,
	}
	if err := e.records.Create(ctx, record); err != nil {
		// The reference was counted for this record; undo it.
		if _, derr := e.files.DecRef(ctx, obj.ID); derr != nil {
			e.logger.Error().Err(derr).Uint64("object_id", obj.ID).Msg("refcount rollback failed")
		}
		return nil, e.fail(ctx, session, fmt.Errorf("create file record: %w", err))
	}

	if err := e.sessions.Complete(ctx, session.UploadID, obj.ID, hash); err != nil {
		// A cancel or expiry won after the last chunk landed; the merged
		// file belongs to no live session, so undo its record and reference.
		if derr := e.records.Delete(ctx, record.ID); derr != nil {
			e.logger.Error().Err(derr).Uint64("record_id", record.ID).Msg("record rollback failed")
		}
		if _, derr := e.files.DecRef(ctx, obj.ID); derr != nil {
			e.logger.Error().Err(derr).Uint64("object_id", obj.ID).Msg("refcount rollback failed")
		}
		return nil, e.fail(ctx, session, fmt.Errorf("finalize session: %w", err))
	}
	session.Status = model.SessionCompleted
	session.FileHash = hash
	session.FileObjectID = &obj.ID

	e.cleanupChunks(ctx, session, chunkObjects)
	e.publish(ctx, session, obj, dedup)

	e.logger.Info().
		Str("upload_id", session.UploadID).
		Str("hash", hash).
		Int64("size", size).
		Bool("deduplicated", dedup).
		Msg("upload merged")

	return &MergeResult{
		FileObjectID: obj.ID,
		FileRecordID: record.ID,
		FileHash:     hash,
		Size:         size,
		Deduplicated: dedup,
	}, nil
}

// hashObject re-reads the composed object end-to-end through the hashing
// pipe. A full read costs one pass for very large files but sidesteps
// chunk-boundary hash combination entirely.
func (e *MergeEngine) hashObject(ctx context.Context, bucket, object string) (string, int64, error) {
	reader, _, err := e.blobs.GetObject(ctx, bucket, object)
	if err != nil {
		return "", 0, err
	}
	defer reader.Close()
	return HashReader(reader)
}

// resolveObject deduplicates the merged content: an existing object with
// the same hash gains a reference and the temporary object is discarded;
// otherwise the temporary object is promoted to its permanent key.
func (e *MergeEngine) resolveObject(
	ctx context.Context,
	session *model.UploadSession,
	tempObject, hash string,
	size int64,
) (*model.FileObject, bool, error) {
	existing, err := e.files.FindByHash(ctx, hash)
	if err == nil {
		if ierr := e.files.IncRef(ctx, existing.ID); ierr != nil {
			return nil, false, fmt.Errorf("increment refcount: %w", ierr)
		}
		e.discard(ctx, session.BucketName, tempObject)
		return existing, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	}

	permanent := FileObjectName(hash)
	if err := e.blobs.CopyObject(ctx,
		storage.CopyDest{Bucket: session.BucketName, Object: permanent},
		storage.CopySource{Bucket: session.BucketName, Object: tempObject},
	); err != nil {
		return nil, false, fmt.Errorf("promote merged object: %w", err)
	}
	e.discard(ctx, session.BucketName, tempObject)

	obj := &model.FileObject{
		Hash:        hash,
		BucketName:  session.BucketName,
		ObjectName:  permanent,
		ContentType: session.ContentType,
		Size:        size,
		RefCount:    1,
	}
	err = e.files.Create(ctx, obj)
	if err == nil {
		return obj, false, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, false, fmt.Errorf("create file object: %w", err)
	}

	// Another merge with identical content won the insert. Both copies
	// targeted the same content-addressed key, so reuse the winner's row.
	winner, ferr := e.files.FindByHash(ctx, hash)
	if ferr != nil {
		return nil, false, fmt.Errorf("fetch winning file object: %w", ferr)
	}
	if ierr := e.files.IncRef(ctx, winner.ID); ierr != nil {
		return nil, false, fmt.Errorf("increment refcount: %w", ierr)
	}
	return winner, true, nil
}

// discard removes the temporary merged object; on failure the key is handed
// to the cleanup queue instead of failing the completion path.
func (e *MergeEngine) discard(ctx context.Context, bucket, object string) {
	if err := e.blobs.RemoveObject(ctx, bucket, object); err != nil {
		e.logger.Warn().Err(err).Str("object", object).Msg("temp object removal failed, enqueueing")
		if e.events != nil {
			_ = e.events.EnqueueCleanup(ctx, bucket, []string{object}, "merge")
		}
	}
}

// cleanupChunks deletes chunk blobs and rows on the success path. Storage
// leakage here is a lesser fault than failing a finished upload, so errors
// are logged and deferred to the cleanup queue.
func (e *MergeEngine) cleanupChunks(ctx context.Context, session *model.UploadSession, objects []string) {
	if len(objects) > 0 {
		if err := e.blobs.RemoveObjects(ctx, session.BucketName, objects); err != nil {
			e.logger.Warn().Err(err).Str("upload_id", session.UploadID).Msg("chunk cleanup failed, enqueueing")
			if e.events != nil {
				_ = e.events.EnqueueCleanup(ctx, session.BucketName, objects, "merge")
			}
		}
	}
	if err := e.chunks.DeleteBySession(ctx, session.UploadID); err != nil {
		e.logger.Warn().Err(err).Str("upload_id", session.UploadID).Msg("chunk record cleanup failed")
	}
}

func (e *MergeEngine) publish(ctx context.Context, session *model.UploadSession, obj *model.FileObject, dedup bool) {
	if e.events == nil {
		return
	}
	evt := UploadCompletedEvent{
		UploadID:     session.UploadID,
		UserID:       session.UserID,
		FileName:     session.FileName,
		FileHash:     obj.Hash,
		FileSize:     obj.Size,
		FileObjectID: obj.ID,
		Deduplicated: dedup,
		CompletedAt:  e.now(),
	}
	if err := e.events.PublishUploadCompleted(ctx, evt); err != nil {
		e.logger.Warn().Err(err).Str("upload_id", session.UploadID).Msg("completion event publish failed")
	}
}

// completedResult serves the idempotent re-merge: same file id and hash,
// no second compose, no second FileObject.
func (e *MergeEngine) completedResult(ctx context.Context, session *model.UploadSession) (*MergeResult, error) {
	if session.FileObjectID == nil {
		return nil, fmt.Errorf("%w: completed session has no file object", ErrChunkMergeFailed)
	}
	obj, err := e.files.FindByID(ctx, *session.FileObjectID)
	if err != nil {
		return nil, fmt.Errorf("load merged file object: %w", err)
	}
	return &MergeResult{
		FileObjectID: obj.ID,
		FileHash:     obj.Hash,
		Size:         obj.Size,
		Deduplicated: true,
	}, nil
}

func (e *MergeEngine) fail(ctx context.Context, session *model.UploadSession, cause error) error {
	if err := e.sessions.MarkTerminal(ctx, session.UploadID, model.SessionFailed); err != nil {
		e.logger.Error().Err(err).Str("upload_id", session.UploadID).Msg("mark session failed")
	}
	session.Status = model.SessionFailed
	return fmt.Errorf("%w: %v", ErrChunkMergeFailed, cause)
}
