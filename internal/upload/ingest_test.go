package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ChunkVault/config"
	"ChunkVault/model"
)

// unseekable hides the Seeker of a bytes.Reader to model a plain stream.
type unseekable struct {
	r io.Reader
}

func (u unseekable) Read(b []byte) (int, error) { return u.r.Read(b) }

func TestIngestChunkNumberBounds(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	_, err = env.engine.Ingest(ctx, session, 0, readerOf("x"), 1)
	require.ErrorIs(t, err, ErrChunkNumberInvalid)

	_, err = env.engine.Ingest(ctx, session, session.TotalChunks+1, readerOf("x"), 1)
	require.ErrorIs(t, err, ErrChunkNumberInvalid)
}

func TestIngestStoresChunkAndReportsProgress(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	result, err := env.engine.Ingest(ctx, session, 2, readerOf("chunk-two"), 9)
	require.NoError(t, err)
	require.Equal(t, StatusProgress, result.Status)
	require.Equal(t, 1, result.Progress.UploadedChunks)
	require.Equal(t, 3, result.Progress.TotalChunks)
	require.Nil(t, result.File)

	data, ok := env.blobs.data(session.BucketName, ChunkObjectName(session.UploadID, 2))
	require.True(t, ok)
	require.Equal(t, []byte("chunk-two"), data)

	stored := env.sessions.get(session.UploadID)
	require.Equal(t, model.SessionUploading, stored.Status)
	require.Equal(t, 1, stored.UploadedChunks)
}

func TestIngestSameChunkTwiceWritesOnce(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	_, err = env.engine.Ingest(ctx, session, 1, readerOf("chunk-one"), 9)
	require.NoError(t, err)

	result, err := env.engine.Ingest(ctx, session, 1, readerOf("chunk-one"), 9)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyCompleted, result.Status)
	require.Equal(t, 1, result.Progress.UploadedChunks)

	require.Equal(t, 1, env.blobs.putCallCount(session.BucketName, ChunkObjectName(session.UploadID, 1)))
}

func TestIngestRejectsTerminalSessions(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	for status, wantErr := range map[int]error{
		model.SessionExpired:   ErrSessionExpired,
		model.SessionCancelled: ErrSessionExpired,
		model.SessionCompleted: ErrChunkUploadIncomplete,
		model.SessionFailed:    ErrChunkUploadIncomplete,
	} {
		terminal := *session
		terminal.Status = status
		_, err := env.engine.Ingest(ctx, &terminal, 1, readerOf("x"), 1)
		require.ErrorIs(t, err, wantErr)
	}
}

func TestIngestRetriesTransientWriteFailure(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	key := ChunkObjectName(session.UploadID, 1)
	env.blobs.putFailures[blobKey(session.BucketName, key)] = 2

	result, err := env.engine.Ingest(ctx, session, 1, readerOf("chunk-one"), 9)
	require.NoError(t, err)
	require.Equal(t, StatusProgress, result.Status)
	require.Equal(t, 3, env.blobs.putCallCount(session.BucketName, key))

	chunk, err := env.chunks.Find(ctx, session.UploadID, 1)
	require.NoError(t, err)
	require.Equal(t, model.ChunkCompleted, chunk.Status)
	require.Equal(t, 2, chunk.RetryCount)
}

func TestIngestFailsAfterRetriesExhausted(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	key := ChunkObjectName(session.UploadID, 1)
	env.blobs.putFailures[blobKey(session.BucketName, key)] = env.cfg.ChunkRetryMax

	_, err = env.engine.Ingest(ctx, session, 1, readerOf("chunk-one"), 9)
	require.ErrorIs(t, err, ErrChunkUploadFailed)

	// The failure is recorded without completing the chunk.
	chunk, err := env.chunks.Find(ctx, session.UploadID, 1)
	require.NoError(t, err)
	require.Equal(t, model.ChunkPending, chunk.Status)
	require.Equal(t, env.cfg.ChunkRetryMax, chunk.RetryCount)

	count, err := env.chunks.CountCompleted(ctx, session.UploadID)
	require.NoError(t, err)
	require.Zero(t, count)
}

// The losing side of a duplicate-chunk race records its retries without
// touching the row the winner already completed: the status transition only
// ever moves forward, and the completed count never regresses.
func TestIngestFailureNeverDowngradesCompletedChunk(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	_, err = env.engine.Ingest(ctx, session, 1, readerOf("chunk-one"), 9)
	require.NoError(t, err)

	key := ChunkObjectName(session.UploadID, 1)
	env.engine.recordFailure(ctx, session, 1, key, 9, env.cfg.ChunkRetryMax)

	chunk, err := env.chunks.Find(ctx, session.UploadID, 1)
	require.NoError(t, err)
	require.Equal(t, model.ChunkCompleted, chunk.Status)
	require.Zero(t, chunk.RetryCount)

	count, err := env.chunks.CountCompleted(ctx, session.UploadID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// A chunk never completed still gets its pending row and retry count.
	env.engine.recordFailure(ctx, session, 2, ChunkObjectName(session.UploadID, 2), 9, env.cfg.ChunkRetryMax)
	chunk, err = env.chunks.Find(ctx, session.UploadID, 2)
	require.NoError(t, err)
	require.Equal(t, model.ChunkPending, chunk.Status)
	require.Equal(t, env.cfg.ChunkRetryMax, chunk.RetryCount)
}

func TestIngestPlainStreamGetsSingleAttempt(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	key := ChunkObjectName(session.UploadID, 1)
	env.blobs.putFailures[blobKey(session.BucketName, key)] = 1

	_, err = env.engine.Ingest(ctx, session, 1, unseekable{readerOf("chunk-one")}, 9)
	require.ErrorIs(t, err, ErrChunkUploadFailed)
	require.Equal(t, 1, env.blobs.putCallCount(session.BucketName, key))
}

func TestIngestRejectsWhenAdmissionSaturated(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	admission := NewAdmission(1)
	require.True(t, admission.TryAcquire())
	engine := NewChunkIngestEngine(env.sessions, env.chunks, env.blobs, admission, env.merger, env.provider, fixedClock(env.clock), zerolog.Nop())

	_, err = engine.Ingest(ctx, session, 1, readerOf("chunk-one"), 9)
	require.ErrorIs(t, err, ErrConcurrentUploadLimit)

	admission.Release()
	_, err = engine.Ingest(ctx, session, 1, readerOf("chunk-one"), 9)
	require.NoError(t, err)
}

func TestIngestRecordsChunkHashUnderChunkStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.DedupStrategy = config.StrategyChunk
	env := newTestEnv(cfg)
	ctx := context.Background()

	session, err := env.manager.CreateOrResume(ctx, createReq(1, "file-key-1"))
	require.NoError(t, err)

	payload := []byte("chunk-one")
	_, err = env.engine.Ingest(ctx, session, 1, readerOf(string(payload)), int64(len(payload)))
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	chunk, err := env.chunks.Find(ctx, session.UploadID, 1)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(sum[:]), chunk.ChunkHash)
}
