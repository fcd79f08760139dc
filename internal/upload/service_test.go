package upload

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ChunkVault/model"
)

func ingestReq(userID uint64, fileKey string, chunkNumber int, payload []byte) IngestChunkRequest {
	return IngestChunkRequest{
		OwnerID:     userID,
		FileKey:     fileKey,
		FileName:    "report.pdf",
		FileSize:    30,
		ContentType: "application/pdf",
		ChunkNumber: chunkNumber,
		TotalChunks: 3,
		Reader:      bytes.NewReader(payload),
		ChunkSize:   int64(len(payload)),
	}
}

func TestUploaderImplicitSessionAcrossChunks(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	first, err := env.uploader.IngestChunk(ctx, ingestReq(1, "report-key", 1, []byte("aaaaaaaaaa")))
	require.NoError(t, err)
	require.Equal(t, StatusProgress, first.Status)

	// The second chunk resolves to the same session without any init call.
	second, err := env.uploader.IngestChunk(ctx, ingestReq(1, "report-key", 2, []byte("bbbbbbbbbb")))
	require.NoError(t, err)
	require.Equal(t, first.Progress.UploadID, second.Progress.UploadID)
	require.Equal(t, 2, second.Progress.UploadedChunks)

	last, err := env.uploader.IngestChunk(ctx, ingestReq(1, "report-key", 3, []byte("cccccccccc")))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, last.Status)
	require.NotNil(t, last.File)

	data, ok := env.blobs.data("test-bucket", FileObjectName(last.File.FileHash))
	require.True(t, ok)
	require.Equal(t, []byte("aaaaaaaaaabbbbbbbbbbcccccccccc"), data)
}

func TestUploaderProgress(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	result, err := env.uploader.IngestChunk(ctx, ingestReq(1, "report-key", 2, []byte("bbbbbbbbbb")))
	require.NoError(t, err)

	progress, err := env.uploader.GetProgress(ctx, 1, result.Progress.UploadID)
	require.NoError(t, err)
	require.Equal(t, 1, progress.UploadedChunks)
	require.Equal(t, 3, progress.TotalChunks)
	require.Equal(t, model.SessionUploading, progress.Status)

	_, err = env.uploader.GetProgress(ctx, 2, result.Progress.UploadID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = env.uploader.GetProgress(ctx, 1, "no-such-upload")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUploaderResumeInfo(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	result, err := env.uploader.IngestChunk(ctx, ingestReq(1, "report-key", 2, []byte("bbbbbbbbbb")))
	require.NoError(t, err)

	info, err := env.uploader.ResumeInfo(ctx, 1, result.Progress.UploadID)
	require.NoError(t, err)
	require.Equal(t, []int{2}, info.UploadedChunk)
	require.Equal(t, []int{1, 3}, info.PendingChunk)
	require.Equal(t, 3, info.TotalChunks)
	require.Equal(t, env.cfg.ChunkSize, info.ChunkSize)
}

func TestUploaderCancel(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	result, err := env.uploader.IngestChunk(ctx, ingestReq(1, "report-key", 1, []byte("aaaaaaaaaa")))
	require.NoError(t, err)

	require.ErrorIs(t, env.uploader.Cancel(ctx, 2, result.Progress.UploadID), ErrSessionNotFound)
	require.NoError(t, env.uploader.Cancel(ctx, 1, result.Progress.UploadID))
	require.Equal(t, model.SessionCancelled, env.sessions.get(result.Progress.UploadID).Status)
}
