package upload

import "errors"

// Validation failures, detected before any I/O. Not retryable without
// changing the request.
var (
	ErrFileTooLarge   = errors.New("file exceeds maximum allowed size")
	ErrQuotaExceeded  = errors.New("storage quota exceeded")
	ErrTypeNotAllowed = errors.New("file type not allowed")
)

// Caller-state failures. Not retryable without restarting the session.
var (
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrSessionExpired     = errors.New("upload session expired")
	ErrChunkNumberInvalid = errors.New("chunk number out of range")
)

var (
	// ErrConcurrentUploadLimit is transient; the caller should back off
	// and retry the chunk.
	ErrConcurrentUploadLimit = errors.New("concurrent upload limit exceeded")

	// ErrChunkUploadFailed means the engine already exhausted its internal
	// retries; the caller must resubmit the chunk.
	ErrChunkUploadFailed = errors.New("chunk upload failed")

	// ErrChunkUploadIncomplete is returned when an operation needs chunks
	// the session does not have, or when chunks arrive for a session that
	// is already finished.
	ErrChunkUploadIncomplete = errors.New("chunk upload incomplete")

	// ErrChunkMergeFailed marks the whole upload as failed; the session is
	// left in FAILED and it is the caller's call whether to restart.
	ErrChunkMergeFailed = errors.New("chunk merge failed")
)

// Store-level sentinels used by the metadata store implementations.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)
