package upload

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/context"

	"ChunkVault/config"
	"ChunkVault/internal/storage"
	"ChunkVault/model"
)

// CreateRequest carries the declared upload parameters from the first chunk
// submission for a logical file.
type CreateRequest struct {
	UserID      uint64
	FileKey     string
	FileName    string
	FileSize    int64
	ContentType string
	TotalChunks int
}

// SessionManager owns the upload session lifecycle: idempotent creation,
// cancellation and expiry.
type SessionManager struct {
	sessions SessionStore
	chunks   ChunkStore
	blobs    storage.Store
	quota    QuotaOracle
	events   EventPublisher
	cfg      *config.Provider
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSessionManager wires a session manager.
func NewSessionManager(
	sessions SessionStore,
	chunks ChunkStore,
	blobs storage.Store,
	quota QuotaOracle,
	events EventPublisher,
	cfg *config.Provider,
	now func() time.Time,
	logger zerolog.Logger,
) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		sessions: sessions,
		chunks:   chunks,
		blobs:    blobs,
		quota:    quota,
		events:   events,
		cfg:      cfg,
		now:      now,
		logger:   logger.With().Str("component", "session_manager").Logger(),
	}
}

// CreateOrResume returns the live session for (owner, file key), creating it
// when none exists. Retried client requests for the same logical upload must
// never fork parallel sessions, so a creation race falls back to re-reading
// the winner instead of erroring.
func (m *SessionManager) CreateOrResume(ctx context.Context, req CreateRequest) (*model.UploadSession, error) {
	cfg := m.cfg.Snapshot()

	if err := m.validate(ctx, cfg, req); err != nil {
		return nil, err
	}

	if existing, err := m.sessions.FindLive(ctx, req.UserID, req.FileKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find live session: %w", err)
	}

	active := true
	now := m.now()
	session := &model.UploadSession{
		UploadID:    uuid.NewString(),
		UserID:      req.UserID,
		FileKey:     req.FileKey,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		ChunkSize:   cfg.ChunkSize,
		TotalChunks: req.TotalChunks,
		BucketName:  cfg.BucketName,
		Status:      model.SessionInit,
		Active:      &active,
		ExpiresAt:   now.Add(cfg.SessionTimeout),
	}

	err := m.sessions.Create(ctx, session)
	if err == nil {
		m.logger.Info().
			Str("upload_id", session.UploadID).
			Uint64("user_id", req.UserID).
			Int("total_chunks", req.TotalChunks).
			Msg("upload session created")
		return session, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// Lost the insert race; the winner's row is the session.
	winner, ferr := m.sessions.FindLive(ctx, req.UserID, req.FileKey)
	if ferr != nil {
		return nil, fmt.Errorf("fetch winning session: %w", ferr)
	}
	return winner, nil
}

func (m *SessionManager) validate(ctx context.Context, cfg *config.Config, req CreateRequest) error {
	if req.TotalChunks < 1 {
		return ErrChunkNumberInvalid
	}
	if cfg.MaxFileSize > 0 && req.FileSize > cfg.MaxFileSize {
		return ErrFileTooLarge
	}
	if !cfg.ExtensionAllowed(req.FileName) {
		return ErrTypeNotAllowed
	}
	if cfg.UserQuota > 0 {
		used, err := m.quota.UsedStorage(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("quota lookup: %w", err)
		}
		if used+req.FileSize > cfg.UserQuota {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// Get loads a session by upload id, enforcing ownership.
func (m *SessionManager) Get(ctx context.Context, userID uint64, uploadID string) (*model.UploadSession, error) {
	session, err := m.sessions.FindByUploadID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Expire moves a live session to EXPIRED. Terminal sessions are untouched.
func (m *SessionManager) Expire(ctx context.Context, session *model.UploadSession) error {
	if session.IsTerminal() {
		return nil
	}
	return m.sessions.MarkTerminal(ctx, session.UploadID, model.SessionExpired)
}

// Cancel aborts an in-progress upload: temporary chunk objects and records
// are removed and the session is marked CANCELLED. Cancelling a terminal
// session is a no-op.
func (m *SessionManager) Cancel(ctx context.Context, session *model.UploadSession) error {
	if session.IsTerminal() {
		return nil
	}
	if err := m.dropChunks(ctx, session); err != nil {
		return err
	}
	if err := m.sessions.MarkTerminal(ctx, session.UploadID, model.SessionCancelled); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	m.logger.Info().Str("upload_id", session.UploadID).Msg("upload session cancelled")
	return nil
}

// dropChunks deletes the session's temporary blob objects and chunk rows.
// Blob deletion failures are handed to the cleanup queue rather than
// failing the caller.
func (m *SessionManager) dropChunks(ctx context.Context, session *model.UploadSession) error {
	chunks, err := m.chunks.ListCompleted(ctx, session.UploadID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	objects := make([]string, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, c.ChunkPath)
	}
	if len(objects) > 0 {
		if err := m.blobs.RemoveObjects(ctx, session.BucketName, objects); err != nil {
			m.logger.Warn().Err(err).
				Str("upload_id", session.UploadID).
				Msg("chunk blob cleanup failed, enqueueing")
			if m.events != nil {
				_ = m.events.EnqueueCleanup(ctx, session.BucketName, objects, "cancel")
			}
		}
	}
	if err := m.chunks.DeleteBySession(ctx, session.UploadID); err != nil {
		return fmt.Errorf("delete chunk records: %w", err)
	}
	return nil
}
