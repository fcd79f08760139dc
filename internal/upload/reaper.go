package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ChunkVault/config"
	"ChunkVault/internal/storage"
	"ChunkVault/model"
)

// Reaper sweeps stale sessions: anything still INIT or UPLOADING past its
// expiry loses its temporary chunk objects and records and is marked
// EXPIRED. The sweep itself is a pure function of the injected clock and
// store state; the ticker is just a trigger.
type Reaper struct {
	sessions SessionStore
	chunks   ChunkStore
	blobs    storage.Store
	events   EventPublisher
	cfg      *config.Provider
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// reaperBatchSize bounds how many sessions one sweep loads.
const reaperBatchSize = 500

// NewReaper wires a reaper.
func NewReaper(
	sessions SessionStore,
	chunks ChunkStore,
	blobs storage.Store,
	events EventPublisher,
	cfg *config.Provider,
	now func() time.Time,
	logger zerolog.Logger,
) *Reaper {
	if now == nil {
		now = time.Now
	}
	return &Reaper{
		sessions: sessions,
		chunks:   chunks,
		blobs:    blobs,
		events:   events,
		cfg:      cfg,
		now:      now,
		logger:   logger.With().Str("component", "reaper").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (r *Reaper) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	interval := r.cfg.Snapshot().ReaperInterval
	r.logger.Info().Dur("interval", interval).Msg("reaper started")
	go r.runLoop(interval)
}

// Stop halts the sweep loop and waits for it to drain.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	<-r.doneChan
	r.logger.Info().Msg("reaper stopped")
}

func (r *Reaper) runLoop(interval time.Duration) {
	defer close(r.doneChan)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("reaper sweep failed")
			}
		case <-r.stopChan:
			return
		}
	}
}

// RunOnce sweeps expired sessions and returns how many were reaped.
// Sessions are processed independently: failure on one never blocks the
// rest, and re-running over an already-EXPIRED session is a no-op because
// terminal sessions are not listed.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	expired, err := r.sessions.ListExpired(ctx, now, reaperBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	reaped := 0
	for _, session := range expired {
		if err := r.reapSession(ctx, session); err != nil {
			r.logger.Warn().Err(err).
				Str("upload_id", session.UploadID).
				Msg("session reap failed, continuing")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		r.logger.Info().Int("reaped", reaped).Msg("expired sessions cleaned")
	}
	return reaped, nil
}

func (r *Reaper) reapSession(ctx context.Context, session *model.UploadSession) error {
	if session.IsTerminal() {
		return nil
	}

	chunks, err := r.chunks.ListCompleted(ctx, session.UploadID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	objects := make([]string, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, c.ChunkPath)
	}
	if len(objects) > 0 {
		// Best effort: a blob-store hiccup must not leave the session
		// forever live, so deletion failures go to the cleanup queue.
		if err := r.blobs.RemoveObjects(ctx, session.BucketName, objects); err != nil {
			r.logger.Warn().Err(err).
				Str("upload_id", session.UploadID).
				Msg("expired chunk blob removal failed, enqueueing")
			if r.events != nil {
				_ = r.events.EnqueueCleanup(ctx, session.BucketName, objects, "reaper")
			}
		}
	}

	if err := r.chunks.DeleteBySession(ctx, session.UploadID); err != nil {
		return fmt.Errorf("delete chunk records: %w", err)
	}
	if err := r.sessions.MarkTerminal(ctx, session.UploadID, model.SessionExpired); err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}
