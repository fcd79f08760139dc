package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ChunkVault/config"
	"ChunkVault/internal/storage"
	"ChunkVault/model"
)

var errRemoveFailed = errors.New("injected remove failure")

func readerOf(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}

func testConfig() *config.Config {
	return &config.Config{
		BucketName:           "test-bucket",
		MaxFileSize:          100 << 20,
		UserQuota:            1 << 30,
		AllowedExtensions:    []string{"*"},
		ChunkSize:            4 << 20,
		SessionTimeout:       time.Hour,
		ChunkRetryMax:        3,
		ChunkRetryDelay:      time.Millisecond,
		DedupStrategy:        config.StrategyFile,
		MaxConcurrentUploads: 0,
		ReaperInterval:       time.Minute,
	}
}

func testProvider(cfg *config.Config) *config.Provider {
	if cfg == nil {
		cfg = testConfig()
	}
	return config.NewProvider(cfg)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// fakeSessionStore is an in-memory SessionStore with the same uniqueness
// rules as the database: at most one live session per (user, file key).
type fakeSessionStore struct {
	mu       sync.Mutex
	nextID   uint64
	sessions map[string]*model.UploadSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.UploadSession)}
}

func (s *fakeSessionStore) liveLocked(userID uint64, fileKey string) *model.UploadSession {
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.FileKey == fileKey && sess.Active != nil {
			return sess
		}
	}
	return nil
}

func (s *fakeSessionStore) Create(ctx context.Context, session *model.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveLocked(session.UserID, session.FileKey) != nil {
		return ErrConflict
	}
	s.nextID++
	session.ID = s.nextID
	clone := *session
	s.sessions[session.UploadID] = &clone
	return nil
}

func (s *fakeSessionStore) FindLive(ctx context.Context, userID uint64, fileKey string) (*model.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.liveLocked(userID, fileKey); sess != nil {
		clone := *sess
		return &clone, nil
	}
	return nil, ErrNotFound
}

func (s *fakeSessionStore) FindByUploadID(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *fakeSessionStore) UpdateProgress(ctx context.Context, uploadID string, uploadedChunks, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != model.SessionInit && sess.Status != model.SessionUploading {
		return nil
	}
	sess.UploadedChunks = uploadedChunks
	sess.Status = status
	return nil
}

func (s *fakeSessionStore) MarkTerminal(ctx context.Context, uploadID string, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != model.SessionInit && sess.Status != model.SessionUploading {
		return nil
	}
	sess.Status = status
	sess.Active = nil
	return nil
}

func (s *fakeSessionStore) Complete(ctx context.Context, uploadID string, fileObjectID uint64, fileHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != model.SessionInit && sess.Status != model.SessionUploading {
		return ErrConflict
	}
	sess.Status = model.SessionCompleted
	sess.Active = nil
	sess.FileObjectID = &fileObjectID
	sess.FileHash = fileHash
	return nil
}

func (s *fakeSessionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.UploadSession
	for _, sess := range s.sessions {
		if sess.Active != nil && now.After(sess.ExpiresAt) {
			clone := *sess
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeSessionStore) get(uploadID string) *model.UploadSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[uploadID]
	if sess == nil {
		return nil
	}
	clone := *sess
	return &clone
}

// fakeChunkStore is an in-memory ChunkStore keyed on (upload id, index).
type fakeChunkStore struct {
	mu     sync.Mutex
	nextID uint64
	chunks map[string]map[int]*model.FileChunk
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{chunks: make(map[string]map[int]*model.FileChunk)}
}

func (s *fakeChunkStore) Upsert(ctx context.Context, chunk *model.FileChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex, ok := s.chunks[chunk.UploadID]
	if !ok {
		byIndex = make(map[int]*model.FileChunk)
		s.chunks[chunk.UploadID] = byIndex
	}
	clone := *chunk
	if existing, ok := byIndex[chunk.ChunkIndex]; ok {
		clone.ID = existing.ID
	} else {
		s.nextID++
		clone.ID = s.nextID
	}
	byIndex[chunk.ChunkIndex] = &clone
	return nil
}

func (s *fakeChunkStore) RecordRetry(ctx context.Context, chunk *model.FileChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex, ok := s.chunks[chunk.UploadID]
	if !ok {
		byIndex = make(map[int]*model.FileChunk)
		s.chunks[chunk.UploadID] = byIndex
	}
	if existing, ok := byIndex[chunk.ChunkIndex]; ok {
		if existing.Status == model.ChunkCompleted {
			return nil
		}
		existing.RetryCount = chunk.RetryCount
		return nil
	}
	clone := *chunk
	clone.Status = model.ChunkPending
	s.nextID++
	clone.ID = s.nextID
	byIndex[chunk.ChunkIndex] = &clone
	return nil
}

func (s *fakeChunkStore) Find(ctx context.Context, uploadID string, chunkIndex int) (*model.FileChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk, ok := s.chunks[uploadID][chunkIndex]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *chunk
	return &clone, nil
}

func (s *fakeChunkStore) ListCompleted(ctx context.Context, uploadID string) ([]*model.FileChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FileChunk
	for _, chunk := range s.chunks[uploadID] {
		if chunk.Status == model.ChunkCompleted {
			clone := *chunk
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (s *fakeChunkStore) CountCompleted(ctx context.Context, uploadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, chunk := range s.chunks[uploadID] {
		if chunk.Status == model.ChunkCompleted {
			count++
		}
	}
	return count, nil
}

func (s *fakeChunkStore) DeleteBySession(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, uploadID)
	return nil
}

// fakeFileStore is an in-memory FileStore with hash uniqueness.
type fakeFileStore struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*model.FileObject
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{byID: make(map[uint64]*model.FileObject)}
}

func (s *fakeFileStore) Create(ctx context.Context, obj *model.FileObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Hash == obj.Hash {
			return ErrConflict
		}
	}
	s.nextID++
	obj.ID = s.nextID
	clone := *obj
	s.byID[obj.ID] = &clone
	return nil
}

func (s *fakeFileStore) FindByHash(ctx context.Context, hash string) (*model.FileObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range s.byID {
		if obj.Hash == hash {
			clone := *obj
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeFileStore) FindByID(ctx context.Context, id uint64) (*model.FileObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *obj
	return &clone, nil
}

func (s *fakeFileStore) IncRef(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	obj.RefCount++
	return nil
}

func (s *fakeFileStore) DecRef(ctx context.Context, id uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	if obj.RefCount > 0 {
		obj.RefCount--
	}
	return obj.RefCount, nil
}

func (s *fakeFileStore) Delete(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

// fakeRecordStore also serves as the quota oracle: used storage is the sum
// of stored record sizes.
type fakeRecordStore struct {
	mu      sync.Mutex
	nextID  uint64
	records map[uint64]*model.FileRecord

	createErr error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[uint64]*model.FileRecord)}
}

func (s *fakeRecordStore) Create(ctx context.Context, record *model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	record.ID = s.nextID
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *fakeRecordStore) FindByID(ctx context.Context, id uint64) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *fakeRecordStore) Delete(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *fakeRecordStore) UsedStorage(ctx context.Context, userID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var used int64
	for _, record := range s.records {
		if record.UserID == userID {
			used += record.Size
		}
	}
	return used, nil
}

func (s *fakeRecordStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeEvents records published events and cleanup enqueues.
type fakeEvents struct {
	mu        sync.Mutex
	completed []UploadCompletedEvent
	cleanups  [][]string
	sources   []string
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{}
}

func (e *fakeEvents) PublishUploadCompleted(ctx context.Context, evt UploadCompletedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, evt)
	return nil
}

func (e *fakeEvents) EnqueueCleanup(ctx context.Context, bucket string, objects []string, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanups = append(e.cleanups, objects)
	e.sources = append(e.sources, source)
	return nil
}

func (e *fakeEvents) completedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.completed)
}

func (e *fakeEvents) cleanupCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cleanups)
}

// fakeBlobStore is an in-memory storage.Store. Compose concatenates the
// source objects in argument order, mirroring server-side composition.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// putFailures maps object key to the number of PutObject calls that
	// should fail before one succeeds.
	putFailures map[string]int
	putCalls    map[string]int
	removeErr   error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects:     make(map[string][]byte),
		putFailures: make(map[string]int),
		putCalls:    make(map[string]int),
	}
}

func blobKey(bucket, object string) string {
	return bucket + "/" + object
}

func (s *fakeBlobStore) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts storage.PutOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blobKey(bucket, object)
	s.putCalls[key]++
	if s.putFailures[key] > 0 {
		s.putFailures[key]--
		return fmt.Errorf("injected put failure")
	}
	s.objects[key] = data
	return nil
}

func (s *fakeBlobStore) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[blobKey(bucket, object)]
	if !ok {
		return nil, storage.ObjectInfo{}, fmt.Errorf("object %s not found", object)
	}
	info := storage.ObjectInfo{ObjectName: object, Size: int64(len(data))}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (s *fakeBlobStore) GetObjectRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[blobKey(bucket, object)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", object)
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func (s *fakeBlobStore) StatObject(ctx context.Context, bucket, object string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[blobKey(bucket, object)]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("object %s not found", object)
	}
	return storage.ObjectInfo{ObjectName: object, Size: int64(len(data))}, nil
}

func (s *fakeBlobStore) ObjectExists(ctx context.Context, bucket, object string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[blobKey(bucket, object)]
	return ok, nil
}

func (s *fakeBlobStore) RemoveObject(ctx context.Context, bucket, object string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	delete(s.objects, blobKey(bucket, object))
	return nil
}

func (s *fakeBlobStore) RemoveObjects(ctx context.Context, bucket string, objects []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	for _, object := range objects {
		delete(s.objects, blobKey(bucket, object))
	}
	return nil
}

func (s *fakeBlobStore) ComposeObject(ctx context.Context, dest storage.CopyDest, sources ...storage.CopySource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var merged []byte
	for _, src := range sources {
		data, ok := s.objects[blobKey(src.Bucket, src.Object)]
		if !ok {
			return fmt.Errorf("compose source %s not found", src.Object)
		}
		merged = append(merged, data...)
	}
	s.objects[blobKey(dest.Bucket, dest.Object)] = merged
	return nil
}

func (s *fakeBlobStore) CopyObject(ctx context.Context, dest storage.CopyDest, source storage.CopySource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[blobKey(source.Bucket, source.Object)]
	if !ok {
		return fmt.Errorf("copy source %s not found", source.Object)
	}
	s.objects[blobKey(dest.Bucket, dest.Object)] = append([]byte(nil), data...)
	return nil
}

func (s *fakeBlobStore) PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.test/%s/%s", bucket, object), nil
}

func (s *fakeBlobStore) data(bucket, object string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[blobKey(bucket, object)]
	return data, ok
}

func (s *fakeBlobStore) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *fakeBlobStore) putCallCount(bucket, object string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCalls[blobKey(bucket, object)]
}

// testEnv wires the whole upload core over the in-memory fakes.
type testEnv struct {
	sessions *fakeSessionStore
	chunks   *fakeChunkStore
	files    *fakeFileStore
	records  *fakeRecordStore
	events   *fakeEvents
	blobs    *fakeBlobStore

	cfg      *config.Config
	provider *config.Provider
	clock    time.Time

	manager  *SessionManager
	merger   *MergeEngine
	engine   *ChunkIngestEngine
	uploader *Uploader
	reaper   *Reaper
}

func newTestEnv(cfg *config.Config) *testEnv {
	if cfg == nil {
		cfg = testConfig()
	}
	env := &testEnv{
		sessions: newFakeSessionStore(),
		chunks:   newFakeChunkStore(),
		files:    newFakeFileStore(),
		records:  newFakeRecordStore(),
		events:   newFakeEvents(),
		blobs:    newFakeBlobStore(),
		cfg:      cfg,
		provider: config.NewProvider(cfg),
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := zerolog.Nop()
	now := fixedClock(env.clock)

	env.manager = NewSessionManager(env.sessions, env.chunks, env.blobs, env.records, env.events, env.provider, now, logger)
	env.merger = NewMergeEngine(env.sessions, env.chunks, env.files, env.records, env.blobs, env.events, env.provider, now, logger)
	env.engine = NewChunkIngestEngine(env.sessions, env.chunks, env.blobs, NewAdmission(cfg.MaxConcurrentUploads), env.merger, env.provider, now, logger)
	env.uploader = NewUploader(env.manager, env.engine, env.chunks, logger)
	env.reaper = NewReaper(env.sessions, env.chunks, env.blobs, env.events, env.provider, now, logger)
	return env
}
