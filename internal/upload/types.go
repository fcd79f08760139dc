package upload

// IngestStatus classifies the outcome of a chunk submission. Expected
// control flow is a status value, not an error.
type IngestStatus int

const (
	// StatusProgress: the chunk was stored; the session is still partial.
	StatusProgress IngestStatus = iota

	// StatusAlreadyCompleted: the chunk had been stored before; nothing
	// was written.
	StatusAlreadyCompleted

	// StatusCompleted: this chunk was the last one and the merge finished.
	StatusCompleted
)

// Progress is the caller-visible state of a session.
type Progress struct {
	UploadID       string `json:"upload_id"`
	UploadedChunks int    `json:"uploaded_chunks"`
	TotalChunks    int    `json:"total_chunks"`
	Status         int    `json:"status"`
}

// MergeResult describes the finalized content-addressable file.
type MergeResult struct {
	FileObjectID uint64 `json:"file_object_id"`
	FileRecordID uint64 `json:"file_record_id"`
	FileHash     string `json:"file_hash"`
	Size         int64  `json:"size"`
	Deduplicated bool   `json:"deduplicated"`
}

// IngestResult is returned by every successful chunk submission. File is
// only set when Status is StatusCompleted.
type IngestResult struct {
	Status   IngestStatus `json:"status"`
	Progress Progress     `json:"progress"`
	File     *MergeResult `json:"file,omitempty"`
}

// ResumeInfo lists which chunk numbers a client still needs to send.
type ResumeInfo struct {
	UploadID      string `json:"upload_id"`
	UploadedChunk []int  `json:"uploaded_chunks"`
	PendingChunk  []int  `json:"pending_chunks"`
	TotalChunks   int    `json:"total_chunks"`
	ChunkSize     int64  `json:"chunk_size"`
}
