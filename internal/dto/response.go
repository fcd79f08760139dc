package dto

import "ChunkVault/internal/upload"

// ChunkUploadResponse is the response for one chunk submission.
type ChunkUploadResponse struct {
	UploadID       string              `json:"upload_id"`
	Status         string              `json:"status"`
	UploadedChunks int                 `json:"uploaded_chunks"`
	TotalChunks    int                 `json:"total_chunks"`
	File           *upload.MergeResult `json:"file,omitempty"`
}

// FastUploadResponse is the response for instant upload.
type FastUploadResponse struct {
	Instant      bool   `json:"instant"`
	NeedUpload   bool   `json:"need_upload,omitempty"`
	Reason       string `json:"reason,omitempty"`
	FileRecordID uint64 `json:"file_record_id,omitempty"`
}

// DownloadURLResponse carries a presigned object URL.
type DownloadURLResponse struct {
	URL       string `json:"url"`
	ExpireMin int    `json:"expire_min"`
}
