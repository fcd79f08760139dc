package dto

type ChunkUploadRequest struct {
	UserId      uint64 `form:"-"`
	FileKey     string `form:"file_key" binding:"required"`
	FileName    string `form:"file_name" binding:"required"`
	FileSize    int64  `form:"file_size" binding:"required,gt=0"`
	ContentType string `form:"content_type"`
	ChunkNumber int    `form:"chunk_number" binding:"gte=1"`
	TotalChunks int    `form:"total_chunks" binding:"required,gte=1"`
}

type UploadCancelRequest struct {
	UploadID string `json:"upload_id" binding:"required"`
}

type UploadFileByHashRequest struct {
	UserId   uint64 `json:"-"`
	FileName string `json:"file_name" binding:"required"`
	Size     int64  `json:"size" binding:"required"`
	Hash     string `json:"hash" binding:"required"`
}

type FileReleaseRequest struct {
	FileRecordID uint64 `json:"file_record_id" binding:"required"`
}

type DownloadURLRequest struct {
	FileRecordID uint64 `json:"file_record_id" binding:"required"`
	ExpireMin    int    `json:"expire_min"`
}
