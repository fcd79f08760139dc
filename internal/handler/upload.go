package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ChunkVault/internal/dto"
	"ChunkVault/internal/upload"
	"ChunkVault/utils"
)

// UploadHandler serves the chunked upload endpoints.
type UploadHandler struct {
	uploader *upload.Uploader
}

// NewUploadHandler builds the upload handler.
func NewUploadHandler(uploader *upload.Uploader) *UploadHandler {
	return &UploadHandler{uploader: uploader}
}

// UploadChunk accepts one multipart chunk. The session is created on the
// first chunk and resumed on every later one; the call is idempotent per
// chunk number.
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	var req dto.ChunkUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, err)
		return
	}
	header, err := c.FormFile("chunk")
	if err != nil {
		utils.Fail(c, http.StatusBadRequest, errors.New("chunk file part required"))
		return
	}
	part, err := header.Open()
	if err != nil {
		utils.Fail(c, http.StatusBadRequest, err)
		return
	}
	defer part.Close()

	userID := c.MustGet("user_id").(uint64)
	result, err := h.uploader.IngestChunk(c.Request.Context(), upload.IngestChunkRequest{
		OwnerID:     userID,
		FileKey:     req.FileKey,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		ChunkNumber: req.ChunkNumber,
		TotalChunks: req.TotalChunks,
		Reader:      part,
		ChunkSize:   header.Size,
	})
	if err != nil {
		utils.Fail(c, uploadErrorStatus(err), err)
		return
	}
	utils.Success(c, dto.ChunkUploadResponse{
		UploadID:       result.Progress.UploadID,
		Status:         ingestStatusLabel(result.Status),
		UploadedChunks: result.Progress.UploadedChunks,
		TotalChunks:    result.Progress.TotalChunks,
		File:           result.File,
	})
}

// CancelUpload aborts an in-progress session and discards its chunks.
func (h *UploadHandler) CancelUpload(c *gin.Context) {
	var req dto.UploadCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, err)
		return
	}
	userID := c.MustGet("user_id").(uint64)
	if err := h.uploader.Cancel(c.Request.Context(), userID, req.UploadID); err != nil {
		utils.Fail(c, uploadErrorStatus(err), err)
		return
	}
	utils.Success(c, gin.H{"upload_id": req.UploadID})
}

// UploadProgress reports the chunk count for a session.
func (h *UploadHandler) UploadProgress(c *gin.Context) {
	uploadID := strings.TrimSpace(c.Query("upload_id"))
	if uploadID == "" {
		utils.Fail(c, http.StatusBadRequest, errors.New("upload_id required"))
		return
	}
	userID := c.MustGet("user_id").(uint64)
	progress, err := h.uploader.GetProgress(c.Request.Context(), userID, uploadID)
	if err != nil {
		utils.Fail(c, uploadErrorStatus(err), err)
		return
	}
	utils.Success(c, progress)
}

// UploadResume lists uploaded and pending chunk numbers so a client can
// continue an interrupted upload.
func (h *UploadHandler) UploadResume(c *gin.Context) {
	uploadID := strings.TrimSpace(c.Query("upload_id"))
	if uploadID == "" {
		utils.Fail(c, http.StatusBadRequest, errors.New("upload_id required"))
		return
	}
	userID := c.MustGet("user_id").(uint64)
	info, err := h.uploader.ResumeInfo(c.Request.Context(), userID, uploadID)
	if err != nil {
		utils.Fail(c, uploadErrorStatus(err), err)
		return
	}
	utils.Success(c, info)
}

func ingestStatusLabel(s upload.IngestStatus) string {
	switch s {
	case upload.StatusAlreadyCompleted:
		return "already_completed"
	case upload.StatusCompleted:
		return "completed"
	default:
		return "progress"
	}
}

// uploadErrorStatus maps domain sentinels to HTTP status codes.
func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrFileTooLarge),
		errors.Is(err, upload.ErrQuotaExceeded),
		errors.Is(err, upload.ErrTypeNotAllowed),
		errors.Is(err, upload.ErrChunkNumberInvalid):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrSessionExpired),
		errors.Is(err, upload.ErrChunkUploadIncomplete):
		return http.StatusConflict
	case errors.Is(err, upload.ErrConcurrentUploadLimit):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
