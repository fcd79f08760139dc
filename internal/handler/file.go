package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ChunkVault/internal/dto"
	"ChunkVault/internal/filerecord"
	"ChunkVault/utils"
)

// FileHandler serves the file record endpoints.
type FileHandler struct {
	files *filerecord.Service
}

// NewFileHandler builds the file handler.
func NewFileHandler(files *filerecord.Service) *FileHandler {
	return &FileHandler{files: files}
}

// UploadFileByHash handles hash-based instant upload.
func (h *FileHandler) UploadFileByHash(c *gin.Context) {
	var req dto.UploadFileByHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, err)
		return
	}
	req.UserId = c.MustGet("user_id").(uint64)
	result, err := h.files.BindByHash(c.Request.Context(), req.UserId, req.Hash, req.FileName, req.Size)
	if err != nil {
		utils.Fail(c, http.StatusInternalServerError, err)
		return
	}
	utils.Success(c, dto.FastUploadResponse{
		Instant:      result.Instant,
		NeedUpload:   result.NeedUpload,
		Reason:       result.Reason,
		FileRecordID: result.FileRecordID,
	})
}

// ReleaseFile drops the caller's reference to a file record.
func (h *FileHandler) ReleaseFile(c *gin.Context) {
	var req dto.FileReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, err)
		return
	}
	userID := c.MustGet("user_id").(uint64)
	if err := h.files.Release(c.Request.Context(), userID, req.FileRecordID); err != nil {
		utils.Fail(c, fileErrorStatus(err), err)
		return
	}
	utils.Success(c, gin.H{"file_record_id": req.FileRecordID})
}

// DownloadURL returns a presigned URL for a record's content.
func (h *FileHandler) DownloadURL(c *gin.Context) {
	var req dto.DownloadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, err)
		return
	}
	expireMin := req.ExpireMin
	if expireMin <= 0 || expireMin > 7*24*60 {
		expireMin = 60
	}
	userID := c.MustGet("user_id").(uint64)
	url, err := h.files.DownloadURL(c.Request.Context(), userID, req.FileRecordID, time.Duration(expireMin)*time.Minute)
	if err != nil {
		utils.Fail(c, fileErrorStatus(err), err)
		return
	}
	utils.Success(c, dto.DownloadURLResponse{URL: url, ExpireMin: expireMin})
}

func fileErrorStatus(err error) int {
	if errors.Is(err, filerecord.ErrRecordNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
