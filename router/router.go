package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"ChunkVault/internal/handler"
	"ChunkVault/utils"
)

// InitRouter builds API routes.
func InitRouter(jwtSecret string, limiter *rate.Limiter, uploads *handler.UploadHandler, files *handler.FileHandler) *gin.Engine {
	r := gin.Default()
	r.Use(utils.CORSMiddleware())

	api := r.Group("/api")
	{
		auth := api.Group("")
		auth.Use(utils.AuthMiddleware(jwtSecret))

		file := auth.Group("/file")
		{
			upload := file.Group("/upload")
			upload.Use(utils.RateLimitMiddleware(limiter))
			{
				upload.POST("/multipart/chunk", uploads.UploadChunk)
				upload.POST("/cancel", uploads.CancelUpload)
				upload.GET("/progress", uploads.UploadProgress)
				upload.GET("/resume", uploads.UploadResume)
				upload.POST("/hash", files.UploadFileByHash)
			}

			file.POST("/release", files.ReleaseFile)
			file.POST("/download/url", files.DownloadURL)
		}
	}
	return r
}
