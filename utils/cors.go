package utils

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Preflight results stay cached so chunk submissions do not pay an extra
// OPTIONS round trip each.
const corsMaxAge = 12 * 60 * 60

// CORSMiddleware lets browser clients call the upload API cross-origin. The
// API only serves GET and POST; the requesting origin is echoed back so
// credentialed requests work.
func CORSMiddleware() gin.HandlerFunc {
	maxAge := strconv.Itoa(corsMaxAge)
	return func(c *gin.Context) {
		h := c.Writer.Header()
		if origin := c.GetHeader("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
