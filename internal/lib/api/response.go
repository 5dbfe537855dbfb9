// Package api holds small JSON response helpers shared by all handlers.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

func Conflict(c *gin.Context, data any) {
	c.AbortWithStatusJSON(http.StatusConflict, data)
}

// StorageUnavailable signals a transient backend failure. Callers are
// expected to retry with backoff, never to treat it as an empty result.
func StorageUnavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry later"})
}

func InternalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
