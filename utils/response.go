package utils

import (
	"online-auction/internal/auctionerrors"

	"github.com/gin-gonic/gin"
)

// JSONResponse sends a structured JSON response
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError sends a structured error response. Known auction errors also
// carry a stable "kind" code so clients can branch without parsing messages.
func JSONError(c *gin.Context, status int, err error, message string) {
	body := gin.H{
		"status":  status,
		"message": message,
		"error":   err.Error(),
	}
	if kind := auctionerrors.Kind(err); kind != "" {
		body["kind"] = kind
	}
	c.JSON(status, body)
}
