package common

import (
	"github.com/gin-gonic/gin"
)

// Fail writes the error envelope shared by every endpoint.
func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"error": msg,
		"code":  code,
	})
}

// OK writes data as the response body.
func OK(c *gin.Context, httpStatus int, data any) {
	c.JSON(httpStatus, data)
}
