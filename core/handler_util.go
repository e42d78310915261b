package core

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// writeError is the single place where errors become HTTP responses.
func writeError(c *gin.Context, log logrus.FieldLogger, err error) {
	appErr := classifyError(err)
	if appErr.Kind == KindInternal && log != nil {
		log.WithFields(logrus.Fields{
			"request_id": requestIDFrom(c),
			"path":       c.FullPath(),
		}).WithError(err).Error("request failed")
	}
	respondError(c, appErr.Kind.status(), appErr.Kind.code(), appErr.Message)
}

// abortWithError writes the error response and stops the handler chain.
func abortWithError(c *gin.Context, log logrus.FieldLogger, err error) {
	writeError(c, log, err)
	c.Abort()
}
