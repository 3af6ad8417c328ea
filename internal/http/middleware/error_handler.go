package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/response"
	"github.com/sirupsen/logrus"
)

// RequestLogger пишет строку access-лога и ошибки, накопленные в c.Errors.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(started).String(),
		})
		if actor, ok := CurrentActor(c); ok {
			entry = entry.WithField("actor", actor.String())
		}
		switch {
		case len(c.Errors) > 0:
			entry.WithField("error", c.Errors.String()).Error("request failed")
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		default:
			entry.Debug("request")
		}
	}
}

// ErrorHandler отвечает клиенту за ошибки, оставленные обработчиком в c.Errors
// без записанного ответа. Внутренние детали наружу не отдаются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		response.Error(c, c.Errors.Last().Err)
	}
}
