package middleware

import (
	"marketplace-inbox/internal/services"
	"marketplace-inbox/internal/transport/httpdto"
	"marketplace-inbox/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error a handler attached with c.Error when
// nothing was written yet.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		if l != nil {
			log := l.WithContext(c.Request.Context())
			if status >= 500 {
				log.Error("request error", zap.Error(err))
			} else {
				log.Info("request rejected", zap.Int("status", status), zap.Error(err))
			}
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), services.ErrorCode(err)))
	}
}
