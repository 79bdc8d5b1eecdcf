package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/crm-session-security/internal/infra/logger"
)

const correlationIDHeader = "X-Correlation-ID"

// CorrelationID injects a correlation identifier into the context and
// response headers. The same identifier is stamped onto audit log entries so
// an operator can tie a log line back to the request that produced it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Writer.Header().Set(correlationIDHeader, id)
		ctx := context.WithValue(c.Request.Context(), logger.CorrelationIDKey{}, id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
