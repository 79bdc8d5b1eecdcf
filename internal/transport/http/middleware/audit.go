package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	appLogger "github.com/arklim/crm-session-security/internal/infra/logger"
)

// AuditEventKey lets handlers name the audit event for their request.
// Without it, mutating requests are logged under a generic type and reads
// are skipped.
const AuditEventKey = "audit_event"

const genericAuditEvent = "API_REQUEST"

// AuditTrail appends one hash-chained entry per auditable request. Append
// failures are logged but never fail the request: the audit log observes
// traffic, it does not gate it.
func AuditTrail(writer port.AuditWriter, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		eventType := c.GetString(AuditEventKey)
		if eventType == "" {
			if c.Request.Method == http.MethodGet {
				return
			}
			eventType = genericAuditEvent
		}

		ctx := c.Request.Context()
		entry := domain.AuditLogEntry{
			CorrelationID: appLogger.CorrelationIDFromContext(ctx),
			EventType:     eventType,
			User: domain.AuditUser{
				ID:    c.GetString(UserIDKey),
				Email: c.GetString(UserEmailKey),
				Role:  c.GetString(UserRoleKey),
			},
			Request: domain.AuditRequest{
				IP:     c.ClientIP(),
				Method: c.Request.Method,
				Path:   c.Request.URL.Path,
			},
			Response: domain.AuditResponse{
				StatusCode: c.Writer.Status(),
				Duration:   time.Since(start).Milliseconds(),
			},
		}

		if _, err := writer.Append(ctx, entry); err != nil {
			log.Error("audit entry not written",
				zap.String("event_type", eventType),
				zap.String("path", entry.Request.Path),
				zap.Error(err),
			)
		}
	}
}
